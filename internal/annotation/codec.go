package annotation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// On-disk field names, shared with records written by the desktop annotator.
const (
	fieldName      = "name"
	fieldPath      = "path"
	fieldPositions = "annotations"
	fieldFrames    = "annotations_frame"
)

// MarshalJSON writes the persisted record format. Key order in both objects
// is the insertion order, so a reloaded record removes in the same order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	if err := writeField(&buf, fieldName, r.Name); err != nil {
		return nil, err
	}
	buf.WriteByte(',')
	if err := writeField(&buf, fieldPath, r.Path); err != nil {
		return nil, err
	}

	buf.WriteByte(',')
	writeString(&buf, fieldPositions)
	buf.WriteString(":{")
	for i, k := range r.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeField(&buf, k.String(), r.positions[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteString("},")

	writeString(&buf, fieldFrames)
	buf.WriteString(":{")
	for i, k := range r.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeField(&buf, k.String(), r.frames[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteString("}}")

	return buf.Bytes(), nil
}

// UnmarshalJSON parses and validates a persisted record. The result is clean.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	name, err := requiredString(raw, fieldName)
	if err != nil {
		return err
	}
	path, err := requiredString(raw, fieldPath)
	if err != nil {
		return err
	}

	posKeys, posVals, err := decodeOrdered[[]float64](raw[fieldPositions])
	if err != nil {
		return fmt.Errorf("%s: %w", fieldPositions, err)
	}
	frameKeys, frameVals, err := decodeOrdered[[]int](raw[fieldFrames])
	if err != nil {
		return fmt.Errorf("%s: %w", fieldFrames, err)
	}

	if len(posKeys) != len(frameKeys) {
		return fmt.Errorf("%s has %d keys but %s has %d", fieldPositions, len(posKeys), fieldFrames, len(frameKeys))
	}

	out := NewRecord(name, path)
	for _, ks := range posKeys {
		k, err := ParseKey(ks)
		if err != nil {
			return err
		}
		if out.Has(k) {
			return fmt.Errorf("key %s appears twice", k)
		}
		frames, ok := frameVals[ks]
		if !ok {
			return fmt.Errorf("key %s has positions but no frames", k)
		}
		positions := posVals[ks]
		if len(positions) == 0 || len(frames) == 0 {
			return fmt.Errorf("key %s has an empty value list", k)
		}
		for _, p := range positions {
			if math.IsNaN(p) || p < 0 || p > 1 {
				return fmt.Errorf("key %s: position %v outside [0,1]", k, p)
			}
		}
		for _, f := range frames {
			if f < 0 {
				return fmt.Errorf("key %s: negative frame %d", k, f)
			}
		}
		out.restore(k, positions, frames)
	}

	*r = *out
	return nil
}

// Decode parses a persisted record, wrapping failures in RecordParseError.
func Decode(file string, data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &RecordParseError{File: file, Err: err}
	}
	return &rec, nil
}

func requiredString(raw map[string]json.RawMessage, field string) (string, error) {
	v, ok := raw[field]
	if !ok {
		return "", fmt.Errorf("missing %q", field)
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("%s: %w", field, err)
	}
	if s == "" && field == fieldName {
		return "", errors.New("empty name")
	}
	return s, nil
}

// decodeOrdered reads a JSON object keeping its key order. A missing or null
// object decodes as empty.
func decodeOrdered[V any](data json.RawMessage) ([]string, map[string]V, error) {
	vals := make(map[string]V)
	if len(data) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil, vals, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, fmt.Errorf("expected object, got %v", tok)
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key := tok.(string)
		var v V
		if err := dec.Decode(&v); err != nil {
			return nil, nil, fmt.Errorf("key %q: %w", key, err)
		}
		if _, dup := vals[key]; dup {
			return nil, nil, fmt.Errorf("key %q appears twice", key)
		}
		keys = append(keys, key)
		vals[key] = v
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	return keys, vals, nil
}

func writeField(buf *bytes.Buffer, name string, v any) error {
	writeString(buf, name)
	buf.WriteByte(':')
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	buf.Write(b)
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}
