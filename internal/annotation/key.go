// Package annotation holds the per-video annotation state: keys, records,
// the sequencer cursor and the store that enforces start/end pairing.
package annotation

import (
	"errors"
	"fmt"
	"strconv"
)

// EventType is the role a key plays within a pair.
type EventType int

const (
	EventStart EventType = iota + 1
	EventEnd
)

// String returns the single-letter prefix used in serialized keys.
func (e EventType) String() string {
	switch e {
	case EventStart:
		return "S"
	case EventEnd:
		return "E"
	default:
		return fmt.Sprintf("EventType(%d)", int(e))
	}
}

var ErrInvalidKey = errors.New("invalid annotation key")

// Key identifies one annotation event, e.g. S1 or E3.
type Key struct {
	Event EventType
	Index int
}

func StartKey(index int) Key { return Key{Event: EventStart, Index: index} }

func EndKey(index int) Key { return Key{Event: EventEnd, Index: index} }

// Valid reports whether the key can be serialized.
func (k Key) Valid() bool {
	return (k.Event == EventStart || k.Event == EventEnd) && k.Index >= 1
}

func (k Key) String() string {
	return k.Event.String() + strconv.Itoa(k.Index)
}

// Companion returns the other half of the key's pair.
func (k Key) Companion() Key {
	if k.Event == EventStart {
		return EndKey(k.Index)
	}
	return StartKey(k.Index)
}

// ParseKey accepts ^[SE][1-9][0-9]*$.
func ParseKey(s string) (Key, error) {
	if len(s) < 2 {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}

	var k Key
	switch s[0] {
	case 'S':
		k.Event = EventStart
	case 'E':
		k.Event = EventEnd
	default:
		return Key{}, fmt.Errorf("%w: %q has unknown event %q", ErrInvalidKey, s, s[0])
	}

	digits := s[1:]
	if digits[0] == '0' {
		return Key{}, fmt.Errorf("%w: %q has a leading zero", ErrInvalidKey, s)
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
		}
	}

	idx, err := strconv.Atoi(digits)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, s, err)
	}
	k.Index = idx
	return k, nil
}

// MustParseKey is ParseKey for literals known to be valid.
func MustParseKey(s string) Key {
	k, err := ParseKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// MarshalText lets keys be used directly in JSON payloads.
func (k Key) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, k)
	}
	return []byte(k.String()), nil
}

func (k *Key) UnmarshalText(b []byte) error {
	parsed, err := ParseKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Less orders keys by index, start before end.
func (k Key) Less(o Key) bool {
	if k.Index != o.Index {
		return k.Index < o.Index
	}
	return k.Event < o.Event
}
