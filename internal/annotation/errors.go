package annotation

import (
	"fmt"
	"strings"
)

// DuplicateAnnotationError is returned when a key is recorded twice.
type DuplicateAnnotationError struct {
	Record string
	Key    Key
}

func (e *DuplicateAnnotationError) Error() string {
	return fmt.Sprintf("duplicated annotation %s in %q", e.Key, e.Record)
}

// UnpairedAnnotationError refuses leaving a record with open pairs.
type UnpairedAnnotationError struct {
	Record  string
	Missing []Key
}

func (e *UnpairedAnnotationError) Error() string {
	keys := make([]string, len(e.Missing))
	for i, k := range e.Missing {
		keys[i] = k.String()
	}
	return fmt.Sprintf("time stamps in %q should be paired, missing %s", e.Record, strings.Join(keys, ", "))
}

// RecordParseError describes one persisted record that could not be loaded.
type RecordParseError struct {
	File string
	Err  error
}

func (e *RecordParseError) Error() string {
	return fmt.Sprintf("parse annotation record %s: %v", e.File, e.Err)
}

func (e *RecordParseError) Unwrap() error { return e.Err }
