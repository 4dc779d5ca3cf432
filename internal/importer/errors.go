package importer

import (
	"errors"
	"fmt"
)

// ErrUnsupportedType marks a record whose type is not a text message.
// Such records are skipped and counted, never fatal.
var ErrUnsupportedType = errors.New("unsupported message type")

// ValidationError marks a record missing a required field.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

// ParseError marks a record whose timestamp could not be parsed.
type ParseError struct {
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable timestamp %q: %v", e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// StoreError marks a chunk the memory store rejected. Counted as a failed
// chunk; never aborts the remaining chunks.
type StoreError struct {
	Chunk int
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("chunk %d rejected by store: %v", e.Chunk, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
