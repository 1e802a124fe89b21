package tflog

import (
	"errors"
	"fmt"
)

var (
	// ErrRead marks failures reading the input stream. Malformed lines never produce it.
	ErrRead = errors.New("read log input")
	// ErrInvalidFilter is wrapped by every ValidationError.
	ErrInvalidFilter = errors.New("invalid filter")
)

// ValidationError reports a filter or pagination argument that was rejected, as opposed
// to one that merely matched nothing.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidFilter }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
