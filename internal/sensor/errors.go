package sensor

import (
	"errors"
	"fmt"
)

// ErrInvalidKind is returned when a sensor name does not match any Kind.
var ErrInvalidKind = errors.New("invalid sensor kind")

// InitError is returned by driver constructors when the hardware is absent or
// unreachable.
type InitError struct {
	Kind Kind
	Err  error
}

func NewInitError(kind Kind, err error) *InitError {
	return &InitError{Kind: kind, Err: err}
}

func (e *InitError) Error() string {
	return fmt.Sprintf("%s failed to initialize: %v", e.Kind, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// ReadError describes a single failed transport read. It is only ever logged;
// the driver returns a sentinel reading in its place.
type ReadError struct {
	Kind Kind
	Err  error
}

func NewReadError(kind Kind, err error) *ReadError {
	return &ReadError{Kind: kind, Err: err}
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("failed to read %s: %v", e.Kind, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}
