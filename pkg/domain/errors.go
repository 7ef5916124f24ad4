package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidInput marks a request missing a required identifier or payload, or
// carrying a payload that cannot be decoded. Wrap it with detail via %w.
var ErrInvalidInput = errors.New("invalid input")

// ErrNotFound is returned when no record is stored for an identifier. It is a
// distinguished outcome rather than a failure.
type ErrNotFound struct {
	ID string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("no visits stored for %s", e.ID)
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}

// TransportError wraps any failure of the remote store call named by Op.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is or wraps a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
