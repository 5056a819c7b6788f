package config

import (
	"errors"
	"fmt"
)

// ErrInvalid is wrapped by every configuration error so callers can match
// them with errors.Is regardless of which field failed.
var ErrInvalid = errors.New("invalid configuration")

// Error reports a single invalid configuration value.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func (e *Error) Unwrap() error { return ErrInvalid }

// Invalid builds an *Error for field with a formatted reason.
func Invalid(field, format string, args ...any) *Error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}
