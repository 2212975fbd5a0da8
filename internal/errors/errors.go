// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ErrGuestNotFound is a sentinel error
var ErrGuestNotFound = errors.New("guest not found")

// ErrEventNotFound is a sentinel error
var ErrEventNotFound = errors.New("event not found")

// ValidationError rejects a malformed enqueue request before it reaches the
// stream.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Helper constructor
func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
