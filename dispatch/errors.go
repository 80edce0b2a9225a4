package dispatch

import (
	"errors"
	"fmt"
)

// Sentinel errors for dispatch.
var (
	// ErrValidation indicates a malformed request, caught before any
	// authorization or network work.
	ErrValidation = errors.New("dispatch: invalid request")
)

// ValidationError describes why a request was rejected before dispatch.
type ValidationError struct {
	// Field is the offending request field.
	Field string

	// Reason explains the rejection.
	Reason string
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("dispatch: invalid request: field=%q reason=%q", e.Field, e.Reason)
}

// Is reports whether this error matches the target.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
