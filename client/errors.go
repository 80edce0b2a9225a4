package client

import (
	"errors"
	"fmt"
)

// Sentinel errors for storage API calls.
var (
	// ErrPoolExhausted is returned when no pool slot frees up within the
	// configured wait bound.
	ErrPoolExhausted = errors.New("client: connection pool exhausted")

	// ErrDeadlineExceeded is returned when the per-call deadline expires
	// before the call completes, mid-attempt or mid-backoff.
	ErrDeadlineExceeded = errors.New("client: deadline exceeded")

	// ErrUpstreamFailure is returned when the storage API call failed:
	// retries exhausted on a transient outcome, or a non-retryable error
	// response.
	ErrUpstreamFailure = errors.New("client: upstream failure")
)

// UpstreamError describes a failed storage API call. It carries the attempt
// count and correlation id for cross-system tracing, never request bodies
// or tokens.
type UpstreamError struct {
	// Status is the last HTTP status received, 0 for pure network failures.
	Status int

	// Attempts is how many attempts the logical call consumed.
	Attempts int

	// CorrelationID identifies the logical call across all its attempts.
	CorrelationID string

	// Message is the sanitized error message extracted from the response
	// body, if any.
	Message string

	// Cause is the underlying transport error, if any.
	Cause error
}

// Error returns the error message.
func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("client: upstream failure: status=%d attempts=%d correlation_id=%s",
		e.Status, e.Attempts, e.CorrelationID)
	if e.Message != "" {
		msg += " message=" + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the cause error for errors.Is/As support.
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// Is reports whether this error matches the target.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamFailure
}
