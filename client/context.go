package client

import (
	"context"
	"encoding/hex"

	"github.com/google/uuid"
)

// Context keys for call-scoped values.
type contextKey int

const correlationIDKey contextKey = iota

// NewCorrelationID generates a fresh correlation id.
// Format: mcp-xxxxxxxx (uuid-derived hex).
func NewCorrelationID() string {
	u := uuid.New()
	return "mcp-" + hex.EncodeToString(u[:4])
}

// WithCorrelationID returns a new context carrying the given correlation id.
// Every attempt of a logical call issued under this context reuses the id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext retrieves the correlation id from the context.
// Returns empty string if none is present.
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}
