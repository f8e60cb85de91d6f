// Package ctxutil provides shared context key accessors.
//
// server assigns request IDs and imports mcp and the services; those
// packages read the ID back through ctxutil instead of importing server.
package ctxutil

import "context"

type contextKey string

const keyRequestID contextKey = "request_id"

// WithRequestID returns a new context carrying the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestID extracts the request ID from the context, or "" when none was set.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}

// Detach returns a background context that keeps ctx's request ID but none
// of its deadline or cancellation, for work that outlives the request.
func Detach(ctx context.Context) context.Context {
	if id := RequestID(ctx); id != "" {
		return WithRequestID(context.Background(), id)
	}
	return context.Background()
}
