package factstore

import (
	"context"
	"net/http"
)

// Hook receives async notifications when facts are recorded or escalated.
// Multiple hooks may be registered via multiple WithHook calls.
// Hook methods run in goroutines after the producer has been answered, so
// they must not block indefinitely. Failures are logged but never fail the
// originating request. Duplicates are absorbed silently and not reported.
type Hook interface {
	OnFactRecorded(ctx context.Context, fact Fact) error
	OnConflictEscalated(ctx context.Context, conflict Conflict) error
}

// Middleware wraps the HTTP router.
// It runs inside the built-in request ID, tracing, logging, rate limit and
// recovery chain, so it sees every routed request including /health.
// Multiple middlewares are applied in registration order (first-registered = outermost).
type Middleware func(http.Handler) http.Handler
