// Package ratelimit throttles API clients with per-key token buckets.
//
// Requests carry a cost so that a bulk ingestion call draws down a client's
// budget in proportion to the work it asks for.
package ratelimit

import "context"

// Limiter decides whether a request identified by key may spend cost tokens.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow reports whether the request may proceed. An error means the
	// limiter itself failed; the middleware then lets the request through.
	Allow(ctx context.Context, key string, cost int) (bool, error)

	// Close stops background work.
	Close() error
}

// NoopLimiter permits every request.
type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, string, int) (bool, error) { return true, nil }
func (NoopLimiter) Close() error                                     { return nil }
