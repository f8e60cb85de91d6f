package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes the store reacts to.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// RetryPolicy reruns a write that lost a serialization or deadlock race.
// Waits double from BaseDelay with up to BaseDelay of jitter each time.
type RetryPolicy struct {
	Attempts  int // Total tries, including the first.
	BaseDelay time.Duration
}

// writeRetry applies to fact inserts and supersessions.
var writeRetry = RetryPolicy{Attempts: 4, BaseDelay: 10 * time.Millisecond}

// Do runs fn until it succeeds, fails with a non-transient error, or the
// attempts are spent. The last error is returned unchanged.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	delay := p.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil || !isRetriable(err) || attempt >= p.Attempts {
			return err
		}
		wait := delay
		if delay > 0 {
			wait += time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter only
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
	}
}

func pgCode(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", ""
	}
	return pgErr.Code, pgErr.ConstraintName
}

// isRetriable reports whether err is a transient transaction conflict.
func isRetriable(err error) bool {
	code, _ := pgCode(err)
	return code == codeSerializationFailure || code == codeDeadlockDetected
}

// isUniqueViolation reports whether err is a unique_violation. When
// constraint is non-empty the violated constraint must match it.
func isUniqueViolation(err error, constraint string) bool {
	code, name := pgCode(err)
	return code == codeUniqueViolation && (constraint == "" || name == constraint)
}
