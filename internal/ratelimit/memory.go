package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Eviction settings for idle buckets.
const (
	idleTTL       = 10 * time.Minute
	sweepInterval = time.Minute
)

type bucket struct {
	tokens   *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps one token bucket per key in process memory. Buckets
// refill at rps per second up to burst. Idle buckets are swept in the
// background until Close.
type MemoryLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket

	closeOnce sync.Once
	stop      chan struct{}
}

// NewMemoryLimiter starts a limiter allowing rps sustained requests per key
// with bursts of burst.
func NewMemoryLimiter(rps float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Allow spends cost tokens from key's bucket. Cost is clamped to [1, burst]
// so that an expensive request is throttled, never refused outright.
func (m *MemoryLimiter) Allow(_ context.Context, key string, cost int) (bool, error) {
	cost = min(max(cost, 1), m.burst)
	now := time.Now()

	m.mu.Lock()
	b := m.buckets[key]
	if b == nil {
		b = &bucket{tokens: rate.NewLimiter(m.rps, m.burst)}
		m.buckets[key] = b
	}
	b.lastSeen = now
	m.mu.Unlock()

	return b.tokens.AllowN(now, cost), nil
}

// Close stops the sweeper. It may be called more than once.
func (m *MemoryLimiter) Close() error {
	m.closeOnce.Do(func() { close(m.stop) })
	return nil
}

func (m *MemoryLimiter) sweepLoop() {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case now := <-t.C:
			m.sweep(now)
		}
	}
}

// sweep drops buckets idle for longer than idleTTL as of now.
func (m *MemoryLimiter) sweep(now time.Time) {
	cutoff := now.Add(-idleTTL)
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, b := range m.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}

var (
	_ Limiter = (*MemoryLimiter)(nil)
	_ Limiter = NoopLimiter{}
)
