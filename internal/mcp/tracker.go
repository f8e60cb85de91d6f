package mcp

import (
	"sync"
	"time"

	"github.com/ashita-ai/factstore/internal/model"
)

// lookupTracker records recent reads of a slot so that an escalated
// factstore_add_fact can nudge callers who wrote without looking first.
// It is per-process and advisory only.
type lookupTracker struct {
	mu      sync.Mutex
	lookups map[model.Slot]time.Time
	window  time.Duration
}

func newLookupTracker(window time.Duration) *lookupTracker {
	return &lookupTracker{
		lookups: make(map[model.Slot]time.Time),
		window:  window,
	}
}

// Record notes that slot was read.
func (t *lookupTracker) Record(slot model.Slot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lookups[slot] = time.Now()

	if len(t.lookups) > 1000 {
		t.purgeStale()
	}
}

// WasLookedUp reports whether slot was read within the window.
func (t *lookupTracker) WasLookedUp(slot model.Slot) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.lookups[slot]
	if !ok {
		return false
	}
	if time.Since(ts) > t.window {
		delete(t.lookups, slot)
		return false
	}
	return true
}

// purgeStale removes expired entries. Must be called with mu held.
func (t *lookupTracker) purgeStale() {
	now := time.Now()
	for k, ts := range t.lookups {
		if now.Sub(ts) > t.window {
			delete(t.lookups, k)
		}
	}
}
