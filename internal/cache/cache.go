// Package cache holds the process-wide memo of the last good snapshot.
package cache

import (
	"sync/atomic"
	"time"

	"bolivarwatch/internal/rates"
)

// DefaultTTL bounds how long a snapshot is served without refetching.
const DefaultTTL = 5 * time.Minute

type entry struct {
	snapshot rates.Snapshot
	storedAt time.Time
}

// SnapshotCache memoises the last successfully aggregated snapshot. Exactly
// one entry exists at a time; writes swap the whole entry atomically so a
// concurrent reader never observes a half-written value.
type SnapshotCache struct {
	ttl   time.Duration
	now   func() time.Time
	value atomic.Pointer[entry]
}

// New builds a cache with the given TTL. A zero ttl falls back to DefaultTTL.
func New(ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SnapshotCache{ttl: ttl, now: time.Now}
}

// NewWithClock builds a cache with an injected clock for deterministic tests.
func NewWithClock(ttl time.Duration, now func() time.Time) *SnapshotCache {
	c := New(ttl)
	if now != nil {
		c.now = now
	}
	return c
}

// Get returns the stored snapshot while it is still fresh. An expired entry
// is not deleted; GetStale can still reach it as an emergency fallback.
func (c *SnapshotCache) Get() (rates.Snapshot, bool) {
	e := c.value.Load()
	if e == nil {
		return rates.Snapshot{}, false
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		return rates.Snapshot{}, false
	}
	return e.snapshot, true
}

// GetStale returns whatever entry exists, regardless of age.
func (c *SnapshotCache) GetStale() (rates.Snapshot, bool) {
	e := c.value.Load()
	if e == nil {
		return rates.Snapshot{}, false
	}
	return e.snapshot, true
}

// Put replaces the entry with a fresh snapshot.
func (c *SnapshotCache) Put(s rates.Snapshot) {
	c.value.Store(&entry{snapshot: s, storedAt: c.now()})
}

// Invalidate drops the entry entirely. Forced refreshes call this before
// re-aggregating, and the manual historical-commit handler calls it after a
// commit; the automatic recorder never does, so entries age out by TTL alone.
func (c *SnapshotCache) Invalidate() {
	c.value.Store(nil)
}
