// Package lock provides per-path mutual exclusion with lease expiry.
package lock

import (
	"sync"
	"time"

	"github.com/TheMichaelB/diffsync/internal/events"
)

// DefaultLease is how long a lock lives before the next acquirer may
// reclaim it.
const DefaultLease = 5 * time.Second

// Lease identifies one successful acquisition. Generation increases on every
// acquisition in the table, so a reclaimed lease no longer Holds.
type Lease struct {
	Path       string
	Generation uint64
	AcquiredAt time.Time
}

type entry struct {
	generation uint64
	acquiredAt time.Time
}

// Table holds at most one live lock per path. It never blocks; callers that
// fail to acquire must back off.
type Table struct {
	mu      sync.Mutex
	entries map[string]entry
	lease   time.Duration
	now     func() time.Time
	logger  *events.Logger

	// next is the last generation handed out across all paths.
	next uint64
}

// Option configures a Table.
type Option func(*Table)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Table) { t.now = now }
}

// NewTable creates a lock table. A non-positive lease selects DefaultLease.
func NewTable(lease time.Duration, logger *events.Logger, opts ...Option) *Table {
	if lease <= 0 {
		lease = DefaultLease
	}

	t := &Table{
		entries: make(map[string]entry),
		lease:   lease,
		now:     time.Now,
		logger:  logger.WithField("component", "lock_table"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Acquire takes the lock for path. It returns false without side effects
// when a live lock exists.
func (t *Table) Acquire(path string) bool {
	_, ok := t.AcquireLease(path)
	return ok
}

// AcquireLease is Acquire returning the lease for later fencing checks.
func (t *Table) AcquireLease(path string) (Lease, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if held, ok := t.entries[path]; ok {
		age := now.Sub(held.acquiredAt)
		if age < t.lease {
			return Lease{}, false
		}
		t.logger.WithFields(map[string]interface{}{
			"path":       path,
			"age_ms":     age.Milliseconds(),
			"generation": held.generation,
		}).Warn("Reclaiming expired lock")
	}

	t.next++
	e := entry{generation: t.next, acquiredAt: now}
	t.entries[path] = e

	return Lease{Path: path, Generation: e.generation, AcquiredAt: now}, true
}

// Holds reports whether lease is still the current holder of its path.
func (t *Table) Holds(lease Lease) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	held, ok := t.entries[lease.Path]
	return ok && held.generation == lease.Generation
}

// Release clears the lock for path. It is idempotent.
func (t *Table) Release(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.entries, path)
}

// ReleaseLease clears the lock only if lease still holds it, so a stale
// attempt cannot release its reclaimer's lock.
func (t *Table) ReleaseLease(lease Lease) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if held, ok := t.entries[lease.Path]; ok && held.generation == lease.Generation {
		delete(t.entries, lease.Path)
	}
}

// Held returns the number of live or expired locks currently recorded.
func (t *Table) Held() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
