// Package queue implements a delayed-visibility work queue of document paths.
package queue

import (
	"sync"
	"time"
)

type item struct {
	path      string
	visibleAt time.Time
}

// RefreshQueue holds at most one pending item per path. Items become
// poppable once their visibility time has passed; invisible items never
// block visible ones behind them.
type RefreshQueue struct {
	mu      sync.Mutex
	items   []item
	pending map[string]struct{}
	now     func() time.Time
}

// Option configures a RefreshQueue.
type Option func(*RefreshQueue)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *RefreshQueue) { q.now = now }
}

// New creates an empty queue.
func New(opts ...Option) *RefreshQueue {
	q := &RefreshQueue{
		pending: make(map[string]struct{}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue schedules path to become visible after delay. It returns false and
// changes nothing if path is already pending.
func (q *RefreshQueue) Enqueue(path string, delay time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.pending[path]; ok {
		return false
	}

	q.pending[path] = struct{}{}
	q.items = append(q.items, item{path: path, visibleAt: q.now().Add(delay)})
	return true
}

// PopNextVisible removes and returns the first item whose visibility time
// has passed, preserving the order of everything else.
func (q *RefreshQueue) PopNextVisible() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for i, it := range q.items {
		if it.visibleAt.After(now) {
			continue
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		delete(q.pending, it.path)
		return it.path, true
	}

	return "", false
}

// Remove drops a pending path, reporting whether it was present.
func (q *RefreshQueue) Remove(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.pending[path]; !ok {
		return false
	}
	delete(q.pending, path)

	for i, it := range q.items {
		if it.path == path {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	return true
}

// Pending reports whether path has an item in the queue.
func (q *RefreshQueue) Pending(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.pending[path]
	return ok
}

// Len returns the number of pending items, visible or not.
func (q *RefreshQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// RemoveIf drops every pending path for which drop returns true and returns
// how many were removed.
func (q *RefreshQueue) RemoveIf(drop func(path string) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	removed := 0
	for _, it := range q.items {
		if drop(it.path) {
			delete(q.pending, it.path)
			removed++
			continue
		}
		kept = append(kept, it)
	}
	q.items = kept
	return removed
}
