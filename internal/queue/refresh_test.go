package queue_test

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/diffsync/internal/queue"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newQueue() (*queue.RefreshQueue, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	return queue.New(queue.WithClock(clock.Now)), clock
}

func TestEnqueueIdempotent(t *testing.T) {
	q, _ := newQueue()

	assert.True(t, q.Enqueue("a.md", time.Second))
	assert.False(t, q.Enqueue("a.md", time.Second))
	assert.False(t, q.Enqueue("a.md", 0), "a different delay is still a duplicate")
	assert.Equal(t, 1, q.Len())
	assert.True(t, q.Pending("a.md"))
}

func TestPopEmpty(t *testing.T) {
	q, _ := newQueue()

	path, ok := q.PopNextVisible()
	assert.False(t, ok)
	assert.Empty(t, path)
}

func TestVisibleItemsPopInInsertionOrder(t *testing.T) {
	q, _ := newQueue()

	for _, p := range []string{"a.md", "b.md", "c.md"} {
		require.True(t, q.Enqueue(p, 0))
	}

	for _, want := range []string{"a.md", "b.md", "c.md"} {
		got, ok := q.PopNextVisible()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := q.PopNextVisible()
	assert.False(t, ok)
}

func TestInvisibleItemsAreSkippedNotRemoved(t *testing.T) {
	q, clock := newQueue()

	require.True(t, q.Enqueue("later.md", 2*time.Second))
	require.True(t, q.Enqueue("now-1.md", 0))
	require.True(t, q.Enqueue("soon.md", time.Second))
	require.True(t, q.Enqueue("now-2.md", 0))

	got, ok := q.PopNextVisible()
	require.True(t, ok)
	assert.Equal(t, "now-1.md", got)

	got, ok = q.PopNextVisible()
	require.True(t, ok)
	assert.Equal(t, "now-2.md", got)

	_, ok = q.PopNextVisible()
	assert.False(t, ok, "nothing visible yet")
	assert.Equal(t, 2, q.Len())

	clock.Advance(time.Second)
	got, ok = q.PopNextVisible()
	require.True(t, ok)
	assert.Equal(t, "soon.md", got)

	_, ok = q.PopNextVisible()
	assert.False(t, ok)

	clock.Advance(time.Second)
	got, ok = q.PopNextVisible()
	require.True(t, ok)
	assert.Equal(t, "later.md", got)
	assert.Zero(t, q.Len())
}

func TestReenqueueAfterPop(t *testing.T) {
	q, _ := newQueue()

	require.True(t, q.Enqueue("a.md", 0))
	_, ok := q.PopNextVisible()
	require.True(t, ok)

	assert.False(t, q.Pending("a.md"))
	assert.True(t, q.Enqueue("a.md", 0))
}

func TestRemove(t *testing.T) {
	q, _ := newQueue()

	require.True(t, q.Enqueue("a.md", 0))
	require.True(t, q.Enqueue("b.md", 0))

	assert.True(t, q.Remove("a.md"))
	assert.False(t, q.Remove("a.md"))

	got, ok := q.PopNextVisible()
	require.True(t, ok)
	assert.Equal(t, "b.md", got)
}

func TestRemoveIf(t *testing.T) {
	q, clock := newQueue()

	require.True(t, q.Enqueue("gone/a.md", 0))
	require.True(t, q.Enqueue("keep/b.md", time.Minute))
	require.True(t, q.Enqueue("gone/c.md", time.Minute))
	require.True(t, q.Enqueue("keep/d.md", 0))

	removed := q.RemoveIf(func(path string) bool {
		return strings.HasPrefix(path, "gone/")
	})
	assert.Equal(t, 2, removed)
	assert.Equal(t, 2, q.Len())
	assert.False(t, q.Pending("gone/a.md"))

	// Removed paths can be scheduled again.
	assert.True(t, q.Enqueue("gone/a.md", time.Hour))

	clock.Advance(time.Minute)
	got, ok := q.PopNextVisible()
	require.True(t, ok)
	assert.Equal(t, "keep/b.md", got)
	got, ok = q.PopNextVisible()
	require.True(t, ok)
	assert.Equal(t, "keep/d.md", got)
	_, ok = q.PopNextVisible()
	assert.False(t, ok)
}

func TestConcurrentEnqueue(t *testing.T) {
	q := queue.New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				q.Enqueue(fmt.Sprintf("doc-%d.md", j), 0)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, q.Len())
}
