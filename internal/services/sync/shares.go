package sync

import (
	"sort"
	"sync"

	"github.com/TheMichaelB/diffsync/internal/lock"
	"github.com/TheMichaelB/diffsync/internal/models"
	"github.com/TheMichaelB/diffsync/internal/queue"
	"github.com/TheMichaelB/diffsync/internal/shadow"
)

// State is the mutable state shared by the driver, the reconciler and the
// engine loops. Build one per engine.
type State struct {
	Shadows *shadow.Store
	Locks   *lock.Table
	Queue   *queue.RefreshQueue
	Shares  *Shares
}

// DropShare removes the share for root and forgets every shadow and queued
// path left outside all shares. It returns the number of shadows purged.
func (s *State) DropShare(root string) int {
	share, ok := s.Shares.Get(root)
	if !ok {
		return 0
	}
	s.Shares.Remove(root)

	orphaned := func(p string) bool {
		if !share.Contains(p) {
			return false
		}
		_, nested := s.Shares.Resolve(p)
		return !nested
	}

	purged := 0
	for _, p := range s.Shadows.Paths() {
		if orphaned(p) {
			s.Shadows.Remove(p)
			purged++
		}
	}
	s.Queue.RemoveIf(orphaned)

	return purged
}

// Shares is the registry of local folders mapped to remote namespaces.
type Shares struct {
	mu     sync.RWMutex
	byRoot map[string]models.Share
}

// NewShares creates a registry holding shares.
func NewShares(shares ...models.Share) *Shares {
	s := &Shares{byRoot: make(map[string]models.Share)}
	for _, share := range shares {
		s.Add(share)
	}
	return s
}

// Add registers a share, replacing any share with the same root.
func (s *Shares) Add(share models.Share) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byRoot[share.Root] = share
}

// Remove drops the share for root and reports whether it existed.
func (s *Shares) Remove(root string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byRoot[root]; !ok {
		return false
	}
	delete(s.byRoot, root)
	return true
}

// Get returns the share for root.
func (s *Shares) Get(root string) (models.Share, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	share, ok := s.byRoot[root]
	return share, ok
}

// List returns every share ordered by folder.
func (s *Shares) List() []models.Share {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]models.Share, 0, len(s.byRoot))
	for _, share := range s.byRoot {
		list = append(list, share)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Folder < list[j].Folder })
	return list
}

// Roots returns every registered root identifier.
func (s *Shares) Roots() []string {
	list := s.List()
	roots := make([]string, len(list))
	for i, share := range list {
		roots[i] = share.Root
	}
	return roots
}

// Resolve finds the share a document belongs to. Nested folders resolve to
// the innermost share.
func (s *Shares) Resolve(docPath string) (models.Share, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best  models.Share
		found bool
	)
	for _, share := range s.byRoot {
		if !share.Contains(docPath) {
			continue
		}
		if !found || len(share.Folder) > len(best.Folder) {
			best, found = share, true
		}
	}
	return best, found
}

// Len returns the number of shares.
func (s *Shares) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byRoot)
}
