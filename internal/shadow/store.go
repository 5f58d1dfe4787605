// Package shadow keeps the per-document content that client and remote last
// agreed on, the common base for every outgoing and incoming patch.
package shadow

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/TheMichaelB/diffsync/internal/events"
	"github.com/TheMichaelB/diffsync/internal/models"
	"github.com/TheMichaelB/diffsync/internal/patch"
	"github.com/TheMichaelB/diffsync/internal/state"
)

// Store is an in-memory shadow map written through to a persistence
// backend. Every mutation is a single map update under the lock; backend
// failures are logged and never undo the in-memory change.
type Store struct {
	mu      sync.RWMutex
	entries map[string]string

	codec   *patch.Codec
	backend state.Store
	logger  *events.Logger
}

// New creates a shadow store. A nil backend keeps shadows in memory only.
func New(codec *patch.Codec, backend state.Store, logger *events.Logger) *Store {
	if backend == nil {
		backend = state.NewMemoryStore()
	}
	return &Store{
		entries: make(map[string]string),
		codec:   codec,
		backend: backend,
		logger:  logger.WithField("component", "shadow_store"),
	}
}

// Load replaces the in-memory map with the backend's contents.
func (s *Store) Load() error {
	shadows, err := s.backend.Load()
	if err != nil {
		return fmt.Errorf("load shadows: %w", err)
	}

	s.mu.Lock()
	s.entries = shadows
	s.mu.Unlock()

	s.logger.WithField("count", len(shadows)).Debug("Loaded shadows")
	return nil
}

// Get returns the entry for path.
func (s *Store) Get(path string) (models.ShadowEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	content, ok := s.entries[path]
	if !ok {
		return models.ShadowEntry{}, false
	}
	return models.ShadowEntry{Path: path, Content: content}, true
}

// Create sets the shadow for a newly tracked document.
func (s *Store) Create(path, content string) {
	s.set(path, content)
}

// Update replaces the shadow for path.
func (s *Store) Update(path, content string) {
	s.set(path, content)
}

// Remove forgets path.
func (s *Store) Remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[path]; !ok {
		return
	}
	delete(s.entries, path)

	if err := s.backend.Delete(path); err != nil {
		s.logger.WithError(err).WithField("path", path).Warn("Failed to persist shadow removal")
	}
}

// IsTracked reports whether path has a shadow.
func (s *Store) IsTracked(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.entries[path]
	return ok
}

// Checksum returns the hex MD5 digest of the shadow for path.
func (s *Store) Checksum(path string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	content, ok := s.entries[path]
	if !ok {
		return "", fmt.Errorf("checksum %s: %w", path, models.ErrNotTracked)
	}
	return Checksum(content), nil
}

// Checksum returns the hex MD5 digest of content as the remote computes it.
func Checksum(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ComputeOutgoingPatch diffs the shadow against current and advances the
// shadow to current, assuming the remote will accept the edit.
func (s *Store) ComputeOutgoingPatch(path, current string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base, ok := s.entries[path]
	if !ok {
		return "", fmt.Errorf("outgoing patch %s: %w", path, models.ErrNotTracked)
	}

	text := s.codec.MakeText(base, current)
	s.setLocked(path, current)

	return text, nil
}

// ApplyIncomingPatch applies patchText to live and to the shadow, advancing
// the shadow in lockstep, and returns the patched live content. Hunks that
// fail to apply are dropped.
func (s *Store) ApplyIncomingPatch(path, live, patchText string) (string, error) {
	set, err := s.codec.Deserialize(patchText)
	if err != nil {
		return live, fmt.Errorf("incoming patch %s: %w", path, err)
	}
	if set.Empty() {
		return live, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	base, ok := s.entries[path]
	if !ok {
		return live, fmt.Errorf("incoming patch %s: %w", path, models.ErrNotTracked)
	}

	patchedLive, liveFailed := s.codec.Apply(set, live)
	patchedShadow, shadowFailed := s.codec.Apply(set, base)

	if liveFailed > 0 || shadowFailed > 0 {
		s.logger.WithFields(map[string]interface{}{
			"path":          path,
			"hunks":         len(set),
			"live_failed":   liveFailed,
			"shadow_failed": shadowFailed,
		}).Warn("Incoming patch applied partially")
	}

	s.setLocked(path, patchedShadow)
	return patchedLive, nil
}

// Echoes reports whether patchText applied to base reproduces the current
// shadow exactly. The outgoing patch of a round, echoed back by the remote,
// does: shadow and live content already carry that edit.
func (s *Store) Echoes(path, base, patchText string) bool {
	set, err := s.codec.Deserialize(patchText)
	if err != nil || set.Empty() {
		return false
	}

	s.mu.RLock()
	current, ok := s.entries[path]
	s.mu.RUnlock()
	if !ok || current == base {
		return false
	}

	patched, failed := s.codec.Apply(set, base)
	return failed == 0 && patched == current
}

// Paths returns every tracked path in sorted order.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]string, 0, len(s.entries))
	for p := range s.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of tracked documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) set(path, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(path, content)
}

func (s *Store) setLocked(path, content string) {
	s.entries[path] = content
	if err := s.backend.Put(path, content); err != nil {
		s.logger.WithError(err).WithField("path", path).Warn("Failed to persist shadow")
	}
}
