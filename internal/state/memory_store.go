package state

import (
	"errors"
	"sync"
)

// MemoryStore keeps shadows in memory only. It is the "memory" backend and
// doubles as a test fake.
type MemoryStore struct {
	mu      sync.RWMutex
	shadows map[string]string

	// FailPuts makes Put return an error, for exercising write-through failures.
	FailPuts bool
	puts     int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		shadows: make(map[string]string),
	}
}

// Load returns a copy of all shadows.
func (m *MemoryStore) Load() (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.shadows))
	for k, v := range m.shadows {
		out[k] = v
	}
	return out, nil
}

// Put stores a shadow.
func (m *MemoryStore) Put(path, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPuts {
		return errors.New("memory store: put failed")
	}
	m.shadows[path] = content
	m.puts++
	return nil
}

// Delete removes a shadow.
func (m *MemoryStore) Delete(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.shadows, path)
	return nil
}

// Reset removes all shadows.
func (m *MemoryStore) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shadows = make(map[string]string)
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

// Helper methods for testing

// Get returns one shadow directly.
func (m *MemoryStore) Get(path string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	content, ok := m.shadows[path]
	return content, ok
}

// Puts returns how many successful Put calls were made.
func (m *MemoryStore) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}
