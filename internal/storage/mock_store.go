package storage

import (
	"fmt"
	"io/fs"
	"sort"
	"sync"

	"github.com/TheMichaelB/diffsync/internal/models"
)

// MockStore provides an in-memory DocumentStore for testing.
type MockStore struct {
	mu     sync.RWMutex
	files  map[string]string
	dirs   map[string]bool
	writes map[string]int

	// OnReadFresh, when set, runs before every ReadFresh and may mutate the
	// store to simulate edits landing during a network round trip.
	OnReadFresh func(path string)
}

// NewMockStore creates an empty mock document store.
func NewMockStore() *MockStore {
	return &MockStore{
		files:  make(map[string]string),
		dirs:   make(map[string]bool),
		writes: make(map[string]int),
	}
}

// ReadCached returns the stored content.
func (m *MockStore) ReadCached(p string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	content, ok := m.files[p]
	if !ok {
		return "", fmt.Errorf("%w: %s", models.ErrDocumentNotFound, p)
	}
	return content, nil
}

// ReadFresh returns the stored content after running OnReadFresh.
func (m *MockStore) ReadFresh(p string) (string, error) {
	if hook := m.OnReadFresh; hook != nil {
		hook(p)
	}
	return m.ReadCached(p)
}

// Write saves content.
func (m *MockStore) Write(p, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.files[p] = content
	m.writes[p]++
	return nil
}

// Delete removes a document.
func (m *MockStore) Delete(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.files, p)
	return nil
}

// Exists checks if a document or folder exists.
func (m *MockStore) Exists(p string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, file := m.files[p]
	return file || m.dirs[p], nil
}

// CreateFolder records a folder, failing like os.Mkdir when present.
func (m *MockStore) CreateFolder(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dirs[p] {
		return fmt.Errorf("create folder %s: %w", p, fs.ErrExist)
	}
	m.dirs[p] = true
	return nil
}

// List returns all document paths sorted.
func (m *MockStore) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// Helper methods for testing

// SetFile stores content without counting a write.
func (m *MockStore) SetFile(p, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[p] = content
}

// FileExists checks if a document exists.
func (m *MockStore) FileExists(p string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.files[p]
	return exists
}

// FolderExists checks if a folder was created.
func (m *MockStore) FolderExists(p string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dirs[p]
}

// Writes returns how many times Write was called for a path.
func (m *MockStore) Writes(p string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes[p]
}

// Content returns a document's content directly.
func (m *MockStore) Content(p string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.files[p]
}

// Clear removes all documents and folders.
func (m *MockStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.files = make(map[string]string)
	m.dirs = make(map[string]bool)
	m.writes = make(map[string]int)
}
