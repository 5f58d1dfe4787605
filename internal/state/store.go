package state

import (
	"errors"
	"fmt"
	"time"
)

// Store persists shadow contents so tracked documents survive restarts.
// Keys are document paths; values are the last agreed content.
type Store interface {
	// Load returns every persisted shadow.
	Load() (map[string]string, error)

	// Put creates or replaces one shadow.
	Put(path, content string) error

	// Delete removes one shadow. Deleting an absent path is not an error.
	Delete(path string) error

	// Reset removes all shadows.
	Reset() error

	// Close releases resources.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Errors
var (
	ErrStateCorrupt   = errors.New("state file is corrupt")
	ErrUnknownBackend = errors.New("unknown shadow backend")
)

// Snapshot is the on-disk form written by file-based stores.
type Snapshot struct {
	SchemaVersion int               `json:"schema_version"`
	CreatedAt     time.Time         `json:"created_at"`
	Checksum      string            `json:"checksum,omitempty"`
	Shadows       map[string]string `json:"shadows"`
}

// CurrentSchemaVersion for migrations.
const CurrentSchemaVersion = 1

// Migrate copies every shadow in src into dst.
func Migrate(src, dst Store) (int, error) {
	shadows, err := src.Load()
	if err != nil {
		return 0, fmt.Errorf("load source: %w", err)
	}

	for path, content := range shadows {
		if err := dst.Put(path, content); err != nil {
			return 0, fmt.Errorf("put %s: %w", path, err)
		}
	}

	return len(shadows), nil
}
