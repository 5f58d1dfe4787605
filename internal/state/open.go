package state

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/TheMichaelB/diffsync/internal/events"
)

// Open creates the store for backend under dir.
func Open(backend, dir string, logger *events.Logger) (Store, error) {
	if backend != BackendMemory {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	switch backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendJSON:
		return NewJSONStore(dir, logger)
	case BackendSQLite:
		return NewSQLiteStore(filepath.Join(dir, "shadows.db"), logger)
	case BackendBolt:
		return NewBoltStore(filepath.Join(dir, "shadows.bolt"), logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
