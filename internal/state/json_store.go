package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/TheMichaelB/diffsync/internal/events"
)

const jsonStateFile = "shadows.json"

// JSONStore keeps all shadows in a single checksummed JSON file, rewritten
// atomically on every mutation with the previous version kept as a backup.
type JSONStore struct {
	path   string
	logger *events.Logger

	mu      sync.Mutex
	shadows map[string]string
}

// NewJSONStore creates a JSON-based state store under baseDir.
func NewJSONStore(baseDir string, logger *events.Logger) (*JSONStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	s := &JSONStore{
		path:   filepath.Join(baseDir, jsonStateFile),
		logger: logger.WithField("component", "json_state_store"),
	}

	shadows, err := s.read()
	if err != nil {
		return nil, err
	}
	s.shadows = shadows

	return s, nil
}

// Load returns a copy of all shadows.
func (s *JSONStore) Load() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.shadows))
	for k, v := range s.shadows {
		out[k] = v
	}
	return out, nil
}

// Put stores a shadow and flushes the file.
func (s *JSONStore) Put(path, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.shadows[path]
	s.shadows[path] = content

	if err := s.flush(); err != nil {
		if existed {
			s.shadows[path] = prev
		} else {
			delete(s.shadows, path)
		}
		return err
	}
	return nil
}

// Delete removes a shadow and flushes the file.
func (s *JSONStore) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.shadows[path]
	if !existed {
		return nil
	}
	delete(s.shadows, path)

	if err := s.flush(); err != nil {
		s.shadows[path] = prev
		return err
	}
	return nil
}

// Reset removes the state file and its backup.
func (s *JSONStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Resetting state")

	s.shadows = make(map[string]string)
	_ = os.Remove(s.path)
	_ = os.Remove(s.path + ".backup")

	return nil
}

// Close releases resources.
func (s *JSONStore) Close() error {
	return nil
}

func (s *JSONStore) read() (map[string]string, error) {
	s.logger.WithField("path", s.path).Debug("Loading state")

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	snapshot, err := decodeSnapshot(data)
	if err != nil {
		s.logger.WithError(err).Warn("State file unreadable, trying backup")

		backup, backupErr := s.loadBackup()
		if backupErr != nil {
			return nil, ErrStateCorrupt
		}
		s.logger.Warn("Loaded state from backup due to corruption")
		return backup, nil
	}

	if snapshot.SchemaVersion != CurrentSchemaVersion {
		s.logger.WithField("version", snapshot.SchemaVersion).Warn("State schema version mismatch")
	}

	return snapshot.Shadows, nil
}

func (s *JSONStore) flush() error {
	snapshot := Snapshot{
		SchemaVersion: CurrentSchemaVersion,
		CreatedAt:     time.Now().UTC(),
		Shadows:       s.shadows,
	}

	sum, err := snapshotChecksum(snapshot)
	if err != nil {
		return err
	}
	snapshot.Checksum = sum

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := copyFile(s.path, s.path+".backup"); err != nil {
			s.logger.WithError(err).Warn("Failed to create backup")
		}
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if file, err := os.Open(tmpPath); err == nil {
		_ = file.Sync()
		file.Close()
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename state file: %w", err)
	}

	return nil
}

func (s *JSONStore) loadBackup() (map[string]string, error) {
	data, err := os.ReadFile(s.path + ".backup")
	if err != nil {
		return nil, err
	}

	snapshot, err := decodeSnapshot(data)
	if err != nil {
		return nil, err
	}
	return snapshot.Shadows, nil
}

func decodeSnapshot(data []byte) (*Snapshot, error) {
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}

	if snapshot.Checksum != "" {
		stored := snapshot.Checksum
		snapshot.Checksum = ""
		calculated, err := snapshotChecksum(snapshot)
		if err != nil {
			return nil, err
		}
		if calculated != stored {
			return nil, fmt.Errorf("checksum mismatch: expected %s, got %s", stored, calculated)
		}
		snapshot.Checksum = stored
	}

	if snapshot.Shadows == nil {
		snapshot.Shadows = make(map[string]string)
	}
	return &snapshot, nil
}

// snapshotChecksum hashes the snapshot with its Checksum field empty.
func snapshotChecksum(snapshot Snapshot) (string, error) {
	snapshot.Checksum = ""
	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("marshal state for checksum: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
