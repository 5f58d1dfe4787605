package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/TheMichaelB/diffsync/internal/events"
	"github.com/TheMichaelB/diffsync/internal/models"
)

// LocalStore implements DocumentStore on the file system.
type LocalStore struct {
	baseDir string
	logger  *events.Logger

	// Security settings
	allowSymlinks bool
	maxPathLength int
	maxFileSize   int64

	cacheMu sync.Mutex
	cache   map[string]cachedDoc
}

type cachedDoc struct {
	modTime time.Time
	size    int64
	content string
}

// NewLocalStore creates a local document store rooted at baseDir.
func NewLocalStore(baseDir string, logger *events.Logger) (*LocalStore, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &LocalStore{
		baseDir:       absPath,
		logger:        logger.WithField("component", "local_store"),
		allowSymlinks: false,
		maxPathLength: 260, // Windows compatibility
		maxFileSize:   10 * 1024 * 1024,
		cache:         make(map[string]cachedDoc),
	}, nil
}

// SetMaxFileSize sets the maximum document size limit.
func (s *LocalStore) SetMaxFileSize(size int64) {
	s.maxFileSize = size
}

// BaseDir returns the absolute store root.
func (s *LocalStore) BaseDir() string {
	return s.baseDir
}

// ReadCached returns the cached content while the file's size and
// modification time are unchanged.
func (s *LocalStore) ReadCached(path string) (string, error) {
	info, err := s.Stat(path)
	if err != nil {
		return "", err
	}

	s.cacheMu.Lock()
	cached, ok := s.cache[path]
	s.cacheMu.Unlock()

	if ok && cached.size == info.Size && cached.modTime.Equal(info.ModTime) {
		return cached.content, nil
	}

	return s.ReadFresh(path)
}

// ReadFresh reads the document from disk and refreshes the cache.
func (s *LocalStore) ReadFresh(path string) (string, error) {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return "", fmt.Errorf("sanitize path: %w", err)
	}

	stat, err := os.Lstat(safePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", models.ErrDocumentNotFound, path)
		}
		return "", fmt.Errorf("stat file: %w", err)
	}

	// Check if it's a symlink and we don't allow symlinks
	if !s.allowSymlinks && stat.Mode()&os.ModeSymlink != 0 {
		return "", fmt.Errorf("symlinks not allowed: %s", path)
	}
	if stat.IsDir() {
		return "", fmt.Errorf("not a document: %s", path)
	}

	data, err := os.ReadFile(safePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", models.ErrDocumentNotFound, path)
		}
		return "", fmt.Errorf("read file: %w", err)
	}

	content := string(data)
	s.remember(path, stat, content)

	return content, nil
}

// Write saves a document atomically.
func (s *LocalStore) Write(path, content string) error {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return fmt.Errorf("sanitize path: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"path": path,
		"size": len(content),
	}).Debug("Writing document")

	if int64(len(content)) > s.maxFileSize {
		return fmt.Errorf("file too large: %d bytes (max: %d)", len(content), s.maxFileSize)
	}

	if err := os.MkdirAll(filepath.Dir(safePath), 0755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	// Write atomically using temp file
	tempPath := fmt.Sprintf("%s.tmp.%d", safePath, time.Now().UnixNano())

	if err := os.WriteFile(tempPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if file, err := os.Open(tempPath); err == nil {
		_ = file.Sync()
		file.Close()
	}

	if err := os.Rename(tempPath, safePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	if stat, err := os.Stat(safePath); err == nil {
		s.remember(path, stat, content)
	}

	return nil
}

// Delete removes a document and any parent folders left empty.
func (s *LocalStore) Delete(path string) error {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return fmt.Errorf("sanitize path: %w", err)
	}

	s.logger.WithField("path", path).Debug("Deleting document")

	s.forget(path)

	if err := os.Remove(safePath); err != nil {
		if os.IsNotExist(err) {
			return nil // Already deleted
		}
		return fmt.Errorf("delete file: %w", err)
	}

	s.cleanEmptyDirs(filepath.Dir(safePath))

	return nil
}

// Exists checks if a document or folder exists.
func (s *LocalStore) Exists(path string) (bool, error) {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return false, fmt.Errorf("sanitize path: %w", err)
	}

	_, err = os.Stat(safePath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// CreateFolder creates a single folder; its parent must exist.
func (s *LocalStore) CreateFolder(path string) error {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return fmt.Errorf("sanitize path: %w", err)
	}

	if err := os.Mkdir(safePath, 0755); err != nil {
		return fmt.Errorf("create folder %s: %w", path, err)
	}
	return nil
}

// List walks the store and returns every document path. Hidden entries and
// temp files are skipped.
func (s *LocalStore) List() ([]string, error) {
	var paths []string

	err := filepath.WalkDir(s.baseDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == s.baseDir {
			return nil
		}

		if IsIgnored(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(s.baseDir, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk documents: %w", err)
	}

	return paths, nil
}

// Stat returns file information.
func (s *LocalStore) Stat(path string) (FileInfo, error) {
	safePath, err := s.sanitizePath(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("sanitize path: %w", err)
	}

	stat, err := os.Lstat(safePath)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, path)
		}
		return FileInfo{}, fmt.Errorf("stat file: %w", err)
	}

	info := FileInfo{
		Path:      path,
		Size:      stat.Size(),
		Mode:      stat.Mode(),
		ModTime:   stat.ModTime(),
		IsDir:     stat.IsDir(),
		IsSymlink: stat.Mode()&os.ModeSymlink != 0,
	}

	if info.IsSymlink {
		if target, err := os.Readlink(safePath); err == nil {
			info.LinkTarget = target
		}
	}

	return info, nil
}

// IsIgnored reports whether a file or folder name is outside the document
// tree: hidden entries and in-flight temp files.
func IsIgnored(name string) bool {
	return strings.HasPrefix(name, ".") || strings.Contains(name, ".tmp.")
}

// Helper methods

func (s *LocalStore) remember(path string, stat os.FileInfo, content string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cache[path] = cachedDoc{modTime: stat.ModTime(), size: stat.Size(), content: content}
}

func (s *LocalStore) forget(path string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.cache, path)
}

// sanitizePath validates and normalizes a document path.
func (s *LocalStore) sanitizePath(path string) (string, error) {
	// Check for null bytes
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("path contains null bytes")
	}

	normalized := filepath.FromSlash(path)
	cleaned := filepath.Clean(normalized)

	// Check for directory traversal
	for _, part := range strings.Split(cleaned, string(filepath.Separator)) {
		if part == ".." {
			return "", fmt.Errorf("invalid path: contains '..'")
		}
	}

	cleaned = strings.TrimPrefix(cleaned, string(filepath.Separator))
	fullPath := filepath.Join(s.baseDir, cleaned)

	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) && fullPath != s.baseDir {
		return "", fmt.Errorf("path escapes base directory")
	}

	if len(fullPath) > s.maxPathLength {
		return "", fmt.Errorf("path too long: %d characters (max: %d)", len(fullPath), s.maxPathLength)
	}

	if err := s.validatePlatformPath(cleaned); err != nil {
		return "", err
	}

	return fullPath, nil
}

// validatePlatformPath checks platform-specific path restrictions.
func (s *LocalStore) validatePlatformPath(path string) error {
	if runtime.GOOS == "windows" {
		reserved := []string{"CON", "PRN", "AUX", "NUL", "COM1", "COM2", "COM3", "COM4",
			"COM5", "COM6", "COM7", "COM8", "COM9", "LPT1", "LPT2", "LPT3",
			"LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9"}

		parts := strings.Split(path, string(filepath.Separator))
		for _, part := range parts {
			baseName := strings.TrimSuffix(part, filepath.Ext(part))
			upperName := strings.ToUpper(baseName)

			for _, reserved := range reserved {
				if upperName == reserved {
					return fmt.Errorf("invalid path: contains reserved name '%s'", part)
				}
			}

			for _, char := range `<>:"|?*` {
				if strings.ContainsRune(part, char) {
					return fmt.Errorf("invalid path: contains character '%c'", char)
				}
			}
		}
	}

	return nil
}

// cleanEmptyDirs removes empty parent directories.
func (s *LocalStore) cleanEmptyDirs(dirPath string) {
	for dirPath != s.baseDir && strings.HasPrefix(dirPath, s.baseDir) {
		entries, err := os.ReadDir(dirPath)
		if err != nil || len(entries) > 0 {
			break
		}

		if err := os.Remove(dirPath); err != nil {
			break
		}

		dirPath = filepath.Dir(dirPath)
	}
}
