package storage_test

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/diffsync/internal/events"
	"github.com/TheMichaelB/diffsync/internal/models"
	"github.com/TheMichaelB/diffsync/internal/storage"
)

func TestAtomicWrites(t *testing.T) {
	tmpDir := t.TempDir()
	store := newLocalStore(t, tmpDir)

	t.Run("concurrent writes different files", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, 10)

		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()

				// Create separate store for each goroutine to avoid logger race
				var buf bytes.Buffer
				logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
				concurrentStore, err := storage.NewLocalStore(tmpDir, logger)
				if err != nil {
					errs <- err
					return
				}

				path := fmt.Sprintf("concurrent-%d.md", n)
				if err := concurrentStore.Write(path, fmt.Sprintf("content-%d", n)); err != nil {
					errs <- err
				}
			}(i)
		}

		wg.Wait()
		close(errs)

		for err := range errs {
			t.Errorf("Write error: %v", err)
		}

		for i := 0; i < 10; i++ {
			content, err := store.ReadFresh(fmt.Sprintf("concurrent-%d.md", i))
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("content-%d", i), content)
		}
	})

	t.Run("size limit", func(t *testing.T) {
		store.SetMaxFileSize(1024)
		defer store.SetMaxFileSize(10 * 1024 * 1024)

		assert.NoError(t, store.Write("small.md", strings.Repeat("a", 1024)))

		err := store.Write("large.md", strings.Repeat("b", 2048))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "too large")

		exists, _ := store.Exists("large.md")
		assert.False(t, exists)
	})

	t.Run("write failure cleanup", func(t *testing.T) {
		require.NoError(t, store.CreateFolder("blocker"))

		// Renaming a file over a directory fails.
		err := store.Write("blocker", "data")
		assert.Error(t, err)

		entries, err := os.ReadDir(tmpDir)
		require.NoError(t, err)
		for _, entry := range entries {
			assert.False(t, strings.Contains(entry.Name(), ".tmp."),
				"Found temp file: %s", entry.Name())
		}
	})
}

func TestReadMissing(t *testing.T) {
	store := newLocalStore(t, t.TempDir())

	_, err := store.ReadFresh("missing.md")
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)

	_, err = store.ReadCached("missing.md")
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)
}

func TestReadCachedTracksDiskChanges(t *testing.T) {
	tmpDir := t.TempDir()
	store := newLocalStore(t, tmpDir)

	require.NoError(t, store.Write("doc.md", "first"))

	content, err := store.ReadCached("doc.md")
	require.NoError(t, err)
	assert.Equal(t, "first", content)

	// External edit with a different size and a later mtime.
	full := filepath.Join(tmpDir, "doc.md")
	require.NoError(t, os.WriteFile(full, []byte("second edit"), 0644))
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(full, later, later))

	content, err = store.ReadCached("doc.md")
	require.NoError(t, err)
	assert.Equal(t, "second edit", content)

	fresh, err := store.ReadFresh("doc.md")
	require.NoError(t, err)
	assert.Equal(t, "second edit", fresh)
}

func TestDirectoryOperations(t *testing.T) {
	store := newLocalStore(t, t.TempDir())

	t.Run("create folder is not recursive", func(t *testing.T) {
		assert.Error(t, store.CreateFolder("x/y"))

		require.NoError(t, store.CreateFolder("x"))
		require.NoError(t, store.CreateFolder("x/y"))

		info, err := store.Stat("x/y")
		require.NoError(t, err)
		assert.True(t, info.IsDir)
	})

	t.Run("existing folder reports ErrExist", func(t *testing.T) {
		err := store.CreateFolder("x")
		assert.True(t, errors.Is(err, fs.ErrExist))
	})

	t.Run("clean empty directories", func(t *testing.T) {
		require.NoError(t, store.Write("cleanup/sub/file.md", "data"))
		require.NoError(t, store.Delete("cleanup/sub/file.md"))

		exists, _ := store.Exists("cleanup/sub")
		assert.False(t, exists)
		exists, _ = store.Exists("cleanup")
		assert.False(t, exists)
	})

	t.Run("delete missing is not an error", func(t *testing.T) {
		assert.NoError(t, store.Delete("never/was.md"))
	})
}

func TestList(t *testing.T) {
	tmpDir := t.TempDir()
	store := newLocalStore(t, tmpDir)

	require.NoError(t, store.Write("Shared/b.md", "b"))
	require.NoError(t, store.Write("Shared/a.md", "a"))
	require.NoError(t, store.Write("top.md", "t"))
	require.NoError(t, store.Write(".diffsync/state/shadows.json", "{}"))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "top.md.tmp.123"), []byte("x"), 0644))

	paths, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"Shared/a.md", "Shared/b.md", "top.md"}, paths)
}

func TestParents(t *testing.T) {
	assert.Equal(t, []string{"a", "a/b", "a/b/c"}, storage.Parents("a/b/c/doc.md"))
	assert.Empty(t, storage.Parents("doc.md"))
}

func TestMockStore(t *testing.T) {
	var store storage.DocumentStore = storage.NewMockStore()

	_, err := store.ReadFresh("a.md")
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)

	require.NoError(t, store.Write("a.md", "x"))
	content, err := store.ReadCached("a.md")
	require.NoError(t, err)
	assert.Equal(t, "x", content)

	require.NoError(t, store.CreateFolder("dir"))
	assert.ErrorIs(t, store.CreateFolder("dir"), fs.ErrExist)

	exists, err := store.Exists("dir")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete("a.md"))
	exists, _ = store.Exists("a.md")
	assert.False(t, exists)
}
