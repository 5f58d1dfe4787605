package storage

import (
	"os"
	"path"
	"time"
)

// DocumentStore reads and writes named text documents. Paths are
// slash-separated and relative to the store root.
type DocumentStore interface {
	// ReadCached returns content, possibly from a cache that is valid
	// while the document is unchanged on disk.
	ReadCached(path string) (string, error)

	// ReadFresh always reads the document from disk.
	ReadFresh(path string) (string, error)

	// Write replaces a document's content, creating parents as needed.
	Write(path, content string) error

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(path string) error

	// Exists checks if a document exists.
	Exists(path string) (bool, error)

	// CreateFolder creates one folder. It fails with an error matching
	// fs.ErrExist when the folder is already there.
	CreateFolder(path string) error

	// List returns every document path in lexical order.
	List() ([]string, error)
}

// FileInfo contains file metadata.
type FileInfo struct {
	Path       string
	Size       int64
	Mode       os.FileMode
	ModTime    time.Time
	IsDir      bool
	IsSymlink  bool
	LinkTarget string
}

// Parents returns every ancestor folder of a document path, outermost first.
func Parents(p string) []string {
	var dirs []string
	for dir := path.Dir(p); dir != "." && dir != "/" && dir != ""; dir = path.Dir(dir) {
		dirs = append([]string{dir}, dirs...)
	}
	return dirs
}
