package models

import (
	"path"
	"strings"
)

// TombstonePrefix marks a manifest leaf name as deleted.
const TombstonePrefix = ".deleted~"

// Share maps a local folder of the document tree to a remote namespace.
type Share struct {
	Folder string `json:"folder"`
	Root   string `json:"root"`
}

// NewShare normalizes the folder to a slash-separated path without
// leading or trailing separators.
func NewShare(folder, root string) Share {
	return Share{Folder: NormalizePath(folder), Root: root}
}

// Contains reports whether docPath lives under the share folder.
func (s Share) Contains(docPath string) bool {
	docPath = NormalizePath(docPath)
	return strings.HasPrefix(docPath, s.Folder+"/")
}

// Localize converts a document path into the path the remote knows.
func (s Share) Localize(docPath string) (string, bool) {
	docPath = NormalizePath(docPath)
	if !strings.HasPrefix(docPath, s.Folder+"/") {
		return "", false
	}
	return strings.TrimPrefix(docPath, s.Folder+"/"), true
}

// Delocalize converts a remote path back into a document path.
func (s Share) Delocalize(localized string) string {
	return path.Join(s.Folder, NormalizePath(localized))
}

// NormalizePath cleans a document path into forward-slash form without
// leading or trailing separators.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// ParseTombstone reports whether a manifest entry is a tombstone and, if so,
// the localized path of the real document it deletes.
func ParseTombstone(entry string) (string, bool) {
	entry = NormalizePath(entry)
	dir, leaf := path.Split(entry)
	if !strings.HasPrefix(leaf, TombstonePrefix) {
		return entry, false
	}
	name := strings.TrimPrefix(leaf, TombstonePrefix)
	if name == "" {
		return entry, false
	}
	return dir + name, true
}

// TombstoneFor returns the manifest entry that deletes localized.
func TombstoneFor(localized string) string {
	dir, leaf := path.Split(NormalizePath(localized))
	return dir + TombstonePrefix + leaf
}
