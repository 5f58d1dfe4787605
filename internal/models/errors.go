package models

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors
var (
	ErrFileDeleted      = errors.New("file is deleted")
	ErrRootMissing      = errors.New("root does not exist")
	ErrNotTracked       = errors.New("document is not tracked")
	ErrOutOfScope       = errors.New("document is outside every share")
	ErrLockHeld         = errors.New("sync already in progress for path")
	ErrStaleLease       = errors.New("lock lease was reclaimed")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrDocumentNotFound = errors.New("document not found")
)

// Markers the remote embeds in response content.
const (
	FileDeletedMarker = "file is deleted"
	RootMissingMarker = "root does not exist"
)

// SignalsFileDeleted reports whether response content carries the deletion signal.
func SignalsFileDeleted(content string) bool {
	return strings.Contains(strings.ToLower(content), FileDeletedMarker)
}

// SignalsRootMissing reports whether response content says the namespace is gone.
func SignalsRootMissing(content string) bool {
	return strings.Contains(strings.ToLower(content), RootMissingMarker)
}

// APIError is a hard failure from a remote endpoint.
type APIError struct {
	Endpoint   string `json:"endpoint"`
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API error %d (%s)", e.StatusCode, e.Endpoint)
	}
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Endpoint, e.Message)
}

// TransientError is a failed exchange that the next scheduled round retries.
type TransientError struct {
	Path       string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient failure for %s: status %d: %v", e.Path, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient failure for %s: %v", e.Path, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// NewStatusError builds a TransientError for an unexpected status code.
func NewStatusError(path string, status int, content string) *TransientError {
	msg := http.StatusText(status)
	if content != "" {
		msg = content
	}
	return &TransientError{
		Path:       path,
		StatusCode: status,
		Err:        errors.New(msg),
	}
}

// SyncError provides detailed sync failure information.
type SyncError struct {
	Phase string
	Root  string
	Path  string
	Err   error
}

func (e *SyncError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("sync %s: root %s: %s: %v", e.Phase, e.Root, e.Path, e.Err)
	}
	return fmt.Sprintf("sync %s: root %s: %v", e.Phase, e.Root, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
