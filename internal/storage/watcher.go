package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/TheMichaelB/diffsync/internal/events"
)

// EventOp represents the type of document change.
type EventOp int

const (
	// OpModify indicates a document was created or written.
	OpModify EventOp = iota
	// OpDelete indicates a document was removed.
	OpDelete
	// OpRename indicates a document moved from OldPath to Path.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// DocumentEvent is a change notification keyed by document path.
type DocumentEvent struct {
	Op      EventOp
	Path    string
	OldPath string
}

// renameWindow is how long a Rename waits for its matching Create before
// it is reported as a delete.
const renameWindow = 100 * time.Millisecond

// Watcher turns fsnotify events under a root directory into DocumentEvents
// with store-relative slash paths. Subdirectories are watched recursively,
// including ones created after Start.
type Watcher struct {
	watcher *fsnotify.Watcher
	root    string
	logger  *events.Logger

	events chan DocumentEvent
	errors chan error
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewWatcher creates a watcher for root. It must be started with Start.
func NewWatcher(root string, logger *events.Logger) (*Watcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		watcher: watcher,
		root:    absRoot,
		logger:  logger.WithField("component", "watcher"),
		events:  make(chan DocumentEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the root and every non-hidden subdirectory.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	if err := w.addTree(w.root); err != nil {
		return err
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()

	w.logger.WithField("root", w.root).Info("Watching documents")
	return nil
}

// Stop stops watching and closes the event channels.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("close watcher: %w", err)
	}

	w.wg.Wait()

	close(w.events)
	close(w.errors)

	return nil
}

// Events returns the channel of document events. It is closed by Stop.
func (w *Watcher) Events() <-chan DocumentEvent {
	return w.events
}

// Errors returns the channel of watch errors. It is closed by Stop.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root && IsIgnored(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	// A Rename is held until the next Create pairs with it or the window
	// elapses.
	var pending string
	timer := time.NewTimer(renameWindow)
	timer.Stop()
	defer timer.Stop()

	flush := func() bool {
		if pending == "" {
			return true
		}
		ev := DocumentEvent{Op: OpDelete, Path: pending}
		pending = ""
		return w.emit(ev)
	}

	for {
		select {
		case <-w.done:
			return

		case <-timer.C:
			if !flush() {
				return
			}

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			rel, ok := w.relative(event.Name)
			if !ok {
				continue
			}

			switch {
			case event.Has(fsnotify.Create):
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						w.logger.WithError(err).Warn("Failed to watch new folder")
					}
					continue
				}
				if pending != "" {
					old := pending
					pending = ""
					timer.Stop()
					if !w.emit(DocumentEvent{Op: OpRename, Path: rel, OldPath: old}) {
						return
					}
					continue
				}
				if !w.emit(DocumentEvent{Op: OpModify, Path: rel}) {
					return
				}

			case event.Has(fsnotify.Write):
				if !flush() || !w.emit(DocumentEvent{Op: OpModify, Path: rel}) {
					return
				}

			case event.Has(fsnotify.Remove):
				if !flush() || !w.emit(DocumentEvent{Op: OpDelete, Path: rel}) {
					return
				}

			case event.Has(fsnotify.Rename):
				if !flush() {
					return
				}
				pending = rel
				timer.Reset(renameWindow)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}

			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

func (w *Watcher) emit(ev DocumentEvent) bool {
	select {
	case w.events <- ev:
		return true
	case <-w.done:
		return false
	}
}

// relative converts an absolute event path to a store path, rejecting
// ignored entries anywhere in the path.
func (w *Watcher) relative(name string) (string, bool) {
	rel, err := filepath.Rel(w.root, name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}

	rel = filepath.ToSlash(rel)
	for _, part := range strings.Split(rel, "/") {
		if IsIgnored(part) {
			return "", false
		}
	}
	return rel, true
}

// IsRunning returns true if the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Close stops a running watcher, or releases the underlying watch of one
// that was never started.
func (w *Watcher) Close() error {
	if w.IsRunning() {
		return w.Stop()
	}
	return w.watcher.Close()
}
