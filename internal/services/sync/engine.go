package sync

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TheMichaelB/diffsync/internal/events"
	"github.com/TheMichaelB/diffsync/internal/models"
	"github.com/TheMichaelB/diffsync/internal/storage"
	"github.com/TheMichaelB/diffsync/internal/transport"
)

// Event represents a sync event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Path      string
	Root      string
	Outcome   models.Outcome
	Error     error
}

// EventType defines sync event types.
type EventType string

const (
	EventStarted    EventType = "started"
	EventSynced     EventType = "synced"
	EventDeleted    EventType = "deleted"
	EventFailed     EventType = "failed"
	EventReconciled EventType = "reconciled"
	EventStopped    EventType = "stopped"
)

// EngineConfig contains scheduler configuration.
type EngineConfig struct {
	MinSyncInterval   time.Duration
	EnqueueInterval   time.Duration
	DrainInterval     time.Duration
	ReconcileInterval time.Duration
	Jitter            float64
}

// EngineOption configures optional engine inputs.
type EngineOption func(*Engine)

// WithWatcher feeds local document events into the engine.
func WithWatcher(w *storage.Watcher) EngineOption {
	return func(e *Engine) { e.watcher = w }
}

// WithNotifier feeds remote change notifications into the engine.
func WithNotifier(n transport.Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// Engine schedules sync attempts from periodic timers and document events.
type Engine struct {
	driver     *Driver
	reconciler *Reconciler
	state      *State
	docs       storage.DocumentStore
	watcher    *storage.Watcher
	notifier   transport.Notifier
	config     EngineConfig
	logger     *events.Logger

	events chan Event

	mu           sync.Mutex
	running      bool
	cancelFn     context.CancelFunc
	eventsClosed bool

	rngMu sync.Mutex
	rng   *rand.Rand

	resubscribeDelay time.Duration
}

// NewEngine creates a sync engine.
func NewEngine(
	driver *Driver,
	reconciler *Reconciler,
	state *State,
	docs storage.DocumentStore,
	config EngineConfig,
	logger *events.Logger,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		driver:           driver,
		reconciler:       reconciler,
		state:            state,
		docs:             docs,
		config:           config,
		logger:           logger.WithField("component", "sync_engine"),
		events:           make(chan Event, 100),
		rng:              rand.New(rand.NewSource(time.Now().UnixNano())),
		resubscribeDelay: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Events returns the event channel. It is closed when Run returns.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// State returns the shared state.
func (e *Engine) State() *State {
	return e.state
}

// Run drives the timers, the watcher and the broker subscription until ctx
// is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("engine already running")
	}
	e.running = true

	if e.eventsClosed {
		e.events = make(chan Event, 100)
		e.eventsClosed = false
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancelFn = cancel
	e.mu.Unlock()

	defer func() {
		cancel()
		e.emitEvent(Event{Type: EventStopped, Timestamp: time.Now()})

		e.mu.Lock()
		e.running = false
		e.cancelFn = nil
		if !e.eventsClosed {
			close(e.events)
			e.eventsClosed = true
		}
		e.mu.Unlock()
	}()

	e.logger.WithFields(map[string]interface{}{
		"shares":  e.state.Shares.Len(),
		"tracked": e.state.Shadows.Len(),
		"watch":   e.watcher != nil,
		"broker":  e.notifier != nil,
	}).Info("Starting sync engine")

	e.emitEvent(Event{Type: EventStarted, Timestamp: time.Now()})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.every(ctx, e.config.EnqueueInterval, e.EnqueueAll) })
	g.Go(func() error { return e.every(ctx, e.config.DrainInterval, e.Drain) })
	g.Go(func() error {
		return e.every(ctx, e.config.ReconcileInterval, func(ctx context.Context) {
			_, _ = e.Reconcile(ctx)
		})
	})

	if e.notifier != nil {
		g.Go(func() error { return e.listen(ctx) })
	}
	if e.watcher != nil {
		g.Go(func() error { return e.watch(ctx) })
	}

	err := g.Wait()

	e.logger.Info("Sync engine stopped")
	return err
}

// Stop cancels a running engine.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancelFn != nil {
		e.logger.Info("Stopping sync engine")
		e.cancelFn()
	}
}

// every runs fn after each jittered interval until ctx is done.
func (e *Engine) every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	if interval <= 0 {
		return nil
	}

	for {
		timer := time.NewTimer(e.jitter(interval))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			fn(ctx)
		}
	}
}

// jitter spreads d by the configured factor in both directions.
func (e *Engine) jitter(d time.Duration) time.Duration {
	if e.config.Jitter <= 0 {
		return d
	}

	e.rngMu.Lock()
	f := e.rng.Float64()*2 - 1
	e.rngMu.Unlock()

	return d + time.Duration(f*e.config.Jitter*float64(d))
}

// EnqueueAll schedules every tracked document and every untracked document
// inside a share.
func (e *Engine) EnqueueAll(ctx context.Context) {
	queued := 0
	for _, p := range e.state.Shadows.Paths() {
		if e.state.Queue.Enqueue(p, e.config.MinSyncInterval) {
			queued++
		}
	}

	docs, err := e.docs.List()
	if err != nil {
		e.logger.WithError(err).Warn("Failed to list documents")
	}
	for _, p := range docs {
		if _, ok := e.state.Shares.Resolve(p); !ok {
			continue
		}
		if e.state.Queue.Enqueue(p, e.config.MinSyncInterval) {
			queued++
		}
	}

	if queued > 0 {
		e.logger.WithFields(map[string]interface{}{
			"queued":  queued,
			"pending": e.state.Queue.Len(),
		}).Debug("Enqueued documents")
	}
}

// Drain runs every item visible at the start of the tick. Items whose lock
// is held go back to the queue with no delay.
func (e *Engine) Drain(ctx context.Context) {
	n := e.state.Queue.Len()
	for i := 0; i < n && ctx.Err() == nil; i++ {
		p, ok := e.state.Queue.PopNextVisible()
		if !ok {
			return
		}
		e.run(ctx, p)
	}
}

// run is the scheduler boundary: errors are logged and reported, never
// returned.
func (e *Engine) run(ctx context.Context, docPath string) {
	result, err := e.driver.SyncDocument(ctx, docPath)
	e.report(docPath, result, err)
}

func (e *Engine) report(docPath string, result models.SyncResult, err error) {
	switch {
	case errors.Is(err, models.ErrLockHeld):
		e.state.Queue.Enqueue(docPath, 0)

	case err != nil:
		e.logger.WithError(err).WithFields(map[string]interface{}{
			"path":      docPath,
			"transient": models.IsTransient(err),
		}).Error("Sync attempt failed")
		e.emitEvent(Event{
			Type:      EventFailed,
			Timestamp: time.Now(),
			Path:      docPath,
			Root:      result.Root,
			Outcome:   result.Outcome,
			Error:     err,
		})

	case result.Outcome == models.OutcomeSkipped:

	default:
		typ := EventSynced
		if result.Deleted {
			typ = EventDeleted
		}
		e.emitEvent(Event{
			Type:      typ,
			Timestamp: time.Now(),
			Path:      docPath,
			Root:      result.Root,
			Outcome:   result.Outcome,
		})
	}
}

// Reconcile runs one manifest pass over every share.
func (e *Engine) Reconcile(ctx context.Context) ([]ReconcileReport, error) {
	reports, err := e.reconciler.ReconcileAll(ctx)
	if err != nil {
		e.logger.WithError(err).Error("Reconcile failed")
	}

	for _, r := range reports {
		e.emitEvent(Event{
			Type:      EventReconciled,
			Timestamp: time.Now(),
			Root:      r.Root,
		})
	}
	return reports, err
}

// HandleModify schedules a modified document.
func (e *Engine) HandleModify(docPath string) {
	docPath = models.NormalizePath(docPath)
	if _, ok := e.state.Shares.Resolve(docPath); !ok {
		return
	}
	e.state.Queue.Enqueue(docPath, e.config.MinSyncInterval)
}

// HandleOpen syncs an opened document right away so the user sees the
// latest remote content.
func (e *Engine) HandleOpen(ctx context.Context, docPath string) (models.SyncResult, error) {
	result, err := e.driver.SyncDocument(ctx, docPath)
	e.report(models.NormalizePath(docPath), result, err)
	return result, err
}

// HandleDelete propagates a local deletion.
func (e *Engine) HandleDelete(ctx context.Context, docPath string) {
	docPath = models.NormalizePath(docPath)
	e.state.Queue.Remove(docPath)

	result, err := e.driver.DeleteDocument(ctx, docPath)
	e.report(docPath, result, err)
}

// HandleRename deletes the old path remotely and registers the new one.
func (e *Engine) HandleRename(ctx context.Context, oldPath, newPath string) {
	e.logger.WithFields(map[string]interface{}{
		"from": oldPath,
		"to":   newPath,
	}).Debug("Document renamed")

	e.HandleDelete(ctx, oldPath)
	e.run(ctx, models.NormalizePath(newPath))
}

// watch feeds watcher events into the handlers.
func (e *Engine) watch(ctx context.Context) error {
	if err := e.watcher.Start(); err != nil {
		return err
	}
	defer func() {
		if err := e.watcher.Stop(); err != nil {
			e.logger.WithError(err).Warn("Failed to stop watcher")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-e.watcher.Events():
			if !ok {
				return nil
			}
			switch ev.Op {
			case storage.OpModify:
				e.HandleModify(ev.Path)
			case storage.OpDelete:
				e.HandleDelete(ctx, ev.Path)
			case storage.OpRename:
				e.HandleRename(ctx, ev.OldPath, ev.Path)
			}

		case err, ok := <-e.watcher.Errors():
			if !ok {
				return nil
			}
			e.logger.WithError(err).Warn("Watcher error")
		}
	}
}

// listen enqueues remotely changed documents, resubscribing after the
// broker connection drops.
func (e *Engine) listen(ctx context.Context) error {
	for {
		e.subscribeOnce(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(e.jitter(e.resubscribeDelay)):
		}
	}
}

func (e *Engine) subscribeOnce(ctx context.Context) {
	ch, err := e.notifier.Subscribe(ctx, e.state.Shares.Roots())
	if err != nil {
		e.logger.WithError(err).Warn("Broker subscription failed")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				e.logger.Info("Broker stream closed")
				return
			}

			share, found := e.state.Shares.Get(n.Root)
			if !found {
				e.logger.WithField("root", n.Root).Debug("Notification for unknown root")
				continue
			}
			e.state.Queue.Enqueue(share.Delocalize(n.Path), 0)
		}
	}
}

func (e *Engine) emitEvent(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.eventsClosed {
		return
	}

	select {
	case e.events <- event:
	default:
		// Channel full, drop event
		e.logger.Debug("Event channel full, dropping event")
	}
}
