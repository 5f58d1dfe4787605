package client

import (
	"errors"
	"fmt"

	"github.com/TheMichaelB/diffsync/internal/config"
	"github.com/TheMichaelB/diffsync/internal/events"
	"github.com/TheMichaelB/diffsync/internal/lock"
	"github.com/TheMichaelB/diffsync/internal/models"
	"github.com/TheMichaelB/diffsync/internal/patch"
	"github.com/TheMichaelB/diffsync/internal/queue"
	"github.com/TheMichaelB/diffsync/internal/services/sync"
	"github.com/TheMichaelB/diffsync/internal/shadow"
	"github.com/TheMichaelB/diffsync/internal/state"
	"github.com/TheMichaelB/diffsync/internal/storage"
	"github.com/TheMichaelB/diffsync/internal/transport"
)

// Client provides the high-level API for diffsync operations.
type Client struct {
	Sync  *sync.Service
	State StateManager

	config    *config.Config
	logger    *events.Logger
	transport *transport.Transport
	storage   *storage.LocalStore
	shadows   *shadow.Store
	watcher   *storage.Watcher
}

// StateManager provides shadow state operations.
type StateManager interface {
	Tracked() []string
	Reset() error
	Migrate(backend string) (int, error)
}

// New creates a client from configuration.
func New(cfg *config.Config, logger *events.Logger) (*Client, error) {
	identity := models.Identity{
		UserID:    cfg.Auth.UserID,
		SecretKey: cfg.Auth.SecretKey,
	}

	// Create state store
	stateStore, err := state.Open(cfg.Storage.ShadowBackend, cfg.Storage.StateDir, logger)
	if err != nil {
		return nil, err
	}

	shadows := shadow.New(patch.NewCodec(), stateStore, logger)
	if err := shadows.Load(); err != nil {
		_ = stateStore.Close()
		return nil, err
	}

	// Create document store
	localStore, err := storage.NewLocalStore(cfg.Storage.VaultDir, logger)
	if err != nil {
		_ = stateStore.Close()
		return nil, err
	}
	if cfg.Storage.MaxFileSize > 0 {
		localStore.SetMaxFileSize(cfg.Storage.MaxFileSize)
	}

	transportClient := transport.New(&cfg.API, identity, logger)

	shares := make([]models.Share, 0, len(cfg.Sync.Shares))
	for _, s := range cfg.Sync.Shares {
		shares = append(shares, models.NewShare(s.Folder, s.Root))
	}

	syncState := &sync.State{
		Shadows: shadows,
		Locks:   lock.NewTable(cfg.Sync.LockLease, logger),
		Queue:   queue.New(),
		Shares:  sync.NewShares(shares...),
	}

	driver := sync.NewDriver(transportClient.Remote, localStore, syncState, sync.DriverConfig{
		Identity:           identity,
		ChecksumRetryDelay: cfg.Sync.ChecksumRetryDelay,
	}, logger)
	reconciler := sync.NewReconciler(transportClient.Remote, localStore, syncState, identity, logger)

	var opts []sync.EngineOption
	var watcher *storage.Watcher
	if cfg.Sync.Watch {
		watcher, err = storage.NewWatcher(cfg.Storage.VaultDir, logger)
		if err != nil {
			_ = stateStore.Close()
			return nil, err
		}
		opts = append(opts, sync.WithWatcher(watcher))
	}
	if transportClient.Broker != nil {
		opts = append(opts, sync.WithNotifier(transportClient.Broker))
	}

	engine := sync.NewEngine(driver, reconciler, syncState, localStore, sync.EngineConfig{
		MinSyncInterval:   cfg.Sync.MinSyncInterval,
		EnqueueInterval:   cfg.Sync.EnqueueInterval,
		DrainInterval:     cfg.Sync.DrainInterval,
		ReconcileInterval: cfg.Sync.ReconcileInterval,
		Jitter:            cfg.Sync.Jitter,
	}, logger, opts...)

	client := &Client{
		Sync: sync.NewService(engine, transportClient.Remote, identity, logger),
		State: &stateManager{
			store:   stateStore,
			shadows: shadows,
			backend: cfg.Storage.ShadowBackend,
			dir:     cfg.Storage.StateDir,
			logger:  logger,
		},
		config:    cfg,
		logger:    logger,
		transport: transportClient,
		storage:   localStore,
		shadows:   shadows,
		watcher:   watcher,
	}

	return client, nil
}

// Shares returns the current share registry as config entries, reflecting
// shares created or dropped at runtime.
func (c *Client) Shares() []config.ShareConfig {
	status := c.Sync.Status()
	out := make([]config.ShareConfig, len(status.Shares))
	for i, s := range status.Shares {
		out[i] = config.ShareConfig{Folder: s.Folder, Root: s.Root}
	}
	return out
}

// Close releases the watcher, the broker connection and the state store.
func (c *Client) Close() error {
	var errs []error
	if c.watcher != nil {
		errs = append(errs, c.watcher.Close())
	}
	errs = append(errs, c.transport.Close(), c.shadows.Close())
	return errors.Join(errs...)
}

// stateManager implements StateManager interface.
type stateManager struct {
	store   state.Store
	shadows *shadow.Store
	backend string
	dir     string
	logger  *events.Logger
}

func (sm *stateManager) Tracked() []string {
	return sm.shadows.Paths()
}

// Reset clears every persisted shadow and reloads the empty set.
func (sm *stateManager) Reset() error {
	if err := sm.store.Reset(); err != nil {
		return fmt.Errorf("reset state: %w", err)
	}
	return sm.shadows.Load()
}

// Migrate copies every shadow into another backend in the same state
// directory.
func (sm *stateManager) Migrate(backend string) (int, error) {
	if backend == sm.backend {
		return 0, fmt.Errorf("shadows already use the %s backend", backend)
	}

	dst, err := state.Open(backend, sm.dir, sm.logger)
	if err != nil {
		return 0, err
	}
	defer dst.Close()

	return state.Migrate(sm.store, dst)
}
