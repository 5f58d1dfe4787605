package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/TheMichaelB/diffsync/internal/events"
	"github.com/TheMichaelB/diffsync/internal/models"
	"github.com/TheMichaelB/diffsync/internal/transport"
)

// Service provides high-level sync operations.
type Service struct {
	engine   *Engine
	remote   transport.Remote
	identity models.Identity
	logger   *events.Logger
}

// Status is a snapshot of the engine state.
type Status struct {
	Shares  []models.Share `json:"shares"`
	Tracked []string       `json:"tracked"`
	Pending int            `json:"pending"`
	Locks   int            `json:"locks"`
}

// NewService creates a sync service.
func NewService(engine *Engine, remote transport.Remote, identity models.Identity, logger *events.Logger) *Service {
	return &Service{
		engine:   engine,
		remote:   remote,
		identity: identity,
		logger:   logger.WithField("service", "sync"),
	}
}

// Run starts the engine and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	return s.engine.Run(ctx)
}

// SyncPath runs one attempt for a document now.
func (s *Service) SyncPath(ctx context.Context, docPath string) (models.SyncResult, error) {
	if _, ok := s.engine.State().Shares.Resolve(docPath); !ok {
		return models.SyncResult{Path: docPath, Outcome: models.OutcomeSkipped},
			fmt.Errorf("%s: %w", docPath, models.ErrOutOfScope)
	}
	return s.engine.HandleOpen(ctx, docPath)
}

// ReconcileAll runs one manifest pass for every share.
func (s *Service) ReconcileAll(ctx context.Context) ([]ReconcileReport, error) {
	return s.engine.Reconcile(ctx)
}

// CreateShare registers a new remote namespace for folder and adds the
// share to the registry.
func (s *Service) CreateShare(ctx context.Context, folder string) (models.Share, error) {
	folder = models.NormalizePath(folder)
	if folder == "" {
		return models.Share{}, errors.New("share folder must not be the vault root")
	}

	for _, existing := range s.engine.State().Shares.List() {
		if existing.Folder == folder {
			return existing, fmt.Errorf("folder %s already shared as %s", folder, existing.Root)
		}
	}

	resp, err := s.remote.Root(ctx, &models.RootRequest{Identity: s.identity})
	if err != nil {
		return models.Share{}, &models.TransientError{Path: folder, Err: err}
	}
	if resp.Status != http.StatusOK {
		return models.Share{}, &models.APIError{
			Endpoint:   models.EndpointRoot,
			StatusCode: resp.Status,
			Message:    resp.Content,
		}
	}
	if resp.Root == "" {
		return models.Share{}, errors.New("remote returned an empty root identifier")
	}

	share := models.NewShare(folder, resp.Root)
	s.engine.State().Shares.Add(share)

	s.logger.WithFields(map[string]interface{}{
		"folder": share.Folder,
		"root":   share.Root,
	}).Info("Share created")

	return share, nil
}

// Status returns the current shares, tracked documents and queue depth.
func (s *Service) Status() Status {
	st := s.engine.State()
	return Status{
		Shares:  st.Shares.List(),
		Tracked: st.Shadows.Paths(),
		Pending: st.Queue.Len(),
		Locks:   st.Locks.Held(),
	}
}

// Events returns the event channel.
func (s *Service) Events() <-chan Event {
	return s.engine.Events()
}

// Stop stops a running engine.
func (s *Service) Stop() {
	s.engine.Stop()
}
