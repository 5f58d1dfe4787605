package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/TheMichaelB/diffsync/internal/events"
	"github.com/TheMichaelB/diffsync/internal/lock"
	"github.com/TheMichaelB/diffsync/internal/models"
	"github.com/TheMichaelB/diffsync/internal/storage"
	"github.com/TheMichaelB/diffsync/internal/transport"
)

// DriverConfig contains driver configuration.
type DriverConfig struct {
	Identity           models.Identity
	ChecksumRetryDelay time.Duration
}

// Driver runs synchronization rounds for single documents against the
// remote, keeping shadow and live content converged.
type Driver struct {
	remote   transport.Remote
	docs     storage.DocumentStore
	state    *State
	identity models.Identity
	logger   *events.Logger

	checksumRetryDelay time.Duration
}

// NewDriver creates a sync protocol driver.
func NewDriver(
	remote transport.Remote,
	docs storage.DocumentStore,
	state *State,
	config DriverConfig,
	logger *events.Logger,
) *Driver {
	return &Driver{
		remote:             remote,
		docs:               docs,
		state:              state,
		identity:           config.Identity,
		checksumRetryDelay: config.ChecksumRetryDelay,
		logger:             logger.WithField("component", "sync_driver"),
	}
}

// attempt carries the per-round context.
type attempt struct {
	ctx       context.Context
	logger    *events.Logger
	share     models.Share
	docPath   string
	localized string
	lease     lock.Lease
	held      bool
	result    models.SyncResult

	// base and outgoing are the pre-send shadow and the patch of the round.
	base     string
	outgoing string
}

// SyncDocument runs one attempt for docPath. Documents outside every share
// and untracked documents missing locally are skipped; a tracked document
// missing locally is deleted remotely. A held lock returns ErrLockHeld; any
// returned error leaves the document for the next tick.
func (d *Driver) SyncDocument(ctx context.Context, docPath string) (models.SyncResult, error) {
	a, err := d.begin(ctx, docPath)
	if err != nil || !a.held {
		return a.result, err
	}
	defer d.state.Locks.ReleaseLease(a.lease)

	live, err := d.docs.ReadFresh(a.docPath)
	if err != nil {
		if !errors.Is(err, models.ErrDocumentNotFound) {
			return a.result, d.fail(a, "read", err)
		}
		if d.state.Shadows.IsTracked(a.docPath) {
			return d.propagateDelete(a)
		}
		a.logger.Debug("Document missing locally, skipping")
		return a.result, nil
	}

	if !d.state.Shadows.IsTracked(a.docPath) {
		return d.register(a, live)
	}
	return d.exchange(a, live)
}

// begin resolves the share and takes the lock. Out-of-scope documents get
// an attempt that holds no lock.
func (d *Driver) begin(ctx context.Context, docPath string) (*attempt, error) {
	docPath = models.NormalizePath(docPath)

	share, ok := d.state.Shares.Resolve(docPath)
	if !ok {
		d.logger.WithField("path", docPath).Debug("Document outside every share")
		return &attempt{
			result: models.SyncResult{Path: docPath, Outcome: models.OutcomeSkipped},
		}, nil
	}
	localized, _ := share.Localize(docPath)

	requestID := events.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx = events.WithLogger(ctx, d.logger.WithField("path", docPath))
	ctx = events.WithRequestID(ctx, requestID)
	ctx = events.WithRoot(ctx, share.Root)

	a := &attempt{
		ctx:       ctx,
		logger:    events.FromContext(ctx),
		share:     share,
		docPath:   docPath,
		localized: localized,
		result: models.SyncResult{
			Path:    docPath,
			Root:    share.Root,
			Outcome: models.OutcomeSkipped,
		},
	}

	lease, ok := d.state.Locks.AcquireLease(docPath)
	if !ok {
		a.logger.Debug("Sync already in progress")
		return a, fmt.Errorf("%s: %w", docPath, models.ErrLockHeld)
	}
	a.lease, a.held = lease, true

	return a, nil
}

// register uploads an untracked document and adopts the returned shadow.
func (d *Driver) register(a *attempt, live string) (models.SyncResult, error) {
	a.logger.WithField("size", len(live)).Info("Registering document")

	resp, err := d.remote.Register(a.ctx, &models.RegisterRequest{
		Path:     a.localized,
		Root:     a.share.Root,
		Content:  live,
		Identity: d.identity,
	})
	if err != nil {
		return a.result, d.transient(a, "register", err)
	}

	if err := d.checkLease(a); err != nil {
		return a.result, err
	}

	switch {
	case resp.Status == http.StatusOK:
		d.state.Shadows.Create(a.docPath, resp.Content)
		a.result.Outcome = models.OutcomeRegistered
		a.result.Content = resp.Content

		if live == "" && resp.Content != "" {
			if err := d.docs.Write(a.docPath, resp.Content); err != nil {
				return a.result, d.fail(a, "write", err)
			}
			a.result.Written = true
		}

		a.logger.WithField("filled", a.result.Written).Info("Document registered")
		return a.result, nil

	case resp.Status == http.StatusGone,
		resp.Status == http.StatusConflict && models.SignalsFileDeleted(resp.Content):
		return d.removeLocal(a)

	case resp.Status == http.StatusNotFound && models.SignalsRootMissing(resp.Content):
		return d.dropShare(a)

	default:
		return a.result, d.fail(a, "register", &models.APIError{
			Endpoint:   models.EndpointRegister,
			StatusCode: resp.Status,
			Message:    resp.Content,
			RequestID:  events.GetRequestID(a.ctx),
		})
	}
}

// exchange runs one patch round for a tracked document.
func (d *Driver) exchange(a *attempt, live string) (models.SyncResult, error) {
	checksum, err := d.state.Shadows.Checksum(a.docPath)
	if err != nil {
		return a.result, d.fail(a, "checksum", err)
	}

	entry, _ := d.state.Shadows.Get(a.docPath)
	outgoing, err := d.state.Shadows.ComputeOutgoingPatch(a.docPath, live)
	if err != nil {
		return a.result, d.fail(a, "diff", err)
	}
	a.base, a.outgoing = entry.Content, outgoing

	a.logger.WithFields(map[string]interface{}{
		"checksum":   checksum,
		"patch_size": len(outgoing),
	}).Debug("Sending patch")

	resp, err := d.remote.Patch(a.ctx, &models.PatchRequest{
		Path:     a.localized,
		Checksum: checksum,
		Patch:    outgoing,
		Root:     a.share.Root,
		Identity: d.identity,
	})
	if err != nil {
		return a.result, d.transient(a, "patch", err)
	}

	if err := d.checkLease(a); err != nil {
		return a.result, err
	}

	switch resp.Status {
	case http.StatusOK:
		return d.accept(a, checksum, resp)

	case http.StatusConflict:
		if models.SignalsFileDeleted(resp.Content) {
			return d.removeLocal(a)
		}
		return d.adopt(a, resp.Content)

	case http.StatusNotFound:
		if models.SignalsRootMissing(resp.Content) {
			return d.dropShare(a)
		}
		d.state.Shadows.Remove(a.docPath)
		a.result.Outcome = models.OutcomeRemoteDeleted
		a.logger.Info("Document unknown remotely, shadow purged")
		return a.result, nil

	case http.StatusGone:
		return d.removeLocal(a)

	default:
		err := models.NewStatusError(a.docPath, resp.Status, resp.Content)
		a.logger.WithError(err).Warn("Patch rejected")
		return a.result, err
	}
}

// accept handles a 200 response.
func (d *Driver) accept(a *attempt, sent string, resp *models.PatchResponse) (models.SyncResult, error) {
	if resp.Checksum != sent {
		a.result.Outcome = models.OutcomeChecksumMismatch
		a.logger.WithFields(map[string]interface{}{
			"sent":     sent,
			"received": resp.Checksum,
		}).Info("Checksum diverged, skipping round")

		if d.checksumRetryDelay > 0 {
			d.state.Queue.Enqueue(a.docPath, d.checksumRetryDelay)
		}
		return a.result, nil
	}

	a.result.Outcome = models.OutcomeConverged

	if a.outgoing != "" && (resp.Patch == a.outgoing || d.state.Shadows.Echoes(a.docPath, a.base, resp.Patch)) {
		a.logger.Debug("Remote echoed the outgoing edit, round converged")
		return a.result, nil
	}

	// Re-read: the document may have changed during the round trip.
	live, err := d.docs.ReadFresh(a.docPath)
	if err != nil {
		if errors.Is(err, models.ErrDocumentNotFound) {
			return a.result, nil
		}
		return a.result, d.fail(a, "read", err)
	}

	patched, err := d.state.Shadows.ApplyIncomingPatch(a.docPath, live, resp.Patch)
	if err != nil {
		return a.result, d.fail(a, "apply", err)
	}

	if resp.Patch != "" && patched != live {
		if err := d.docs.Write(a.docPath, patched); err != nil {
			return a.result, d.fail(a, "write", err)
		}
		a.result.Written = true
	}

	a.logger.WithField("written", a.result.Written).Debug("Round converged")
	return a.result, nil
}

// adopt overwrites shadow and live content with the remote's.
func (d *Driver) adopt(a *attempt, content string) (models.SyncResult, error) {
	d.state.Shadows.Update(a.docPath, content)
	if err := d.docs.Write(a.docPath, content); err != nil {
		return a.result, d.fail(a, "write", err)
	}

	a.result.Outcome = models.OutcomeConflict
	a.result.Content = content
	a.result.Written = true

	a.logger.WithField("size", len(content)).Info("Conflict resolved with remote content")
	return a.result, nil
}

// removeLocal deletes the document and forgets it.
func (d *Driver) removeLocal(a *attempt) (models.SyncResult, error) {
	if err := d.docs.Delete(a.docPath); err != nil {
		return a.result, d.fail(a, "delete", err)
	}
	d.state.Shadows.Remove(a.docPath)
	d.state.Queue.Remove(a.docPath)

	a.result.Outcome = models.OutcomeRemoteDeleted
	a.result.Deleted = true

	a.logger.Info("Document deleted remotely, removed local copy")
	return a.result, nil
}

// dropShare forgets the namespace of the attempt.
func (d *Driver) dropShare(a *attempt) (models.SyncResult, error) {
	purged := d.state.DropShare(a.share.Root)
	a.result.Outcome = models.OutcomeRootMissing

	a.logger.WithFields(map[string]interface{}{
		"folder": a.share.Folder,
		"purged": purged,
	}).Warn("Root no longer exists, share removed")
	return a.result, nil
}

// DeleteDocument propagates a local deletion of a tracked document to the
// remote and purges its shadow. Untracked documents are skipped.
func (d *Driver) DeleteDocument(ctx context.Context, docPath string) (models.SyncResult, error) {
	a, err := d.begin(ctx, docPath)
	if err != nil || !a.held {
		return a.result, err
	}
	defer d.state.Locks.ReleaseLease(a.lease)

	if !d.state.Shadows.IsTracked(a.docPath) {
		return a.result, nil
	}
	return d.propagateDelete(a)
}

// propagateDelete calls the remote delete under the attempt's lease and
// forgets the document.
func (d *Driver) propagateDelete(a *attempt) (models.SyncResult, error) {
	a.logger.Info("Deleting document remotely")

	resp, err := d.remote.Delete(a.ctx, &models.DeleteRequest{
		Path:     a.localized,
		Root:     a.share.Root,
		Identity: d.identity,
	})
	if err != nil {
		return a.result, d.transient(a, "delete", err)
	}

	if err := d.checkLease(a); err != nil {
		return a.result, err
	}

	switch {
	case resp.Status == http.StatusOK, resp.Status == http.StatusNotFound, resp.Status == http.StatusGone:
		d.state.Shadows.Remove(a.docPath)
		d.state.Queue.Remove(a.docPath)
		a.result.Outcome = models.OutcomeRemoteDeleted
		a.result.Deleted = true
		return a.result, nil

	default:
		return a.result, d.fail(a, "delete", &models.APIError{
			Endpoint:   models.EndpointDelete,
			StatusCode: resp.Status,
			RequestID:  events.GetRequestID(a.ctx),
		})
	}
}

func (d *Driver) checkLease(a *attempt) error {
	if d.state.Locks.Holds(a.lease) {
		return nil
	}
	a.logger.WithField("generation", a.lease.Generation).Warn("Lease reclaimed during round, discarding response")
	return fmt.Errorf("%s: %w", a.docPath, models.ErrStaleLease)
}

// transient wraps a failed exchange for the scheduler to retry.
func (d *Driver) transient(a *attempt, phase string, err error) error {
	te := &models.TransientError{Path: a.docPath, Err: err}

	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		te.StatusCode = apiErr.StatusCode
	}

	a.logger.WithError(err).WithField("phase", phase).Warn("Remote exchange failed")
	return &models.SyncError{Phase: phase, Root: a.share.Root, Path: a.docPath, Err: te}
}

func (d *Driver) fail(a *attempt, phase string, err error) error {
	return &models.SyncError{Phase: phase, Root: a.share.Root, Path: a.docPath, Err: err}
}
