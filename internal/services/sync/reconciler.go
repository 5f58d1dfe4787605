package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/TheMichaelB/diffsync/internal/events"
	"github.com/TheMichaelB/diffsync/internal/models"
	"github.com/TheMichaelB/diffsync/internal/storage"
	"github.com/TheMichaelB/diffsync/internal/transport"
)

// ReconcileReport summarizes one manifest pass for a share.
type ReconcileReport struct {
	Root    string   `json:"root"`
	Folder  string   `json:"folder"`
	Entries int      `json:"entries"`
	Created []string `json:"created,omitempty"`
	Deleted []string `json:"deleted,omitempty"`
	Dropped bool     `json:"dropped,omitempty"`
	Purged  int      `json:"purged,omitempty"`
}

// Reconciler converges the local tree towards each share's remote manifest.
// It only creates missing documents and deletes tombstoned ones.
type Reconciler struct {
	remote   transport.Remote
	docs     storage.DocumentStore
	state    *State
	identity models.Identity
	logger   *events.Logger
}

// NewReconciler creates a root reconciler.
func NewReconciler(
	remote transport.Remote,
	docs storage.DocumentStore,
	state *State,
	identity models.Identity,
	logger *events.Logger,
) *Reconciler {
	return &Reconciler{
		remote:   remote,
		docs:     docs,
		state:    state,
		identity: identity,
		logger:   logger.WithField("component", "reconciler"),
	}
}

// ReconcileAll runs a pass for every share. A failing share does not stop
// the others; the joined error is returned with the reports gathered.
func (r *Reconciler) ReconcileAll(ctx context.Context) ([]ReconcileReport, error) {
	var (
		reports []ReconcileReport
		errs    []error
	)

	for _, share := range r.state.Shares.List() {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		report, err := r.ReconcileShare(ctx, share)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		reports = append(reports, report)
	}

	return reports, errors.Join(errs...)
}

// ReconcileShare fetches the manifest of share and applies it locally.
func (r *Reconciler) ReconcileShare(ctx context.Context, share models.Share) (ReconcileReport, error) {
	ctx = events.WithRoot(events.WithLogger(ctx, r.logger), share.Root)
	logger := events.FromContext(ctx)

	report := ReconcileReport{Root: share.Root, Folder: share.Folder}

	resp, err := r.remote.Root(ctx, &models.RootRequest{Root: share.Root, Identity: r.identity})
	if err != nil {
		return report, &models.SyncError{Phase: "manifest", Root: share.Root, Err: &models.TransientError{Err: err}}
	}

	switch {
	case resp.Status == http.StatusOK:
	case resp.Status == http.StatusNotFound && models.SignalsRootMissing(resp.Content):
		report.Purged = r.state.DropShare(share.Root)
		report.Dropped = true
		logger.WithFields(map[string]interface{}{
			"folder": share.Folder,
			"purged": report.Purged,
		}).Warn("Root no longer exists, share removed")
		return report, nil
	default:
		return report, &models.SyncError{Phase: "manifest", Root: share.Root, Err: &models.APIError{
			Endpoint:   models.EndpointRoot,
			StatusCode: resp.Status,
			Message:    resp.Content,
		}}
	}

	report.Entries = len(resp.Tree)

	for _, entry := range resp.Tree {
		if real, ok := models.ParseTombstone(entry); ok {
			docPath := share.Delocalize(real)
			deleted, err := r.applyTombstone(docPath)
			if err != nil {
				return report, &models.SyncError{Phase: "reconcile", Root: share.Root, Path: docPath, Err: err}
			}
			if deleted {
				report.Deleted = append(report.Deleted, docPath)
			}
			continue
		}

		docPath := share.Delocalize(entry)
		created, err := r.materialize(docPath)
		if err != nil {
			return report, &models.SyncError{Phase: "reconcile", Root: share.Root, Path: docPath, Err: err}
		}
		if created {
			report.Created = append(report.Created, docPath)
		}
	}

	logger.WithFields(map[string]interface{}{
		"entries": report.Entries,
		"created": len(report.Created),
		"deleted": len(report.Deleted),
	}).Debug("Manifest reconciled")

	return report, nil
}

// applyTombstone deletes docPath if it is present locally. A document with
// a sync in flight is left for the next pass.
func (r *Reconciler) applyTombstone(docPath string) (bool, error) {
	exists, err := r.docs.Exists(docPath)
	if err != nil {
		return false, fmt.Errorf("check document: %w", err)
	}
	if !exists {
		return false, nil
	}

	lease, ok := r.state.Locks.AcquireLease(docPath)
	if !ok {
		r.logger.WithField("path", docPath).Debug("Tombstoned document busy, deferring")
		return false, nil
	}
	defer r.state.Locks.ReleaseLease(lease)

	if err := r.docs.Delete(docPath); err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	r.state.Shadows.Remove(docPath)
	r.state.Queue.Remove(docPath)

	r.logger.WithField("path", docPath).Info("Deleted tombstoned document")
	return true, nil
}

// materialize creates an empty docPath, with its folders, when absent, and
// schedules it so the next round fills it. A tracked document that is absent
// was deleted locally; it is scheduled so the next round deletes it remotely.
func (r *Reconciler) materialize(docPath string) (bool, error) {
	exists, err := r.docs.Exists(docPath)
	if err != nil {
		return false, fmt.Errorf("check document: %w", err)
	}
	if exists {
		return false, nil
	}

	if r.state.Shadows.IsTracked(docPath) {
		r.state.Queue.Enqueue(docPath, 0)
		r.logger.WithField("path", docPath).Debug("Tracked document deleted locally, not recreating")
		return false, nil
	}

	for _, dir := range storage.Parents(docPath) {
		if err := r.docs.CreateFolder(dir); err != nil && !errors.Is(err, fs.ErrExist) {
			return false, fmt.Errorf("create folder %s: %w", dir, err)
		}
	}

	if err := r.docs.Write(docPath, ""); err != nil {
		return false, fmt.Errorf("create document: %w", err)
	}
	r.state.Queue.Enqueue(docPath, 0)

	r.logger.WithField("path", docPath).Info("Created document from manifest")
	return true, nil
}
