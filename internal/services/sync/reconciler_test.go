package sync_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/diffsync/internal/models"
	"github.com/TheMichaelB/diffsync/internal/services/sync"
)

func newReconciler(h *harness) *sync.Reconciler {
	return sync.NewReconciler(h.remote, h.docs, h.state, identity, h.logger)
}

func TestReconcileShareAppliesManifest(t *testing.T) {
	h := newHarness(t)
	h.docs.SetFile("notes/a.md", "keep me")
	h.docs.SetFile("notes/sub/c.md", "doomed")
	h.state.Shadows.Create("notes/sub/c.md", "doomed")
	require.NoError(t, h.docs.CreateFolder("notes"))

	h.remote.RootFunc = func(req *models.RootRequest) (*models.RootResponse, error) {
		assert.Equal(t, "root-1", req.Root)
		assert.Equal(t, identity, req.Identity)
		return &models.RootResponse{
			Status: http.StatusOK,
			Root:   req.Root,
			Tree:   []string{"a.md", "sub/dir/b.md", "sub/.deleted~c.md", ".deleted~never.md"},
		}, nil
	}

	share, _ := h.state.Shares.Get("root-1")
	report, err := newReconciler(h).ReconcileShare(context.Background(), share)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Entries)
	assert.Equal(t, []string{"notes/sub/dir/b.md"}, report.Created)
	assert.Equal(t, []string{"notes/sub/c.md"}, report.Deleted)

	assert.Equal(t, "keep me", h.docs.Content("notes/a.md"))
	assert.Equal(t, 0, h.docs.Writes("notes/a.md"))

	assert.True(t, h.docs.FileExists("notes/sub/dir/b.md"))
	assert.Equal(t, "", h.docs.Content("notes/sub/dir/b.md"))
	assert.True(t, h.docs.FolderExists("notes/sub"))
	assert.True(t, h.docs.FolderExists("notes/sub/dir"))
	assert.True(t, h.state.Queue.Pending("notes/sub/dir/b.md"))

	assert.False(t, h.docs.FileExists("notes/sub/c.md"))
	assert.False(t, h.state.Shadows.IsTracked("notes/sub/c.md"))
	assert.False(t, h.docs.FileExists("notes/never.md"))
}

func TestReconcileCreatedDocumentIsFilledByNextRound(t *testing.T) {
	h := newHarness(t)
	h.remote.RootFunc = func(req *models.RootRequest) (*models.RootResponse, error) {
		return &models.RootResponse{Status: http.StatusOK, Root: req.Root, Tree: []string{"remote.md"}}, nil
	}
	h.remote.RegisterFunc = func(req *models.RegisterRequest) (*models.RegisterResponse, error) {
		assert.Equal(t, "", req.Content)
		return &models.RegisterResponse{Status: http.StatusOK, Content: "from the server"}, nil
	}

	_, err := newReconciler(h).ReconcileAll(context.Background())
	require.NoError(t, err)

	path, ok := h.state.Queue.PopNextVisible()
	require.True(t, ok)

	result, err := h.driver.SyncDocument(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRegistered, result.Outcome)
	assert.Equal(t, "from the server", h.docs.Content("notes/remote.md"))
}

func TestReconcileSkipsBusyTombstone(t *testing.T) {
	h := newHarness(t)
	h.docs.SetFile("notes/c.md", "in flight")
	require.True(t, h.state.Locks.Acquire("notes/c.md"))

	h.remote.RootFunc = func(req *models.RootRequest) (*models.RootResponse, error) {
		return &models.RootResponse{Status: http.StatusOK, Tree: []string{".deleted~c.md"}}, nil
	}

	reports, err := newReconciler(h).ReconcileAll(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Empty(t, reports[0].Deleted)
	assert.True(t, h.docs.FileExists("notes/c.md"))
}

func TestReconcileRootMissing(t *testing.T) {
	h := newHarness(t)
	h.track("notes/a.md", "a", "a")
	h.state.Queue.Enqueue("notes/a.md", time.Minute)
	h.state.Queue.Enqueue("notes/new.md", time.Minute)
	h.remote.RootFunc = func(req *models.RootRequest) (*models.RootResponse, error) {
		return &models.RootResponse{Status: http.StatusNotFound, Content: "Root does not exist"}, nil
	}

	reports, err := newReconciler(h).ReconcileAll(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Dropped)
	assert.Equal(t, 1, reports[0].Purged)
	assert.Equal(t, 0, h.state.Shares.Len())

	assert.Empty(t, h.state.Shadows.Paths())
	assert.Equal(t, 0, h.state.Queue.Len())
	assert.True(t, h.docs.FileExists("notes/a.md"), "local documents are kept")
}

func TestReconcileDoesNotRecreateTrackedDocuments(t *testing.T) {
	h := newHarness(t)
	h.state.Shadows.Create("notes/a.md", "Hello")

	h.remote.RootFunc = func(req *models.RootRequest) (*models.RootResponse, error) {
		return &models.RootResponse{Status: http.StatusOK, Tree: []string{"a.md", "b.md"}}, nil
	}

	reports, err := newReconciler(h).ReconcileAll(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)

	assert.Equal(t, []string{"notes/b.md"}, reports[0].Created)
	assert.False(t, h.docs.FileExists("notes/a.md"))
	assert.True(t, h.state.Queue.Pending("notes/a.md"))
	assert.True(t, h.state.Shadows.IsTracked("notes/a.md"))
}

func TestReconcileAllContinuesPastFailures(t *testing.T) {
	h := newHarness(t)
	h.state.Shares.Add(models.NewShare("projects", "root-2"))

	h.remote.RootFunc = func(req *models.RootRequest) (*models.RootResponse, error) {
		if req.Root == "root-1" {
			return &models.RootResponse{Status: http.StatusInternalServerError, Content: "boom"}, nil
		}
		return &models.RootResponse{Status: http.StatusOK, Tree: []string{"x.md"}}, nil
	}

	reports, err := newReconciler(h).ReconcileAll(context.Background())
	require.Error(t, err)

	var apiErr *models.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, models.EndpointRoot, apiErr.Endpoint)

	require.Len(t, reports, 1)
	assert.Equal(t, "root-2", reports[0].Root)
	assert.True(t, h.docs.FileExists("projects/x.md"))
}
