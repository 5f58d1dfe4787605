package client

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/diffsync/internal/config"
	"github.com/TheMichaelB/diffsync/internal/events"
	"github.com/TheMichaelB/diffsync/internal/state"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Auth.UserID = "user-1"
	cfg.Auth.SecretKey = "secret"
	cfg.Storage.VaultDir = t.TempDir()
	cfg.Storage.StateDir = t.TempDir()
	cfg.Sync.Watch = false
	cfg.Sync.Shares = []config.ShareConfig{{Folder: "notes", Root: "root-1"}}
	return cfg
}

func testLogger() *events.Logger {
	return events.NewTestLogger(events.DebugLevel, "text", &bytes.Buffer{})
}

func newTestClient(t *testing.T, cfg *config.Config) *Client {
	t.Helper()

	logger := testLogger()
	c, err := New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func seedShadows(t *testing.T, cfg *config.Config, shadows map[string]string) {
	t.Helper()

	store, err := state.Open(cfg.Storage.ShadowBackend, cfg.Storage.StateDir, testLogger())
	require.NoError(t, err)
	for path, content := range shadows {
		require.NoError(t, store.Put(path, content))
	}
	require.NoError(t, store.Close())
}

func TestNewLoadsPersistedShadows(t *testing.T) {
	cfg := testConfig(t)
	seedShadows(t, cfg, map[string]string{
		"notes/b.md": "b",
		"notes/a.md": "a",
	})

	c := newTestClient(t, cfg)

	assert.Equal(t, []string{"notes/a.md", "notes/b.md"}, c.State.Tracked())
	assert.Equal(t, []config.ShareConfig{{Folder: "notes", Root: "root-1"}}, c.Shares())

	status := c.Sync.Status()
	assert.Equal(t, 0, status.Pending)
	assert.Len(t, status.Tracked, 2)
}

func TestStateReset(t *testing.T) {
	cfg := testConfig(t)
	seedShadows(t, cfg, map[string]string{"notes/a.md": "a"})

	c := newTestClient(t, cfg)
	require.Len(t, c.State.Tracked(), 1)

	require.NoError(t, c.State.Reset())
	assert.Empty(t, c.State.Tracked())
}

func TestStateMigrate(t *testing.T) {
	cfg := testConfig(t)
	seedShadows(t, cfg, map[string]string{
		"notes/a.md": "alpha",
		"notes/b.md": "beta",
	})

	c := newTestClient(t, cfg)

	_, err := c.State.Migrate(cfg.Storage.ShadowBackend)
	assert.Error(t, err)

	n, err := c.State.Migrate("bolt")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dst, err := state.Open("bolt", cfg.Storage.StateDir, testLogger())
	require.NoError(t, err)
	defer dst.Close()

	loaded, err := dst.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"notes/a.md": "alpha", "notes/b.md": "beta"}, loaded)
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.ShadowBackend = "etcd"

	_, err := New(cfg, testLogger())
	assert.Error(t, err)
}
