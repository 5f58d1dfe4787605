package transport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/diffsync/internal/config"
	"github.com/TheMichaelB/diffsync/internal/events"
	"github.com/TheMichaelB/diffsync/internal/models"
	"github.com/TheMichaelB/diffsync/internal/transport"
)

func newClient(t *testing.T, url string, retries int) *transport.HTTPClient {
	t.Helper()
	cfg := &config.APIConfig{
		BaseURL:    url,
		Timeout:    5 * time.Second,
		MaxRetries: retries,
		UserAgent:  "test",
	}

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	return transport.NewHTTPClient(cfg, logger)
}

func TestHTTPClientPatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, models.EndpointPatch, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "req-42", r.Header.Get("X-Request-ID"))

		var req models.PatchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "notes/a.md", req.Path)
		assert.Equal(t, "root-1", req.Root)
		assert.Equal(t, "user", req.UserID)
		assert.Equal(t, "secret", req.SecretKey)

		_ = json.NewEncoder(w).Encode(models.PatchResponse{
			Status:   200,
			Patch:    "",
			Checksum: req.Checksum,
		})
	}))
	defer server.Close()

	client := newClient(t, server.URL, 0)
	ctx := events.WithRequestID(context.Background(), "req-42")

	resp, err := client.Patch(ctx, &models.PatchRequest{
		Path:     "notes/a.md",
		Checksum: "abc",
		Root:     "root-1",
		Identity: models.Identity{UserID: "user", SecretKey: "secret"},
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "abc", resp.Checksum)
}

func TestHTTPClientStatusDefaultsFromHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"content":"Hello there"}`))
	}))
	defer server.Close()

	resp, err := newClient(t, server.URL, 0).Patch(context.Background(), &models.PatchRequest{Path: "a.md"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.Status)
	assert.Equal(t, "Hello there", resp.Content)
}

func TestHTTPClientBodyStatusWins(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":404,"content":"Root does not exist"}`))
	}))
	defer server.Close()

	resp, err := newClient(t, server.URL, 0).Patch(context.Background(), &models.PatchRequest{Path: "a.md"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.True(t, models.SignalsRootMissing(resp.Content))
}

func TestHTTPClientPlainTextErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte("File is deleted\n"))
	}))
	defer server.Close()

	resp, err := newClient(t, server.URL, 0).Register(context.Background(), &models.RegisterRequest{Path: "a.md"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.Status)
	assert.Equal(t, "File is deleted", resp.Content)
}

func TestHTTPClientInvalidJSONOn200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	_, err := newClient(t, server.URL, 0).Root(context.Background(), &models.RootRequest{Root: "r"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse response")
}

func TestHTTPClientServerErrorIsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	_, err := newClient(t, server.URL, 0).Delete(context.Background(), &models.DeleteRequest{Path: "a.md"})
	require.Error(t, err)

	var apiErr *models.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, models.EndpointDelete, apiErr.Endpoint)
	assert.Equal(t, "upstream down", apiErr.Message)
	assert.NotEmpty(t, apiErr.RequestID)
}

func TestHTTPClientRetry(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":200,"root":"new-root","tree":[]}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL, 3)

	resp, err := client.Root(context.Background(), &models.RootRequest{})
	require.NoError(t, err)
	assert.Equal(t, "new-root", resp.Root)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestHTTPClientRootManifest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make(map[string]interface{})
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "root-1", body["root"])

		_, _ = w.Write([]byte(`{"status":200,"root":"root-1","tree":["a.md","dir/.deleted~b.md"]}`))
	}))
	defer server.Close()

	resp, err := newClient(t, server.URL, 0).Root(context.Background(), &models.RootRequest{Root: "root-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md", "dir/.deleted~b.md"}, resp.Tree)
}

func TestRootRequestOmitsEmptyRoot(t *testing.T) {
	data, err := json.Marshal(models.RootRequest{Identity: models.Identity{UserID: "u"}})
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"root"`)
	assert.Contains(t, string(data), `"userId":"u"`)
}

func TestHTTPClientNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newClient(t, url, 0).Patch(context.Background(), &models.PatchRequest{Path: "a.md"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execute request")
}

func TestBrokerSubscribe(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "user", r.Header.Get("X-User-Id"))

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var sub map[string]interface{}
		require.NoError(t, conn.ReadJSON(&sub))
		assert.Equal(t, "subscribe", sub["op"])
		assert.Equal(t, []interface{}{"root-1"}, sub["roots"])
		assert.Equal(t, "secret", sub["secretKey"])

		require.NoError(t, conn.WriteJSON(transport.Notification{Root: "root-1", Path: "a.md"}))
		require.NoError(t, conn.WriteJSON(map[string]string{"root": "root-1"}))
		require.NoError(t, conn.WriteJSON(transport.Notification{Root: "root-1", Path: "b.md"}))

		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer server.Close()

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	broker := transport.NewBrokerClient(server.URL, models.Identity{UserID: "user", SecretKey: "secret"}, logger)
	defer broker.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := broker.Subscribe(ctx, []string{"root-1"})
	require.NoError(t, err)

	var got []transport.Notification
	for n := range ch {
		got = append(got, n)
	}

	assert.Equal(t, []transport.Notification{
		{Root: "root-1", Path: "a.md"},
		{Root: "root-1", Path: "b.md"},
	}, got)
}

func TestBrokerConnectFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	var buf bytes.Buffer
	broker := transport.NewBrokerClient(server.URL, models.Identity{}, events.NewTestLogger(events.DebugLevel, "json", &buf))

	_, err := broker.Subscribe(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "HTTP 403"))
}

func TestNewTransport(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	cfg := config.DefaultConfig().API
	tr := transport.New(&cfg, models.Identity{}, logger)
	assert.NotNil(t, tr.Remote)
	assert.Nil(t, tr.Broker)
	assert.NoError(t, tr.Close())

	cfg.BrokerURL = "http://localhost:9999/ws"
	tr = transport.New(&cfg, models.Identity{}, logger)
	assert.NotNil(t, tr.Broker)
	assert.NoError(t, tr.Close())
}

func TestMockTransportDefaults(t *testing.T) {
	m := transport.NewMockTransport()
	var _ transport.Remote = m
	var _ transport.Notifier = m

	resp, err := m.Patch(context.Background(), &models.PatchRequest{Path: "a.md", Checksum: "c"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "c", resp.Checksum)
	assert.Equal(t, 1, m.PatchCount())

	reg, err := m.Register(context.Background(), &models.RegisterRequest{Path: "a.md", Content: "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", reg.Content)
	assert.Equal(t, 1, m.RegisterCount())
}

func TestBrokerResubscribeAfterStreamEnds(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var connections int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		atomic.AddInt32(&connections, 1)

		var sub map[string]interface{}
		require.NoError(t, conn.ReadJSON(&sub))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer server.Close()

	var buf bytes.Buffer
	broker := transport.NewBrokerClient(server.URL, models.Identity{UserID: "user"}, events.NewTestLogger(events.DebugLevel, "json", &buf))
	defer broker.Close()

	for i := 0; i < 2; i++ {
		ch, err := broker.Subscribe(context.Background(), []string{"root-1"})
		require.NoError(t, err)
		for range ch {
		}
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&connections))

	require.NoError(t, broker.Close())
	_, err := broker.Subscribe(context.Background(), nil)
	assert.Error(t, err)
}

func TestBrokerSubscriptionEndsWithContext(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var connections int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		atomic.AddInt32(&connections, 1)

		// Hold the stream open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	var buf bytes.Buffer
	broker := transport.NewBrokerClient(server.URL, models.Identity{UserID: "user"}, events.NewTestLogger(events.DebugLevel, "json", &buf))
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := broker.Subscribe(ctx, []string{"root-1"})
	require.NoError(t, err)

	cancel()

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after cancellation")
	}

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	_, err = broker.Subscribe(ctx2, []string{"root-1"})
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&connections) == 2
	}, time.Second, 10*time.Millisecond)
}
