package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http2"

	"github.com/TheMichaelB/diffsync/internal/config"
	"github.com/TheMichaelB/diffsync/internal/events"
	"github.com/TheMichaelB/diffsync/internal/models"
)

// HTTPClient talks to the Remote Sync Service over JSON POSTs.
type HTTPClient struct {
	client    *http.Client
	baseURL   string
	userAgent string
	logger    *events.Logger

	// Retry configuration
	maxRetries int
	retryDelay time.Duration
}

// NewHTTPClient creates an HTTP client.
func NewHTTPClient(cfg *config.APIConfig, logger *events.Logger) *HTTPClient {
	// Create transport with HTTP/2 support
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Second,
		logger:     logger.WithField("component", "http_client"),
	}
}

// Register uploads an untracked document.
func (c *HTTPClient) Register(ctx context.Context, req *models.RegisterRequest) (*models.RegisterResponse, error) {
	var resp models.RegisterResponse
	if err := c.postJSON(ctx, models.EndpointRegister, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Patch runs one differential round.
func (c *HTTPClient) Patch(ctx context.Context, req *models.PatchRequest) (*models.PatchResponse, error) {
	var resp models.PatchResponse
	if err := c.postJSON(ctx, models.EndpointPatch, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Delete removes a document remotely.
func (c *HTTPClient) Delete(ctx context.Context, req *models.DeleteRequest) (*models.DeleteResponse, error) {
	var resp models.DeleteResponse
	if err := c.postJSON(ctx, models.EndpointDelete, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Root registers a namespace or fetches its manifest.
func (c *HTTPClient) Root(ctx context.Context, req *models.RootRequest) (*models.RootResponse, error) {
	var resp models.RootResponse
	if err := c.postJSON(ctx, models.EndpointRoot, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// postJSON sends payload and decodes the reply into out. Non-2xx replies
// that are not retryable are still decoded; a body that is not JSON becomes
// the response content so deletion and root-missing markers survive.
func (c *HTTPClient) postJSON(ctx context.Context, endpoint string, payload interface{}, out models.Statused) error {
	url := c.baseURL + endpoint

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	requestID := events.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	logger := c.logger.WithFields(map[string]interface{}{
		"endpoint":   endpoint,
		"request_id": requestID,
	})
	logger.WithField("size", len(body)).Debug("Sending request")

	var (
		status   int
		respBody []byte
	)
	err = c.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("X-Request-ID", requestID)

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if c.isRetryable(resp.StatusCode) {
			return &models.APIError{
				Endpoint:   endpoint,
				StatusCode: resp.StatusCode,
				Message:    strings.TrimSpace(string(data)),
				RequestID:  requestID,
			}
		}

		status, respBody = resp.StatusCode, data
		return nil
	})
	if err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"status": status,
		"size":   len(respBody),
	}).Debug("Received response")

	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			if status == http.StatusOK {
				return fmt.Errorf("parse response: %w", err)
			}
			setRawContent(out, string(respBody))
		}
	}

	if out.StatusCode() == 0 {
		out.SetStatusCode(status)
	}

	return nil
}

// setRawContent stores an undecodable error body as response content.
func setRawContent(out models.Statused, raw string) {
	raw = strings.TrimSpace(raw)
	switch r := out.(type) {
	case *models.RegisterResponse:
		r.Content = raw
	case *models.PatchResponse:
		r.Content = raw
	case *models.RootResponse:
		r.Content = raw
	}
}

// retry executes a function with exponential backoff.
func (c *HTTPClient) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := c.retryDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(map[string]interface{}{
				"attempt": attempt,
				"delay":   delay,
			}).Debug("Retrying request")

			select {
			case <-time.After(delay):
				delay *= 2 // Exponential backoff
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !c.isRetryableError(ctx, err) {
			return err
		}
	}

	if c.maxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryable checks if an HTTP status code is retryable.
func (c *HTTPClient) isRetryable(status int) bool {
	return status == http.StatusTooManyRequests ||
		(status >= 500 && status < 600)
}

// isRetryableError checks if an error is retryable. Cancellation is final.
func (c *HTTPClient) isRetryableError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
