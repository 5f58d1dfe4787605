package events_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/diffsync/internal/events"
)

func TestFromContext(t *testing.T) {
	logger := events.FromContext(context.Background())
	assert.NotNil(t, logger)
}

func TestWithLogger(t *testing.T) {
	logger := &events.Logger{}

	ctx := events.WithLogger(context.Background(), logger)
	assert.Equal(t, logger, events.FromContext(ctx))
}

func TestWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	ctx := events.WithLogger(context.Background(), events.NewTestLogger(events.InfoLevel, "json", &buf))

	ctx = events.WithRequestID(ctx, "req-123")
	assert.Equal(t, "req-123", events.GetRequestID(ctx))

	events.FromContext(ctx).Info("hello")
	assert.Contains(t, buf.String(), `"request_id":"req-123"`)
}

func TestWithRoot(t *testing.T) {
	var buf bytes.Buffer
	ctx := events.WithLogger(context.Background(), events.NewTestLogger(events.InfoLevel, "json", &buf))

	ctx = events.WithRoot(ctx, "root-456")
	assert.Equal(t, "root-456", events.GetRoot(ctx))

	events.FromContext(ctx).Info("hello")
	assert.Contains(t, buf.String(), `"root":"root-456"`)
}

func TestContextValuesEmpty(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, events.GetRequestID(ctx))
	assert.Empty(t, events.GetRoot(ctx))
}

func TestSetDefault(t *testing.T) {
	customLogger := &events.Logger{}
	events.SetDefault(customLogger)

	assert.Equal(t, customLogger, events.FromContext(context.Background()))
}
