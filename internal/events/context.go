package events

import (
	"context"
	"os"
	"sync"
)

type contextKey int

const (
	loggerKey contextKey = iota
	requestIDKey
	rootKey
)

// FromContext extracts logger from context.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return defaultLogger
}

// WithLogger adds logger to context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithRequestID adds request ID to context.
func WithRequestID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("request_id", id)
	ctx = context.WithValue(ctx, requestIDKey, id)
	return WithLogger(ctx, logger)
}

// WithRoot adds the shared root identifier to context.
func WithRoot(ctx context.Context, root string) context.Context {
	logger := FromContext(ctx).WithField("root", root)
	ctx = context.WithValue(ctx, rootKey, root)
	return WithLogger(ctx, logger)
}

// GetRequestID retrieves request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetRoot retrieves the shared root identifier from context.
func GetRoot(ctx context.Context) string {
	if id, ok := ctx.Value(rootKey).(string); ok {
		return id
	}
	return ""
}

var defaultLogger = &Logger{
	mu:     &sync.Mutex{},
	level:  InfoLevel,
	format: "text",
	output: os.Stdout,
	fields: make(map[string]interface{}),
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}
