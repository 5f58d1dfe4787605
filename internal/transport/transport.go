package transport

import (
	"context"

	"github.com/TheMichaelB/diffsync/internal/config"
	"github.com/TheMichaelB/diffsync/internal/events"
	"github.com/TheMichaelB/diffsync/internal/models"
)

// Remote is the Remote Sync Service. Implementations return an error only
// when no response was obtained (network, decode or retry exhaustion);
// every decoded response carries its status, defaulted from HTTP.
type Remote interface {
	Register(ctx context.Context, req *models.RegisterRequest) (*models.RegisterResponse, error)
	Patch(ctx context.Context, req *models.PatchRequest) (*models.PatchResponse, error)
	Delete(ctx context.Context, req *models.DeleteRequest) (*models.DeleteResponse, error)
	Root(ctx context.Context, req *models.RootRequest) (*models.RootResponse, error)
}

// Notification says a document changed remotely.
type Notification struct {
	Root string `json:"root"`
	Path string `json:"path"`
}

// Notifier streams remote change notifications.
type Notifier interface {
	Subscribe(ctx context.Context, roots []string) (<-chan Notification, error)
	Close() error
}

// Transport bundles the remote client with the optional broker.
type Transport struct {
	Remote Remote
	Broker Notifier
}

// New builds the HTTP remote and, when a broker URL is configured, the
// WebSocket notifier.
func New(cfg *config.APIConfig, identity models.Identity, logger *events.Logger) *Transport {
	t := &Transport{Remote: NewHTTPClient(cfg, logger)}
	if cfg.BrokerURL != "" {
		t.Broker = NewBrokerClient(cfg.BrokerURL, identity, logger)
	}
	return t
}

// Close closes the broker connection, if any.
func (t *Transport) Close() error {
	if t.Broker != nil {
		return t.Broker.Close()
	}
	return nil
}
