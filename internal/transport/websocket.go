package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TheMichaelB/diffsync/internal/events"
	"github.com/TheMichaelB/diffsync/internal/models"
)

// subscribeMessage is the first frame sent to the broker.
type subscribeMessage struct {
	Op    string   `json:"op"`
	Roots []string `json:"roots"`
	models.Identity
}

// BrokerClient receives change notifications over a WebSocket. It can
// subscribe again after a stream ends.
type BrokerClient struct {
	url      string
	identity models.Identity
	logger   *events.Logger

	// Connection state
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	done   chan struct{}

	// Heartbeat
	pingInterval time.Duration
	pongTimeout  time.Duration
}

// NewBrokerClient creates a broker client. http(s) URLs are rewritten to
// ws(s).
func NewBrokerClient(brokerURL string, identity models.Identity, logger *events.Logger) *BrokerClient {
	if strings.HasPrefix(brokerURL, "http") {
		brokerURL = "ws" + strings.TrimPrefix(brokerURL, "http")
	}

	return &BrokerClient{
		url:          brokerURL,
		identity:     identity,
		logger:       logger.WithField("component", "broker_client"),
		done:         make(chan struct{}),
		pingInterval: 30 * time.Second,
		pongTimeout:  10 * time.Second,
	}
}

// Subscribe connects, announces the roots of interest and returns the
// notification stream. The connection is dropped when ctx is done, and the
// channel closes when the connection ends.
func (c *BrokerClient) Subscribe(ctx context.Context, roots []string) (<-chan Notification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("broker client closed")
	}
	if c.conn != nil {
		return nil, fmt.Errorf("already connected")
	}

	c.logger.WithField("url", c.url).Info("Connecting to broker")

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	headers := http.Header{}
	headers.Set("X-User-Id", c.identity.UserID)

	conn, resp, err := dialer.DialContext(ctx, c.url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("broker connect failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("broker connect failed: %w", err)
	}

	msg := subscribeMessage{Op: "subscribe", Roots: roots, Identity: c.identity}
	if err := conn.WriteJSON(msg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send subscribe: %w", err)
	}

	c.conn = conn

	notifications := make(chan Notification, 100)
	stop := make(chan struct{})

	go c.readLoop(conn, notifications, stop)
	go c.pingLoop(conn, stop)
	go func() {
		select {
		case <-ctx.Done():
			c.disconnect(conn)
		case <-stop:
		}
	}()

	c.logger.WithField("roots", len(roots)).Info("Broker connected")
	return notifications, nil
}

// Close closes the connection and refuses further subscriptions.
func (c *BrokerClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.done)

	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

		err := c.conn.Close()
		c.conn = nil
		return err
	}

	return nil
}

// disconnect drops conn if it is still the current connection.
func (c *BrokerClient) disconnect(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == conn {
		c.conn = nil
	}
	_ = conn.Close()
}

func (c *BrokerClient) readLoop(conn *websocket.Conn, out chan<- Notification, stop chan struct{}) {
	defer func() {
		c.disconnect(conn)
		close(stop)
		close(out)
	}()

	_ = conn.SetReadDeadline(time.Now().Add(c.pongTimeout + c.pingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongTimeout + c.pingInterval))
	})

	for {
		var n Notification
		if err := conn.ReadJSON(&n); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				c.logger.WithError(err).Error("Broker read error")
			}
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(c.pongTimeout + c.pingInterval))

		if n.Root == "" || n.Path == "" {
			c.logger.Debug("Ignoring malformed notification")
			continue
		}

		select {
		case out <- n:
		case <-c.done:
			return
		}
	}
}

func (c *BrokerClient) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				c.logger.WithError(err).Debug("Ping failed")
				return
			}

		case <-stop:
			return
		case <-c.done:
			return
		}
	}
}
