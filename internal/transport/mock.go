package transport

import (
	"context"
	"net/http"
	"sync"

	"github.com/TheMichaelB/diffsync/internal/models"
)

// MockTransport is a scriptable Remote and Notifier for tests. Unset
// handlers answer 200 with empty bodies.
type MockTransport struct {
	mu sync.Mutex

	// Response configuration
	RegisterFunc func(req *models.RegisterRequest) (*models.RegisterResponse, error)
	PatchFunc    func(req *models.PatchRequest) (*models.PatchResponse, error)
	DeleteFunc   func(req *models.DeleteRequest) (*models.DeleteResponse, error)
	RootFunc     func(req *models.RootRequest) (*models.RootResponse, error)

	// Request tracking
	RegisterRequests []models.RegisterRequest
	PatchRequests    []models.PatchRequest
	DeleteRequests   []models.DeleteRequest
	RootRequests     []models.RootRequest

	// Notifier state
	notifications chan Notification
	SubscribedTo  []string
	closed        bool
}

// NewMockTransport creates a mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		notifications: make(chan Notification, 100),
	}
}

// Register records the request and runs RegisterFunc.
func (m *MockTransport) Register(ctx context.Context, req *models.RegisterRequest) (*models.RegisterResponse, error) {
	m.mu.Lock()
	m.RegisterRequests = append(m.RegisterRequests, *req)
	fn := m.RegisterFunc
	m.mu.Unlock()

	if fn == nil {
		return &models.RegisterResponse{Status: http.StatusOK, Content: req.Content}, nil
	}
	return fn(req)
}

// Patch records the request and runs PatchFunc.
func (m *MockTransport) Patch(ctx context.Context, req *models.PatchRequest) (*models.PatchResponse, error) {
	m.mu.Lock()
	m.PatchRequests = append(m.PatchRequests, *req)
	fn := m.PatchFunc
	m.mu.Unlock()

	if fn == nil {
		return &models.PatchResponse{Status: http.StatusOK, Checksum: req.Checksum}, nil
	}
	return fn(req)
}

// Delete records the request and runs DeleteFunc.
func (m *MockTransport) Delete(ctx context.Context, req *models.DeleteRequest) (*models.DeleteResponse, error) {
	m.mu.Lock()
	m.DeleteRequests = append(m.DeleteRequests, *req)
	fn := m.DeleteFunc
	m.mu.Unlock()

	if fn == nil {
		return &models.DeleteResponse{Status: http.StatusOK}, nil
	}
	return fn(req)
}

// Root records the request and runs RootFunc.
func (m *MockTransport) Root(ctx context.Context, req *models.RootRequest) (*models.RootResponse, error) {
	m.mu.Lock()
	m.RootRequests = append(m.RootRequests, *req)
	fn := m.RootFunc
	m.mu.Unlock()

	if fn == nil {
		return &models.RootResponse{Status: http.StatusOK, Root: req.Root}, nil
	}
	return fn(req)
}

// Subscribe returns the channel fed by Notify.
func (m *MockTransport) Subscribe(ctx context.Context, roots []string) (<-chan Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SubscribedTo = append([]string(nil), roots...)
	return m.notifications, nil
}

// Close closes the notification channel.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.notifications)
	}
	return nil
}

// Helper methods for test setup

// Notify pushes a notification to subscribers.
func (m *MockTransport) Notify(root, path string) {
	m.notifications <- Notification{Root: root, Path: path}
}

// PatchCount returns how many patch requests were made.
func (m *MockTransport) PatchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.PatchRequests)
}

// LastPatch returns the most recent patch request.
func (m *MockTransport) LastPatch() (models.PatchRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.PatchRequests) == 0 {
		return models.PatchRequest{}, false
	}
	return m.PatchRequests[len(m.PatchRequests)-1], true
}

// RegisterCount returns how many register requests were made.
func (m *MockTransport) RegisterCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RegisterRequests)
}

// DeleteCount returns how many delete requests were made.
func (m *MockTransport) DeleteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.DeleteRequests)
}

// RootCount returns how many root requests were made.
func (m *MockTransport) RootCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RootRequests)
}

// Subscribed returns the roots of the last subscription.
func (m *MockTransport) Subscribed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.SubscribedTo...)
}
