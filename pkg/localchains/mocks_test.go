package localchains

import (
	"context"
	"sync"
	"time"

	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/secret"
)

// MockProvider implements Provider for testing.
type MockProvider struct {
	NameValue     string
	ETA           time.Duration
	URLValue      secret.URL
	PreflightFunc func() ([]*Downloadable, error)
	StartFunc     func(ctx context.Context) (Server, error)
}

func (m *MockProvider) Name() string                     { return m.NameValue }
func (m *MockProvider) IsLocal() bool                    { return true }
func (m *MockProvider) BootstrapETA() time.Duration      { return m.ETA }
func (m *MockProvider) URL() secret.URL                  { return m.URLValue }
func (m *MockProvider) Credentials() []config.CredConfig { return nil }

func (m *MockProvider) Preflight() ([]*Downloadable, error) {
	if m.PreflightFunc != nil {
		return m.PreflightFunc()
	}
	return nil, nil
}

func (m *MockProvider) Start(ctx context.Context) (Server, error) {
	if m.StartFunc != nil {
		return m.StartFunc(ctx)
	}
	return &MockServer{}, nil
}

// MockServer implements Server for testing.
type MockServer struct {
	AvailableFunc  func(ctx context.Context) error
	InitializeFunc func(ctx context.Context) error
	KillFunc       func() error
	ExitedCh       chan struct{}

	mu     sync.Mutex
	killed bool
}

func (m *MockServer) PID() int                { return 0 }
func (m *MockServer) Exited() <-chan struct{} { return m.ExitedCh }

func (m *MockServer) Available(ctx context.Context) error {
	if m.AvailableFunc != nil {
		return m.AvailableFunc(ctx)
	}
	return nil
}

func (m *MockServer) Initialize(ctx context.Context) error {
	if m.InitializeFunc != nil {
		return m.InitializeFunc(ctx)
	}
	return nil
}

func (m *MockServer) Kill() error {
	m.mu.Lock()
	m.killed = true
	m.mu.Unlock()
	if m.KillFunc != nil {
		return m.KillFunc()
	}
	return nil
}

func (m *MockServer) Killed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killed
}
