package relayer

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsafe/cubist/pkg/compile"
	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/core"
	"github.com/chainsafe/cubist/pkg/relayer"
)

// idleChain is a chain nothing is deployed on.
type idleChain struct{}

func (idleChain) Deploy(context.Context, *compile.ContractInfo, ...any) (config.Address, error) {
	return nil, core.ErrUnsupported
}

func (idleChain) Call(context.Context, *compile.ContractInfo, config.Address, string, ...any) ([]any, error) {
	return nil, core.ErrUnsupported
}

func (idleChain) Send(context.Context, *compile.ContractInfo, config.Address, string, ...any) error {
	return core.ErrUnsupported
}

func (idleChain) Watch(ctx context.Context, _ *compile.ContractInfo, _ config.Address, _ string, ready func(), _ core.EventHandler) error {
	ready()
	<-ctx.Done()
	return ctx.Err()
}

func (idleChain) Accounts(context.Context) ([]config.Address, error) { return nil, nil }

func (idleChain) Balance(context.Context, config.Address) (*big.Int, error) { return big.NewInt(0), nil }

func (idleChain) Close() {}

func newTestEngine(t *testing.T, cfg relayer.Config) *relayer.Engine {
	t.Helper()
	dir := t.TempDir()
	paths := config.Paths{
		ProjectDir: dir,
		BuildDir:   filepath.Join(dir, "build"),
		DeployDir:  filepath.Join(dir, "deploy"),
	}
	p := core.NewProject(config.Ethereum, paths, idleChain{}, nil, nil, nil, nil)
	c, err := core.Assemble([]*core.Project{p}, nil)
	require.NoError(t, err)
	e, err := relayer.NewEngine(c, cfg, zap.NewNop())
	require.NoError(t, err)
	return e
}

func TestRouter_HealthAndReady(t *testing.T) {
	engine := newTestEngine(t, relayer.Config{PollInterval: 10 * time.Millisecond})
	srv := httptest.NewServer(newRouter(engine, zap.NewNop()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.RunToCompletion(ctx) }()
	select {
	case <-engine.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("engine never became ready")
	}

	resp, err = http.Get(srv.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/status")
	require.NoError(t, err)
	var status map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.Equal(t, "running", status["status"])
	assert.EqualValues(t, 0, status["bridges"])

	resp, err = http.Get(srv.URL + "/api/v1/bridges")
	require.NoError(t, err)
	var bridges map[string][]relayer.Bridge
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&bridges))
	resp.Body.Close()
	assert.Empty(t, bridges["bridges"])

	resp, err = http.Get(srv.URL + "/api/v1/bridges/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	require.NoError(t, <-done)
}

func TestServer_RunEngineCallsReady(t *testing.T) {
	engine := newTestEngine(t, relayer.Config{NoWatch: true})
	s := NewServer(&config.Config{}, Options{}, nil)

	readyCh := make(chan struct{})
	err := s.runEngine(context.Background(), engine, func() { close(readyCh) })
	require.NoError(t, err)

	select {
	case <-readyCh:
	case <-time.After(5 * time.Second):
		t.Fatal("ready was not called")
	}
}

func TestServer_OpsServerFailureStopsEngine(t *testing.T) {
	engine := newTestEngine(t, relayer.Config{PollInterval: 10 * time.Millisecond})
	s := NewServer(&config.Config{}, Options{OpsAddr: "256.0.0.1:bad"}, nil)

	done := make(chan error, 1)
	go func() { done <- s.runEngine(context.Background(), engine, nil) }()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ops server")
	case <-time.After(5 * time.Second):
		t.Fatal("relayer kept running after the ops server failed")
	}
}

func TestServer_RunRequiresConfig(t *testing.T) {
	err := NewServer(nil, Options{}, nil).Run(context.Background(), nil)
	require.Error(t, err)
}
