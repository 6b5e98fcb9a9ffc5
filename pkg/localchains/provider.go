// Package localchains launches and supervises the chains of a network
// profile. Local endpoints get a node started from a downloaded binary (or a
// docker image) fronted by a signing proxy; remote endpoints only get the
// proxy, when one is configured.
package localchains

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/chainsafe/cubist/internal/command"
	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/secret"
)

// Provider describes how to run one chain.
type Provider interface {
	// Name identifies the provider in progress output and bootstrap history.
	Name() string
	IsLocal() bool
	// BootstrapETA is the expected start-up time when no history exists.
	BootstrapETA() time.Duration
	URL() secret.URL
	// Preflight lists the binaries that must be present before Start.
	Preflight() ([]*Downloadable, error)
	// Credentials are the accounts that can sign on the chain.
	Credentials() []config.CredConfig
	// Start launches the chain. The returned server may not accept
	// requests yet.
	Start(ctx context.Context) (Server, error)
}

// Server is a started chain.
type Server interface {
	// PID of the node process, 0 when there is none.
	PID() int
	// Available blocks until the chain accepts requests.
	Available(ctx context.Context) error
	// Initialize funds accounts and registers networks once available.
	Initialize(ctx context.Context) error
	// Exited is closed if the node process stops. It is nil for servers
	// without a process.
	Exited() <-chan struct{}
	// Kill stops the chain and its proxy.
	Kill() error
}

// Options are shared by every provider.
type Options struct {
	// CacheDir holds downloaded binaries and bootstrap history.
	CacheDir   string
	Resources  ResourceManifest
	Runner     command.Runner
	HTTPClient *http.Client
	Logger     *zap.Logger
}

func (o *Options) setDefaults() error {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Runner == nil {
		o.Runner = command.NewExec(o.Logger)
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if o.CacheDir == "" {
		dir, err := config.CacheDir()
		if err != nil {
			return apperrors.IOError(err, "locate cache directory")
		}
		o.CacheDir = dir
	}
	if o.Resources == nil {
		m, err := LoadResources(o.CacheDir)
		if err != nil {
			return err
		}
		o.Resources = m
	}
	return nil
}

// ProviderFor returns a local provider when the endpoint is on this machine
// and autostart is on, and a remote one otherwise.
func ProviderFor(endpoint config.EndpointConfig, opts Options) (Provider, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	common := endpoint.Common()
	if !endpoint.IsLocal() || !common.Autostart {
		return &remoteProvider{
			name:   fmt.Sprintf("(remote) %s", endpoint.Target),
			target: endpoint.Target,
			common: common,
			logger: opts.Logger,
		}, nil
	}
	switch {
	case endpoint.Ethereum != nil:
		return newAnvilProvider(*endpoint.Ethereum, opts)
	case endpoint.Polygon != nil:
		return newBorProvider(*endpoint.Polygon, opts)
	case endpoint.Avalanche != nil:
		return newAvalancheProvider(*endpoint.Avalanche, opts)
	case endpoint.Stellar != nil:
		return newStellarProvider(*endpoint.Stellar, opts), nil
	}
	return nil, apperrors.ConfigurationError(nil, fmt.Sprintf("no configuration for %s", endpoint.Target))
}

// Providers returns the providers of every endpoint in profile, in target order.
func Providers(profile config.NetworkProfile, opts Options) ([]Provider, error) {
	var out []Provider
	for _, t := range config.AllTargets {
		endpoint, ok := profile.Get(t)
		if !ok {
			continue
		}
		p, err := ProviderFor(endpoint, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// remoteProvider does not start a node; it runs the configured proxy only.
type remoteProvider struct {
	name   string
	target config.Target
	common config.CommonConfig
	logger *zap.Logger
}

func (r *remoteProvider) Name() string                        { return r.name }
func (r *remoteProvider) IsLocal() bool                       { return false }
func (r *remoteProvider) BootstrapETA() time.Duration         { return 400 * time.Millisecond }
func (r *remoteProvider) URL() secret.URL                     { return r.common.URL }
func (r *remoteProvider) Preflight() ([]*Downloadable, error) { return nil, nil }

func (r *remoteProvider) Credentials() []config.CredConfig {
	if r.common.Proxy == nil {
		return nil
	}
	return r.common.Proxy.Creds
}

func (r *remoteProvider) Start(ctx context.Context) (Server, error) {
	if r.common.Proxy == nil {
		return &remoteServer{}, nil
	}
	upstream, err := r.common.URL.ExposeURL()
	if err != nil {
		return nil, apperrors.ConfigurationError(err, fmt.Sprintf("invalid url for %s", r.target))
	}
	px, err := startEthProxy(ctx, string(r.target), int(r.common.Proxy.Port), upstream.String(), *r.common.Proxy, r.logger)
	if err != nil {
		return nil, err
	}
	return &remoteServer{proxy: px}, nil
}

type remoteServer struct {
	proxy *runningProxy
}

func (s *remoteServer) PID() int                         { return 0 }
func (s *remoteServer) Available(context.Context) error  { return nil }
func (s *remoteServer) Initialize(context.Context) error { return nil }
func (s *remoteServer) Exited() <-chan struct{}          { return nil }

func (s *remoteServer) Kill() error {
	if s.proxy != nil {
		return s.proxy.stop()
	}
	return nil
}
