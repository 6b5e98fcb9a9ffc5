package localchains

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/secret"
)

const (
	stellarImage      = "stellar/quickstart:testing@sha256:0db21654113699288f2ed59d7645734bacb349d766e83815acbb564bb99a4991"
	stellarContainer  = "stellar"
	stellarPassphrase = "Standalone Network ; February 2017"
)

// stellarProvider runs the stellar quickstart image in docker.
type stellarProvider struct {
	cfg  config.StellarConfig
	opts Options
}

func newStellarProvider(cfg config.StellarConfig, opts Options) *stellarProvider {
	return &stellarProvider{cfg: cfg, opts: opts}
}

func (p *stellarProvider) Name() string                        { return string(config.Stellar) }
func (p *stellarProvider) IsLocal() bool                       { return true }
func (p *stellarProvider) BootstrapETA() time.Duration         { return 10 * time.Second }
func (p *stellarProvider) URL() secret.URL                     { return p.cfg.URL }
func (p *stellarProvider) Preflight() ([]*Downloadable, error) { return nil, nil }

// Credentials are empty: stellar accounts are soroban CLI identities.
func (p *stellarProvider) Credentials() []config.CredConfig { return nil }

func (p *stellarProvider) Start(ctx context.Context) (Server, error) {
	port, err := p.cfg.URL.Port()
	if err != nil {
		return nil, apperrors.ConfigurationError(err, "invalid stellar url")
	}
	if port == 0 {
		port = 10545
	}
	if _, err := p.opts.Runner.Run(ctx, "", "docker", "ps"); err != nil {
		return nil, apperrors.SupervisionError(err, "Unable to connect to Docker")
	}
	proc, err := startProcess(p.Name(), p.opts.Logger, "docker",
		"run", "--rm", "-p", fmt.Sprintf("%d:8000", port),
		"--name", stellarContainer,
		stellarImage,
		"--standalone", "--enable-soroban-rpc")
	if err != nil {
		return nil, err
	}
	u, err := p.cfg.URL.ExposeURLAndUpdate("", port, "/")
	if err != nil {
		_ = proc.kill()
		return nil, apperrors.ConfigurationError(err, "invalid stellar url")
	}
	return &stellarServer{proc: proc, url: u.String(), identities: p.cfg.Identities, opts: p.opts}, nil
}

type stellarServer struct {
	proc       *process
	url        string
	identities []string
	opts       Options
}

func (s *stellarServer) PID() int                { return s.proc.pid() }
func (s *stellarServer) Exited() <-chan struct{} { return s.proc.exited() }

func (s *stellarServer) Available(ctx context.Context) error {
	return s.proc.whileRunning(ctx, func(ctx context.Context) error {
		return ethProbe.retry(ctx, "stellar", func(ctx context.Context) error {
			var stats struct {
				LastLedger any `json:"last_ledger"`
			}
			if err := getJSON(ctx, s.opts.HTTPClient, http.MethodGet, s.url+"fee_stats", &stats); err != nil {
				return err
			}
			if stats.LastLedger == nil {
				return fmt.Errorf("no ledger yet")
			}
			s.opts.Logger.Debug("Stellar ledger", zap.Any("last_ledger", stats.LastLedger))
			return nil
		})
	})
}

// Initialize registers the standalone network with the soroban CLI and
// creates the configured identities.
func (s *stellarServer) Initialize(ctx context.Context) error {
	if _, err := s.opts.Runner.Run(ctx, "", "soroban", "config", "network", "add", "standalone",
		"--global",
		"--network-passphrase", stellarPassphrase,
		"--rpc-url", s.url+"soroban/rpc",
	); err != nil {
		return apperrors.SupervisionError(err, "Unable to configure Stellar network")
	}
	for _, id := range s.identities {
		if _, err := s.opts.Runner.Run(ctx, "", "soroban", "config", "identity", "address", id); err == nil {
			continue
		}
		if _, err := s.opts.Runner.Run(ctx, "", "soroban", "config", "identity", "generate", "--global", id); err != nil {
			return apperrors.SupervisionError(err, fmt.Sprintf("Unable to create stellar identity %s", id))
		}
	}
	return nil
}

func (s *stellarServer) Kill() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.opts.Runner.Run(ctx, "", "docker", "stop", stellarContainer); err != nil {
		s.opts.Logger.Debug("docker stop failed", zap.Error(err))
	}
	return s.proc.kill()
}
