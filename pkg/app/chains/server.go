// Package chains implements app.Runner for the local chains process.
package chains

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chainsafe/cubist/pkg/app"
	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/localchains"
)

// Server holds configuration for the chains process.
type Server struct {
	cfg    *config.Config
	opts   localchains.Options
	logger *zap.Logger
	// start is replaced in tests.
	start func(ctx context.Context, profile config.NetworkProfile, opts localchains.Options) (network, error)
}

// network is the part of *localchains.Network the server drives.
type network interface {
	Names() []string
	Wait(ctx context.Context) error
	Stop() error
}

var _ app.Runner = (*Server)(nil)

// NewServer initializes a new chains Server.
func NewServer(cfg *config.Config, opts localchains.Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.Logger = logger
	return &Server{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
		start: func(ctx context.Context, profile config.NetworkProfile, opts localchains.Options) (network, error) {
			return localchains.Start(ctx, profile, opts)
		},
	}
}

// Run starts every chain of the selected network profile, calls ready once
// all of them are available, and keeps them running until ctx is done or a
// chain exits.
func (s *Server) Run(ctx context.Context, ready func()) error {
	if s.cfg == nil {
		return fmt.Errorf("chains config is nil")
	}
	profile := s.cfg.NetworkProfile()
	s.logger.Info("Starting chains", zap.String("profile", s.cfg.CurrentNetworkProfile))

	n, err := s.start(ctx, profile, s.opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Stop(); err != nil {
			s.logger.Warn("Failed to stop chains", zap.Error(err))
		}
	}()

	s.logger.Info("Chains available", zap.Strings("chains", n.Names()))
	app.NotifyReady(ready)
	return n.Wait(ctx)
}
