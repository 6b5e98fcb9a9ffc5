package core

import (
	"context"
	"fmt"
	"math/big"
	"net/http"

	"go.uber.org/zap"

	"github.com/chainsafe/cubist/internal/command"
	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
	"github.com/chainsafe/cubist/pkg/compile"
	"github.com/chainsafe/cubist/pkg/config"
)

// Project holds the compiled contracts of one target and the chain they are
// deployed to.
type Project struct {
	Target   config.Target
	Endpoint config.EndpointConfig
	Chain    Chain

	paths     config.Paths
	contracts []*compile.ContractInfo
	shims     []*compile.ContractInfo
	// deps maps each contract name to the shims it calls
	deps   map[string][]string
	logger *zap.Logger
}

// NewProject assembles a project from already loaded parts.
func NewProject(target config.Target, paths config.Paths, chain Chain, contracts, shims []*compile.ContractInfo, deps map[string][]string, logger *zap.Logger) *Project {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps == nil {
		deps = map[string][]string{}
	}
	return &Project{
		Target:    target,
		Chain:     chain,
		paths:     paths,
		contracts: contracts,
		shims:     shims,
		deps:      deps,
		logger:    logger.With(zap.String("target", string(target))),
	}
}

// LoadProject loads the compiled contracts of target and connects to its
// chain.
func LoadProject(ctx context.Context, cfg *config.Config, target config.Target, factory ChainFactory, logger *zap.Logger) (*Project, error) {
	endpoint, ok := cfg.NetworkForTarget(target)
	if !ok {
		return nil, apperrors.ConfigurationError(nil,
			fmt.Sprintf("no endpoint for %s in network profile %q", target, cfg.CurrentNetworkProfile))
	}
	contracts, shims, err := compile.LoadTarget(cfg, target, compile.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	manifest, err := config.ReadPreCompileManifest(cfg.Paths().ForTarget(target).Manifest)
	if err != nil {
		return nil, apperrors.IOError(err, "failed to read pre-compile manifest")
	}
	deps := map[string][]string{}
	for _, f := range manifest.Files {
		for name, d := range f.ContractDependencies {
			deps[name] = append(deps[name], d...)
		}
	}

	chain, err := factory(ctx, target, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	p := NewProject(target, cfg.Paths(), chain, contracts, shims, deps, logger)
	p.Endpoint = endpoint
	return p, nil
}

// DefaultChainFactory dials EVM targets with go-ethereum and drives stellar
// through the soroban CLI.
func DefaultChainFactory(cfg *config.Config, runner command.Runner, httpClient *http.Client, logger *zap.Logger) ChainFactory {
	return func(ctx context.Context, target config.Target, endpoint config.EndpointConfig) (Chain, error) {
		if target.IsEVM() {
			return DialEVM(ctx, endpoint, logger)
		}
		u, err := endpoint.Common().URL.ExposeURL()
		if err != nil {
			return nil, apperrors.ConfigurationError(err, "invalid stellar url")
		}
		var identities []string
		if endpoint.Stellar != nil {
			identities = endpoint.Stellar.Identities
		}
		dir := cfg.Paths().ForTarget(target).BuildRoot
		return NewSorobanChain(runner, httpClient, u, identities, dir, logger), nil
	}
}

// Paths are the project paths.
func (p *Project) Paths() config.TargetPaths { return p.paths.ForTarget(p.Target) }

// Accounts lists the accounts that sign for the project.
func (p *Project) Accounts(ctx context.Context) ([]config.Address, error) {
	return p.Chain.Accounts(ctx)
}

// Balance returns the balance of addr.
func (p *Project) Balance(ctx context.Context, addr config.Address) (*big.Int, error) {
	return p.Chain.Balance(ctx, addr)
}
