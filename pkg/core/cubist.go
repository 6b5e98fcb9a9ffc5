// Package core ties the compiled contracts of every target together: it
// resolves shims and shim dependencies, deploys contracts in order and
// records their deployments for the relayer.
package core

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/chainsafe/cubist/internal/command"
	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/gen"
)

// Cubist is the registry of every contract of a project across targets.
type Cubist struct {
	cfg       *config.Config
	paths     config.Paths
	projects  map[config.Target]*Project
	contracts map[string]*Contract
	shims     map[config.Target][]*Contract
	logger    *zap.Logger
}

// Option configures New.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	factory    ChainFactory
	runner     command.Runner
	httpClient *http.Client
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithChainFactory replaces how chains are connected to.
func WithChainFactory(f ChainFactory) Option {
	return func(o *options) { o.factory = f }
}

// WithRunner sets the runner for the soroban CLI.
func WithRunner(r command.Runner) Option {
	return func(o *options) { o.runner = r }
}

// WithHTTPClient sets the client used for friendbot requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// New loads the compiled contracts of every configured target and connects
// to their chains.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Cubist, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.runner == nil {
		o.runner = command.NewExec(o.logger)
	}
	if o.factory == nil {
		o.factory = DefaultChainFactory(cfg, o.runner, o.httpClient, o.logger)
	}

	var projects []*Project
	for _, t := range cfg.Targets() {
		p, err := LoadProject(ctx, cfg, t, o.factory, o.logger)
		if err != nil {
			for _, done := range projects {
				done.Chain.Close()
			}
			return nil, err
		}
		projects = append(projects, p)
	}
	c, err := Assemble(projects, o.logger)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	return c, nil
}

// Assemble links the contracts of projects: each contract gets the shims
// generated for it on other targets and the shims it calls on its own.
func Assemble(projects []*Project, logger *zap.Logger) (*Cubist, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cubist{
		projects:  map[config.Target]*Project{},
		contracts: map[string]*Contract{},
		shims:     map[config.Target][]*Contract{},
		logger:    logger,
	}
	for _, p := range projects {
		if _, dup := c.projects[p.Target]; dup {
			return nil, apperrors.ConfigurationError(nil, fmt.Sprintf("duplicate project for %s", p.Target))
		}
		c.projects[p.Target] = p
		c.paths = p.paths
		for _, info := range p.shims {
			c.shims[p.Target] = append(c.shims[p.Target], newContract(info, p, true))
		}
	}

	for _, t := range c.targets() {
		p := c.projects[t]
		for _, info := range p.contracts {
			if prev, dup := c.contracts[info.FQN.Name]; dup {
				return nil, apperrors.ConfigurationError(nil,
					fmt.Sprintf("contract %s defined in both %s and %s", info.FQN.Name, prev.FullNameWithTarget(), info.FQN))
			}
			contract := newContract(info, p, false)
			for other, shims := range c.shims {
				if other == t {
					continue
				}
				for _, s := range shims {
					if s.FQN().IsSameAs(info.FQN) {
						contract.shims[other] = s
					}
				}
			}
			for _, s := range c.shims[t] {
				if s.Name() == gen.AxelarReceiverName(info.FQN.Name) {
					contract.receivers = append(contract.receivers, s)
				}
			}
			for _, name := range p.deps[info.FQN.Name] {
				dep, ok := c.findShimByName(t, name)
				if !ok {
					return nil, apperrors.ConfigurationError(nil,
						fmt.Sprintf("%s depends on shim %s which is not compiled for %s", info.FQN, name, t))
				}
				contract.deps = append(contract.deps, dep)
			}
			c.contracts[info.FQN.Name] = contract
		}
	}
	return c, nil
}

func (c *Cubist) targets() []config.Target {
	ts := make([]config.Target, 0, len(c.projects))
	for t := range c.projects {
		ts = append(ts, t)
	}
	config.SortTargets(ts)
	return ts
}

func (c *Cubist) findShimByName(t config.Target, name string) (*Contract, bool) {
	for _, s := range c.shims[t] {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// Config is the project config, nil for assembled registries.
func (c *Cubist) Config() *config.Config { return c.cfg }

// Paths are the project paths.
func (c *Cubist) Paths() config.Paths { return c.paths }

// Projects returns the target projects in target order.
func (c *Cubist) Projects() []*Project {
	out := make([]*Project, 0, len(c.projects))
	for _, t := range c.targets() {
		out = append(out, c.projects[t])
	}
	return out
}

// Project returns the project of target.
func (c *Cubist) Project(t config.Target) (*Project, bool) {
	p, ok := c.projects[t]
	return p, ok
}

// Contract returns the non-shim contract with the given name.
func (c *Cubist) Contract(name string) (*Contract, bool) {
	contract, ok := c.contracts[name]
	return contract, ok
}

// Contracts returns every non-shim contract sorted by name.
func (c *Cubist) Contracts() []*Contract {
	names := make([]string, 0, len(c.contracts))
	for n := range c.contracts {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*Contract, len(names))
	for i, n := range names {
		out[i] = c.contracts[n]
	}
	return out
}

// FindContract returns the non-shim contract fqn on target.
func (c *Cubist) FindContract(t config.Target, fqn config.ContractFQN) (*Contract, bool) {
	contract, ok := c.contracts[fqn.Name]
	if !ok || contract.Target != t || !contract.FQN().IsSameAs(fqn) {
		return nil, false
	}
	return contract, true
}

// FindShim returns the shim on target standing in for fqn.
func (c *Cubist) FindShim(t config.Target, fqn config.ContractFQN) (*Contract, bool) {
	for _, s := range c.shims[t] {
		if s.FQN().IsSameAs(fqn) {
			return s, true
		}
	}
	return nil, false
}

// WhenBridged waits until every deployed contract with shims is bridged.
func (c *Cubist) WhenBridged(ctx context.Context, interval time.Duration, attempts int) error {
	for _, contract := range c.Contracts() {
		if _, ok := contract.Address(); !ok || len(contract.shims) == 0 {
			continue
		}
		if err := contract.WhenBridged(ctx, interval, attempts); err != nil {
			return err
		}
	}
	return nil
}

// AccountsOn lists the signing accounts of target.
func (c *Cubist) AccountsOn(ctx context.Context, t config.Target) ([]config.Address, error) {
	p, ok := c.projects[t]
	if !ok {
		return nil, apperrors.ConfigurationError(nil, fmt.Sprintf("no project for %s", t))
	}
	return p.Accounts(ctx)
}

// BalanceOn returns the balance of addr on target.
func (c *Cubist) BalanceOn(ctx context.Context, t config.Target, addr config.Address) (*big.Int, error) {
	p, ok := c.projects[t]
	if !ok {
		return nil, apperrors.ConfigurationError(nil, fmt.Sprintf("no project for %s", t))
	}
	return p.Balance(ctx, addr)
}

// Close disconnects from every chain.
func (c *Cubist) Close() {
	for _, p := range c.projects {
		p.Chain.Close()
	}
}
