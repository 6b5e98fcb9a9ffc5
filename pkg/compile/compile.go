// Package compile invokes the native compiler of each target on the files
// listed in its pre-compile manifest and loads the resulting artifacts.
package compile

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chainsafe/cubist/internal/command"
	"github.com/chainsafe/cubist/internal/ui"
	"github.com/chainsafe/cubist/pkg/config"
)

// ContractCompiler compiles the contracts of one target. Files are relative
// to the target's contracts directory.
type ContractCompiler interface {
	// Clean removes previous compiler output.
	Clean() error
	CompileFile(ctx context.Context, file string) error
	// FindCompiledContracts loads the contracts compiled from file, keyed by
	// contract name.
	FindCompiledContracts(file string) (map[string]*ContractInfo, error)
}

// Option configures compilation.
type Option func(*options)

type options struct {
	logger *zap.Logger
	runner command.Runner
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRunner sets the runner used to invoke compilers.
func WithRunner(r command.Runner) Option {
	return func(o *options) { o.runner = r }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.runner == nil {
		o.runner = command.NewExec(o.logger)
	}
	return o
}

// NewCompiler returns the compiler configured for target.
func NewCompiler(cfg *config.Config, target config.Target, opts ...Option) (ContractCompiler, error) {
	o := buildOptions(opts)
	tc, ok := cfg.Contracts.Targets[target]
	if !ok {
		return nil, fmt.Errorf("target %s is not configured", target)
	}
	paths := cfg.Paths().ForTarget(target)
	logger := o.logger.With(zap.Stringer("target", target))
	switch tc.Compiler {
	case config.Solc, "":
		return NewSolc(paths, cfg.Contracts.ImportDirs, o.runner, logger), nil
	case config.Solang:
		return NewSolang(paths, cfg.Contracts.ImportDirs, o.runner, logger), nil
	case config.Soroban:
		return NewSoroban(paths, logger), nil
	default:
		return nil, fmt.Errorf("unsupported compiler %q for target %s", tc.Compiler, target)
	}
}

// Compile builds every target of cfg in parallel. Pre-compile must have run.
func Compile(ctx context.Context, cfg *config.Config, opts ...Option) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, target := range cfg.Targets() {
		g.Go(func() error {
			return CompileTarget(ctx, cfg, target, opts...)
		})
	}
	return g.Wait()
}

// CompileTarget compiles the files in target's pre-compile manifest.
func CompileTarget(ctx context.Context, cfg *config.Config, target config.Target, opts ...Option) error {
	paths := cfg.Paths().ForTarget(target)
	manifest, err := config.ReadPreCompileManifest(paths.Manifest)
	if err != nil {
		return fmt.Errorf("read pre-compile manifest for %s (run pre-compile first): %w", target, err)
	}
	c, err := NewCompiler(cfg, target, opts...)
	if err != nil {
		return err
	}
	if err := c.Clean(); err != nil {
		return err
	}
	ui.Phase("Compiling", "%d file(s) for %s", len(manifest.Files), target)
	for _, f := range manifest.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.CompileFile(ctx, f.File); err != nil {
			return fmt.Errorf("%s: %w", target, err)
		}
	}
	return nil
}

// LoadTarget loads every compiled contract of target, split into native
// contracts and shims.
func LoadTarget(cfg *config.Config, target config.Target, opts ...Option) (contracts, shims []*ContractInfo, err error) {
	paths := cfg.Paths().ForTarget(target)
	manifest, err := config.ReadPreCompileManifest(paths.Manifest)
	if err != nil {
		return nil, nil, fmt.Errorf("read pre-compile manifest for %s: %w", target, err)
	}
	c, err := NewCompiler(cfg, target, opts...)
	if err != nil {
		return nil, nil, err
	}
	for _, f := range manifest.Files {
		found, err := c.FindCompiledContracts(f.File)
		if err != nil {
			return nil, nil, err
		}
		// only the contracts the file defines, not those it imports
		for _, name := range sortedNames(found) {
			if _, ok := f.ContractDependencies[name]; !ok {
				continue
			}
			if f.IsShim {
				shims = append(shims, found[name])
			} else {
				contracts = append(contracts, found[name])
			}
		}
	}
	return contracts, shims, nil
}
