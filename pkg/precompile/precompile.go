// Package precompile prepares each target's contract directory for the
// native compilers: it copies the contract root, generates the shims and
// bridge manifests for cross-chain calls and records what is in the
// directory in the target's pre-compile manifest.
package precompile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/chainsafe/cubist/internal/command"
	"github.com/chainsafe/cubist/internal/ui"
	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/fsutil"
	"github.com/chainsafe/cubist/pkg/gen"
	"github.com/chainsafe/cubist/pkg/parse"
)

// MissingImportsError is returned when sources import packages that are not
// installed and installing them is not allowed.
type MissingImportsError struct {
	Imports []string
}

func (e *MissingImportsError) Error() string {
	return fmt.Sprintf("missing external imports %s; install them or set allow_import_from_external",
		strings.Join(e.Imports, ", "))
}

// Option configures a PreCompiler.
type Option func(*PreCompiler)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *PreCompiler) { p.logger = logger }
}

// WithRunner sets the runner used to invoke the package manager.
func WithRunner(r command.Runner) Option {
	return func(p *PreCompiler) { p.runner = r }
}

// PreCompiler runs the pre-compile phase for a project.
type PreCompiler struct {
	cfg    *config.Config
	logger *zap.Logger
	runner command.Runner
}

// New creates a PreCompiler for cfg.
func New(cfg *config.Config, opts ...Option) *PreCompiler {
	p := &PreCompiler{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	if p.runner == nil {
		p.runner = command.NewExec(p.logger)
	}
	return p
}

// Result summarizes a pre-compile run.
type Result struct {
	Interfaces *gen.Interfaces
	// Manifests holds the manifest written for each target.
	Manifests map[config.Target]*config.PreCompileManifest
}

// Run validates and analyzes the sources then populates every target's
// build directory.
func (p *PreCompiler) Run(ctx context.Context) (*Result, error) {
	sources, err := parse.NewSourceFiles(ctx, p.cfg.Contracts)
	if err != nil {
		return nil, err
	}
	if err := sources.CheckImports(p.cfg.Contracts.RootDir); err != nil {
		return nil, err
	}

	backend, err := gen.NewBackend(p.cfg.BridgeProvider)
	if err != nil {
		return nil, err
	}

	ifaces, err := gen.GetInterfaces(sources, gen.WithLogger(p.logger))
	if err != nil {
		return nil, err
	}

	imports := sources.ImportPaths()
	if len(ifaces.Files) > 0 {
		imports = append(imports, backend.ExternalImports()...)
	}
	if err := p.ensureImports(ctx, imports); err != nil {
		return nil, err
	}

	artifacts := map[config.Target][]gen.Artifact{}
	for _, fi := range ifaces.Files {
		generated, err := backend.Generate(fi)
		if err != nil {
			return nil, err
		}
		for _, a := range generated {
			artifacts[a.Target] = append(artifacts[a.Target], a)
		}
	}

	res := &Result{Interfaces: ifaces, Manifests: map[config.Target]*config.PreCompileManifest{}}
	for _, target := range p.cfg.Targets() {
		ui.Phase("Pre-compiling", "contracts for %s", target)
		manifest, err := p.prepareTarget(target, sources, ifaces, artifacts[target])
		if err != nil {
			return nil, fmt.Errorf("pre-compile %s: %w", target, err)
		}
		res.Manifests[target] = manifest
	}
	return res, nil
}

// ensureImports checks that every external import resolves through one of
// the import directories, installing the missing packages when allowed.
func (p *PreCompiler) ensureImports(ctx context.Context, imports []string) error {
	missing := MissingImports(imports, p.cfg.Contracts.ImportDirs)
	if len(missing) == 0 {
		return nil
	}
	if !p.cfg.AllowImportFromExternal {
		return &MissingImportsError{Imports: missing}
	}
	projectDir := p.cfg.ProjectDir()
	pm := DetectPackageManager(projectDir, nil)
	packages := packageNames(missing)
	ui.Phase("Installing", "%s with %s", strings.Join(packages, ", "), pm)
	p.logger.Info("Installing external packages",
		zap.String("package_manager", string(pm)),
		zap.Strings("packages", packages))
	if err := pm.Install(ctx, p.runner, projectDir, packages); err != nil {
		return err
	}
	if still := MissingImports(missing, p.cfg.Contracts.ImportDirs); len(still) > 0 {
		return &MissingImportsError{Imports: still}
	}
	return nil
}

func (p *PreCompiler) prepareTarget(target config.Target, sources *parse.SourceFiles, ifaces *gen.Interfaces, artifacts []gen.Artifact) (*config.PreCompileManifest, error) {
	paths := p.cfg.Paths().ForTarget(target)
	if err := os.RemoveAll(paths.Contracts); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("clean %s: %w", paths.Contracts, err)
	}
	if err := fsutil.CopyDir(p.cfg.Contracts.RootDir, paths.Contracts); err != nil {
		return nil, err
	}

	manifest := &config.PreCompileManifest{}
	for _, source := range sources.Sources {
		if source.Target != target {
			continue
		}
		deps := map[string][]string{}
		for _, name := range source.ContractNames() {
			deps[name] = nonNil(ifaces.Dependencies[name])
		}
		manifest.Files = append(manifest.Files, config.FileArtifact{
			File:                 filepath.ToSlash(source.RelPath),
			ContractDependencies: deps,
		})
	}

	for _, a := range artifacts {
		path := filepath.Join(paths.Contracts, filepath.FromSlash(a.Name))
		p.logger.Debug("Writing generated file", zap.Stringer("target", target), zap.String("path", path))
		if err := fsutil.WriteFile(path, a.Content); err != nil {
			return nil, err
		}
		if a.Shim == nil {
			continue
		}
		deps := map[string][]string{}
		for _, name := range a.Shim.Contracts {
			deps[name] = []string{}
		}
		manifest.Files = append(manifest.Files, config.FileArtifact{
			File:                 filepath.ToSlash(a.Name),
			IsShim:               true,
			ContractDependencies: deps,
		})
	}
	sort.SliceStable(manifest.Files, func(i, j int) bool { return manifest.Files[i].File < manifest.Files[j].File })

	if err := manifest.Write(paths.Manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
