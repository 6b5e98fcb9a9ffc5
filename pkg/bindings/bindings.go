// Package bindings writes the contract index client SDKs load to find the
// compiled contracts of a project: one index.json listing every contract
// and shim per target, plus an entry file in the project's language.
package bindings

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/template"

	"go.uber.org/zap"

	"github.com/chainsafe/cubist/internal/command"
	"github.com/chainsafe/cubist/internal/ui"
	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
	"github.com/chainsafe/cubist/pkg/compile"
	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/fsutil"
)

// IndexFilename is the name of the contract index in the bindings directory.
const IndexFilename = "index.json"

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// Contract is one compiled contract of the index. Paths are relative to the
// bindings directory and use forward slashes.
type Contract struct {
	Name   string        `json:"name"`
	File   string        `json:"file"`
	Target config.Target `json:"target"`
	Shim   bool          `json:"shim,omitempty"`
	// Artifact is the compiled EVM artifact.
	Artifact string `json:"artifact,omitempty"`
	// Wasm is the compiled Stellar module.
	Wasm      string   `json:"wasm,omitempty"`
	Functions []string `json:"functions"`
	Events    []string `json:"events,omitempty"`
}

// Index lists the compiled contracts of every target.
type Index struct {
	Type           config.ProjType              `json:"type"`
	BridgeProvider config.BridgeProvider        `json:"bridge_provider"`
	Targets        map[config.Target][]Contract `json:"targets"`
}

// Contracts returns the non-shim contracts of every target, sorted by name.
func (idx *Index) Contracts() []Contract {
	var out []Contract
	for _, cs := range idx.Targets {
		for _, c := range cs {
			if !c.Shim {
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Option configures Generate.
type Option func(*options)

type options struct {
	logger *zap.Logger
	runner command.Runner
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRunner sets the runner handed to the compilers.
func WithRunner(r command.Runner) Option {
	return func(o *options) { o.runner = r }
}

// Generate rebuilds the bindings directory of cfg from the compiled
// contracts of every target. Compile must have run.
func Generate(cfg *config.Config, opts ...Option) (*Index, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	compileOpts := []compile.Option{compile.WithLogger(o.logger)}
	if o.runner != nil {
		compileOpts = append(compileOpts, compile.WithRunner(o.runner))
	}

	dir := cfg.Paths().ClientBindingsDir()
	ui.Phase("Generating", "client bindings in %s", dir)
	idx := &Index{
		Type:           cfg.Type,
		BridgeProvider: cfg.BridgeProvider,
		Targets:        map[config.Target][]Contract{},
	}
	for _, target := range cfg.Targets() {
		contracts, shims, err := compile.LoadTarget(cfg, target, compileOpts...)
		if err != nil {
			return nil, fmt.Errorf("load %s contracts (run compile first): %w", target, err)
		}
		paths := cfg.Paths().ForTarget(target)
		entries := make([]Contract, 0, len(contracts)+len(shims))
		for _, info := range contracts {
			entries = append(entries, entry(dir, paths, target, info, false))
		}
		for _, info := range shims {
			entries = append(entries, entry(dir, paths, target, info, true))
		}
		idx.Targets[target] = entries
		o.logger.Debug("Indexed target",
			zap.Stringer("target", target),
			zap.Int("contracts", len(contracts)),
			zap.Int("shims", len(shims)))
	}

	if err := os.RemoveAll(dir); err != nil {
		return nil, apperrors.IOError(err, fmt.Sprintf("Failed to clean %s", dir))
	}
	if err := fsutil.WriteJSONAtomic(filepath.Join(dir, IndexFilename), idx); err != nil {
		return nil, apperrors.IOError(err, "Failed to write contract index")
	}
	name, source, err := entryFile(idx)
	if err != nil {
		return nil, err
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, name), source, 0o644); err != nil {
		return nil, apperrors.IOError(err, fmt.Sprintf("Failed to write %s", name))
	}
	return idx, nil
}

func entry(bindingsDir string, paths config.TargetPaths, target config.Target, info *compile.ContractInfo, shim bool) Contract {
	c := Contract{
		Name:      info.FQN.Name,
		File:      filepath.ToSlash(info.FQN.File),
		Target:    target,
		Shim:      shim,
		Functions: []string{},
	}
	if info.IsEVM() {
		artifact := filepath.Join(compile.ArtifactDir(paths, info.FQN.File), info.FQN.Name+".json")
		c.Artifact = relative(bindingsDir, artifact)
		if info.ABI != nil {
			for name := range info.ABI.Methods {
				c.Functions = append(c.Functions, name)
			}
			for name := range info.ABI.Events {
				c.Events = append(c.Events, name)
			}
		}
		sort.Strings(c.Functions)
		sort.Strings(c.Events)
		return c
	}
	c.Wasm = relative(bindingsDir, info.Wasm.Path)
	if info.Wasm.Spec != nil {
		for _, fn := range info.Wasm.Spec.Functions() {
			c.Functions = append(c.Functions, fn.Name)
		}
	}
	return c
}

func relative(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// entryFile renders the language specific module re-exporting the index.
func entryFile(idx *Index) (string, []byte, error) {
	var name string
	switch idx.Type {
	case config.JavaScript:
		name = "index.js"
	case config.TypeScript:
		name = "index.ts"
	case config.Rust:
		name = "contracts.rs"
	default:
		return "", nil, apperrors.ConfigurationError(nil, fmt.Sprintf("unsupported project type %q", idx.Type))
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name+".tmpl", idx); err != nil {
		return "", nil, fmt.Errorf("render %s: %w", name, err)
	}
	return name, buf.Bytes(), nil
}
