// Package gen extracts the cross-chain interfaces of contracts and renders
// the shim contracts and bridge manifests that stand in for a callee on each
// of its callers' chains.
package gen

import (
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/chainsafe/cubist/pkg/analyzer"
	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/parse"
)

const (
	defaultPragma  = "pragma solidity ^0.8.16;"
	defaultLicense = "UNLICENSED"
)

// FileInterfaces holds the interfaces of one callee file as seen from one
// sender target.
type FileInterfaces struct {
	// SourcePath is the absolute path of the callee file.
	SourcePath string
	// RelPath is the callee file relative to the contract root.
	RelPath    string
	Sender     config.Target
	Receiver   config.Target
	Pragmas    []string
	Imports    []string
	License    string
	Interfaces []*ContractInterface
}

// TargetFile is where the shim goes inside the sender's contracts
// directory. Stellar callees get a Solidity file next to where their module
// would be.
func (f *FileInterfaces) TargetFile() string {
	if f.Receiver == config.Stellar && f.Sender.IsEVM() {
		return strings.TrimSuffix(f.RelPath, filepath.Ext(f.RelPath)) + ".sol"
	}
	return f.RelPath
}

// ContractNames returns the contracts with interfaces in the file.
func (f *FileInterfaces) ContractNames() []string {
	names := make([]string, 0, len(f.Interfaces))
	for _, ci := range f.Interfaces {
		names = append(names, ci.Contract)
	}
	return names
}

// Interfaces is the result of interface extraction over a project.
type Interfaces struct {
	Files []*FileInterfaces
	// Dependencies maps each contract to the cross-chain contracts it calls.
	Dependencies map[string][]string
}

// Option configures interface extraction.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger used during extraction.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// GetInterfaces analyzes sources and returns the interfaces every sender
// target needs.
func GetInterfaces(sources *parse.SourceFiles, opts ...Option) (*Interfaces, error) {
	o := buildOptions(opts)
	a := analyzer.New(analyzer.WithLogger(o.logger))
	if err := a.Analyze(sources.Sources); err != nil {
		return nil, err
	}
	files, err := fileInterfaces(analyzedConfig(a), sources, o.logger)
	if err != nil {
		return nil, err
	}
	return &Interfaces{Files: files, Dependencies: a.Dependencies()}, nil
}

// InterfaceForContract exposes every exposable function of contract to each
// of targets, regardless of what is called.
func InterfaceForContract(sources *parse.SourceFiles, contract string, targets []config.Target, opts ...Option) (*Interfaces, error) {
	o := buildOptions(opts)
	a := analyzer.New(analyzer.WithLogger(o.logger))
	if err := a.Locate(sources.Sources); err != nil {
		return nil, err
	}
	file, ok := a.ContractFiles()[contract]
	if !ok {
		return nil, &analyzer.MissingContractError{Name: contract}
	}
	its := make([]analyzer.InterfaceTarget, 0, len(targets))
	for _, t := range targets {
		its = append(its, analyzer.InterfaceTarget{Target: t})
	}
	files, err := fileInterfaces(explicitConfig(file, contract, its), sources, o.logger)
	if err != nil {
		return nil, err
	}
	return &Interfaces{Files: files, Dependencies: map[string][]string{}}, nil
}

func fileInterfaces(cfg *interfaceConfig, sources *parse.SourceFiles, logger *zap.Logger) ([]*FileInterfaces, error) {
	byFile := map[string]*parse.SourceFile{}
	for _, s := range sources.Sources {
		byFile[s.FileName] = s
	}

	var out []*FileInterfaces
	for _, file := range cfg.sourceFiles() {
		callee, ok := byFile[file]
		if !ok {
			continue
		}
		cis, err := interfaces(cfg, callee)
		if err != nil {
			return nil, err
		}
		if len(cis) == 0 {
			continue
		}
		seen := map[config.Target]bool{}
		for _, it := range cfg.targetsFor(file) {
			// one shim per sender target, however many files call it
			if seen[it.Target] {
				continue
			}
			seen[it.Target] = true
			fi, err := newFileInterfaces(callee, byFile[it.SenderFile], it.Target, cis)
			if err != nil {
				return nil, err
			}
			logger.Debug("Generating interfaces",
				zap.String("file", fi.RelPath),
				zap.Stringer("sender", fi.Sender),
				zap.Stringer("receiver", fi.Receiver),
				zap.Strings("contracts", fi.ContractNames()))
			out = append(out, fi)
		}
	}
	return out, nil
}

// newFileInterfaces takes headers from the callee when it is Solidity, since
// the forwarded code must compile with the callee's compiler settings.
// Stellar callees have none, so the sender's are used.
func newFileInterfaces(callee, sender *parse.SourceFile, target config.Target, cis []*ContractInterface) (*FileInterfaces, error) {
	fi := &FileInterfaces{
		SourcePath: callee.FileName,
		RelPath:    callee.RelPath,
		Sender:     target,
		Receiver:   callee.Target,
		Interfaces: cis,
	}
	headers := callee
	if !callee.IsSolidity() {
		headers = sender
	} else {
		for _, imp := range callee.Imports() {
			if strings.HasPrefix(imp.Path, parse.StellarImportPrefix) {
				continue
			}
			fi.Imports = append(fi.Imports, callee.Unit.Text(imp.Loc))
		}
	}
	if headers != nil {
		fi.Pragmas = headers.Pragmas()
		license, err := headers.License()
		if err != nil {
			return nil, err
		}
		fi.License = license
	}
	if len(fi.Pragmas) == 0 {
		fi.Pragmas = []string{defaultPragma}
	}
	if fi.License == "" {
		fi.License = defaultLicense
	}
	return fi, nil
}
