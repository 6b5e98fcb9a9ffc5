package compile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common/compiler"
	"go.uber.org/zap"

	"github.com/chainsafe/cubist/internal/command"
	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/fsutil"
	"github.com/chainsafe/cubist/pkg/parse"
)

const solcOutputs = "abi,bin,bin-runtime,userdoc,devdoc,metadata"

// Solc compiles Solidity with the solc command line compiler.
type Solc struct {
	paths      config.TargetPaths
	importDirs []string
	runner     command.Runner
	logger     *zap.Logger
}

// NewSolc returns a solc compiler for a target.
func NewSolc(paths config.TargetPaths, importDirs []string, runner command.Runner, logger *zap.Logger) *Solc {
	return &Solc{paths: paths, importDirs: importDirs, runner: runner, logger: logger}
}

func (s *Solc) Clean() error {
	return cleanDirs(s.paths.Artifacts, s.paths.BuildInfos)
}

// CompileFile compiles file, relative to the contracts directory, and
// writes one artifact per contract it defines.
func (s *Solc) CompileFile(ctx context.Context, file string) error {
	args := []string{
		"--combined-json", solcOutputs,
		"--base-path", ".",
		"--allow-paths", ".",
	}
	for _, dir := range s.importDirs {
		if fsutil.Exists(dir) {
			args = append(args, "--include-path", dir)
		}
	}
	// Stellar contracts are imported through the shims generated next to them.
	args = append(args, ":"+parse.StellarImportPrefix+"="+s.paths.Contracts+string(filepath.Separator), filepath.ToSlash(file))

	out, err := s.runner.Run(ctx, s.paths.Contracts, "solc", args...)
	if err != nil {
		return fmt.Errorf("compile %s: %w", file, err)
	}
	artifacts, err := parseCombinedJSON(out, filepath.ToSlash(file))
	if err != nil {
		return fmt.Errorf("compile %s: %w", file, err)
	}
	for _, a := range artifacts {
		s.logger.Debug("Writing artifact", zap.String("file", file), zap.String("contract", a.ContractName))
		if err := WriteArtifact(s.paths, a); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(s.paths.BuildInfos, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", s.paths.BuildInfos, err)
	}
	return fsutil.WriteFile(filepath.Join(s.paths.BuildInfos, filepath.Base(file)+".json"), out)
}

func (s *Solc) FindCompiledContracts(file string) (map[string]*ContractInfo, error) {
	return ReadArtifacts(s.paths, file)
}

// parseCombinedJSON turns solc --combined-json output into artifacts for the
// contracts defined in sourceName. Imported contracts are compiled too but
// belong to their own files.
func parseCombinedJSON(out []byte, sourceName string) ([]Artifact, error) {
	contracts, err := compiler.ParseCombinedJSON(out, "", "", "", "")
	if err != nil {
		return nil, fmt.Errorf("parse solc output: %w", err)
	}
	var artifacts []Artifact
	for key, c := range contracts {
		i := strings.LastIndex(key, ":")
		if i < 0 || key[:i] != sourceName {
			continue
		}
		abiJSON, err := json.Marshal(c.Info.AbiDefinition)
		if err != nil {
			return nil, fmt.Errorf("marshal abi of %s: %w", key, err)
		}
		artifacts = append(artifacts, Artifact{
			ContractName:     key[i+1:],
			SourceName:       sourceName,
			ABI:              abiJSON,
			Bytecode:         Bytecode{Object: withHexPrefix(c.Code)},
			DeployedBytecode: Bytecode{Object: withHexPrefix(c.RuntimeCode)},
		})
	}
	return artifacts, nil
}

func cleanDirs(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("clean %s: %w", dir, err)
		}
	}
	return nil
}
