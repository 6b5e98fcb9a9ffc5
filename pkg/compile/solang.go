package compile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/chainsafe/cubist/internal/command"
	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/fsutil"
)

// Solang compiles Solidity with the solang compiler's EVM target. Solang
// writes {contract}.abi and {contract}.bin files which are folded into the
// same artifacts solc produces.
type Solang struct {
	paths      config.TargetPaths
	importDirs []string
	runner     command.Runner
	logger     *zap.Logger
}

// NewSolang returns a solang compiler for a target.
func NewSolang(paths config.TargetPaths, importDirs []string, runner command.Runner, logger *zap.Logger) *Solang {
	return &Solang{paths: paths, importDirs: importDirs, runner: runner, logger: logger}
}

func (s *Solang) Clean() error {
	return cleanDirs(s.paths.Artifacts, s.paths.Cache)
}

func (s *Solang) CompileFile(ctx context.Context, file string) error {
	out := filepath.Join(s.paths.Cache, "solang", filepath.Base(file))
	if err := os.RemoveAll(out); err != nil {
		return fmt.Errorf("clean %s: %w", out, err)
	}
	args := []string{"compile", "--target", "evm", "--output", out, "--importpath", "."}
	for _, dir := range s.importDirs {
		if fsutil.Exists(dir) {
			args = append(args, "--importpath", dir)
		}
	}
	args = append(args, filepath.ToSlash(file))
	if _, err := s.runner.Run(ctx, s.paths.Contracts, "solang", args...); err != nil {
		return fmt.Errorf("compile %s: %w", file, err)
	}

	entries, err := os.ReadDir(out)
	if err != nil {
		return fmt.Errorf("read solang output %s: %w", out, err)
	}
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".abi")
		if !ok {
			continue
		}
		abiJSON, err := os.ReadFile(filepath.Join(out, e.Name()))
		if err != nil {
			return fmt.Errorf("read abi of %s: %w", name, err)
		}
		bin, err := os.ReadFile(filepath.Join(out, name+".bin"))
		if err != nil {
			return fmt.Errorf("read bytecode of %s: %w", name, err)
		}
		a := Artifact{
			ContractName: name,
			SourceName:   filepath.ToSlash(file),
			ABI:          abiJSON,
			Bytecode:     Bytecode{Object: withHexPrefix(strings.TrimSpace(string(bin)))},
		}
		s.logger.Debug("Writing artifact", zap.String("file", file), zap.String("contract", name))
		if err := WriteArtifact(s.paths, a); err != nil {
			return err
		}
	}
	return nil
}

func (s *Solang) FindCompiledContracts(file string) (map[string]*ContractInfo, error) {
	return ReadArtifacts(s.paths, file)
}
