package compile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/parse"
	"github.com/chainsafe/cubist/pkg/soroban"
)

// Soroban handles Stellar contracts. Their sources are WASM modules built by
// the Soroban toolchain, so compiling only checks that a module carries a
// contract spec.
type Soroban struct {
	paths  config.TargetPaths
	logger *zap.Logger
}

// NewSoroban returns the Stellar compiler for a target.
func NewSoroban(paths config.TargetPaths, logger *zap.Logger) *Soroban {
	return &Soroban{paths: paths, logger: logger}
}

func (s *Soroban) Clean() error { return nil }

func (s *Soroban) CompileFile(ctx context.Context, file string) error {
	_, err := s.load(ctx, file)
	return err
}

func (s *Soroban) FindCompiledContracts(file string) (map[string]*ContractInfo, error) {
	info, err := s.load(context.Background(), file)
	if err != nil {
		return nil, err
	}
	return map[string]*ContractInfo{info.FQN.Name: info}, nil
}

func (s *Soroban) load(ctx context.Context, file string) (*ContractInfo, error) {
	path := filepath.Join(s.paths.Contracts, filepath.FromSlash(file))
	wasm, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	spec, err := soroban.ReadSpec(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("read contract spec of %s: %w", path, err)
	}
	sum := sha256.Sum256(wasm)
	name := parse.ContractNameFromFile(file)
	s.logger.Debug("Loaded Soroban contract", zap.String("file", file), zap.String("contract", name))
	return &ContractInfo{
		FQN:  config.ContractFQN{File: filepath.ToSlash(file), Name: name},
		Wasm: &WasmModule{Path: path, Hash: hex.EncodeToString(sum[:]), Spec: spec},
	}, nil
}
