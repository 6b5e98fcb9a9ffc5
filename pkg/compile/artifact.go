package compile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/fsutil"
	"github.com/chainsafe/cubist/pkg/soroban"
)

// Bytecode is the object of a compiled EVM contract.
type Bytecode struct {
	Object string `json:"object"`
}

// Artifact is the on-disk form of one compiled contract, stored at
// artifacts/{file name}/{contract}.json.
type Artifact struct {
	ContractName     string          `json:"contractName"`
	SourceName       string          `json:"sourceName"`
	ABI              json.RawMessage `json:"abi"`
	Bytecode         Bytecode        `json:"bytecode"`
	DeployedBytecode Bytecode        `json:"deployedBytecode"`
}

// ArtifactDir is where the artifacts of a source file are written.
func ArtifactDir(paths config.TargetPaths, sourceFile string) string {
	return filepath.Join(paths.Artifacts, filepath.Base(sourceFile))
}

// WriteArtifact stores a in the artifact directory of its source file.
func WriteArtifact(paths config.TargetPaths, a Artifact) error {
	path := filepath.Join(ArtifactDir(paths, a.SourceName), a.ContractName+".json")
	return fsutil.WriteJSONAtomic(path, a)
}

// ContractInfo is a compiled contract ready for deployment. EVM contracts
// carry an ABI and bytecode, Stellar contracts a WASM module.
type ContractInfo struct {
	FQN      config.ContractFQN
	ABI      *abi.ABI
	Bytecode []byte
	Wasm     *WasmModule
}

// WasmModule is a compiled Soroban contract.
type WasmModule struct {
	Path string
	// Hash is the hex sha256 of the module.
	Hash string
	Spec *soroban.Spec
}

// IsEVM reports whether the contract runs on an EVM chain.
func (c *ContractInfo) IsEVM() bool {
	return c.Wasm == nil
}

// ReadArtifacts loads every artifact of sourceFile.
func ReadArtifacts(paths config.TargetPaths, sourceFile string) (map[string]*ContractInfo, error) {
	dir := ArtifactDir(paths, sourceFile)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("no artifacts for %s in %s: %w", sourceFile, dir, err)
	}
	out := map[string]*ContractInfo{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		info, err := readArtifact(path)
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		info.FQN = config.ContractFQN{File: filepath.ToSlash(sourceFile), Name: name}
		out[name] = info
	}
	return out, nil
}

func readArtifact(path string) (*ContractInfo, error) {
	var a Artifact
	if err := fsutil.ReadJSON(path, &a); err != nil {
		return nil, err
	}
	if len(a.ABI) == 0 {
		return nil, fmt.Errorf("invalid artifact %s: property 'abi' not found", path)
	}
	parsed, err := abi.JSON(bytes.NewReader(a.ABI))
	if err != nil {
		return nil, fmt.Errorf("invalid artifact %s: invalid 'abi' value: %w", path, err)
	}
	code, err := hexutil.Decode(withHexPrefix(a.Bytecode.Object))
	if err != nil {
		return nil, fmt.Errorf("invalid artifact %s: 'bytecode.object' is not a hex string: %w", path, err)
	}
	return &ContractInfo{ABI: &parsed, Bytecode: code}, nil
}

func withHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") {
		return s
	}
	return "0x" + s
}

func sortedNames(m map[string]*ContractInfo) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
