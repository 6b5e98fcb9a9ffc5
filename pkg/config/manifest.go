package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chainsafe/cubist/pkg/fsutil"
)

// Address is an on-chain address. It is serialized as a JSON array of byte
// values so that both 20-byte EVM and 32-byte stellar addresses fit.
type Address []byte

// Hex returns the 0x-prefixed hex form.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a)
}

func (a Address) String() string { return a.Hex() }

// Equal reports whether both addresses hold the same bytes.
func (a Address) Equal(b Address) bool {
	return string(a) == string(b)
}

func (a Address) MarshalJSON() ([]byte, error) {
	nums := make([]int, len(a))
	for i, b := range a {
		nums[i] = int(b)
	}
	return json.Marshal(nums)
}

func (a *Address) UnmarshalJSON(data []byte) error {
	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return fmt.Errorf("address must be an array of bytes: %w", err)
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return fmt.Errorf("address byte %d out of range: %d", i, n)
		}
		out[i] = byte(n)
	}
	*a = out
	return nil
}

// ContractFQN identifies a contract definition by its source file, relative
// to the contract root, and its name.
type ContractFQN struct {
	File string `json:"file"`
	Name string `json:"name"`
}

func (f ContractFQN) String() string {
	return f.File + ":" + f.Name
}

// IsSameAs compares names and files, ignoring the file extension. A shim
// generated for a stellar receiver keeps the receiver's file stem.
func (f ContractFQN) IsSameAs(other ContractFQN) bool {
	strip := func(p string) string {
		return strings.TrimSuffix(filepath.ToSlash(p), filepath.Ext(p))
	}
	return f.Name == other.Name && strip(f.File) == strip(other.File)
}

// DeploymentInfo records where a contract was deployed.
type DeploymentInfo struct {
	Target  Target  `json:"target"`
	Address Address `json:"address"`
}

// DeploymentManifest is written once per deployed contract and consumed by
// the relayer.
type DeploymentManifest struct {
	Contract   ContractFQN      `json:"contract"`
	Deployment DeploymentInfo   `json:"deployment"`
	Shims      []DeploymentInfo `json:"shims"`
}

// FileName returns the manifest's file name inside the manifest directory.
func (m DeploymentManifest) FileName() string {
	return DeploymentManifestFileName(m.Contract.Name, m.Deployment.Address)
}

// WriteTo atomically writes the manifest into dir and returns its path.
func (m DeploymentManifest) WriteTo(dir string) (string, error) {
	if m.Shims == nil {
		m.Shims = []DeploymentInfo{}
	}
	path := filepath.Join(dir, m.FileName())
	if err := fsutil.WriteJSONAtomic(path, m); err != nil {
		return "", err
	}
	return path, nil
}

// ReadDeploymentManifest parses the manifest at path.
func ReadDeploymentManifest(path string) (*DeploymentManifest, error) {
	var m DeploymentManifest
	if err := fsutil.ReadJSON(path, &m); err != nil {
		return nil, err
	}
	if m.Contract.Name == "" || len(m.Deployment.Address) == 0 {
		return nil, fmt.Errorf("incomplete deployment manifest %s", path)
	}
	return &m, nil
}

// ContractBridge maps each bridged function of a contract to the event its
// shim emits.
type ContractBridge struct {
	Name      string            `json:"name"`
	Functions map[string]string `json:"functions"`
}

// Bridge is written next to each generated shim source file.
type Bridge struct {
	SourceFile string           `json:"source_file"`
	Sender     Target           `json:"sender_target"`
	Receiver   Target           `json:"receiver_target"`
	Contracts  []ContractBridge `json:"contracts"`
}

// FunctionEvent is one bridged (function, event) pair.
type FunctionEvent struct {
	Function string
	Event    string
}

// Bridges returns the bridged functions of the named contract sorted by
// function name.
func (b Bridge) Bridges(contract string) ([]FunctionEvent, bool) {
	for _, c := range b.Contracts {
		if c.Name != contract {
			continue
		}
		out := make([]FunctionEvent, 0, len(c.Functions))
		for fn, ev := range c.Functions {
			out = append(out, FunctionEvent{Function: fn, Event: ev})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Function < out[j].Function })
		return out, true
	}
	return nil, false
}

// ReadBridge parses a bridge manifest.
func ReadBridge(path string) (*Bridge, error) {
	var b Bridge
	if err := fsutil.ReadJSON(path, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// FileArtifact describes one source file in a target's contract directory.
type FileArtifact struct {
	// File is relative to the target's contracts directory.
	File   string `json:"file"`
	IsShim bool   `json:"is_shim"`
	// ContractDependencies maps each contract in the file to the shims it calls.
	ContractDependencies map[string][]string `json:"contract_dependencies"`
}

// PreCompileManifest lists the files pre-compile produced for a target.
type PreCompileManifest struct {
	Files []FileArtifact `json:"files"`
}

// Write stores the manifest at path.
func (m PreCompileManifest) Write(path string) error {
	if m.Files == nil {
		m.Files = []FileArtifact{}
	}
	return fsutil.WriteJSONAtomic(path, m)
}

// ReadPreCompileManifest parses the manifest at path.
func ReadPreCompileManifest(path string) (*PreCompileManifest, error) {
	var m PreCompileManifest
	if err := fsutil.ReadJSON(path, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
