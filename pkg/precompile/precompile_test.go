package precompile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/chainsafe/cubist/internal/command"
	"github.com/chainsafe/cubist/internal/ui"
	"github.com/chainsafe/cubist/pkg/config"
)

const receiverSrc = `// SPDX-License-Identifier: MIT
pragma solidity ^0.8.16;

contract Receiver {
    uint256 number;
    constructor(uint256 n) { number = n; }
    function store(uint256 num) public { number = num; }
    function retrieve() public view returns (uint256) { return number; }
}
`

const senderSrc = `// SPDX-License-Identifier: MIT
pragma solidity ^0.8.16;

import "./Receiver.sol";

contract Sender {
    Receiver receiver;
    uint256 number;
    constructor(uint256 n, Receiver r) { number = n; receiver = r; }
    function store(uint256 num) public {
        number = num;
        receiver.store(num);
    }
}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func project(t *testing.T, cfgJSON string, files map[string]string) *config.Config {
	t.Helper()
	ui.SetQuiet(true)
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, config.DefaultFilename), cfgJSON)
	for name, content := range files {
		writeFile(t, filepath.Join(dir, name), content)
	}
	cfg, err := config.FromDir(dir)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

const storeConfig = `{
  "type": "JavaScript",
  "contracts": {
    "root_dir": "contracts",
    "targets": {
      "ethereum": { "files": ["contracts/Receiver.sol"] },
      "polygon": { "files": ["contracts/Sender.sol"] }
    }
  }
}`

func TestRun_TwoChainStore(t *testing.T) {
	cfg := project(t, storeConfig, map[string]string{
		"contracts/Receiver.sol": receiverSrc,
		"contracts/Sender.sol":   senderSrc,
	})

	res, err := New(cfg).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	eth := cfg.Paths().ForTarget(config.Ethereum)
	poly := cfg.Paths().ForTarget(config.Polygon)

	copied, err := os.ReadFile(filepath.Join(eth.Contracts, "Receiver.sol"))
	if err != nil || string(copied) != receiverSrc {
		t.Fatalf("ethereum Receiver.sol not copied verbatim: %v", err)
	}
	sender, err := os.ReadFile(filepath.Join(poly.Contracts, "Sender.sol"))
	if err != nil || string(sender) != senderSrc {
		t.Fatalf("polygon Sender.sol not copied verbatim: %v", err)
	}
	shim, err := os.ReadFile(filepath.Join(poly.Contracts, "Receiver.sol"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(shim), "emit __Receiver_store(num);") {
		t.Errorf("polygon Receiver.sol is not a shim:\n%s", shim)
	}

	bridge, err := config.ReadBridge(filepath.Join(poly.Contracts, "Receiver.bridge.json"))
	if err != nil {
		t.Fatal(err)
	}
	if got := bridge.Contracts[0].Functions["store"]; got != "__Receiver_store" {
		t.Errorf("store bridged to %q", got)
	}

	ethManifest, err := config.ReadPreCompileManifest(eth.Manifest)
	if err != nil {
		t.Fatal(err)
	}
	wantEth := []config.FileArtifact{{File: "Receiver.sol", ContractDependencies: map[string][]string{"Receiver": {}}}}
	if !reflect.DeepEqual(ethManifest.Files, wantEth) {
		t.Errorf("ethereum manifest = %+v", ethManifest.Files)
	}

	wantPoly := []config.FileArtifact{
		{File: "Receiver.sol", IsShim: true, ContractDependencies: map[string][]string{"Receiver": {}}},
		{File: "Sender.sol", ContractDependencies: map[string][]string{"Sender": {"Receiver"}}},
	}
	if !reflect.DeepEqual(res.Manifests[config.Polygon].Files, wantPoly) {
		t.Errorf("polygon manifest = %+v", res.Manifests[config.Polygon].Files)
	}
}

func TestRun_RemovesStaleFiles(t *testing.T) {
	cfg := project(t, storeConfig, map[string]string{
		"contracts/Receiver.sol": receiverSrc,
		"contracts/Sender.sol":   senderSrc,
	})
	stale := filepath.Join(cfg.Paths().ForTarget(config.Ethereum).Contracts, "Old.sol")
	writeFile(t, stale, "contract Old {}")

	if _, err := New(cfg).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stale file survived: %v", err)
	}
}

const externalSrc = `// SPDX-License-Identifier: MIT
pragma solidity ^0.8.16;
import "@openzeppelin/contracts/access/Ownable.sol";
contract Receiver {}
`

func TestRun_MissingExternalImports(t *testing.T) {
	cfg := project(t, `{
  "type": "JavaScript",
  "contracts": {
    "root_dir": "contracts",
    "targets": { "ethereum": { "files": ["contracts/Receiver.sol"] } }
  }
}`, map[string]string{"contracts/Receiver.sol": externalSrc})

	runner := command.RunnerFunc(func(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
		t.Fatalf("package manager must not run: %s %v", name, args)
		return nil, nil
	})
	_, err := New(cfg, WithRunner(runner)).Run(context.Background())
	var target *MissingImportsError
	if !errors.As(err, &target) {
		t.Fatalf("expected MissingImportsError, got %v", err)
	}
	if !reflect.DeepEqual(target.Imports, []string{"@openzeppelin/contracts/access/Ownable.sol"}) {
		t.Errorf("missing imports = %v", target.Imports)
	}
}

func TestRun_InstallsExternalImports(t *testing.T) {
	cfg := project(t, `{
  "type": "JavaScript",
  "allow_import_from_external": true,
  "contracts": {
    "root_dir": "contracts",
    "targets": { "ethereum": { "files": ["contracts/Receiver.sol"] } }
  }
}`, map[string]string{
		"contracts/Receiver.sol": externalSrc,
		"package-lock.json":      "{}",
	})

	var calls [][]string
	runner := command.RunnerFunc(func(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
		calls = append(calls, append([]string{name}, args...))
		writeFile(t, filepath.Join(dir, "node_modules", "@openzeppelin", "contracts", "access", "Ownable.sol"), "")
		return nil, nil
	})
	if _, err := New(cfg, WithRunner(runner)).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := [][]string{{"npm", "install", "--save", "@openzeppelin/contracts"}}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v", calls)
	}
}

func TestDetectPackageManager(t *testing.T) {
	dir := t.TempDir()
	none := func(string) bool { return false }
	if got := DetectPackageManager(dir, none); got != Npm {
		t.Errorf("fallback = %s", got)
	}
	if got := DetectPackageManager(dir, func(name string) bool { return name == "yarn" }); got != Yarn {
		t.Errorf("installed yarn = %s", got)
	}
	writeFile(t, filepath.Join(dir, "pnpm-lock.yaml"), "")
	if got := DetectPackageManager(dir, none); got != Pnpm {
		t.Errorf("pnpm lockfile = %s", got)
	}
	writeFile(t, filepath.Join(dir, "yarn.lock"), "")
	if got := DetectPackageManager(dir, none); got != Yarn {
		t.Errorf("yarn lockfile = %s", got)
	}
}

func TestPackageName(t *testing.T) {
	cases := []struct{ in, want string }{
		{in: "@openzeppelin/contracts/access/Ownable.sol", want: "@openzeppelin/contracts"},
		{in: "@scope/pkg", want: "@scope/pkg"},
		{in: "@lonely", want: "@lonely"},
	}
	for _, tc := range cases {
		if got := PackageName(tc.in); got != tc.want {
			t.Errorf("PackageName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
