package parse

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/chainsafe/cubist/pkg/config"
)

const projectConfig = `{
  "type": "JavaScript",
  "contracts": {
    "root_dir": "contracts/",
    "targets": {
      "avalanche": { "files": ["contracts/Error.sol"] }
    }
  }
}`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// setupProject creates my-app/ with a single contract and returns the
// temp dir and the loaded sources.
func setupProject(t *testing.T, contract string, extra map[string]string) (string, *config.Config, *SourceFiles) {
	t.Helper()
	tmp, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	app := filepath.Join(tmp, "my-app")
	writeFile(t, filepath.Join(app, config.DefaultFilename), projectConfig)
	writeFile(t, filepath.Join(app, "contracts", "Error.sol"), contract)
	for name, content := range extra {
		writeFile(t, filepath.Join(tmp, name), content)
	}
	cfg, err := config.FromDir(app)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	sources, err := NewSourceFiles(context.Background(), cfg.Contracts)
	if err != nil {
		t.Fatalf("parse sources: %v", err)
	}
	if sources.Len() != 1 {
		t.Fatalf("expected 1 source, got %d", sources.Len())
	}
	return tmp, cfg, sources
}

const relativeImport = `
// SPDX-License-Identifier: MIT
pragma solidity ^0.8.17;

import '../Dummy.sol';
`

func TestCheckImports_CanonicalizationError(t *testing.T) {
	_, cfg, sources := setupProject(t, relativeImport, nil)
	err := sources.CheckImports(cfg.Contracts.RootDir)
	var target *CanonicalizationError
	if !errors.As(err, &target) {
		t.Fatalf("expected CanonicalizationError, got %v", err)
	}
	if target.Import != "../Dummy.sol" {
		t.Errorf("import = %q", target.Import)
	}
}

func TestCheckImports_RelativePathError(t *testing.T) {
	_, cfg, sources := setupProject(t, relativeImport, map[string]string{"my-app/Dummy.sol": ""})
	err := sources.CheckImports(cfg.Contracts.RootDir)
	var target *RelativePathError
	if !errors.As(err, &target) {
		t.Fatalf("expected RelativePathError, got %v", err)
	}
}

func TestCheckImports_AbsolutePathError(t *testing.T) {
	dir, cfg, _ := setupProject(t, "contract A {}", map[string]string{"my-app/contracts/EthStorage.sol": ""})
	contract := "pragma solidity ^0.8.17;\nimport '" + filepath.Join(dir, "my-app", "contracts", "EthStorage.sol") + "';\n"
	writeFile(t, filepath.Join(dir, "my-app", "contracts", "Error.sol"), contract)
	sources, err := NewSourceFiles(context.Background(), cfg.Contracts)
	if err != nil {
		t.Fatal(err)
	}
	err = sources.CheckImports(cfg.Contracts.RootDir)
	var target *AbsolutePathError
	if !errors.As(err, &target) {
		t.Fatalf("expected AbsolutePathError, got %v", err)
	}
}

func TestCheckImports_Allowed(t *testing.T) {
	contract := `
import "@openzeppelin/contracts/access/Ownable.sol";
import "stellar://store";
import "./Other.sol";
import {Other as O} from "./Other.sol";
`
	_, cfg, sources := setupProject(t, contract, map[string]string{"my-app/contracts/Other.sol": "contract Other {}"})
	if err := sources.CheckImports(cfg.Contracts.RootDir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"./Other.sol", "@openzeppelin/contracts/access/Ownable.sol", "stellar://store"}
	if got := sources.ImportPaths(); !reflect.DeepEqual(got, want) {
		t.Errorf("import paths = %v", got)
	}
}

func TestCheckImports_Unicode(t *testing.T) {
	_, cfg, sources := setupProject(t, `import unicode"./Other.sol";`, nil)
	var target *UnicodeImportError
	if err := sources.CheckImports(cfg.Contracts.RootDir); !errors.As(err, &target) {
		t.Fatalf("expected UnicodeImportError, got %v", err)
	}
}

func TestSourceFile_Headers(t *testing.T) {
	_, _, sources := setupProject(t, relativeImport+"\ncontract A {}\ncontract B {}\n", nil)
	source := sources.Sources[0]
	license, err := source.License()
	if err != nil || license != "MIT" {
		t.Errorf("license = %q, %v", license, err)
	}
	if got := source.Pragmas(); !reflect.DeepEqual(got, []string{"pragma solidity ^0.8.17;"}) {
		t.Errorf("pragmas = %v", got)
	}
	if got := source.ContractNames(); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("contract names = %v", got)
	}
	if source.RelPath != "Error.sol" || source.Target != config.Avalanche {
		t.Errorf("unexpected source metadata: %s %s", source.RelPath, source.Target)
	}
}

func TestSourceFile_MissingLicense(t *testing.T) {
	_, _, sources := setupProject(t, "// SPDX-License-Identifier:   \ncontract A {}", nil)
	var target *MissingLicenseError
	if _, err := sources.Sources[0].License(); !errors.As(err, &target) {
		t.Fatalf("expected MissingLicenseError, got %v", err)
	}
}

func TestNewSourceFiles_SyntaxError(t *testing.T) {
	tmp := t.TempDir()
	writeFile(t, filepath.Join(tmp, config.DefaultFilename), projectConfig)
	writeFile(t, filepath.Join(tmp, "contracts", "Error.sol"), "contract {")
	cfg, err := config.FromDir(tmp)
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewSourceFiles(context.Background(), cfg.Contracts)
	var target *SyntaxError
	if !errors.As(err, &target) {
		t.Fatalf("expected SyntaxError, got %v", err)
	}
}

func TestContractNameFromFile(t *testing.T) {
	cases := map[string]string{
		"contracts/my_store.wasm":  "MyStore",
		"store-contract.wasm":      "StoreContract",
		"alreadyCamel.wasm":        "AlreadyCamel",
		"/abs/dir/counter_v2.wasm": "CounterV2",
	}
	for in, want := range cases {
		if got := ContractNameFromFile(in); got != want {
			t.Errorf("ContractNameFromFile(%q) = %q, want %q", in, got, want)
		}
	}
}
