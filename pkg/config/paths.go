package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// PreCompileManifestFilename is written per target by pre-compile.
	PreCompileManifestFilename = "cubist-manifest.json"
	// BridgedSuffix marks a deployment manifest whose bridges are running.
	BridgedSuffix = ".bridged"
)

// Paths are the well known locations of a project.
type Paths struct {
	ProjectDir    string
	BuildDir      string
	DeployDir     string
	ContractsRoot string
}

// TargetPaths are the build locations of a single target.
type TargetPaths struct {
	BuildRoot string
	// Contracts holds the contract root copied for the target plus generated shims.
	Contracts string
	// Manifest is the pre-compile manifest.
	Manifest   string
	Artifacts  string
	Cache      string
	BuildInfos string
}

// Paths derives the project layout from the config.
func (c *Config) Paths() Paths {
	return Paths{
		ProjectDir:    c.ProjectDir(),
		BuildDir:      c.BuildDir,
		DeployDir:     c.DeployDir,
		ContractsRoot: c.Contracts.RootDir,
	}
}

// ForTarget returns the build locations of t.
func (p Paths) ForTarget(t Target) TargetPaths {
	root := filepath.Join(p.BuildDir, string(t))
	return TargetPaths{
		BuildRoot:  root,
		Contracts:  filepath.Join(root, "contracts"),
		Manifest:   filepath.Join(root, PreCompileManifestFilename),
		Artifacts:  filepath.Join(root, "artifacts"),
		Cache:      filepath.Join(root, "cache"),
		BuildInfos: filepath.Join(root, "build-infos"),
	}
}

// DeploymentManifestDir holds one manifest per deployed contract.
func (p Paths) DeploymentManifestDir() string {
	return filepath.Join(p.DeployDir, "manifests")
}

// DeploymentManifestPath returns where the manifest of the named contract at
// addr is written.
func (p Paths) DeploymentManifestPath(name string, addr []byte) string {
	return filepath.Join(p.DeploymentManifestDir(), DeploymentManifestFileName(name, addr))
}

// DeploymentManifestFileName is "{name}-{hex(addr)}.json".
func DeploymentManifestFileName(name string, addr []byte) string {
	return name + "-" + hex.EncodeToString(addr) + ".json"
}

// BridgedPath returns the sibling a deployment manifest is renamed to once
// its bridges are running.
func BridgedPath(manifestPath string) string {
	return manifestPath + BridgedSuffix
}

// IsDeploymentManifest reports whether a file name is an unbridged manifest.
func IsDeploymentManifest(path string) bool {
	return strings.HasSuffix(path, ".json") && !strings.HasPrefix(filepath.Base(path), ".")
}

// BridgeFileName returns the bridge manifest name for a shim source file,
// e.g. "sub/Receiver.sol" becomes "sub/Receiver.bridge.json".
func BridgeFileName(sourceFile string) string {
	return strings.TrimSuffix(sourceFile, filepath.Ext(sourceFile)) + ".bridge.json"
}

// ClientBindingsDir holds the generated per-target contract index.
func (p Paths) ClientBindingsDir() string {
	return filepath.Join(p.BuildDir, "bindings")
}

// CacheDirEnv overrides the per-user cache directory.
const CacheDirEnv = "CUBIST_CACHE_DIR"

// CacheDir is where downloaded chain binaries, bootstrap history and daemon
// state live: $CUBIST_CACHE_DIR, or "cubist" under the user cache directory.
func CacheDir() (string, error) {
	v := viper.New()
	if err := v.BindEnv("cache_dir", CacheDirEnv); err != nil {
		return "", err
	}
	if dir := v.GetString("cache_dir"); dir != "" {
		return filepath.Abs(dir)
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to find cache directory: %w", err)
	}
	return filepath.Join(base, "cubist"), nil
}
