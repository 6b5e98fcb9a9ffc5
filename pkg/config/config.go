// Package config loads cubist-config.json and derives the project layout
// from it.
//
// A config assigns contract source files to targets, names the build and
// deploy directories, and holds named network profiles describing how each
// target chain is reached. Paths in the file are relative to the directory
// containing it; after Load every directory field is absolute.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/chainsafe/cubist/pkg/fsutil"
)

// DefaultFilename is the name of the project config file.
const DefaultFilename = "cubist-config.json"

// ProjType is the language the off-chain application is written in.
type ProjType string

const (
	JavaScript ProjType = "JavaScript"
	TypeScript ProjType = "TypeScript"
	Rust       ProjType = "Rust"
)

// Compiler compiles the contracts of a target.
type Compiler string

const (
	Solc    Compiler = "solc"
	Solang  Compiler = "solang"
	Soroban Compiler = "soroban"
)

// BridgeProvider selects how cross-chain calls are carried.
type BridgeProvider string

const (
	// BridgeCubist uses generated event shims and the cubist relayer.
	BridgeCubist BridgeProvider = "Cubist"
	// BridgeAxelar uses Axelar gateway contracts.
	BridgeAxelar BridgeProvider = "Axelar"
)

// TargetConfig lists the source files of one target.
type TargetConfig struct {
	// Files are glob patterns relative to the project directory.
	Files    []string `json:"files" validate:"required"`
	Compiler Compiler `json:"compiler,omitempty" validate:"omitempty,oneof=solc solang soroban"`

	resolved []string
}

// ResolvedFiles returns the absolute paths matched by Files. It is empty
// before the config is loaded.
func (t TargetConfig) ResolvedFiles() []string {
	return t.resolved
}

func (t *TargetConfig) UnmarshalJSON(data []byte) error {
	type plain TargetConfig
	var v plain
	if err := decodeStrict(data, &v); err != nil {
		return err
	}
	*t = TargetConfig(v)
	return nil
}

// ContractsConfig assigns contract files to targets.
type ContractsConfig struct {
	RootDir    string                  `json:"root_dir" default:"contracts"`
	Targets    map[Target]TargetConfig `json:"targets"`
	ImportDirs []string                `json:"import_dirs"`
}

func (c *ContractsConfig) UnmarshalJSON(data []byte) error {
	type plain ContractsConfig
	var v plain
	if err := defaults.Set(&v); err != nil {
		return err
	}
	if err := decodeStrict(data, &v); err != nil {
		return err
	}
	if v.ImportDirs == nil {
		v.ImportDirs = []string{"node_modules"}
	}
	*c = ContractsConfig(v)
	return nil
}

// RelativeToRoot returns path relative to the contract root.
func (c ContractsConfig) RelativeToRoot(path string) (string, error) {
	if !fsutil.HasPathPrefix(path, c.RootDir) {
		return "", &InvalidContractFilePathsError{Paths: []string{path}}
	}
	return filepath.Rel(c.RootDir, path)
}

// Config is the project configuration.
type Config struct {
	Type                    ProjType                  `json:"type" validate:"required,oneof=JavaScript TypeScript Rust"`
	BuildDir                string                    `json:"build_dir" default:"build"`
	DeployDir               string                    `json:"deploy_dir" default:"deploy"`
	Contracts               ContractsConfig           `json:"contracts"`
	NetworkProfiles         map[string]NetworkProfile `json:"network_profiles" validate:"dive"`
	CurrentNetworkProfile   string                    `json:"current_network_profile" default:"default"`
	BridgeProvider          BridgeProvider            `json:"bridge_provider" default:"Cubist" validate:"oneof=Cubist Axelar"`
	AllowImportFromExternal bool                      `json:"allow_import_from_external"`

	path string
}

func newDefaultConfig() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("set config defaults: %w", err)
	}
	if err := defaults.Set(&cfg.Contracts); err != nil {
		return nil, fmt.Errorf("set contracts defaults: %w", err)
	}
	cfg.Contracts.ImportDirs = []string{"node_modules"}
	return cfg, nil
}

// New returns a default config of the given type for a project in dir. The
// file is not written.
func New(typ ProjType, dir string) (*Config, error) {
	abs, err := fsutil.Canonicalize(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize path %s: %w", dir, err)
	}
	cfg, err := newDefaultConfig()
	if err != nil {
		return nil, err
	}
	cfg.Type = typ
	cfg.path = filepath.Join(abs, DefaultFilename)
	cfg.NetworkProfiles = map[string]NetworkProfile{"default": {}}
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Nearest loads the config file in dir or the closest parent directory.
func Nearest(dir string) (*Config, error) {
	path, ok := fsutil.FindUp(DefaultFilename, dir)
	if !ok {
		return nil, ErrFileNotFound
	}
	return Load(path)
}

// FromDir loads DefaultFilename from dir.
func FromDir(dir string) (*Config, error) {
	return Load(filepath.Join(dir, DefaultFilename))
}

// Load reads, resolves and validates the config at path. BUILD_DIR,
// DEPLOY_DIR and NETWORK_PROFILE (or their CUBIST_ prefixed forms) override
// the corresponding fields.
func Load(path string) (*Config, error) {
	return LoadWithLogger(path, zap.NewNop())
}

// LoadWithLogger is Load with debug logging of environment overrides.
func LoadWithLogger(path string, logger *zap.Logger) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := newDefaultConfig()
	if err != nil {
		return nil, err
	}
	if err := decodeStrict(data, cfg); err != nil {
		return nil, &MalformedConfigError{Path: path, Err: err}
	}
	if cfg.NetworkProfiles == nil {
		cfg.NetworkProfiles = map[string]NetworkProfile{"default": {}}
	}

	cfg.path, err = fsutil.Canonicalize(path)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize path %s: %w", path, err)
	}

	if err := cfg.mergeFromEnv(logger); err != nil {
		return nil, err
	}
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFromEnv(logger *zap.Logger) error {
	v := viper.New()
	bindings := map[string][]string{
		"build_dir":               {"BUILD_DIR", "CUBIST_BUILD_DIR"},
		"deploy_dir":              {"DEPLOY_DIR", "CUBIST_DEPLOY_DIR"},
		"current_network_profile": {"NETWORK_PROFILE", "CUBIST_NETWORK_PROFILE"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if s := v.GetString("build_dir"); s != "" {
		logger.Debug("Overriding build_dir from environment", zap.String("build_dir", s))
		c.BuildDir = s
	}
	if s := v.GetString("deploy_dir"); s != "" {
		logger.Debug("Overriding deploy_dir from environment", zap.String("deploy_dir", s))
		c.DeployDir = s
	}
	if s := v.GetString("current_network_profile"); s != "" {
		logger.Debug("Overriding network profile from environment", zap.String("profile", s))
		c.CurrentNetworkProfile = s
	}
	return nil
}

// Path returns the absolute path of the config file.
func (c *Config) Path() string { return c.path }

// ProjectDir returns the directory containing the config file.
func (c *Config) ProjectDir() string { return filepath.Dir(c.path) }

// AbsolutePathInProject resolves p against the project directory unless it is
// already absolute.
func (c *Config) AbsolutePathInProject(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.ProjectDir(), p)
}

// RelativeToProjectDir returns p relative to the project directory.
func (c *Config) RelativeToProjectDir(p string) (string, error) {
	abs := c.AbsolutePathInProject(p)
	if !fsutil.HasPathPrefix(abs, c.ProjectDir()) {
		return "", &PathError{Msg: "Cannot make path relative to project root directory", Path: abs}
	}
	return filepath.Rel(c.ProjectDir(), abs)
}

func (c *Config) resolvePaths() error {
	c.BuildDir = c.AbsolutePathInProject(c.BuildDir)
	c.DeployDir = c.AbsolutePathInProject(c.DeployDir)
	c.Contracts.RootDir = c.AbsolutePathInProject(c.Contracts.RootDir)
	for i, d := range c.Contracts.ImportDirs {
		c.Contracts.ImportDirs[i] = c.AbsolutePathInProject(d)
	}

	for t, tc := range c.Contracts.Targets {
		files, err := c.resolveGlobs(tc.Files)
		if err != nil {
			return err
		}
		tc.resolved = files
		if tc.Compiler == "" {
			tc.Compiler = Solc
			if t == Stellar {
				tc.Compiler = Soroban
			}
		}
		c.Contracts.Targets[t] = tc
	}
	return nil
}

func (c *Config) resolveGlobs(globs []string) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	for _, g := range globs {
		pattern := c.AbsolutePathInProject(g)
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, &GlobError{Pattern: pattern, Err: err}
		}
		for _, m := range matches {
			abs := c.AbsolutePathInProject(m)
			if !seen[abs] {
				seen[abs] = true
				out = append(out, abs)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (c *Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if err := c.validateContractPaths(); err != nil {
		return err
	}
	if _, ok := c.NetworkProfiles[c.CurrentNetworkProfile]; !ok {
		return &MissingNetworkProfileError{Name: c.CurrentNetworkProfile}
	}
	return nil
}

// validateContractPaths checks that each target has files and that every
// file lies inside the contract root.
func (c *Config) validateContractPaths() error {
	var bad []string
	for _, t := range c.Targets() {
		files := c.Contracts.Targets[t].resolved
		if len(files) == 0 {
			return &NoFilesForTargetError{Target: t}
		}
		for _, f := range files {
			if !fsutil.HasPathPrefix(f, c.Contracts.RootDir) {
				bad = append(bad, f)
			}
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return &InvalidContractFilePathsError{Paths: bad}
	}
	return nil
}

// Targets returns the configured targets in a stable order.
func (c *Config) Targets() []Target {
	ts := make([]Target, 0, len(c.Contracts.Targets))
	for t := range c.Contracts.Targets {
		ts = append(ts, t)
	}
	SortTargets(ts)
	return ts
}

// NetworkProfile returns the selected network profile.
func (c *Config) NetworkProfile() NetworkProfile {
	return c.NetworkProfiles[c.CurrentNetworkProfile]
}

// NetworkForTarget returns the endpoint of t in the selected profile.
func (c *Config) NetworkForTarget(t Target) (EndpointConfig, bool) {
	return c.NetworkProfile().Get(t)
}

// FileTarget returns the target a resolved contract file is assigned to.
func (c *Config) FileTarget(file string) (Target, bool) {
	for _, t := range c.Targets() {
		for _, f := range c.Contracts.Targets[t].resolved {
			if f == file {
				return t, true
			}
		}
	}
	return "", false
}

// Save writes the config to its path with directories made relative to the
// project. An existing file is only replaced when force is set.
func (c *Config) Save(force bool) error {
	if !force {
		if _, err := os.Stat(c.path); err == nil {
			return &PathError{Msg: "Config file already exists", Path: c.path}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", c.path, err)
		}
	}

	out := *c
	var err error
	if out.BuildDir, err = c.RelativeToProjectDir(c.BuildDir); err != nil {
		return err
	}
	if out.DeployDir, err = c.RelativeToProjectDir(c.DeployDir); err != nil {
		return err
	}
	out.Contracts.RootDir, err = c.RelativeToProjectDir(c.Contracts.RootDir)
	if err != nil {
		return err
	}
	out.Contracts.ImportDirs = make([]string, len(c.Contracts.ImportDirs))
	for i, d := range c.Contracts.ImportDirs {
		if out.Contracts.ImportDirs[i], err = c.RelativeToProjectDir(d); err != nil {
			return err
		}
	}
	return fsutil.WriteJSONAtomic(c.path, &out)
}
