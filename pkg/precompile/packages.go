package precompile

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chainsafe/cubist/internal/command"
	"github.com/chainsafe/cubist/pkg/fsutil"
)

// PackageManager installs JavaScript packages into the project.
type PackageManager string

const (
	Npm  PackageManager = "npm"
	Yarn PackageManager = "yarn"
	Pnpm PackageManager = "pnpm"
)

// DetectPackageManager picks the package manager a project already uses,
// going by its lockfile, and falls back to whichever is installed.
func DetectPackageManager(projectDir string, available func(string) bool) PackageManager {
	switch {
	case fsutil.Exists(filepath.Join(projectDir, "yarn.lock")):
		return Yarn
	case fsutil.Exists(filepath.Join(projectDir, "package-lock.json")):
		return Npm
	case fsutil.Exists(filepath.Join(projectDir, "pnpm-lock.yaml")):
		return Pnpm
	}
	if available == nil {
		available = command.Available
	}
	if available(string(Yarn)) {
		return Yarn
	}
	return Npm
}

// addArgs returns the arguments that add packages as dependencies.
func (pm PackageManager) addArgs(packages []string) []string {
	switch pm {
	case Npm:
		return append([]string{"install", "--save"}, packages...)
	default:
		return append([]string{"add"}, packages...)
	}
}

// Install adds packages to the project in dir.
func (pm PackageManager) Install(ctx context.Context, runner command.Runner, dir string, packages []string) error {
	if len(packages) == 0 {
		return nil
	}
	if _, err := runner.Run(ctx, dir, string(pm), pm.addArgs(packages)...); err != nil {
		return fmt.Errorf("install %s: %w", strings.Join(packages, " "), err)
	}
	return nil
}

// PackageName returns the npm package an import path belongs to, e.g.
// "@openzeppelin/contracts" for "@openzeppelin/contracts/access/Ownable.sol".
func PackageName(importPath string) string {
	parts := strings.SplitN(importPath, "/", 3)
	if len(parts) < 2 {
		return importPath
	}
	return parts[0] + "/" + parts[1]
}

// MissingImports returns the external imports not found in any of
// importDirs, sorted.
func MissingImports(imports, importDirs []string) []string {
	var missing []string
	seen := map[string]bool{}
	for _, imp := range imports {
		if !strings.HasPrefix(imp, "@") || seen[imp] {
			continue
		}
		seen[imp] = true
		found := false
		for _, dir := range importDirs {
			if fsutil.Exists(filepath.Join(dir, filepath.FromSlash(imp))) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, imp)
		}
	}
	sort.Strings(missing)
	return missing
}

func packageNames(imports []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, imp := range imports {
		name := PackageName(imp)
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
