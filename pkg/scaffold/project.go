package scaffold

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
	"github.com/chainsafe/cubist/pkg/config"
)

// cubistPackage is the npm package of the off-chain SDK.
const cubistPackage = "@cubist-labs/cubist"

// project writes the language specific files of a project.
type project interface {
	// create writes the package manifest and a hello world source file.
	create(s *Scaffolder, name string, force bool) error
	// rename sets the package name in the package manifest.
	rename(name string) error
}

func projectFor(typ config.ProjType, dir string) (project, error) {
	switch typ {
	case config.JavaScript:
		return &jsProject{dir: dir}, nil
	case config.TypeScript:
		return &jsProject{dir: dir, typescript: true}, nil
	case config.Rust:
		return &rustProject{dir: dir}, nil
	}
	return nil, apperrors.ConfigurationError(nil, fmt.Sprintf("unsupported project type %q", typ))
}

func defaultAuthor() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	host, _ := os.Hostname()
	name := u.Name
	if name == "" {
		name = u.Username
	}
	return fmt.Sprintf("%s <%s@%s>", name, u.Username, host)
}

// jsProject is a JavaScript or TypeScript project.
type jsProject struct {
	dir        string
	typescript bool
}

func (p *jsProject) packageJSON(name, author string) ([]byte, error) {
	main := "src/index.js"
	devDeps := map[string]string{}
	if p.typescript {
		main = "dist/src/index.js"
		devDeps["typescript"] = "^4.9.4"
		devDeps["ts-node"] = "^10.9.1"
	}
	pkg := map[string]any{
		"name":         name,
		"version":      "0.1.0",
		"description":  fmt.Sprintf("Cubist project %s", name),
		"main":         main,
		"author":       author,
		"license":      "MIT",
		"dependencies": map[string]string{cubistPackage: "^0.2.0"},
	}
	if len(devDeps) > 0 {
		pkg["devDependencies"] = devDeps
	}
	return json.MarshalIndent(pkg, "", "  ")
}

func (p *jsProject) create(s *Scaffolder, name string, force bool) error {
	pkg, err := p.packageJSON(name, s.author)
	if err != nil {
		return err
	}
	if err := s.writeOrPrompt(filepath.Join(p.dir, "package.json"), pkg, force); err != nil {
		return err
	}
	source := "index.js"
	if p.typescript {
		source = "index.ts"
		tsconfig, err := render("tsconfig.json", templateData{Name: name})
		if err != nil {
			return err
		}
		if err := s.writeOrPrompt(filepath.Join(p.dir, "tsconfig.json"), tsconfig, force); err != nil {
			return err
		}
	}
	hello, err := render(source, templateData{Name: name})
	if err != nil {
		return err
	}
	return s.writeOrPrompt(filepath.Join(p.dir, "src", source), hello, force)
}

func (p *jsProject) rename(name string) error {
	path := filepath.Join(p.dir, "package.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.IOError(err, "Could not read package.json")
	}
	var pkg map[string]any
	if err := json.Unmarshal(data, &pkg); err != nil {
		return apperrors.ParseError(err, "Could not parse package.json")
	}
	pkg["name"] = name
	out, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return apperrors.IOError(err, "Failed to write package.json")
	}
	return nil
}

// rustProject is a cargo project.
type rustProject struct {
	dir string
}

type cargoManifest struct {
	Package      cargoPackage      `toml:"package"`
	Dependencies map[string]string `toml:"dependencies"`
}

type cargoPackage struct {
	Name    string   `toml:"name"`
	Version string   `toml:"version"`
	Edition string   `toml:"edition"`
	Authors []string `toml:"authors,omitempty"`
}

func (p *rustProject) create(s *Scaffolder, name string, force bool) error {
	m := cargoManifest{
		Package: cargoPackage{Name: name, Version: "0.1.0", Edition: "2021"},
		Dependencies: map[string]string{
			"cubist-sdk":    "0.2",
			"cubist-config": "0.2",
			"tokio":         "1",
		},
	}
	if s.author != "" {
		m.Package.Authors = []string{s.author}
	}
	cargo, err := toml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode Cargo.toml: %w", err)
	}
	if err := s.writeOrPrompt(filepath.Join(p.dir, "Cargo.toml"), cargo, force); err != nil {
		return err
	}
	hello, err := render("main.rs", templateData{Name: name})
	if err != nil {
		return err
	}
	return s.writeOrPrompt(filepath.Join(p.dir, "src", "main.rs"), hello, force)
}

// rename rewrites Cargo.toml with the new package name. Comments in the
// file are not preserved.
func (p *rustProject) rename(name string) error {
	path := filepath.Join(p.dir, "Cargo.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.IOError(err, "Could not read Cargo.toml")
	}
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return apperrors.ParseError(err, "Could not parse Cargo.toml")
	}
	pkg, ok := doc["package"].(map[string]any)
	if !ok {
		return apperrors.ParseError(nil, "Cargo.toml has no [package] table")
	}
	pkg["name"] = name
	out, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode Cargo.toml: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return apperrors.IOError(err, "Failed to write Cargo.toml")
	}
	return nil
}
