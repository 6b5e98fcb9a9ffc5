// Package parse loads the contract sources of a project and validates their
// imports against the contract root layout.
package parse

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/fsutil"
	"github.com/chainsafe/cubist/pkg/solidity"
	"github.com/chainsafe/cubist/pkg/soroban"
)

// StellarImportPrefix marks imports of Stellar contracts from Solidity.
const StellarImportPrefix = "stellar://"

const licenseMarker = "SPDX-License-Identifier:"

// SourceFile is a parsed contract source. Exactly one of Unit and Spec is
// set: Solidity sources carry a syntax tree, Stellar sources are compiled
// WASM modules and carry their embedded interface.
type SourceFile struct {
	// FileName is the absolute path of the source.
	FileName string
	// RelPath is FileName relative to the contract root.
	RelPath string
	Target  config.Target

	Unit *solidity.SourceUnit
	Spec *soroban.Spec
}

// NewSourceFile reads and parses file.
func NewSourceFile(ctx context.Context, file, relPath string, target config.Target) (*SourceFile, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, &ReadFileError{File: file, Err: err}
	}
	sf := &SourceFile{FileName: file, RelPath: relPath, Target: target}
	if target == config.Stellar {
		if sf.Spec, err = soroban.ReadSpec(ctx, data); err != nil {
			return nil, &SyntaxError{File: file, Err: err}
		}
		return sf, nil
	}
	if sf.Unit, err = solidity.Parse(string(data)); err != nil {
		return nil, &SyntaxError{File: file, Err: err}
	}
	return sf, nil
}

// IsSolidity reports whether the source has a Solidity syntax tree.
func (s *SourceFile) IsSolidity() bool {
	return s.Unit != nil
}

// ContractNames returns the names of the contracts defined in the file. A
// Stellar module defines a single contract named after the file.
func (s *SourceFile) ContractNames() []string {
	if s.Unit == nil {
		return []string{ContractNameFromFile(s.FileName)}
	}
	var names []string
	for _, cd := range s.Unit.Contracts() {
		names = append(names, cd.Name)
	}
	return names
}

// Contract returns the definition of the named contract.
func (s *SourceFile) Contract(name string) (*solidity.ContractDefinition, bool) {
	if s.Unit == nil {
		return nil, false
	}
	for _, cd := range s.Unit.Contracts() {
		if cd.Name == name {
			return cd, true
		}
	}
	return nil, false
}

// Imports returns the import directives of the file.
func (s *SourceFile) Imports() []*solidity.ImportDirective {
	if s.Unit == nil {
		return nil
	}
	return s.Unit.Imports()
}

// Pragmas returns the verbatim pragma directives of the file.
func (s *SourceFile) Pragmas() []string {
	if s.Unit == nil {
		return nil
	}
	var out []string
	for _, p := range s.Unit.Pragmas() {
		out = append(out, s.Unit.Text(p.Loc))
	}
	return out
}

// License returns the SPDX license declared in the file's first comment, or
// "" if there is none.
func (s *SourceFile) License() (string, error) {
	if s.Unit == nil || len(s.Unit.Comments) == 0 {
		return "", nil
	}
	_, after, ok := strings.Cut(s.Unit.Comments[0].Text, licenseMarker)
	if !ok {
		return "", nil
	}
	fields := strings.Fields(after)
	if len(fields) == 0 {
		return "", &MissingLicenseError{File: s.FileName}
	}
	return fields[0], nil
}

// CheckImports rejects imports that would break once the contract root is
// copied into each target's build directory.
func (s *SourceFile) CheckImports(rootDir string) error {
	for _, imp := range s.Imports() {
		path := imp.Path
		if strings.HasPrefix(path, "@") || strings.HasPrefix(path, StellarImportPrefix) {
			continue
		}
		if imp.Unicode {
			return &UnicodeImportError{Import: path, File: s.FileName}
		}

		if filepath.IsAbs(path) {
			within, err := fsutil.IsWithin(path, rootDir)
			if err != nil {
				return &CanonicalizationError{Import: path, File: s.FileName, Err: err}
			}
			if within {
				return &AbsolutePathError{Import: path, File: s.FileName}
			}
			continue
		}

		full := filepath.Join(filepath.Dir(s.FileName), path)
		within, err := fsutil.IsWithin(full, rootDir)
		if err != nil {
			return &CanonicalizationError{Import: path, File: s.FileName, Err: err}
		}
		if !within {
			return &RelativePathError{Import: path, File: s.FileName}
		}
	}
	return nil
}

// ContractNameFromFile derives an UpperCamel contract name from a file
// name, e.g. "my_store.wasm" becomes "MyStore".
func ContractNameFromFile(file string) string {
	stem := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	title := cases.Title(language.Und, cases.NoLower)
	parts := strings.FieldsFunc(stem, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, p := range parts {
		parts[i] = title.String(p)
	}
	return strings.Join(parts, "")
}

// SourceFiles is every contract source of a project.
type SourceFiles struct {
	Sources []*SourceFile
}

// NewSourceFiles parses every file assigned to a target. Targets are visited
// in their canonical order so results are deterministic.
func NewSourceFiles(ctx context.Context, contracts config.ContractsConfig) (*SourceFiles, error) {
	targets := make([]config.Target, 0, len(contracts.Targets))
	for t := range contracts.Targets {
		targets = append(targets, t)
	}
	config.SortTargets(targets)

	sf := &SourceFiles{}
	for _, t := range targets {
		for _, file := range contracts.Targets[t].ResolvedFiles() {
			rel, err := contracts.RelativeToRoot(file)
			if err != nil {
				return nil, err
			}
			source, err := NewSourceFile(ctx, file, rel, t)
			if err != nil {
				return nil, err
			}
			sf.Sources = append(sf.Sources, source)
		}
	}
	return sf, nil
}

// Len returns the number of sources.
func (s *SourceFiles) Len() int {
	return len(s.Sources)
}

// CheckImports validates the imports of every source.
func (s *SourceFiles) CheckImports(rootDir string) error {
	for _, source := range s.Sources {
		if err := source.CheckImports(rootDir); err != nil {
			return err
		}
	}
	return nil
}

// ImportPaths returns the distinct import paths of all sources, sorted.
func (s *SourceFiles) ImportPaths() []string {
	seen := map[string]bool{}
	var out []string
	for _, source := range s.Sources {
		for _, imp := range source.Imports() {
			if !seen[imp.Path] {
				seen[imp.Path] = true
				out = append(out, imp.Path)
			}
		}
	}
	sort.Strings(out)
	return out
}
