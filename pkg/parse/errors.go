package parse

import "fmt"

// ReadFileError is returned when a source file cannot be read.
type ReadFileError struct {
	File string
	Err  error
}

func (e *ReadFileError) Error() string {
	return fmt.Sprintf("error reading file %s", e.File)
}

func (e *ReadFileError) Unwrap() error { return e.Err }

// SyntaxError is returned when a source file does not parse.
type SyntaxError struct {
	File string
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("error parsing file %s: %v", e.File, e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// UnicodeImportError rejects `import unicode"..."`.
type UnicodeImportError struct {
	Import string
	File   string
}

func (e *UnicodeImportError) Error() string {
	return fmt.Sprintf("unsupported unicode import %s in file %s", e.Import, e.File)
}

// AbsolutePathError rejects absolute imports pointing into the contract
// root, which is copied per target.
type AbsolutePathError struct {
	Import string
	File   string
}

func (e *AbsolutePathError) Error() string {
	return fmt.Sprintf("import of absolute path %s (in file %s) points into the contract root directory; "+
		"use relative paths for imports pointing into the contract root", e.Import, e.File)
}

// RelativePathError rejects relative imports escaping the contract root.
type RelativePathError struct {
	Import string
	File   string
}

func (e *RelativePathError) Error() string {
	return fmt.Sprintf("import of relative path %s from outside the contract root directory (in file %s); "+
		"files in the contract root are copied, which breaks this import", e.Import, e.File)
}

// CanonicalizationError is returned when an import target cannot be
// resolved on disk.
type CanonicalizationError struct {
	Import string
	File   string
	Err    error
}

func (e *CanonicalizationError) Error() string {
	return fmt.Sprintf("unable to canonicalize import %s in file %s", e.Import, e.File)
}

func (e *CanonicalizationError) Unwrap() error { return e.Err }

// MissingLicenseError is returned for an SPDX marker without a license.
type MissingLicenseError struct {
	File string
}

func (e *MissingLicenseError) Error() string {
	return fmt.Sprintf("expected license identifier in %s", e.File)
}
