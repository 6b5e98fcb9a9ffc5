package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFileNotFound is returned by Nearest when no config file exists in any parent directory.
var ErrFileNotFound = errors.New("Could not find config file " + DefaultFilename)

// MalformedConfigError is returned when the config file is not valid JSON or
// contains unknown fields.
type MalformedConfigError struct {
	Path string
	Err  error
}

func (e *MalformedConfigError) Error() string {
	return fmt.Sprintf("Malformed config %s: %v", e.Path, e.Err)
}

func (e *MalformedConfigError) Unwrap() error { return e.Err }

// InvalidContractFilePathsError lists contract files outside the contract root.
type InvalidContractFilePathsError struct {
	Paths []string
}

func (e *InvalidContractFilePathsError) Error() string {
	return fmt.Sprintf("Contract source files outside root directory: [%s]", strings.Join(e.Paths, ", "))
}

// NoFilesForTargetError is returned when the globs of a target match nothing.
type NoFilesForTargetError struct {
	Target Target
}

func (e *NoFilesForTargetError) Error() string {
	return fmt.Sprintf("No files found for target: %s", e.Target)
}

// MissingNetworkProfileError is returned when the selected profile is not defined.
type MissingNetworkProfileError struct {
	Name string
}

func (e *MissingNetworkProfileError) Error() string {
	return fmt.Sprintf("Specified network profile ('%s') not found", e.Name)
}

// GlobError is returned for an invalid file pattern.
type GlobError struct {
	Pattern string
	Err     error
}

func (e *GlobError) Error() string {
	return fmt.Sprintf("Glob error for pattern: %s: %v", e.Pattern, e.Err)
}

func (e *GlobError) Unwrap() error { return e.Err }

// PathError reports a path that cannot be used where it appears.
type PathError struct {
	Msg  string
	Path string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s. Path: %s", e.Msg, e.Path)
}
