// Package daemon keeps track of the cubist services (local chains, relayer)
// running on this machine. Every running service owns a manifest file under
// the cache directory; the files on disk are the only record of what runs.
package daemon

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
	"github.com/chainsafe/cubist/pkg/fsutil"
)

// Kind is the kind of service a daemon runs.
type Kind string

const (
	KindChains  Kind = "chains"
	KindRelayer Kind = "relayer"
)

// Kinds lists every service kind.
var Kinds = []Kind{KindChains, KindRelayer}

// ParseKind parses a kind name, ignoring case.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if strings.EqualFold(s, string(k)) {
			return k, nil
		}
	}
	return "", apperrors.ConfigurationError(nil, fmt.Sprintf("unknown service kind %q (expected chains or relayer)", s))
}

// Info describes what a daemon runs.
type Info struct {
	Kind Kind `json:"kind"`
	// Config is the canonical path of the project config the daemon uses.
	Config string `json:"cubist_config"`
}

// Manifest describes a running daemon.
type Manifest struct {
	PID  int  `json:"cubist_pid"`
	Info Info `json:"info"`
}

func (m Manifest) String() string {
	return fmt.Sprintf("cubist:%d %s %s", m.PID, m.Info.Kind, m.Info.Config)
}

// Filter selects manifests. Zero fields match anything.
type Filter struct {
	Config string
	PID    int
	Kind   Kind
}

// Canonicalize resolves the config path of f. A path that cannot be
// resolved is dropped with a warning, so the filter then matches daemons
// of every config.
func (f Filter) Canonicalize(logger *zap.Logger) Filter {
	if f.Config == "" {
		return f
	}
	abs, err := fsutil.Canonicalize(f.Config)
	if err != nil {
		if logger != nil {
			logger.Warn("Ignoring config filter that cannot be resolved",
				zap.String("config", f.Config), zap.Error(err))
		}
		f.Config = ""
		return f
	}
	f.Config = abs
	return f
}

// Matches reports whether m matches every set field of f.
func (m Manifest) Matches(f Filter) bool {
	return (f.PID == 0 || f.PID == m.PID) &&
		(f.Config == "" || f.Config == m.Info.Config) &&
		(f.Kind == "" || f.Kind == m.Info.Kind)
}

// projectDir is the directory holding the manifests of one project config.
func projectDir(root, config string) string {
	return filepath.Join(root, base64.StdEncoding.EncodeToString([]byte(config)))
}

func (m Manifest) fileBase(root string) string {
	return filepath.Join(projectDir(root, m.Info.Config), fmt.Sprintf("%s-%d", m.Info.Kind, m.PID))
}
