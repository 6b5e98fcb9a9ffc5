package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pterm/pterm"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/chainsafe/cubist/internal/metrics"
	"github.com/chainsafe/cubist/internal/ui"
	"github.com/chainsafe/cubist/pkg/app"
	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
	"github.com/chainsafe/cubist/pkg/fsutil"
)

// readyPollInterval is how often a background start checks for the ready
// file.
const readyPollInterval = 100 * time.Millisecond

// Manager reads and writes daemon manifests under a cache directory.
type Manager struct {
	root   string
	logger *zap.Logger
	signal func(pid int, sig unix.Signal) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager keeps manifests in cacheDir/daemons.
func NewManager(cacheDir string, opts ...Option) *Manager {
	m := &Manager{
		root:   filepath.Join(cacheDir, "daemons"),
		logger: zap.NewNop(),
		signal: unix.Kill,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir is the directory all manifests live in.
func (m *Manager) Dir() string { return m.root }

// Path is where man is stored.
func (m *Manager) Path(man Manifest) string { return man.fileBase(m.root) + ".json" }

// ReadyPath is the file written once the service of man accepts requests.
func (m *Manager) ReadyPath(man Manifest) string { return man.fileBase(m.root) + ".ready" }

// Save writes man. Overwriting an existing manifest is allowed; it means a
// previous process with the same pid did not clean up.
func (m *Manager) Save(man Manifest) error {
	path := m.Path(man)
	if fsutil.Exists(path) {
		m.logger.Warn("Overwriting existing daemon state", zap.Stringer("daemon", man), zap.String("path", path))
	}
	if err := fsutil.WriteJSONAtomic(path, man); err != nil {
		return apperrors.IOError(err, "save daemon manifest")
	}
	m.logger.Debug("Saved daemon manifest", zap.String("path", path))
	return nil
}

// Delete removes the manifest and ready files of man. Missing files are
// ignored.
func (m *Manager) Delete(man Manifest) {
	for _, path := range []string{m.Path(man), m.ReadyPath(man)} {
		err := os.Remove(path)
		switch {
		case err == nil:
			m.logger.Debug("Deleted daemon file", zap.String("path", path))
		case !errors.Is(err, fs.ErrNotExist):
			m.logger.Debug("Failed to delete daemon file", zap.String("path", path), zap.Error(err))
		}
	}
}

// NotifyReady records that the service of man accepts requests.
func (m *Manager) NotifyReady(man Manifest) error {
	if err := fsutil.WriteFileAtomic(m.ReadyPath(man), nil, 0o644); err != nil {
		return apperrors.IOError(err, "write ready file")
	}
	return nil
}

// IsReady reports whether the ready file of man exists.
func (m *Manager) IsReady(man Manifest) bool { return fsutil.Exists(m.ReadyPath(man)) }

// List returns the manifests matching filter, ordered by path. Files that
// cannot be parsed are skipped.
func (m *Manager) List(filter Filter) ([]Manifest, error) {
	out := []Manifest{}
	if !fsutil.Exists(m.root) {
		return out, nil
	}
	matches, err := doublestar.Glob(os.DirFS(m.root), "**/*.json")
	if err != nil {
		return nil, apperrors.IOError(err, "list daemon manifests")
	}
	sort.Strings(matches)
	for _, rel := range matches {
		var man Manifest
		if err := fsutil.ReadJSON(filepath.Join(m.root, filepath.FromSlash(rel)), &man); err != nil {
			m.logger.Debug("Skipping unreadable daemon manifest", zap.String("path", rel), zap.Error(err))
			continue
		}
		if man.Matches(filter) {
			out = append(out, man)
		}
	}
	return out, nil
}

// alive reports whether a process with pid exists.
func (m *Manager) alive(pid int) bool {
	err := m.signal(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Stop interrupts every daemon matching filter and removes its files.
// Failures to signal a process are reported and do not stop the others.
func (m *Manager) Stop(filter Filter) error {
	daemons, err := m.List(filter)
	if err != nil {
		return err
	}
	for _, d := range daemons {
		ui.Phase("stopping", "%s", d)
		if err := m.signal(d.PID, unix.SIGINT); err != nil && !errors.Is(err, unix.ESRCH) {
			ui.Warn("Failed to kill process %d: %v", d.PID, err)
			continue
		}
		m.Delete(d)
	}
	return nil
}

// Status writes the daemons matching filter to w and returns how many
// there are. In JSON mode an empty list is still written.
func (m *Manager) Status(w io.Writer, filter Filter, asJSON bool) (int, error) {
	daemons, err := m.List(filter)
	if err != nil {
		return 0, err
	}
	if asJSON {
		data, err := json.MarshalIndent(daemons, "", "  ")
		if err != nil {
			return 0, err
		}
		_, err = fmt.Fprintln(w, string(data))
		return len(daemons), err
	}
	for i, d := range daemons {
		state := ""
		switch {
		case !m.alive(d.PID):
			state = pterm.Yellow(" (stale)")
		case !m.IsReady(d):
			state = pterm.Gray(" (starting)")
		}
		if _, err := fmt.Fprintf(w, "%3d. %s %s %s%s\n", i+1,
			pterm.NewStyle(pterm.FgGreen, pterm.Bold).Sprintf("cubist:%d", d.PID),
			pterm.Magenta(d.Info.Kind),
			pterm.Blue(d.Info.Config),
			state); err != nil {
			return 0, err
		}
	}
	return len(daemons), nil
}

// StartRequest describes a service to start.
type StartRequest struct {
	Info Info
	// Background starts the service in a child process and returns once it
	// is ready.
	Background bool
	// Exe is the cubist executable used in background mode. Defaults to the
	// running executable.
	Exe string
	// Args are the arguments after "start", e.g. ["relayer", "--no-watch"].
	Args []string
	// Service is run in foreground mode.
	Service app.Runner
}

// Start runs a service unless one of the same kind already runs for the
// same config. Manifests of processes that no longer exist are removed.
func (m *Manager) Start(ctx context.Context, req StartRequest) error {
	running, err := m.List(Filter{Config: req.Info.Config, Kind: req.Info.Kind})
	if err != nil {
		return err
	}
	for _, d := range running {
		if !m.alive(d.PID) {
			m.logger.Warn("Removing stale daemon manifest", zap.Stringer("daemon", d))
			m.Delete(d)
			continue
		}
		ui.Warn("Already running cubist:%d.  Run 'cubist stop' first if you want to restart.", d.PID)
		return nil
	}

	if req.Background {
		metrics.DaemonsStarted.WithLabelValues(string(req.Info.Kind), "background").Inc()
		return m.startBackground(ctx, req)
	}
	metrics.DaemonsStarted.WithLabelValues(string(req.Info.Kind), "foreground").Inc()
	return m.runForeground(ctx, req)
}

// runForeground runs the service in this process until ctx is done.
func (m *Manager) runForeground(ctx context.Context, req StartRequest) error {
	if req.Service == nil {
		return apperrors.ConfigurationError(nil, fmt.Sprintf("no service for %s", req.Info.Kind))
	}
	man := Manifest{PID: os.Getpid(), Info: req.Info}
	if err := m.Save(man); err != nil {
		return err
	}
	defer m.Delete(man)

	var readyErr error
	err := req.Service.Run(ctx, func() {
		if readyErr = m.NotifyReady(man); readyErr != nil {
			m.logger.Error("Failed to record readiness", zap.Error(readyErr))
		}
	})
	if err == nil || errors.Is(err, context.Canceled) {
		return readyErr
	}
	return err
}

// startBackground starts "cubist start --mode=foreground" and waits until
// the child reports ready or exits. The child keeps running afterwards.
func (m *Manager) startBackground(ctx context.Context, req StartRequest) error {
	exe := req.Exe
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return apperrors.IOError(err, "locate cubist executable")
		}
	}
	cwd, err := os.Getwd()
	if err != nil {
		return apperrors.IOError(err, "get working directory")
	}
	args := append([]string{"start", "--config", req.Info.Config, "--mode=foreground"}, req.Args...)
	cmd := exec.Command(exe, args...)
	cmd.Dir = cwd
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return apperrors.SupervisionError(err, "failed to start cubist")
	}
	man := Manifest{PID: cmd.Process.Pid, Info: req.Info}
	m.logger.Debug("Started background service", zap.Stringer("daemon", man))

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	tick := time.NewTicker(readyPollInterval)
	defer tick.Stop()
	for !m.IsReady(man) {
		select {
		case err := <-exited:
			return apperrors.SupervisionError(err, fmt.Sprintf("process cubist:%d terminated", man.PID))
		case <-ctx.Done():
			_ = m.signal(man.PID, unix.SIGINT)
			return ctx.Err()
		case <-tick.C:
		}
	}
	m.logger.Debug("Background service ready", zap.Stringer("daemon", man))
	return nil
}
