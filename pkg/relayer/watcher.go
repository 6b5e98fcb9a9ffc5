package relayer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/chainsafe/cubist/pkg/config"
)

// Watcher reports deployment manifests appearing in a directory. It listens
// for file system notifications and rescans the directory every poll
// interval, since not every platform reports files renamed into a directory.
type Watcher struct {
	dir      string
	interval time.Duration
	logger   *zap.Logger
	seen     map[string]struct{}
}

// NewWatcher watches dir.
func NewWatcher(dir string, interval time.Duration, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		dir:      dir,
		interval: interval,
		logger:   logger,
		seen:     map[string]struct{}{},
	}
}

// Scan returns the manifests not reported before, sorted by name.
func (w *Watcher) Scan() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read manifest directory %s: %w", w.dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !config.IsDeploymentManifest(e.Name()) {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		if w.markSeen(path) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (w *Watcher) markSeen(path string) bool {
	if _, ok := w.seen[path]; ok {
		return false
	}
	w.seen[path] = struct{}{}
	return true
}

// Run calls handle for every new manifest until ctx is done. started is
// called once the manifests present at startup were handled.
func (w *Watcher) Run(ctx context.Context, started func(), handle func(path string)) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.logger.Debug("Watching for deployment manifests", zap.String("dir", w.dir), zap.Duration("poll_interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	scan := func() {
		paths, err := w.Scan()
		if err != nil {
			w.logger.Warn("Manifest scan failed", zap.Error(err))
			return
		}
		for _, p := range paths {
			handle(p)
		}
	}
	// catch anything written before the watch was added
	scan()
	if started != nil {
		started()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			// a file renamed into the directory is reported as Create
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !config.IsDeploymentManifest(ev.Name) {
				continue
			}
			if _, err := os.Stat(ev.Name); err != nil {
				continue
			}
			if w.markSeen(ev.Name) {
				handle(ev.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watcher error", zap.Error(err))
		case <-ticker.C:
			scan()
		}
	}
}
