// Package relayer carries calls made on shims to the contracts they stand in
// for. It watches the deployment manifest directory, subscribes to the
// events of every deployed shim and replays each event as a call on the
// destination chain.
package relayer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creasty/defaults"
	"go.uber.org/zap"

	"github.com/chainsafe/cubist/internal/metrics"
	"github.com/chainsafe/cubist/internal/ui"
	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/core"
)

// Config configures the relayer engine.
type Config struct {
	// NoWatch bridges the manifests present at startup and stops watching.
	NoWatch bool
	// PollInterval is how often the manifest directory is rescanned.
	PollInterval time.Duration `default:"500ms"`
	// MaxEvents stops the relayer after that many forwarded events. Zero
	// means no limit.
	MaxEvents uint64
	// QueueCapacity bounds the calls queued per destination target.
	QueueCapacity int `default:"10"`
}

// Engine orchestrates the bridges of every deployed contract
type Engine struct {
	cubist     *core.Cubist
	config     Config
	processors map[config.Target]*Processor
	budget     *budget
	logger     *zap.Logger

	ready     atomic.Bool
	readyCh   chan struct{}
	readyOnce sync.Once

	mu      sync.Mutex
	bridges map[string]*Bridge
}

// NewEngine creates a new relayer engine
func NewEngine(cubist *core.Cubist, cfg Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("set relayer defaults: %w", err)
	}
	e := &Engine{
		cubist:     cubist,
		config:     cfg,
		processors: map[config.Target]*Processor{},
		budget:     &budget{max: cfg.MaxEvents},
		logger:     logger,
		readyCh:    make(chan struct{}),
		bridges:    map[string]*Bridge{},
	}
	for _, p := range cubist.Projects() {
		e.processors[p.Target] = NewProcessor(p.Target, cfg.QueueCapacity, logger)
	}
	return e, nil
}

// IsReady reports whether the manifests present at startup are bridged and
// new ones are being watched.
func (e *Engine) IsReady() bool { return e.ready.Load() }

// Ready is closed the first time the engine becomes ready.
func (e *Engine) Ready() <-chan struct{} { return e.readyCh }

func (e *Engine) markReady() {
	e.ready.Store(true)
	e.readyOnce.Do(func() { close(e.readyCh) })
}

// Forwarded is the number of events handed to destination queues.
func (e *Engine) Forwarded() uint64 { return e.budget.forwarded() }

// Bridges returns the running bridges.
func (e *Engine) Bridges() []Bridge {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Bridge, 0, len(e.bridges))
	for _, b := range e.bridges {
		out = append(out, *b)
	}
	return out
}

func (e *Engine) addBridges(bs []*Bridge) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range bs {
		e.bridges[b.ID] = b
	}
}

func (e *Engine) removeBridge(b *Bridge) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.bridges, b.ID)
	return len(e.bridges)
}

// run tracks the goroutines of one RunToCompletion call.
type run struct {
	ctx   context.Context
	tasks sync.WaitGroup
	once  sync.Once
	done  chan struct{}
}

func (r *run) spawn(f func()) {
	r.tasks.Add(1)
	go func() {
		defer r.tasks.Done()
		f()
	}()
}

func (r *run) finish() { r.once.Do(func() { close(r.done) }) }

// RunToCompletion bridges deployment manifests until the event budget is
// used up or ctx is done. Queued calls are made before it returns. It must
// only be called once.
func (e *Engine) RunToCompletion(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r := &run{ctx: runCtx, done: make(chan struct{})}

	var drainers sync.WaitGroup
	for _, p := range e.processors {
		drainers.Add(1)
		go func(p *Processor) {
			defer drainers.Done()
			p.Start(ctx)
		}(p)
	}

	dir := e.cubist.Paths().DeploymentManifestDir()
	watcher := NewWatcher(dir, e.config.PollInterval, e.logger)
	handle := func(path string) { e.bridgeManifest(r, path) }

	if e.config.NoWatch {
		paths, err := watcher.Scan()
		if err != nil {
			cancel()
			e.shutdown(r, &drainers)
			return err
		}
		for _, p := range paths {
			handle(p)
		}
		e.markReady()
		if len(e.Bridges()) == 0 {
			e.logger.Info("No bridges to run")
			r.finish()
		}
	} else {
		ui.Phase("Watching", "%s", dir)
		r.spawn(func() {
			err := watcher.Run(runCtx, e.markReady, handle)
			if err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Error("Manifest watcher failed", zap.Error(err))
				metrics.ErrorsTotal.WithLabelValues("relayer", "watcher").Inc()
				r.finish()
			}
		})
	}

	select {
	case <-r.done:
	case <-ctx.Done():
	}
	e.ready.Store(false)
	cancel()
	e.shutdown(r, &drainers)
	e.logger.Info("Relayer stopped", zap.Uint64("forwarded", e.Forwarded()))
	return nil
}

// shutdown waits for the subscriptions, then lets the processors drain.
func (e *Engine) shutdown(r *run, drainers *sync.WaitGroup) {
	r.tasks.Wait()
	for _, p := range e.processors {
		p.Close()
	}
	drainers.Wait()
}

// bridgeManifest starts the bridges of the manifest at path and, once every
// subscription is in place, renames the manifest to its bridged sibling.
// Failures are logged and leave the manifest in place.
func (e *Engine) bridgeManifest(r *run, path string) {
	logger := e.logger.With(zap.String("manifest", path))
	m, err := config.ReadDeploymentManifest(path)
	if err != nil {
		logger.Warn("Skipping invalid deployment manifest", zap.Error(err))
		metrics.ManifestsProcessed.WithLabelValues("invalid").Inc()
		return
	}
	if len(m.Shims) == 0 {
		logger.Debug("Deployment has no shims")
		metrics.ManifestsProcessed.WithLabelValues("skipped").Inc()
		return
	}
	bridges, err := bridgesFor(e.cubist, path, m)
	if err != nil {
		logger.Warn("Failed to resolve bridges", zap.Error(err))
		metrics.ManifestsProcessed.WithLabelValues("failed").Inc()
		return
	}
	ui.Phase("Bridging", "%s", m.Contract)

	mctx, mcancel := context.WithCancel(r.ctx)
	bridged := false
	defer func() {
		if !bridged {
			mcancel()
		}
	}()
	readyCh := make(chan struct{}, len(bridges))
	errCh := make(chan error, len(bridges))
	for _, br := range bridges {
		if _, ok := e.processors[br.target.Target]; !ok {
			logger.Warn("No processor for destination", zap.String("target", string(br.target.Target)))
			metrics.ManifestsProcessed.WithLabelValues("failed").Inc()
			return
		}
		br.Started = time.Now()
	}
	e.addBridges(bridges)

	for _, br := range bridges {
		dest := e.processors[br.target.Target]
		r.spawn(func() {
			var once sync.Once
			err := br.run(mctx, func() { once.Do(func() { readyCh <- struct{}{} }) }, e.budget, dest, e.logger)
			remaining := e.removeBridge(br)
			switch {
			case err == nil:
				r.finish()
			case mctx.Err() != nil:
			default:
				logger.Warn("Bridge stopped", zap.String("event", br.Event), zap.Error(err))
				metrics.ErrorsTotal.WithLabelValues("relayer", "subscription").Inc()
				errCh <- err
				if remaining == 0 && e.config.NoWatch {
					r.finish()
				}
			}
		})
	}

	for n := 0; n < len(bridges); {
		select {
		case <-readyCh:
			n++
		case err := <-errCh:
			logger.Warn("Failed to start bridges", zap.Error(err))
			metrics.ManifestsProcessed.WithLabelValues("failed").Inc()
			return
		case <-r.ctx.Done():
			return
		}
	}

	bridged = true
	if err := os.Rename(path, config.BridgedPath(path)); err != nil {
		logger.Warn("Failed to mark manifest as bridged", zap.Error(err))
	}
	metrics.ManifestsProcessed.WithLabelValues("bridged").Inc()
	logger.Info("Bridges running", zap.Int("count", len(bridges)))
}
