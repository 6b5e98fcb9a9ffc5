package localchains

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chainsafe/cubist/internal/metrics"
	"github.com/chainsafe/cubist/internal/ui"
	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
	"github.com/chainsafe/cubist/pkg/config"
)

// Install downloads and extracts the binaries the providers need, one at a
// time, skipping those already present with the right hashes.
func Install(ctx context.Context, providers []Provider, opts Options) error {
	if err := opts.setDefaults(); err != nil {
		return err
	}
	for _, p := range providers {
		ds, err := p.Preflight()
		if err != nil {
			return err
		}
		for _, d := range ds {
			if d.Exists() == nil {
				continue
			}
			if err := install(ctx, d, opts); err != nil {
				return err
			}
		}
	}
	return nil
}

func install(ctx context.Context, d *Downloadable, opts Options) error {
	ui.Phase("Installing", "%s", d.Name())
	var bar *ui.Progress
	data, err := d.Download(ctx, opts.HTTPClient, func(read, total int64) {
		if bar == nil && total > 0 {
			bar = ui.NewProgress("Downloading "+d.Name(), int(total/1024))
		}
		if bar != nil {
			bar.Set(int(read / 1024))
		}
	})
	if bar != nil {
		bar.Stop()
	}
	if err != nil {
		return err
	}
	bar = ui.NewProgress("Extracting "+d.Name(), len(d.Binaries))
	err = d.Extract(data, func(path string) {
		opts.Logger.Debug("Extracted binary", zap.String("path", path))
		bar.Increment()
	})
	bar.Stop()
	if err != nil {
		return err
	}
	return d.Exists()
}

// Network is a set of started chains.
type Network struct {
	servers []*startedServer
	logger  *zap.Logger

	stopOnce sync.Once
	stopErr  error
}

type startedServer struct {
	provider Provider
	server   Server
	started  time.Time
}

// Start launches every chain of profile and returns once all of them are
// available and initialized.
func Start(ctx context.Context, profile config.NetworkProfile, opts Options) (*Network, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	providers, err := Providers(profile, opts)
	if err != nil {
		return nil, err
	}
	return StartProviders(ctx, providers, opts)
}

// StartProviders is Start for an explicit list of providers. Chains start
// one after another, so they do not race for ports, and then become
// available concurrently. If any chain fails, the started ones are stopped.
func StartProviders(ctx context.Context, providers []Provider, opts Options) (*Network, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	if err := Install(ctx, providers, opts); err != nil {
		return nil, err
	}

	hist := LoadHistory(opts.CacheDir)
	n := &Network{logger: opts.Logger}
	ui.Phase("Launching", "chains")
	for _, p := range providers {
		opts.Logger.Info("Starting chain", zap.String("chain", p.Name()), zap.String("url", p.URL().String()))
		start := time.Now()
		s, err := p.Start(ctx)
		if err != nil {
			metrics.ErrorsTotal.WithLabelValues("localchains", "start").Inc()
			_ = n.Stop()
			return nil, err
		}
		n.servers = append(n.servers, &startedServer{provider: p, server: s, started: start})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, st := range n.servers {
		g.Go(func() error { return n.initialize(gctx, st, hist) })
	}
	if err := g.Wait(); err != nil {
		metrics.ErrorsTotal.WithLabelValues("localchains", "available").Inc()
		_ = n.Stop()
		return nil, err
	}
	if err := hist.Save(); err != nil {
		opts.Logger.Warn("Failed to save bootstrap history", zap.Error(err))
	}
	ui.Phase("Available", "all chains")
	return n, nil
}

// initialize waits for st with a progress bar paced by the bootstrap ETA.
func (n *Network) initialize(ctx context.Context, st *startedServer, hist *History) error {
	name := st.provider.Name()
	eta := hist.ETA(name, st.provider.BootstrapETA())
	bar := ui.NewProgress(fmt.Sprintf("%s %s", name, st.provider.URL()), int(eta/(100*time.Millisecond)))
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-tick.C:
				bar.Increment()
			case <-done:
				return
			}
		}
	}()
	defer bar.Stop()

	if err := st.server.Available(ctx); err != nil {
		return err
	}
	if err := st.server.Initialize(ctx); err != nil {
		return err
	}
	d := time.Since(st.started)
	hist.SetBootstrapDuration(name, d)
	metrics.ChainBootstrapDuration.WithLabelValues(name).Observe(d.Seconds())
	n.logger.Info("Chain available", zap.String("chain", name), zap.Duration("took", d))
	return nil
}

// Names lists the started chains.
func (n *Network) Names() []string {
	out := make([]string, len(n.servers))
	for i, st := range n.servers {
		out[i] = st.provider.Name()
	}
	return out
}

// PIDs lists the node processes of the started chains.
func (n *Network) PIDs() []int {
	var out []int
	for _, st := range n.servers {
		if pid := st.server.PID(); pid > 0 {
			out = append(out, pid)
		}
	}
	return out
}

// Wait blocks until ctx is done or a chain exits. A chain exiting is an
// error.
func (n *Network) Wait(ctx context.Context) error {
	exited := make(chan string, len(n.servers))
	for _, st := range n.servers {
		ch := st.server.Exited()
		if ch == nil {
			continue
		}
		go func() {
			select {
			case <-ch:
				exited <- st.provider.Name()
			case <-ctx.Done():
			}
		}()
	}
	select {
	case <-ctx.Done():
		return nil
	case name := <-exited:
		metrics.ErrorsTotal.WithLabelValues("localchains", "exited").Inc()
		return apperrors.SupervisionError(nil, fmt.Sprintf("chain %s exited", name))
	}
}

// Stop kills the chains in reverse start order.
func (n *Network) Stop() error {
	n.stopOnce.Do(func() {
		var errs []error
		for i := len(n.servers) - 1; i >= 0; i-- {
			st := n.servers[i]
			ui.Phase("stopping", "%s", st.provider.Name())
			if err := st.server.Kill(); err != nil {
				errs = append(errs, fmt.Errorf("stop %s: %w", st.provider.Name(), err))
			}
		}
		n.stopErr = errors.Join(errs...)
	})
	return n.stopErr
}
