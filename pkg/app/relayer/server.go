// Package relayer implements app.Runner for the relayer process.
package relayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chainsafe/cubist/pkg/app"
	"github.com/chainsafe/cubist/pkg/app/httpserver"
	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/core"
	"github.com/chainsafe/cubist/pkg/relayer"
)

const (
	defaultGracefulShutdownTimeout = 10 * time.Second
	defaultHTTPMiddlewareTimeout   = 30 * time.Second
	defaultHTTPReadTimeout         = 15 * time.Second
	defaultHTTPWriteTimeout        = 15 * time.Second
	defaultHTTPIdleTimeout         = 60 * time.Second
)

// Options configures the relayer process.
type Options struct {
	Engine relayer.Config
	// OpsAddr is where the operational HTTP server listens. Empty disables it.
	OpsAddr string
}

// Server holds configuration for the relayer process.
type Server struct {
	cfg      *config.Config
	opts     Options
	logger   *zap.Logger
	coreOpts []core.Option
}

var _ app.Runner = (*Server)(nil)

// NewServer initializes a new relayer Server.
func NewServer(cfg *config.Config, opts Options, logger *zap.Logger, coreOpts ...core.Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, opts: opts, logger: logger, coreOpts: coreOpts}
}

// Run connects to every target chain and relays events until the engine
// completes or ctx is done. ready is called once the deployment manifests
// present at startup are bridged.
func (s *Server) Run(ctx context.Context, ready func()) error {
	if s.cfg == nil {
		return fmt.Errorf("nil config")
	}
	logger := s.logger
	logger.Info("Starting relayer", zap.String("config", s.cfg.Path()))

	opts := append([]core.Option{core.WithLogger(logger)}, s.coreOpts...)
	cubist, err := core.New(ctx, s.cfg, opts...)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	defer cubist.Close()

	engine, err := relayer.NewEngine(cubist, s.opts.Engine, logger)
	if err != nil {
		return err
	}
	return s.runEngine(ctx, engine, ready)
}

func (s *Server) runEngine(ctx context.Context, engine *relayer.Engine, ready func()) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	opsErr := make(chan error, 1)
	if s.opts.OpsAddr != "" {
		srv := newHTTPServer(s.opts.OpsAddr, newRouter(engine, s.logger))
		go func() {
			err := httpserver.ServeAndWait(runCtx, s.logger, srv, defaultGracefulShutdownTimeout)
			if err != nil {
				cancel()
			}
			opsErr <- err
		}()
	} else {
		opsErr <- nil
	}

	readyDone := make(chan struct{})
	go func() {
		defer close(readyDone)
		select {
		case <-engine.Ready():
			app.NotifyReady(ready)
		case <-runCtx.Done():
			select {
			case <-engine.Ready():
				app.NotifyReady(ready)
			default:
			}
		}
	}()

	runErr := engine.RunToCompletion(runCtx)
	cancel()
	<-readyDone
	if err := <-opsErr; err != nil {
		return errors.Join(runErr, fmt.Errorf("ops server: %w", err))
	}
	return runErr
}

func newRouter(engine *relayer.Engine, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(defaultHTTPMiddlewareTimeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if !engine.IsReady() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT_READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/bridges", handleGetBridges(engine, logger))
		r.Get("/bridges/{id}", handleGetBridge(engine, logger))
		r.Get("/status", handleGetStatus(engine, logger))
	})

	return r
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  defaultHTTPReadTimeout,
		WriteTimeout: defaultHTTPWriteTimeout,
		IdleTimeout:  defaultHTTPIdleTimeout,
	}
}

func sortedBridges(engine *relayer.Engine) []relayer.Bridge {
	bridges := engine.Bridges()
	sort.Slice(bridges, func(i, j int) bool {
		if bridges[i].Started.Equal(bridges[j].Started) {
			return bridges[i].ID < bridges[j].ID
		}
		return bridges[i].Started.Before(bridges[j].Started)
	})
	return bridges
}

func writeJSON(w http.ResponseWriter, v any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

func handleGetBridges(engine *relayer.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"bridges": sortedBridges(engine)}, logger)
	}
}

func handleGetBridge(engine *relayer.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		for _, b := range engine.Bridges() {
			if b.ID == id {
				writeJSON(w, b, logger)
				return
			}
		}
		http.Error(w, "bridge not found", http.StatusNotFound)
	}
}

func handleGetStatus(engine *relayer.Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		status := "starting"
		if engine.IsReady() {
			status = "running"
		}
		writeJSON(w, map[string]any{
			"status":    status,
			"bridges":   len(engine.Bridges()),
			"forwarded": engine.Forwarded(),
		}, logger)
	}
}
