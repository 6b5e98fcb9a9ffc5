// Package httpserver runs the HTTP listeners of long-running cubist
// services until their context ends.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultShutdownTimeout = 30 * time.Second

// ServeAndWait listens on srv.Addr and serves until ctx is canceled or the
// server fails, then shuts srv down within shutdownTimeout. An unexpected
// server failure is returned after the shutdown.
func ServeAndWait(ctx context.Context, logger *zap.Logger, srv *http.Server, shutdownTimeout time.Duration) error {
	if srv == nil {
		return fmt.Errorf("nil http server")
	}
	return run(ctx, logger, srv, srv.Addr, srv.ListenAndServe, shutdownTimeout)
}

// ServeListenerAndWait is ServeAndWait on an already bound listener, for
// servers bound to a port chosen by the system.
func ServeListenerAndWait(ctx context.Context, logger *zap.Logger, srv *http.Server, ln net.Listener, shutdownTimeout time.Duration) error {
	if srv == nil {
		return fmt.Errorf("nil http server")
	}
	return run(ctx, logger, srv, ln.Addr().String(), func() error { return srv.Serve(ln) }, shutdownTimeout)
}

func run(ctx context.Context, logger *zap.Logger, srv *http.Server, addr string, serve func() error, shutdownTimeout time.Duration) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	logger = logger.With(zap.String("address", addr))

	served := make(chan error, 1)
	go func() {
		logger.Debug("HTTP server listening")
		if err := serve(); !errors.Is(err, http.ErrServerClosed) {
			served <- err
			return
		}
		served <- nil
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-served:
		if serveErr != nil {
			logger.Error("HTTP server failed", zap.Error(serveErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", zap.Error(err))
		return fmt.Errorf("http shutdown: %w", err)
	}
	if serveErr != nil {
		return fmt.Errorf("http server on %s failed: %w", addr, serveErr)
	}
	logger.Debug("HTTP server stopped")
	return nil
}
