package localchains

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/proxy"
)

// runningProxy is a signing proxy served in the background.
type runningProxy struct {
	addr   string
	cancel context.CancelFunc
	done   chan error
}

// serveProxy listens on 127.0.0.1:port and serves pipeline until stop.
func serveProxy(port int, pipeline proxy.Pipeline, logger *zap.Logger) (*runningProxy, error) {
	l, err := proxy.Listen(fmt.Sprintf("127.0.0.1:%d", port), proxy.WithLogger(logger))
	if err != nil {
		return nil, apperrors.SupervisionError(err, fmt.Sprintf("start proxy on port %d", port))
	}
	ctx, cancel := context.WithCancel(context.Background())
	rp := &runningProxy{addr: l.Addr().String(), cancel: cancel, done: make(chan error, 1)}
	go func() { rp.done <- l.Serve(ctx, pipeline) }()
	logger.Debug("Proxy listening", zap.String("addr", rp.addr))
	return rp, nil
}

// startEthProxy signs with the configured credentials and forwards to upstream.
func startEthProxy(ctx context.Context, chain string, port int, upstream string, cfg config.ProxyConfig, logger *zap.Logger) (*runningProxy, error) {
	cp, err := proxy.DialCredProxy(ctx, chain, upstream, cfg, logger)
	if err != nil {
		return nil, err
	}
	return serveProxy(port, proxy.Eth(upstream, cp, logger), logger)
}

func (p *runningProxy) stop() error {
	p.cancel()
	err := <-p.done
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
