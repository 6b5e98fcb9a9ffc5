// Command cubist builds, deploys and relays multi-chain contract projects.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainsafe/cubist/internal/ui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		ui.Errorf("%v", err)
		stop()
		os.Exit(1)
	}
}
