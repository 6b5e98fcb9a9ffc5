package relayer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chainsafe/cubist/internal/metrics"
	"github.com/chainsafe/cubist/internal/ui"
	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/core"
)

// SendRequest is a call observed on a shim that must be made on the
// contract the shim stands in for.
type SendRequest struct {
	Function string
	// Args are the decoded event arguments in declaration order.
	Args []any
	From *core.Contract
	To   *core.Contract
}

func (r *SendRequest) String() string {
	args := make([]string, len(r.Args))
	for i, a := range r.Args {
		args[i] = core.FormatArg(a)
	}
	return fmt.Sprintf("%s.%s(%s)", r.To.Name(), r.Function, strings.Join(args, ", "))
}

// Processor makes the calls queued for one destination target, one at a
// time and in queue order.
type Processor struct {
	target config.Target
	queue  chan *SendRequest
	logger *zap.Logger
}

// NewProcessor creates a processor with a queue of the given capacity.
func NewProcessor(target config.Target, capacity int, logger *zap.Logger) *Processor {
	return &Processor{
		target: target,
		queue:  make(chan *SendRequest, capacity),
		logger: logger.With(zap.String("destination", string(target))),
	}
}

// Enqueue blocks until req is queued or ctx is done.
func (p *Processor) Enqueue(ctx context.Context, req *SendRequest) error {
	select {
	case p.queue <- req:
		metrics.PendingRequests.WithLabelValues(string(p.target)).Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting requests. Start returns once the queue is drained.
func (p *Processor) Close() { close(p.queue) }

// Start processes requests until the queue is closed and drained or ctx is
// done. Failed calls are logged and skipped.
func (p *Processor) Start(ctx context.Context) {
	p.logger.Debug("Starting processor")
	for {
		select {
		case req, ok := <-p.queue:
			if !ok {
				return
			}
			metrics.PendingRequests.WithLabelValues(string(p.target)).Dec()
			if err := p.processRequest(ctx, req); err != nil {
				p.logger.Error("Failed to forward call",
					zap.String("call", req.String()),
					zap.Error(err))
				metrics.ErrorsTotal.WithLabelValues("relayer", "forward").Inc()
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *Processor) processRequest(ctx context.Context, req *SendRequest) error {
	source := string(req.From.Target)
	ui.Phase("sending", "%s -> %s", ui.Sender(req.From.FullNameWithTarget()), ui.Receiver(req.String()))

	start := time.Now()
	err := req.To.Send(ctx, req.Function, req.Args...)
	metrics.ForwardDuration.WithLabelValues(string(p.target)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EventsForwarded.WithLabelValues(source, string(p.target), "failed").Inc()
		return err
	}
	metrics.EventsForwarded.WithLabelValues(source, string(p.target), "completed").Inc()
	ui.Phase("SENT", "%s", ui.Receiver(req.String()))
	p.logger.Info("Call forwarded",
		zap.String("from", req.From.AddressAndTarget()),
		zap.String("to", req.To.AddressAndTarget()),
		zap.String("function", req.Function))
	return nil
}
