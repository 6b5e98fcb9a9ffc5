package relayer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chainsafe/cubist/internal/metrics"
	"github.com/chainsafe/cubist/internal/ui"
	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/core"
)

// errBudgetExhausted ends a subscription once max events were forwarded.
var errBudgetExhausted = errors.New("event budget exhausted")

// Bridge is one event subscription on a shim: each event the shim emits
// becomes a call to Function on the contract the shim stands in for.
type Bridge struct {
	ID       string    `json:"id"`
	Manifest string    `json:"manifest"`
	Function string    `json:"function"`
	Event    string    `json:"event"`
	Source   string    `json:"source"`
	Dest     string    `json:"destination"`
	Started  time.Time `json:"started"`

	shim   *core.Contract
	target *core.Contract
}

// bridgesFor resolves the bridges of a deployment manifest and binds the
// contracts it names to their addresses.
func bridgesFor(cubist *core.Cubist, path string, m *config.DeploymentManifest) ([]*Bridge, error) {
	contract, ok := cubist.FindContract(m.Deployment.Target, m.Contract)
	if !ok {
		return nil, fmt.Errorf("contract %s not found on %s", m.Contract, m.Deployment.Target)
	}
	if err := contract.At(m.Deployment.Address); err != nil {
		return nil, err
	}

	var out []*Bridge
	for _, d := range m.Shims {
		shim, ok := cubist.FindShim(d.Target, m.Contract)
		if !ok {
			return nil, fmt.Errorf("shim for %s not found on %s", m.Contract, d.Target)
		}
		if err := shim.At(d.Address); err != nil {
			return nil, err
		}
		bridge, err := config.ReadBridge(shim.BridgePath())
		if err != nil {
			return nil, fmt.Errorf("failed to read bridge for %s: %w", shim.FullNameWithTarget(), err)
		}
		fns, ok := bridge.Bridges(m.Contract.Name)
		if !ok {
			return nil, fmt.Errorf("bridge %s has no entry for %s", shim.BridgePath(), m.Contract.Name)
		}
		for _, fe := range fns {
			out = append(out, &Bridge{
				ID:       uuid.NewString(),
				Manifest: path,
				Function: fe.Function,
				Event:    fe.Event,
				Source:   shim.AddressAndTarget(),
				Dest:     contract.AddressAndTarget(),
				shim:     shim,
				target:   contract,
			})
		}
	}
	return out, nil
}

// budget counts forwarded events against an optional maximum.
type budget struct {
	mu    sync.Mutex
	max   uint64
	count uint64
}

// reserve claims one forward. The second result reports whether the claim
// used up the budget.
func (b *budget) reserve() (ok, last bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && b.count >= b.max {
		return false, true
	}
	b.count++
	return true, b.max > 0 && b.count >= b.max
}

func (b *budget) forwarded() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// run subscribes to the bridge event and queues a request for every event.
// It returns nil once the budget is used up.
func (br *Bridge) run(ctx context.Context, ready func(), b *budget, dest *Processor, logger *zap.Logger) error {
	logger = logger.With(
		zap.String("bridge", br.ID),
		zap.String("event", br.Event),
		zap.String("source", br.Source))
	ui.Phase("Watching", "%s on %s", ui.Event(br.Event), ui.Sender(br.shim.FullNameWithTarget()))

	metrics.BridgesActive.Inc()
	defer metrics.BridgesActive.Dec()

	err := br.shim.Watch(ctx, br.Event, ready, func(args []any) error {
		ok, last := b.reserve()
		if !ok {
			return errBudgetExhausted
		}
		req := &SendRequest{Function: br.Function, Args: args, From: br.shim, To: br.target}
		logger.Debug("Event received", zap.String("call", req.String()))
		if err := dest.Enqueue(ctx, req); err != nil {
			return err
		}
		if last {
			return errBudgetExhausted
		}
		return nil
	})
	if errors.Is(err, errBudgetExhausted) {
		logger.Info("Event budget reached", zap.Uint64("forwarded", b.forwarded()))
		return nil
	}
	return err
}
