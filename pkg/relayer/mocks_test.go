package relayer

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/chainsafe/cubist/pkg/compile"
	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/core"
)

// MockChain is a mock implementation of core.Chain
type MockChain struct {
	DeployFunc   func(ctx context.Context, info *compile.ContractInfo, args ...any) (config.Address, error)
	CallFunc     func(ctx context.Context, info *compile.ContractInfo, addr config.Address, method string, args ...any) ([]any, error)
	SendFunc     func(ctx context.Context, info *compile.ContractInfo, addr config.Address, method string, args ...any) error
	WatchFunc    func(ctx context.Context, info *compile.ContractInfo, addr config.Address, event string, ready func(), handler core.EventHandler) error
	AccountsFunc func(ctx context.Context) ([]config.Address, error)
	BalanceFunc  func(ctx context.Context, addr config.Address) (*big.Int, error)
}

func (m *MockChain) Deploy(ctx context.Context, info *compile.ContractInfo, args ...any) (config.Address, error) {
	if m.DeployFunc != nil {
		return m.DeployFunc(ctx, info, args...)
	}
	return nil, nil
}

func (m *MockChain) Call(ctx context.Context, info *compile.ContractInfo, addr config.Address, method string, args ...any) ([]any, error) {
	if m.CallFunc != nil {
		return m.CallFunc(ctx, info, addr, method, args...)
	}
	return nil, nil
}

func (m *MockChain) Send(ctx context.Context, info *compile.ContractInfo, addr config.Address, method string, args ...any) error {
	if m.SendFunc != nil {
		return m.SendFunc(ctx, info, addr, method, args...)
	}
	return nil
}

func (m *MockChain) Watch(ctx context.Context, info *compile.ContractInfo, addr config.Address, event string, ready func(), handler core.EventHandler) error {
	if m.WatchFunc != nil {
		return m.WatchFunc(ctx, info, addr, event, ready, handler)
	}
	ready()
	<-ctx.Done()
	return ctx.Err()
}

func (m *MockChain) Accounts(ctx context.Context) ([]config.Address, error) {
	if m.AccountsFunc != nil {
		return m.AccountsFunc(ctx)
	}
	return nil, nil
}

func (m *MockChain) Balance(ctx context.Context, addr config.Address) (*big.Int, error) {
	if m.BalanceFunc != nil {
		return m.BalanceFunc(ctx, addr)
	}
	return big.NewInt(0), nil
}

func (m *MockChain) Close() {}

// feed hands events to every Watch on a mock chain. Closing events ends the
// subscriptions cleanly.
type feed struct {
	events chan []any
}

func newFeed(capacity int) *feed {
	return &feed{events: make(chan []any, capacity)}
}

func (f *feed) watch(ctx context.Context, _ *compile.ContractInfo, _ config.Address, _ string, ready func(), handler core.EventHandler) error {
	ready()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case args, ok := <-f.events:
			if !ok {
				return nil
			}
			if err := handler(args); err != nil {
				return err
			}
		}
	}
}

// sends records the calls made on a mock chain.
type sends struct {
	mu    sync.Mutex
	calls []string
}

func (s *sends) send(_ context.Context, info *compile.ContractInfo, addr config.Address, method string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf("%s@%s.%s%v", info.FQN.Name, addr.Hex(), method, args))
	return nil
}

func (s *sends) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}
