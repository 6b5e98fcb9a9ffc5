package core

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/chainsafe/cubist/pkg/compile"
	"github.com/chainsafe/cubist/pkg/config"
)

// MockChain is a mock implementation of Chain
type MockChain struct {
	DeployFunc   func(ctx context.Context, info *compile.ContractInfo, args ...any) (config.Address, error)
	CallFunc     func(ctx context.Context, info *compile.ContractInfo, addr config.Address, method string, args ...any) ([]any, error)
	SendFunc     func(ctx context.Context, info *compile.ContractInfo, addr config.Address, method string, args ...any) error
	WatchFunc    func(ctx context.Context, info *compile.ContractInfo, addr config.Address, event string, ready func(), handler EventHandler) error
	AccountsFunc func(ctx context.Context) ([]config.Address, error)
	BalanceFunc  func(ctx context.Context, addr config.Address) (*big.Int, error)
	CloseFunc    func()
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

func (m *MockChain) Watch(ctx context.Context, info *compile.ContractInfo, addr config.Address, event string, ready func(), handler EventHandler) error {
	if m.WatchFunc != nil {
		return m.WatchFunc(ctx, info, addr, event, ready, handler)
	}
	return nil
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

func (m *MockChain) Close() {
	if m.CloseFunc != nil {
		m.CloseFunc()
	}
}

// ledger records what mock chains were asked to do, across targets.
type ledger struct {
	mu    sync.Mutex
	calls []string
	next  byte
}

func (l *ledger) record(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *ledger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// chain returns a mock chain for target that hands out sequential one-byte
// addresses.
func (l *ledger) chain(target config.Target) *MockChain {
	return &MockChain{
		DeployFunc: func(_ context.Context, info *compile.ContractInfo, args ...any) (config.Address, error) {
			l.mu.Lock()
			l.next++
			addr := config.Address{l.next}
			l.mu.Unlock()
			l.record("deploy %s@%s %v", info.FQN.Name, target, args)
			return addr, nil
		},
		SendFunc: func(_ context.Context, info *compile.ContractInfo, addr config.Address, method string, args ...any) error {
			l.record("send %s@%s.%s %v", info.FQN.Name, target, method, args)
			return nil
		},
	}
}
