package proxy

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// MockChainClient is a mock implementation of ChainClient
type MockChainClient struct {
	PendingNonceAtFunc  func(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPriceFunc func(ctx context.Context) (*big.Int, error)
	EstimateGasFunc     func(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

func (m *MockChainClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if m.PendingNonceAtFunc != nil {
		return m.PendingNonceAtFunc(ctx, account)
	}
	return 0, nil
}

func (m *MockChainClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if m.SuggestGasPriceFunc != nil {
		return m.SuggestGasPriceFunc(ctx)
	}
	return big.NewInt(1), nil
}

func (m *MockChainClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if m.EstimateGasFunc != nil {
		return m.EstimateGasFunc(ctx, msg)
	}
	return 21000, nil
}
