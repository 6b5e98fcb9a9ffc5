package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/chainsafe/cubist/internal/metrics"
	"github.com/chainsafe/cubist/pkg/keys"
)

// DefaultPollInterval is how often log watchers ask for new blocks.
const DefaultPollInterval = 500 * time.Millisecond

// Backend is the node API contracts are deployed and called through.
// *ethclient.Client implements it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ethereum.ChainIDReader
	ethereum.BlockNumberReader
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Client represents a connection to an EVM chain with the wallets that sign
// for it
type Client struct {
	backend      Backend
	chainID      *big.Int
	wallets      []*keys.Wallet
	logger       *zap.Logger
	pollInterval time.Duration
	closer       func()

	// sendMu keeps nonces of concurrent senders apart.
	sendMu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPollInterval sets how often event watchers poll for logs.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// Dial connects to the node at rawURL. The first wallet signs every
// transaction.
func Dial(ctx context.Context, rawURL string, wallets []*keys.Wallet, opts ...Option) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to EVM RPC: %w", err)
	}
	chainID, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	c := NewClient(ec, chainID, wallets, opts...)
	c.closer = ec.Close
	c.logger.Debug("Connected to EVM chain", zap.String("chain_id", chainID.String()))
	return c, nil
}

// NewClient wraps an existing backend.
func NewClient(backend Backend, chainID *big.Int, wallets []*keys.Wallet, opts ...Option) *Client {
	c := &Client{
		backend:      backend,
		chainID:      chainID,
		wallets:      wallets,
		logger:       zap.NewNop(),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close closes the connection when the client dialed it.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// ChainID is the chain id reported by the node.
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// Backend returns the underlying node API.
func (c *Client) Backend() Backend { return c.backend }

// Accounts lists the addresses of the client's wallets.
func (c *Client) Accounts() []common.Address {
	out := make([]common.Address, len(c.wallets))
	for i, w := range c.wallets {
		out[i] = w.Address()
	}
	return out
}

// BalanceAt returns the latest balance of account.
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance of %s: %w", account.Hex(), err)
	}
	return balance, nil
}

// TransactOpts returns a transaction signer for the first wallet.
func (c *Client) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if len(c.wallets) == 0 {
		return nil, fmt.Errorf("no wallet configured for chain %s", c.chainID)
	}
	auth, err := c.wallets[0].TransactOpts(c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	auth.Context = ctx
	return auth, nil
}

// Deploy creates a contract and waits until its code is on chain.
func (c *Client) Deploy(ctx context.Context, parsed *abi.ABI, bytecode []byte, args ...any) (*Contract, error) {
	auth, err := c.TransactOpts(ctx)
	if err != nil {
		return nil, err
	}

	c.sendMu.Lock()
	address, tx, bound, err := bind.DeployContract(auth, *parsed, bytecode, c.backend, args...)
	c.sendMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to submit deployment: %w", err)
	}
	c.logger.Debug("Deployment transaction submitted",
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.String("address", address.Hex()))

	receipt, err := c.wait(ctx, tx, "deploy")
	if err != nil {
		return nil, err
	}
	if receipt.ContractAddress != (common.Address{}) {
		address = receipt.ContractAddress
	}
	code, err := c.backend.CodeAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read code at %s: %w", address.Hex(), err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("no code at %s after deployment", address.Hex())
	}
	return &Contract{client: c, address: address, abi: parsed, bound: bound}, nil
}

// Bind returns a handle to an already deployed contract.
func (c *Client) Bind(address common.Address, parsed *abi.ABI) *Contract {
	return &Contract{
		client:  c,
		address: address,
		abi:     parsed,
		bound:   bind.NewBoundContract(address, *parsed, c.backend, c.backend, c.backend),
	}
}

func (c *Client) wait(ctx context.Context, tx *types.Transaction, operation string) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for transaction %s: %w", tx.Hash().Hex(), err)
	}
	metrics.GasUsed.WithLabelValues(operation).Observe(float64(receipt.GasUsed))
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("transaction %s reverted", tx.Hash().Hex())
	}
	return receipt, nil
}

// GetLatestBlockNumber gets the latest block number
func (c *Client) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block: %w", err)
	}
	return n, nil
}
