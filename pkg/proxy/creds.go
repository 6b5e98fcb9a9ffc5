package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/chainsafe/cubist/internal/metrics"
	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
	"github.com/chainsafe/cubist/pkg/config"
	"github.com/chainsafe/cubist/pkg/jsonrpc"
	"github.com/chainsafe/cubist/pkg/keys"
)

const (
	methodAccounts        = "eth_accounts"
	methodSignTransaction = "eth_signTransaction"
	methodSendTransaction = "eth_sendTransaction"
	methodSendRaw         = "eth_sendRawTransaction"
)

// ChainClient fills in what a client leaves out of a transaction.
// *ethclient.Client implements it.
type ChainClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// TransactionArgs are the fields of eth_sendTransaction and
// eth_signTransaction.
type TransactionArgs struct {
	From     *common.Address `json:"from"`
	To       *common.Address `json:"to"`
	Gas      *hexutil.Uint64 `json:"gas"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Value    *hexutil.Big    `json:"value"`
	Nonce    *hexutil.Uint64 `json:"nonce"`
	Data     *hexutil.Bytes  `json:"data"`
	Input    *hexutil.Bytes  `json:"input"`
}

// data returns the call data, preferring input over data.
func (args *TransactionArgs) data() []byte {
	if args.Input != nil {
		return *args.Input
	}
	if args.Data != nil {
		return *args.Data
	}
	return nil
}

// Signature is the result of eth_signTransaction.
type Signature struct {
	R   *hexutil.Big  `json:"r"`
	S   *hexutil.Big  `json:"s"`
	V   *hexutil.Big  `json:"v"`
	Raw hexutil.Bytes `json:"raw"`
}

// CredProxy answers account and signing requests with locally held keys and
// turns eth_sendTransaction into eth_sendRawTransaction.
type CredProxy struct {
	chain   string
	chainID *big.Int
	wallets keys.Set
	// nonces holds the next nonce of each wallet, zero until first use.
	nonces map[common.Address]*atomic.Uint64
	client ChainClient
	logger *zap.Logger
}

// NewCredProxy creates a proxy signing with wallets. client may be nil, in
// which case nonces start at zero and gas is not estimated.
func NewCredProxy(chain string, chainID uint32, wallets []*keys.Wallet, client ChainClient, logger *zap.Logger) *CredProxy {
	if logger == nil {
		logger = zap.NewNop()
	}
	set := keys.NewSet(wallets)
	nonces := make(map[common.Address]*atomic.Uint64, len(set))
	for addr := range set {
		nonces[addr] = new(atomic.Uint64)
	}
	return &CredProxy{
		chain:   chain,
		chainID: new(big.Int).SetUint64(uint64(chainID)),
		wallets: set,
		nonces:  nonces,
		client:  client,
		logger:  logger,
	}
}

// DialCredProxy builds wallets from the configured credentials and connects
// to upstream for nonces and gas estimation.
func DialCredProxy(ctx context.Context, chain string, upstream string, cfg config.ProxyConfig, logger *zap.Logger) (*CredProxy, error) {
	wallets, err := keys.FromCreds(cfg.Creds)
	if err != nil {
		return nil, apperrors.PipelineFatalError(err, "build wallets")
	}
	client, err := ethclient.DialContext(ctx, upstream)
	if err != nil {
		return nil, apperrors.PipelineFatalError(err, "connect to upstream")
	}
	return NewCredProxy(chain, cfg.ChainID, wallets, client, logger), nil
}

// Accounts returns the managed addresses in ascending order.
func (p *CredProxy) Accounts() []common.Address {
	return p.wallets.Addresses()
}

// Wrap answers eth_accounts and eth_signTransaction from endpoint locally
// and rewrites eth_sendTransaction. The returned pair carries everything
// that must still go to the node.
func (p *CredProxy) Wrap(ctx context.Context, endpoint Pair[json.RawMessage, *jsonrpc.Request]) Pair[json.RawMessage, *jsonrpc.Request] {
	handled, pass := Switch(ctx, endpoint, func(m Msg[*jsonrpc.Request]) bool {
		return m.Err == nil && (m.Value.Method == methodAccounts || m.Value.Method == methodSignTransaction)
	})
	go Handle(ctx, handled, p.handle)

	return AndThen(ctx, pass, func(ctx context.Context, req *jsonrpc.Request) Msg[*jsonrpc.Request] {
		metrics.ProxyRequestsTotal.WithLabelValues(p.chain, req.Method).Inc()
		if req.Method != methodSendTransaction {
			return Ok(req)
		}
		raw, err := p.sendTransaction(ctx, req)
		if err != nil {
			p.countError(err)
			return Fail[*jsonrpc.Request](err)
		}
		return Ok(raw)
	})
}

func (p *CredProxy) handle(ctx context.Context, req *jsonrpc.Request) Msg[json.RawMessage] {
	metrics.ProxyRequestsTotal.WithLabelValues(p.chain, req.Method).Inc()
	var result any
	switch req.Method {
	case methodAccounts:
		result = p.Accounts()
	case methodSignTransaction:
		tx, err := p.signRequest(ctx, req)
		if err != nil {
			p.countError(err)
			return Fail[json.RawMessage](err)
		}
		metrics.TransactionsSigned.WithLabelValues(p.chain, req.Method).Inc()
		result = signatureOf(tx)
	default:
		return Fail[json.RawMessage](jsonrpc.NewError(jsonrpc.MethodNotFound, req.Method).WithID(req.ID))
	}
	resp, err := jsonrpc.SuccessResponse(req.ID, result)
	if err != nil {
		return Fail[json.RawMessage](jsonrpc.NewError(jsonrpc.InternalError, err.Error()).WithID(req.ID))
	}
	return Ok(resp)
}

func (p *CredProxy) countError(err *jsonrpc.Error) {
	metrics.ProxyErrorsTotal.WithLabelValues(p.chain, fmt.Sprint(err.Code)).Inc()
}

func signatureOf(tx *types.Transaction) Signature {
	v, r, s := tx.RawSignatureValues()
	raw, _ := tx.MarshalBinary()
	return Signature{R: (*hexutil.Big)(r), S: (*hexutil.Big)(s), V: (*hexutil.Big)(v), Raw: raw}
}

func (p *CredProxy) sendTransaction(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Request, *jsonrpc.Error) {
	tx, rpcErr := p.signRequest(ctx, req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, jsonrpc.NewError(jsonrpc.SigningError, err.Error()).WithID(req.ID)
	}
	out, err := jsonrpc.NewRequest(req.ID, methodSendRaw, []hexutil.Bytes{raw})
	if err != nil {
		return nil, jsonrpc.NewError(jsonrpc.InternalError, err.Error()).WithID(req.ID)
	}
	metrics.TransactionsSigned.WithLabelValues(p.chain, req.Method).Inc()
	p.logger.Debug("Signed transaction",
		zap.Uint64("nonce", tx.Nonce()),
		zap.String("hash", tx.Hash().Hex()))
	return out, nil
}

func (p *CredProxy) signRequest(ctx context.Context, req *jsonrpc.Request) (*types.Transaction, *jsonrpc.Error) {
	var params []TransactionArgs
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params) != 1 {
		data := "expected a single transaction object"
		if err != nil {
			data = err.Error()
		}
		return nil, jsonrpc.NewError(jsonrpc.InvalidParams, data).WithID(req.ID)
	}
	return p.sign(ctx, req.ID, params[0])
}

func (p *CredProxy) sign(ctx context.Context, id jsonrpc.ID, args TransactionArgs) (*types.Transaction, *jsonrpc.Error) {
	if args.From == nil {
		return nil, jsonrpc.NewErrorWithMessage(jsonrpc.InvalidParams, "'from' field is required", nil).WithID(id)
	}
	from := *args.From
	wallet, ok := p.wallets[from]
	if !ok {
		return nil, jsonrpc.NewErrorWithMessage(jsonrpc.InvalidRequest,
			fmt.Sprintf("No wallet found for sender '%s'", from.Hex()), nil).WithID(id)
	}

	var nonce uint64
	if args.Nonce != nil {
		nonce = uint64(*args.Nonce)
		p.nonces[from].CompareAndSwap(nonce, nonce+1)
	} else {
		n, err := p.nextNonce(ctx, from)
		if err != nil {
			return nil, jsonrpc.NewError(jsonrpc.NonceError, err.Error()).WithID(id)
		}
		nonce = n
	}

	value := new(big.Int)
	if args.Value != nil {
		value = args.Value.ToInt()
	}
	var gas uint64
	if args.Gas != nil {
		gas = uint64(*args.Gas)
	}
	gasPrice := new(big.Int)
	if args.GasPrice != nil {
		gasPrice = args.GasPrice.ToInt()
	}

	if p.client != nil {
		if args.GasPrice == nil {
			price, err := p.client.SuggestGasPrice(ctx)
			if err != nil {
				return nil, jsonrpc.NewErrorWithMessage(jsonrpc.GasEstimationError, "Unable to estimate gas prices", err.Error()).WithID(id)
			}
			gasPrice = price
		}
		if args.Gas == nil {
			estimate, err := p.client.EstimateGas(ctx, ethereum.CallMsg{
				From:     from,
				To:       args.To,
				GasPrice: gasPrice,
				Value:    value,
				Data:     args.data(),
			})
			if err != nil {
				return nil, jsonrpc.NewErrorWithMessage(jsonrpc.GasEstimationError, "Unable to estimate gas prices", err.Error()).WithID(id)
			}
			gas = estimate
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       args.To,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     args.data(),
	})
	signed, err := wallet.SignTx(tx, p.chainID)
	if err != nil {
		return nil, jsonrpc.NewErrorWithMessage(jsonrpc.SigningError, "Failed to sign transaction", err.Error()).WithID(id)
	}
	return signed, nil
}

// nextNonce returns the nonce of the next transaction from addr. The first
// call reads the pending transaction count; later calls count up from it.
func (p *CredProxy) nextNonce(ctx context.Context, addr common.Address) (uint64, error) {
	next := p.nonces[addr]
	if next.Load() > 0 {
		return next.Add(1) - 1, nil
	}

	var pending uint64
	if p.client != nil {
		n, err := p.client.PendingNonceAt(ctx, addr)
		if err != nil {
			return 0, fmt.Errorf("get transaction count of %s: %w", addr.Hex(), err)
		}
		pending = n
	}
	if next.CompareAndSwap(0, pending+1) {
		return pending, nil
	}
	return next.Add(1) - 1, nil
}
