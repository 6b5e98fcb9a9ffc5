package localchains

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
	"github.com/chainsafe/cubist/pkg/jsonrpc"
)

// Probe schedules. EVM nodes get 40s in 200ms slices, avalanche networks
// 40 minutes in 1s slices.
var (
	ethProbe       = schedule{Interval: 200 * time.Millisecond, Attempts: 200}
	avalancheProbe = schedule{Interval: time.Second, Attempts: 2400}
)

// fundingAmount is what every local account receives from the dev account.
var fundingAmount, _ = new(big.Int).SetString("21E19E0C9BAB2400000", 16)

// formatEther renders a wei amount in ether.
func formatEther(wei *big.Int) string {
	return decimal.NewFromBigInt(wei, -18).String()
}

// schedule is a bounded constant retry schedule.
type schedule struct {
	Interval time.Duration
	Attempts uint64
}

// retry calls op until it succeeds, the schedule runs out or ctx is done.
// Running out is reported as a supervision error naming the chain.
func (s schedule) retry(ctx context.Context, name string, op func(context.Context) error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(s.Interval), s.Attempts), ctx)
	err := backoff.Retry(func() error { return op(ctx) }, b)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return apperrors.SupervisionError(err, fmt.Sprintf("server %s did not become available", name))
}

// ethAvailable succeeds once url answers eth_gasPrice.
func ethAvailable(ctx context.Context, client *http.Client, url string) error {
	req, err := jsonrpc.NewRequest(jsonrpc.NumberID(73), "eth_gasPrice", []any{})
	if err != nil {
		return backoff.Permanent(err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return backoff.Permanent(err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(hreq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(data))
	}
	res, rpcErr := jsonrpc.ParseResponse(data)
	if rpcErr != nil {
		return rpcErr
	}
	if len(res.Result) == 0 || string(res.Result) == "null" {
		return fmt.Errorf("no result returned: %s", data)
	}
	return nil
}

// getJSON decodes the JSON body returned for a bodiless request to url.
func getJSON(ctx context.Context, client *http.Client, method, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(data))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// fundAccounts sends fundingAmount from the node's first (dev) account to
// each of to.
func fundAccounts(ctx context.Context, url string, to []common.Address, logger *zap.Logger) error {
	if len(to) == 0 {
		return nil
	}
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return apperrors.SupervisionError(err, "connect to node for funding")
	}
	defer client.Close()

	var accounts []common.Address
	if err := client.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return apperrors.SupervisionError(err, "list dev accounts")
	}
	if len(accounts) == 0 {
		return apperrors.SupervisionError(nil, "node has no dev account")
	}
	dev := accounts[0]
	logger.Debug("Funding accounts",
		zap.String("from", dev.Hex()),
		zap.Int("count", len(to)),
		zap.String("amount_eth", formatEther(fundingAmount)))

	for _, addr := range to {
		tx := map[string]any{
			"from":  dev,
			"to":    addr,
			"value": (*hexutil.Big)(fundingAmount),
		}
		var hash common.Hash
		if err := client.CallContext(ctx, &hash, "eth_sendTransaction", tx); err != nil {
			return apperrors.SupervisionError(err, fmt.Sprintf("fund %s", addr.Hex()))
		}
		logger.Debug("Funded account", zap.String("account", addr.Hex()), zap.String("tx", hash.Hex()))
	}
	return nil
}
