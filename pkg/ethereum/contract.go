package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Contract is a deployed contract bound to a client.
type Contract struct {
	client  *Client
	address common.Address
	abi     *abi.ABI
	bound   *bind.BoundContract
}

// Address is where the contract lives.
func (c *Contract) Address() common.Address { return c.address }

// ABI is the contract interface.
func (c *Contract) ABI() *abi.ABI { return c.abi }

// Call runs a read-only method and returns its outputs.
func (c *Contract) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	if _, ok := c.abi.Methods[method]; !ok {
		return nil, fmt.Errorf("method %q not found in contract ABI", method)
	}
	var out []any
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("failed to call %s at %s: %w", method, c.address.Hex(), err)
	}
	return out, nil
}

// Transact sends a transaction calling method and waits for it to be mined.
// A reverted transaction is an error.
func (c *Contract) Transact(ctx context.Context, method string, args ...any) (*types.Receipt, error) {
	if _, ok := c.abi.Methods[method]; !ok {
		return nil, fmt.Errorf("method %q not found in contract ABI", method)
	}
	auth, err := c.client.TransactOpts(ctx)
	if err != nil {
		return nil, err
	}

	c.client.sendMu.Lock()
	tx, err := c.bound.Transact(auth, method, args...)
	c.client.sendMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to submit %s transaction: %w", method, err)
	}
	c.client.logger.Debug("Transaction submitted",
		zap.String("method", method),
		zap.String("contract", c.address.Hex()),
		zap.String("tx_hash", tx.Hash().Hex()))

	return c.client.wait(ctx, tx, "transact")
}

// Event is a decoded contract log.
type Event struct {
	Name string
	// Args holds the event inputs in declaration order.
	Args []any
	Raw  types.Log
}

// ErrStopWatching can be returned by a watch handler to end the watch
// without error.
var ErrStopWatching = errors.New("stop watching")

// WatchEvents polls for the named event (uses polling for HTTP RPC
// compatibility). Only events in blocks after the current head are
// delivered; ready is called once the head is known. Handler and decode
// errors end the watch.
func (c *Contract) WatchEvents(ctx context.Context, name string, ready func(), handler func(Event) error) error {
	ev, ok := c.abi.Events[name]
	if !ok {
		return fmt.Errorf("event %q not found in contract ABI", name)
	}
	logger := c.client.logger.With(zap.String("event", name), zap.String("contract", c.address.Hex()))

	currentBlock, err := c.client.GetLatestBlockNumber(ctx)
	if err != nil {
		return err
	}
	logger.Debug("Starting event poller", zap.Uint64("from_block", currentBlock+1))
	if ready != nil {
		ready()
	}

	ticker := time.NewTicker(c.client.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		latestBlock, err := c.client.GetLatestBlockNumber(ctx)
		if err != nil {
			logger.Warn("Failed to get latest block", zap.Error(err))
			continue
		}
		if latestBlock <= currentBlock {
			continue
		}

		logs, err := c.client.backend.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(currentBlock + 1),
			ToBlock:   new(big.Int).SetUint64(latestBlock),
			Addresses: []common.Address{c.address},
			Topics:    [][]common.Hash{{ev.ID}},
		})
		if err != nil {
			logger.Warn("Failed to filter events", zap.Error(err))
			continue
		}

		for _, lg := range logs {
			if lg.Removed {
				continue
			}
			args, err := DecodeEvent(ev, lg)
			if err != nil {
				return fmt.Errorf("failed to decode %s in tx %s: %w", name, lg.TxHash.Hex(), err)
			}
			if err := handler(Event{Name: name, Args: args, Raw: lg}); err != nil {
				if errors.Is(err, ErrStopWatching) {
					return nil
				}
				return err
			}
		}
		currentBlock = latestBlock
	}
}

// DecodeEvent decodes the topics and data of lg against ev and returns the
// inputs in declaration order. Indexed dynamic values decode to their hash.
func DecodeEvent(ev abi.Event, lg types.Log) ([]any, error) {
	if len(lg.Topics) == 0 || lg.Topics[0] != ev.ID {
		return nil, fmt.Errorf("log is not a %s event", ev.Name)
	}
	data, err := ev.Inputs.Unpack(lg.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack data: %w", err)
	}

	out := make([]any, 0, len(ev.Inputs))
	topics := lg.Topics[1:]
	for _, input := range ev.Inputs {
		if !input.Indexed {
			if len(data) == 0 {
				return nil, fmt.Errorf("missing value for %q", input.Name)
			}
			out = append(out, data[0])
			data = data[1:]
			continue
		}
		if len(topics) == 0 {
			return nil, fmt.Errorf("missing topic for %q", input.Name)
		}
		arg := input
		arg.Name = "value"
		m := map[string]any{}
		if err := abi.ParseTopicsIntoMap(m, abi.Arguments{arg}, topics[:1]); err != nil {
			return nil, fmt.Errorf("parse topic %q: %w", input.Name, err)
		}
		out = append(out, m["value"])
		topics = topics[1:]
	}
	return out, nil
}
