package localchains

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
)

type rpcCall struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	ID     json.RawMessage   `json:"id"`
}

// fakeNode answers JSON-RPC requests with handle.
func fakeNode(t *testing.T, handle func(method string, params []json.RawMessage) any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call rpcCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      call.ID,
			"result":  handle(call.Method, call.Params),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEthAvailable(t *testing.T) {
	srv := fakeNode(t, func(method string, _ []json.RawMessage) any {
		if method != "eth_gasPrice" {
			t.Errorf("unexpected method %s", method)
		}
		return "0x3b9aca00"
	})
	if err := ethAvailable(context.Background(), srv.Client(), srv.URL); err != nil {
		t.Fatalf("ethAvailable: %v", err)
	}
}

func TestEthAvailable_NullResult(t *testing.T) {
	srv := fakeNode(t, func(string, []json.RawMessage) any { return nil })
	if err := ethAvailable(context.Background(), srv.Client(), srv.URL); err == nil {
		t.Fatalf("expected error for null result")
	}
}

func TestEthAvailable_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "starting", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	err := ethAvailable(context.Background(), srv.Client(), srv.URL)
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSchedule_RetryGivesUp(t *testing.T) {
	calls := 0
	s := schedule{Interval: time.Millisecond, Attempts: 3}
	err := s.retry(context.Background(), "anvil", func(context.Context) error {
		calls++
		return errors.New("connection refused")
	})
	if !apperrors.Is(err, apperrors.KindSupervision) {
		t.Fatalf("expected supervision error, got %v", err)
	}
	if !strings.Contains(err.Error(), "anvil") {
		t.Fatalf("error does not name the chain: %v", err)
	}
	if calls != 4 {
		t.Fatalf("calls = %d, want 4", calls)
	}
}

func TestSchedule_RetrySucceeds(t *testing.T) {
	calls := 0
	s := schedule{Interval: time.Millisecond, Attempts: 10}
	err := s.retry(context.Background(), "anvil", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}

func TestSchedule_RetryCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := schedule{Interval: time.Hour, Attempts: 10}
	err := s.retry(ctx, "anvil", func(context.Context) error { return errors.New("down") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFundAccounts(t *testing.T) {
	dev := common.HexToAddress("0x00000000000000000000000000000000000000de")
	var mu sync.Mutex
	var sent []map[string]string
	srv := fakeNode(t, func(method string, params []json.RawMessage) any {
		switch method {
		case "eth_accounts":
			return []string{dev.Hex()}
		case "eth_sendTransaction":
			var tx map[string]string
			if err := json.Unmarshal(params[0], &tx); err != nil {
				t.Errorf("decode tx: %v", err)
			}
			mu.Lock()
			sent = append(sent, tx)
			mu.Unlock()
			return "0x" + strings.Repeat("ab", 32)
		}
		t.Errorf("unexpected method %s", method)
		return nil
	})

	to := []common.Address{
		common.HexToAddress("0x0000000000000000000000000000000000000001"),
		common.HexToAddress("0x0000000000000000000000000000000000000002"),
	}
	if err := fundAccounts(context.Background(), srv.URL, to, zap.NewNop()); err != nil {
		t.Fatalf("fundAccounts: %v", err)
	}
	if len(sent) != 2 {
		t.Fatalf("sent %d transactions", len(sent))
	}
	for i, tx := range sent {
		if !strings.EqualFold(tx["from"], dev.Hex()) {
			t.Errorf("tx %d from %s", i, tx["from"])
		}
		if !strings.EqualFold(tx["to"], to[i].Hex()) {
			t.Errorf("tx %d to %s", i, tx["to"])
		}
		if tx["value"] != "0x21e19e0c9bab2400000" {
			t.Errorf("tx %d value %s", i, tx["value"])
		}
	}
}

func TestFundAccounts_NoDevAccount(t *testing.T) {
	srv := fakeNode(t, func(string, []json.RawMessage) any { return []string{} })
	to := []common.Address{common.HexToAddress("0x01")}
	err := fundAccounts(context.Background(), srv.URL, to, zap.NewNop())
	if !apperrors.Is(err, apperrors.KindSupervision) {
		t.Fatalf("expected supervision error, got %v", err)
	}
}

func TestFundAccounts_NothingToFund(t *testing.T) {
	if err := fundAccounts(context.Background(), "http://127.0.0.1:1", nil, zap.NewNop()); err != nil {
		t.Fatalf("fundAccounts: %v", err)
	}
}

func TestFormatEther(t *testing.T) {
	if got := formatEther(fundingAmount); got != "10000" {
		t.Fatalf("expected 10000, got %s", got)
	}
	half, _ := new(big.Int).SetString("500000000000000000", 10)
	if got := formatEther(half); got != "0.5" {
		t.Fatalf("expected 0.5, got %s", got)
	}
}
