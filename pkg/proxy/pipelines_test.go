package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
	"github.com/chainsafe/cubist/pkg/jsonrpc"
	"github.com/chainsafe/cubist/pkg/keys"
)

// fakeNode answers JSON-RPC posts and records the methods it saw.
type fakeNode struct {
	mu      sync.Mutex
	methods []string
	paths   []string
}

func (n *fakeNode) seen() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.methods...)
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	n.mu.Lock()
	n.paths = append(n.paths, r.URL.Path)
	n.mu.Unlock()

	if r.URL.Path == "/ext/info" {
		_, _ = w.Write([]byte(`{"info":true}`))
		return
	}
	var req jsonrpc.Request
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n.mu.Lock()
	n.methods = append(n.methods, req.Method)
	n.mu.Unlock()

	if req.ID.IsNotification() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	result := "0x1"
	if req.Method == "eth_sendRawTransaction" {
		result = "0xfeed"
	}
	resp, _ := jsonrpc.SuccessResponse(req.ID, result)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(resp)
}

func serve(t *testing.T, pipeline Pipeline) string {
	t.Helper()
	l, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx, pipeline) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Errorf("listener did not shut down")
		}
	})
	return l.Addr().String()
}

func post(t *testing.T, client *http.Client, uri, body string) (int, []byte) {
	t.Helper()
	resp, err := client.Post(uri, "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("POST %s: %v", uri, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

func httpClient(t *testing.T) *http.Client {
	t.Helper()
	c := &http.Client{Transport: &http.Transport{}, Timeout: 10 * time.Second}
	t.Cleanup(c.CloseIdleConnections)
	return c
}

func decodeResponse(t *testing.T, data []byte) jsonrpc.Response {
	t.Helper()
	var resp jsonrpc.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("unmarshal response %s: %v", data, err)
	}
	return resp
}

func TestEthPipeline_HTTP(t *testing.T) {
	node := &fakeNode{}
	upstream := httptest.NewServer(node)
	defer upstream.Close()

	cp := NewCredProxy("ethereum", testChainID, []*keys.Wallet{testWallet(t)}, nil, nil)
	addr := serve(t, Eth(upstream.URL, cp, nil))
	client := httpClient(t)
	uri := "http://" + addr

	status, body := post(t, client, uri, `{"jsonrpc":"2.0","id":1,"method":"eth_accounts"}`)
	if status != http.StatusOK || !strings.Contains(strings.ToLower(string(body)), testAddress) {
		t.Fatalf("eth_accounts: %d %s", status, body)
	}

	tx := `{"jsonrpc":"2.0","id":2,"method":"eth_sendTransaction","params":[{"from":"` + testAddress + `","value":"0x2a"}]}`
	status, body = post(t, client, uri, tx)
	if status != http.StatusOK {
		t.Fatalf("eth_sendTransaction status %d: %s", status, body)
	}
	if resp := decodeResponse(t, body); string(resp.Result) != `"0xfeed"` || string(resp.ID) != "2" {
		t.Fatalf("unexpected response %s", body)
	}

	status, body = post(t, client, uri, `{"jsonrpc":"2.0","id":3,"method":"eth_blockNumber"}`)
	if status != http.StatusOK || !strings.Contains(string(body), `"0x1"`) {
		t.Fatalf("eth_blockNumber: %d %s", status, body)
	}

	want := []string{"eth_sendRawTransaction", "eth_blockNumber"}
	got := node.seen()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("node saw %v, want %v", got, want)
	}
}

func TestListener_HTTPEdgeCases(t *testing.T) {
	upstream := httptest.NewServer(&fakeNode{})
	defer upstream.Close()

	cp := NewCredProxy("ethereum", testChainID, nil, nil, nil)
	addr := serve(t, Eth(upstream.URL, cp, nil))
	client := httpClient(t)
	uri := "http://" + addr

	t.Run("notification", func(t *testing.T) {
		status, body := post(t, client, uri, `{"jsonrpc":"2.0","method":"eth_blockNumber"}`)
		if status != http.StatusNoContent || len(body) != 0 {
			t.Fatalf("got %d %q, want 204", status, body)
		}
	})

	t.Run("parse error", func(t *testing.T) {
		status, body := post(t, client, uri, `{`)
		if status != http.StatusOK {
			t.Fatalf("status %d", status)
		}
		resp := decodeResponse(t, body)
		if resp.Error == nil || resp.Error.Code != jsonrpc.ParseError {
			t.Fatalf("expected parse error, got %s", body)
		}
	})

	t.Run("batch", func(t *testing.T) {
		_, body := post(t, client, uri, `[{"jsonrpc":"2.0","id":1,"method":"eth_chainId"}]`)
		resp := decodeResponse(t, body)
		if resp.Error == nil || resp.Error.Code != jsonrpc.InvalidRequest {
			t.Fatalf("expected invalid request, got %s", body)
		}
	})

	t.Run("get", func(t *testing.T) {
		resp, err := client.Get(uri)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("status %d, want 405", resp.StatusCode)
		}
	})
}

func TestPassPipeline_UpstreamStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer upstream.Close()

	addr := serve(t, Pass(upstream.URL, nil))
	_, body := post(t, httpClient(t), "http://"+addr, `{"jsonrpc":"2.0","id":"a","method":"eth_chainId"}`)
	resp := decodeResponse(t, body)
	if resp.Error == nil || resp.Error.Code != jsonrpc.ServerError || resp.Error.Message != "HTTP status code" {
		t.Fatalf("unexpected response %s", body)
	}
	if string(resp.ID) != `"a"` {
		t.Fatalf("id = %s", resp.ID)
	}
}

func dialClient(t *testing.T, uri string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(uri, nil)
	if err != nil {
		t.Fatalf("Dial %s: %v", uri, err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	return conn
}

func TestEcho_WebSocket(t *testing.T) {
	addr := serve(t, Echo)
	conn := dialClient(t, "ws://"+addr+"/")

	msg := `{"jsonrpc":"2.0","id":7,"method":"net_version","params":[]}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got jsonrpc.Request
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	if got.Method != "net_version" || string(got.ID) != "7" {
		t.Fatalf("echo returned %s", data)
	}

	// Binary frames are rejected with an error addressed to nobody.
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp := decodeResponse(t, data); resp.Error == nil || resp.Error.Code != jsonrpc.InvalidRequest {
		t.Fatalf("expected invalid request, got %s", data)
	}
}

func TestPassPipeline_WebSocketClient(t *testing.T) {
	node := &fakeNode{}
	upstream := httptest.NewServer(node)
	defer upstream.Close()

	addr := serve(t, Pass(upstream.URL, nil))
	conn := dialClient(t, "ws://"+addr+"/")

	for i, method := range []string{"eth_chainId", "eth_gasPrice"} {
		req, _ := jsonrpc.NewRequest(jsonrpc.NumberID(int64(i)), method, nil)
		b, _ := json.Marshal(req)
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			t.Fatalf("write: %v", err)
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if resp := decodeResponse(t, data); string(resp.Result) != `"0x1"` {
			t.Fatalf("unexpected response %s", data)
		}
	}
	if got := node.seen(); len(got) != 2 || got[1] != "eth_gasPrice" {
		t.Fatalf("node saw %v", got)
	}
}

func TestDial_UnsupportedScheme(t *testing.T) {
	_, err := Dial(context.Background(), "ftp://localhost:21", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !apperrors.Is(err, apperrors.KindPipelineFatal) {
		t.Fatalf("kind = %v, want pipeline fatal", apperrors.KindOf(err))
	}
}

func TestAvaPipeline(t *testing.T) {
	node := &fakeNode{}
	upstream := httptest.NewServer(node)
	defer upstream.Close()

	cp := NewCredProxy("avalanche", testChainID, []*keys.Wallet{testWallet(t)}, nil, nil)
	addr := serve(t, Ava(upstream.URL, map[string]*CredProxy{"C": cp}, nil))
	client := httpClient(t)

	status, body := post(t, client, "http://"+addr+"/ext/bc/C/rpc",
		`{"jsonrpc":"2.0","id":1,"method":"eth_sendTransaction","params":[{"from":"`+testAddress+`"}]}`)
	if status != http.StatusOK || !strings.Contains(string(body), "0xfeed") {
		t.Fatalf("send through C chain: %d %s", status, body)
	}

	status, body = post(t, client, "http://"+addr+"/ext/info", `{}`)
	if status != http.StatusOK || string(body) != `{"info":true}` {
		t.Fatalf("forwarded info: %d %s", status, body)
	}

	// No proxy is configured for the X chain, so it is forwarded untouched.
	_, _ = post(t, client, "http://"+addr+"/ext/bc/X/rpc", `{"jsonrpc":"2.0","id":2,"method":"eth_sendTransaction"}`)

	got := node.seen()
	if len(got) != 2 || got[0] != "eth_sendRawTransaction" || got[1] != "eth_sendTransaction" {
		t.Fatalf("node saw %v", got)
	}
	node.mu.Lock()
	defer node.mu.Unlock()
	if node.paths[0] != "/ext/bc/C/rpc" || node.paths[2] != "/ext/bc/X/rpc" {
		t.Fatalf("node paths %v", node.paths)
	}
}

func TestAvaPaths(t *testing.T) {
	if id, ok := httpChainID("/ext/bc/C/rpc"); !ok || id != "C" {
		t.Fatalf("httpChainID = %q, %v", id, ok)
	}
	if _, ok := httpChainID("/ext/info"); ok {
		t.Fatal("httpChainID matched /ext/info")
	}
	if id, ok := wsChainID("/ext/bc/2Xyz/ws"); !ok || id != "2Xyz" {
		t.Fatalf("wsChainID = %q, %v", id, ok)
	}

	base, _ := url.Parse("https://node.example:9650/ignored?x=1")
	if got := canonURI(base, "/ext/bc/C/rpc", ""); got != "https://node.example:9650/ext/bc/C/rpc" {
		t.Fatalf("canonURI = %s", got)
	}
	if got := wsURI(base, "/ext/bc/C/ws", "a=b"); got != "wss://node.example:9650/ext/bc/C/ws?a=b" {
		t.Fatalf("wsURI = %s", got)
	}
	plain, _ := url.Parse("http://127.0.0.1:9650")
	if got := wsURI(plain, "/ext/bc/C/ws", ""); got != "ws://127.0.0.1:9650/ext/bc/C/ws" {
		t.Fatalf("wsURI = %s", got)
	}
}
