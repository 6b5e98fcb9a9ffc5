package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chainsafe/cubist/pkg/jsonrpc"
)

// Pass relays every request to the node at uri.
func Pass(uri string, logger *zap.Logger) Pipeline {
	return func(ctx context.Context, off *Offchain) error {
		return PassPair(ctx, off.JSONRPC(), uri, logger)
	}
}

// PassPair connects client to the node at uri.
func PassPair(ctx context.Context, client Pair[json.RawMessage, *jsonrpc.Request], uri string, logger *zap.Logger) error {
	onchain, err := Dial(ctx, uri, logger)
	if err != nil {
		abort(client)
		return err
	}
	return Connect(ctx, onchain, client)
}

// Eth relays requests to the node at uri, signing transactions with proxy.
func Eth(uri string, proxy *CredProxy, logger *zap.Logger) Pipeline {
	return func(ctx context.Context, off *Offchain) error {
		return EthPair(ctx, off.JSONRPC(), uri, proxy, logger)
	}
}

// EthPair connects client to the node at uri through proxy.
func EthPair(ctx context.Context, client Pair[json.RawMessage, *jsonrpc.Request], uri string, proxy *CredProxy, logger *zap.Logger) error {
	onchain, err := Dial(ctx, uri, logger)
	if err != nil {
		abort(client)
		return err
	}
	return Connect(ctx, ErrorsToStream(ctx, onchain), proxy.Wrap(ctx, client))
}

// Echo answers every request with the request itself.
func Echo(ctx context.Context, off *Offchain) error {
	Handle(ctx, off.JSONRPC(), func(_ context.Context, req *jsonrpc.Request) Msg[json.RawMessage] {
		b, err := json.Marshal(req)
		if err != nil {
			return Fail[json.RawMessage](jsonrpc.NewError(jsonrpc.InternalError, err.Error()).WithID(req.ID))
		}
		return Ok(json.RawMessage(b))
	})
	return nil
}

// dumpLimit is the number of messages Dump accepts before hanging up.
const dumpLimit = 6

// Dump logs incoming requests, answers none of them and closes the
// connection after a few messages.
func Dump(logger *zap.Logger) Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, off *Offchain) error {
		p := off.JSONRPC()
		defer func() {
			close(p.Send)
			go drain(p.Recv)
		}()
		for i := 0; i < dumpLimit; i++ {
			var m Msg[*jsonrpc.Request]
			select {
			case <-ctx.Done():
				return ctx.Err()
			case recv, ok := <-p.Recv:
				if !ok {
					return nil
				}
				m = recv
			}
			if m.Err != nil {
				logger.Info("dump", zap.Error(m.Err))
			} else {
				logger.Info("dump", zap.Stringer("request", m.Value))
			}
			if !put(ctx, p.Send, Fail[json.RawMessage](jsonrpc.NewNoResponse("pipeline dump"))) {
				return ctx.Err()
			}
		}
		return nil
	}
}

// Ava routes requests for an avalanche node. JSON-RPC traffic to
// /ext/bc/{id}/rpc or /ext/bc/{id}/ws goes through the proxy configured for
// chain id; everything else is forwarded unchanged.
func Ava(uri string, proxies map[string]*CredProxy, logger *zap.Logger) Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, off *Offchain) error {
		base, err := url.Parse(uri)
		if err != nil {
			return err
		}

		if off.IsWebSocket() {
			target := wsURI(base, off.Path, off.RawQuery)
			if id, ok := wsChainID(off.Path); ok && proxies[id] != nil {
				logger.Debug("Starting eth pipeline for avalanche websocket", zap.String("chain", id))
				return EthPair(ctx, off.JSONRPC(), target, proxies[id], logger)
			}
			return PassPair(ctx, off.JSONRPC(), target, logger)
		}

		rr, _ := off.RR()
		defer close(rr.Send)

		handlers := map[string]Pair[*jsonrpc.Request, json.RawMessage]{}
		defer func() {
			for _, h := range handlers {
				close(h.Send)
				go drain(h.Recv)
			}
		}()
		client := &http.Client{Timeout: 2 * time.Minute}

		for m := range rr.Recv {
			req := m.Value
			var resp HTTPResponse
			if id, ok := httpChainID(req.Path); ok && proxies[id] != nil {
				h, started := handlers[id]
				if !started {
					logger.Debug("Starting avalanche HTTP handler", zap.String("chain", id))
					ours, theirs := NewPipe[*jsonrpc.Request, json.RawMessage]()
					go func(uri string, proxy *CredProxy) {
						if err := EthPair(ctx, theirs, uri, proxy, logger); err != nil && ctx.Err() == nil {
							logger.Warn("Avalanche handler failed", zap.Error(err))
						}
					}(canonURI(base, req.Path, req.RawQuery), proxies[id])
					handlers[id] = ours
					h = ours
				}
				var ok bool
				if resp, ok = roundTrip(ctx, h, req.Body); !ok {
					return nil
				}
			} else {
				resp = forwardHTTP(ctx, client, base, req)
			}
			if !put(ctx, rr.Send, Ok(resp)) {
				return ctx.Err()
			}
		}
		return nil
	}
}

func roundTrip(ctx context.Context, h Pair[*jsonrpc.Request, json.RawMessage], body []byte) (HTTPResponse, bool) {
	req, rpcErr := jsonrpc.ParseRequest(body)
	if rpcErr != nil {
		return toHTTPResponse(Fail[json.RawMessage](rpcErr)), true
	}
	if !put(ctx, h.Send, Ok(req)) {
		return HTTPResponse{}, false
	}
	select {
	case m, ok := <-h.Recv:
		return toHTTPResponse(m), ok
	case <-ctx.Done():
		return HTTPResponse{}, false
	}
}

func abort[S, R any](p Pair[S, R]) {
	close(p.Send)
	go drain(p.Recv)
}

func avaSuffix(path, suffix string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "/ext/bc/")
	if !ok {
		return "", false
	}
	return strings.CutSuffix(rest, suffix)
}

func wsChainID(path string) (string, bool) { return avaSuffix(path, "/ws") }

func httpChainID(path string) (string, bool) { return avaSuffix(path, "/rpc") }

// canonURI replaces the path and query of base.
func canonURI(base *url.URL, path, rawQuery string) string {
	u := *base
	u.Path = path
	u.RawPath = ""
	u.RawQuery = rawQuery
	return u.String()
}

// wsURI is canonURI with a websocket scheme.
func wsURI(base *url.URL, path, rawQuery string) string {
	u := *base
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return canonURI(&u, path, rawQuery)
}
