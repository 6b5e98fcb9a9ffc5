package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/cubist/pkg/app/errors"
	"github.com/chainsafe/cubist/pkg/jsonrpc"
)

// Dial connects to a node at uri over HTTP(S) or websocket. Errors sent
// into the returned pair are dropped; wrap it with ErrorsToStream when the
// other side can produce errors.
func Dial(ctx context.Context, uri string, logger *zap.Logger) (Pair[*jsonrpc.Request, json.RawMessage], error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	u, err := url.Parse(uri)
	if err != nil {
		return Pair[*jsonrpc.Request, json.RawMessage]{}, apperrors.PipelineFatalError(err, "invalid upstream uri")
	}
	switch u.Scheme {
	case "http", "https":
		return dialHTTP(ctx, u.String(), &http.Client{Timeout: 2 * time.Minute}, logger), nil
	case "ws", "wss":
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			return Pair[*jsonrpc.Request, json.RawMessage]{}, apperrors.PipelineFatalError(err, "connect to "+u.Redacted())
		}
		return dialWS(ctx, conn, logger), nil
	}
	return Pair[*jsonrpc.Request, json.RawMessage]{}, apperrors.PipelineFatalError(nil, fmt.Sprintf("unsupported uri scheme %q", u.Scheme))
}

func dialHTTP(ctx context.Context, uri string, client *http.Client, logger *zap.Logger) Pair[*jsonrpc.Request, json.RawMessage] {
	recvCh := make(chan Msg[json.RawMessage], ChannelCapacity)
	sendCh := make(chan Msg[*jsonrpc.Request], ChannelCapacity)

	go func() {
		defer close(recvCh)
		for m := range sendCh {
			if m.Err != nil {
				logger.Debug("Dropping error sent upstream", zap.Error(m.Err))
				continue
			}
			if !put(ctx, recvCh, postJSONRPC(ctx, client, uri, m.Value)) {
				go drain(sendCh)
				return
			}
		}
	}()
	return Pair[*jsonrpc.Request, json.RawMessage]{Recv: recvCh, Send: sendCh}
}

func postJSONRPC(ctx context.Context, client *http.Client, uri string, req *jsonrpc.Request) Msg[json.RawMessage] {
	body, err := json.Marshal(req)
	if err != nil {
		return Fail[json.RawMessage](jsonrpc.NewError(jsonrpc.InternalError, err.Error()).WithID(req.ID))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		return Fail[json.RawMessage](jsonrpc.NewErrorWithMessage(jsonrpc.ServerError, "making HTTP request", err.Error()).WithID(req.ID))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return Fail[json.RawMessage](jsonrpc.NewErrorWithMessage(jsonrpc.ServerError, "making HTTP request", err.Error()).WithID(req.ID))
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))

	switch {
	case resp.StatusCode == http.StatusNoContent || req.ID.IsNotification():
		return Fail[json.RawMessage](jsonrpc.NewNoResponse("onchain http").WithID(req.ID))
	case resp.StatusCode != http.StatusOK:
		return Fail[json.RawMessage](jsonrpc.NewErrorWithMessage(jsonrpc.ServerError, "HTTP status code", http.StatusText(resp.StatusCode)).WithID(req.ID))
	case err != nil:
		return Fail[json.RawMessage](jsonrpc.NewErrorWithMessage(jsonrpc.ServerError, "HTTP response", err.Error()).WithID(req.ID))
	case !json.Valid(data):
		return Fail[json.RawMessage](jsonrpc.NewErrorWithMessage(jsonrpc.ParseError, "HTTP to JSON", string(data)).WithID(req.ID))
	}
	return Ok(json.RawMessage(data))
}

func dialWS(ctx context.Context, conn *websocket.Conn, logger *zap.Logger) Pair[*jsonrpc.Request, json.RawMessage] {
	recvCh := make(chan Msg[json.RawMessage], ChannelCapacity)
	sendCh := make(chan Msg[*jsonrpc.Request], ChannelCapacity)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		wg.Wait()
		close(recvCh)
	}()

	go func() {
		defer wg.Done()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				logger.Debug("Upstream websocket closed", zap.Error(err))
				return
			}
			m := Ok(json.RawMessage(data))
			if !json.Valid(data) {
				m = Fail[json.RawMessage](jsonrpc.NewErrorWithMessage(jsonrpc.ParseError, "websocket to JSON", string(data)).WithID(jsonrpc.NullID))
			}
			if !put(ctx, recvCh, m) {
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		defer conn.Close()
		for m := range sendCh {
			if m.Err != nil {
				logger.Debug("Dropping error sent upstream", zap.Error(m.Err))
				continue
			}
			body, err := json.Marshal(m.Value)
			if err == nil {
				err = conn.WriteMessage(websocket.TextMessage, body)
			}
			if err != nil {
				logger.Debug("Upstream websocket write failed", zap.Error(err))
				go drain(sendCh)
				return
			}
			// Notifications get no answer from the node, but an HTTP client
			// still waits for one.
			if m.Value.ID.IsNotification() {
				if !put(ctx, recvCh, Fail[json.RawMessage](jsonrpc.NewNoResponse("onchain websocket"))) {
					return
				}
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}()

	return Pair[*jsonrpc.Request, json.RawMessage]{Recv: recvCh, Send: sendCh}
}

// forwardHTTP relays a raw request to base with the request's path and
// query. Transport failures become 502 responses.
func forwardHTTP(ctx context.Context, client *http.Client, base *url.URL, req HTTPRequest) HTTPResponse {
	target := *base
	target.Path = req.Path
	target.RawQuery = req.RawQuery

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(req.Body))
	if err != nil {
		return HTTPResponse{Status: http.StatusBadGateway, Body: []byte(err.Error())}
	}
	if ct := req.Header.Get("Content-Type"); ct != "" {
		httpReq.Header.Set("Content-Type", ct)
	} else {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return HTTPResponse{Status: http.StatusBadGateway, Body: []byte(err.Error())}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return HTTPResponse{Status: http.StatusBadGateway, Body: []byte(err.Error())}
	}
	return HTTPResponse{Status: resp.StatusCode, Body: body}
}
