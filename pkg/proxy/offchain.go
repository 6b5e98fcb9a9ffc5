package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chainsafe/cubist/internal/metrics"
	"github.com/chainsafe/cubist/pkg/app/httpserver"
	"github.com/chainsafe/cubist/pkg/jsonrpc"
)

const maxBodySize = 10 << 20

// noContentPing is the payload of the ping frame written in place of a
// response that has no content.
var noContentPing = []byte{204}

// HTTPRequest is a client request read by the listener.
type HTTPRequest struct {
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// HTTPResponse is written back to the client that sent the matching request.
type HTTPResponse struct {
	Status int
	Body   []byte
}

// Pipeline serves a single client connection.
type Pipeline func(ctx context.Context, off *Offchain) error

// Offchain is one client connection: a keep-alive HTTP connection whose
// requests are answered in order, or a websocket.
type Offchain struct {
	ctx    context.Context
	logger *zap.Logger

	http *httpSession
	ws   *websocket.Conn

	// Path and RawQuery are taken from the upgrade request of a websocket.
	Path     string
	RawQuery string
}

// IsWebSocket reports whether the client upgraded to a websocket.
func (o *Offchain) IsWebSocket() bool { return o.ws != nil }

// RR returns the raw request/response pair of an HTTP client. It returns
// false for websockets.
func (o *Offchain) RR() (Pair[HTTPResponse, HTTPRequest], bool) {
	if o.http == nil {
		return Pair[HTTPResponse, HTTPRequest]{}, false
	}
	return Pair[HTTPResponse, HTTPRequest]{Recv: o.http.in, Send: o.http.out}, true
}

// JSONRPC returns the client as a stream of JSON-RPC requests accepting JSON
// responses. Requests that fail to parse are answered directly. It may be
// called once per connection.
func (o *Offchain) JSONRPC() Pair[json.RawMessage, *jsonrpc.Request] {
	if rr, ok := o.RR(); ok {
		return HTTPJSONRPC(o.ctx, rr)
	}
	return ErrorsToSink(o.ctx, Map(o.ctx, o.wsPair(),
		func(m Msg[[]byte]) Msg[*jsonrpc.Request] {
			if m.Err != nil {
				return Fail[*jsonrpc.Request](m.Err)
			}
			req, err := jsonrpc.ParseRequest(m.Value)
			if err != nil {
				return Fail[*jsonrpc.Request](err)
			}
			return Ok(req)
		},
		func(m Msg[json.RawMessage]) Msg[wsFrame] {
			if m.Err != nil {
				body := m.Err.Response()
				if body == nil {
					return Ok(wsFrame{ping: true})
				}
				return Ok(wsFrame{data: body})
			}
			return Ok(wsFrame{data: m.Value})
		},
	))
}

// HTTPJSONRPC converts raw HTTP requests carrying JSON-RPC bodies. A
// response without content becomes a 204.
func HTTPJSONRPC(ctx context.Context, rr Pair[HTTPResponse, HTTPRequest]) Pair[json.RawMessage, *jsonrpc.Request] {
	return ErrorsToSink(ctx, Map(ctx, rr,
		func(m Msg[HTTPRequest]) Msg[*jsonrpc.Request] {
			if m.Err != nil {
				return Fail[*jsonrpc.Request](m.Err)
			}
			req, err := jsonrpc.ParseRequest(m.Value.Body)
			if err != nil {
				return Fail[*jsonrpc.Request](err)
			}
			return Ok(req)
		},
		func(m Msg[json.RawMessage]) Msg[HTTPResponse] { return Ok(toHTTPResponse(m)) },
	))
}

func toHTTPResponse(m Msg[json.RawMessage]) HTTPResponse {
	if m.Err != nil {
		body := m.Err.Response()
		if body == nil {
			return HTTPResponse{Status: http.StatusNoContent}
		}
		return HTTPResponse{Status: http.StatusOK, Body: body}
	}
	return HTTPResponse{Status: http.StatusOK, Body: m.Value}
}

type wsFrame struct {
	ping bool
	data []byte
}

// wsPair reads text frames and writes frames until the sink closes, then
// closes the socket.
func (o *Offchain) wsPair() Pair[wsFrame, []byte] {
	recvCh := make(chan Msg[[]byte], ChannelCapacity)
	sendCh := make(chan Msg[wsFrame], ChannelCapacity)
	conn := o.ws

	go func() {
		defer close(recvCh)
		for {
			typ, data, err := conn.ReadMessage()
			if err != nil {
				o.logger.Debug("Websocket client closed", zap.Error(err))
				return
			}
			m := Ok(data)
			if typ != websocket.TextMessage {
				m = Fail[[]byte](jsonrpc.NewErrorWithMessage(jsonrpc.InvalidRequest, "only text frames are supported", nil).WithID(jsonrpc.NullID))
			}
			if !put(o.ctx, recvCh, m) {
				return
			}
		}
	}()

	go func() {
		defer conn.Close()
		for m := range sendCh {
			var err error
			if m.Value.ping {
				err = conn.WriteControl(websocket.PingMessage, noContentPing, time.Now().Add(5*time.Second))
			} else {
				err = conn.WriteMessage(websocket.TextMessage, m.Value.data)
			}
			if err != nil {
				o.logger.Debug("Websocket write failed", zap.Error(err))
				go drain(sendCh)
				return
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}()

	return Pair[wsFrame, []byte]{Recv: recvCh, Send: sendCh}
}

// httpSession carries the requests of one keep-alive connection into a
// pipeline. Requests are serialized so responses match up in order.
type httpSession struct {
	mu      sync.Mutex
	started sync.Once
	closed  sync.Once

	in   chan Msg[HTTPRequest]
	out  chan Msg[HTTPResponse]
	done chan struct{}
}

func newHTTPSession() *httpSession {
	return &httpSession{
		in:   make(chan Msg[HTTPRequest]),
		out:  make(chan Msg[HTTPResponse], ChannelCapacity),
		done: make(chan struct{}),
	}
}

func (s *httpSession) close() {
	s.closed.Do(func() {
		close(s.done)
		s.mu.Lock()
		close(s.in)
		s.mu.Unlock()
	})
}

func (s *httpSession) roundTrip(ctx context.Context, req HTTPRequest) (HTTPResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return HTTPResponse{}, false
	default:
	}
	select {
	case s.in <- Ok(req):
	case <-s.done:
		return HTTPResponse{}, false
	case <-ctx.Done():
		return HTTPResponse{}, false
	}

	select {
	case resp, ok := <-s.out:
		return resp.Value, ok
	case <-ctx.Done():
		// The response can no longer be matched to a request.
		go s.close()
		return HTTPResponse{}, false
	}
}

type sessionKey struct{}

// Listener accepts client connections and runs a pipeline for each.
type Listener struct {
	ln       net.Listener
	logger   *zap.Logger
	upgrader websocket.Upgrader
	sessions sync.Map // net.Conn -> *httpSession

	ctx      context.Context
	pipeline Pipeline
}

// Option configures a Listener.
type Option func(*Listener)

// WithLogger sets the logger of the listener and its pipelines.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Listen binds addr, e.g. "127.0.0.1:0".
func Listen(addr string, opts ...Option) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	l := &Listener{
		ln:       ln,
		logger:   zap.NewNop(),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Addr is the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Serve runs pipeline for every client connection until ctx is canceled.
func (l *Listener) Serve(ctx context.Context, pipeline Pipeline) error {
	l.ctx = ctx
	l.pipeline = pipeline
	srv := &http.Server{
		Handler:           http.HandlerFunc(l.serveHTTP),
		ReadHeaderTimeout: 10 * time.Second,
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			s := newHTTPSession()
			l.sessions.Store(c, s)
			return context.WithValue(ctx, sessionKey{}, s)
		},
		ConnState: func(c net.Conn, state http.ConnState) {
			switch state {
			case http.StateClosed, http.StateHijacked:
				if s, ok := l.sessions.LoadAndDelete(c); ok {
					s.(*httpSession).close()
				}
			}
		},
	}
	return httpserver.ServeListenerAndWait(ctx, l.logger, srv, l.ln, 5*time.Second)
}

func (l *Listener) spawn(off *Offchain, transport string) {
	ctx, cancel := context.WithCancel(l.ctx)
	off.ctx = ctx
	off.logger = l.logger
	metrics.ProxyConnections.WithLabelValues(transport).Inc()
	go func() {
		defer metrics.ProxyConnections.WithLabelValues(transport).Dec()
		defer cancel()
		if err := l.pipeline(ctx, off); err != nil && ctx.Err() == nil {
			l.logger.Warn("Proxy pipeline failed", zap.String("transport", transport), zap.Error(err))
		}
	}()
	if off.http != nil {
		go func() {
			select {
			case <-off.http.done:
				cancel()
			case <-ctx.Done():
			}
		}()
	}
}

func (l *Listener) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		conn, err := l.upgrader.Upgrade(w, r, nil)
		if err != nil {
			l.logger.Debug("Websocket upgrade failed", zap.Error(err))
			return
		}
		l.spawn(&Offchain{ws: conn, Path: r.URL.Path, RawQuery: r.URL.RawQuery}, "ws")
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, fmt.Sprintf("method %s not allowed", r.Method), http.StatusMethodNotAllowed)
		return
	}
	if r.ContentLength < 0 {
		http.Error(w, "Content-Length required", http.StatusLengthRequired)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return
	}

	s, ok := r.Context().Value(sessionKey{}).(*httpSession)
	if !ok {
		http.Error(w, "no session for connection", http.StatusInternalServerError)
		return
	}
	s.started.Do(func() { l.spawn(&Offchain{http: s}, "http") })

	resp, ok := s.roundTrip(r.Context(), HTTPRequest{
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
		Header:   r.Header.Clone(),
		Body:     body,
	})
	if !ok {
		http.Error(w, "Shutting down", http.StatusInternalServerError)
		return
	}
	if len(resp.Body) > 0 {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}
