// Package proxy implements the signing JSON-RPC proxy that sits between a
// client (the offchain side) and a chain node (the onchain side).
//
// Pipelines are built from Pairs: full-duplex typed connections made of a
// stream of received messages and a sink of messages to send. The holder of
// a Pair reads Recv until it is closed and closes Send when it has nothing
// more to send. The producer behind a Pair closes Recv.
package proxy

import (
	"context"
	"sync"

	"github.com/chainsafe/cubist/pkg/jsonrpc"
)

// ChannelCapacity bounds every channel created by the combinators.
const ChannelCapacity = 10

// Msg is either a value or a JSON-RPC error travelling through a pipeline.
type Msg[T any] struct {
	Value T
	Err   *jsonrpc.Error
}

// Ok wraps a value.
func Ok[T any](v T) Msg[T] { return Msg[T]{Value: v} }

// Fail wraps an error.
func Fail[T any](err *jsonrpc.Error) Msg[T] { return Msg[T]{Err: err} }

// Pair is a full-duplex connection that emits R and accepts S.
type Pair[S, R any] struct {
	Recv <-chan Msg[R]
	Send chan<- Msg[S]
}

// NewPipe returns two connected pairs: what is sent on one is received on
// the other.
func NewPipe[A, B any]() (Pair[A, B], Pair[B, A]) {
	ab := make(chan Msg[A], ChannelCapacity)
	ba := make(chan Msg[B], ChannelCapacity)
	return Pair[A, B]{Recv: ba, Send: ab}, Pair[B, A]{Recv: ab, Send: ba}
}

func put[T any](ctx context.Context, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

func drain[T any](ch <-chan T) {
	for range ch {
	}
}

func forward[T any](ctx context.Context, in <-chan Msg[T], out chan<- Msg[T]) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			if !put(ctx, out, m) {
				return
			}
		}
	}
}

// Connect joins a and b so that what one emits is sent to the other. It
// returns once either side stops emitting or ctx is canceled, after closing
// both sinks.
func Connect[S, R any](ctx context.Context, a Pair[S, R], b Pair[R, S]) error {
	inner, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		forward(inner, a.Recv, b.Send)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		forward(inner, b.Recv, a.Send)
	}()
	wg.Wait()

	close(a.Send)
	close(b.Send)
	go drain(a.Recv)
	go drain(b.Recv)
	return ctx.Err()
}

// Map converts the values flowing in both directions of p.
func Map[S, R, S2, R2 any](ctx context.Context, p Pair[S, R], recv func(Msg[R]) Msg[R2], send func(Msg[S2]) Msg[S]) Pair[S2, R2] {
	recvCh := make(chan Msg[R2], ChannelCapacity)
	sendCh := make(chan Msg[S2], ChannelCapacity)

	go func() {
		defer close(recvCh)
		for m := range p.Recv {
			if !put(ctx, recvCh, recv(m)) {
				return
			}
		}
	}()
	go func() {
		defer close(p.Send)
		for m := range sendCh {
			if !put(ctx, p.Send, send(m)) {
				return
			}
		}
	}()
	return Pair[S2, R2]{Recv: recvCh, Send: sendCh}
}

// AndThen applies f to every value received from p. Errors are passed on
// untouched; the sink is not changed.
func AndThen[S, R, T any](ctx context.Context, p Pair[S, R], f func(context.Context, R) Msg[T]) Pair[S, T] {
	return Map(ctx, p,
		func(m Msg[R]) Msg[T] {
			if m.Err != nil {
				return Fail[T](m.Err)
			}
			return f(ctx, m.Value)
		},
		func(m Msg[S]) Msg[S] { return m },
	)
}

// Switch splits the stream of p in two: messages matching pred go to the
// first pair, the others to the second. Both sinks feed p's sink, which is
// closed once both are closed.
func Switch[S, R any](ctx context.Context, p Pair[S, R], pred func(Msg[R]) bool) (Pair[S, R], Pair[S, R]) {
	yesR := make(chan Msg[R], ChannelCapacity)
	noR := make(chan Msg[R], ChannelCapacity)
	yesS := make(chan Msg[S], ChannelCapacity)
	noS := make(chan Msg[S], ChannelCapacity)

	go func() {
		defer close(yesR)
		defer close(noR)
		for m := range p.Recv {
			out := noR
			if pred(m) {
				out = yesR
			}
			if !put(ctx, out, m) {
				return
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	for _, in := range []chan Msg[S]{yesS, noS} {
		go func(in chan Msg[S]) {
			defer wg.Done()
			for m := range in {
				if !put(ctx, p.Send, m) {
					return
				}
			}
		}(in)
	}
	go func() {
		wg.Wait()
		close(p.Send)
	}()

	return Pair[S, R]{Recv: yesR, Send: yesS}, Pair[S, R]{Recv: noR, Send: noS}
}

// ErrorsToSink sends the errors emitted by p back into p's sink. Over HTTP
// an error is the response to the request that caused it.
func ErrorsToSink[S, R any](ctx context.Context, p Pair[S, R]) Pair[S, R] {
	recvCh := make(chan Msg[R], ChannelCapacity)
	sendCh := make(chan Msg[S], ChannelCapacity)
	bounce := make(chan Msg[S])
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		defer close(p.Send)
		for {
			var m Msg[S]
			select {
			case <-ctx.Done():
				return
			case m = <-bounce:
			case sent, ok := <-sendCh:
				if !ok {
					return
				}
				m = sent
			}
			if !put(ctx, p.Send, m) {
				return
			}
		}
	}()

	go func() {
		defer close(recvCh)
		for m := range p.Recv {
			if m.Err != nil {
				select {
				case bounce <- Fail[S](m.Err):
				case <-writerDone:
				case <-ctx.Done():
					return
				}
				continue
			}
			if !put(ctx, recvCh, m) {
				return
			}
		}
	}()

	return Pair[S, R]{Recv: recvCh, Send: sendCh}
}

// ErrorsToStream emits the errors sent into the returned pair instead of
// passing them to p. A node cannot receive errors, so they are turned into
// responses for the client.
func ErrorsToStream[S, R any](ctx context.Context, p Pair[S, R]) Pair[S, R] {
	recvCh := make(chan Msg[R], ChannelCapacity)
	sendCh := make(chan Msg[S], ChannelCapacity)
	bounce := make(chan Msg[R])
	readerDone := make(chan struct{})

	go func() {
		defer close(readerDone)
		defer close(recvCh)
		for {
			var m Msg[R]
			select {
			case <-ctx.Done():
				return
			case m = <-bounce:
			case recv, ok := <-p.Recv:
				if !ok {
					return
				}
				m = recv
			}
			if !put(ctx, recvCh, m) {
				return
			}
		}
	}()

	go func() {
		defer close(p.Send)
		for m := range sendCh {
			if m.Err != nil {
				select {
				case bounce <- Fail[R](m.Err):
				case <-readerDone:
				case <-ctx.Done():
					return
				}
				continue
			}
			if !put(ctx, p.Send, m) {
				return
			}
		}
	}()

	return Pair[S, R]{Recv: recvCh, Send: sendCh}
}

// Handle answers every message received from p with fn until p's stream
// closes, then closes p's sink. Errors are echoed back.
func Handle[S, R any](ctx context.Context, p Pair[S, R], fn func(context.Context, R) Msg[S]) {
	defer close(p.Send)
	for m := range p.Recv {
		out := Fail[S](m.Err)
		if m.Err == nil {
			out = fn(ctx, m.Value)
		}
		if !put(ctx, p.Send, out) {
			return
		}
	}
}
