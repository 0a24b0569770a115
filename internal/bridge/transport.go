package bridge

import (
	"context"
	"fmt"
	"sync"
)

// Envelope is a delivered message plus the origin metadata the receiving
// side gates on.
type Envelope struct {
	Origin string
	Msg    Message
}

// Transport moves messages between the two documents. Implementations:
// Pipe (in-process, tests and dry runs) and the CDP transport in
// internal/browser (real postMessage hops).
type Transport interface {
	// Post sends to the peer, stamped with this side's origin.
	Post(ctx context.Context, msg Message) error
	// Inbox yields messages from the peer as they arrive.
	Inbox() <-chan Envelope
}

const pipeBuffer = 32

// PipeEnd is one side of an in-process transport pair.
type PipeEnd struct {
	origin string
	peer   *PipeEnd
	in     chan Envelope

	mu      sync.Mutex
	handler func(Envelope)
}

var _ Transport = (*PipeEnd)(nil)

// NewPipe builds a connected transport pair. Each side's Post arrives on the
// other side stamped with the sender's origin.
func NewPipe(aOrigin, bOrigin string) (*PipeEnd, *PipeEnd) {
	a := &PipeEnd{origin: aOrigin, in: make(chan Envelope, pipeBuffer)}
	b := &PipeEnd{origin: bOrigin, in: make(chan Envelope, pipeBuffer)}
	a.peer = b
	b.peer = a
	return a, b
}

// Post implements Transport.
func (e *PipeEnd) Post(ctx context.Context, msg Message) error {
	return e.peer.deliver(ctx, Envelope{Origin: e.origin, Msg: msg})
}

// Inbox implements Transport.
func (e *PipeEnd) Inbox() <-chan Envelope { return e.in }

// Consume switches this end to synchronous delivery: every message is handed
// to fn inside the sender's Post call. Tests use it to run the widget agent
// deterministically without goroutine scheduling in the way.
func (e *PipeEnd) Consume(fn func(Envelope)) {
	e.mu.Lock()
	e.handler = fn
	e.mu.Unlock()
}

// Inject delivers an envelope with an arbitrary origin, bypassing the peer.
// Origin-gating tests forge hostile senders with it.
func (e *PipeEnd) Inject(env Envelope) {
	_ = e.deliver(context.Background(), env)
}

func (e *PipeEnd) deliver(ctx context.Context, env Envelope) error {
	e.mu.Lock()
	h := e.handler
	e.mu.Unlock()
	if h != nil {
		h(env)
		return nil
	}
	select {
	case e.in <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("bridge: inbox full, dropping %s", env.Msg.Type)
	}
}
