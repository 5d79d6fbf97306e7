// Package bus implements the context-carrying instruction channels that
// connect the screen, PTY, plugin, app and IPC-server goroutines. It mirrors
// Mosaic's SenderWithContext: every sender remembers the ErrorContext of the
// last message it forwarded, so a receiving loop can stamp its own hop onto
// the chain before passing a message along.
package bus

import (
	"errors"
	"sync"

	"mosaic/internal/errctx"
)

// ErrFull is returned by TrySend when a Bounded sender's buffer has no
// spare capacity. The caller owns backpressure handling (drop, log, retry).
var ErrFull = errors.New("bus: channel full")

// ErrClosed is returned when sending on a bus whose receiver side has gone
// away.
var ErrClosed = errors.New("bus: closed")

// Sender is a cloneable handle onto one end of an instruction channel. Typed
// over the payload T (e.g. a ScreenInstruction), it additionally threads an
// ErrorContext alongside every message.
type Sender[T any] struct {
	ch       chan envelope[T]
	mu       *sync.Mutex
	ctx      *errctx.ErrorContext
	busName  string
	closed   *bool
}

type envelope[T any] struct {
	ctx errctx.ErrorContext
	msg T
}

// Receiver is the consuming end of an instruction channel.
type Receiver[T any] struct {
	ch chan envelope[T]
}

// unboundedCapacity is the buffer size of every NewUnbounded channel.
const unboundedCapacity = 1024

// NewUnbounded creates a FIFO fan-in channel pair. Used for every bus except
// the app dispatcher's bounded queue. The channel is buffered with
// unboundedCapacity slots, not literally unbounded: once that many messages
// are waiting, Send blocks until the receiver catches up.
func NewUnbounded[T any](busName string) (Sender[T], Receiver[T]) {
	return newPair[T](busName, unboundedCapacity)
}

// NewBounded creates a buffered, capacity-limited channel pair — used for
// the app instruction bus, whose capacity applies backpressure to every
// other bus instead of letting a slow dispatcher grow memory without bound.
func NewBounded[T any](busName string, capacity int) (Sender[T], Receiver[T]) {
	return newPair[T](busName, capacity)
}

func newPair[T any](busName string, capacity int) (Sender[T], Receiver[T]) {
	ch := make(chan envelope[T], capacity)
	closed := false
	s := Sender[T]{
		ch:      ch,
		mu:      &sync.Mutex{},
		ctx:     &errctx.ErrorContext{},
		busName: busName,
		closed:  &closed,
	}
	return s, Receiver[T]{ch: ch}
}

// Send blocks until the message is delivered or the channel is closed.
// kind names the instruction variant for the ErrorContext hop recorded by
// this call.
func (s Sender[T]) Send(kind string, msg T) error {
	s.mu.Lock()
	if *s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.ctx.AddCall(s.busName, kind)
	env := envelope[T]{ctx: s.ctx.Clone(), msg: msg}
	s.mu.Unlock()

	defer func() { recover() }() // sending on a closed channel races with Close
	s.ch <- env
	return nil
}

// TrySend attempts a non-blocking send, returning ErrFull if the bounded
// channel has no spare slot. Used by producers posting onto the app
// dispatcher's bus, so a stalled dispatcher never blocks them indefinitely.
func (s Sender[T]) TrySend(kind string, msg T) error {
	s.mu.Lock()
	if *s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.ctx.AddCall(s.busName, kind)
	env := envelope[T]{ctx: s.ctx.Clone(), msg: msg}
	s.mu.Unlock()

	select {
	case s.ch <- env:
		return nil
	default:
		return ErrFull
	}
}

// Update replaces the sender's remembered ErrorContext. Called by the
// receiving loop right after Recv, so the next outbound message this sender
// issues continues the same causal chain instead of starting fresh.
func (s Sender[T]) Update(ctx errctx.ErrorContext) {
	s.mu.Lock()
	*s.ctx = ctx
	s.mu.Unlock()
}

// Close marks the sender closed. Safe to call once from the owning
// goroutine during shutdown; further sends return ErrClosed.
func (s Sender[T]) Close() {
	s.mu.Lock()
	*s.closed = true
	s.mu.Unlock()
	close(s.ch)
}

// Recv blocks for the next message, returning the payload, the ErrorContext
// it arrived with, and whether the channel is still open.
func (r Receiver[T]) Recv() (T, errctx.ErrorContext, bool) {
	env, ok := <-r.ch
	return env.msg, env.ctx, ok
}

// TryRecvAll drains every message currently buffered without blocking,
// returning them oldest-first. Used by the screen goroutine to coalesce a
// burst of Render triggers into a single pass.
func (r Receiver[T]) TryRecvAll() []T {
	var out []T
	for {
		select {
		case env, ok := <-r.ch:
			if !ok {
				return out
			}
			out = append(out, env.msg)
		default:
			return out
		}
	}
}
