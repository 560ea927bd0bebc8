// Package signal carries signaling envelopes between this client and the
// signaling server. The Channel interface is the only surface the session
// layer depends on; WSChannel is the network implementation and
// signaltest provides in-process doubles that satisfy the same contract.
package signal

import (
	"context"
	"errors"

	"github.com/petervdpas/augur/internal/proto"
)

var (
	// ErrQueueFull is returned by Send when the outbound queue is at capacity.
	ErrQueueFull = errors.New("signal: outbound queue full")
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("signal: channel closed")
)

// State is the connection state of a Channel.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
)

// Channel is a persistent bidirectional envelope channel.
//
// Send never blocks on the network. Envelopes sent before the channel is
// open (or while it is reconnecting) are queued and flushed in order once it
// opens; nothing is dropped silently.
type Channel interface {
	// Connect starts the channel for identity self and waits until it is
	// open or ctx is done. The channel keeps reconnecting in the background
	// until Close either way.
	Connect(ctx context.Context, self proto.Profile) error
	Send(m proto.Message) error
	// OnMessage registers fn for inbound envelopes. Handlers run on the
	// channel's read loop, once per message, in arrival order.
	OnMessage(fn func(*proto.Envelope)) (cancel func())
	State() State
	// Close tears the channel down. Idempotent.
	Close() error
}

// handlers is the registry shared by Channel implementations.
type handlers struct {
	next int
	fns  map[int]func(*proto.Envelope)
	// order keeps registration order so dispatch is deterministic.
	order []int
}

func (h *handlers) add(fn func(*proto.Envelope)) int {
	if h.fns == nil {
		h.fns = make(map[int]func(*proto.Envelope))
	}
	h.next++
	h.fns[h.next] = fn
	h.order = append(h.order, h.next)
	return h.next
}

func (h *handlers) remove(id int) {
	if _, ok := h.fns[id]; !ok {
		return
	}
	delete(h.fns, id)
	for i, v := range h.order {
		if v == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

func (h *handlers) snapshot() []func(*proto.Envelope) {
	out := make([]func(*proto.Envelope), 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.fns[id])
	}
	return out
}
