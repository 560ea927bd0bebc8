// Package signaltest provides in-process signal.Channel doubles.
//
// Recorder captures everything sent and lets a test inject inbound
// envelopes. Hub connects several Recorders through the relay routing
// table so two session managers can talk end to end without a network.
package signaltest

import (
	"context"
	"sync"

	"github.com/petervdpas/augur/internal/proto"
	"github.com/petervdpas/augur/internal/relay"
	"github.com/petervdpas/augur/internal/signal"
)

// Recorder is a signal.Channel that never touches the network.
type Recorder struct {
	mu       sync.Mutex
	state    signal.State
	self     proto.Profile
	sent     []proto.Message
	queued   []proto.Message
	next     int
	handlers map[int]func(*proto.Envelope)
	order    []int

	// dispatch serializes inbound delivery so handlers see arrival order.
	dispatch sync.Mutex
	hub      *Hub
}

// NewRecorder returns a Recorder that is already open.
func NewRecorder() *Recorder {
	return &Recorder{state: signal.StateOpen, handlers: make(map[int]func(*proto.Envelope))}
}

// NewClosedRecorder returns a Recorder that queues until Connect.
func NewClosedRecorder() *Recorder {
	return &Recorder{state: signal.StateIdle, handlers: make(map[int]func(*proto.Envelope))}
}

func (r *Recorder) Connect(_ context.Context, self proto.Profile) error {
	r.mu.Lock()
	if r.state == signal.StateClosed {
		r.mu.Unlock()
		return signal.ErrClosed
	}
	r.self = self
	r.state = signal.StateOpen
	flush := r.queued
	r.queued = nil
	r.sent = append(r.sent, flush...)
	hub := r.hub
	r.mu.Unlock()

	if hub != nil {
		for _, m := range flush {
			hub.route(r, m)
		}
	}
	return nil
}

func (r *Recorder) Send(m proto.Message) error {
	// Round-trip through the wire format so tests observe exactly what a
	// server would.
	data, err := proto.Encode(m)
	if err != nil {
		return err
	}
	decoded, err := proto.Parse(data)
	if err != nil {
		return err
	}

	r.mu.Lock()
	switch r.state {
	case signal.StateClosed:
		r.mu.Unlock()
		return signal.ErrClosed
	case signal.StateOpen:
		r.sent = append(r.sent, decoded)
	default:
		r.queued = append(r.queued, decoded)
		r.mu.Unlock()
		return nil
	}
	hub := r.hub
	r.mu.Unlock()

	if hub != nil {
		hub.route(r, decoded)
	}
	return nil
}

func (r *Recorder) OnMessage(fn func(*proto.Envelope)) func() {
	r.mu.Lock()
	r.next++
	id := r.next
	r.handlers[id] = fn
	r.order = append(r.order, id)
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers, id)
		for i, v := range r.order {
			if v == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
}

func (r *Recorder) State() signal.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	r.state = signal.StateClosed
	r.mu.Unlock()
	return nil
}

// Deliver injects m as if it had arrived from the server.
func (r *Recorder) Deliver(m proto.Message) {
	data, err := proto.Encode(m)
	if err != nil {
		panic(err)
	}
	r.DeliverRaw(data)
}

// DeliverRaw injects a raw frame. Frames that fail envelope parsing are
// dropped, as the network channel does.
func (r *Recorder) DeliverRaw(data []byte) {
	env, err := proto.ParseEnvelope(data)
	if err != nil {
		return
	}

	r.dispatch.Lock()
	defer r.dispatch.Unlock()

	r.mu.Lock()
	fns := make([]func(*proto.Envelope), 0, len(r.order))
	for _, id := range r.order {
		fns = append(fns, r.handlers[id])
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(env)
	}
}

// Sent returns a copy of every message sent while open, in order.
func (r *Recorder) Sent() []proto.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]proto.Message(nil), r.sent...)
}

// SentOfKind returns sent messages whose type is kind.
func (r *Recorder) SentOfKind(kind string) []proto.Message {
	var out []proto.Message
	for _, m := range r.Sent() {
		if m.Kind() == kind {
			out = append(out, m)
		}
	}
	return out
}

// Count returns how many messages of type kind were sent.
func (r *Recorder) Count(kind string) int { return len(r.SentOfKind(kind)) }

// Last returns the most recent message of type kind, or nil.
func (r *Recorder) Last(kind string) proto.Message {
	ms := r.SentOfKind(kind)
	if len(ms) == 0 {
		return nil
	}
	return ms[len(ms)-1]
}

// Reset forgets sent history.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}

// Hub routes between attached Recorders using relay.Router. Deliveries are
// asynchronous, each recipient served by its own goroutine in order.
type Hub struct {
	router *relay.Router

	mu    sync.Mutex
	peers map[string]*peer
}

type peer struct {
	rec   *Recorder
	inbox chan []byte
}

func NewHub() *Hub {
	return &Hub{router: relay.NewRouter(), peers: make(map[string]*peer)}
}

// Attach returns an open Recorder registered on the hub as id.
func (h *Hub) Attach(id string) *Recorder {
	rec := NewRecorder()
	rec.self = proto.Profile{ID: id}
	rec.hub = h

	p := &peer{rec: rec, inbox: make(chan []byte, 1024)}
	h.mu.Lock()
	h.peers[id] = p
	h.mu.Unlock()

	go func() {
		for data := range p.inbox {
			rec.DeliverRaw(data)
		}
	}()
	return rec
}

// Close stops delivery goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, p := range h.peers {
		close(p.inbox)
		delete(h.peers, id)
	}
}

func (h *Hub) route(from *Recorder, m proto.Message) {
	data, err := proto.Encode(m)
	if err != nil {
		return
	}
	from.mu.Lock()
	id := from.self.ID
	from.mu.Unlock()

	deliveries, err := h.router.Route(id, data)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, d := range deliveries {
		if p, ok := h.peers[d.To]; ok {
			p.inbox <- d.Data
		}
	}
}
