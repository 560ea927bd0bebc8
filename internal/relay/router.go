// Package relay is a small signaling server used for local development and
// tests. It pairs participants by session id and forwards envelopes between
// them; it never interprets media or billing.
package relay

import (
	"fmt"
	"sort"
	"sync"

	"github.com/petervdpas/augur/internal/proto"
)

// Delivery is one frame the server must write to participant To.
type Delivery struct {
	To   string
	Data []byte
}

type pairing struct {
	caller string
	callee string
}

func (p pairing) other(id string) (string, bool) {
	switch id {
	case p.caller:
		return p.callee, true
	case p.callee:
		return p.caller, true
	}
	return "", false
}

// Router holds the routing table. It is transport agnostic; Server feeds it
// frames and writes back whatever it returns.
type Router struct {
	mu       sync.Mutex
	profiles map[string]proto.Profile
	sessions map[string]pairing
}

func NewRouter() *Router {
	return &Router{
		profiles: make(map[string]proto.Profile),
		sessions: make(map[string]pairing),
	}
}

// Route decodes a frame received from participant from and returns the
// deliveries it produces.
func (r *Router) Route(from string, data []byte) ([]Delivery, error) {
	msg, err := proto.Parse(data)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch m := msg.(type) {
	case *proto.Register:
		p := m.From
		p.ID = from
		r.profiles[from] = p
		return nil, nil

	case *proto.SessionRequest:
		if _, exists := r.sessions[m.SessionID]; exists {
			return nil, fmt.Errorf("relay: duplicate session %s", m.SessionID)
		}
		r.sessions[m.SessionID] = pairing{caller: from, callee: m.PartnerID}
		out, err := proto.Encode(&proto.IncomingSession{
			SessionID:   m.SessionID,
			SessionType: m.SessionType,
			From:        m.From,
		})
		if err != nil {
			return nil, err
		}
		return []Delivery{{To: m.PartnerID, Data: out}}, nil

	case *proto.SessionEnd:
		to, ok := r.partnerLocked(m.SessionID, from)
		delete(r.sessions, m.SessionID)
		if !ok {
			return nil, nil
		}
		out, err := proto.Encode(&proto.SessionEnded{SessionID: m.SessionID, Reason: m.Reason})
		if err != nil {
			return nil, err
		}
		return []Delivery{{To: to, Data: out}}, nil

	case *proto.SessionReject:
		to, ok := r.partnerLocked(m.SessionID, from)
		delete(r.sessions, m.SessionID)
		if !ok {
			return nil, nil
		}
		return []Delivery{{To: to, Data: data}}, nil
	}

	sid := proto.SessionOf(msg)
	to, ok := r.partnerLocked(sid, from)
	if !ok {
		return nil, fmt.Errorf("relay: %s from %s for unknown session %q", msg.Kind(), from, sid)
	}
	return []Delivery{{To: to, Data: data}}, nil
}

// Disconnect drops participant id and notifies the partner of every session
// it was part of.
func (r *Router) Disconnect(id string) []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.profiles, id)
	var out []Delivery
	for sid, p := range r.sessions {
		to, ok := p.other(id)
		if !ok {
			continue
		}
		delete(r.sessions, sid)
		data, err := proto.Encode(&proto.SessionEnded{SessionID: sid, Reason: proto.ReasonFailed})
		if err != nil {
			continue
		}
		out = append(out, Delivery{To: to, Data: data})
	}
	return out
}

// Profiles returns registered participants sorted by id.
func (r *Router) Profiles() []proto.Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]proto.Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Sessions returns the number of active pairings.
func (r *Router) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Router) partnerLocked(sid, from string) (string, bool) {
	p, ok := r.sessions[sid]
	if !ok {
		return "", false
	}
	return p.other(from)
}
