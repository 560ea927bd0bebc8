package session

import (
	"github.com/petervdpas/augur/internal/chat"
	"github.com/petervdpas/augur/internal/proto"
)

// handleEnvelope is the signaling read-loop entry point. Malformed or
// unknown envelopes are logged and dropped.
func (m *Manager) handleEnvelope(env *proto.Envelope) {
	msg, err := proto.Decode(env)
	if err != nil {
		log.Warnf("dropping %q envelope: %v", env.Type, err)
		return
	}

	_ = m.exec(func() error {
		if m.closed {
			return nil
		}
		switch v := msg.(type) {
		case *proto.IncomingSession:
			m.onIncomingLocked(v)
		case *proto.SessionAccept:
			m.onAcceptLocked(v)
		case *proto.SessionReject:
			m.onRejectLocked(v)
		case *proto.SessionOffer:
			m.onOfferLocked(v)
		case *proto.SessionAnswer:
			m.onAnswerLocked(v)
		case *proto.Candidate:
			m.onCandidateLocked(v)
		case *proto.SessionEnded:
			m.onRemoteEndLocked(v.SessionID, v.Reason)
		case *proto.SessionEnd:
			m.onRemoteEndLocked(v.SessionID, v.Reason)
		case *proto.ChatMessage:
			m.onChatLocked(v)
		default:
			log.Debugf("ignoring %s", msg.Kind())
		}
		return nil
	})
}

// current reports whether id names the active session.
func (m *Manager) currentLocked(id string) bool {
	return m.sess != nil && m.sess.ID == id
}

func (m *Manager) onIncomingLocked(v *proto.IncomingSession) {
	if m.incoming != nil && m.incoming.SessionID == v.SessionID {
		return
	}
	if m.state != StateIdle || m.incoming != nil {
		log.Infof("[%s] busy, auto-rejecting request from %s", v.SessionID, v.From.ID)
		if err := m.sig.Send(&proto.SessionReject{
			SessionID: v.SessionID,
			From:      m.self(),
			Reason:    proto.ReasonBusy,
		}); err != nil {
			log.Warnf("[%s] send busy reject: %v", v.SessionID, err)
		}
		return
	}

	now := m.clock.Now()
	in := &IncomingRequest{
		SessionID:  v.SessionID,
		Type:       v.SessionType,
		From:       v.From,
		ReceivedAt: now,
		ExpiresAt:  now.Add(m.timing.IncomingExpiry),
	}
	m.incoming = in
	log.Infof("[%s] incoming %s request from %s", in.SessionID, in.Type, in.From.ID)

	if m.timing.EnforceIncomingExpiry {
		id := in.SessionID
		m.stopTimerLocked(&m.expiryTimer)
		m.expiryTimer = m.clock.AfterFunc(m.timing.IncomingExpiry, func() { m.onExpiry(id) })
	}
	if m.history != nil {
		h, from := m.history, v.From
		m.later(func() {
			if err := h.UpsertPartner(from); err != nil {
				log.Warnf("cache partner %s: %v", from.ID, err)
			}
		})
	}

	cp := *in
	m.emitLocked(Event{Kind: EventIncoming, Incoming: &cp})
}

func (m *Manager) onExpiry(id string) {
	_ = m.exec(func() error {
		if m.incoming == nil || m.incoming.SessionID != id {
			return nil
		}
		m.clearIncomingLocked(proto.ReasonExpired)
		log.Infof("[%s] request expired unanswered", id)
		return m.sig.Send(&proto.SessionReject{SessionID: id, From: m.self(), Reason: proto.ReasonExpired})
	})
}

func (m *Manager) clearIncomingLocked(reason string) {
	m.stopTimerLocked(&m.expiryTimer)
	in := m.incoming
	m.incoming = nil
	m.emitLocked(Event{Kind: EventIncomingCleared, Incoming: in, Detail: reason})
}

// onAcceptLocked runs on the caller: the callee agreed, so offer.
func (m *Manager) onAcceptLocked(v *proto.SessionAccept) {
	if !m.currentLocked(v.SessionID) || m.sess.Role != RoleCaller || m.state != StateConnecting || m.transport == nil {
		log.Debugf("[%s] stale session_accept", v.SessionID)
		return
	}
	offer, err := m.transport.CreateOffer()
	if err != nil {
		log.Errorf("[%s] create offer: %v", v.SessionID, err)
		m.failLocked(proto.ReasonFailed)
		return
	}
	if err := m.sig.Send(&proto.SessionOffer{SessionID: v.SessionID, Offer: offer}); err != nil {
		log.Errorf("[%s] send offer: %v", v.SessionID, err)
		m.failLocked(proto.ReasonFailed)
	}
}

// onRejectLocked runs on the caller when the callee declined, was busy or
// let the request expire.
func (m *Manager) onRejectLocked(v *proto.SessionReject) {
	if !m.currentLocked(v.SessionID) || m.sess.Role != RoleCaller {
		return
	}
	log.Infof("[%s] partner rejected (%s)", v.SessionID, nonEmpty(v.Reason, "no reason"))
	m.endLocked(ReasonRejected, false)
}

// onOfferLocked runs on the callee.
func (m *Manager) onOfferLocked(v *proto.SessionOffer) {
	if !m.currentLocked(v.SessionID) || m.sess.Role != RoleCallee || m.transport == nil {
		log.Debugf("[%s] stale session_offer", v.SessionID)
		return
	}
	switch m.state {
	case StateConnecting, StateConnected, StateReconnecting:
	default:
		return
	}
	answer, err := m.transport.AcceptOffer(v.Offer)
	if err != nil {
		log.Errorf("[%s] apply offer: %v", v.SessionID, err)
		m.failLocked(proto.ReasonFailed)
		return
	}
	if err := m.sig.Send(&proto.SessionAnswer{SessionID: v.SessionID, Answer: answer}); err != nil {
		log.Errorf("[%s] send answer: %v", v.SessionID, err)
		m.failLocked(proto.ReasonFailed)
	}
}

func (m *Manager) onAnswerLocked(v *proto.SessionAnswer) {
	if !m.currentLocked(v.SessionID) || m.sess.Role != RoleCaller || m.transport == nil {
		log.Debugf("[%s] stale session_answer", v.SessionID)
		return
	}
	if err := m.transport.AcceptAnswer(v.Answer); err != nil {
		log.Errorf("[%s] apply answer: %v", v.SessionID, err)
		m.failLocked(proto.ReasonFailed)
	}
}

func (m *Manager) onCandidateLocked(v *proto.Candidate) {
	if !m.currentLocked(v.SessionID) || m.transport == nil {
		return
	}
	if err := m.transport.AddRemoteCandidate(v.Candidate); err != nil {
		log.Warnf("[%s] remote candidate: %v", v.SessionID, err)
	}
}

func (m *Manager) onRemoteEndLocked(id, reason string) {
	if m.incoming != nil && m.incoming.SessionID == id {
		m.clearIncomingLocked(ReasonRemoteEnded)
		return
	}
	if !m.currentLocked(id) {
		return
	}
	if reason == "" {
		reason = ReasonRemoteEnded
	}
	log.Infof("[%s] partner ended the session (%s)", id, reason)
	m.endLocked(reason, false)
}

func (m *Manager) onChatLocked(v *proto.ChatMessage) {
	if !m.currentLocked(v.SessionID) {
		log.Debugf("[%s] chat for inactive session dropped", v.SessionID)
		return
	}
	msg := m.chat.Receive(v, chat.ViaRelay)
	m.emitLocked(Event{Kind: EventMessage, Message: msg})
}

func nonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
