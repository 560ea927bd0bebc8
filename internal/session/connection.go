package session

import (
	"github.com/petervdpas/augur/internal/account"
	"github.com/petervdpas/augur/internal/billing"
	"github.com/petervdpas/augur/internal/call"
	"github.com/petervdpas/augur/internal/chat"
	"github.com/petervdpas/augur/internal/metrics"
	"github.com/petervdpas/augur/internal/proto"
)

// transportEvents binds transport callbacks to one start attempt. Anything
// raised after the session moved on is discarded by gen.
func (m *Manager) transportEvents(gen uint64, id string) call.Events {
	return call.Events{
		OnLocalCandidate: func(c proto.ICECandidate) {
			_ = m.exec(func() error {
				if gen != m.gen || !m.currentLocked(id) {
					return nil
				}
				return m.sig.Send(&proto.Candidate{SessionID: id, Candidate: c})
			})
		},
		OnState: func(s call.ConnState) {
			_ = m.exec(func() error {
				if gen != m.gen || !m.currentLocked(id) {
					return nil
				}
				m.onConnStateLocked(s)
				return nil
			})
		},
		OnTrack: func(kind string) {
			_ = m.exec(func() error {
				if gen == m.gen && m.currentLocked(id) {
					m.emitLocked(Event{Kind: EventTrack, Detail: kind})
				}
				return nil
			})
		},
		OnChatOpen: func() {
			log.Infof("[%s] chat data channel open", id)
		},
		OnChatMessage: func(data []byte) {
			cm, err := chat.DecodeData(data)
			if err != nil {
				log.Warnf("[%s] dropping data channel frame: %v", id, err)
				return
			}
			_ = m.exec(func() error {
				if gen != m.gen || !m.currentLocked(id) {
					return nil
				}
				if cm.SessionID == "" {
					cm.SessionID = id
				}
				msg := m.chat.Receive(cm, chat.ViaData)
				m.emitLocked(Event{Kind: EventMessage, Message: msg})
				return nil
			})
		},
	}
}

func (m *Manager) onConnStateLocked(s call.ConnState) {
	switch s {
	case call.ConnConnected:
		switch m.state {
		case StateConnecting, StateReconnecting:
			m.enterConnectedLocked()
		}

	case call.ConnDisconnected, call.ConnFailed, call.ConnClosed:
		switch m.state {
		case StateConnected:
			m.enterReconnectingLocked(s)
		case StateConnecting:
			if s != call.ConnDisconnected {
				m.failLocked(proto.ReasonFailed)
			}
		}
	}
}

func (m *Manager) enterConnectedLocked() {
	now := m.clock.Now()
	if m.sess.StartTime == nil {
		m.sess.StartTime = &now
	}
	m.sess.Duration = now.Sub(*m.sess.StartTime)
	m.stopTimerLocked(&m.connectTimer)
	m.stopTimerLocked(&m.reconnectTimer)
	m.setStateLocked(StateConnected, "")

	m.billing.Start(billing.Meter{
		SessionID: m.sess.ID,
		Start:     *m.sess.StartTime,
		Rate:      m.sess.Rate,
		Payer:     account.Pays(m.accounts.Current()),
		Charged:   m.sess.ChargedMinutes,
	})
}

func (m *Manager) enterReconnectingLocked(cause call.ConnState) {
	m.billing.Stop()
	m.sess.Duration = m.clock.Since(*m.sess.StartTime)
	m.setStateLocked(StateReconnecting, string(cause))

	gen := m.gen
	m.stopTimerLocked(&m.reconnectTimer)
	m.reconnectTimer = m.clock.AfterFunc(m.timing.ReconnectTimeout, func() {
		_ = m.exec(func() error {
			if gen != m.gen || m.state != StateReconnecting {
				return nil
			}
			log.Warnf("[%s] transport did not recover within %s", m.sess.ID, m.timing.ReconnectTimeout)
			m.failLocked(ReasonReconnectLost)
			return nil
		})
	})
}

// RefreshDuration recomputes Duration from the single StartTime stamp.
func (m *Manager) RefreshDuration(id string) {
	_ = m.exec(func() error {
		if !m.currentLocked(id) || m.state != StateConnected || m.sess.StartTime == nil {
			return nil
		}
		m.sess.Duration = m.clock.Since(*m.sess.StartTime)
		m.emitLocked(Event{Kind: EventTick})
		return nil
	})
}

// ApplyCharge commits charge slot for the active session. The payer side
// debits the account first and fails with billing.ErrInsufficientFunds
// instead of overdrawing; the reader side accrues earnings.
func (m *Manager) ApplyCharge(id string, slot int, amount billing.Money) error {
	return m.exec(func() error {
		if !m.currentLocked(id) || m.state != StateConnected {
			return billing.ErrNotBillable
		}
		if slot != m.sess.ChargedMinutes+1 {
			return nil
		}
		if account.Pays(m.accounts.Current()) {
			balance, err := m.accounts.Debit(id, slot, amount)
			if err != nil {
				return err
			}
			log.Infof("[%s] minute %d charged %s, balance %s", id, slot, amount, balance)
		} else {
			log.Infof("[%s] minute %d earned %s", id, slot, amount)
		}
		m.sess.CurrentCharge += amount
		m.sess.ChargedMinutes = slot
		m.sess.Duration = m.clock.Since(*m.sess.StartTime)
		metrics.ChargesTotal.Inc()
		metrics.ChargedCents.Add(float64(amount))
		m.emitLocked(Event{Kind: EventTick, Detail: "charge"})
		return nil
	})
}

// StopForFunds ends the session because the next charge is unaffordable.
func (m *Manager) StopForFunds(id string, slot int) {
	_ = m.exec(func() error {
		if !m.currentLocked(id) {
			return nil
		}
		switch m.state {
		case StateConnected, StateReconnecting:
		default:
			return nil
		}
		log.Infof("[%s] ending before minute %d: insufficient funds", id, slot)
		m.endLocked(proto.ReasonInsufficientFunds, true)
		return nil
	})
}

// AbortCharge ends the session because a charge slot kept failing.
func (m *Manager) AbortCharge(id string, slot int, err error) {
	_ = m.exec(func() error {
		if !m.currentLocked(id) {
			return nil
		}
		switch m.state {
		case StateConnected, StateReconnecting:
		default:
			return nil
		}
		log.Errorf("[%s] ending before minute %d: charge failed: %v", id, slot, err)
		m.endLocked(proto.ReasonFailed, true)
		return nil
	})
}

// Balance lets the billing engine check the payer's funds.
func (m *Manager) Balance() billing.Money {
	return m.accounts.Balance()
}
