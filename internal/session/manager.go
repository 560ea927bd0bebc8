package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/augur/internal/account"
	"github.com/petervdpas/augur/internal/billing"
	"github.com/petervdpas/augur/internal/call"
	"github.com/petervdpas/augur/internal/chat"
	"github.com/petervdpas/augur/internal/metrics"
	"github.com/petervdpas/augur/internal/proto"
	"github.com/petervdpas/augur/internal/signal"
	"github.com/petervdpas/augur/internal/storage"
)

var log = logging.Logger("session")

// History persists finished sessions and partner profiles. Optional.
type History interface {
	SaveSession(r storage.SessionRecord) error
	UpsertPartner(p proto.Profile) error
}

// Options wires a Manager to its collaborators.
type Options struct {
	Signal   signal.Channel
	Dialer   call.Dialer
	Devices  call.Devices
	Accounts account.Provider
	Chat     *chat.Manager
	History  History
	Clock    clock.Clock
	Timing   Timing
}

// Manager owns the active Session and the pending IncomingRequest.
//
// Every mutation happens under mu: public operations, inbound envelopes,
// transport callbacks, billing callbacks and timers. Work that may block or
// re-enter (releasing media, closing the transport, persisting history) is
// queued with later and run after mu is released.
type Manager struct {
	sig      signal.Channel
	dialer   call.Dialer
	devices  call.Devices
	accounts account.Provider
	chat     *chat.Manager
	history  History
	clock    clock.Clock
	timing   Timing
	billing  *billing.Engine

	mu        sync.Mutex
	state     State
	sess      *Session
	incoming  *IncomingRequest
	transport call.Transport
	media     *call.LocalMedia
	gen       uint64
	closed    bool
	after     []func()

	connectTimer   *clock.Timer
	reconnectTimer *clock.Timer
	graceTimer     *clock.Timer
	expiryTimer    *clock.Timer

	cancelSignal func()

	subsMu sync.Mutex
	subs   map[chan Event]struct{}
}

// New builds a Manager and subscribes it to the signaling channel.
func New(opts Options) (*Manager, error) {
	if opts.Signal == nil || opts.Dialer == nil || opts.Accounts == nil {
		return nil, errors.New("session: signal, dialer and accounts are required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Chat == nil {
		opts.Chat = chat.New(chat.DefaultBufferSize, nil)
	}
	m := &Manager{
		sig:      opts.Signal,
		dialer:   opts.Dialer,
		devices:  opts.Devices,
		accounts: opts.Accounts,
		chat:     opts.Chat,
		history:  opts.History,
		clock:    opts.Clock,
		timing:   opts.Timing.withDefaults(),
		state:    StateIdle,
		subs:     make(map[chan Event]struct{}),
	}
	m.billing = billing.NewEngine(m.clock, m.timing.BillingInterval, m.timing.BillingTick, m, m)
	m.cancelSignal = m.sig.OnMessage(m.handleEnvelope)
	return m, nil
}

// exec runs fn under the manager lock, then the work fn queued with later.
func (m *Manager) exec(fn func() error) error {
	m.mu.Lock()
	err := fn()
	after := m.after
	m.after = nil
	m.mu.Unlock()

	for _, f := range after {
		f()
	}
	return err
}

// later queues f to run once the lock is released. Caller holds mu.
func (m *Manager) later(f func()) {
	m.after = append(m.after, f)
}

func (m *Manager) self() proto.Profile {
	return m.accounts.Current().Public()
}

// InitializeSession starts an outbound session of type t with partner.
// Valid only from idle. On failure the manager is back in idle with
// nothing retained.
func (m *Manager) InitializeSession(ctx context.Context, t proto.SessionType, partner proto.Profile) (*Session, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, t)
	}
	if partner.ID == "" {
		return nil, errors.New("session: partner id is required")
	}

	// A payer must know the price before leaving idle.
	if partner.Rates == nil && account.Pays(m.accounts.Current()) {
		return nil, fmt.Errorf("%w: %s", ErrNoRate, partner.ID)
	}
	var rate billing.Money
	if partner.Rates != nil {
		rate, _ = partner.Rates.For(t)
	}

	var gen uint64
	var sess *Session
	err := m.exec(func() error {
		if m.closed {
			return ErrClosed
		}
		if m.state != StateIdle {
			return fmt.Errorf("%w: %s", ErrInvalidState, m.state)
		}
		m.gen++
		gen = m.gen
		sess = &Session{
			ID:      NewID(m.clock.Now()),
			Type:    t,
			Role:    RoleCaller,
			Partner: partner,
			Rate:    rate,
		}
		m.sess = sess
		m.chat.Reset()
		m.setStateLocked(StateConnecting, "")
		if m.history != nil {
			h := m.history
			m.later(func() {
				if err := h.UpsertPartner(partner); err != nil {
					log.Warnf("cache partner %s: %v", partner.ID, err)
				}
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[%s] initializing %s session with %s at %s/min", sess.ID, t, partner.ID, rate)

	transport, media, err := m.prepareTransport(ctx, gen, sess.ID, t, true)
	if err != nil {
		m.abortStart(gen, err)
		return nil, err
	}

	var snap *Session
	err = m.exec(func() error {
		if gen != m.gen || m.state != StateConnecting {
			m.later(func() { releaseAll(transport, media) })
			return ErrAborted
		}
		m.transport, m.media = transport, media
		if err := m.sig.Send(&proto.SessionRequest{
			SessionID:   m.sess.ID,
			SessionType: t,
			PartnerID:   partner.ID,
			From:        m.self(),
		}); err != nil {
			m.transport, m.media = nil, nil
			m.later(func() { releaseAll(transport, media) })
			m.resetToIdleLocked()
			return fmt.Errorf("session: send request: %w", err)
		}
		m.sess.announced = true
		m.armConnectTimerLocked(gen)
		snap = m.snapshotLocked()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// AcceptSession accepts the pending incoming request. req may be nil to
// accept whatever is pending.
func (m *Manager) AcceptSession(ctx context.Context, req *IncomingRequest) error {
	var gen uint64
	var sess *Session
	err := m.exec(func() error {
		if m.closed {
			return ErrClosed
		}
		if m.incoming == nil || (req != nil && req.SessionID != m.incoming.SessionID) {
			return ErrNoIncoming
		}
		if m.state != StateIdle {
			return fmt.Errorf("%w: %s", ErrInvalidState, m.state)
		}
		in := m.incoming
		m.clearIncomingLocked("accepted")

		rate, _ := account.OwnRate(m.accounts.Current(), in.Type)
		m.gen++
		gen = m.gen
		sess = &Session{
			ID:      in.SessionID,
			Type:    in.Type,
			Role:    RoleCallee,
			Partner: in.From,
			Rate:    rate,
		}
		m.sess = sess
		m.chat.Reset()
		m.setStateLocked(StateConnecting, "")
		return nil
	})
	if err != nil {
		return err
	}
	log.Infof("[%s] accepting %s session from %s at %s/min", sess.ID, sess.Type, sess.Partner.ID, sess.Rate)

	transport, media, err := m.prepareTransport(ctx, gen, sess.ID, sess.Type, false)
	if err != nil {
		_ = m.sig.Send(&proto.SessionReject{SessionID: sess.ID, From: m.self(), Reason: proto.ReasonFailed})
		m.abortStart(gen, err)
		return err
	}

	return m.exec(func() error {
		if gen != m.gen || m.state != StateConnecting {
			m.later(func() { releaseAll(transport, media) })
			return ErrAborted
		}
		m.transport, m.media = transport, media
		if err := m.sig.Send(&proto.SessionAccept{SessionID: m.sess.ID, From: m.self()}); err != nil {
			m.transport, m.media = nil, nil
			m.later(func() { releaseAll(transport, media) })
			m.resetToIdleLocked()
			return fmt.Errorf("session: send accept: %w", err)
		}
		m.sess.announced = true
		m.armConnectTimerLocked(gen)
		return nil
	})
}

// RejectSession declines the pending incoming request. The state machine
// does not move.
func (m *Manager) RejectSession(req *IncomingRequest) error {
	return m.exec(func() error {
		if m.incoming == nil || (req != nil && req.SessionID != m.incoming.SessionID) {
			return ErrNoIncoming
		}
		in := m.incoming
		m.clearIncomingLocked("rejected")
		log.Infof("[%s] rejected request from %s", in.SessionID, in.From.ID)
		return m.sig.Send(&proto.SessionReject{
			SessionID: in.SessionID,
			From:      m.self(),
			Reason:    proto.ReasonDeclined,
		})
	})
}

// EndSession ends the active session from any non-idle state. Calling it
// when there is nothing to end, or again while closed, is a no-op.
func (m *Manager) EndSession() error {
	return m.exec(func() error {
		m.endLocked(proto.ReasonHangup, true)
		return nil
	})
}

// SendMessage delivers chat text for the active session.
func (m *Manager) SendMessage(text string) (*chat.Message, error) {
	var msg *chat.Message
	err := m.exec(func() error {
		switch m.state {
		case StateConnecting, StateConnected, StateReconnecting:
		default:
			return ErrNoSession
		}
		var data chat.DataPath
		if m.transport != nil {
			data = m.transport
		}
		var err error
		msg, err = m.chat.Send(m.sess.ID, m.self(), text, data, m.sig)
		if msg != nil {
			m.emitLocked(Event{Kind: EventMessage, Message: msg})
		}
		return err
	})
	return msg, err
}

// Messages returns the chat log of the current session.
func (m *Manager) Messages() []*chat.Message {
	return m.chat.Messages()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns a snapshot of the active session, or nil when idle.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Incoming returns the pending request, or nil.
func (m *Manager) Incoming() *IncomingRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incoming == nil {
		return nil
	}
	in := *m.incoming
	return &in
}

// MediaStats returns reception counters of the active transport.
func (m *Manager) MediaStats() (call.Stats, bool) {
	m.mu.Lock()
	t := m.transport
	m.mu.Unlock()
	if t == nil {
		return call.Stats{}, false
	}
	return t.Stats(), true
}

// Close ends any active session and detaches from signaling.
func (m *Manager) Close() error {
	err := m.exec(func() error {
		if m.closed {
			return nil
		}
		m.endLocked(ReasonShutdown, true)
		m.closed = true
		if m.incoming != nil {
			m.clearIncomingLocked("shutdown")
		}
		m.stopTimerLocked(&m.graceTimer)
		if m.cancelSignal != nil {
			m.later(m.cancelSignal)
			m.cancelSignal = nil
		}
		return nil
	})
	m.billing.Stop()

	m.subsMu.Lock()
	for ch := range m.subs {
		close(ch)
		delete(m.subs, ch)
	}
	m.subsMu.Unlock()
	return err
}

// prepareTransport acquires media and dials outside the lock. Chat
// sessions skip acquisition; for audio and video a failure aborts.
func (m *Manager) prepareTransport(ctx context.Context, gen uint64, id string, t proto.SessionType, offerer bool) (call.Transport, *call.LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var media *call.LocalMedia
	if t != proto.SessionChat && m.devices != nil {
		var err error
		media, err = m.devices.Acquire(t)
		if err != nil {
			log.Warnf("[%s] media acquisition failed: %v", id, err)
			return nil, nil, fmt.Errorf("session: acquire %s media: %w", t, err)
		}
	}

	transport, err := m.dialer.Dial(call.Config{SessionID: id, Type: t, Offerer: offerer}, media, m.transportEvents(gen, id))
	if err != nil {
		media.Release()
		log.Warnf("[%s] transport construction failed: %v", id, err)
		return nil, nil, fmt.Errorf("session: create transport: %w", err)
	}
	return transport, media, nil
}

// abortStart reverts a failed start to idle if nothing else has moved on.
func (m *Manager) abortStart(gen uint64, cause error) {
	_ = m.exec(func() error {
		if gen != m.gen || m.state != StateConnecting {
			return nil
		}
		log.Infof("[%s] start aborted: %v", m.sess.ID, cause)
		m.resetToIdleLocked()
		return nil
	})
}

func releaseAll(t call.Transport, media *call.LocalMedia) {
	if t != nil {
		if err := t.Close(); err != nil {
			log.Debugf("transport close: %v", err)
		}
	}
	media.Release()
}

// releaseLocked detaches transport and media; they are closed after unlock.
func (m *Manager) releaseLocked() {
	t, media := m.transport, m.media
	m.transport, m.media = nil, nil
	if t != nil || media != nil {
		m.later(func() { releaseAll(t, media) })
	}
}

func (m *Manager) setStateLocked(s State, detail string) {
	if m.state == s {
		return
	}
	prev := m.state
	m.state = s
	if m.sess != nil {
		m.sess.State = s
	}
	metrics.SessionTransitions.WithLabelValues(string(s)).Inc()
	if m.sess != nil {
		log.Infof("[%s] %s -> %s", m.sess.ID, prev, s)
	} else {
		log.Infof("%s -> %s", prev, s)
	}
	m.emitLocked(Event{Kind: EventState, Detail: detail})
}

// resetToIdleLocked drops the session without a summary. Used when a
// start attempt fails before anything was connected.
func (m *Manager) resetToIdleLocked() {
	m.stopTimerLocked(&m.connectTimer)
	m.releaseLocked()
	m.gen++
	m.setStateLocked(StateIdle, "")
	m.sess = nil
}

// endLocked moves the session to closed. notify sends session_end to the
// partner when the session was announced.
func (m *Manager) endLocked(reason string, notify bool) {
	switch m.state {
	case StateIdle, StateClosed:
		return
	}
	sess := m.sess

	if notify && sess.announced {
		if err := m.sig.Send(&proto.SessionEnd{SessionID: sess.ID, From: m.self(), Reason: reason}); err != nil {
			log.Warnf("[%s] send session_end: %v", sess.ID, err)
		}
	}

	m.billing.Stop()
	m.stopTimerLocked(&m.connectTimer)
	m.stopTimerLocked(&m.reconnectTimer)
	m.releaseLocked()

	if sess.StartTime != nil {
		sess.Duration = m.clock.Since(*sess.StartTime)
	}
	if sess.EndReason == "" {
		sess.EndReason = reason
	}
	m.gen++
	m.setStateLocked(StateClosed, sess.EndReason)

	summary := sess.clone()
	m.emitLocked(Event{Kind: EventSummary, Session: summary})
	metrics.SessionsEnded.WithLabelValues(string(sess.Type), sess.EndReason).Inc()
	if sess.StartTime != nil {
		metrics.SessionDuration.Observe(sess.Duration.Seconds())
	}
	log.Infof("[%s] closed (%s) after %s, charge %s", sess.ID, sess.EndReason, sess.Duration.Round(time.Second), sess.CurrentCharge)

	if m.history != nil {
		h := m.history
		rec := storage.SessionRecord{
			ID:          summary.ID,
			Type:        string(summary.Type),
			Role:        string(summary.Role),
			PartnerID:   summary.Partner.ID,
			PartnerName: summary.Partner.Name,
			Rate:        summary.Rate,
			Charge:      summary.CurrentCharge,
			StartedAt:   summary.StartTime,
			Duration:    summary.Duration,
			EndReason:   summary.EndReason,
			EndedAt:     m.clock.Now(),
		}
		m.later(func() {
			if err := h.SaveSession(rec); err != nil {
				log.Warnf("[%s] save history: %v", rec.ID, err)
			}
		})
	}

	gen := m.gen
	m.stopTimerLocked(&m.graceTimer)
	m.graceTimer = m.clock.AfterFunc(m.timing.CloseGrace, func() { m.onGrace(gen) })
}

func (m *Manager) onGrace(gen uint64) {
	_ = m.exec(func() error {
		if gen != m.gen || m.state != StateClosed {
			return nil
		}
		m.graceTimer = nil
		m.setStateLocked(StateIdle, "")
		m.sess = nil
		return nil
	})
}

// failLocked moves a connecting or reconnecting session to failed and
// releases its resources. The session stays failed until EndSession.
func (m *Manager) failLocked(reason string) {
	m.billing.Stop()
	m.stopTimerLocked(&m.connectTimer)
	m.stopTimerLocked(&m.reconnectTimer)
	m.releaseLocked()
	if m.sess.StartTime != nil {
		m.sess.Duration = m.clock.Since(*m.sess.StartTime)
	}
	m.sess.EndReason = reason
	m.gen++
	m.setStateLocked(StateFailed, reason)
	m.emitLocked(Event{Kind: EventFailed, Detail: reason})
}

func (m *Manager) stopTimerLocked(t **clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (m *Manager) armConnectTimerLocked(gen uint64) {
	m.stopTimerLocked(&m.connectTimer)
	m.connectTimer = m.clock.AfterFunc(m.timing.ConnectTimeout, func() {
		_ = m.exec(func() error {
			if gen != m.gen || m.state != StateConnecting {
				return nil
			}
			log.Warnf("[%s] not connected after %s", m.sess.ID, m.timing.ConnectTimeout)
			m.failLocked(ReasonConnectTimeout)
			return nil
		})
	})
}

func (m *Manager) snapshotLocked() *Session {
	if m.sess == nil {
		return nil
	}
	s := m.sess.clone()
	s.State = m.state
	return s
}
