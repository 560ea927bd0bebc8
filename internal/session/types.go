// Package session is the lifecycle state machine for the single active
// chat, audio or video session of this client. It mediates between the
// signaling channel, the media transport, the billing engine and the chat
// log, and it is the only writer of session state.
package session

import (
	"errors"
	"time"

	"github.com/petervdpas/augur/internal/billing"
	"github.com/petervdpas/augur/internal/chat"
	"github.com/petervdpas/augur/internal/proto"
)

// State is the lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

// Role is which side of the session this client is on.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// End reasons local to this client. The wire reasons live in proto.
const (
	ReasonRejected       = "rejected"
	ReasonConnectTimeout = "connect_timeout"
	ReasonReconnectLost  = "reconnect_timeout"
	ReasonRemoteEnded    = "remote_ended"
	ReasonShutdown       = "shutdown"
)

var (
	ErrInvalidState = errors.New("session: operation not valid in current state")
	ErrInvalidType  = errors.New("session: invalid session type")
	ErrNoIncoming   = errors.New("session: no matching incoming request")
	ErrNoSession    = errors.New("session: no active session")
	ErrAborted      = errors.New("session: ended while starting")
	ErrClosed       = errors.New("session: manager closed")
	ErrNoRate       = errors.New("session: partner has no rate table")
)

// Session is a snapshot of the active session.
type Session struct {
	ID      string            `json:"id"`
	Type    proto.SessionType `json:"type"`
	Role    Role              `json:"role"`
	Partner proto.Profile     `json:"partner"`
	// Rate is locked when the type is chosen.
	Rate billing.Money `json:"rate"`
	// StartTime is stamped once, on the first entry to connected.
	StartTime *time.Time `json:"startTime,omitempty"`
	// Duration is derived from StartTime on every refresh.
	Duration       time.Duration `json:"duration"`
	CurrentCharge  billing.Money `json:"currentCharge"`
	ChargedMinutes int           `json:"chargedMinutes"`
	State          State         `json:"state"`
	EndReason      string        `json:"endReason,omitempty"`

	// announced is set once session_request or session_accept went out.
	announced bool
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.StartTime != nil {
		t := *s.StartTime
		c.StartTime = &t
	}
	return &c
}

// IncomingRequest is a proposal awaiting accept or reject.
type IncomingRequest struct {
	SessionID  string            `json:"sessionId"`
	Type       proto.SessionType `json:"type"`
	From       proto.Profile     `json:"from"`
	ReceivedAt time.Time         `json:"receivedAt"`
	ExpiresAt  time.Time         `json:"expiresAt"`
}

// EventKind names what an Event reports.
type EventKind string

const (
	EventState           EventKind = "state"
	EventTick            EventKind = "tick"
	EventIncoming        EventKind = "incoming"
	EventIncomingCleared EventKind = "incoming_cleared"
	EventMessage         EventKind = "message"
	EventTrack           EventKind = "track"
	EventFailed          EventKind = "failed"
	EventSummary         EventKind = "summary"
)

// Event is published to subscribers on every observable change.
type Event struct {
	Kind     EventKind        `json:"kind"`
	State    State            `json:"state"`
	Session  *Session         `json:"session,omitempty"`
	Incoming *IncomingRequest `json:"incoming,omitempty"`
	Message  *chat.Message    `json:"message,omitempty"`
	Detail   string           `json:"detail,omitempty"`
	At       time.Time        `json:"at"`
}

// Timing holds the state machine's timeouts.
type Timing struct {
	ReconnectTimeout time.Duration
	CloseGrace       time.Duration
	ConnectTimeout   time.Duration
	IncomingExpiry   time.Duration
	// EnforceIncomingExpiry auto-rejects requests left unanswered.
	EnforceIncomingExpiry bool
	BillingInterval       time.Duration
	BillingTick           time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		ReconnectTimeout:      10 * time.Second,
		CloseGrace:            2 * time.Second,
		ConnectTimeout:        30 * time.Second,
		IncomingExpiry:        25 * time.Second,
		EnforceIncomingExpiry: true,
		BillingInterval:       billing.DefaultInterval,
		BillingTick:           billing.DefaultTick,
	}
}

func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.ReconnectTimeout <= 0 {
		t.ReconnectTimeout = d.ReconnectTimeout
	}
	if t.CloseGrace <= 0 {
		t.CloseGrace = d.CloseGrace
	}
	if t.ConnectTimeout <= 0 {
		t.ConnectTimeout = d.ConnectTimeout
	}
	if t.IncomingExpiry <= 0 {
		t.IncomingExpiry = d.IncomingExpiry
	}
	if t.BillingInterval <= 0 {
		t.BillingInterval = d.BillingInterval
	}
	if t.BillingTick <= 0 {
		t.BillingTick = d.BillingTick
	}
	return t
}
