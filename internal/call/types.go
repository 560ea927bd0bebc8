// Package call owns the peer-to-peer media transport for a session: SDP
// negotiation, trickled ICE, local capture and the ordered "chat" data
// channel. It knows nothing about signaling or billing; the session layer
// drives it through the Transport interface and hears back through Events.
package call

import (
	"errors"

	"github.com/petervdpas/augur/internal/proto"
)

// ChatLabel is the label of the data channel created by the offerer.
const ChatLabel = "chat"

var (
	ErrChatNotOpen = errors.New("call: chat data channel not open")
	ErrClosed      = errors.New("call: transport closed")
	ErrNoDevices   = errors.New("call: no capture devices available")
)

// ConnState is the aggregate connectivity of a transport.
type ConnState string

const (
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
	ConnFailed       ConnState = "failed"
	ConnClosed       ConnState = "closed"
)

// Events are the callbacks a transport raises. Each is optional. They are
// delivered one at a time, in order, on a goroutine owned by the transport,
// never on the caller's stack.
type Events struct {
	OnLocalCandidate func(proto.ICECandidate)
	OnState          func(ConnState)
	OnTrack          func(kind string)
	OnChatOpen       func()
	OnChatMessage    func(data []byte)
}

// Config describes the transport wanted for one session.
type Config struct {
	SessionID string
	Type      proto.SessionType
	// Offerer creates the SDP offer and the chat data channel.
	Offerer bool
}

// Transport is one peer connection.
type Transport interface {
	CreateOffer() (proto.SDP, error)
	// AcceptOffer applies a remote offer and returns the local answer.
	AcceptOffer(offer proto.SDP) (proto.SDP, error)
	AcceptAnswer(answer proto.SDP) error
	// AddRemoteCandidate applies a trickled candidate. Candidates that
	// arrive before the remote description are held and applied after it.
	AddRemoteCandidate(c proto.ICECandidate) error
	ChatOpen() bool
	SendChat(data []byte) error
	Stats() Stats
	// Close releases the connection. Idempotent.
	Close() error
}

// Dialer builds transports. media may be nil for chat sessions.
type Dialer interface {
	Dial(cfg Config, media *LocalMedia, ev Events) (Transport, error)
}

// Devices acquires local capture for a session type.
type Devices interface {
	Acquire(t proto.SessionType) (*LocalMedia, error)
}
