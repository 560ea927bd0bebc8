// Package proto defines the signaling envelopes exchanged with the
// signaling server and the public profile shape they carry.
package proto

import "github.com/petervdpas/augur/internal/billing"

// SessionType is the kind of engagement; fixed for the lifetime of a session.
type SessionType string

const (
	SessionChat  SessionType = "chat"
	SessionAudio SessionType = "audio"
	SessionVideo SessionType = "video"
)

// Valid reports whether t is one of chat, audio or video.
func (t SessionType) Valid() bool {
	switch t {
	case SessionChat, SessionAudio, SessionVideo:
		return true
	}
	return false
}

// WantsVideo reports whether local video should be captured for t.
func (t SessionType) WantsVideo() bool { return t == SessionVideo }

// Role is the marketplace role of a user.
type Role string

const (
	RoleClient Role = "client"
	RoleReader Role = "reader"
)

// Rates is a reader's per-minute price table.
type Rates struct {
	Chat  billing.Money `json:"chat"`
	Audio billing.Money `json:"audio"`
	Video billing.Money `json:"video"`
}

// For returns the per-minute rate for t.
func (r Rates) For(t SessionType) (billing.Money, bool) {
	switch t {
	case SessionChat:
		return r.Chat, true
	case SessionAudio:
		return r.Audio, true
	case SessionVideo:
		return r.Video, true
	}
	return 0, false
}

// Profile is the public view of a participant as carried on the wire.
// Rates is only meaningful for readers.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Role  Role   `json:"role,omitempty"`
	Image string `json:"image,omitempty"`
	Rates *Rates `json:"rates,omitempty"`
}

// ICECandidate mirrors the browser RTCIceCandidateInit JSON shape.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// SDP is a serialized session description ("offer" or "answer").
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}
