package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client -> server.
const (
	TypeRegister       = "register"
	TypeSessionRequest = "session_request"
	TypeSessionAccept  = "session_accept"
	TypeSessionReject  = "session_reject"
	TypeSessionOffer   = "session_offer"
	TypeSessionAnswer  = "session_answer"
	TypeSessionEnd     = "session_end"
)

// Server -> client.
const (
	TypeIncomingSession = "incoming_session"
	TypeSessionEnded    = "session_ended"
)

// Either direction.
const (
	TypeICECandidate = "ice_candidate"
	TypeChatMessage  = "chat_message"
)

// Reasons carried by session_reject, session_end and session_ended.
const (
	ReasonBusy              = "busy"
	ReasonExpired           = "expired"
	ReasonDeclined          = "declined"
	ReasonHangup            = "hangup"
	ReasonInsufficientFunds = "insufficient_funds"
	ReasonFailed            = "failed"
)

var (
	ErrUnknownType  = errors.New("proto: unknown envelope type")
	ErrMissingField = errors.New("proto: missing required field")
)

// Envelope is the framing-level view of a signaling message: the type
// discriminator plus the raw bytes for deferred decoding.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the full raw message and extracts only "type".
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("proto: unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("proto: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// Message is implemented by every concrete envelope body.
type Message interface {
	Kind() string
	stamp()
	validate() error
}

type Register struct {
	Type string  `json:"type"`
	From Profile `json:"from"`
}

type SessionRequest struct {
	Type        string      `json:"type"`
	SessionID   string      `json:"sessionId"`
	SessionType SessionType `json:"sessionType"`
	PartnerID   string      `json:"partnerId"`
	From        Profile     `json:"from"`
}

type IncomingSession struct {
	Type        string      `json:"type"`
	SessionID   string      `json:"sessionId"`
	SessionType SessionType `json:"sessionType"`
	From        Profile     `json:"from"`
}

type SessionAccept struct {
	Type      string  `json:"type"`
	SessionID string  `json:"sessionId"`
	From      Profile `json:"from"`
}

type SessionReject struct {
	Type      string  `json:"type"`
	SessionID string  `json:"sessionId"`
	From      Profile `json:"from"`
	Reason    string  `json:"reason,omitempty"`
}

type Candidate struct {
	Type      string       `json:"type"`
	SessionID string       `json:"sessionId"`
	Candidate ICECandidate `json:"candidate"`
}

type SessionOffer struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Offer     SDP    `json:"offer"`
}

type SessionAnswer struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Answer    SDP    `json:"answer"`
}

type SessionEnd struct {
	Type      string  `json:"type"`
	SessionID string  `json:"sessionId"`
	From      Profile `json:"from"`
	Reason    string  `json:"reason,omitempty"`
}

type SessionEnded struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
}

type ChatMessage struct {
	Type      string  `json:"type"`
	SessionID string  `json:"sessionId"`
	ID        string  `json:"id,omitempty"`
	From      Profile `json:"from"`
	Content   string  `json:"content"`
	TS        int64   `json:"ts,omitempty"`
}

func (*Register) Kind() string        { return TypeRegister }
func (*SessionRequest) Kind() string  { return TypeSessionRequest }
func (*IncomingSession) Kind() string { return TypeIncomingSession }
func (*SessionAccept) Kind() string   { return TypeSessionAccept }
func (*SessionReject) Kind() string   { return TypeSessionReject }
func (*Candidate) Kind() string       { return TypeICECandidate }
func (*SessionOffer) Kind() string    { return TypeSessionOffer }
func (*SessionAnswer) Kind() string   { return TypeSessionAnswer }
func (*SessionEnd) Kind() string      { return TypeSessionEnd }
func (*SessionEnded) Kind() string    { return TypeSessionEnded }
func (*ChatMessage) Kind() string     { return TypeChatMessage }

func (m *Register) stamp()        { m.Type = TypeRegister }
func (m *SessionRequest) stamp()  { m.Type = TypeSessionRequest }
func (m *IncomingSession) stamp() { m.Type = TypeIncomingSession }
func (m *SessionAccept) stamp()   { m.Type = TypeSessionAccept }
func (m *SessionReject) stamp()   { m.Type = TypeSessionReject }
func (m *Candidate) stamp()       { m.Type = TypeICECandidate }
func (m *SessionOffer) stamp()    { m.Type = TypeSessionOffer }
func (m *SessionAnswer) stamp()   { m.Type = TypeSessionAnswer }
func (m *SessionEnd) stamp()      { m.Type = TypeSessionEnd }
func (m *SessionEnded) stamp()    { m.Type = TypeSessionEnded }
func (m *ChatMessage) stamp()     { m.Type = TypeChatMessage }

func missing(field string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, field)
}

func (m *Register) validate() error {
	if m.From.ID == "" {
		return missing("from.id")
	}
	return nil
}

func (m *SessionRequest) validate() error {
	switch {
	case m.SessionID == "":
		return missing("sessionId")
	case !m.SessionType.Valid():
		return fmt.Errorf("proto: invalid sessionType %q", m.SessionType)
	case m.PartnerID == "":
		return missing("partnerId")
	case m.From.ID == "":
		return missing("from.id")
	}
	return nil
}

func (m *IncomingSession) validate() error {
	switch {
	case m.SessionID == "":
		return missing("sessionId")
	case !m.SessionType.Valid():
		return fmt.Errorf("proto: invalid sessionType %q", m.SessionType)
	case m.From.ID == "":
		return missing("from.id")
	}
	return nil
}

func (m *SessionAccept) validate() error {
	if m.SessionID == "" {
		return missing("sessionId")
	}
	return nil
}

func (m *SessionReject) validate() error {
	if m.SessionID == "" {
		return missing("sessionId")
	}
	return nil
}

func (m *Candidate) validate() error {
	if m.SessionID == "" {
		return missing("sessionId")
	}
	return nil
}

func (m *SessionOffer) validate() error {
	switch {
	case m.SessionID == "":
		return missing("sessionId")
	case m.Offer.SDP == "":
		return missing("offer.sdp")
	}
	return nil
}

func (m *SessionAnswer) validate() error {
	switch {
	case m.SessionID == "":
		return missing("sessionId")
	case m.Answer.SDP == "":
		return missing("answer.sdp")
	}
	return nil
}

func (m *SessionEnd) validate() error {
	if m.SessionID == "" {
		return missing("sessionId")
	}
	return nil
}

func (m *SessionEnded) validate() error {
	if m.SessionID == "" {
		return missing("sessionId")
	}
	return nil
}

func (m *ChatMessage) validate() error {
	switch {
	case m.SessionID == "":
		return missing("sessionId")
	case m.Content == "":
		return missing("content")
	}
	return nil
}

// Encode stamps the type discriminator on m and serializes it.
func Encode(m Message) ([]byte, error) {
	m.stamp()
	return json.Marshal(m)
}

// Decode parses the concrete body of env and validates its required fields.
func Decode(env *Envelope) (Message, error) {
	var m Message
	switch env.Type {
	case TypeRegister:
		m = &Register{}
	case TypeSessionRequest:
		m = &SessionRequest{}
	case TypeIncomingSession:
		m = &IncomingSession{}
	case TypeSessionAccept:
		m = &SessionAccept{}
	case TypeSessionReject:
		m = &SessionReject{}
	case TypeICECandidate:
		m = &Candidate{}
	case TypeSessionOffer:
		m = &SessionOffer{}
	case TypeSessionAnswer:
		m = &SessionAnswer{}
	case TypeSessionEnd:
		m = &SessionEnd{}
	case TypeSessionEnded:
		m = &SessionEnded{}
	case TypeChatMessage:
		m = &ChatMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err := json.Unmarshal(env.Raw, m); err != nil {
		return nil, fmt.Errorf("proto: decode %s: %w", env.Type, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Parse is ParseEnvelope followed by Decode.
func Parse(data []byte) (Message, error) {
	env, err := ParseEnvelope(data)
	if err != nil {
		return nil, err
	}
	return Decode(env)
}

// ParseEnvelope extracts the type discriminator from a raw frame.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// SessionOf returns the session id carried by m, if any.
func SessionOf(m Message) string {
	switch v := m.(type) {
	case *SessionRequest:
		return v.SessionID
	case *IncomingSession:
		return v.SessionID
	case *SessionAccept:
		return v.SessionID
	case *SessionReject:
		return v.SessionID
	case *Candidate:
		return v.SessionID
	case *SessionOffer:
		return v.SessionID
	case *SessionAnswer:
		return v.SessionID
	case *SessionEnd:
		return v.SessionID
	case *SessionEnded:
		return v.SessionID
	case *ChatMessage:
		return v.SessionID
	}
	return ""
}
