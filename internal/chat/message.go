package chat

import (
	"time"

	"github.com/google/uuid"
)

// Via records how a message travelled.
type Via string

const (
	ViaData  Via = "data"  // peer data channel
	ViaRelay Via = "relay" // signaling chat_message envelope
)

// Message is one entry in a session's chat log.
type Message struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	FromID    string `json:"fromId"`
	From      string `json:"from"` // sender display name
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // unix ms
	Via       Via    `json:"via"`
	Outgoing  bool   `json:"outgoing"`
}

func newMessage(sessionID, fromID, from, text string, via Via, outgoing bool) *Message {
	return &Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		FromID:    fromID,
		From:      from,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
		Via:       via,
		Outgoing:  outgoing,
	}
}
