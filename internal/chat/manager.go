// Package chat keeps the ordered message log of the active session and
// picks a delivery path for each outgoing message.
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/augur/internal/metrics"
	"github.com/petervdpas/augur/internal/proto"
	"github.com/petervdpas/augur/internal/util"
)

var log = logging.Logger("chat")

// DefaultBufferSize is the default number of messages kept in memory.
const DefaultBufferSize = 500

// ErrNoPath is returned when neither delivery path is available.
var ErrNoPath = errors.New("chat: no delivery path")

// DataPath is the peer data channel.
type DataPath interface {
	ChatOpen() bool
	SendChat(data []byte) error
}

// RelayPath is the signaling fallback.
type RelayPath interface {
	Send(m proto.Message) error
}

// Store persists the transcript. Optional.
type Store interface {
	SaveMessage(m *Message) error
}

// Manager holds the message log for the current session.
type Manager struct {
	messages *util.RingBuffer[*Message]
	store    Store

	mu        sync.RWMutex
	listeners []chan *Message
}

func New(bufferSize int, store Store) *Manager {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Manager{
		messages: util.NewRingBuffer[*Message](bufferSize),
		store:    store,
	}
}

// Send appends text to the log as a local echo, then delivers it over
// exactly one path: the data channel when it is open, the relay otherwise.
// Blank text is a no-op and returns (nil, nil).
func (m *Manager) Send(sessionID string, self proto.Profile, text string, data DataPath, relay RelayPath) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	via := ViaRelay
	if data != nil && data.ChatOpen() {
		via = ViaData
	}

	msg := newMessage(sessionID, self.ID, self.Name, text, via, true)
	m.add(msg)

	wire := &proto.ChatMessage{
		SessionID: sessionID,
		ID:        msg.ID,
		From:      proto.Profile{ID: self.ID, Name: self.Name},
		Content:   text,
		TS:        msg.Timestamp,
	}

	if via == ViaData {
		payload, err := proto.Encode(wire)
		if err != nil {
			return msg, err
		}
		if err := data.SendChat(payload); err != nil {
			return msg, fmt.Errorf("chat: data channel send: %w", err)
		}
		metrics.ChatMessages.WithLabelValues("out", string(ViaData)).Inc()
		return msg, nil
	}

	if relay == nil {
		return msg, ErrNoPath
	}
	if err := relay.Send(wire); err != nil {
		return msg, fmt.Errorf("chat: relay send: %w", err)
	}
	metrics.ChatMessages.WithLabelValues("out", string(ViaRelay)).Inc()
	return msg, nil
}

// Receive appends an inbound message in arrival order. Nothing is
// deduplicated.
func (m *Manager) Receive(cm *proto.ChatMessage, via Via) *Message {
	msg := newMessage(cm.SessionID, cm.From.ID, cm.From.Name, cm.Content, via, false)
	if cm.ID != "" {
		msg.ID = cm.ID
	}
	if cm.TS != 0 {
		msg.Timestamp = cm.TS
	}
	m.add(msg)
	metrics.ChatMessages.WithLabelValues("in", string(via)).Inc()
	log.Debugf("received via %s from %s: %.50s", via, msg.From, msg.Text)
	return msg
}

// DecodeData parses a data channel payload.
func DecodeData(data []byte) (*proto.ChatMessage, error) {
	var cm proto.ChatMessage
	if err := json.Unmarshal(data, &cm); err != nil {
		return nil, fmt.Errorf("chat: decode data payload: %w", err)
	}
	if cm.Content == "" {
		return nil, proto.ErrMissingField
	}
	return &cm, nil
}

// Messages returns the log, oldest first.
func (m *Manager) Messages() []*Message {
	return m.messages.Snapshot()
}

// Reset clears the log. Persisted transcripts are kept.
func (m *Manager) Reset() {
	m.messages.Reset()
}

// Subscribe returns a channel that receives new log entries.
func (m *Manager) Subscribe() <-chan *Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan *Message, 32)
	m.listeners = append(m.listeners, ch)
	return ch
}

// Unsubscribe removes a listener channel
func (m *Manager) Unsubscribe(ch <-chan *Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, listener := range m.listeners {
		if listener == ch {
			close(listener)
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return
		}
	}
}

func (m *Manager) add(msg *Message) {
	m.messages.Push(msg)

	if m.store != nil {
		if err := m.store.SaveMessage(msg); err != nil {
			log.Warnf("persist message %s: %v", msg.ID, err)
		}
	}

	m.mu.RLock()
	for _, listener := range m.listeners {
		select {
		case listener <- msg:
		default:
		}
	}
	m.mu.RUnlock()
}

// Close closes every listener channel.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, listener := range m.listeners {
		close(listener)
	}
	m.listeners = nil
	return nil
}
