package chat

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/augur/internal/proto"
)

type fakeData struct {
	open bool
	sent [][]byte
	err  error
}

func (f *fakeData) ChatOpen() bool { return f.open }
func (f *fakeData) SendChat(b []byte) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, b)
	return nil
}

type fakeRelay struct{ sent []proto.Message }

func (f *fakeRelay) Send(m proto.Message) error {
	f.sent = append(f.sent, m)
	return nil
}

type memStore struct{ saved []*Message }

func (s *memStore) SaveMessage(m *Message) error {
	s.saved = append(s.saved, m)
	return nil
}

var alice = proto.Profile{ID: "alice", Name: "Alice"}

func TestSendBlankIsNoop(t *testing.T) {
	m := New(10, nil)
	relay := &fakeRelay{}
	for _, text := range []string{"", "   ", "\n\t"} {
		msg, err := m.Send("s1", alice, text, nil, relay)
		require.NoError(t, err)
		assert.Nil(t, msg)
	}
	assert.Empty(t, m.Messages())
	assert.Empty(t, relay.sent)
}

func TestSendUsesExactlyOnePath(t *testing.T) {
	t.Run("data channel open", func(t *testing.T) {
		m := New(10, nil)
		data := &fakeData{open: true}
		relay := &fakeRelay{}

		msg, err := m.Send("s1", alice, " hello ", data, relay)
		require.NoError(t, err)
		assert.Equal(t, ViaData, msg.Via)
		assert.Equal(t, "hello", msg.Text)
		assert.Len(t, data.sent, 1)
		assert.Empty(t, relay.sent)

		cm, err := DecodeData(data.sent[0])
		require.NoError(t, err)
		assert.Equal(t, msg.ID, cm.ID)
		assert.Equal(t, "s1", cm.SessionID)
	})

	t.Run("data channel closed", func(t *testing.T) {
		m := New(10, nil)
		data := &fakeData{open: false}
		relay := &fakeRelay{}

		msg, err := m.Send("s1", alice, "hello", data, relay)
		require.NoError(t, err)
		assert.Equal(t, ViaRelay, msg.Via)
		assert.Empty(t, data.sent)
		require.Len(t, relay.sent, 1)
		assert.Equal(t, proto.TypeChatMessage, relay.sent[0].Kind())
	})

	t.Run("no transport", func(t *testing.T) {
		m := New(10, nil)
		relay := &fakeRelay{}
		_, err := m.Send("s1", alice, "hello", nil, relay)
		require.NoError(t, err)
		assert.Len(t, relay.sent, 1)
	})
}

func TestSendEchoesBeforeDelivery(t *testing.T) {
	m := New(10, nil)
	data := &fakeData{open: true, err: errors.New("boom")}

	msg, err := m.Send("s1", alice, "hi", data, nil)
	require.Error(t, err)
	require.NotNil(t, msg)
	require.Len(t, m.Messages(), 1)
	assert.True(t, m.Messages()[0].Outgoing)
}

func TestReceiveKeepsArrivalOrderAndDuplicates(t *testing.T) {
	store := &memStore{}
	m := New(10, store)
	rita := proto.Profile{ID: "rita", Name: "Rita"}

	m.Receive(&proto.ChatMessage{SessionID: "s1", From: rita, Content: "one", TS: 300}, ViaRelay)
	m.Receive(&proto.ChatMessage{SessionID: "s1", From: rita, Content: "two", TS: 100}, ViaData)
	m.Receive(&proto.ChatMessage{SessionID: "s1", From: rita, Content: "two", TS: 100}, ViaRelay)

	got := m.Messages()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"one", "two", "two"}, []string{got[0].Text, got[1].Text, got[2].Text})
	assert.Equal(t, ViaData, got[1].Via)
	assert.Equal(t, "Rita", got[0].From)
	assert.Len(t, store.saved, 3)

	m.Reset()
	assert.Empty(t, m.Messages())
}

func TestSubscribe(t *testing.T) {
	m := New(10, nil)
	ch := m.Subscribe()
	m.Receive(&proto.ChatMessage{SessionID: "s1", From: alice, Content: "x"}, ViaRelay)

	got := <-ch
	assert.Equal(t, "x", got.Text)

	m.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestDecodeDataRejectsEmpty(t *testing.T) {
	_, err := DecodeData([]byte(`{"type":"chat_message","sessionId":"s1"}`))
	assert.ErrorIs(t, err, proto.ErrMissingField)
	_, err = DecodeData([]byte(`nope`))
	assert.Error(t, err)
}
