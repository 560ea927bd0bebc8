package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/augur/internal/proto"
)

func encode(t *testing.T, m proto.Message) []byte {
	t.Helper()
	data, err := proto.Encode(m)
	require.NoError(t, err)
	return data
}

func decodeOne(t *testing.T, ds []Delivery) (string, proto.Message) {
	t.Helper()
	require.Len(t, ds, 1)
	m, err := proto.Parse(ds[0].Data)
	require.NoError(t, err)
	return ds[0].To, m
}

func TestRouterRequestBecomesIncoming(t *testing.T) {
	r := NewRouter()
	alice := proto.Profile{ID: "alice", Name: "Alice", Role: proto.RoleClient}

	ds, err := r.Route("alice", encode(t, &proto.SessionRequest{
		SessionID:   "s1",
		SessionType: proto.SessionVideo,
		PartnerID:   "rita",
		From:        alice,
	}))
	require.NoError(t, err)

	to, m := decodeOne(t, ds)
	assert.Equal(t, "rita", to)
	inc, ok := m.(*proto.IncomingSession)
	require.True(t, ok, "got %T", m)
	assert.Equal(t, "s1", inc.SessionID)
	assert.Equal(t, proto.SessionVideo, inc.SessionType)
	assert.Equal(t, "Alice", inc.From.Name)
	assert.Equal(t, 1, r.Sessions())
}

func TestRouterForwardsToOtherParticipant(t *testing.T) {
	r := NewRouter()
	_, err := r.Route("alice", encode(t, &proto.SessionRequest{
		SessionID: "s1", SessionType: proto.SessionChat, PartnerID: "rita",
		From: proto.Profile{ID: "alice"},
	}))
	require.NoError(t, err)

	ds, err := r.Route("rita", encode(t, &proto.SessionAccept{SessionID: "s1"}))
	require.NoError(t, err)
	to, m := decodeOne(t, ds)
	assert.Equal(t, "alice", to)
	assert.Equal(t, proto.TypeSessionAccept, m.Kind())

	ds, err = r.Route("alice", encode(t, &proto.ChatMessage{SessionID: "s1", Content: "hi"}))
	require.NoError(t, err)
	to, _ = decodeOne(t, ds)
	assert.Equal(t, "rita", to)
}

func TestRouterEndNotifiesPartnerAndForgets(t *testing.T) {
	r := NewRouter()
	_, err := r.Route("alice", encode(t, &proto.SessionRequest{
		SessionID: "s1", SessionType: proto.SessionAudio, PartnerID: "rita",
		From: proto.Profile{ID: "alice"},
	}))
	require.NoError(t, err)

	ds, err := r.Route("rita", encode(t, &proto.SessionEnd{SessionID: "s1", Reason: proto.ReasonHangup}))
	require.NoError(t, err)
	to, m := decodeOne(t, ds)
	assert.Equal(t, "alice", to)
	ended, ok := m.(*proto.SessionEnded)
	require.True(t, ok)
	assert.Equal(t, proto.ReasonHangup, ended.Reason)
	assert.Equal(t, 0, r.Sessions())

	_, err = r.Route("alice", encode(t, &proto.ChatMessage{SessionID: "s1", Content: "late"}))
	assert.Error(t, err)
}

func TestRouterDisconnectEndsSessions(t *testing.T) {
	r := NewRouter()
	_, err := r.Route("rita", encode(t, &proto.Register{From: proto.Profile{ID: "rita", Name: "Rita"}}))
	require.NoError(t, err)
	_, err = r.Route("alice", encode(t, &proto.SessionRequest{
		SessionID: "s1", SessionType: proto.SessionChat, PartnerID: "rita",
		From: proto.Profile{ID: "alice"},
	}))
	require.NoError(t, err)
	require.Len(t, r.Profiles(), 1)

	to, m := decodeOne(t, r.Disconnect("rita"))
	assert.Equal(t, "alice", to)
	assert.Equal(t, proto.TypeSessionEnded, m.Kind())
	assert.Empty(t, r.Profiles())
	assert.Equal(t, 0, r.Sessions())
}

func TestRouterRejectsMalformed(t *testing.T) {
	r := NewRouter()
	for _, frame := range []string{`not json`, `{"type":"bogus"}`, `{"type":"session_offer"}`} {
		_, err := r.Route("x", []byte(frame))
		assert.Error(t, err, frame)
	}
}
