package proto

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/augur/internal/billing"
)

func TestEncodeStampsType(t *testing.T) {
	b, err := Encode(&SessionEnd{SessionID: "s1", From: Profile{ID: "u1", Name: "Ann"}})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "session_end", raw["type"])
	assert.Equal(t, "s1", raw["sessionId"])
	assert.NotContains(t, raw, "reason")
}

func TestParseIncomingSession(t *testing.T) {
	frame := `{"type":"incoming_session","sessionId":"1700000000000-ab12","sessionType":"video",
		"from":{"id":"c1","name":"Cleo","role":"client"}}`

	m, err := Parse([]byte(frame))
	require.NoError(t, err)

	in, ok := m.(*IncomingSession)
	require.True(t, ok, "got %T", m)
	assert.Equal(t, SessionVideo, in.SessionType)
	assert.Equal(t, "Cleo", in.From.Name)
	assert.Equal(t, RoleClient, in.From.Role)
	assert.Equal(t, "1700000000000-ab12", SessionOf(m))
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":          `{"type":`,
		"no type":           `{"sessionId":"x"}`,
		"unknown type":      `{"type":"teleport","sessionId":"x"}`,
		"missing session":   `{"type":"session_accept","from":{"id":"r1"}}`,
		"bad session type":  `{"type":"session_request","sessionId":"s","sessionType":"tarot","partnerId":"r","from":{"id":"c"}}`,
		"empty offer sdp":   `{"type":"session_offer","sessionId":"s","offer":{"type":"offer","sdp":""}}`,
		"empty chat":        `{"type":"chat_message","sessionId":"s","from":{"id":"c"},"content":""}`,
		"wrong field shape": `{"type":"session_answer","sessionId":"s","answer":"v=0"}`,
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(frame))
			assert.Error(t, err)
		})
	}

	_, err := Parse([]byte(`{"type":"teleport"}`))
	assert.True(t, errors.Is(err, ErrUnknownType))

	_, err = Parse([]byte(`{"type":"session_ended"}`))
	assert.True(t, errors.Is(err, ErrMissingField))
}

func TestProfileRatesRoundTrip(t *testing.T) {
	p := Profile{
		ID:   "r1",
		Name: "Madame Iris",
		Role: RoleReader,
		Rates: &Rates{
			Chat:  billing.FromFloat(2.99),
			Audio: billing.FromFloat(3.99),
			Video: billing.FromFloat(5.99),
		},
	}
	b, err := Encode(&IncomingSession{SessionID: "s", SessionType: SessionChat, From: p})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"video":5.99`)

	m, err := Parse(b)
	require.NoError(t, err)
	got := m.(*IncomingSession).From
	require.NotNil(t, got.Rates)

	rate, ok := got.Rates.For(SessionVideo)
	assert.True(t, ok)
	assert.Equal(t, billing.Money(599), rate)

	_, ok = got.Rates.For(SessionType("tarot"))
	assert.False(t, ok)
}
