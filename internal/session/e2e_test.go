package session

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/augur/internal/account"
	"github.com/petervdpas/augur/internal/call"
	"github.com/petervdpas/augur/internal/call/calltest"
	"github.com/petervdpas/augur/internal/chat"
	"github.com/petervdpas/augur/internal/proto"
	"github.com/petervdpas/augur/internal/signal/signaltest"
)

type peer struct {
	m      *Manager
	dialer *calltest.Dialer
	acct   *account.Memory
}

func newPeer(t *testing.T, hub *signaltest.Hub, clk clock.Clock, p account.Profile) *peer {
	t.Helper()
	rec := hub.Attach(p.Public().ID)
	pr := &peer{dialer: &calltest.Dialer{}, acct: account.NewMemory(p)}
	m, err := New(Options{
		Signal:   rec,
		Dialer:   pr.dialer,
		Devices:  &calltest.Devices{},
		Accounts: pr.acct,
		Clock:    clk,
	})
	require.NoError(t, err)
	require.NoError(t, rec.Connect(context.Background(), p.Public()))
	t.Cleanup(func() { _ = m.Close() })
	pr.m = m
	return pr
}

func TestSessionThroughRelay(t *testing.T) {
	hub := signaltest.NewHub()
	defer hub.Close()
	clk := clock.NewMock()

	client := newPeer(t, hub, clk, account.Client{ID: alice.ID, Name: alice.Name, Balance: 5000})
	reader := newPeer(t, hub, clk, account.Reader{ID: rita.ID, Name: rita.Name, Rates: readerRates})

	wait := func(cond func() bool, msg string) {
		t.Helper()
		require.Eventually(t, cond, 3*time.Second, 2*time.Millisecond, msg)
	}

	s, err := client.m.InitializeSession(context.Background(), proto.SessionAudio, rita)
	require.NoError(t, err)
	wait(func() bool { return reader.m.Incoming() != nil }, "request reaches reader")
	in := reader.m.Incoming()
	assert.Equal(t, s.ID, in.SessionID)
	assert.Equal(t, alice.ID, in.From.ID)

	require.NoError(t, reader.m.AcceptSession(context.Background(), in))
	wait(func() bool {
		tr := client.dialer.Last()
		return tr != nil && tr.RemoteDescription() != nil
	}, "answer reaches caller")

	ct, rt := client.dialer.Last(), reader.dialer.Last()
	require.NotNil(t, rt.RemoteDescription(), "callee applied the offer")

	ct.EmitCandidate(proto.ICECandidate{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"})
	wait(func() bool { return len(rt.RemoteCandidates()) == 1 }, "candidate relayed")

	ct.Link, rt.Link = rt, ct
	ct.EmitChatOpen()
	rt.EmitChatOpen()
	ct.EmitState(call.ConnConnected)
	rt.EmitState(call.ConnConnected)
	wait(func() bool {
		return client.m.State() == StateConnected && reader.m.State() == StateConnected
	}, "both connected")
	assert.EqualValues(t, 399, client.m.Current().Rate)
	assert.EqualValues(t, 399, reader.m.Current().Rate)

	msg, err := client.m.SendMessage("hello")
	require.NoError(t, err)
	assert.Equal(t, chat.ViaData, msg.Via)
	wait(func() bool { return len(reader.m.Messages()) == 1 }, "chat over data channel")
	got := reader.m.Messages()[0]
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, alice.ID, got.FromID)
	assert.Equal(t, msg.ID, got.ID)

	require.NoError(t, client.m.EndSession())
	wait(func() bool { return reader.m.State() == StateClosed }, "reader sees the end")
	assert.Equal(t, proto.ReasonHangup, reader.m.Current().EndReason)
	assert.Equal(t, StateClosed, client.m.State())
	wait(func() bool { return rt.Closed() && ct.Closed() }, "transports released")
}

func TestBusyReaderThroughRelay(t *testing.T) {
	hub := signaltest.NewHub()
	defer hub.Close()
	clk := clock.NewMock()

	first := newPeer(t, hub, clk, account.Client{ID: "alice", Name: "Alice", Balance: 5000})
	second := newPeer(t, hub, clk, account.Client{ID: "bob", Name: "Bob", Balance: 5000})
	reader := newPeer(t, hub, clk, account.Reader{ID: rita.ID, Name: rita.Name, Rates: readerRates})

	_, err := first.m.InitializeSession(context.Background(), proto.SessionChat, rita)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return reader.m.Incoming() != nil }, 3*time.Second, 2*time.Millisecond)

	_, err = second.m.InitializeSession(context.Background(), proto.SessionChat, rita)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return second.m.State() == StateClosed }, 3*time.Second, 2*time.Millisecond)
	assert.Equal(t, ReasonRejected, second.m.Current().EndReason)
	assert.Equal(t, StateConnecting, first.m.State())
}
