package session

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/augur/internal/account"
	"github.com/petervdpas/augur/internal/billing"
	"github.com/petervdpas/augur/internal/call"
	"github.com/petervdpas/augur/internal/call/calltest"
	"github.com/petervdpas/augur/internal/proto"
	"github.com/petervdpas/augur/internal/signal/signaltest"
)

var (
	readerRates = proto.Rates{Chat: 199, Audio: 399, Video: 599}
	rita        = proto.Profile{ID: "rita", Name: "Rita", Role: proto.RoleReader, Rates: &readerRates}
	alice       = proto.Profile{ID: "alice", Name: "Alice", Role: proto.RoleClient}
)

type harness struct {
	t       *testing.T
	clk     *clock.Mock
	sig     *signaltest.Recorder
	dialer  *calltest.Dialer
	devices *calltest.Devices
	acct    *account.Memory
	m       *Manager
}

func newHarness(t *testing.T, p account.Profile) *harness {
	t.Helper()
	mem := account.NewMemory(p)
	return buildHarness(t, mem, mem)
}

// buildHarness wires the manager to accounts, which may wrap mem.
func buildHarness(t *testing.T, mem *account.Memory, accounts account.Provider) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		clk:     clock.NewMock(),
		sig:     signaltest.NewRecorder(),
		dialer:  &calltest.Dialer{},
		devices: &calltest.Devices{},
		acct:    mem,
	}
	h.clk.Set(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	m, err := New(Options{
		Signal:   h.sig,
		Dialer:   h.dialer,
		Devices:  h.devices,
		Accounts: accounts,
		Clock:    h.clk,
		Timing:   DefaultTiming(),
	})
	require.NoError(t, err)
	h.m = m
	t.Cleanup(func() { _ = m.Close() })
	return h
}

func newClient(t *testing.T, balance billing.Money) *harness {
	return newHarness(t, account.Client{ID: alice.ID, Name: alice.Name, Balance: balance})
}

func newReader(t *testing.T) *harness {
	return newHarness(t, account.Reader{ID: rita.ID, Name: rita.Name, Rates: readerRates})
}

func (h *harness) eventually(cond func() bool, msg string) {
	h.t.Helper()
	require.Eventually(h.t, cond, 3*time.Second, 2*time.Millisecond, msg)
}

func (h *harness) waitState(s State) {
	h.t.Helper()
	h.eventually(func() bool { return h.m.State() == s }, "state "+string(s))
}

// advance moves the mock clock forward in one-second steps so timer
// callbacks, which run on their own goroutines, keep up.
func (h *harness) advance(d time.Duration) {
	h.t.Helper()
	for d > 0 {
		step := time.Second
		if d < step {
			step = d
		}
		h.clk.Add(step)
		time.Sleep(2 * time.Millisecond)
		d -= step
	}
}

// advanceUntil steps the clock until cond holds, failing after limit.
func (h *harness) advanceUntil(limit time.Duration, cond func() bool) {
	h.t.Helper()
	for elapsed := time.Duration(0); elapsed <= limit; elapsed += time.Second {
		if cond() {
			return
		}
		h.clk.Add(time.Second)
		time.Sleep(2 * time.Millisecond)
	}
	h.eventually(cond, "condition not reached")
}

func (h *harness) transport() *calltest.Transport {
	h.t.Helper()
	tr := h.dialer.Last()
	require.NotNil(h.t, tr)
	return tr
}

// dialAsCaller starts a session of type t with rita and completes
// signaling up to the answer.
func (h *harness) dialAsCaller(t proto.SessionType) *Session {
	h.t.Helper()
	s, err := h.m.InitializeSession(context.Background(), t, rita)
	require.NoError(h.t, err)

	h.sig.Deliver(&proto.SessionAccept{SessionID: s.ID, From: rita})
	require.Equal(h.t, 1, h.sig.Count(proto.TypeSessionOffer))
	h.sig.Deliver(&proto.SessionAnswer{SessionID: s.ID, Answer: proto.SDP{Type: "answer", SDP: "v=0"}})
	require.NotNil(h.t, h.transport().RemoteDescription())
	return s
}

// connectAsCaller dials and reports the transport connected.
func (h *harness) connectAsCaller(t proto.SessionType) *Session {
	h.t.Helper()
	s := h.dialAsCaller(t)
	h.transport().EmitState(call.ConnConnected)
	h.waitState(StateConnected)
	return s
}

func (h *harness) current() *Session {
	h.t.Helper()
	s := h.m.Current()
	require.NotNil(h.t, s)
	return s
}
