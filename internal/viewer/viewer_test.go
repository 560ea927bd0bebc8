package viewer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/augur/internal/account"
	"github.com/petervdpas/augur/internal/avatar"
	"github.com/petervdpas/augur/internal/billing"
	"github.com/petervdpas/augur/internal/call/calltest"
	"github.com/petervdpas/augur/internal/proto"
	"github.com/petervdpas/augur/internal/session"
	"github.com/petervdpas/augur/internal/signal/signaltest"
	"github.com/petervdpas/augur/internal/storage"
)

type fixture struct {
	srv *httptest.Server
	sig *signaltest.Recorder
	m   *session.Manager
	db  *storage.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rates := proto.Rates{Chat: 199, Audio: 399, Video: 599}
	require.NoError(t, db.UpsertPartner(proto.Profile{ID: "rita", Name: "Rita", Role: proto.RoleReader, Rates: &rates}))

	sig := signaltest.NewRecorder()
	acct := account.NewMemory(account.Client{ID: "alice", Name: "Alice", Balance: 1000})
	m, err := session.New(session.Options{
		Signal:   sig,
		Dialer:   &calltest.Dialer{},
		Devices:  &calltest.Devices{},
		Accounts: acct,
		History:  db,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	srv := httptest.NewServer(Viewer{Session: m, Accounts: acct, DB: db, Logs: NewLogBuffer(10), Avatars: avatar.NewStore(t.TempDir())}.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, sig: sig, m: m, db: db}
}

func (f *fixture) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string, into any) *http.Response {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if into != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	}
	return resp
}

func TestSelf(t *testing.T) {
	f := newFixture(t)
	var got struct {
		Profile proto.Profile `json:"profile"`
		Pays    bool          `json:"pays"`
		Balance billing.Money `json:"balance"`
	}
	resp := f.get(t, "/api/self", &got)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", got.Profile.ID)
	assert.True(t, got.Pays)
	assert.EqualValues(t, 1000, got.Balance)
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/session/start", `{"type":"video","partner":{"id":"rita"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var s session.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	assert.EqualValues(t, 599, s.Rate, "rate filled from the partner cache")
	assert.Equal(t, session.StateConnecting, s.State)
	assert.Equal(t, 1, f.sig.Count(proto.TypeSessionRequest))

	resp = f.post(t, "/api/session/start", `{"type":"chat","partner":{"id":"rita"}}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.post(t, "/api/chat/send", `{"text":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = f.post(t, "/api/chat/send", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, f.sig.Count(proto.TypeChatMessage))

	var msgs []map[string]any
	f.get(t, "/api/chat/messages", &msgs)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0]["text"])

	resp = f.post(t, "/api/session/end", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, session.StateClosed, f.m.State())
	assert.Equal(t, 1, f.sig.Count(proto.TypeSessionEnd))

	require.Eventually(t, func() bool {
		var recs []storage.SessionRecord
		f.get(t, "/api/history", &recs)
		return len(recs) == 1 && recs[0].EndReason == proto.ReasonHangup
	}, 3*time.Second, 10*time.Millisecond)
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.post(t, "/api/session/start", `{"type":"video"}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.post(t, "/api/session/start", `{"type":"smell","partner":{"id":"rita"}}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.post(t, "/api/session/start", `{nope`).StatusCode)
	assert.Equal(t, http.StatusUnprocessableEntity, f.post(t, "/api/session/start", `{"type":"video","partner":{"id":"stranger"}}`).StatusCode)
	assert.Equal(t, session.StateIdle, f.m.State())

	resp, err := http.Get(f.srv.URL + "/api/session/start")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestIncomingAcceptAndReject(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNoContent, f.get(t, "/api/session/incoming", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, f.post(t, "/api/session/reject", "").StatusCode)

	f.sig.Deliver(&proto.IncomingSession{SessionID: "s-1", SessionType: proto.SessionChat, From: proto.Profile{ID: "bob"}})
	var in session.IncomingRequest
	require.Equal(t, http.StatusOK, f.get(t, "/api/session/incoming", &in).StatusCode)
	assert.Equal(t, "s-1", in.SessionID)

	assert.Equal(t, http.StatusNotFound, f.post(t, "/api/session/reject", `{"sessionId":"s-2"}`).StatusCode)
	assert.Equal(t, http.StatusOK, f.post(t, "/api/session/reject", `{"sessionId":"s-1"}`).StatusCode)
	assert.Equal(t, 1, f.sig.Count(proto.TypeSessionReject))
	assert.Equal(t, session.StateIdle, f.m.State())
}

func TestSessionEventsStream(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/api/session/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Cache-Control"), "no-store")

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: snapshot\n", line)

	f.sig.Deliver(&proto.IncomingSession{SessionID: "s-1", SessionType: proto.SessionChat, From: proto.Profile{ID: "bob"}})
	for {
		line, err = r.ReadString('\n')
		require.NoError(t, err)
		if line == "event: incoming\n" {
			break
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	assert.Contains(t, buf.String(), "augur_")
}

func TestLogBufferParsesGoLogLines(t *testing.T) {
	b := NewLogBuffer(2)
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Add("2026-01-01T12:00:00.000Z\tINFO\tsession\tsession/manager.go:190\tinitializing video session\n")
	b.Add("   ")
	b.Add("2026-01-01T12:00:01.000Z\tWARN\tsignal\tsignal/websocket.go:366\tdropping malformed frame")
	b.Add("plain line\r\n")

	first := <-ch
	assert.Equal(t, "INFO", first.Level)
	assert.Equal(t, "session", first.System)
	assert.Equal(t, "session/manager.go:190", first.Caller)
	assert.Equal(t, "initializing video session", first.Msg)
	assert.Equal(t, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), first.TS.UTC())

	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "signal", snap[0].System)
	assert.Equal(t, "plain line", snap[1].Msg)
	assert.Empty(t, snap[1].System)
}

func TestLogsEndpointFilters(t *testing.T) {
	logs := NewLogBuffer(10)
	logs.Add("2026-01-01T12:00:00.000Z\tINFO\tsession\tm.go:1\tone")
	logs.Add("2026-01-01T12:00:01.000Z\tWARN\tsignal\tw.go:2\ttwo")
	logs.Add("2026-01-01T12:00:02.000Z\tINFO\tsession\tm.go:3\tthree")
	srv := httptest.NewServer(Viewer{Accounts: account.NewMemory(account.Client{ID: "alice"}), Logs: logs}.Handler())
	defer srv.Close()

	get := func(query string) []LogEntry {
		resp, err := http.Get(srv.URL + "/api/logs" + query)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out []LogEntry
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	assert.Len(t, get(""), 3)
	session := get("?system=session")
	require.Len(t, session, 2)
	assert.Equal(t, "three", session[1].Msg)
	warn := get("?level=warn")
	require.Len(t, warn, 1)
	assert.Equal(t, "two", warn[0].Msg)
	last := get("?system=session&limit=1")
	require.Len(t, last, 1)
	assert.Equal(t, "three", last[0].Msg)
}

func TestAvatarRoutes(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/api/self/avatar")
	require.NoError(t, err)
	body := new(bytes.Buffer)
	_, _ = body.ReadFrom(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "image/svg+xml", resp.Header.Get("Content-Type"))
	assert.Contains(t, body.String(), ">AL<")

	put := func(data []byte) *http.Response {
		req, _ := http.NewRequest(http.MethodPut, f.srv.URL+"/api/self/avatar", bytes.NewReader(data))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}
	assert.Equal(t, http.StatusBadRequest, put([]byte("not an image")).StatusCode)
	assert.Equal(t, http.StatusOK, put([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")).StatusCode)

	resp, err = http.Get(f.srv.URL + "/api/self/avatar")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("ETag"))

	req, _ := http.NewRequest(http.MethodDelete, f.srv.URL+"/api/self/avatar", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
