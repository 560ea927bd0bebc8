package viewer

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/augur/internal/util"
)

// zap's ISO8601 encoder, as used by go-log's plaintext output.
const logTimeLayout = "2006-01-02T15:04:05.000Z0700"

// LogEntry is one captured go-log line.
type LogEntry struct {
	TS     time.Time `json:"ts"`
	Level  string    `json:"level,omitempty"`
	System string    `json:"system,omitempty"`
	Caller string    `json:"caller,omitempty"`
	Msg    string    `json:"msg"`
}

// match reports whether e passes the ?system= and ?level= filters.
func (e LogEntry) match(system, level string) bool {
	if system != "" && e.System != system {
		return false
	}
	return level == "" || strings.EqualFold(e.Level, level)
}

// parseLogLine splits "ts\tLEVEL\tsystem\tcaller\tmsg". Lines in any other
// shape are kept whole as the message.
func parseLogLine(line string, now time.Time) LogEntry {
	parts := strings.SplitN(line, "\t", 5)
	if len(parts) < 4 {
		return LogEntry{TS: now, Msg: line}
	}
	e := LogEntry{TS: now, Level: parts[1], System: parts[2]}
	if len(parts) == 5 {
		e.Caller, e.Msg = parts[3], parts[4]
	} else {
		e.Msg = parts[3]
	}
	if ts, err := time.Parse(logTimeLayout, parts[0]); err == nil {
		e.TS = ts
	}
	return e
}

// LogBuffer keeps the most recent log lines of every subsystem and fans
// new ones out to stream subscribers.
type LogBuffer struct {
	mu      sync.Mutex
	entries *util.RingBuffer[LogEntry]
	subs    map[chan LogEntry]struct{}
}

func NewLogBuffer(max int) *LogBuffer {
	if max <= 0 {
		max = 500
	}
	return &LogBuffer{
		entries: util.NewRingBuffer[LogEntry](max),
		subs:    make(map[chan LogEntry]struct{}),
	}
}

// Add records one line.
func (b *LogBuffer) Add(line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}
	e := parseLogLine(line, time.Now())

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries.Push(e)
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Capture tees every go-log subsystem into b until the returned func is
// called.
func (b *LogBuffer) Capture() func() {
	pr := logging.NewPipeReader(logging.PipeFormat(logging.PlaintextOutput))
	done := make(chan struct{})
	go func() {
		defer close(done)
		sc := bufio.NewScanner(pr)
		sc.Buffer(make([]byte, 0, 4096), 1<<20)
		for sc.Scan() {
			b.Add(sc.Text())
		}
	}()
	return func() {
		_ = pr.Close()
		<-done
	}
}

// Snapshot returns buffered entries, oldest first.
func (b *LogBuffer) Snapshot() []LogEntry {
	return b.entries.Snapshot()
}

func (b *LogBuffer) Subscribe() (<-chan LogEntry, func()) {
	ch := make(chan LogEntry, 64)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
}

// GET /api/logs?system=&level=&limit=
func (b *LogBuffer) ServeLogsJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	out := []LogEntry{}
	for _, e := range b.Snapshot() {
		if e.match(q.Get("system"), q.Get("level")) {
			out = append(out, e)
		}
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 && n < len(out) {
		out = out[len(out)-n:]
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(out)
}

// GET /api/logs/stream?system=&level=  tail only
func (b *LogBuffer) ServeLogsSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	system, level := r.URL.Query().Get("system"), r.URL.Query().Get("level")

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store, no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := b.Subscribe()
	defer cancel()
	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if !e.match(system, level) {
				continue
			}
			data, _ := json.Marshal(e)
			_, _ = w.Write([]byte("event: log\ndata: " + string(data) + "\n\n"))
			flusher.Flush()
		}
	}
}
