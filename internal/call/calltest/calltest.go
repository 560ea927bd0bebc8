// Package calltest provides scriptable call.Dialer, call.Transport and
// call.Devices doubles. Events fire asynchronously, as pion's do.
package calltest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/petervdpas/augur/internal/call"
	"github.com/petervdpas/augur/internal/proto"
)

// Transport is a fake peer connection whose connectivity is driven by the
// test through Emit* helpers.
type Transport struct {
	Cfg   call.Config
	Media *call.LocalMedia

	ev     call.Events
	events chan func()
	done   chan struct{}

	mu         sync.Mutex
	closed     bool
	chatOpen   bool
	remote     *proto.SDP
	local      *proto.SDP
	candidates []proto.ICECandidate
	chatSent   [][]byte
	closeCalls int

	// Link, when set, receives SendChat payloads as chat messages.
	Link *Transport
}

func newTransport(cfg call.Config, media *call.LocalMedia, ev call.Events) *Transport {
	t := &Transport{
		Cfg:    cfg,
		Media:  media,
		ev:     ev,
		events: make(chan func(), 256),
		done:   make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-t.done:
				return
			case fn := <-t.events:
				fn()
			}
		}
	}()
	return t
}

func (t *Transport) emit(fn func()) {
	select {
	case <-t.done:
	case t.events <- fn:
	}
}

func (t *Transport) CreateOffer() (proto.SDP, error) {
	sdp := proto.SDP{Type: "offer", SDP: fmt.Sprintf("v=0 fake-offer %s", t.Cfg.SessionID)}
	t.mu.Lock()
	t.local = &sdp
	t.mu.Unlock()
	return sdp, nil
}

func (t *Transport) AcceptOffer(offer proto.SDP) (proto.SDP, error) {
	sdp := proto.SDP{Type: "answer", SDP: fmt.Sprintf("v=0 fake-answer %s", t.Cfg.SessionID)}
	t.mu.Lock()
	t.remote = &offer
	t.local = &sdp
	t.mu.Unlock()
	return sdp, nil
}

func (t *Transport) AcceptAnswer(answer proto.SDP) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.local == nil {
		return errors.New("calltest: answer without local offer")
	}
	t.remote = &answer
	return nil
}

func (t *Transport) AddRemoteCandidate(c proto.ICECandidate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return call.ErrClosed
	}
	t.candidates = append(t.candidates, c)
	return nil
}

func (t *Transport) ChatOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chatOpen && !t.closed
}

func (t *Transport) SendChat(data []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return call.ErrClosed
	}
	if !t.chatOpen {
		t.mu.Unlock()
		return call.ErrChatNotOpen
	}
	t.chatSent = append(t.chatSent, append([]byte(nil), data...))
	link := t.Link
	t.mu.Unlock()

	if link != nil {
		link.EmitChatMessage(data)
	}
	return nil
}

func (t *Transport) Stats() call.Stats { return call.Stats{} }

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closeCalls++
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	close(t.done)
	return nil
}

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// RemoteDescription returns the applied remote SDP, if any.
func (t *Transport) RemoteDescription() *proto.SDP {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote
}

// RemoteCandidates returns candidates applied so far.
func (t *Transport) RemoteCandidates() []proto.ICECandidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]proto.ICECandidate(nil), t.candidates...)
}

// ChatSent returns payloads written to the data channel.
func (t *Transport) ChatSent() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.chatSent...)
}

func (t *Transport) EmitState(s call.ConnState) {
	t.emit(func() {
		if t.ev.OnState != nil {
			t.ev.OnState(s)
		}
	})
}

func (t *Transport) EmitCandidate(c proto.ICECandidate) {
	t.emit(func() {
		if t.ev.OnLocalCandidate != nil {
			t.ev.OnLocalCandidate(c)
		}
	})
}

// EmitChatOpen marks the data channel open and raises OnChatOpen.
func (t *Transport) EmitChatOpen() {
	t.mu.Lock()
	t.chatOpen = true
	t.mu.Unlock()
	t.emit(func() {
		if t.ev.OnChatOpen != nil {
			t.ev.OnChatOpen()
		}
	})
}

func (t *Transport) EmitChatMessage(data []byte) {
	cp := append([]byte(nil), data...)
	t.emit(func() {
		if t.ev.OnChatMessage != nil {
			t.ev.OnChatMessage(cp)
		}
	})
}

// Dialer records every transport it builds.
type Dialer struct {
	mu         sync.Mutex
	transports []*Transport
	// Err, when set, fails the next Dial.
	Err error
	// OnDial runs after each successful Dial.
	OnDial func(*Transport)
}

func (d *Dialer) Dial(cfg call.Config, media *call.LocalMedia, ev call.Events) (call.Transport, error) {
	d.mu.Lock()
	if d.Err != nil {
		err := d.Err
		d.Err = nil
		d.mu.Unlock()
		return nil, err
	}
	t := newTransport(cfg, media, ev)
	d.transports = append(d.transports, t)
	hook := d.OnDial
	d.mu.Unlock()

	if hook != nil {
		hook(t)
	}
	return t, nil
}

// Last returns the most recently dialed transport, or nil.
func (d *Dialer) Last() *Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// Count returns how many transports were dialed.
func (d *Dialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

// Devices hands out fake media and counts releases.
type Devices struct {
	mu       sync.Mutex
	acquired int
	released int
	// Fail lists session types whose acquisition fails.
	Fail map[proto.SessionType]bool
}

func (d *Devices) Acquire(t proto.SessionType) (*call.LocalMedia, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fail[t] {
		return nil, call.ErrNoDevices
	}
	d.acquired++
	return call.NewLocalMedia(nil, func() {
		d.mu.Lock()
		d.released++
		d.mu.Unlock()
	}), nil
}

// Outstanding returns acquired media not yet released.
func (d *Devices) Outstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquired - d.released
}

// Acquired returns the total number of acquisitions.
func (d *Devices) Acquired() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquired
}
