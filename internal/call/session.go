package call

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/augur/internal/proto"
)

const pliInterval = 3 * time.Second

// pionTransport is a Transport over one webrtc.PeerConnection.
type pionTransport struct {
	cfg   Config
	pc    *webrtc.PeerConnection
	ev    Events
	stats *statsTracker

	mu        sync.Mutex
	dc        *webrtc.DataChannel
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	closed    bool

	events chan func()
	done   chan struct{}
}

func newPionTransport(cfg Config, pc *webrtc.PeerConnection, ev Events) *pionTransport {
	t := &pionTransport{
		cfg:    cfg,
		pc:     pc,
		ev:     ev,
		stats:  newStatsTracker(),
		events: make(chan func(), 256),
		done:   make(chan struct{}),
	}
	go t.eventLoop()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		t.emit(func() {
			if t.ev.OnLocalCandidate != nil {
				t.ev.OnLocalCandidate(proto.ICECandidate{
					Candidate:        init.Candidate,
					SDPMid:           init.SDPMid,
					SDPMLineIndex:    init.SDPMLineIndex,
					UsernameFragment: init.UsernameFragment,
				})
			}
		})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Infof("[%s] connection state %s", cfg.SessionID, s)
		state := mapState(s)
		t.emit(func() {
			if t.ev.OnState != nil {
				t.ev.OnState(state)
			}
		})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, recv *webrtc.RTPReceiver) {
		kind := track.Kind().String()
		log.Infof("[%s] remote %s track %s", cfg.SessionID, kind, track.Codec().MimeType)
		t.emit(func() {
			if t.ev.OnTrack != nil {
				t.ev.OnTrack(kind)
			}
		})
		go t.readTrack(track)
		go t.readReceiver(recv)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go t.requestKeyframes(uint32(track.SSRC()))
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChatLabel {
			log.Warnf("[%s] ignoring data channel %q", cfg.SessionID, dc.Label())
			return
		}
		t.bindChat(dc)
	})

	return t
}

func mapState(s webrtc.PeerConnectionState) ConnState {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		return ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ConnFailed
	case webrtc.PeerConnectionStateClosed:
		return ConnClosed
	}
	return ConnConnecting
}

func (t *pionTransport) emit(fn func()) {
	select {
	case <-t.done:
	case t.events <- fn:
	}
}

func (t *pionTransport) eventLoop() {
	for {
		select {
		case <-t.done:
			return
		case fn := <-t.events:
			fn()
		}
	}
}

func (t *pionTransport) bindChat(dc *webrtc.DataChannel) {
	t.mu.Lock()
	t.dc = dc
	t.mu.Unlock()

	dc.OnOpen(func() {
		log.Infof("[%s] chat channel open", t.cfg.SessionID)
		t.emit(func() {
			if t.ev.OnChatOpen != nil {
				t.ev.OnChatOpen()
			}
		})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		data := append([]byte(nil), msg.Data...)
		t.emit(func() {
			if t.ev.OnChatMessage != nil {
				t.ev.OnChatMessage(data)
			}
		})
	})
}

func (t *pionTransport) CreateOffer() (proto.SDP, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return proto.SDP{}, err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return proto.SDP{}, err
	}
	return proto.SDP{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (t *pionTransport) AcceptOffer(offer proto.SDP) (proto.SDP, error) {
	if err := t.setRemote(webrtc.SDPTypeOffer, offer.SDP); err != nil {
		return proto.SDP{}, err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return proto.SDP{}, err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return proto.SDP{}, err
	}
	return proto.SDP{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (t *pionTransport) AcceptAnswer(answer proto.SDP) error {
	return t.setRemote(webrtc.SDPTypeAnswer, answer.SDP)
}

func (t *pionTransport) setRemote(typ webrtc.SDPType, sdp string) error {
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: sdp}); err != nil {
		return err
	}

	t.mu.Lock()
	t.remoteSet = true
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	for _, c := range pending {
		if err := t.pc.AddICECandidate(c); err != nil {
			log.Warnf("[%s] buffered candidate rejected: %v", t.cfg.SessionID, err)
		}
	}
	if len(pending) > 0 {
		log.Debugf("[%s] applied %d buffered candidates", t.cfg.SessionID, len(pending))
	}
	return nil
}

func (t *pionTransport) AddRemoteCandidate(c proto.ICECandidate) error {
	init := webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if !t.remoteSet {
		t.pending = append(t.pending, init)
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()
	return t.pc.AddICECandidate(init)
}

func (t *pionTransport) ChatOpen() bool {
	t.mu.Lock()
	dc := t.dc
	t.mu.Unlock()
	return dc != nil && dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (t *pionTransport) SendChat(data []byte) error {
	t.mu.Lock()
	dc := t.dc
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChatNotOpen
	}
	return dc.SendText(string(data))
}

func (t *pionTransport) Stats() Stats { return t.stats.snapshot() }

func (t *pionTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	close(t.done)
	err := t.pc.Close()
	log.Infof("[%s] peer connection closed", t.cfg.SessionID)
	return err
}

func (t *pionTransport) readTrack(track *webrtc.TrackRemote) {
	kind := track.Kind().String()
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		t.stats.observe(kind, pkt)
	}
}

func (t *pionTransport) readReceiver(recv *webrtc.RTPReceiver) {
	for {
		pkts, _, err := recv.ReadRTCP()
		if err != nil {
			return
		}
		t.stats.observeRTCP(pkts)
	}
}

// drainSender consumes RTCP for a local track so interceptors (NACK,
// reports) keep running.
func (t *pionTransport) drainSender(sender *webrtc.RTPSender) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		t.stats.observeRTCP(pkts)
	}
}

func (t *pionTransport) requestKeyframes(ssrc uint32) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if err := t.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}); err != nil {
				return
			}
		}
	}
}
