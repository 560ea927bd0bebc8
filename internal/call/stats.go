package call

import (
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/petervdpas/augur/internal/metrics"
)

// TrackStats summarizes one remote track.
type TrackStats struct {
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
	// Lost counts sequence gaps observed; reordering can inflate it.
	Lost uint64 `json:"lost"`
}

// Stats is a snapshot of remote media reception.
type Stats struct {
	Audio TrackStats `json:"audio"`
	Video TrackStats `json:"video"`
	RTCP  uint64     `json:"rtcp"`
}

type statsTracker struct {
	mu      sync.Mutex
	s       Stats
	lastSeq map[string]uint16
	seen    map[string]bool
}

func newStatsTracker() *statsTracker {
	return &statsTracker{lastSeq: make(map[string]uint16), seen: make(map[string]bool)}
}

func (t *statsTracker) observe(kind string, pkt *rtp.Packet) {
	metrics.MediaPackets.WithLabelValues(kind).Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	ts := &t.s.Audio
	if kind == "video" {
		ts = &t.s.Video
	}
	ts.Packets++
	ts.Bytes += uint64(len(pkt.Payload))

	seq := pkt.SequenceNumber
	if t.seen[kind] {
		if gap := seq - t.lastSeq[kind]; gap > 1 && gap < 1<<15 {
			ts.Lost += uint64(gap - 1)
		}
	}
	t.seen[kind] = true
	t.lastSeq[kind] = seq
}

func (t *statsTracker) observeRTCP(pkts []rtcp.Packet) {
	for _, p := range pkts {
		metrics.MediaRTCP.WithLabelValues(rtcpKind(p)).Inc()
	}
	t.mu.Lock()
	t.s.RTCP += uint64(len(pkts))
	t.mu.Unlock()
}

func (t *statsTracker) snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.s
}

func rtcpKind(p rtcp.Packet) string {
	switch p.(type) {
	case *rtcp.SenderReport:
		return "sr"
	case *rtcp.ReceiverReport:
		return "rr"
	case *rtcp.PictureLossIndication:
		return "pli"
	case *rtcp.FullIntraRequest:
		return "fir"
	case *rtcp.TransportLayerNack:
		return "nack"
	case *rtcp.ReceiverEstimatedMaximumBitrate:
		return "remb"
	case *rtcp.Goodbye:
		return "bye"
	}
	return "other"
}
