package call

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// LocalMedia is a set of captured local tracks plus the function that
// stops capture. Release is idempotent.
type LocalMedia struct {
	Tracks []webrtc.TrackLocal

	once    sync.Once
	release func()
}

// NewLocalMedia wraps tracks with a release hook.
func NewLocalMedia(tracks []webrtc.TrackLocal, release func()) *LocalMedia {
	return &LocalMedia{Tracks: tracks, release: release}
}

func (m *LocalMedia) Release() {
	if m == nil {
		return
	}
	m.once.Do(func() {
		if m.release != nil {
			m.release()
		}
	})
}

// Kinds returns the track kinds held, e.g. ["video", "audio"].
func (m *LocalMedia) Kinds() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.Tracks))
	for _, t := range m.Tracks {
		out = append(out, t.Kind().String())
	}
	return out
}

// CodecRegistrar populates a MediaEngine with the codecs local capture
// produces. Capture devices implement it so negotiation offers what they
// can actually encode.
type CodecRegistrar interface {
	RegisterCodecs(me *webrtc.MediaEngine) error
}

// addRecvOnlyTransceivers makes sure an SDP carries m-lines for the media a
// session expects even when nothing local is sent.
func addRecvOnlyTransceivers(sessionID string, pc *webrtc.PeerConnection, video bool) {
	kinds := []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio}
	if video {
		kinds = append(kinds, webrtc.RTPCodecTypeVideo)
	}
	for _, k := range kinds {
		if _, err := pc.AddTransceiverFromKind(k, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			log.Warnf("[%s] AddTransceiver(%s): %v", sessionID, k, err)
		}
	}
}
