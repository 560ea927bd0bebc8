//go:build linux

package call

import (
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/augur/internal/proto"
)

// Capture acquires camera and microphone through pion/mediadevices
// (V4L2 and malgo) and encodes VP8 and Opus.
type Capture struct {
	selector *mediadevices.CodecSelector
	// MaxWidth and MaxHeight cap the camera resolution.
	MaxWidth  int
	MaxHeight int
}

// NewCapture builds a capture source with the given VP8 bitrate in bits/s.
func NewCapture(videoBitRate int) (*Capture, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	if videoBitRate > 0 {
		vpxParams.BitRate = videoBitRate
	}

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &Capture{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		MaxWidth:  640,
		MaxHeight: 480,
	}, nil
}

func (c *Capture) RegisterCodecs(me *webrtc.MediaEngine) error {
	c.selector.Populate(me)
	return nil
}

// Acquire opens the devices a session type needs. Video sessions try
// video+audio then video-only; audio sessions need a microphone. Chat
// sessions capture nothing.
func (c *Capture) Acquire(t proto.SessionType) (*LocalMedia, error) {
	type attempt struct {
		video bool
		audio bool
		label string
	}
	var attempts []attempt
	switch t {
	case proto.SessionChat:
		return NewLocalMedia(nil, nil), nil
	case proto.SessionAudio:
		attempts = []attempt{{false, true, "audio"}}
	case proto.SessionVideo:
		attempts = []attempt{{true, true, "video+audio"}, {true, false, "video-only"}}
	default:
		return nil, fmt.Errorf("call: unknown session type %q", t)
	}

	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		log.Warnf("no media devices found")
	}
	for _, d := range devices {
		log.Debugf("media device kind=%v label=%q", d.Kind, d.Label)
	}

	var lastErr error
	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{Codec: c.selector}
		if a.video {
			constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
				// MJPEG nodes on some cameras emit frames the VP8 encoder rejects.
				mc.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				mc.Width = prop.IntRanged{Max: c.MaxWidth}
				mc.Height = prop.IntRanged{Max: c.MaxHeight}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Warnf("GetUserMedia (%s) failed: %v", a.label, err)
			lastErr = err
			continue
		}

		tracks := stream.GetTracks()
		local := make([]webrtc.TrackLocal, 0, len(tracks))
		for _, track := range tracks {
			track.OnEnded(func(err error) {
				if err != nil {
					log.Warnf("local %s track ended: %v", track.Kind(), err)
				}
			})
			local = append(local, track)
		}
		log.Infof("local media captured (%s), %d tracks", a.label, len(tracks))
		return NewLocalMedia(local, func() {
			for _, t := range tracks {
				_ = t.Close()
			}
		}), nil
	}

	if lastErr == nil {
		lastErr = ErrNoDevices
	}
	return nil, fmt.Errorf("%w: %v", ErrNoDevices, lastErr)
}
