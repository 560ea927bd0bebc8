//go:build !linux

package call

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/augur/internal/proto"
)

// Capture has no device drivers on this platform. Chat sessions work;
// audio and video sessions fail acquisition.
type Capture struct{}

func NewCapture(int) (*Capture, error) { return &Capture{}, nil }

func (c *Capture) RegisterCodecs(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

func (c *Capture) Acquire(t proto.SessionType) (*LocalMedia, error) {
	if t == proto.SessionChat {
		return NewLocalMedia(nil, nil), nil
	}
	return nil, fmt.Errorf("%w: no capture drivers on this platform", ErrNoDevices)
}
