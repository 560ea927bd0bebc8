package call

import (
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/augur/internal/proto"
)

var log = logging.Logger("call")

// DialerOptions configures PionDialer.
type DialerOptions struct {
	ICEServers []webrtc.ICEServer
	// Codecs registers capture codecs; nil registers pion's defaults.
	Codecs CodecRegistrar

	// ICE liveness. Zero values keep pion's defaults.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
}

// PionDialer builds pion PeerConnections.
type PionDialer struct {
	opts DialerOptions
}

func NewPionDialer(opts DialerOptions) *PionDialer {
	return &PionDialer{opts: opts}
}

func (d *PionDialer) api() (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}
	if d.opts.Codecs != nil {
		if err := d.opts.Codecs.RegisterCodecs(me); err != nil {
			return nil, err
		}
	} else if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	if d.opts.DisconnectedTimeout > 0 || d.opts.FailedTimeout > 0 {
		se.SetICETimeouts(d.opts.DisconnectedTimeout, d.opts.FailedTimeout, d.opts.KeepAliveInterval)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}

// Dial creates a peer connection for cfg, attaches media and wires events.
// The offerer creates the chat data channel; the answerer adopts the one
// announced in the offer.
func (d *PionDialer) Dial(cfg Config, media *LocalMedia, ev Events) (Transport, error) {
	api, err := d.api()
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: d.opts.ICEServers})
	if err != nil {
		return nil, err
	}

	t := newPionTransport(cfg, pc, ev)

	if cfg.Type != proto.SessionChat {
		var haveAudio, haveVideo bool
		if media != nil {
			for _, track := range media.Tracks {
				sender, err := pc.AddTrack(track)
				if err != nil {
					log.Warnf("[%s] AddTrack(%s): %v", cfg.SessionID, track.Kind(), err)
					continue
				}
				go t.drainSender(sender)
				switch track.Kind() {
				case webrtc.RTPCodecTypeAudio:
					haveAudio = true
				case webrtc.RTPCodecTypeVideo:
					haveVideo = true
				}
			}
		}
		if cfg.Offerer {
			if !haveAudio {
				addRecvOnlyTransceivers(cfg.SessionID, pc, false)
			}
			if cfg.Type.WantsVideo() && !haveVideo {
				if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
					Direction: webrtc.RTPTransceiverDirectionRecvonly,
				}); err != nil {
					log.Warnf("[%s] AddTransceiver(video): %v", cfg.SessionID, err)
				}
			}
		}
	}

	if cfg.Offerer {
		ordered := true
		dc, err := pc.CreateDataChannel(ChatLabel, &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			_ = t.Close()
			return nil, err
		}
		t.bindChat(dc)
	}

	log.Infof("[%s] peer connection ready (type=%s offerer=%v media=%v)",
		cfg.SessionID, cfg.Type, cfg.Offerer, media.Kinds())
	return t, nil
}
