package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/petervdpas/augur/internal/billing"
	"github.com/petervdpas/augur/internal/proto"
	"github.com/petervdpas/augur/internal/util"
)

type Config struct {
	Identity  Identity  `json:"identity"`
	Paths     Paths     `json:"paths"`
	Profile   Profile   `json:"profile"`
	Signaling Signaling `json:"signaling"`
	Media     Media     `json:"media"`
	Session   Session   `json:"session"`
	Billing   Billing   `json:"billing"`
	Viewer    Viewer    `json:"viewer"`
	Relay     Relay     `json:"relay"`
	Log       Log       `json:"log"`
}

type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Paths struct {
	DataDir string `json:"data_dir"`
}

// Profile describes who this client is. Balance seeds a client account on
// first start; Rates are what a reader charges per minute, in cents.
type Profile struct {
	Role    proto.Role    `json:"role"`
	Image   string        `json:"image"`
	Balance billing.Money `json:"balance"`
	Rates   proto.Rates   `json:"rates"`
}

type Signaling struct {
	URL          string `json:"url"`
	QueueSize    int    `json:"queue_size"`
	MinBackoffMs int    `json:"min_backoff_ms"`
	MaxBackoffMs int    `json:"max_backoff_ms"`
}

type Media struct {
	ICEServers []string `json:"ice_servers"`
	// Capture bitrate for local video, bits per second.
	VideoBitrate           int `json:"video_bitrate"`
	DisconnectedTimeoutSec int `json:"disconnected_timeout_sec"`
	FailedTimeoutSec       int `json:"failed_timeout_sec"`
	KeepAliveIntervalSec   int `json:"keepalive_interval_sec"`
}

type Session struct {
	ConnectTimeoutSec   int  `json:"connect_timeout_sec"`
	ReconnectTimeoutSec int  `json:"reconnect_timeout_sec"`
	CloseGraceSec       int  `json:"close_grace_sec"`
	IncomingExpirySec   int  `json:"incoming_expiry_sec"`
	EnforceExpiry       bool `json:"enforce_expiry"`
	ChatBuffer          int  `json:"chat_buffer"`
}

type Billing struct {
	IntervalSec int `json:"interval_sec"`
	TickSec     int `json:"tick_sec"`
}

type Viewer struct {
	HTTPAddr string `json:"http_addr"`
	Debug    bool   `json:"debug"`
}

// Relay configures the development signaling server run by "augur relay".
type Relay struct {
	Bind            string `json:"bind"`
	Port            int    `json:"port"`
	WriteTimeoutSec int    `json:"write_timeout_sec"`
}

type Log struct {
	Level string `json:"level"`
	// Subsystems overrides Level per logger name, e.g. {"call": "debug"}.
	Subsystems map[string]string `json:"subsystems,omitempty"`
}

func Default() Config {
	return Config{
		Identity: Identity{
			Name: "anonymous",
		},
		Paths: Paths{
			DataDir: "data",
		},
		Profile: Profile{
			Role:    proto.RoleClient,
			Balance: 1000,
			Rates:   proto.Rates{Chat: 199, Audio: 399, Video: 599},
		},
		Signaling: Signaling{
			URL:          "ws://127.0.0.1:8788/ws",
			QueueSize:    256,
			MinBackoffMs: 500,
			MaxBackoffMs: 15000,
		},
		Media: Media{
			ICEServers:             []string{"stun:stun.l.google.com:19302"},
			VideoBitrate:           500_000,
			DisconnectedTimeoutSec: 5,
			FailedTimeoutSec:       25,
			KeepAliveIntervalSec:   2,
		},
		Session: Session{
			ConnectTimeoutSec:   30,
			ReconnectTimeoutSec: 10,
			CloseGraceSec:       2,
			IncomingExpirySec:   25,
			EnforceExpiry:       true,
			ChatBuffer:          500,
		},
		Billing: Billing{
			IntervalSec: 60,
			TickSec:     1,
		},
		Viewer: Viewer{
			HTTPAddr: "127.0.0.1:8790",
		},
		Relay: Relay{
			Bind:            "127.0.0.1",
			Port:            8788,
			WriteTimeoutSec: 10,
		},
		Log: Log{
			Level: "info",
		},
	}
}

func (c *Config) Validate() error {
	// Identity
	if strings.TrimSpace(c.Identity.ID) == "" {
		return errors.New("identity.id is required")
	}

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir is required")
	}

	// Profile
	switch c.Profile.Role {
	case proto.RoleClient:
		if c.Profile.Balance < 0 {
			return errors.New("profile.balance must be >= 0")
		}
	case proto.RoleReader:
		r := c.Profile.Rates
		if r.Chat < 0 || r.Audio < 0 || r.Video < 0 {
			return errors.New("profile.rates must be >= 0")
		}
	default:
		return fmt.Errorf("profile.role must be %q or %q", proto.RoleClient, proto.RoleReader)
	}

	// Signaling
	if err := validateWS(c.Signaling.URL); err != nil {
		return fmt.Errorf("signaling.url: %w", err)
	}
	if c.Signaling.QueueSize <= 0 {
		return errors.New("signaling.queue_size must be > 0")
	}
	if c.Signaling.MinBackoffMs <= 0 || c.Signaling.MaxBackoffMs < c.Signaling.MinBackoffMs {
		return errors.New("signaling backoff must satisfy 0 < min_backoff_ms <= max_backoff_ms")
	}

	// Media
	for _, s := range c.Media.ICEServers {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "turn:") && !strings.HasPrefix(s, "turns:") {
			return fmt.Errorf("media.ice_servers: %q is not a stun/turn url", s)
		}
	}
	if c.Media.VideoBitrate < 0 {
		return errors.New("media.video_bitrate must be >= 0")
	}

	// Session
	if c.Session.ConnectTimeoutSec <= 0 {
		return errors.New("session.connect_timeout_sec must be > 0")
	}
	if c.Session.ReconnectTimeoutSec <= 0 {
		return errors.New("session.reconnect_timeout_sec must be > 0")
	}
	if c.Session.CloseGraceSec < 0 {
		return errors.New("session.close_grace_sec must be >= 0")
	}
	if c.Session.IncomingExpirySec <= 0 {
		return errors.New("session.incoming_expiry_sec must be > 0")
	}

	// Billing
	if c.Billing.IntervalSec <= 0 {
		return errors.New("billing.interval_sec must be > 0")
	}
	if c.Billing.TickSec <= 0 || c.Billing.TickSec > c.Billing.IntervalSec {
		return errors.New("billing.tick_sec must be 1..interval_sec")
	}

	// Relay
	if c.Relay.Port < 0 || c.Relay.Port > 65535 {
		return errors.New("relay.port must be 0..65535")
	}
	if b := c.Relay.Bind; b != "" && net.ParseIP(b) == nil {
		return errors.New("relay.bind must be a valid IP address")
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	for name, lvl := range c.Log.Subsystems {
		if _, err := ParseLevel(lvl); err != nil {
			return fmt.Errorf("log.subsystems.%s: %w", name, err)
		}
	}

	return nil
}

func validateWS(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("scheme must be ws or wss")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// ParseLevel accepts the go-log level names.
func ParseLevel(s string) (string, error) {
	switch l := strings.ToLower(strings.TrimSpace(s)); l {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
		return l, nil
	case "":
		return "info", nil
	default:
		return "", fmt.Errorf("unknown level %q", s)
	}
}

// Duration helpers.

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

func (s Signaling) MinBackoff() time.Duration { return time.Duration(s.MinBackoffMs) * time.Millisecond }
func (s Signaling) MaxBackoff() time.Duration { return time.Duration(s.MaxBackoffMs) * time.Millisecond }

func (m Media) DisconnectedTimeout() time.Duration { return secs(m.DisconnectedTimeoutSec) }
func (m Media) FailedTimeout() time.Duration       { return secs(m.FailedTimeoutSec) }
func (m Media) KeepAliveInterval() time.Duration   { return secs(m.KeepAliveIntervalSec) }

func (s Session) ConnectTimeout() time.Duration   { return secs(s.ConnectTimeoutSec) }
func (s Session) ReconnectTimeout() time.Duration { return secs(s.ReconnectTimeoutSec) }
func (s Session) CloseGrace() time.Duration       { return secs(s.CloseGraceSec) }
func (s Session) IncomingExpiry() time.Duration   { return secs(s.IncomingExpirySec) }

func (b Billing) Interval() time.Duration { return secs(b.IntervalSec) }
func (b Billing) Tick() time.Duration     { return secs(b.TickSec) }

func (r Relay) Addr() string { return fmt.Sprintf("%s:%d", r.Bind, r.Port) }
func (r Relay) WriteTimeout() time.Duration { return secs(r.WriteTimeoutSec) }

func Load(path string) (Config, error) {
	cfg, err := LoadPartial(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadPartial reads a config file without validation.
func LoadPartial(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(util.StripBOM(b), &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file
// with identity.id filled from newID. Returns (cfg, createdNew, err).
func Ensure(path string, newID func() string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	cfg.Identity.ID = newID()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
