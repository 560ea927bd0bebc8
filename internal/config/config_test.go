package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/augur/internal/proto"
)

func validConfig() Config {
	c := Default()
	c.Identity.ID = "alice"
	return c
}

func TestDefaultNeedsOnlyIdentity(t *testing.T) {
	c := Default()
	require.Error(t, c.Validate())

	c = validConfig()
	require.NoError(t, c.Validate())
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown role", func(c *Config) { c.Profile.Role = "oracle" }},
		{"negative balance", func(c *Config) { c.Profile.Balance = -1 }},
		{"negative rate", func(c *Config) {
			c.Profile.Role = proto.RoleReader
			c.Profile.Rates.Video = -5
		}},
		{"http signaling url", func(c *Config) { c.Signaling.URL = "http://relay/ws" }},
		{"zero queue", func(c *Config) { c.Signaling.QueueSize = 0 }},
		{"backoff inverted", func(c *Config) { c.Signaling.MaxBackoffMs = 100 }},
		{"bad ice server", func(c *Config) { c.Media.ICEServers = []string{"http://stun"} }},
		{"zero reconnect", func(c *Config) { c.Session.ReconnectTimeoutSec = 0 }},
		{"tick above interval", func(c *Config) { c.Billing.TickSec = 120 }},
		{"relay bind", func(c *Config) { c.Relay.Bind = "localhost" }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"subsystem level", func(c *Config) { c.Log.Subsystems = map[string]string{"call": "chatty"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestEnsureCreatesThenLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "augur.json")

	cfg, created, err := Ensure(path, func() string { return "fresh-id" })
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "fresh-id", cfg.Identity.ID)

	cfg, created, err = Ensure(path, func() string { t.Fatal("id generated twice"); return "" })
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "fresh-id", cfg.Identity.ID)
}

func TestLoadKeepsDefaultsAndStripsBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "augur.json")
	body := "\xEF\xBB\xBF" + `{"identity":{"id":"rita"},"profile":{"role":"reader","rates":{"chat":1.00,"audio":2.00,"video":3.00}}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, proto.RoleReader, cfg.Profile.Role)
	assert.EqualValues(t, 300, cfg.Profile.Rates.Video)
	assert.Equal(t, 30*time.Second, cfg.Session.ConnectTimeout())
	assert.Equal(t, 256, cfg.Signaling.QueueSize)
}

func TestWatchReloadsValidEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "augur.json")
	cfg := validConfig()
	require.NoError(t, Save(path, cfg))

	got := make(chan Config, 8)
	w, err := Watch(path, func(c Config) { got <- c })
	require.NoError(t, err)
	defer w.Close()

	// Invalid edits are skipped.
	require.NoError(t, os.WriteFile(path, []byte(`{"identity":{"id":""}}`), 0o644))

	cfg.Profile.Rates.Chat = 250
	require.NoError(t, Save(path, cfg))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-got:
			if c.Profile.Rates.Chat == 250 {
				return
			}
		case <-deadline:
			t.Fatal("reload not observed")
		}
	}
}

func TestWatcherCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "augur.json")
	require.NoError(t, Save(path, validConfig()))
	w, err := Watch(path, func(Config) {})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
