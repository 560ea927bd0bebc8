package app

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/augur/internal/account"
	"github.com/petervdpas/augur/internal/config"
	"github.com/petervdpas/augur/internal/proto"
)

func TestNormalizeLocalViewer(t *testing.T) {
	cases := map[string]string{
		":8790":        "127.0.0.1:8790",
		"0.0.0.0:8790": "127.0.0.1:8790",
		"127.0.0.1:1":  "127.0.0.1:1",
		" [::1]:8790 ": "[::1]:8790",
	}
	for in, want := range cases {
		addr, url := NormalizeLocalViewer(in)
		assert.Equal(t, want, addr, in)
		assert.Equal(t, "http://"+want, url, in)
	}
}

func TestProfileFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Identity = config.Identity{ID: "alice", Name: "Alice"}
	cfg.Profile.Balance = 1234

	c, ok := ProfileFromConfig(cfg).(account.Client)
	require.True(t, ok)
	assert.EqualValues(t, 1234, c.Balance)

	cfg.Profile.Role = proto.RoleReader
	r, ok := ProfileFromConfig(cfg).(account.Reader)
	require.True(t, ok)
	assert.Equal(t, cfg.Profile.Rates, r.Rates)
}

func TestTimingFromConfig(t *testing.T) {
	tm := TimingFromConfig(config.Default())
	assert.Equal(t, 10*time.Second, tm.ReconnectTimeout)
	assert.Equal(t, 2*time.Second, tm.CloseGrace)
	assert.Equal(t, time.Minute, tm.BillingInterval)
	assert.True(t, tm.EnforceIncomingExpiry)
}

func TestApplyLogLevels(t *testing.T) {
	require.NoError(t, ApplyLogLevels(config.Log{Level: "warn", Subsystems: map[string]string{"session": "debug"}}))
	require.Error(t, ApplyLogLevels(config.Log{Level: "verbose"}))
	require.NoError(t, ApplyLogLevels(config.Log{Level: "info"}))
}

func TestPromptInteractiveReader(t *testing.T) {
	cfg := config.Default()
	cfg.Identity.ID = "rita"

	in := strings.NewReader("Rita\ny\n2.50\n\n7\n\n\n")
	var out bytes.Buffer
	got := PromptInteractive(in, &out, "/tmp/rita", "/tmp/rita/augur.json", cfg)

	assert.Equal(t, "Rita", got.Identity.Name)
	assert.Equal(t, proto.RoleReader, got.Profile.Role)
	assert.EqualValues(t, 250, got.Profile.Rates.Chat)
	assert.Equal(t, cfg.Profile.Rates.Audio, got.Profile.Rates.Audio)
	assert.EqualValues(t, 700, got.Profile.Rates.Video)
	assert.Equal(t, cfg.Signaling.URL, got.Signaling.URL)
	assert.Contains(t, out.String(), "Augur interactive setup")
}

func TestPromptInteractiveKeepsConfigOnInvalidAnswers(t *testing.T) {
	cfg := config.Default()
	cfg.Identity.ID = "alice"

	in := strings.NewReader("\nn\n\nhttp://not-a-websocket\n\n")
	var out bytes.Buffer
	got := PromptInteractive(in, &out, "/tmp/a", "/tmp/a/augur.json", cfg)
	assert.Equal(t, cfg.Signaling.URL, got.Signaling.URL)
	assert.Contains(t, out.String(), "Invalid config")
}
