package app

import (
	"fmt"
	"net"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/augur/internal/account"
	"github.com/petervdpas/augur/internal/config"
	"github.com/petervdpas/augur/internal/proto"
	"github.com/petervdpas/augur/internal/session"
)

var log = logging.Logger("app")

// NormalizeLocalViewer ensures the viewer only binds to localhost and
// returns the listen addr and browser URL.
func NormalizeLocalViewer(cfgAddr string) (listenAddr string, url string) {
	a := strings.TrimSpace(cfgAddr)

	if strings.HasPrefix(a, ":") {
		a = "127.0.0.1" + a
	}
	if strings.HasPrefix(a, "0.0.0.0:") {
		a = "127.0.0.1:" + strings.TrimPrefix(a, "0.0.0.0:")
	}
	return a, "http://" + a
}

func WaitTCP(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		c, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			_ = c.Close()
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for %s", addr)
}

// ApplyLogLevels sets the global level and then per-subsystem overrides.
func ApplyLogLevels(c config.Log) error {
	lvl, err := config.ParseLevel(c.Level)
	if err != nil {
		return err
	}
	logging.SetAllLoggers(mustLevel(lvl))
	for name, l := range c.Subsystems {
		if err := logging.SetLogLevel(name, l); err != nil {
			log.Warnf("log level for %s: %v", name, err)
		}
	}
	return nil
}

func mustLevel(s string) logging.LogLevel {
	l, err := logging.LevelFromString(s)
	if err != nil {
		return logging.LevelInfo
	}
	return l
}

// ProfileFromConfig builds the tagged account profile for this client.
func ProfileFromConfig(cfg config.Config) account.Profile {
	if cfg.Profile.Role == proto.RoleReader {
		return account.Reader{
			ID:    cfg.Identity.ID,
			Name:  cfg.Identity.Name,
			Image: cfg.Profile.Image,
			Rates: cfg.Profile.Rates,
		}
	}
	return account.Client{
		ID:      cfg.Identity.ID,
		Name:    cfg.Identity.Name,
		Balance: cfg.Profile.Balance,
	}
}

// TimingFromConfig maps config durations onto the state machine timings.
func TimingFromConfig(cfg config.Config) session.Timing {
	return session.Timing{
		ReconnectTimeout:      cfg.Session.ReconnectTimeout(),
		CloseGrace:            cfg.Session.CloseGrace(),
		ConnectTimeout:        cfg.Session.ConnectTimeout(),
		IncomingExpiry:        cfg.Session.IncomingExpiry(),
		EnforceIncomingExpiry: cfg.Session.EnforceExpiry,
		BillingInterval:       cfg.Billing.Interval(),
		BillingTick:           cfg.Billing.Tick(),
	}
}

func iceServers(urls []string) []webrtc.ICEServer {
	if len(urls) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: append([]string(nil), urls...)}}
}

func logBanner(kind, dir, cfgPath string) {
	log.Info("────────────────────────────────────────")
	log.Infof("Augur %s", kind)
	log.Infof(" Folder      : %s", dir)
	log.Infof(" Config file : %s", cfgPath)
	log.Info("")
	log.Info(" This process represents ONE user.")
	log.Info(" The folder is the user's boundary.")
	log.Info("────────────────────────────────────────")
}
