// Package app wires the client daemon and the development relay from a
// config file.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/petervdpas/augur/internal/account"
	"github.com/petervdpas/augur/internal/avatar"
	"github.com/petervdpas/augur/internal/call"
	"github.com/petervdpas/augur/internal/chat"
	"github.com/petervdpas/augur/internal/config"
	"github.com/petervdpas/augur/internal/relay"
	"github.com/petervdpas/augur/internal/session"
	"github.com/petervdpas/augur/internal/signal"
	"github.com/petervdpas/augur/internal/storage"
	"github.com/petervdpas/augur/internal/util"
	"github.com/petervdpas/augur/internal/viewer"
)

type Options struct {
	Dir     string
	CfgPath string
	Cfg     config.Config
}

// RunClient runs one user's session daemon until ctx is canceled.
func RunClient(ctx context.Context, opt Options) error {
	cfg := opt.Cfg

	logBuf := viewer.NewLogBuffer(800)
	stopCapture := logBuf.Capture()
	defer stopCapture()

	if err := ApplyLogLevels(cfg.Log); err != nil {
		return err
	}
	logBanner("client", opt.Dir, opt.CfgPath)

	// ── Storage and account
	dataDir := util.ResolvePath(opt.Dir, cfg.Paths.DataDir)
	db, err := storage.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	accounts, err := account.Open(db, ProfileFromConfig(cfg))
	if err != nil {
		return fmt.Errorf("open account: %w", err)
	}
	self := accounts.Current().Public()
	log.Infof("user %s (%s) as %s", self.ID, self.Name, self.Role)

	// ── Media
	capture, err := call.NewCapture(cfg.Media.VideoBitrate)
	if err != nil {
		return fmt.Errorf("media capture: %w", err)
	}
	dialer := call.NewPionDialer(call.DialerOptions{
		ICEServers:          iceServers(cfg.Media.ICEServers),
		Codecs:              capture,
		DisconnectedTimeout: cfg.Media.DisconnectedTimeout(),
		FailedTimeout:       cfg.Media.FailedTimeout(),
		KeepAliveInterval:   cfg.Media.KeepAliveInterval(),
	})

	// ── Signaling
	sig := signal.NewWebSocket(signal.Options{
		URL:        cfg.Signaling.URL,
		QueueSize:  cfg.Signaling.QueueSize,
		MinBackoff: cfg.Signaling.MinBackoff(),
		MaxBackoff: cfg.Signaling.MaxBackoff(),
	})
	defer sig.Close()

	// ── Session manager
	mgr, err := session.New(session.Options{
		Signal:   sig,
		Dialer:   dialer,
		Devices:  capture,
		Accounts: accounts,
		Chat:     chat.New(cfg.Session.ChatBuffer, db),
		History:  db,
		Timing:   TimingFromConfig(cfg),
	})
	if err != nil {
		return err
	}
	defer mgr.Close()

	go func() {
		cctx, cancel := context.WithTimeout(ctx, util.DefaultConnectTimeout)
		defer cancel()
		if err := sig.Connect(cctx, self); err != nil {
			log.Warnf("signaling not open yet (%v); sends are queued until it is", err)
		}
	}()

	// ── Hot reload of rates and log levels
	if opt.CfgPath != "" {
		w, err := config.Watch(opt.CfgPath, func(next config.Config) {
			if err := ApplyLogLevels(next.Log); err != nil {
				log.Warnf("apply log levels: %v", err)
			}
			if next.Profile.Role != cfg.Profile.Role || next.Identity.ID != cfg.Identity.ID {
				log.Warnf("identity or role changes need a restart")
				return
			}
			accounts.SetRates(next.Profile.Rates)
			if err := sig.Announce(accounts.Current().Public()); err != nil {
				log.Warnf("re-announce profile: %v", err)
			}
		})
		if err != nil {
			log.Warnf("config hot reload disabled: %v", err)
		} else {
			defer w.Close()
		}
	}

	// ── Viewer
	if cfg.Viewer.HTTPAddr != "" {
		addr, url := NormalizeLocalViewer(cfg.Viewer.HTTPAddr)
		go func() {
			err := viewer.Start(ctx, addr, viewer.Viewer{
				Session:  mgr,
				Accounts: accounts,
				DB:       db,
				Logs:     logBuf,
				Avatars:  avatar.NewStore(dataDir),
			})
			if err != nil {
				log.Errorf("viewer: %v", err)
			}
		}()
		log.Infof("local API: %s", url)
	}

	<-ctx.Done()
	log.Info("shutting down")
	if s := mgr.Current(); s != nil {
		log.Infof("[%s] ending active session", s.ID)
	}
	_ = mgr.Close()
	drain(sig, time.Second)
	return nil
}

// drain gives the writer a moment to flush a final session_end.
func drain(sig *signal.WSChannel, max time.Duration) {
	deadline := time.Now().Add(max)
	for sig.State() == signal.StateOpen && sig.Pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
}

// RunRelay runs the development signaling relay until ctx is canceled.
func RunRelay(ctx context.Context, opt Options) error {
	cfg := opt.Cfg
	if err := ApplyLogLevels(cfg.Log); err != nil {
		return err
	}
	logBanner("relay", opt.Dir, opt.CfgPath)

	srv := &http.Server{
		Handler:           relay.NewServer(relay.NewRouter(), cfg.Relay.WriteTimeout()).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", cfg.Relay.Addr())
	if err != nil {
		return err
	}
	log.Infof("relay listening on ws://%s/ws", ln.Addr())

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), util.DefaultShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
