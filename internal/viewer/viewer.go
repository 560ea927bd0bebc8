// Package viewer serves the local JSON API that a UI shell drives: session
// control, chat, history, logs and metrics.
package viewer

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/augur/internal/account"
	"github.com/petervdpas/augur/internal/avatar"
	"github.com/petervdpas/augur/internal/metrics"
	"github.com/petervdpas/augur/internal/session"
	"github.com/petervdpas/augur/internal/storage"
	"github.com/petervdpas/augur/internal/util"
	"github.com/petervdpas/augur/internal/viewer/routes"
)

var log = logging.Logger("viewer")

type Viewer struct {
	Session  *session.Manager
	Accounts account.Provider
	DB       *storage.DB
	Logs     *LogBuffer
	Avatars  *avatar.Store
}

// Handler builds the route table.
func (v Viewer) Handler() http.Handler {
	api := http.NewServeMux()
	deps := routes.Deps{
		Session:  v.Session,
		Accounts: v.Accounts,
		DB:       v.DB,
		Metrics:  metrics.Handler(),
		Avatars:  v.Avatars,
	}
	if v.Logs != nil {
		deps.Logs = v.Logs
	}
	routes.Register(api, deps)

	mux := http.NewServeMux()
	mux.Handle("/api/", noCache(api))
	mux.Handle("/metrics", api)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start serves the API on addr until ctx is canceled.
func Start(ctx context.Context, addr string, v Viewer) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           v.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Infof("viewer listening on http://%s", ln.Addr())

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
