package routes

import (
	"net/http"

	"github.com/petervdpas/augur/internal/account"
	"github.com/petervdpas/augur/internal/avatar"
	"github.com/petervdpas/augur/internal/session"
	"github.com/petervdpas/augur/internal/storage"
)

type Logs interface {
	ServeLogsJSON(w http.ResponseWriter, r *http.Request)
	ServeLogsSSE(w http.ResponseWriter, r *http.Request)
}

// Deps is everything the local API reads from or drives.
type Deps struct {
	Session  *session.Manager
	Accounts account.Provider
	// DB is optional; history endpoints are only registered with it.
	DB      *storage.DB
	Logs    Logs
	Metrics http.Handler
	// Avatars is optional.
	Avatars *avatar.Store
}

func Register(mux *http.ServeMux, d Deps) {
	registerAPILogRoutes(mux, d)
	registerSelfRoutes(mux, d)
	registerAvatarRoutes(mux, d)
	registerSessionRoutes(mux, d)
	registerChatRoutes(mux, d)
	registerHistoryRoutes(mux, d)

	if d.Metrics != nil {
		mux.Handle("/metrics", d.Metrics)
	}
}
