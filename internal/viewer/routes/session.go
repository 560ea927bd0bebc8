package routes

import (
	"net/http"
	"strings"

	"github.com/petervdpas/augur/internal/proto"
	"github.com/petervdpas/augur/internal/session"
)

type sessionView struct {
	State    session.State            `json:"state"`
	Session  *session.Session         `json:"session,omitempty"`
	Incoming *session.IncomingRequest `json:"incoming,omitempty"`
}

func registerSessionRoutes(mux *http.ServeMux, d Deps) {
	m := d.Session

	// GET /api/session
	handleGet(mux, "/api/session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, sessionView{State: m.State(), Session: m.Current(), Incoming: m.Incoming()})
	})

	// GET /api/session/incoming
	handleGet(mux, "/api/session/incoming", func(w http.ResponseWriter, r *http.Request) {
		in := m.Incoming()
		if in == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, in)
	})

	// POST /api/session/start {type, partner}
	handlePost(mux, "/api/session/start", func(w http.ResponseWriter, r *http.Request, req struct {
		Type    proto.SessionType `json:"type"`
		Partner proto.Profile     `json:"partner"`
	}) {
		partner := req.Partner
		if strings.TrimSpace(partner.ID) == "" {
			http.Error(w, "missing partner.id", http.StatusBadRequest)
			return
		}
		if partner.Rates == nil && d.DB != nil {
			if cached, ok := d.DB.GetPartner(partner.ID); ok {
				if partner.Name == "" {
					partner.Name = cached.Name
				}
				partner.Rates = cached.Rates
			}
		}
		s, err := m.InitializeSession(r.Context(), req.Type, partner)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, s)
	})

	// POST /api/session/accept {sessionId?}
	handlePost(mux, "/api/session/accept", func(w http.ResponseWriter, r *http.Request, req struct {
		SessionID string `json:"sessionId"`
	}) {
		if err := m.AcceptSession(r.Context(), pick(req.SessionID)); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, sessionView{State: m.State(), Session: m.Current()})
	})

	// POST /api/session/reject {sessionId?}
	handlePost(mux, "/api/session/reject", func(w http.ResponseWriter, r *http.Request, req struct {
		SessionID string `json:"sessionId"`
	}) {
		if err := m.RejectSession(pick(req.SessionID)); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "rejected"})
	})

	// POST /api/session/end
	handlePost(mux, "/api/session/end", func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		if err := m.EndSession(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, sessionView{State: m.State(), Session: m.Current()})
	})

	// GET /api/session/media
	handleGet(mux, "/api/session/media", func(w http.ResponseWriter, r *http.Request) {
		stats, ok := m.MediaStats()
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, stats)
	})

	// GET /api/session/events: SSE of every state machine event. Each
	// connection gets its own subscription, dropped on disconnect.
	handleGet(mux, "/api/session/events", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		sseHeaders(w)

		events, cancel := m.Subscribe()
		defer cancel()

		_ = writeSSE(w, "snapshot", sessionView{State: m.State(), Session: m.Current(), Incoming: m.Incoming()})
		flusher.Flush()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := writeSSE(w, string(ev.Kind), ev); err != nil {
					log.Debugf("session events: %v", err)
					return
				}
				flusher.Flush()
			}
		}
	})
}

func pick(id string) *session.IncomingRequest {
	if id == "" {
		return nil
	}
	return &session.IncomingRequest{SessionID: id}
}
