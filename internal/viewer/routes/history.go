package routes

import (
	"net/http"
)

// registerHistoryRoutes exposes persisted sessions, transcripts, ledger and
// partner cache. Skipped without a database.
func registerHistoryRoutes(mux *http.ServeMux, d Deps) {
	if d.DB == nil {
		return
	}
	db := d.DB

	// GET /api/history?limit=N
	handleGet(mux, "/api/history", func(w http.ResponseWriter, r *http.Request) {
		recs, err := db.ListSessions(queryLimit(r, 50, 500))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, recs)
	})

	// GET /api/history/transcript?session_id=X
	handleGet(mux, "/api/history/transcript", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("session_id")
		if id == "" {
			http.Error(w, "missing session_id", http.StatusBadRequest)
			return
		}
		msgs, err := db.Transcript(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, msgs)
	})

	// GET /api/ledger?limit=N
	handleGet(mux, "/api/ledger", func(w http.ResponseWriter, r *http.Request) {
		id := d.Accounts.Current().Public().ID
		entries, err := db.Ledger(id, queryLimit(r, 100, 1000))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, entries)
	})

	// GET /api/partners
	handleGet(mux, "/api/partners", func(w http.ResponseWriter, r *http.Request) {
		ps, err := db.ListPartners()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, ps)
	})
}
