package routes

import (
	"net/http"
)

func registerChatRoutes(mux *http.ServeMux, d Deps) {
	m := d.Session

	// POST /api/chat/send {text}
	handlePost(mux, "/api/chat/send", func(w http.ResponseWriter, r *http.Request, req struct {
		Text string `json:"text"`
	}) {
		msg, err := m.SendMessage(req.Text)
		if msg == nil && err == nil {
			http.Error(w, "empty message", http.StatusBadRequest)
			return
		}
		if err != nil {
			// The local echo is already in the log; report the delivery failure.
			if msg != nil {
				writeJSONStatus(w, http.StatusBadGateway, map[string]any{"message": msg, "error": err.Error()})
				return
			}
			writeError(w, err)
			return
		}
		writeJSON(w, msg)
	})

	// GET /api/chat/messages
	handleGet(mux, "/api/chat/messages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, m.Messages())
	})
}
