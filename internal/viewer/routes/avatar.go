package routes

import (
	"errors"
	"io"
	"net/http"

	"github.com/petervdpas/augur/internal/avatar"
)

func registerAvatarRoutes(mux *http.ServeMux, d Deps) {
	if d.Avatars == nil {
		return
	}

	// GET    /api/self/avatar  picture, or an initials SVG
	// PUT    /api/self/avatar  raw image body
	// DELETE /api/self/avatar
	mux.HandleFunc("/api/self/avatar", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			data, mime, err := d.Avatars.Read()
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			if data == nil {
				p := d.Accounts.Current().Public()
				data, mime = avatar.InitialsSVG(p.Name, p.ID), "image/svg+xml"
			} else {
				w.Header().Set("ETag", `"`+d.Avatars.Hash()+`"`)
			}
			w.Header().Set("Content-Type", mime)
			_, _ = w.Write(data)

		case http.MethodPut:
			data, err := io.ReadAll(io.LimitReader(r.Body, avatar.MaxSize+1))
			if err != nil {
				http.Error(w, "read error", http.StatusBadRequest)
				return
			}
			if err := d.Avatars.Write(data); err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, avatar.ErrTooLarge) || errors.Is(err, avatar.ErrUnsupported) {
					status = http.StatusBadRequest
				}
				http.Error(w, err.Error(), status)
				return
			}
			writeJSON(w, map[string]string{"hash": d.Avatars.Hash()})

		case http.MethodDelete:
			if err := d.Avatars.Delete(); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}
