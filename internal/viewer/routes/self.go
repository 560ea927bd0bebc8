package routes

import (
	"net/http"

	"github.com/petervdpas/augur/internal/account"
	"github.com/petervdpas/augur/internal/billing"
	"github.com/petervdpas/augur/internal/proto"
)

type selfView struct {
	Profile proto.Profile  `json:"profile"`
	Pays    bool           `json:"pays"`
	Balance *billing.Money `json:"balance,omitempty"`
}

func registerSelfRoutes(mux *http.ServeMux, d Deps) {
	// GET /api/self
	handleGet(mux, "/api/self", func(w http.ResponseWriter, r *http.Request) {
		p := d.Accounts.Current()
		v := selfView{Profile: p.Public(), Pays: account.Pays(p)}
		if v.Pays {
			bal := d.Accounts.Balance()
			v.Balance = &bal
		}
		writeJSON(w, v)
	})
}
