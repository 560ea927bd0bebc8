// Package account is the local user's identity and balance provider.
//
// A user is either a Client, who pays and carries a balance, or a Reader,
// who is paid and carries a rate table. Profile is sealed to those two.
package account

import (
	"github.com/petervdpas/augur/internal/billing"
	"github.com/petervdpas/augur/internal/proto"
)

// Profile is a Client or a Reader.
type Profile interface {
	Public() proto.Profile
	isProfile()
}

type Client struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Balance billing.Money `json:"balance"`
}

type Reader struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Image string      `json:"image,omitempty"`
	Rates proto.Rates `json:"rates"`
}

func (Client) isProfile() {}
func (Reader) isProfile() {}

func (c Client) Public() proto.Profile {
	return proto.Profile{ID: c.ID, Name: c.Name, Role: proto.RoleClient}
}

func (r Reader) Public() proto.Profile {
	rates := r.Rates
	return proto.Profile{ID: r.ID, Name: r.Name, Role: proto.RoleReader, Image: r.Image, Rates: &rates}
}

// Pays reports whether p is billed for sessions.
func Pays(p Profile) bool {
	_, ok := p.(Client)
	return ok
}

// OwnRate returns the rate a reader charges for t. Clients have none.
func OwnRate(p Profile, t proto.SessionType) (billing.Money, bool) {
	r, ok := p.(Reader)
	if !ok {
		return 0, false
	}
	return r.Rates.For(t)
}
