package storage

import (
	"encoding/json"
	"time"

	"github.com/petervdpas/augur/internal/proto"
)

// CachedPartner is the last known public profile of someone this client
// has had a session with.
type CachedPartner struct {
	proto.Profile
	LastSeen time.Time `json:"lastSeen"`
}

// UpsertPartner stores or replaces the cached profile.
func (d *DB) UpsertPartner(p proto.Profile) error {
	rates := ""
	if p.Rates != nil {
		b, err := json.Marshal(p.Rates)
		if err != nil {
			return err
		}
		rates = string(b)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO partners (id, name, role, image, rates, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name      = excluded.name,
			role      = excluded.role,
			image     = excluded.image,
			rates     = CASE WHEN excluded.rates = '' THEN partners.rates ELSE excluded.rates END,
			last_seen = excluded.last_seen`,
		p.ID, p.Name, string(p.Role), p.Image, rates, time.Now().UnixMilli(),
	)
	return err
}

// GetPartner returns the cached profile, or false if unknown.
func (d *DB) GetPartner(id string) (CachedPartner, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	row := d.db.QueryRow(`SELECT id, name, role, image, rates, last_seen FROM partners WHERE id = ?`, id)
	p, err := scanPartner(row.Scan)
	if err != nil {
		return CachedPartner{}, false
	}
	return p, true
}

// ListPartners returns cached partners, most recently seen first.
func (d *DB) ListPartners() ([]CachedPartner, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.Query(`SELECT id, name, role, image, rates, last_seen FROM partners ORDER BY last_seen DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CachedPartner
	for rows.Next() {
		p, err := scanPartner(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPartner(scan func(...any) error) (CachedPartner, error) {
	var p CachedPartner
	var role, rates string
	var seen int64
	if err := scan(&p.ID, &p.Name, &role, &p.Image, &rates, &seen); err != nil {
		return CachedPartner{}, err
	}
	p.Role = proto.Role(role)
	if rates != "" {
		var r proto.Rates
		if err := json.Unmarshal([]byte(rates), &r); err == nil {
			p.Rates = &r
		}
	}
	p.LastSeen = time.UnixMilli(seen)
	return p, nil
}
