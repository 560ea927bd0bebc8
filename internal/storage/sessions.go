package storage

import (
	"database/sql"
	"time"

	"github.com/petervdpas/augur/internal/billing"
	"github.com/petervdpas/augur/internal/chat"
)

// SessionRecord is the summary of one finished session.
type SessionRecord struct {
	ID          string        `json:"id"`
	Type        string        `json:"type"`
	Role        string        `json:"role"`
	PartnerID   string        `json:"partnerId"`
	PartnerName string        `json:"partnerName"`
	Rate        billing.Money `json:"rate"`
	Charge      billing.Money `json:"charge"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	Duration    time.Duration `json:"duration"`
	EndReason   string        `json:"endReason"`
	EndedAt     time.Time     `json:"endedAt"`
}

// SaveSession inserts or replaces a session summary.
func (d *DB) SaveSession(r SessionRecord) error {
	var started sql.NullInt64
	if r.StartedAt != nil {
		started = sql.NullInt64{Int64: r.StartedAt.UnixMilli(), Valid: true}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO sessions
			(id, type, role, partner_id, partner_name, rate, charge, started_at, duration_ms, end_reason, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Type, r.Role, r.PartnerID, r.PartnerName, int64(r.Rate), int64(r.Charge),
		started, r.Duration.Milliseconds(), r.EndReason, r.EndedAt.UnixMilli(),
	)
	return err
}

// ListSessions returns summaries, most recently ended first.
func (d *DB) ListSessions(limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.Query(`
		SELECT id, type, role, partner_id, partner_name, rate, charge, started_at, duration_ms, end_reason, ended_at
		FROM sessions ORDER BY ended_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var r SessionRecord
		var rate, charge, durMS, ended int64
		var started sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Type, &r.Role, &r.PartnerID, &r.PartnerName,
			&rate, &charge, &started, &durMS, &r.EndReason, &ended); err != nil {
			return nil, err
		}
		r.Rate = billing.Money(rate)
		r.Charge = billing.Money(charge)
		if started.Valid {
			t := time.UnixMilli(started.Int64)
			r.StartedAt = &t
		}
		r.Duration = time.Duration(durMS) * time.Millisecond
		r.EndedAt = time.UnixMilli(ended)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveMessage appends a chat message to the transcript.
func (d *DB) SaveMessage(m *chat.Message) error {
	out := 0
	if m.Outgoing {
		out = 1
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO messages (id, session_id, from_id, from_name, text, via, outgoing, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.FromID, m.From, m.Text, string(m.Via), out, m.Timestamp)
	return err
}

// Transcript returns a session's messages in the order they were logged.
func (d *DB) Transcript(sessionID string) ([]*chat.Message, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.Query(`
		SELECT id, session_id, from_id, from_name, text, via, outgoing, ts
		FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*chat.Message
	for rows.Next() {
		var m chat.Message
		var via string
		var outgoing int
		if err := rows.Scan(&m.ID, &m.SessionID, &m.FromID, &m.From, &m.Text, &via, &outgoing, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Via = chat.Via(via)
		m.Outgoing = outgoing != 0
		out = append(out, &m)
	}
	return out, rows.Err()
}
