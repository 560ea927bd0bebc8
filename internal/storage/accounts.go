package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/petervdpas/augur/internal/billing"
)

// LedgerEntry is one committed per-minute charge.
type LedgerEntry struct {
	ID        int64         `json:"id"`
	AccountID string        `json:"accountId"`
	SessionID string        `json:"sessionId"`
	Slot      int           `json:"slot"`
	Amount    billing.Money `json:"amount"`
	Balance   billing.Money `json:"balance"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Balance returns the stored balance for an account.
func (d *DB) Balance(accountID string) (billing.Money, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var b int64
	err := d.db.QueryRow(`SELECT balance FROM accounts WHERE id = ?`, accountID).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return billing.Money(b), true, nil
}

// SetBalance creates or overwrites an account balance.
func (d *DB) SetBalance(accountID string, balance billing.Money) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO accounts (id, balance, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET balance = excluded.balance, updated_at = CURRENT_TIMESTAMP`,
		accountID, int64(balance))
	return err
}

// Debit subtracts amount and appends a ledger row in one transaction. It
// refuses to take the balance below zero and returns the new balance.
func (d *DB) Debit(accountID, sessionID string, slot int, amount billing.Money) (billing.Money, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var cur int64
	if err := tx.QueryRow(`SELECT balance FROM accounts WHERE id = ?`, accountID).Scan(&cur); err != nil {
		return 0, fmt.Errorf("load balance: %w", err)
	}
	if !billing.CanAfford(billing.Money(cur), amount) {
		return billing.Money(cur), billing.ErrInsufficientFunds
	}
	next := cur - int64(amount)

	if _, err := tx.Exec(`UPDATE accounts SET balance = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		next, accountID); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`
		INSERT INTO ledger (account_id, session_id, slot, amount, balance, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, accountID, sessionID, slot, int64(amount), next, time.Now().UnixMilli()); err != nil {
		return 0, fmt.Errorf("append ledger: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return billing.Money(next), nil
}

// Ledger returns the newest entries first.
func (d *DB) Ledger(accountID string, limit int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.Query(`
		SELECT id, account_id, session_id, slot, amount, balance, created_at
		FROM ledger WHERE account_id = ? ORDER BY id DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var amount, balance int64
		var created int64
		if err := rows.Scan(&e.ID, &e.AccountID, &e.SessionID, &e.Slot, &amount, &balance, &created); err != nil {
			return nil, err
		}
		e.Amount = billing.Money(amount)
		e.Balance = billing.Money(balance)
		e.CreatedAt = time.UnixMilli(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
