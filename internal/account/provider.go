package account

import (
	"errors"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/augur/internal/billing"
	"github.com/petervdpas/augur/internal/proto"
	"github.com/petervdpas/augur/internal/storage"
)

var log = logging.Logger("account")

var ErrNotClient = errors.New("account: only clients carry a balance")

// Provider exposes the current user and the balance-update entry point.
type Provider interface {
	Current() Profile
	Balance() billing.Money
	// Debit commits one charge and returns the new balance. It fails with
	// billing.ErrInsufficientFunds rather than go negative.
	Debit(sessionID string, slot int, amount billing.Money) (billing.Money, error)
}

// Memory is an in-process Provider.
type Memory struct {
	mu      sync.Mutex
	profile Profile
	debits  []billing.Money
}

func NewMemory(p Profile) *Memory { return &Memory{profile: p} }

func (m *Memory) Current() Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile
}

func (m *Memory) Balance() billing.Money {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.profile.(Client); ok {
		return c.Balance
	}
	return 0
}

func (m *Memory) Debit(_ string, _ int, amount billing.Money) (billing.Money, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.profile.(Client)
	if !ok {
		return 0, ErrNotClient
	}
	if !billing.CanAfford(c.Balance, amount) {
		return c.Balance, billing.ErrInsufficientFunds
	}
	c.Balance -= amount
	m.profile = c
	m.debits = append(m.debits, amount)
	return c.Balance, nil
}

// Debits returns every committed amount in order.
func (m *Memory) Debits() []billing.Money {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]billing.Money(nil), m.debits...)
}

// SetRates replaces a reader's rate table. Sessions already running keep
// the rate they locked.
func (m *Memory) SetRates(r proto.Rates) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rd, ok := m.profile.(Reader); ok {
		rd.Rates = r
		m.profile = rd
	}
}

// Store is a Provider whose balance lives in SQLite.
type Store struct {
	db *storage.DB

	mu      sync.Mutex
	profile Profile
}

const seededKey = "balance_seeded:"

// Open binds p to db. A client's configured balance seeds the stored one on
// first use only; after that the database is authoritative.
func Open(db *storage.DB, p Profile) (*Store, error) {
	s := &Store{db: db, profile: p}
	c, ok := p.(Client)
	if !ok {
		return s, nil
	}
	if db.GetMeta(seededKey+c.ID) == "" {
		if err := db.SetBalance(c.ID, c.Balance); err != nil {
			return nil, fmt.Errorf("seed balance: %w", err)
		}
		if err := db.SetMeta(seededKey+c.ID, "1"); err != nil {
			return nil, err
		}
		log.Infof("seeded balance for %s: %s", c.ID, c.Balance)
	}
	return s, nil
}

func (s *Store) Current() Profile {
	s.mu.Lock()
	p := s.profile
	s.mu.Unlock()
	if c, ok := p.(Client); ok {
		c.Balance = s.Balance()
		return c
	}
	return p
}

func (s *Store) Balance() billing.Money {
	s.mu.Lock()
	c, ok := s.profile.(Client)
	s.mu.Unlock()
	if !ok {
		return 0
	}
	b, found, err := s.db.Balance(c.ID)
	if err != nil {
		log.Errorf("load balance: %v", err)
		return 0
	}
	if !found {
		return 0
	}
	return b
}

func (s *Store) Debit(sessionID string, slot int, amount billing.Money) (billing.Money, error) {
	s.mu.Lock()
	c, ok := s.profile.(Client)
	s.mu.Unlock()
	if !ok {
		return 0, ErrNotClient
	}
	return s.db.Debit(c.ID, sessionID, slot, amount)
}

// SetRates replaces a reader's rate table.
func (s *Store) SetRates(r proto.Rates) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rd, ok := s.profile.(Reader); ok {
		rd.Rates = r
		s.profile = rd
		log.Infof("rates updated: chat=%s audio=%s video=%s", r.Chat, r.Audio, r.Video)
	}
}
