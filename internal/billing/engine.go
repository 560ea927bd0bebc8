// Package billing meters connected sessions: it keeps the derived duration
// fresh on a display cadence and commits one minute's rate per charge slot,
// refusing any charge that would push the payer's balance below zero.
package billing

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("billing")

var (
	// ErrInsufficientFunds is returned when a charge would overdraw the payer.
	ErrInsufficientFunds = errors.New("billing: insufficient funds")
	// ErrNotBillable is returned by a Target when the session is no longer
	// current or connected. The slot is dropped without retry.
	ErrNotBillable = errors.New("billing: session not billable")
)

const (
	DefaultInterval = 60 * time.Second
	DefaultTick     = time.Second
	// MaxChargeAttempts bounds how often one slot is tried before the
	// session is aborted.
	MaxChargeAttempts = 5
)

// Meter describes the session being billed.
type Meter struct {
	SessionID string
	Start     time.Time
	Rate      Money
	// Payer is true on the client side. Readers accrue earnings only.
	Payer bool
	// Charged is the number of charge slots already committed; used when
	// metering resumes after a reconnect.
	Charged int
}

// Target is the owner of the session record. Every mutation the engine
// decides on goes through it; implementations must ignore calls for a
// session that is no longer current or no longer connected.
type Target interface {
	RefreshDuration(sessionID string)
	ApplyCharge(sessionID string, slot int, amount Money) error
	StopForFunds(sessionID string, slot int)
	// AbortCharge ends the session because slot could not be committed.
	AbortCharge(sessionID string, slot int, err error)
}

// Wallet exposes the payer's current balance.
type Wallet interface {
	Balance() Money
}

// CanAfford reports whether balance covers charge without going negative.
func CanAfford(balance, charge Money) bool {
	return balance-charge >= 0
}

// Engine runs the two independent cadences for at most one meter at a time.
type Engine struct {
	clock    clock.Clock
	interval time.Duration
	tick     time.Duration
	target   Target
	wallet   Wallet

	mu          sync.Mutex
	gen         uint64
	meter       *Meter
	tickTimer   *clock.Timer
	chargeTimer *clock.Timer
	// attempts counts failed tries of the pending slot.
	attempts int
}

// NewEngine creates an idle engine. Zero durations fall back to defaults.
func NewEngine(clk clock.Clock, interval, tick time.Duration, target Target, wallet Wallet) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Engine{
		clock:    clk,
		interval: interval,
		tick:     tick,
		target:   target,
		wallet:   wallet,
	}
}

// Start begins metering m, replacing any previous meter.
func (e *Engine) Start(m Meter) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked()
	e.gen++
	e.attempts = 0
	mm := m
	e.meter = &mm

	gen := e.gen
	e.tickTimer = e.clock.AfterFunc(e.tick, func() { e.fireTick(gen) })
	e.scheduleChargeLocked(gen, mm.Charged+1)

	log.Debugf("metering %s from %s at %s/min (payer=%v, charged=%d)",
		mm.SessionID, mm.Start.Format(time.RFC3339), mm.Rate, mm.Payer, mm.Charged)
}

// Stop halts both cadences immediately. Callbacks already in flight are
// discarded by generation. Safe to call when idle.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopLocked()
	e.gen++
	e.meter = nil
	e.mu.Unlock()
}

// Running reports whether a meter is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.meter != nil
}

// NextChargeAt returns when slot n of a meter started at start is due.
func (e *Engine) NextChargeAt(start time.Time, n int) time.Time {
	return start.Add(time.Duration(n) * e.interval)
}

func (e *Engine) stopLocked() {
	if e.tickTimer != nil {
		e.tickTimer.Stop()
		e.tickTimer = nil
	}
	if e.chargeTimer != nil {
		e.chargeTimer.Stop()
		e.chargeTimer = nil
	}
}

func (e *Engine) scheduleChargeLocked(gen uint64, slot int) {
	due := e.NextChargeAt(e.meter.Start, slot)
	delay := due.Sub(e.clock.Now())
	if delay <= 0 {
		// Overdue after a reconnect; settle it right away.
		e.chargeTimer = nil
		go e.fireCharge(gen, slot)
		return
	}
	e.chargeTimer = e.clock.AfterFunc(delay, func() { e.fireCharge(gen, slot) })
}

func (e *Engine) fireTick(gen uint64) {
	e.mu.Lock()
	if gen != e.gen || e.meter == nil {
		e.mu.Unlock()
		return
	}
	id := e.meter.SessionID
	e.tickTimer = e.clock.AfterFunc(e.tick, func() { e.fireTick(gen) })
	e.mu.Unlock()

	e.target.RefreshDuration(id)
}

func (e *Engine) fireCharge(gen uint64, slot int) {
	e.mu.Lock()
	if gen != e.gen || e.meter == nil {
		e.mu.Unlock()
		return
	}
	m := *e.meter
	e.mu.Unlock()

	if m.Payer && e.wallet != nil {
		if bal := e.wallet.Balance(); !CanAfford(bal, m.Rate) {
			log.Infof("session %s: balance %s cannot cover %s for minute %d", m.SessionID, bal, m.Rate, slot)
			e.Stop()
			e.target.StopForFunds(m.SessionID, slot)
			return
		}
	}

	if err := e.target.ApplyCharge(m.SessionID, slot, m.Rate); err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			e.Stop()
			e.target.StopForFunds(m.SessionID, slot)
			return
		}
		if errors.Is(err, ErrNotBillable) {
			log.Debugf("session %s: charge %d dropped: %v", m.SessionID, slot, err)
			return
		}
		e.retryCharge(gen, m.SessionID, slot, err)
		return
	}

	e.mu.Lock()
	if gen == e.gen && e.meter != nil {
		e.attempts = 0
		e.meter.Charged = slot
		e.scheduleChargeLocked(gen, slot+1)
	}
	e.mu.Unlock()
}

// retryCharge re-arms slot after one tick, or aborts the session once the
// slot has failed MaxChargeAttempts times.
func (e *Engine) retryCharge(gen uint64, id string, slot int, err error) {
	e.mu.Lock()
	if gen != e.gen || e.meter == nil {
		e.mu.Unlock()
		return
	}
	e.attempts++
	if e.attempts < MaxChargeAttempts {
		log.Warnf("session %s: charge %d failed (attempt %d/%d): %v", id, slot, e.attempts, MaxChargeAttempts, err)
		e.chargeTimer = e.clock.AfterFunc(e.tick, func() { e.fireCharge(gen, slot) })
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	log.Errorf("session %s: charge %d failed %d times, aborting: %v", id, slot, MaxChargeAttempts, err)
	e.Stop()
	e.target.AbortCharge(id, slot, err)
}
