// Package budget tracks cumulative backend spend against a rolling period limit.
package budget

import (
	"fmt"
	"sync"
	"time"
)

// ReasonCode explains why a reservation was refused.
type ReasonCode string

const (
	ReasonOK        ReasonCode = "OK"
	ReasonSoftLimit ReasonCode = "SOFT_LIMIT"
	ReasonHardLimit ReasonCode = "HARD_LIMIT"
)

const defaultSoftThreshold = 0.95

// Config configures a Tracker.
type Config struct {
	// PeriodLimit is the maximum spend (USD) allowed per period. Must be > 0.
	PeriodLimit float64

	// PeriodDuration is the rolling window length. Defaults to 24h.
	PeriodDuration time.Duration

	// SoftThreshold is the fraction of PeriodLimit at which reservations are
	// refused with SOFT_LIMIT. Defaults to 0.95.
	SoftThreshold float64

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Snapshot is a point-in-time copy of the tracker state.
type Snapshot struct {
	PeriodLimit     float64            `json:"periodLimit"`
	Spent           float64            `json:"spent"`
	PeriodStart     time.Time          `json:"periodStart"`
	RequestCount    int64              `json:"requestCount"`
	PerBackendSpend map[string]float64 `json:"perBackendSpend"`
}

// Tracker serializes all spend mutations behind a single mutex. CheckAndReserve
// does not pre-deduct; Commit is the sole mutator, so there is no reservation to
// roll back and no lock is ever held across backend I/O.
type Tracker struct {
	mu            sync.Mutex
	limit         float64
	period        time.Duration
	softThreshold float64
	now           func() time.Time

	spent           float64
	periodStart     time.Time
	requestCount    int64
	perBackendSpend map[string]float64
}

// New validates cfg and returns a Tracker with an empty period starting now.
func New(cfg Config) (*Tracker, error) {
	if cfg.PeriodLimit <= 0 {
		return nil, fmt.Errorf("budget: period limit must be > 0, got %v", cfg.PeriodLimit)
	}
	if cfg.PeriodDuration <= 0 {
		cfg.PeriodDuration = 24 * time.Hour
	}
	if cfg.SoftThreshold <= 0 || cfg.SoftThreshold > 1 {
		cfg.SoftThreshold = defaultSoftThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		limit:           cfg.PeriodLimit,
		period:          cfg.PeriodDuration,
		softThreshold:   cfg.SoftThreshold,
		now:             cfg.Now,
		periodStart:     cfg.Now().UTC(),
		perBackendSpend: map[string]float64{},
	}, nil
}

// CheckAndReserve rolls the period over if expired, then reports whether a call
// with the given estimated cost may proceed. A zero estimate is always allowed.
func (t *Tracker) CheckAndReserve(estimatedCost float64) (bool, float64, ReasonCode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rolloverLocked()

	remaining := 1.0 - t.spent/t.limit
	if remaining < 0 {
		remaining = 0
	}
	if estimatedCost <= 0 {
		return true, remaining, ReasonOK
	}

	projected := (t.spent + estimatedCost) / t.limit
	switch {
	case projected >= 1.0:
		return false, remaining, ReasonHardLimit
	case projected >= t.softThreshold:
		return false, remaining, ReasonSoftLimit
	default:
		return true, remaining, ReasonOK
	}
}

// Commit records the actual cost of a completed dispatch. It must be called for
// every terminal dispatch outcome that incurred billing, success or failure.
func (t *Tracker) Commit(actualCost float64, backendID string) {
	if actualCost < 0 {
		actualCost = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rolloverLocked()
	t.spent += actualCost
	t.requestCount++
	if backendID != "" {
		t.perBackendSpend[backendID] += actualCost
	}
}

// Usage returns a snapshot of the current period state.
func (t *Tracker) Usage() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rolloverLocked()
	per := make(map[string]float64, len(t.perBackendSpend))
	for k, v := range t.perBackendSpend {
		per[k] = v
	}
	return Snapshot{
		PeriodLimit:     t.limit,
		Spent:           t.spent,
		PeriodStart:     t.periodStart,
		RequestCount:    t.requestCount,
		PerBackendSpend: per,
	}
}

// Restore seeds the current period from persisted state, used at startup when
// spend is reconstructed from the ledger tail.
func (t *Tracker) Restore(spent float64, periodStart time.Time) {
	if spent < 0 {
		spent = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spent = spent
	if !periodStart.IsZero() {
		t.periodStart = periodStart.UTC()
	}
	t.rolloverLocked()
}

// rolloverLocked resets the period if it has expired. One rollover per check;
// callers must hold t.mu.
func (t *Tracker) rolloverLocked() {
	now := t.now().UTC()
	if now.Sub(t.periodStart) >= t.period {
		t.spent = 0
		t.periodStart = now
		t.requestCount = 0
		t.perBackendSpend = map[string]float64{}
	}
}
