// Package breaker isolates failing backends behind per-backend circuit breakers.
package breaker

import (
	"fmt"
	"sync"
	"time"
)

// State is the circuit state for one backend.
type State int

const (
	// Closed is the normal operating state; calls flow through.
	Closed State = iota

	// Open means the circuit has tripped; calls are rejected until the reset
	// timeout elapses.
	Open

	// HalfOpen means a probe has been let through to test recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Config controls trip and recovery behavior.
type Config struct {
	// FailureThreshold is consecutive failures before opening. Default 5.
	FailureThreshold int

	// SuccessThreshold is consecutive half-open successes before closing. Default 2.
	SuccessThreshold int

	// ResetTimeout is how long an open circuit waits before allowing a probe.
	// Default 60s.
	ResetTimeout time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 60 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Snapshot is a copy of one backend's breaker state.
type Snapshot struct {
	BackendID            string    `json:"backendId"`
	State                string    `json:"state"`
	ConsecutiveFailures  int       `json:"consecutiveFailures"`
	ConsecutiveSuccesses int       `json:"consecutiveSuccesses"`
	LastFailureTime      time.Time `json:"lastFailureTime,omitempty"`
}

// breakerState is the mutable record for one backend. Each record has its own
// mutex so different backends never contend with each other.
type breakerState struct {
	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
}

// Set manages one breaker per backend id. Evaluation is lazy: state transitions
// happen on Allow/OnSuccess/OnFailure calls, never from a background timer.
type Set struct {
	cfg Config

	mu       sync.RWMutex
	breakers map[string]*breakerState
}

// NewSet returns an empty Set; breakers are created on first use.
func NewSet(cfg Config) *Set {
	return &Set{
		cfg:      cfg.withDefaults(),
		breakers: map[string]*breakerState{},
	}
}

func (s *Set) get(backendID string) *breakerState {
	s.mu.RLock()
	b, ok := s.breakers[backendID]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.breakers[backendID]; ok {
		return b
	}
	b = &breakerState{state: Closed}
	s.breakers[backendID] = b
	return b
}

// Allow reports whether a call to the backend may proceed. When an open circuit's
// reset timeout has elapsed, exactly the next Allow call returns true and moves
// the circuit to half-open.
func (s *Set) Allow(backendID string) bool {
	b := s.get(backendID)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed, HalfOpen:
		return true
	case Open:
		if s.cfg.Now().Sub(b.lastFailure) >= s.cfg.ResetTimeout {
			b.state = HalfOpen
			b.successes = 0
			return true
		}
		return false
	default:
		return false
	}
}

// OnSuccess records a successful terminal outcome for the backend.
func (s *Set) OnSuccess(backendID string) {
	b := s.get(backendID)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.successes++
		if b.successes >= s.cfg.SuccessThreshold {
			b.state = Closed
			b.failures = 0
			b.successes = 0
		}
	}
}

// OnFailure records a failed terminal outcome (timeouts included) for the backend.
func (s *Set) OnFailure(backendID string) {
	b := s.get(backendID)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = s.cfg.Now()
	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= s.cfg.FailureThreshold {
			b.state = Open
		}
	case HalfOpen:
		// A probe failure reopens immediately, no threshold.
		b.state = Open
		b.failures = s.cfg.FailureThreshold
		b.successes = 0
	case Open:
		b.failures++
	}
}

// Snapshot returns a copy of one backend's breaker state.
func (s *Set) Snapshot(backendID string) Snapshot {
	b := s.get(backendID)
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		BackendID:            backendID,
		State:                b.state.String(),
		ConsecutiveFailures:  b.failures,
		ConsecutiveSuccesses: b.successes,
		LastFailureTime:      b.lastFailure,
	}
}

// Snapshots returns the state of every known backend, keyed by id.
func (s *Set) Snapshots() map[string]Snapshot {
	s.mu.RLock()
	ids := make([]string, 0, len(s.breakers))
	for id := range s.breakers {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	out := make(map[string]Snapshot, len(ids))
	for _, id := range ids {
		out[id] = s.Snapshot(id)
	}
	return out
}
