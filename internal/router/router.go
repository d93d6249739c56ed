// Package router dispatches requests to the first healthy, affordable backend
// out of an ordered candidate list, with cached responses served first.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danielgonzagat/peninaocubo-sub006/internal/backend"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/breaker"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/budget"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/cache"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/observe"
)

// Attempt records the terminal outcome of one candidate in a route call.
type Attempt struct {
	BackendID    string        `json:"backendId"`
	Outcome      string        `json:"outcome"` // success, failure, skipped_breaker, skipped_budget
	Latency      time.Duration `json:"latency"`
	CostIncurred float64       `json:"costIncurred"`
	Reason       string        `json:"reason,omitempty"`
}

const (
	OutcomeSuccess        = "success"
	OutcomeFailure        = "failure"
	OutcomeSkippedBreaker = "skipped_breaker"
	OutcomeSkippedBudget  = "skipped_budget"
)

// Error is returned when every candidate was skipped or failed.
type Error struct {
	Attempts []Attempt

	// Permanent is set when the last dispatch failure was non-retryable, so
	// callers do not re-route the same request.
	Permanent bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("router: all %d backends exhausted", len(e.Attempts))
}

// Result is a successful route outcome. BackendID is empty when the response
// came from the cache.
type Result struct {
	Payload   []byte
	BackendID string
	FromCache bool
	CostSpent float64
}

// Config wires the router's collaborators. All shared state (budget, breakers,
// cache) is injected, never ambient, so concurrency boundaries stay testable.
type Config struct {
	Budget   *budget.Tracker
	Breakers *breaker.Set
	Cache    *cache.Cache
	Sink     observe.Sink

	// CacheTTL bounds cached responses. Defaults to 5m.
	CacheTTL time.Duration

	// DispatchTimeout is the per-backend call timeout. Defaults to 30s.
	DispatchTimeout time.Duration
}

// Router selects a backend, dispatches, and records the outcome against the
// shared budget and breaker state.
type Router struct {
	budget   *budget.Tracker
	breakers *breaker.Set
	cache    *cache.Cache
	sink     observe.Sink

	cacheTTL        time.Duration
	dispatchTimeout time.Duration
}

// New validates cfg and returns a Router.
func New(cfg Config) (*Router, error) {
	if cfg.Budget == nil || cfg.Breakers == nil || cfg.Cache == nil {
		return nil, errors.New("router: budget, breakers, and cache are required")
	}
	if cfg.Sink == nil {
		cfg.Sink = observe.NopSink{}
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}
	return &Router{
		budget:          cfg.Budget,
		breakers:        cfg.Breakers,
		cache:           cfg.Cache,
		sink:            cfg.Sink,
		cacheTTL:        cfg.CacheTTL,
		dispatchTimeout: cfg.DispatchTimeout,
	}, nil
}

// Route serves payload from cache when possible, otherwise walks candidates in
// the caller's order (callers sort by ascending estimated cost). Breaker and
// budget state mutate only after a dispatch resolves; no lock spans the I/O.
func (r *Router) Route(ctx context.Context, payload []byte, candidates []backend.Adapter) (*Result, error) {
	if len(candidates) == 0 {
		return nil, errors.New("router: at least one candidate backend required")
	}

	fp := cache.Fingerprint(payload)
	if hit := r.cache.Get(fp); hit != nil {
		// No network call happened, so neither budget nor breakers are touched
		// and no backend is credited with serving it.
		return &Result{Payload: hit, FromCache: true}, nil
	}

	var attempts []Attempt
	permanent := false

	for _, cand := range candidates {
		id := cand.ID()

		if !r.breakers.Allow(id) {
			attempts = append(attempts, r.record(Attempt{
				BackendID: id,
				Outcome:   OutcomeSkippedBreaker,
				Reason:    "circuit open",
			}))
			continue
		}

		estimate := cand.EstimatedCost(payload)
		allowed, _, reason := r.budget.CheckAndReserve(estimate)
		if !allowed {
			attempts = append(attempts, r.record(Attempt{
				BackendID: id,
				Outcome:   OutcomeSkippedBudget,
				Reason:    string(reason),
			}))
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, r.dispatchTimeout)
		start := time.Now()
		resp, err := cand.Dispatch(callCtx, payload)
		latency := time.Since(start)
		cancel()

		if err != nil {
			r.breakers.OnFailure(id)
			cost := meteredCost(err)
			if cost > 0 {
				// Partial billing from a failed call still counts.
				r.budget.Commit(cost, id)
			}
			permanent = backend.IsPermanent(err)
			attempts = append(attempts, r.record(Attempt{
				BackendID:    id,
				Outcome:      OutcomeFailure,
				Latency:      latency,
				CostIncurred: cost,
				Reason:       err.Error(),
			}))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		r.breakers.OnSuccess(id)
		r.budget.Commit(resp.ActualCost, id)
		r.cache.Put(fp, resp.Payload, r.cacheTTL)
		r.record(Attempt{
			BackendID:    id,
			Outcome:      OutcomeSuccess,
			Latency:      latency,
			CostIncurred: resp.ActualCost,
		})
		return &Result{Payload: resp.Payload, BackendID: id, CostSpent: resp.ActualCost}, nil
	}

	return nil, &Error{Attempts: attempts, Permanent: permanent}
}

func meteredCost(err error) float64 {
	var be *backend.Error
	if errors.As(err, &be) {
		return be.MeteredCost
	}
	return 0
}

// record emits the attempt to the observability sink and returns it.
func (r *Router) record(a Attempt) Attempt {
	r.sink.Emit(observe.Event{
		Timestamp: time.Now().UTC(),
		Event:     "router.attempt",
		Fields: map[string]interface{}{
			"backendId":    a.BackendID,
			"outcome":      a.Outcome,
			"latencyMs":    a.Latency.Milliseconds(),
			"costIncurred": a.CostIncurred,
			"reason":       a.Reason,
		},
	})
	return a
}
