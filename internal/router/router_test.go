package router_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danielgonzagat/peninaocubo-sub006/internal/backend"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/breaker"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/budget"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/cache"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/observe"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/router"
)

// stubBackend scripts dispatch outcomes for router tests.
type stubBackend struct {
	id       string
	estimate float64
	calls    int
	dispatch func(call int) (*backend.Response, error)
}

func (s *stubBackend) ID() string { return s.id }

func (s *stubBackend) EstimatedCost(payload []byte) float64 { return s.estimate }

func (s *stubBackend) Dispatch(ctx context.Context, payload []byte) (*backend.Response, error) {
	s.calls++
	return s.dispatch(s.calls)
}

func okBackend(id string, cost float64) *stubBackend {
	return &stubBackend{
		id:       id,
		estimate: cost,
		dispatch: func(int) (*backend.Response, error) {
			return &backend.Response{Payload: []byte("resp-" + id), ActualCost: cost}, nil
		},
	}
}

func failingBackend(id string, kind backend.ErrorKind, metered float64) *stubBackend {
	return &stubBackend{
		id:       id,
		estimate: 1.0,
		dispatch: func(int) (*backend.Response, error) {
			return nil, &backend.Error{BackendID: id, Kind: kind, MeteredCost: metered, Err: errors.New("boom")}
		},
	}
}

func newRouter(t *testing.T, sink observe.Sink) (*router.Router, *budget.Tracker, *breaker.Set, *cache.Cache) {
	t.Helper()
	tr, err := budget.New(budget.Config{PeriodLimit: 100})
	if err != nil {
		t.Fatalf("budget: %v", err)
	}
	brs := breaker.NewSet(breaker.Config{FailureThreshold: 2, ResetTimeout: time.Minute})
	c := cache.New([]byte("router-test-secret"))
	r, err := router.New(router.Config{Budget: tr, Breakers: brs, Cache: c, Sink: sink})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	return r, tr, brs, c
}

func TestRouteFirstCandidateSucceeds(t *testing.T) {
	sink := observe.NewCaptureSink(16)
	r, tr, _, _ := newRouter(t, sink)

	res, err := r.Route(context.Background(), []byte("req"), []backend.Adapter{
		okBackend("cheap", 0.5), okBackend("pricey", 2.0),
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.BackendID != "cheap" || res.FromCache {
		t.Fatalf("want fresh dispatch via cheap, got %+v", res)
	}
	if got := tr.Usage().Spent; got != 0.5 {
		t.Fatalf("want 0.5 committed, got %v", got)
	}
	events := sink.Drain()
	if len(events) != 1 || events[0].Fields["outcome"] != router.OutcomeSuccess {
		t.Fatalf("want one success attempt event, got %v", events)
	}
}

func TestRouteCacheHitSkipsBudgetAndBreaker(t *testing.T) {
	r, tr, _, _ := newRouter(t, observe.NopSink{})
	b := okBackend("b1", 1.0)

	if _, err := r.Route(context.Background(), []byte("req"), []backend.Adapter{b}); err != nil {
		t.Fatalf("first route: %v", err)
	}
	res, err := r.Route(context.Background(), []byte("req"), []backend.Adapter{b})
	if err != nil {
		t.Fatalf("second route: %v", err)
	}
	if !res.FromCache {
		t.Fatalf("want cache hit")
	}
	if res.BackendID != "" {
		t.Fatalf("cache hit must not credit a backend, got %q", res.BackendID)
	}
	if b.calls != 1 {
		t.Fatalf("backend must not be dispatched on a hit, calls=%d", b.calls)
	}
	if tr.Usage().Spent != 1.0 {
		t.Fatalf("cache hit must not commit budget, spent=%v", tr.Usage().Spent)
	}
}

func TestRouteFailsOverToNextCandidate(t *testing.T) {
	r, tr, brs, _ := newRouter(t, observe.NopSink{})

	res, err := r.Route(context.Background(), []byte("req"), []backend.Adapter{
		failingBackend("flaky", backend.Transient, 0.2),
		okBackend("stable", 1.0),
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.BackendID != "stable" {
		t.Fatalf("want failover to stable, got %s", res.BackendID)
	}
	// Partial billing from the failed call plus the successful call.
	if spent := tr.Usage().Spent; spent != 1.2 {
		t.Fatalf("want 1.2 spent, got %v", spent)
	}
	if snap := brs.Snapshot("flaky"); snap.ConsecutiveFailures != 1 {
		t.Fatalf("failure must be recorded on the breaker, got %+v", snap)
	}
}

func TestRouteSkipsOpenBreaker(t *testing.T) {
	r, _, brs, _ := newRouter(t, observe.NopSink{})
	brs.OnFailure("down")
	brs.OnFailure("down") // threshold 2 -> open

	down := okBackend("down", 1.0)
	res, err := r.Route(context.Background(), []byte("req"), []backend.Adapter{
		down, okBackend("up", 1.0),
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.BackendID != "up" || down.calls != 0 {
		t.Fatalf("open breaker must be skipped without dispatch, res=%+v calls=%d", res, down.calls)
	}
}

func TestRouteSkipsOverBudgetBackend(t *testing.T) {
	r, tr, _, _ := newRouter(t, observe.NopSink{})
	tr.Commit(94.0, "warmup") // soft threshold 0.95 of 100

	expensive := okBackend("expensive", 5.0)
	res, err := r.Route(context.Background(), []byte("req"), []backend.Adapter{
		expensive, okBackend("free", 0.0),
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.BackendID != "free" || expensive.calls != 0 {
		t.Fatalf("budget-blocked backend must be skipped, res=%+v calls=%d", res, expensive.calls)
	}
}

func TestRouteAllExhausted(t *testing.T) {
	sink := observe.NewCaptureSink(16)
	r, _, brs, _ := newRouter(t, sink)
	brs.OnFailure("open")
	brs.OnFailure("open")

	_, err := r.Route(context.Background(), []byte("req"), []backend.Adapter{
		okBackend("open", 1.0),
		failingBackend("broken", backend.Transient, 0),
	})
	var re *router.Error
	if !errors.As(err, &re) {
		t.Fatalf("want router.Error, got %v", err)
	}
	if len(re.Attempts) != 2 {
		t.Fatalf("want 2 attempts recorded, got %d", len(re.Attempts))
	}
	if re.Attempts[0].Outcome != router.OutcomeSkippedBreaker || re.Attempts[1].Outcome != router.OutcomeFailure {
		t.Fatalf("unexpected attempts %+v", re.Attempts)
	}
	if len(sink.Drain()) != 2 {
		t.Fatalf("every attempt must be emitted to the sink")
	}
}

func TestRoutePermanentFailureSurfaced(t *testing.T) {
	r, _, _, _ := newRouter(t, observe.NopSink{})
	_, err := r.Route(context.Background(), []byte("req"), []backend.Adapter{
		failingBackend("strict", backend.Permanent, 0),
	})
	var re *router.Error
	if !errors.As(err, &re) || !re.Permanent {
		t.Fatalf("permanent failure must be surfaced as non-retryable, got %v", err)
	}
}
