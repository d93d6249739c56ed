package breaker_test

import (
	"testing"
	"time"

	"github.com/danielgonzagat/peninaocubo-sub006/internal/breaker"
)

func newSet(now *time.Time) *breaker.Set {
	return breaker.NewSet(breaker.Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		ResetTimeout:     time.Minute,
		Now:              func() time.Time { return *now },
	})
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newSet(&now)

	s.OnFailure("b1")
	s.OnFailure("b1")
	if !s.Allow("b1") {
		t.Fatalf("breaker must stay closed below the failure threshold")
	}
	s.OnFailure("b1")
	if s.Allow("b1") {
		t.Fatalf("breaker must open after 3 consecutive failures")
	}
	if snap := s.Snapshot("b1"); snap.State != "open" {
		t.Fatalf("want open, got %s", snap.State)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newSet(&now)

	s.OnFailure("b1")
	s.OnFailure("b1")
	s.OnSuccess("b1")
	if snap := s.Snapshot("b1"); snap.ConsecutiveFailures != 0 {
		t.Fatalf("want failures reset on success, got %d", snap.ConsecutiveFailures)
	}
	s.OnFailure("b1")
	s.OnFailure("b1")
	if !s.Allow("b1") {
		t.Fatalf("breaker should still be closed, counter was reset")
	}
}

func TestHalfOpenProbeAndRecovery(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newSet(&now)

	for i := 0; i < 3; i++ {
		s.OnFailure("b1")
	}
	if s.Allow("b1") {
		t.Fatalf("must reject while open")
	}

	now = now.Add(time.Minute)
	if !s.Allow("b1") {
		t.Fatalf("must allow one probe after reset timeout")
	}
	if snap := s.Snapshot("b1"); snap.State != "half-open" {
		t.Fatalf("want half-open after probe allowed, got %s", snap.State)
	}

	s.OnSuccess("b1")
	s.OnSuccess("b1")
	if snap := s.Snapshot("b1"); snap.State != "closed" {
		t.Fatalf("want closed after success threshold, got %s", snap.State)
	}
	if snap := s.Snapshot("b1"); snap.ConsecutiveFailures != 0 {
		t.Fatalf("want counters reset after close, got %+v", snap)
	}
}

func TestHalfOpenFailureReopensImmediately(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newSet(&now)

	for i := 0; i < 3; i++ {
		s.OnFailure("b1")
	}
	now = now.Add(time.Minute)
	if !s.Allow("b1") {
		t.Fatalf("probe expected")
	}

	// One failure while half-open: back to open, timer restarted from now.
	s.OnFailure("b1")
	if s.Allow("b1") {
		t.Fatalf("must reject immediately after half-open failure")
	}
	now = now.Add(30 * time.Second)
	if s.Allow("b1") {
		t.Fatalf("reset timeout must restart from the half-open failure")
	}
	now = now.Add(30 * time.Second)
	if !s.Allow("b1") {
		t.Fatalf("probe expected after full reset timeout")
	}
}

func TestBackendsAreIndependent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newSet(&now)

	for i := 0; i < 3; i++ {
		s.OnFailure("down")
	}
	if s.Allow("down") {
		t.Fatalf("down backend must be rejected")
	}
	if !s.Allow("up") {
		t.Fatalf("unrelated backend must be unaffected")
	}
	if len(s.Snapshots()) != 2 {
		t.Fatalf("want snapshots for both backends")
	}
}
