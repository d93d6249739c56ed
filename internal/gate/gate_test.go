package gate_test

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/danielgonzagat/peninaocubo-sub006/internal/gate"
)

func TestAllCriteriaPass(t *testing.T) {
	res, err := gate.Evaluate(
		map[string]float64{"quality": 0.9, "safety": 0.95, "latency": 0.8},
		map[string]float64{"quality": 0.8, "safety": 0.9, "latency": 0.7},
	)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Passed {
		t.Fatalf("want pass, got %+v", res)
	}
	if len(res.Violations) != 0 {
		t.Fatalf("want no violations, got %v", res.Violations)
	}
}

func TestSingleViolationRejectsDespitePerfectPeers(t *testing.T) {
	metrics := map[string]float64{}
	thresholds := map[string]float64{}
	for _, name := range []string{"c1", "c2", "c3", "c4", "c5", "c6", "c7", "c8", "c9"} {
		metrics[name] = 1.0
		thresholds[name] = 0.5
	}
	metrics["c10"] = 0.1
	thresholds["c10"] = 0.5

	res, err := gate.Evaluate(metrics, thresholds)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Passed {
		t.Fatalf("non-compensatory gate must reject with one failing criterion")
	}
	if !reflect.DeepEqual(res.Violations, []string{"c10"}) {
		t.Fatalf("want [c10] violated, got %v", res.Violations)
	}
	if res.AggregateScore <= 0 {
		t.Fatalf("aggregate must still be reported, got %v", res.AggregateScore)
	}
}

func TestMissingMetricIsFatal(t *testing.T) {
	_, err := gate.Evaluate(
		map[string]float64{"quality": 0.9},
		map[string]float64{"quality": 0.8, "safety": 0.9},
	)
	var missing *gate.MissingMetricError
	if !errors.As(err, &missing) {
		t.Fatalf("want MissingMetricError, got %v", err)
	}
	if missing.Criterion != "safety" {
		t.Fatalf("want safety reported missing, got %q", missing.Criterion)
	}
}

func TestHarmonicMean(t *testing.T) {
	res, err := gate.Evaluate(
		map[string]float64{"a": 0.5, "b": 1.0},
		map[string]float64{"a": 0.1, "b": 0.1},
	)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	// 2 / (1/0.5 + 1/1.0) = 2/3
	if math.Abs(res.AggregateScore-2.0/3.0) > 1e-9 {
		t.Fatalf("want harmonic mean 2/3, got %v", res.AggregateScore)
	}
}

func TestZeroValueDoesNotDivideByZero(t *testing.T) {
	res, err := gate.Evaluate(
		map[string]float64{"a": 0.0, "b": 1.0},
		map[string]float64{"a": 0.5, "b": 0.5},
	)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Passed {
		t.Fatalf("zero value below threshold must reject")
	}
	if math.IsNaN(res.AggregateScore) || math.IsInf(res.AggregateScore, 0) {
		t.Fatalf("aggregate must stay finite, got %v", res.AggregateScore)
	}
}

func TestDeterministicOrderingAndReason(t *testing.T) {
	metrics := map[string]float64{"z": 0.1, "a": 0.2, "m": 0.3}
	thresholds := map[string]float64{"z": 0.5, "a": 0.5, "m": 0.5}

	first, err := gate.Evaluate(metrics, thresholds)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	second, err := gate.Evaluate(metrics, thresholds)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("gate logic must be deterministic:\n%+v\n%+v", first, second)
	}
	if !reflect.DeepEqual(first.Violations, []string{"a", "m", "z"}) {
		t.Fatalf("violations must be sorted by name, got %v", first.Violations)
	}
	if first.Reason == "" {
		t.Fatalf("reason must summarize the violations")
	}
}

func TestEmptyThresholdsRejected(t *testing.T) {
	if _, err := gate.Evaluate(map[string]float64{"a": 1}, nil); err == nil {
		t.Fatalf("want error for empty thresholds")
	}
}
