// Package gate aggregates named metrics into a single non-compensatory,
// fail-closed promotion verdict.
package gate

import (
	"fmt"
	"sort"
	"strings"
)

// epsilon floors criterion values in the harmonic mean so a zero score cannot
// divide by zero. The mean is report-only and never overrides a violation.
const epsilon = 1e-9

// MissingMetricError is returned when a thresholded criterion has no metric
// value. Missing data is fatal for the evaluation, never silently skipped.
type MissingMetricError struct {
	Criterion string
}

func (e *MissingMetricError) Error() string {
	return fmt.Sprintf("gate: metric %q required by thresholds is missing", e.Criterion)
}

// Score is one named criterion value in a Result.
type Score struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Result is the verdict for one evaluation call.
type Result struct {
	Passed            bool     `json:"passed"`
	AggregateScore    float64  `json:"aggregateScore"`
	PerCriterionScore []Score  `json:"perCriterionScores"`
	Violations        []string `json:"violations,omitempty"`
	Reason            string   `json:"reason"`
}

// Evaluate checks every criterion named in thresholds against metrics.
// Passing is non-compensatory: a single criterion below its threshold forces
// Passed=false no matter how high the aggregate score is. The aggregate is the
// harmonic mean of the criterion values, used only for reporting and ranking.
func Evaluate(metrics map[string]float64, thresholds map[string]float64) (Result, error) {
	if len(thresholds) == 0 {
		return Result{}, fmt.Errorf("gate: thresholds required")
	}

	names := make([]string, 0, len(thresholds))
	for name := range thresholds {
		names = append(names, name)
	}
	sort.Strings(names)

	scores := make([]Score, 0, len(names))
	var violations []string
	var shortfalls []string
	var invSum float64

	for _, name := range names {
		value, ok := metrics[name]
		if !ok {
			return Result{}, &MissingMetricError{Criterion: name}
		}
		scores = append(scores, Score{Name: name, Value: value})

		v := value
		if v < epsilon {
			v = epsilon
		}
		invSum += 1 / v

		if value < thresholds[name] {
			violations = append(violations, name)
			shortfalls = append(shortfalls, fmt.Sprintf("%s=%.4f (< %.4f)", name, value, thresholds[name]))
		}
	}

	aggregate := float64(len(names)) / invSum
	res := Result{
		Passed:            len(violations) == 0,
		AggregateScore:    aggregate,
		PerCriterionScore: scores,
		Violations:        violations,
	}
	if res.Passed {
		res.Reason = fmt.Sprintf("all %d criteria met their thresholds", len(names))
	} else {
		res.Reason = fmt.Sprintf("%d of %d criteria violated: %s",
			len(violations), len(names), strings.Join(shortfalls, ", "))
	}
	return res, nil
}
