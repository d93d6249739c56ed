// Package pipeline runs champion/challenger promotion cycles: shadow sampling,
// canary dispatch, gate evaluation, and a ledgered terminal decision.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/danielgonzagat/peninaocubo-sub006/internal/backend"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/gate"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/ledger"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/observe"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/router"
)

// Phase is the pipeline state for one run.
type Phase string

const (
	PhaseShadow  Phase = "shadow"
	PhaseCanary  Phase = "canary"
	PhaseDecided Phase = "decided"
)

// Outcome labels for a decided run.
const (
	OutcomePromoted   = "promoted"
	OutcomeRolledBack = "rolled_back"
)

// Terminal reasons for runs that never reached a passing gate.
const (
	ReasonCancelled         = "CANCELLED"
	ReasonIncompleteMetrics = "INCOMPLETE_METRICS"
)

// ReliabilityMetric is the pipeline-owned criterion tracking the fraction of
// challenger dispatches that succeeded. Router exhaustion during sampling
// lowers it instead of aborting the run.
const ReliabilityMetric = "reliability"

// ScoreFn computes per-sample quality metrics from challenger and champion
// outputs. Champion output may be nil when the mirror dispatch failed.
type ScoreFn func(challengerOutput, championOutput []byte, sampleCtx map[string]interface{}) map[string]float64

// Sample is one evaluation input, mirroring a real request.
type Sample struct {
	Payload []byte
	Context map[string]interface{}
}

// RunRequest describes one champion→challenger evaluation cycle.
type RunRequest struct {
	ChampionID   string
	ChallengerID string

	// ChampionBackends and ChallengerBackends are candidate lists ordered by
	// ascending estimated cost, per configuration.
	ChampionBackends   []backend.Adapter
	ChallengerBackends []backend.Adapter

	// Samples is the evaluation traffic; it is cycled when shorter than the
	// configured sample counts.
	Samples []Sample
}

// RunResult is the terminal, ledgered outcome of one run.
type RunResult struct {
	DecisionID string                `json:"decisionId"`
	Outcome    string                `json:"outcome"`
	Reason     string                `json:"reason"`
	Gate       *gate.Result          `json:"gateResult,omitempty"`
	Metrics    map[string]float64    `json:"metrics"`
	Artifact   *ledger.ProofArtifact `json:"artifact"`
}

// Config wires a Pipeline.
type Config struct {
	Router *router.Router
	Ledger *ledger.Ledger
	Sink   observe.Sink
	Score  ScoreFn

	// Thresholds is the data-driven criterion set the gate enforces.
	Thresholds map[string]float64

	// ShadowSamples is the minimum shadow sample count. Default 10.
	ShadowSamples int

	// CanarySamples is the minimum canary sample count. Default 10.
	CanarySamples int

	// CanaryFraction is the fraction of live decisions sampled into the
	// canary. Default 0.05; clamped to (0, 1].
	CanaryFraction float64

	// Rand overrides the canary sampling source, for tests.
	Rand *rand.Rand
}

// Pipeline executes promotion runs. Many runs may execute concurrently; all
// shared state lives in the injected router and ledger.
type Pipeline struct {
	router     *router.Router
	ledger     *ledger.Ledger
	sink       observe.Sink
	score      ScoreFn
	thresholds map[string]float64

	shadowSamples  int
	canarySamples  int
	canaryFraction float64
	rand           *rand.Rand
}

// New validates cfg and returns a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Router == nil || cfg.Ledger == nil {
		return nil, errors.New("pipeline: router and ledger are required")
	}
	if cfg.Score == nil {
		return nil, errors.New("pipeline: score function is required")
	}
	if len(cfg.Thresholds) == 0 {
		return nil, errors.New("pipeline: thresholds are required")
	}
	if cfg.Sink == nil {
		cfg.Sink = observe.NopSink{}
	}
	if cfg.ShadowSamples <= 0 {
		cfg.ShadowSamples = 10
	}
	if cfg.CanarySamples <= 0 {
		cfg.CanarySamples = 10
	}
	if cfg.CanaryFraction <= 0 || cfg.CanaryFraction > 1 {
		cfg.CanaryFraction = 0.05
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Pipeline{
		router:         cfg.Router,
		ledger:         cfg.Ledger,
		sink:           cfg.Sink,
		score:          cfg.Score,
		thresholds:     cfg.Thresholds,
		shadowSamples:  cfg.ShadowSamples,
		canarySamples:  cfg.CanarySamples,
		canaryFraction: cfg.CanaryFraction,
		rand:           cfg.Rand,
	}, nil
}

// run carries the transient state for one evaluation cycle.
type run struct {
	phase        Phase
	decisionID   string
	championID   string
	challengerID string

	metricSums   map[string]float64
	metricCounts map[string]int
	attempts     int
	successes    int
	costIncurred float64
}

func (r *run) addMetrics(m map[string]float64) {
	for name, v := range m {
		r.metricSums[name] += v
		r.metricCounts[name]++
	}
}

func (r *run) collected() map[string]float64 {
	out := make(map[string]float64, len(r.metricSums)+1)
	for name, sum := range r.metricSums {
		out[name] = sum / float64(r.metricCounts[name])
	}
	if r.attempts > 0 {
		out[ReliabilityMetric] = float64(r.successes) / float64(r.attempts)
	} else {
		out[ReliabilityMetric] = 0
	}
	return out
}

// Run executes one full promotion cycle. Gate rejections, cancellation, and
// missing metrics terminate as ledgered rollbacks, not errors. The only error
// path is the ledger itself failing, which includes the fail-stop ErrCorrupted
// condition.
func (p *Pipeline) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if req.ChampionID == "" || req.ChallengerID == "" {
		return nil, errors.New("pipeline: champion and challenger ids required")
	}
	if len(req.ChallengerBackends) == 0 {
		return nil, errors.New("pipeline: challenger backends required")
	}
	if len(req.Samples) == 0 {
		return nil, errors.New("pipeline: at least one sample required")
	}

	st := &run{
		phase:        PhaseShadow,
		decisionID:   uuid.New().String(),
		championID:   req.ChampionID,
		challengerID: req.ChallengerID,
		metricSums:   map[string]float64{},
		metricCounts: map[string]int{},
	}
	log.Printf("[pipeline] run %s: %s vs %s", st.decisionID, st.championID, st.challengerID)

	// Shadow: mirrored traffic, no live effect, no gate check yet.
	if cancelled := p.samplePhase(ctx, st, req, p.shadowSamples, false); cancelled {
		return p.decide(ctx, st, nil, OutcomeRolledBack, ReasonCancelled)
	}

	// Canary: a small fraction of live dispatch decisions.
	st.phase = PhaseCanary
	if cancelled := p.samplePhase(ctx, st, req, p.canarySamples, true); cancelled {
		return p.decide(ctx, st, nil, OutcomeRolledBack, ReasonCancelled)
	}

	// Decided: gate the merged metric set.
	st.phase = PhaseDecided
	result, err := gate.Evaluate(st.collected(), p.thresholds)
	if err != nil {
		var missing *gate.MissingMetricError
		if errors.As(err, &missing) {
			// Fail-closed: missing evidence is a rollback, not a crash.
			return p.decide(ctx, st, nil, OutcomeRolledBack, ReasonIncompleteMetrics)
		}
		return nil, fmt.Errorf("gate evaluation: %w", err)
	}

	if result.Passed {
		return p.decide(ctx, st, &result, OutcomePromoted, result.Reason)
	}
	return p.decide(ctx, st, &result, OutcomeRolledBack, result.Reason)
}

// samplePhase collects metrics until count samples were taken or the run is
// cancelled. Returns true only when cancellation cut the phase short; a phase
// that reached its sample count is complete even if cancellation lands right
// after the last sample.
func (p *Pipeline) samplePhase(ctx context.Context, st *run, req RunRequest, count int, live bool) bool {
	taken := 0
	for i := 0; taken < count; i++ {
		if ctx.Err() != nil {
			return true
		}
		sample := req.Samples[i%len(req.Samples)]

		if live && p.canaryFraction < 1 && p.rand.Float64() >= p.canaryFraction {
			// This live decision stays on the champion; not a canary sample.
			continue
		}
		taken++
		p.takeSample(ctx, st, req, sample)
	}
	return false
}

func (p *Pipeline) takeSample(ctx context.Context, st *run, req RunRequest, sample Sample) {
	st.attempts++

	challengerRes, err := p.router.Route(ctx, sample.Payload, req.ChallengerBackends)
	if err != nil {
		// Router exhaustion is a reliability failure, never an abort: the run
		// must still reach a ledgered decision.
		p.emit(st, "pipeline.sample_failed", map[string]interface{}{"error": err.Error()})
		return
	}
	st.successes++
	st.costIncurred += challengerRes.CostSpent

	var championOut []byte
	if len(req.ChampionBackends) > 0 {
		if championRes, err := p.router.Route(ctx, sample.Payload, req.ChampionBackends); err == nil {
			championOut = championRes.Payload
			st.costIncurred += championRes.CostSpent
		}
	}

	st.addMetrics(p.score(challengerRes.Payload, championOut, sample.Context))
}

// decide seals the terminal outcome into the ledger and returns it. This is
// the single exit for every run, cancelled or not.
func (p *Pipeline) decide(ctx context.Context, st *run, gateRes *gate.Result, outcome, reason string) (*RunResult, error) {
	st.phase = PhaseDecided

	decisionType := ledger.DecisionRollback
	if outcome == OutcomePromoted {
		decisionType = ledger.DecisionPromote
	}

	var snapshot gate.Result
	if gateRes != nil {
		snapshot = *gateRes
	} else {
		snapshot = gate.Result{Passed: false, Reason: reason}
	}

	// The terminal decision must land even when the run was cancelled, so the
	// append is detached from the caller's cancellation.
	metrics := st.collected()
	artifact, err := p.ledger.Append(context.WithoutCancel(ctx), ledger.Decision{
		DecisionID:   st.decisionID,
		Type:         decisionType,
		ChampionID:   st.championID,
		ChallengerID: st.challengerID,
		Gate:         snapshot,
		Reason:       reason,
		CostIncurred: st.costIncurred,
		Metadata: map[string]interface{}{
			"metrics":   metrics,
			"attempts":  st.attempts,
			"successes": st.successes,
		},
	})
	if err != nil {
		// Ledger failure (including fail-stop corruption) is the one condition
		// that escapes a run unledgered.
		return nil, fmt.Errorf("ledger decision %s: %w", st.decisionID, err)
	}

	p.emit(st, "pipeline.decided", map[string]interface{}{
		"outcome": outcome,
		"reason":  reason,
	})
	log.Printf("[pipeline] run %s decided: %s (%s)", st.decisionID, outcome, reason)

	return &RunResult{
		DecisionID: st.decisionID,
		Outcome:    outcome,
		Reason:     reason,
		Gate:       gateRes,
		Metrics:    metrics,
		Artifact:   artifact,
	}, nil
}

func (p *Pipeline) emit(st *run, event string, fields map[string]interface{}) {
	fields["decisionId"] = st.decisionID
	fields["phase"] = string(st.phase)
	fields["challengerId"] = st.challengerID
	p.sink.Emit(observe.Event{Timestamp: time.Now().UTC(), Event: event, Fields: fields})
}
