// Package httpserver exposes the governance API: starting and cancelling
// promotion runs, and reading ledger, budget, and breaker state.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/danielgonzagat/peninaocubo-sub006/internal/auth"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/backend"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/breaker"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/budget"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/ledger"
	"github.com/danielgonzagat/peninaocubo-sub006/internal/pipeline"
)

// Run states reported by GET /governance/runs/{id}.
const (
	RunStatusRunning = "running"
	RunStatusDecided = "decided"
	RunStatusFailed  = "failed"
)

// RunView is the API representation of one promotion run.
type RunView struct {
	RunID     string              `json:"runId"`
	Status    string              `json:"status"`
	StartedAt time.Time           `json:"startedAt"`
	Result    *pipeline.RunResult `json:"result,omitempty"`
	Error     string              `json:"error,omitempty"`
}

type runEntry struct {
	view   RunView
	cancel context.CancelFunc
}

// maxCompletedRuns bounds the completed-run history; the ledger remains the
// durable record once an entry is evicted.
const maxCompletedRuns = 256

// Server holds the governor's shared components and the in-flight run table.
type Server struct {
	pipeline *pipeline.Pipeline
	ledger   *ledger.Ledger
	budget   *budget.Tracker
	breakers *breaker.Set
	backends map[string]backend.Adapter
	verifier *auth.Verifier

	mu        sync.Mutex
	runs      map[string]*runEntry
	completed []string
	maxRuns   int
}

// New builds a Server. backends maps backend IDs to their adapters.
func New(p *pipeline.Pipeline, led *ledger.Ledger, tr *budget.Tracker, brs *breaker.Set,
	backends map[string]backend.Adapter, verifier *auth.Verifier) *Server {
	return &Server{
		pipeline: p,
		ledger:   led,
		budget:   tr,
		breakers: brs,
		backends: backends,
		verifier: verifier,
		runs:     map[string]*runEntry{},
		maxRuns:  maxCompletedRuns,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/governance", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.verifier.Middleware(true))
			r.Post("/runs", s.handleStartRun)
			r.Post("/runs/{id}/cancel", s.handleCancelRun)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.verifier.Middleware(false))
			r.Get("/runs/{id}", s.handleGetRun)
			r.Get("/ledger", s.handleLedger)
			r.Get("/ledger/verify", s.handleVerifyLedger)
			r.Get("/budget", s.handleBudget)
			r.Get("/breakers", s.handleBreakers)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC(),
	}
	if err := s.ledger.Ping(ctx); err != nil {
		status["ok"] = false
		status["ledger"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

type sampleRequest struct {
	Payload string                 `json:"payload"`
	Context map[string]interface{} `json:"context,omitempty"`
}

type startRunRequest struct {
	ChampionID         string          `json:"championId"`
	ChallengerID       string          `json:"challengerId"`
	ChampionBackends   []string        `json:"championBackends,omitempty"`
	ChallengerBackends []string        `json:"challengerBackends"`
	Samples            []sampleRequest `json:"samples"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ChampionID == "" || req.ChallengerID == "" {
		respondError(w, http.StatusBadRequest, "championId and challengerId required")
		return
	}
	if len(req.Samples) == 0 {
		respondError(w, http.StatusBadRequest, "at least one sample required")
		return
	}

	challengerBackends, err := s.resolveBackends(req.ChallengerBackends)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	championBackends, err := s.resolveBackends(req.ChampionBackends)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	samples := make([]pipeline.Sample, len(req.Samples))
	for i, sm := range req.Samples {
		samples[i] = pipeline.Sample{Payload: []byte(sm.Payload), Context: sm.Context}
	}

	runID := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	entry := &runEntry{
		view:   RunView{RunID: runID, Status: RunStatusRunning, StartedAt: time.Now().UTC()},
		cancel: cancel,
	}
	s.mu.Lock()
	s.runs[runID] = entry
	s.mu.Unlock()

	go func() {
		defer cancel()
		result, err := s.pipeline.Run(ctx, pipeline.RunRequest{
			ChampionID:         req.ChampionID,
			ChallengerID:       req.ChallengerID,
			ChampionBackends:   championBackends,
			ChallengerBackends: challengerBackends,
			Samples:            samples,
		})
		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			entry.view.Status = RunStatusFailed
			entry.view.Error = err.Error()
		} else {
			entry.view.Status = RunStatusDecided
			entry.view.Result = result
		}
		s.retireLocked(runID)
	}()

	respondJSON(w, http.StatusAccepted, map[string]string{"runId": runID})
}

// retireLocked records a finished run and evicts the oldest finished runs
// beyond the history cap. Callers hold s.mu.
func (s *Server) retireLocked(runID string) {
	s.completed = append(s.completed, runID)
	for len(s.completed) > s.maxRuns {
		delete(s.runs, s.completed[0])
		s.completed = s.completed[1:]
	}
}

func (s *Server) resolveBackends(ids []string) ([]backend.Adapter, error) {
	out := make([]backend.Adapter, 0, len(ids))
	for _, id := range ids {
		b, ok := s.backends[id]
		if !ok {
			return nil, fmt.Errorf("unknown backend %q", id)
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	entry, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		respondError(w, http.StatusNotFound, "unknown run")
		return
	}
	entry.cancel()
	respondJSON(w, http.StatusAccepted, map[string]string{"runId": id})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	entry, ok := s.runs[id]
	var view RunView
	if ok {
		view = entry.view
	}
	s.mu.Unlock()
	if !ok {
		respondError(w, http.StatusNotFound, "unknown run")
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	artifacts, err := s.ledger.ReadAll(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"head":      s.ledger.Head(),
		"artifacts": artifacts,
	})
}

func (s *Server) handleVerifyLedger(w http.ResponseWriter, r *http.Request) {
	valid, firstBad, err := s.ledger.VerifyChain(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"valid":             valid,
		"firstInvalidIndex": firstBad,
	})
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.budget.Usage())
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.breakers.Snapshots())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
