package triage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/marlinbank/sift/internal/fraud"
	"github.com/marlinbank/sift/internal/kvcache"
)

// StartResult is the outcome of starting a triage run.
type StartResult struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
}

// StatusResult is a run's current state with its traces.
type StatusResult struct {
	Run    fraud.TriageRun    `json:"run"`
	Status string             `json:"status"` // running | completed
	Traces []fraud.AgentTrace `json:"traces"`
}

// ServiceHooks are optional instrumentation callbacks.
type ServiceHooks struct {
	OnStart func(result string)
}

// Service is the business boundary for triage operations: it validates and
// rate-limits start requests, deduplicates per alert, and dispatches runs to
// the engine asynchronously.
type Service struct {
	store      fraud.Store
	engine     *Engine
	stream     *Stream
	limiter    *kvcache.Limiter
	runTimeout time.Duration
	logger     log.Logger
	hooks      ServiceHooks

	mu     sync.Mutex
	active map[string]context.CancelFunc // runID -> cancel
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Store      fraud.Store
	Engine     *Engine
	Stream     *Stream
	Limiter    *kvcache.Limiter
	RunTimeout time.Duration
	Logger     log.Logger
	Hooks      ServiceHooks
}

// NewService creates a triage service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	return &Service{
		store:      cfg.Store,
		engine:     cfg.Engine,
		stream:     cfg.Stream,
		limiter:    cfg.Limiter,
		runTimeout: cfg.RunTimeout,
		logger:     cfg.Logger,
		hooks:      cfg.Hooks,
		active:     make(map[string]context.CancelFunc),
	}
}

// Start validates the request and kicks off an asynchronous run. At most one
// run per alert is in flight; a second start returns a ConflictError carrying
// the existing run's id.
func (s *Service) Start(ctx context.Context, req Request) (*StartResult, error) {
	if s.limiter != nil && req.ClientID != "" {
		if d := s.limiter.Allow(ctx, req.ClientID); !d.Allowed {
			s.start("rate_limited")
			return nil, &fraud.RateLimitedError{RetryAfter: d.RetryAfter}
		}
	}

	var missing []string
	if req.AlertID == "" {
		missing = append(missing, "alertId")
	}
	if req.CustomerID == "" {
		missing = append(missing, "customerId")
	}
	if req.SuspectTxnID == "" {
		missing = append(missing, "suspectTxnId")
	}
	if len(missing) > 0 {
		s.start("invalid")
		return nil, &fraud.ValidationError{Fields: missing}
	}

	alert, ok, err := s.store.GetAlert(ctx, req.AlertID)
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	if !ok {
		s.start("not_found")
		return nil, fraud.NotFoundf("alert", req.AlertID)
	}

	suspect, ok, err := s.store.GetTransaction(ctx, req.SuspectTxnID)
	if err != nil {
		return nil, fmt.Errorf("get suspect txn: %w", err)
	}
	if !ok {
		s.start("not_found")
		return nil, fraud.NotFoundf("transaction", req.SuspectTxnID)
	}

	if existing, ok, err := s.store.ActiveRunForAlert(ctx, req.AlertID); err != nil {
		return nil, fmt.Errorf("check active run: %w", err)
	} else if ok {
		s.start("conflict")
		return nil, &fraud.ConflictError{
			Msg:        "alert already has an in-flight run",
			ExistingID: existing,
		}
	}

	run := &fraud.TriageRun{
		ID:        ulid.Make().String(),
		AlertID:   req.AlertID,
		StartedAt: time.Now(),
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		// CreateRun re-checks under the store's own serialization; a race
		// between two starts surfaces here as a conflict.
		var conflict *fraud.ConflictError
		if errors.As(err, &conflict) {
			s.start("conflict")
			return nil, conflict
		}
		return nil, fmt.Errorf("create run: %w", err)
	}

	if err := s.store.SetAlertStatus(ctx, req.AlertID, fraud.AlertInvestigating); err != nil {
		s.logger.Error(ctx, err, "failed to mark alert investigating", "alert_id", req.AlertID)
	}

	s.stream.Open(run.ID)

	rc := &RunContext{
		Request: req,
		Alert:   alert,
		Suspect: suspect,
		Now:     time.Now(),
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.runTimeout)
	s.mu.Lock()
	s.active[run.ID] = cancel
	s.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.active, run.ID)
			s.mu.Unlock()
		}()
		s.engine.Execute(runCtx, run, rc)
	}()

	s.start("started")
	return &StartResult{RunID: run.ID, Status: "started"}, nil
}

// Status fetches a run with its traces.
func (s *Service) Status(ctx context.Context, runID string) (*StatusResult, error) {
	run, ok, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if !ok {
		return nil, fraud.NotFoundf("run", runID)
	}

	traces, err := s.store.ListTraces(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}

	status := "running"
	if run.Terminal() {
		status = "completed"
	}
	return &StatusResult{Run: *run, Status: status, Traces: traces}, nil
}

// Subscribe attaches to a run's event stream. ok is false when the run is
// unknown or already torn down.
func (s *Service) Subscribe(runID string) (<-chan Event, func(), bool) {
	return s.stream.Subscribe(runID)
}

// Cancel aborts an in-flight run. The engine still composes and persists a
// terminal decision from whatever steps completed.
func (s *Service) Cancel(runID string) bool {
	s.mu.Lock()
	cancel, ok := s.active[runID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ActiveRuns reports how many runs are currently in flight in this process.
func (s *Service) ActiveRuns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// ListAlerts returns alerts with customer and suspect summaries, newest
// first.
func (s *Service) ListAlerts(ctx context.Context, limit int) ([]fraud.AlertListing, error) {
	return s.store.ListAlerts(ctx, limit)
}

func (s *Service) start(result string) {
	if s.hooks.OnStart != nil {
		s.hooks.OnStart(result)
	}
}
