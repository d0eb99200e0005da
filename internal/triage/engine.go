package triage

import (
	"context"
	"errors"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/sony/gobreaker"

	"github.com/marlinbank/sift/internal/fraud"
	"github.com/marlinbank/sift/internal/kb"
	"github.com/marlinbank/sift/internal/redact"
)

// Outcome classifies how a step ended.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeError       Outcome = "error"
	OutcomeCircuitOpen Outcome = "circuit_open"
)

// EngineHooks are optional callbacks for instrumentation. Nil fields are
// skipped.
type EngineHooks struct {
	OnStep     func(step, outcome string, seconds float64)
	OnFallback func(step string)
	OnRun      func(risk string, fallbackUsed bool, seconds float64)
}

// Notifier is told about finalized decisions, e.g. to post to Slack.
// Notification is best-effort; failures are logged and ignored.
type Notifier interface {
	DecisionFinalized(ctx context.Context, res *Result) error
}

// Engine runs the triage pipeline for one alert: fixed plan, per-step
// deadline, circuit breakers, deterministic fallbacks, then decision
// composition. It publishes progress on the stream and persists traces as
// it goes.
type Engine struct {
	store       fraud.Store
	breakers    *Breakers
	stream      *Stream
	summarizer  *Summarizer
	notifier    Notifier
	agents      []Agent
	stepTimeout time.Duration
	logger      log.Logger
	hooks       EngineHooks
}

// EngineConfig wires an Engine.
type EngineConfig struct {
	Store       fraud.Store
	Breakers    *Breakers
	Stream      *Stream
	Summarizer  *Summarizer
	Notifier    Notifier
	Agents      []Agent
	StepTimeout time.Duration
	Logger      log.Logger
	Hooks       EngineHooks
}

// NewEngine creates a triage engine with the given dependencies.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	return &Engine{
		store:       cfg.Store,
		breakers:    cfg.Breakers,
		stream:      cfg.Stream,
		summarizer:  cfg.Summarizer,
		notifier:    cfg.Notifier,
		agents:      cfg.Agents,
		stepTimeout: cfg.StepTimeout,
		logger:      cfg.Logger,
		hooks:       cfg.Hooks,
	}
}

// DefaultAgents returns the fixed pipeline in plan order.
func DefaultAgents(store fraud.Store, retriever *kb.Retriever, propose *ProposeActionAgent) []Agent {
	return []Agent{
		NewProfileAgent(store),
		NewRecentTxAgent(store),
		NewRiskSignalsAgent(store),
		NewKbLookupAgent(retriever),
		NewDecideAgent(),
		propose,
	}
}

// Execute runs the pipeline to completion. The context carries the overall
// run deadline; store writes use a detached context so a blown budget never
// loses the terminal record. Execute never returns step errors: they are
// absorbed into traces and fallbacks.
func (e *Engine) Execute(ctx context.Context, run *fraud.TriageRun, rc *RunContext) *Result {
	start := time.Now()
	storeCtx := context.WithoutCancel(ctx)

	L := e.logger.With("run_id", run.ID, "alert_id", run.AlertID)

	plan := make([]string, 0, len(e.agents))
	for _, ag := range e.agents {
		plan = append(plan, string(ag.Name()))
	}
	e.publish(run.ID, EventPlanBuilt, map[string]any{"plan": plan})

	var traces []fraud.AgentTrace
	fallbackUsed := false

	for seq, ag := range e.agents {
		detail, outcome, dur, err := e.runStep(ctx, ag, rc)
		ok := outcome == OutcomeOK

		traceDetail := map[string]any{}
		if ok {
			traceDetail = redact.Map(detail.TraceDetail())
		} else {
			traceDetail["outcome"] = string(outcome)
			if err != nil {
				msg, _ := redact.String(err.Error())
				traceDetail["error"] = msg
			}
		}

		trace := fraud.AgentTrace{
			RunID:      run.ID,
			Seq:        seq,
			Step:       string(ag.Name()),
			OK:         ok,
			DurationMs: dur.Milliseconds(),
			Detail:     traceDetail,
		}
		traces = append(traces, trace)
		if err := e.store.AppendTrace(storeCtx, &trace); err != nil {
			L.Error(ctx, err, "append trace failed", "step", ag.Name(), "seq", seq)
		}
		if e.hooks.OnStep != nil {
			e.hooks.OnStep(string(ag.Name()), string(outcome), dur.Seconds())
		}
		e.publish(run.ID, EventToolUpdate, map[string]any{
			"seq":        seq,
			"step":       string(ag.Name()),
			"ok":         ok,
			"durationMs": dur.Milliseconds(),
			"detail":     traceDetail,
		})

		if ok {
			rc.apply(detail)
		} else if ag.Critical() {
			L.Warn(ctx, "critical step failed, short-circuiting run",
				"step", ag.Name(), "outcome", string(outcome))
			fallbackUsed = true
			break
		} else {
			L.Warn(ctx, "step failed, substituting fallback",
				"step", ag.Name(), "outcome", string(outcome))
			fallbackUsed = true
			rc.applyFallback(ag.Name())
			if e.hooks.OnFallback != nil {
				e.hooks.OnFallback(string(ag.Name()))
			}
			e.publish(run.ID, EventFallbackTriggered, map[string]any{
				"failedStep": string(ag.Name()),
				"outcome":    string(outcome),
			})
		}

		// Out of overall budget: compose with whatever is present.
		if ctx.Err() != nil {
			L.Warn(ctx, "run budget exhausted", "after_step", ag.Name())
			fallbackUsed = true
			break
		}
	}

	decision := Compose(rc, fallbackUsed)

	var summary *Summary
	if e.summarizer != nil {
		summary = e.summarizer.Summarize(storeCtx, rc, &decision)
	}

	now := time.Now()
	run.EndedAt = &now
	run.Risk = decision.Level
	run.Reasons = redact.Strings(decision.Reasons)
	run.ProposedAction = decision.ProposedAction
	run.Confidence = decision.Confidence
	run.FallbackUsed = fallbackUsed
	run.LatencyMs = now.Sub(start).Milliseconds()

	res := &Result{
		Run:      *run,
		Decision: decision,
		Proposal: rc.Proposal,
		Summary:  summary,
		Traces:   traces,
	}

	if err := e.store.FinishRun(storeCtx, run); err != nil {
		L.Error(ctx, err, "terminal run persistence failed")
		e.publish(run.ID, EventError, map[string]any{
			"message": "failed to persist run outcome",
		})
		e.stream.Complete(run.ID)
		return res
	}

	citations := redact.Strings(decision.Citations)
	e.publish(run.ID, EventDecisionFinalized, map[string]any{
		"risk":           string(decision.Level),
		"proposedAction": decision.ProposedAction,
		"confidence":     decision.Confidence,
		"reasons":        run.Reasons,
		"citations":      citations,
		"fallbackUsed":   fallbackUsed,
	})
	e.stream.Complete(run.ID)

	if e.hooks.OnRun != nil {
		e.hooks.OnRun(string(decision.Level), fallbackUsed, now.Sub(start).Seconds())
	}

	L.Info(ctx, "triage complete",
		"risk", string(decision.Level),
		"action", decision.ProposedAction,
		"fallback_used", fallbackUsed,
		"latency_ms", run.LatencyMs,
	)

	if e.notifier != nil {
		if err := e.notifier.DecisionFinalized(storeCtx, res); err != nil {
			L.Warn(ctx, "decision notification failed", "error", err.Error())
		}
	}
	return res
}

type stepReturn struct {
	detail StepDetail
	err    error
}

// runStep invokes one agent under the per-step deadline, guarded by the
// step's circuit breaker. A timed-out agent is abandoned; a late result is
// discarded because only runStep's caller folds details into the context.
func (e *Engine) runStep(ctx context.Context, ag Agent, rc *RunContext) (StepDetail, Outcome, time.Duration, error) {
	begin := time.Now()
	out, err := e.breakers.For(string(ag.Name())).Execute(func() (any, error) {
		tctx, cancel := context.WithTimeout(ctx, e.stepTimeout)
		defer cancel()

		ch := make(chan stepReturn, 1)
		go func() {
			d, err := ag.Run(tctx, rc)
			ch <- stepReturn{detail: d, err: err}
		}()

		select {
		case r := <-ch:
			if r.err != nil {
				return nil, r.err
			}
			return r.detail, nil
		case <-tctx.Done():
			return nil, tctx.Err()
		}
	})
	took := time.Since(begin)

	switch {
	case err == nil:
		return out.(StepDetail), OutcomeOK, took, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, OutcomeCircuitOpen, took, err
	case errors.Is(err, context.DeadlineExceeded):
		return nil, OutcomeTimeout, took, err
	default:
		return nil, OutcomeError, took, err
	}
}

func (e *Engine) publish(runID, eventType string, data map[string]any) {
	e.stream.Publish(Event{Type: eventType, RunID: runID, Data: data})
}
