package triage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/marlinbank/sift/internal/fraud"
	"github.com/marlinbank/sift/internal/fraud/memstore"
	"github.com/marlinbank/sift/internal/kb"
)

// stubAgent lets tests script a step's behavior.
type stubAgent struct {
	name     StepName
	critical bool
	run      func(ctx context.Context, rc *RunContext) (StepDetail, error)
	calls    int
}

func (a *stubAgent) Name() StepName { return a.name }
func (a *stubAgent) Critical() bool { return a.critical }
func (a *stubAgent) Run(ctx context.Context, rc *RunContext) (StepDetail, error) {
	a.calls++
	return a.run(ctx, rc)
}

func okProfile(ctx context.Context, rc *RunContext) (StepDetail, error) {
	return &ProfileDetail{
		Customer: &fraud.Customer{ID: "cust-1", KYCLevel: fraud.KYCVerified},
		Cards:    []fraud.Card{{ID: "card-1", Status: fraud.CardActive}},
	}, nil
}

func okRecentTx(ctx context.Context, rc *RunContext) (StepDetail, error) {
	return &RecentTxDetail{Transactions: []fraud.Transaction{
		{ID: "t1", Merchant: "Grocer One", AmountMinorUnits: 3000},
	}}, nil
}

func okSignals(score int) func(context.Context, *RunContext) (StepDetail, error) {
	return func(ctx context.Context, rc *RunContext) (StepDetail, error) {
		return &RiskSignals{Score: score, Reasons: []string{"test reason"}}, nil
	}
}

func okKb(ctx context.Context, rc *RunContext) (StepDetail, error) {
	return &KbDetail{Retrieval: &kb.Retrieval{
		Citations: []string{"Reference: Transaction Velocity Guidelines"},
	}}, nil
}

func stepFails(ctx context.Context, rc *RunContext) (StepDetail, error) {
	return nil, errors.New("backend unavailable")
}

func defaultStubs(score int) []Agent {
	return []Agent{
		&stubAgent{name: StepGetProfile, critical: true, run: okProfile},
		&stubAgent{name: StepRecentTx, critical: true, run: okRecentTx},
		&stubAgent{name: StepRiskSignals, run: okSignals(score)},
		&stubAgent{name: StepKbLookup, run: okKb},
		&stubAgent{name: StepDecide, run: NewDecideAgent().Run},
		&stubAgent{name: StepProposeAction, run: NewProposeActionAgent(nil, nil, time.UTC).Run},
	}
}

type testEngine struct {
	engine *Engine
	store  *memstore.Store
	stream *Stream
}

func newTestEngine(t *testing.T, agents []Agent) *testEngine {
	t.Helper()
	store := memstore.New()
	stream := NewStream(time.Minute, nil)
	t.Cleanup(stream.Close)

	engine := NewEngine(EngineConfig{
		Store:       store,
		Breakers:    NewBreakers(BreakerConfig{}),
		Stream:      stream,
		Summarizer:  NewSummarizer(nil, log.Nop()),
		Agents:      agents,
		StepTimeout: 100 * time.Millisecond,
		Logger:      log.Nop(),
	})
	return &testEngine{engine: engine, store: store, stream: stream}
}

func (te *testEngine) execute(t *testing.T, ctx context.Context) (*Result, []Event) {
	t.Helper()

	run := &fraud.TriageRun{ID: "run-1", AlertID: "alert-1", StartedAt: time.Now()}
	if err := te.store.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	te.stream.Open(run.ID)
	events, cancel, ok := te.stream.Subscribe(run.ID)
	if !ok {
		t.Fatal("subscribe failed")
	}
	t.Cleanup(cancel)

	rc := &RunContext{
		Request: Request{AlertID: "alert-1", CustomerID: "cust-1", SuspectTxnID: "txn-1", Role: fraud.RoleAgent},
		Alert:   &fraud.Alert{ID: "alert-1"},
		Suspect: &fraud.Transaction{ID: "txn-1", AmountMinorUnits: 12000, TS: time.Now()},
		Now:     time.Now(),
	}
	res := te.engine.Execute(ctx, run, rc)

	var got []Event
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, open := <-events:
			if !open {
				return res, got
			}
			got = append(got, ev)
			if ev.Type == EventCompleted {
				return res, got
			}
		case <-deadline:
			t.Fatal("timed out waiting for completed event")
		}
	}
}

func eventTypes(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func TestEngine_HappyPath(t *testing.T) {
	t.Parallel()

	te := newTestEngine(t, defaultStubs(20))
	res, events := te.execute(t, context.Background())

	if res.Decision.Level != fraud.RiskLow {
		t.Errorf("level = %q, want low", res.Decision.Level)
	}
	if res.Decision.ProposedAction != ActionFalsePositive {
		t.Errorf("action = %q, want false_positive", res.Decision.ProposedAction)
	}
	if res.Decision.FallbackUsed {
		t.Error("fallbackUsed = true, want false")
	}
	if len(res.Traces) != 6 {
		t.Fatalf("traces = %d, want 6", len(res.Traces))
	}
	for i, tr := range res.Traces {
		if tr.Seq != i {
			t.Errorf("trace %d has seq %d, want contiguous", i, tr.Seq)
		}
		if !tr.OK {
			t.Errorf("trace %d (%s) not ok", i, tr.Step)
		}
	}
	if res.Summary == nil || res.Summary.CustomerMessage == "" {
		t.Error("expected a summary with a customer message")
	}

	types := eventTypes(events)
	if types[0] != EventConnected {
		t.Errorf("first event %q, want connected", types[0])
	}
	if types[len(types)-1] != EventCompleted {
		t.Errorf("last event %q, want completed", types[len(types)-1])
	}
	finalized := 0
	for _, typ := range types {
		if typ == EventDecisionFinalized {
			finalized++
		}
	}
	if finalized != 1 {
		t.Errorf("decision_finalized emitted %d times, want exactly once", finalized)
	}

	// The run is terminal in the store with traces flushed.
	stored, ok, err := te.store.GetRun(context.Background(), "run-1")
	if err != nil || !ok {
		t.Fatalf("GetRun = (%v, %v)", ok, err)
	}
	if !stored.Terminal() {
		t.Error("stored run not terminal")
	}
	traces, err := te.store.ListTraces(context.Background(), "run-1")
	if err != nil || len(traces) != 6 {
		t.Errorf("stored traces = %d (%v), want 6", len(traces), err)
	}
}

func TestEngine_NonCriticalTimeoutFallsBack(t *testing.T) {
	t.Parallel()

	agents := defaultStubs(0)
	agents[2] = &stubAgent{name: StepRiskSignals, run: func(ctx context.Context, rc *RunContext) (StepDetail, error) {
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	}}

	te := newTestEngine(t, agents)
	res, events := te.execute(t, context.Background())

	// Substituted score 50 maps to medium; confidence takes the fallback
	// penalty: min(50*0.7, 70) = 35.
	if !res.Decision.FallbackUsed {
		t.Fatal("fallbackUsed = false, want true")
	}
	if res.Decision.Level != fraud.RiskMedium {
		t.Errorf("level = %q, want medium", res.Decision.Level)
	}
	if res.Decision.Confidence != 35 {
		t.Errorf("confidence = %v, want 35", res.Decision.Confidence)
	}
	if res.Traces[2].OK {
		t.Error("riskSignals trace ok = true, want false")
	}

	var sawFallback bool
	for _, ev := range events {
		if ev.Type == EventFallbackTriggered {
			sawFallback = true
			if ev.Data["failedStep"] != string(StepRiskSignals) {
				t.Errorf("failedStep = %v, want riskSignals", ev.Data["failedStep"])
			}
		}
	}
	if !sawFallback {
		t.Error("no fallback_triggered event")
	}
}

func TestEngine_CriticalFailureShortCircuits(t *testing.T) {
	t.Parallel()

	agents := defaultStubs(0)
	agents[0] = &stubAgent{name: StepGetProfile, critical: true, run: stepFails}
	downstream := agents[1].(*stubAgent)

	te := newTestEngine(t, agents)
	res, _ := te.execute(t, context.Background())

	if len(res.Traces) != 1 {
		t.Fatalf("traces = %d, want 1 (short-circuit)", len(res.Traces))
	}
	if res.Traces[0].OK {
		t.Error("trace 0 ok = true, want false")
	}
	if downstream.calls != 0 {
		t.Error("downstream step ran after critical failure")
	}
	if !res.Decision.FallbackUsed {
		t.Error("fallbackUsed = false, want true")
	}
	if res.Decision.Level != fraud.RiskLow {
		t.Errorf("level = %q, want low", res.Decision.Level)
	}
	if res.Decision.ProposedAction != ActionFalsePositive {
		t.Errorf("action = %q, want false_positive", res.Decision.ProposedAction)
	}
}

func TestEngine_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	failing := &stubAgent{name: StepKbLookup, run: stepFails}
	store := memstore.New()
	stream := NewStream(time.Minute, nil)
	t.Cleanup(stream.Close)

	var opened []string
	engine := NewEngine(EngineConfig{
		Store: store,
		Breakers: NewBreakers(BreakerConfig{
			FailThreshold: 3,
			ResetAfter:    time.Hour,
			OnOpen:        func(step string) { opened = append(opened, step) },
		}),
		Stream:      stream,
		Agents:      []Agent{failing},
		StepTimeout: 100 * time.Millisecond,
		Logger:      log.Nop(),
	})

	rc := &RunContext{Suspect: &fraud.Transaction{TS: time.Now()}, Now: time.Now()}
	for i := 0; i < 3; i++ {
		_, outcome, _, _ := engine.runStep(context.Background(), failing, rc)
		if outcome != OutcomeError {
			t.Fatalf("call %d outcome = %q, want error", i+1, outcome)
		}
	}
	if len(opened) != 1 || opened[0] != string(StepKbLookup) {
		t.Fatalf("breaker opens = %v, want one for kbLookup", opened)
	}

	// Fourth call fails fast without invoking the agent.
	before := failing.calls
	_, outcome, _, _ := engine.runStep(context.Background(), failing, rc)
	if outcome != OutcomeCircuitOpen {
		t.Fatalf("outcome = %q, want circuit_open", outcome)
	}
	if failing.calls != before {
		t.Error("agent invoked while circuit open")
	}
}

func TestEngine_RunBudgetExhausted(t *testing.T) {
	t.Parallel()

	// Budget expires during riskSignals; the engine stops after that step
	// and composes from what is present.
	agents := defaultStubs(0)
	agents[2] = &stubAgent{name: StepRiskSignals, run: func(ctx context.Context, rc *RunContext) (StepDetail, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	decide := agents[4].(*stubAgent)

	te := newTestEngine(t, agents)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, _ := te.execute(t, ctx)

	if !res.Decision.FallbackUsed {
		t.Error("fallbackUsed = false, want true")
	}
	if decide.calls != 0 {
		t.Error("decide ran after budget exhaustion")
	}
	if !res.Run.Terminal() {
		t.Error("run not terminal after budget exhaustion")
	}
}
