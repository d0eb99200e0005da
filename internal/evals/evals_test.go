package evals

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/marlinbank/sift/internal/fraud"
	"github.com/marlinbank/sift/internal/fraud/memstore"
)

// seedRun persists one terminal run with the given labels and a kbLookup
// trace so every report family has material.
func seedRun(t *testing.T, s *memstore.Store, n int, labeled, triaged fraud.RiskLabel, kbOK bool) {
	t.Helper()
	ctx := context.Background()

	alertID := fmt.Sprintf("alert-%d", n)
	runID := fmt.Sprintf("run-%d", n)
	if err := s.PutAlert(ctx, &fraud.Alert{
		ID: alertID, CustomerID: "cust-1", SuspectTxnID: "txn-1", Risk: labeled,
	}); err != nil {
		t.Fatalf("PutAlert: %v", err)
	}

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := s.CreateRun(ctx, &fraud.TriageRun{ID: runID, AlertID: alertID, StartedAt: started}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	steps := []struct {
		name string
		ok   bool
		ms   int64
	}{
		{"getProfile", true, 10},
		{"riskSignals", true, 40},
		{"kbLookup", kbOK, 20},
	}
	for seq, st := range steps {
		err := s.AppendTrace(ctx, &fraud.AgentTrace{
			RunID: runID, Seq: seq, Step: st.name, OK: st.ok, DurationMs: st.ms,
		})
		if err != nil {
			t.Fatalf("AppendTrace: %v", err)
		}
	}
	ended := started.Add(time.Second)
	err := s.FinishRun(ctx, &fraud.TriageRun{
		ID: runID, AlertID: alertID, EndedAt: &ended,
		Risk: triaged, FallbackUsed: !kbOK, LatencyMs: 1000,
	})
	if err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
}

func TestFraudDetection_ConfusionMatrix(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	seedRun(t, s, 1, fraud.RiskHigh, fraud.RiskHigh, true)
	seedRun(t, s, 2, fraud.RiskHigh, fraud.RiskMedium, true)
	seedRun(t, s, 3, fraud.RiskLow, fraud.RiskLow, true)
	seedRun(t, s, 4, fraud.RiskLow, fraud.RiskLow, false)

	rep, err := NewRunner(s).FraudDetection(context.Background())
	if err != nil {
		t.Fatalf("FraudDetection: %v", err)
	}
	if rep.TestCases != 4 || rep.Passed != 3 || rep.Failed != 1 {
		t.Fatalf("cases/passed/failed = %d/%d/%d, want 4/3/1", rep.TestCases, rep.Passed, rep.Failed)
	}
	if rep.Accuracy != 0.75 {
		t.Errorf("accuracy = %v, want 0.75", rep.Accuracy)
	}
	if rep.ConfusionMatrix["high"]["medium"] != 1 {
		t.Errorf("matrix[high][medium] = %d, want 1", rep.ConfusionMatrix["high"]["medium"])
	}
	if rep.ConfusionMatrix["low"]["low"] != 2 {
		t.Errorf("matrix[low][low] = %d, want 2", rep.ConfusionMatrix["low"]["low"])
	}
	if len(rep.TopFailures) != 1 || rep.TopFailures[0].ID != "run-2" {
		t.Errorf("topFailures = %+v, want run-2", rep.TopFailures)
	}
	if got := rep.AdditionalMetrics["fallbackRate"]; got != 0.25 {
		t.Errorf("fallbackRate = %v, want 0.25", got)
	}
}

func TestAgentPerformance_PerStepAverages(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	seedRun(t, s, 1, fraud.RiskLow, fraud.RiskLow, true)
	seedRun(t, s, 2, fraud.RiskLow, fraud.RiskLow, false)

	rep, err := NewRunner(s).AgentPerformance(context.Background())
	if err != nil {
		t.Fatalf("AgentPerformance: %v", err)
	}
	if rep.TestCases != 6 || rep.Passed != 5 {
		t.Fatalf("cases/passed = %d/%d, want 6/5", rep.TestCases, rep.Passed)
	}
	if got := rep.AdditionalMetrics["avgMs.riskSignals"]; got != 40 {
		t.Errorf("avgMs.riskSignals = %v, want 40", got)
	}
	if len(rep.TopFailures) != 1 || rep.TopFailures[0].Reason != "step kbLookup failed" {
		t.Errorf("topFailures = %+v", rep.TopFailures)
	}
}

func TestKnowledgeBase_FallbackCounts(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	ctx := context.Background()
	if err := s.PutKbDoc(ctx, &fraud.KbDoc{ID: "d1", Title: "Velocity"}); err != nil {
		t.Fatalf("PutKbDoc: %v", err)
	}
	seedRun(t, s, 1, fraud.RiskLow, fraud.RiskLow, true)
	seedRun(t, s, 2, fraud.RiskLow, fraud.RiskLow, false)

	rep, err := NewRunner(s).KnowledgeBase(ctx)
	if err != nil {
		t.Fatalf("KnowledgeBase: %v", err)
	}
	if rep.TestCases != 2 || rep.Passed != 1 {
		t.Fatalf("cases/passed = %d/%d, want 2/1", rep.TestCases, rep.Passed)
	}
	if got := rep.AdditionalMetrics["docsIndexed"]; got != 1 {
		t.Errorf("docsIndexed = %v, want 1", got)
	}
}

func TestCaseHandling_AuditsEvents(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	ctx := context.Background()
	if err := s.PutAlert(ctx, &fraud.Alert{ID: "alert-1", CustomerID: "cust-1"}); err != nil {
		t.Fatalf("PutAlert: %v", err)
	}
	good := &fraud.Case{
		ID: "case-1", CustomerID: "cust-1", Type: fraud.CaseCardFreeze,
		Status: fraud.CaseOpen, ReasonCode: "FRAUD_SUSPECTED",
		Events: []fraud.CaseEvent{{Actor: "lead-1", Action: "CARD_FROZEN"}},
	}
	bad := &fraud.Case{
		ID: "case-2", CustomerID: "cust-1", Type: fraud.CaseDispute,
		Status: fraud.CaseOpen, ReasonCode: "FRAUD",
	}
	if err := s.CreateCaseWithAlert(ctx, good, "alert-1", fraud.AlertResolved); err != nil {
		t.Fatalf("CreateCaseWithAlert: %v", err)
	}
	if err := s.CreateCaseWithAlert(ctx, bad, "alert-1", fraud.AlertDisputeOpened); err != nil {
		t.Fatalf("CreateCaseWithAlert: %v", err)
	}

	rep, err := NewRunner(s).CaseHandling(ctx)
	if err != nil {
		t.Fatalf("CaseHandling: %v", err)
	}
	if rep.TestCases != 2 || rep.Passed != 1 {
		t.Fatalf("cases/passed = %d/%d, want 2/1", rep.TestCases, rep.Passed)
	}
	if len(rep.TopFailures) != 1 || rep.TopFailures[0].Reason != "no audit events" {
		t.Errorf("topFailures = %+v", rep.TopFailures)
	}
	if got := rep.AdditionalMetrics["count.DISPUTE"]; got != 1 {
		t.Errorf("count.DISPUTE = %v, want 1", got)
	}
}

func TestRunAll_FixedOrder(t *testing.T) {
	t.Parallel()

	s := memstore.New()
	reports, err := NewRunner(s).RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	want := []string{"fraud_detection", "agent_performance", "knowledge_base", "case_handling"}
	if len(reports) != len(want) {
		t.Fatalf("reports = %d, want %d", len(reports), len(want))
	}
	for i, id := range want {
		if reports[i].ID != id {
			t.Errorf("report %d = %s, want %s", i, reports[i].ID, id)
		}
	}
}
