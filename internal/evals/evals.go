// Package evals computes read-only quality reports over persisted triage
// runs, traces, and cases. Reports are analytics for dashboards; they never
// mutate state.
package evals

import (
	"context"
	"fmt"
	"sort"

	"github.com/marlinbank/sift/internal/fraud"
)

const (
	// scanLimit bounds how much history one report reads.
	scanLimit = 500
	// topFailureCap bounds the failure sample attached to a report.
	topFailureCap = 5
)

// Failure is one failing test case in a report.
type Failure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Report is the result of one evaluation family.
type Report struct {
	ID                string                    `json:"id"`
	Name              string                    `json:"name"`
	TestCases         int                       `json:"testCases"`
	Passed            int                       `json:"passed"`
	Failed            int                       `json:"failed"`
	Accuracy          float64                   `json:"accuracy"`
	ConfusionMatrix   map[string]map[string]int `json:"confusionMatrix,omitempty"`
	TopFailures       []Failure                 `json:"topFailures"`
	AdditionalMetrics map[string]float64        `json:"additionalMetrics,omitempty"`
}

// Runner evaluates the four report families against a store.
type Runner struct {
	store fraud.Store
}

// NewRunner returns a Runner reading from the given store.
func NewRunner(store fraud.Store) *Runner {
	return &Runner{store: store}
}

// RunAll produces every report family in a fixed order.
func (r *Runner) RunAll(ctx context.Context) ([]Report, error) {
	var reports []Report
	for _, f := range []func(context.Context) (Report, error){
		r.FraudDetection,
		r.AgentPerformance,
		r.KnowledgeBase,
		r.CaseHandling,
	} {
		rep, err := f(ctx)
		if err != nil {
			return nil, err
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

func finishReport(rep *Report, failures []Failure) {
	rep.Failed = rep.TestCases - rep.Passed
	if rep.TestCases > 0 {
		rep.Accuracy = float64(rep.Passed) / float64(rep.TestCases)
	}
	if len(failures) > topFailureCap {
		failures = failures[:topFailureCap]
	}
	if failures == nil {
		failures = []Failure{}
	}
	rep.TopFailures = failures
}

// FraudDetection compares each terminal run's risk level against the risk
// label its alert carried at ingestion.
func (r *Runner) FraudDetection(ctx context.Context) (Report, error) {
	rep := Report{
		ID:              "fraud_detection",
		Name:            "Fraud Detection Accuracy",
		ConfusionMatrix: map[string]map[string]int{},
	}

	runs, err := r.store.ListRuns(ctx, scanLimit)
	if err != nil {
		return rep, fmt.Errorf("list runs: %w", err)
	}

	var failures []Failure
	var fallbacks int
	var totalLatency int64
	for i := range runs {
		run := &runs[i]
		if !run.Terminal() || run.Risk == "" {
			continue
		}
		alert, ok, err := r.store.GetAlert(ctx, run.AlertID)
		if err != nil {
			return rep, fmt.Errorf("get alert %s: %w", run.AlertID, err)
		}
		if !ok {
			continue
		}

		rep.TestCases++
		totalLatency += run.LatencyMs
		if run.FallbackUsed {
			fallbacks++
		}

		actual, predicted := string(alert.Risk), string(run.Risk)
		row := rep.ConfusionMatrix[actual]
		if row == nil {
			row = map[string]int{}
			rep.ConfusionMatrix[actual] = row
		}
		row[predicted]++

		if actual == predicted {
			rep.Passed++
		} else {
			failures = append(failures, Failure{
				ID:     run.ID,
				Reason: fmt.Sprintf("labeled %s, triaged %s", actual, predicted),
			})
		}
	}

	finishReport(&rep, failures)
	if rep.TestCases > 0 {
		rep.AdditionalMetrics = map[string]float64{
			"fallbackRate": float64(fallbacks) / float64(rep.TestCases),
			"avgLatencyMs": float64(totalLatency) / float64(rep.TestCases),
		}
	}
	return rep, nil
}

// AgentPerformance measures per-step success rates and latency across all
// persisted traces.
func (r *Runner) AgentPerformance(ctx context.Context) (Report, error) {
	rep := Report{ID: "agent_performance", Name: "Agent Step Performance"}

	runs, err := r.store.ListRuns(ctx, scanLimit)
	if err != nil {
		return rep, fmt.Errorf("list runs: %w", err)
	}

	type stepStat struct {
		count   int
		totalMs int64
	}
	stats := map[string]*stepStat{}
	var failures []Failure
	for i := range runs {
		traces, err := r.store.ListTraces(ctx, runs[i].ID)
		if err != nil {
			return rep, fmt.Errorf("list traces %s: %w", runs[i].ID, err)
		}
		for _, tr := range traces {
			rep.TestCases++
			st := stats[tr.Step]
			if st == nil {
				st = &stepStat{}
				stats[tr.Step] = st
			}
			st.count++
			st.totalMs += tr.DurationMs
			if tr.OK {
				rep.Passed++
			} else {
				failures = append(failures, Failure{
					ID:     tr.RunID,
					Reason: fmt.Sprintf("step %s failed", tr.Step),
				})
			}
		}
	}

	finishReport(&rep, failures)
	if len(stats) > 0 {
		rep.AdditionalMetrics = map[string]float64{}
		steps := make([]string, 0, len(stats))
		for step := range stats {
			steps = append(steps, step)
		}
		sort.Strings(steps)
		for _, step := range steps {
			st := stats[step]
			rep.AdditionalMetrics["avgMs."+step] = float64(st.totalMs) / float64(st.count)
		}
	}
	return rep, nil
}

// kbLookupStep matches the pipeline step name recorded in traces.
const kbLookupStep = "kbLookup"

// KnowledgeBase measures how often the knowledge-base lookup step produced
// real guidance instead of its fallback.
func (r *Runner) KnowledgeBase(ctx context.Context) (Report, error) {
	rep := Report{ID: "knowledge_base", Name: "Knowledge Base Retrieval"}

	runs, err := r.store.ListRuns(ctx, scanLimit)
	if err != nil {
		return rep, fmt.Errorf("list runs: %w", err)
	}

	var failures []Failure
	var totalMs int64
	for i := range runs {
		traces, err := r.store.ListTraces(ctx, runs[i].ID)
		if err != nil {
			return rep, fmt.Errorf("list traces %s: %w", runs[i].ID, err)
		}
		for _, tr := range traces {
			if tr.Step != kbLookupStep {
				continue
			}
			rep.TestCases++
			totalMs += tr.DurationMs
			if tr.OK {
				rep.Passed++
			} else {
				failures = append(failures, Failure{ID: tr.RunID, Reason: "kb lookup fell back"})
			}
		}
	}

	finishReport(&rep, failures)
	docs, err := r.store.ListKbDocs(ctx)
	if err != nil {
		return rep, fmt.Errorf("list kb docs: %w", err)
	}
	rep.AdditionalMetrics = map[string]float64{"docsIndexed": float64(len(docs))}
	if rep.TestCases > 0 {
		rep.AdditionalMetrics["avgMs"] = float64(totalMs) / float64(rep.TestCases)
	}
	return rep, nil
}

// CaseHandling audits persisted cases: every case needs a reason code and at
// least one audit event.
func (r *Runner) CaseHandling(ctx context.Context) (Report, error) {
	rep := Report{ID: "case_handling", Name: "Case Handling Audit"}

	cases, err := r.store.ListCases(ctx, scanLimit)
	if err != nil {
		return rep, fmt.Errorf("list cases: %w", err)
	}

	byType := map[fraud.CaseType]int{}
	var failures []Failure
	for i := range cases {
		c := &cases[i]
		rep.TestCases++
		byType[c.Type]++

		switch {
		case c.ReasonCode == "":
			failures = append(failures, Failure{ID: c.ID, Reason: "missing reason code"})
		case len(c.Events) == 0:
			failures = append(failures, Failure{ID: c.ID, Reason: "no audit events"})
		default:
			rep.Passed++
		}
	}

	finishReport(&rep, failures)
	if len(byType) > 0 {
		rep.AdditionalMetrics = map[string]float64{}
		for typ, n := range byType {
			rep.AdditionalMetrics["count."+string(typ)] = float64(n)
		}
	}
	return rep, nil
}
