package fraud

import "time"

// TriageRun is one execution of the triage pipeline for a single alert.
// EndedAt is set exactly once, on completion or terminal error.
type TriageRun struct {
	ID             string     `json:"id"`
	AlertID        string     `json:"alert_id"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	Risk           RiskLabel  `json:"risk,omitempty"`
	Reasons        []string   `json:"reasons"`
	ProposedAction string     `json:"proposed_action,omitempty"`
	Confidence     float64    `json:"confidence"`
	FallbackUsed   bool       `json:"fallback_used"`
	LatencyMs      int64      `json:"latency_ms,omitempty"`
}

// Terminal reports whether the run has finished.
func (r *TriageRun) Terminal() bool { return r.EndedAt != nil }

// AgentTrace records one pipeline step of a run. Seq values form a
// contiguous prefix 0..n-1 per run. Detail is redacted before it reaches
// the store.
type AgentTrace struct {
	RunID      string         `json:"run_id"`
	Seq        int            `json:"seq"`
	Step       string         `json:"step"`
	OK         bool           `json:"ok"`
	DurationMs int64          `json:"duration_ms"`
	Detail     map[string]any `json:"detail,omitempty"`
}
