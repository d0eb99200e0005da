package triage

import (
	"time"

	"github.com/marlinbank/sift/internal/fraud"
	"github.com/marlinbank/sift/internal/kb"
)

// Action names produced by the pipeline and consumed by the action executor.
const (
	ActionFreezeCard      = "freeze_card"
	ActionOpenDispute     = "open_dispute"
	ActionContactCustomer = "contact_customer"
	ActionFalsePositive   = "false_positive"
	ActionMonitor         = "monitor"
)

// Request starts a triage run for one alert.
type Request struct {
	AlertID      string     `json:"alert_id"`
	CustomerID   string     `json:"customer_id"`
	SuspectTxnID string     `json:"suspect_txn_id"`
	Role         fraud.Role `json:"role"`

	// ClientID identifies the caller for rate limiting.
	ClientID string `json:"-"`
}

// StepName identifies a pipeline step.
type StepName string

const (
	StepGetProfile    StepName = "getProfile"
	StepRecentTx      StepName = "recentTx"
	StepRiskSignals   StepName = "riskSignals"
	StepKbLookup      StepName = "kbLookup"
	StepDecide        StepName = "decide"
	StepProposeAction StepName = "proposeAction"
)

// Plan is the fixed step order of every run.
func Plan() []StepName {
	return []StepName{
		StepGetProfile, StepRecentTx, StepRiskSignals,
		StepKbLookup, StepDecide, StepProposeAction,
	}
}

// RunContext accumulates everything the steps of one run have produced.
// Agents read it and return their results as a StepDetail; only the engine
// writes it back, so a step abandoned on timeout can never corrupt the run.
type RunContext struct {
	Request Request
	Alert   *fraud.Alert
	Suspect *fraud.Transaction
	Now     time.Time

	Customer   *fraud.Customer
	Cards      []fraud.Card
	Accounts   []fraud.Account
	RecentTxns []fraud.Transaction
	Signals    *RiskSignals
	Retrieval  *kb.Retrieval
	Insights   *Insights
	Proposal   *Proposal
}

// StepDetail is the tagged per-step result variant. TraceDetail renders it
// as the schema-free payload persisted on traces and sent on stream events.
type StepDetail interface {
	TraceDetail() map[string]any
}

// ProfileDetail is the result of the getProfile step.
type ProfileDetail struct {
	Customer *fraud.Customer
	Cards    []fraud.Card
	Accounts []fraud.Account
}

// TraceDetail implements StepDetail.
func (d *ProfileDetail) TraceDetail() map[string]any {
	return map[string]any{
		"customer_id": d.Customer.ID,
		"kyc_level":   string(d.Customer.KYCLevel),
		"cards":       len(d.Cards),
		"accounts":    len(d.Accounts),
	}
}

// RecentTxDetail is the result of the recentTx step.
type RecentTxDetail struct {
	Transactions []fraud.Transaction
}

// TraceDetail implements StepDetail.
func (d *RecentTxDetail) TraceDetail() map[string]any {
	return map[string]any{"transactions": len(d.Transactions)}
}

// Velocity summarizes transaction velocity around the suspect transaction.
type Velocity struct {
	Txns24h          int     `json:"txns_24h"`
	Amount24hMinor   int64   `json:"amount_24h_minor"`
	AvgDailyTxns     float64 `json:"avg_daily_txns"`
	AvgDailyAmtMinor int64   `json:"avg_daily_amount_minor"`
}

// DeviceSignals summarizes device history.
type DeviceSignals struct {
	NewDevice     bool `json:"new_device"`
	DeviceChanges int  `json:"device_changes"`
}

// MerchantSignals summarizes merchant risk.
type MerchantSignals struct {
	NewMerchant bool `json:"new_merchant"`
	RiskScore   int  `json:"risk_score"`
}

// PatternSignals flags behavioral anomalies.
type PatternSignals struct {
	UnusualTime     bool `json:"unusual_time"`
	UnusualLocation bool `json:"unusual_location"`
	VelocitySpike   bool `json:"velocity_spike"`
}

// RiskSignals is the result of the riskSignals step. Score is clamped to
// [0,100].
type RiskSignals struct {
	Score           int             `json:"score"`
	Reasons         []string        `json:"reasons"`
	SuggestedAction string          `json:"suggested_action"`
	Velocity        Velocity        `json:"velocity"`
	Device          DeviceSignals   `json:"device"`
	Merchant        MerchantSignals `json:"merchant"`
	Patterns        PatternSignals  `json:"patterns"`
}

// TraceDetail implements StepDetail.
func (s *RiskSignals) TraceDetail() map[string]any {
	return map[string]any{
		"score":            s.Score,
		"reasons":          s.Reasons,
		"suggested_action": s.SuggestedAction,
		"txns_24h":         s.Velocity.Txns24h,
		"new_device":       s.Device.NewDevice,
		"new_merchant":     s.Merchant.NewMerchant,
		"merchant_risk":    s.Merchant.RiskScore,
	}
}

// KbDetail is the result of the kbLookup step.
type KbDetail struct {
	Retrieval *kb.Retrieval
}

// TraceDetail implements StepDetail.
func (d *KbDetail) TraceDetail() map[string]any {
	titles := make([]string, 0, len(d.Retrieval.Results))
	for _, r := range d.Retrieval.Results {
		titles = append(titles, r.Title)
	}
	return map[string]any{
		"results":   titles,
		"citations": d.Retrieval.Citations,
	}
}

// Insights is the result of the decide step.
type Insights struct {
	Level           fraud.RiskLabel `json:"level"`
	Confidence      float64         `json:"confidence"`
	KeyFactors      []string        `json:"key_factors"`
	Summary         string          `json:"summary"`
	Recommendations []string        `json:"recommendations"`
	CustomerTier    string          `json:"customer_tier"`
	SpendingPattern string          `json:"spending_pattern"`
}

// TraceDetail implements StepDetail.
func (i *Insights) TraceDetail() map[string]any {
	return map[string]any{
		"level":            string(i.Level),
		"confidence":       i.Confidence,
		"key_factors":      i.KeyFactors,
		"customer_tier":    i.CustomerTier,
		"spending_pattern": i.SpendingPattern,
	}
}

// PolicyCheck is one compliance gate evaluated by proposeAction.
type PolicyCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Proposal is the result of the proposeAction step.
type Proposal struct {
	Action      string        `json:"action"`
	Approved    bool          `json:"approved"`
	BlockedBy   string        `json:"blocked_by,omitempty"`
	RequiresOTP bool          `json:"requires_otp"`
	Checks      []PolicyCheck `json:"checks"`
}

// TraceDetail implements StepDetail.
func (p *Proposal) TraceDetail() map[string]any {
	return map[string]any{
		"action":       p.Action,
		"approved":     p.Approved,
		"blocked_by":   p.BlockedBy,
		"requires_otp": p.RequiresOTP,
	}
}

// FallbackDetail is the generic substitute for a failed non-critical step
// that has no richer deterministic fallback.
type FallbackDetail struct {
	Reason string
}

// TraceDetail implements StepDetail.
func (d *FallbackDetail) TraceDetail() map[string]any {
	return map[string]any{"fallback": true, "reason": d.Reason}
}

// Summary is the post-decision narrative produced by the summarizer.
type Summary struct {
	CustomerMessage string   `json:"customer_message"`
	InternalNote    string   `json:"internal_note"`
	RiskSummary     string   `json:"risk_summary"`
	ActionSummary   string   `json:"action_summary"`
	NextSteps       []string `json:"next_steps"`
}

// Decision is the composed outcome of a run.
type Decision struct {
	Level          fraud.RiskLabel `json:"level"`
	ProposedAction string          `json:"proposed_action"`
	Confidence     float64         `json:"confidence"`
	Reasons        []string        `json:"reasons"`
	Citations      []string        `json:"citations"`
	FallbackUsed   bool            `json:"fallback_used"`
}

// Result is everything one run produced.
type Result struct {
	Run      fraud.TriageRun    `json:"run"`
	Decision Decision           `json:"decision"`
	Proposal *Proposal          `json:"proposal,omitempty"`
	Summary  *Summary           `json:"summary,omitempty"`
	Traces   []fraud.AgentTrace `json:"traces"`
}

// apply folds a successful step's detail back into the run context.
func (rc *RunContext) apply(detail StepDetail) {
	switch d := detail.(type) {
	case *ProfileDetail:
		rc.Customer = d.Customer
		rc.Cards = d.Cards
		rc.Accounts = d.Accounts
	case *RecentTxDetail:
		rc.RecentTxns = d.Transactions
	case *RiskSignals:
		rc.Signals = d
	case *KbDetail:
		rc.Retrieval = d.Retrieval
	case *Insights:
		rc.Insights = d
	case *Proposal:
		rc.Proposal = d
	}
}

// applyFallback substitutes the deterministic fallback for a failed
// non-critical step and returns the detail recorded on its trace.
func (rc *RunContext) applyFallback(step StepName) StepDetail {
	switch step {
	case StepRiskSignals:
		s := &RiskSignals{
			Score:   50,
			Reasons: []string{"risk_analysis_unavailable"},
		}
		rc.Signals = s
		return s
	case StepKbLookup:
		d := &KbDetail{Retrieval: &kb.Retrieval{
			Citations: []string{"Fallback: Manual review recommended"},
		}}
		rc.Retrieval = d.Retrieval
		return d
	default:
		return &FallbackDetail{Reason: "Service unavailable"}
	}
}

// levelForScore maps a composite risk score to a level.
func levelForScore(score int) fraud.RiskLabel {
	switch {
	case score >= 80:
		return fraud.RiskHigh
	case score >= 50:
		return fraud.RiskMedium
	default:
		return fraud.RiskLow
	}
}

// Compose builds the final decision from whatever the pipeline produced.
// When any fallback fired the level is demoted from high to medium and the
// confidence is penalized.
func Compose(rc *RunContext, fallbackUsed bool) Decision {
	score := 0
	var reasons []string
	if rc.Signals != nil {
		score = rc.Signals.Score
		reasons = rc.Signals.Reasons
	}

	level := levelForScore(score)
	if rc.Insights != nil {
		level = rc.Insights.Level
	}
	if fallbackUsed && level == fraud.RiskHigh {
		level = fraud.RiskMedium
	}

	action := ""
	if rc.Proposal != nil {
		action = rc.Proposal.Action
	}
	if action == "" {
		switch level {
		case fraud.RiskHigh:
			action = ActionFreezeCard
		case fraud.RiskMedium:
			action = ActionOpenDispute
		default:
			action = ActionFalsePositive
		}
	}

	confidence := float64(score)
	if fallbackUsed {
		confidence = confidence * 0.7
		if confidence > 70 {
			confidence = 70
		}
	}

	var citations []string
	if rc.Retrieval != nil {
		citations = rc.Retrieval.Citations
	}

	return Decision{
		Level:          level,
		ProposedAction: action,
		Confidence:     confidence,
		Reasons:        reasons,
		Citations:      citations,
		FallbackUsed:   fallbackUsed,
	}
}
