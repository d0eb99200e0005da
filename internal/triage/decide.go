package triage

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/marlinbank/sift/internal/fraud"
)

// Customer tiers derived from 90-day spending.
const (
	tierLow    = "low"
	tierMedium = "medium"
	tierHigh   = "high"
)

// Spending patterns.
const (
	patternRegular       = "regular"
	patternConcentrated  = "concentrated"
	patternHighFrequency = "high_frequency"
	patternHighValue     = "high_value"
)

// Tier thresholds in minor units.
var (
	tierHighTotal   = decimal.NewFromInt(1500000) // $15,000 total
	tierHighAvg     = decimal.NewFromInt(75000)   // $750 per txn
	tierMediumTotal = decimal.NewFromInt(500000)  // $5,000 total
	tierMediumAvg   = decimal.NewFromInt(25000)   // $250 per txn
	highValueAvg    = decimal.NewFromInt(50000)   // $500 per txn
)

// DecideAgent combines the risk score with customer-profile heuristics into
// a level, confidence and key factors. It is pure over the run context.
type DecideAgent struct{}

// NewDecideAgent builds the decide step.
func NewDecideAgent() *DecideAgent {
	return &DecideAgent{}
}

// Name implements Agent.
func (a *DecideAgent) Name() StepName { return StepDecide }

// Critical implements Agent.
func (a *DecideAgent) Critical() bool { return false }

// Run implements Agent.
func (a *DecideAgent) Run(ctx context.Context, rc *RunContext) (StepDetail, error) {
	if rc.Signals == nil {
		return nil, fmt.Errorf("decide: no risk signals available")
	}

	score := rc.Signals.Score
	tier := customerTier(rc.RecentTxns)
	pattern := spendingPattern(rc.RecentTxns)

	level := levelForScore(score)
	// A high-tier customer showing a medium score is treated as high: the
	// exposure of a compromised high-value account is disproportionate.
	if level == fraud.RiskMedium && tier == tierHigh {
		level = fraud.RiskHigh
	}

	confidence := 70.0
	if len(rc.Signals.Reasons) > 3 {
		confidence += 15
	}
	if noHistoricalIncidents(rc) {
		confidence += 10
	}
	if pattern == patternRegular {
		confidence += 5
	}
	if confidence > 95 {
		confidence = 95
	}

	factors := rc.Signals.Reasons
	if len(factors) > 3 {
		factors = factors[:3]
	}

	return &Insights{
		Level:           level,
		Confidence:      confidence,
		KeyFactors:      factors,
		Summary:         insightSummary(level, score, tier, pattern),
		Recommendations: recommendations(level),
		CustomerTier:    tier,
		SpendingPattern: pattern,
	}, nil
}

// noHistoricalIncidents is true when nothing on the profile suggests prior
// trouble: no frozen card, KYC fully verified.
func noHistoricalIncidents(rc *RunContext) bool {
	if rc.Customer == nil || rc.Customer.KYCLevel != fraud.KYCVerified {
		return false
	}
	for _, c := range rc.Cards {
		if c.Status == fraud.CardFrozen {
			return false
		}
	}
	return true
}

func customerTier(txns []fraud.Transaction) string {
	if len(txns) == 0 {
		return tierLow
	}
	var total decimal.Decimal
	for _, t := range txns {
		total = total.Add(decimal.NewFromInt(t.AmountMinorUnits))
	}
	avg := total.Div(decimal.NewFromInt(int64(len(txns))))

	switch {
	case total.GreaterThan(tierHighTotal) || avg.GreaterThan(tierHighAvg):
		return tierHigh
	case total.GreaterThan(tierMediumTotal) || avg.GreaterThan(tierMediumAvg):
		return tierMedium
	default:
		return tierLow
	}
}

func spendingPattern(txns []fraud.Transaction) string {
	if len(txns) == 0 {
		return patternRegular
	}

	var total decimal.Decimal
	byMerchant := make(map[string]int)
	for _, t := range txns {
		total = total.Add(decimal.NewFromInt(t.AmountMinorUnits))
		byMerchant[t.Merchant]++
	}
	avg := total.Div(decimal.NewFromInt(int64(len(txns))))

	if avg.GreaterThan(highValueAvg) {
		return patternHighValue
	}

	// recentTx covers a 30-day window.
	if float64(len(txns))/30 > 5 {
		return patternHighFrequency
	}

	top := 0
	for _, n := range byMerchant {
		if n > top {
			top = n
		}
	}
	if float64(top)/float64(len(txns)) > 0.6 {
		return patternConcentrated
	}
	return patternRegular
}

func insightSummary(level fraud.RiskLabel, score int, tier, pattern string) string {
	return fmt.Sprintf("%s risk (score %d) for %s-tier customer with %s spending pattern",
		level, score, tier, pattern)
}

func recommendations(level fraud.RiskLabel) []string {
	switch level {
	case fraud.RiskHigh:
		return []string{
			"Freeze the card pending customer confirmation",
			"Review all transactions in the last 24 hours",
		}
	case fraud.RiskMedium:
		return []string{
			"Open a dispute for the suspect transaction",
			"Monitor the account for further anomalies",
		}
	default:
		return []string{"Close as false positive unless the customer reports an issue"}
	}
}
