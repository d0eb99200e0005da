package triage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marlinbank/sift/internal/fraud"
)

const (
	signalsWindow    = 90 * 24 * time.Hour
	signalsTxnCap    = 1000
	velocityWindow   = 24 * time.Hour
	historicalDays   = 89
	spikeLookback    = 10
	commonHourShare  = 0.05
	maxDeviceChanges = 5
	merchantRiskCap  = 100
	scoreCap         = 100
)

// Money thresholds in minor units (cents).
var (
	amount24hHigh = decimal.NewFromInt(100000) // $1000
	amountHigh    = decimal.NewFromInt(100000) // $1000
	amountElev    = decimal.NewFromInt(50000)  // $500
	disputeLimit  = decimal.NewFromInt(500000) // $5000
	spikeFactor   = decimal.NewFromInt(3)
)

// highRiskMCCs are merchant category codes with elevated fraud rates:
// quasi-cash, crypto, gambling, wire transfer.
var highRiskMCCs = map[string]bool{
	"5960": true, "6051": true, "7995": true, "4829": true,
}

var suspiciousNameParts = []string{"temp", "test", "unknown", "cash", "atm"}

// RiskSignalsAgent derives velocity, device, merchant and behavioral signals
// from the customer's last 90 days of transactions and folds them into a
// composite score in [0,100].
type RiskSignalsAgent struct {
	store fraud.Store
}

// NewRiskSignalsAgent builds the riskSignals step.
func NewRiskSignalsAgent(store fraud.Store) *RiskSignalsAgent {
	return &RiskSignalsAgent{store: store}
}

// Name implements Agent.
func (a *RiskSignalsAgent) Name() StepName { return StepRiskSignals }

// Critical implements Agent.
func (a *RiskSignalsAgent) Critical() bool { return false }

// Run implements Agent.
func (a *RiskSignalsAgent) Run(ctx context.Context, rc *RunContext) (StepDetail, error) {
	suspect := rc.Suspect
	since := suspect.TS.Add(-signalsWindow)
	history, err := a.store.ListTransactionsSince(ctx, rc.Request.CustomerID, since, signalsTxnCap)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	// The suspect transaction itself is not part of its own history.
	history = excludeTxn(history, suspect.ID)

	signals := &RiskSignals{
		Velocity: velocity(history, suspect),
		Device:   deviceSignals(history, suspect),
		Merchant: merchantSignals(history, suspect),
		Patterns: patternSignals(history, suspect),
	}
	signals.Score, signals.Reasons = compositeScore(signals, suspect)
	signals.SuggestedAction = suggestAction(signals.Score)
	return signals, nil
}

func excludeTxn(txns []fraud.Transaction, id string) []fraud.Transaction {
	out := txns[:0:0]
	for _, t := range txns {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

// velocity computes activity in the 24h window ending at the suspect ts and
// the daily average over the remaining 89 days.
func velocity(history []fraud.Transaction, suspect *fraud.Transaction) Velocity {
	cutoff := suspect.TS.Add(-velocityWindow)

	var v Velocity
	var olderCount int64
	var olderAmount int64
	for _, t := range history {
		if t.TS.After(cutoff) && !t.TS.After(suspect.TS) {
			v.Txns24h++
			v.Amount24hMinor += t.AmountMinorUnits
		} else if !t.TS.After(cutoff) {
			olderCount++
			olderAmount += t.AmountMinorUnits
		}
	}
	v.AvgDailyTxns = float64(olderCount) / historicalDays
	v.AvgDailyAmtMinor = olderAmount / historicalDays
	return v
}

func deviceSignals(history []fraud.Transaction, suspect *fraud.Transaction) DeviceSignals {
	devices := make(map[string]bool)
	for _, t := range history {
		if t.DeviceID != "" {
			devices[t.DeviceID] = true
		}
	}
	return DeviceSignals{
		NewDevice:     suspect.DeviceID != "" && !devices[suspect.DeviceID],
		DeviceChanges: len(devices),
	}
}

func merchantSignals(history []fraud.Transaction, suspect *fraud.Transaction) MerchantSignals {
	merchants := make(map[string]bool)
	for _, t := range history {
		merchants[strings.ToLower(t.Merchant)] = true
	}
	newMerchant := !merchants[strings.ToLower(suspect.Merchant)]

	risk := 0
	if highRiskMCCs[suspect.MCC] {
		risk += 30
	}
	name := strings.ToLower(suspect.Merchant)
	for _, part := range suspiciousNameParts {
		if strings.Contains(name, part) {
			risk += 20
			break
		}
	}
	if newMerchant {
		risk += 15
	}
	if risk > merchantRiskCap {
		risk = merchantRiskCap
	}
	return MerchantSignals{NewMerchant: newMerchant, RiskScore: risk}
}

func patternSignals(history []fraud.Transaction, suspect *fraud.Transaction) PatternSignals {
	var p PatternSignals

	// Off-hours activity, unless this hour is common for the customer.
	hour := suspect.TS.UTC().Hour()
	if hour < 6 || hour >= 23 {
		byHour := make(map[int]int)
		for _, t := range history {
			byHour[t.TS.UTC().Hour()]++
		}
		common := len(history) > 0 &&
			float64(byHour[hour])/float64(len(history)) >= commonHourShare
		p.UnusualTime = !common
	}

	// Country-city pair never seen in history.
	if suspect.Country != "" && suspect.City != "" {
		locations := make(map[string]bool)
		for _, t := range history {
			if t.Country != "" && t.City != "" {
				locations[t.Country+"-"+t.City] = true
			}
		}
		p.UnusualLocation = !locations[suspect.Country+"-"+suspect.City]
	}

	// Amount spike over the mean of the 10 most recent transactions.
	n := len(history)
	if n > spikeLookback {
		n = spikeLookback
	}
	if n > 0 {
		var sum decimal.Decimal
		for _, t := range history[:n] {
			sum = sum.Add(decimal.NewFromInt(t.AmountMinorUnits))
		}
		mean := sum.Div(decimal.NewFromInt(int64(n)))
		p.VelocitySpike = decimal.NewFromInt(suspect.AmountMinorUnits).
			GreaterThan(mean.Mul(spikeFactor))
	}
	return p
}

// compositeScore sums the bounded contributions and clamps to [0,100],
// collecting a reason string per contributing predicate.
func compositeScore(s *RiskSignals, suspect *fraud.Transaction) (int, []string) {
	score := 0
	var reasons []string

	add := func(points int, reason string) {
		score += points
		reasons = append(reasons, reason)
	}

	switch {
	case float64(s.Velocity.Txns24h) > 3*s.Velocity.AvgDailyTxns && s.Velocity.Txns24h > 0:
		add(25, fmt.Sprintf("velocity: %d transactions in 24h vs %.1f/day average",
			s.Velocity.Txns24h, s.Velocity.AvgDailyTxns))
	case float64(s.Velocity.Txns24h) > 2*s.Velocity.AvgDailyTxns && s.Velocity.Txns24h > 0:
		add(15, fmt.Sprintf("elevated velocity: %d transactions in 24h vs %.1f/day average",
			s.Velocity.Txns24h, s.Velocity.AvgDailyTxns))
	}
	if decimal.NewFromInt(s.Velocity.Amount24hMinor).GreaterThan(amount24hHigh) {
		add(20, fmt.Sprintf("high 24h amount: %s", dollars(s.Velocity.Amount24hMinor)))
	}

	if s.Device.NewDevice {
		add(20, "new device for customer")
	}
	if s.Device.DeviceChanges > maxDeviceChanges {
		add(10, fmt.Sprintf("frequent device changes: %d distinct devices", s.Device.DeviceChanges))
	}

	if s.Merchant.RiskScore > 0 {
		score += s.Merchant.RiskScore / 2
		reasons = append(reasons, fmt.Sprintf("merchant risk %d for %q",
			s.Merchant.RiskScore, suspect.Merchant))
	}

	if s.Patterns.UnusualTime {
		add(15, fmt.Sprintf("unusual time: transaction at %02d:00", suspect.TS.UTC().Hour()))
	}
	if s.Patterns.UnusualLocation {
		add(20, fmt.Sprintf("unusual location: %s-%s not seen in history",
			suspect.Country, suspect.City))
	}
	if s.Patterns.VelocitySpike {
		add(25, "velocity spike: amount over 3x recent mean")
	}

	amount := decimal.NewFromInt(suspect.AmountMinorUnits)
	if amount.GreaterThan(amountElev) {
		add(15, fmt.Sprintf("high amount: %s", dollars(suspect.AmountMinorUnits)))
	}
	if amount.GreaterThan(amountHigh) {
		add(10, fmt.Sprintf("very high amount: %s", dollars(suspect.AmountMinorUnits)))
	}

	if score > scoreCap {
		score = scoreCap
	}
	if score < 0 {
		score = 0
	}
	return score, reasons
}

func suggestAction(score int) string {
	switch {
	case score >= 80:
		return ActionFreezeCard
	case score >= 50:
		return ActionOpenDispute
	default:
		return ActionMonitor
	}
}

func dollars(minorUnits int64) string {
	return "$" + decimal.NewFromInt(minorUnits).Div(decimal.NewFromInt(100)).StringFixed(2)
}
