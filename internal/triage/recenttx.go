package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/marlinbank/sift/internal/fraud"
)

const (
	recentTxWindow = 30 * 24 * time.Hour
	recentTxCap    = 100
)

// RecentTxAgent loads the customer's transactions from the last 30 days,
// newest first, capped at 100. It is critical: velocity and pattern analysis
// are meaningless without history.
type RecentTxAgent struct {
	store fraud.Store
}

// NewRecentTxAgent builds the recentTx step.
func NewRecentTxAgent(store fraud.Store) *RecentTxAgent {
	return &RecentTxAgent{store: store}
}

// Name implements Agent.
func (a *RecentTxAgent) Name() StepName { return StepRecentTx }

// Critical implements Agent.
func (a *RecentTxAgent) Critical() bool { return true }

// Run implements Agent.
func (a *RecentTxAgent) Run(ctx context.Context, rc *RunContext) (StepDetail, error) {
	since := rc.Now.Add(-recentTxWindow)
	txns, err := a.store.ListTransactionsSince(ctx, rc.Request.CustomerID, since, recentTxCap)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return &RecentTxDetail{Transactions: txns}, nil
}
