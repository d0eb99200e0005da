package triage

import (
	"context"
	"fmt"

	"github.com/marlinbank/sift/internal/fraud"
)

// ProfileAgent loads the customer profile with cards and accounts. It is
// critical: without a profile no meaningful decision can be made.
type ProfileAgent struct {
	store fraud.Store
}

// NewProfileAgent builds the getProfile step.
func NewProfileAgent(store fraud.Store) *ProfileAgent {
	return &ProfileAgent{store: store}
}

// Name implements Agent.
func (a *ProfileAgent) Name() StepName { return StepGetProfile }

// Critical implements Agent.
func (a *ProfileAgent) Critical() bool { return true }

// Run implements Agent.
func (a *ProfileAgent) Run(ctx context.Context, rc *RunContext) (StepDetail, error) {
	customerID := rc.Request.CustomerID

	customer, ok, err := a.store.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	if !ok {
		return nil, fraud.NotFoundf("customer", customerID)
	}

	cards, err := a.store.ListCards(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	accounts, err := a.store.ListAccounts(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	return &ProfileDetail{Customer: customer, Cards: cards, Accounts: accounts}, nil
}
