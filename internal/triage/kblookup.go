package triage

import (
	"context"

	"github.com/marlinbank/sift/internal/kb"
)

// KbLookupAgent retrieves knowledge-base support for the risk reasons.
type KbLookupAgent struct {
	retriever *kb.Retriever
}

// NewKbLookupAgent builds the kbLookup step.
func NewKbLookupAgent(retriever *kb.Retriever) *KbLookupAgent {
	return &KbLookupAgent{retriever: retriever}
}

// Name implements Agent.
func (a *KbLookupAgent) Name() StepName { return StepKbLookup }

// Critical implements Agent.
func (a *KbLookupAgent) Critical() bool { return false }

// Run implements Agent.
func (a *KbLookupAgent) Run(ctx context.Context, rc *RunContext) (StepDetail, error) {
	var reasons []string
	if rc.Signals != nil {
		reasons = rc.Signals.Reasons
	}
	return &KbDetail{Retrieval: a.retriever.Lookup(ctx, reasons)}, nil
}
