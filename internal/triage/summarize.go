package triage

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"
)

// MessageProvider optionally rewrites the customer-facing message, e.g. via
// an LLM. The deterministic template always remains the fallback.
type MessageProvider interface {
	CustomerMessage(ctx context.Context, d *Decision, customerName string) (string, error)
}

// Summarizer produces the post-decision narrative. Templates are
// deterministic per action; the provider, when set, only rewrites the
// customer message and any failure falls back to the template.
type Summarizer struct {
	provider MessageProvider
	logger   log.Logger
}

// NewSummarizer builds a summarizer. provider may be nil.
func NewSummarizer(provider MessageProvider, logger log.Logger) *Summarizer {
	if logger == nil {
		logger = log.Nop()
	}
	return &Summarizer{provider: provider, logger: logger}
}

// Summarize renders the summary for a composed decision. It never fails.
func (s *Summarizer) Summarize(ctx context.Context, rc *RunContext, d *Decision) *Summary {
	name := "customer"
	if rc.Customer != nil && rc.Customer.Name != "" {
		name = rc.Customer.Name
	}

	sum := &Summary{
		CustomerMessage: customerTemplate(d, name),
		InternalNote:    internalNote(rc, d),
		RiskSummary:     riskSummary(d),
		ActionSummary:   actionSummary(d),
		NextSteps:       nextSteps(d),
	}

	if s.provider != nil {
		msg, err := s.provider.CustomerMessage(ctx, d, name)
		if err != nil {
			s.logger.Warn(ctx, "customer message provider failed, using template", "error", err.Error())
		} else if msg != "" {
			sum.CustomerMessage = msg
		}
	}
	return sum
}

func customerTemplate(d *Decision, name string) string {
	switch d.ProposedAction {
	case ActionFreezeCard:
		return fmt.Sprintf("Hi %s, we detected unusual activity on your card and have "+
			"temporarily frozen it for your protection. Please contact us to verify recent transactions.", name)
	case ActionOpenDispute:
		return fmt.Sprintf("Hi %s, we flagged a recent transaction on your account and have "+
			"opened a dispute on your behalf. No action is needed from you right now.", name)
	case ActionContactCustomer:
		return fmt.Sprintf("Hi %s, we noticed activity on your account we'd like to confirm "+
			"with you. Please reach out at your earliest convenience.", name)
	default:
		return fmt.Sprintf("Hi %s, we reviewed recent activity on your account and everything "+
			"looks normal. No action is needed.", name)
	}
}

func internalNote(rc *RunContext, d *Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Triage decision: %s risk, action %s, confidence %.0f.",
		d.Level, d.ProposedAction, d.Confidence)
	if d.FallbackUsed {
		b.WriteString(" One or more steps used fallback results; verify manually.")
	}
	if rc.Proposal != nil && !rc.Proposal.Approved {
		fmt.Fprintf(&b, " Action blocked by %s.", rc.Proposal.BlockedBy)
	}
	return b.String()
}

func riskSummary(d *Decision) string {
	if len(d.Reasons) == 0 {
		return fmt.Sprintf("Risk level %s with no specific indicators.", d.Level)
	}
	return fmt.Sprintf("Risk level %s. Indicators: %s.", d.Level, strings.Join(d.Reasons, "; "))
}

func actionSummary(d *Decision) string {
	switch d.ProposedAction {
	case ActionFreezeCard:
		return "Freeze the card pending OTP confirmation."
	case ActionOpenDispute:
		return "Open a dispute for the suspect transaction."
	case ActionContactCustomer:
		return "Contact the customer to verify the activity."
	default:
		return "Mark the alert as a false positive."
	}
}

func nextSteps(d *Decision) []string {
	switch d.ProposedAction {
	case ActionFreezeCard:
		return []string{
			"Confirm the freeze with the customer via OTP",
			"Review 24h transaction history for further fraud",
			"Reissue the card if fraud is confirmed",
		}
	case ActionOpenDispute:
		return []string{
			"File the dispute with the card network",
			"Notify the customer of the provisional credit timeline",
		}
	case ActionContactCustomer:
		return []string{
			"Call the customer on the verified phone number",
			"Re-run triage if the customer does not recognize the transaction",
		}
	default:
		return []string{"Close the alert"}
	}
}
