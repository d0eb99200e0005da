// Package claude generates customer-facing notification copy with the
// Anthropic API. Everything else in the triage summary stays deterministic;
// only the customer message goes through the model, and any failure here
// falls back to the template text.
package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/marlinbank/sift/internal/triage"
)

const (
	defaultModel = "claude-sonnet-4-20250514"
	maxTokens    = 300
)

const systemPrompt = `You write short notifications from Marlin Bank to cardholders about card-security events.
Rules:
- Two to three sentences, plain language, calm tone.
- Never mention internal risk scores, fraud systems, or investigation details.
- Never accuse the customer or any merchant of fraud.
- State what happened to the card or account and what the customer should do next.
Respond with the message text only.`

// Provider implements triage.MessageProvider against the Anthropic API.
type Provider struct {
	client anthropic.Client
	model  anthropic.Model
}

// New returns a Provider using the given API key. An empty model selects the
// default.
func New(apiKey, model string) *Provider {
	if model == "" {
		model = defaultModel
	}
	return &Provider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// CustomerMessage generates the customer-facing message for a finalized
// decision.
func (p *Provider) CustomerMessage(ctx context.Context, d *triage.Decision, customerName string) (string, error) {
	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(d, customerName))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude message: %w", err)
	}

	text := extractText(msg)
	if text == "" {
		return "", errors.New("claude returned no text content")
	}
	return text, nil
}

// buildPrompt describes the decided action without exposing internal
// reasoning. The model sees what the bank did, not why.
func buildPrompt(d *triage.Decision, customerName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cardholder first name: %s\n", firstName(customerName))
	fmt.Fprintf(&b, "Action taken: %s\n", actionPhrase(d.ProposedAction))
	if d.ProposedAction == triage.ActionFreezeCard || d.ProposedAction == triage.ActionOpenDispute {
		b.WriteString("The customer may need to verify recent activity with us.\n")
	}
	b.WriteString("Write the notification.")
	return b.String()
}

func actionPhrase(action string) string {
	switch action {
	case triage.ActionFreezeCard:
		return "the card was temporarily locked as a precaution"
	case triage.ActionOpenDispute:
		return "a dispute was opened for a recent transaction"
	case triage.ActionContactCustomer:
		return "we need the customer to confirm recent card activity"
	default:
		return "recent card activity was reviewed and no action is needed"
	}
}

func firstName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.IndexByte(name, ' '); i > 0 {
		return name[:i]
	}
	if name == "" {
		return "Customer"
	}
	return name
}

func extractText(msg *anthropic.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(b.String())
}
