// Package slack posts finalized triage decisions to a Slack incoming
// webhook so the fraud desk sees them without watching the dashboard.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/marlinbank/sift/internal/fraud"
	"github.com/marlinbank/sift/internal/triage"
)

const (
	maxNoteLen  = 3000
	httpTimeout = 10 * time.Second
)

// Notifier implements triage.Notifier against a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, notifications
// are a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// DecisionFinalized posts a finalized triage result to the configured
// webhook. With no webhook URL configured it returns nil immediately.
func (n *Notifier) DecisionFinalized(ctx context.Context, result *triage.Result) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(result)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(r *triage.Result) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(r),
			{"type": "divider"},
			fieldsBlock(r),
			{"type": "divider"},
			noteBlock(r),
			{"type": "divider"},
			contextBlock(r),
		},
	}
}

func headerBlock(r *triage.Result) map[string]any {
	text := fmt.Sprintf("%s Triage Decision: alert %s", riskEmoji(r.Decision.Level), r.Run.AlertID)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(r *triage.Result) map[string]any {
	action := r.Decision.ProposedAction
	if action == "" {
		action = "none"
	}
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Risk:* %s", r.Decision.Level),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Action:* %s", action),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Confidence:* %.0f", r.Decision.Confidence),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Fallback:* %t", r.Decision.FallbackUsed),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Latency:* %dms", r.Run.LatencyMs),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Steps:* %d", len(r.Traces)),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func noteBlock(r *triage.Result) map[string]any {
	var text string
	if r.Summary != nil {
		text = truncate(r.Summary.InternalNote, maxNoteLen)
	}
	if text == "" {
		text = "_No summary available._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Internal Note*\n\n%s", text),
		},
	}
}

func contextBlock(r *triage.Result) map[string]any {
	ts := r.Run.StartedAt
	if r.Run.EndedAt != nil {
		ts = *r.Run.EndedAt
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("sift • run %s • %s", r.Run.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func riskEmoji(level fraud.RiskLabel) string {
	switch level {
	case fraud.RiskHigh:
		return "\U0001f534" // red circle
	case fraud.RiskMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
