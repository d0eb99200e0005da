package claude

import (
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/marlinbank/sift/internal/triage"
)

func TestExtractText_JoinsTextBlocks(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "Hi Dana, "},
			{Type: "tool_use", ID: "tu-1", Name: "ignored"},
			{Type: "text", Text: "your card is locked.  "},
		},
		StopReason: anthropic.StopReasonEndTurn,
	}

	got := extractText(msg)
	if got != "Hi Dana, your card is locked." {
		t.Errorf("extractText = %q", got)
	}
}

func TestExtractText_EmptyWithoutTextBlocks(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Content:    []anthropic.ContentBlockUnion{{Type: "tool_use", ID: "tu-1"}},
		StopReason: anthropic.StopReasonEndTurn,
	}
	if got := extractText(msg); got != "" {
		t.Errorf("extractText = %q, want empty", got)
	}
}

func TestBuildPrompt_NeverLeaksReasons(t *testing.T) {
	t.Parallel()

	d := &triage.Decision{
		Level:          "high",
		ProposedAction: triage.ActionFreezeCard,
		Confidence:     63,
		Reasons:        []string{"velocity: 20 txns in 24h", "new device"},
	}
	prompt := buildPrompt(d, "Dana Okafor")

	if !strings.Contains(prompt, "Dana") {
		t.Errorf("prompt missing first name: %q", prompt)
	}
	if strings.Contains(prompt, "Okafor") {
		t.Errorf("prompt carries full name: %q", prompt)
	}
	if strings.Contains(prompt, "velocity") || strings.Contains(prompt, "63") {
		t.Errorf("prompt leaks internal reasoning: %q", prompt)
	}
	if !strings.Contains(prompt, "temporarily locked") {
		t.Errorf("prompt missing action phrase: %q", prompt)
	}
}

func TestActionPhrase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		action string
		want   string
	}{
		{triage.ActionFreezeCard, "temporarily locked"},
		{triage.ActionOpenDispute, "dispute was opened"},
		{triage.ActionContactCustomer, "confirm recent card activity"},
		{triage.ActionFalsePositive, "no action is needed"},
		{"", "no action is needed"},
	}
	for _, tt := range tests {
		if got := actionPhrase(tt.action); !strings.Contains(got, tt.want) {
			t.Errorf("actionPhrase(%q) = %q, want substring %q", tt.action, got, tt.want)
		}
	}
}

func TestFirstName(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"Dana Okafor", "Dana"},
		{"Dana", "Dana"},
		{"  Dana Okafor  ", "Dana"},
		{"", "Customer"},
	}
	for _, tt := range tests {
		if got := firstName(tt.in); got != tt.want {
			t.Errorf("firstName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNew_DefaultModel(t *testing.T) {
	t.Parallel()

	p := New("test-key", "")
	if p.model != defaultModel {
		t.Errorf("model = %q, want %q", p.model, defaultModel)
	}
	p = New("test-key", "claude-haiku-4-5")
	if p.model != "claude-haiku-4-5" {
		t.Errorf("model = %q", p.model)
	}
}
