package redact

import (
	"reflect"
	"testing"
)

func TestString_PAN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"visa 16 digits", "card 4111111111111111 declined", "card [PAN-REDACTED] declined"},
		{"13 digits", "pan 4222222222222", "pan [PAN-REDACTED]"},
		{"19 digits", "pan 4222222222222222222", "pan [PAN-REDACTED]"},
		{"12 digits untouched", "ref 422222222222", "ref 422222222222"},
		{"20 digits untouched", "ref 42222222222222222222", "ref 42222222222222222222"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, masked := String(tt.in)
			if got != tt.want {
				t.Errorf("String(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if wantMasked := tt.in != tt.want; masked != wantMasked {
				t.Errorf("masked = %v, want %v", masked, wantMasked)
			}
		})
	}
}

func TestString_EmailAndPhone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"email keeps two chars", "contact john.doe@example.com", "contact jo***@example.com"},
		{"short local part", "a@example.com", "a***@example.com"},
		{"phone dashes", "call 555-123-4567 now", "call ***-***-**** now"},
		{"phone with country code", "call +1 555-123-4567", "call ***-***-****"},
		{"phone parens", "(555) 123-4567", "***-***-****"},
		{"clean string", "nothing sensitive here", "nothing sensitive here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, _ := String(tt.in)
			if got != tt.want {
				t.Errorf("String(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// Redaction must be a fixed point: redact(redact(x)) == redact(x).
func TestString_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"card 4111111111111111, phone 555-123-4567, mail john.doe@example.com",
		"already [PAN-REDACTED] and ***-***-**** and jo***@example.com",
		"plain text",
	}

	for _, in := range inputs {
		once, _ := String(in)
		twice, masked := String(once)
		if twice != once {
			t.Errorf("not idempotent: %q -> %q -> %q", in, once, twice)
		}
		if masked {
			t.Errorf("second pass reported masking for %q", once)
		}
	}
}

func TestCustomerID(t *testing.T) {
	t.Parallel()

	if got := CustomerID("cust-9912-ab"); got != "cust***ab" {
		t.Errorf("CustomerID = %q, want cust***ab", got)
	}
	if got := CustomerID("short"); got != "***masked***" {
		t.Errorf("CustomerID short = %q, want ***masked***", got)
	}
}

func TestValue_NestedStructures(t *testing.T) {
	t.Parallel()

	in := map[string]any{
		"note":  "pan 4111111111111111",
		"count": 3,
		"tags":  []string{"clean", "mail a.b@example.com"},
		"inner": map[string]any{"phone": "555-123-4567"},
	}

	out, masked := Value(in)
	if !masked {
		t.Fatal("expected masked = true")
	}

	m := out.(map[string]any)
	if m["note"] != "pan [PAN-REDACTED]" {
		t.Errorf("note = %q", m["note"])
	}
	if m["count"] != 3 {
		t.Errorf("count changed: %v", m["count"])
	}
	if got := m["tags"].([]string)[1]; got != "mail a.***@example.com" {
		t.Errorf("tags[1] = %q", got)
	}
	if got := m["inner"].(map[string]any)["phone"]; got != "***-***-****" {
		t.Errorf("inner.phone = %q", got)
	}

	// Original map must be untouched.
	if in["note"] != "pan 4111111111111111" {
		t.Error("input mutated")
	}
}

// A clean structure comes back as the same reference: no allocation when
// nothing matches.
func TestValue_NoMatchReturnsSameReference(t *testing.T) {
	t.Parallel()

	in := map[string]any{"a": "clean", "b": []any{"also clean", 7}}
	out, masked := Value(in)
	if masked {
		t.Fatal("expected masked = false")
	}
	if reflect.ValueOf(out).Pointer() != reflect.ValueOf(in).Pointer() {
		t.Fatal("clean map was copied")
	}

	ss := []string{"x", "y"}
	if got := Strings(ss); &got[0] != &ss[0] {
		t.Error("clean []string was copied")
	}
}
