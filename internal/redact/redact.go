// Package redact masks PII in strings and nested structures before they are
// logged, persisted in traces, or sent to stream subscribers. All functions
// are pure and idempotent: redacting already-redacted input is a no-op.
package redact

import "regexp"

const (
	panPlaceholder   = "[PAN-REDACTED]"
	phonePlaceholder = "***-***-****"
)

var (
	// Contiguous digit runs of PAN length (13-19). Longer runs are left
	// alone; \b keeps a 20-digit run from matching its prefix.
	panRe = regexp.MustCompile(`\b\d{13,19}\b`)

	// US-style phone layouts: optional country prefix, 3-3-4 groups.
	phoneRe = regexp.MustCompile(`(\+?\d{1,3}[-. ])?\(?\d{3}\)?[-. ]\d{3}[-. ]\d{4}\b`)

	// Email local parts. The placeholder contains '*', which is outside the
	// local-part class, so masked emails never rematch.
	emailRe = regexp.MustCompile(`\b([a-zA-Z0-9._%+\-]+)@([a-zA-Z0-9.\-]+\.[a-zA-Z]{2,})\b`)
)

// String masks PAN, phone, and email patterns in s. The second return
// reports whether anything was masked; when false, s is returned unchanged
// with no allocation.
func String(s string) (string, bool) {
	masked := false

	if panRe.MatchString(s) {
		s = panRe.ReplaceAllString(s, panPlaceholder)
		masked = true
	}
	if phoneRe.MatchString(s) {
		s = phoneRe.ReplaceAllString(s, phonePlaceholder)
		masked = true
	}
	if emailRe.MatchString(s) {
		s = emailRe.ReplaceAllStringFunc(s, maskEmail)
		masked = true
	}

	return s, masked
}

func maskEmail(email string) string {
	sub := emailRe.FindStringSubmatch(email)
	if sub == nil {
		return email
	}
	local, domain := sub[1], sub[2]
	if len(local) > 2 {
		local = local[:2]
	}
	return local + "***@" + domain
}

// CustomerID masks a customer identifier: first 4 + "***" + last 2, or a
// fixed placeholder when the id is too short to keep anything.
func CustomerID(id string) string {
	if len(id) < 8 {
		return "***masked***"
	}
	return id[:4] + "***" + id[len(id)-2:]
}

// Value walks an arbitrary value and masks every string leaf. Maps and
// slices are visited recursively; other leaf types pass through untouched.
// When nothing matches, the input is returned as-is.
func Value(v any) (any, bool) {
	switch t := v.(type) {
	case string:
		return String(t)
	case map[string]any:
		return mapValue(t)
	case []any:
		return sliceValue(t)
	case []string:
		return stringSlice(t)
	default:
		return v, false
	}
}

// Map masks every string leaf of m, returning m itself when clean.
func Map(m map[string]any) map[string]any {
	out, _ := mapValue(m)
	return out
}

// Strings masks each element of ss, returning ss itself when clean.
func Strings(ss []string) []string {
	out, _ := stringSlice(ss)
	return out
}

func mapValue(m map[string]any) (map[string]any, bool) {
	var out map[string]any
	for k, v := range m {
		cleaned, masked := Value(v)
		if !masked {
			continue
		}
		if out == nil {
			out = make(map[string]any, len(m))
			for k2, v2 := range m {
				out[k2] = v2
			}
		}
		out[k] = cleaned
	}
	if out == nil {
		return m, false
	}
	return out, true
}

func sliceValue(s []any) ([]any, bool) {
	var out []any
	for i, v := range s {
		cleaned, masked := Value(v)
		if !masked {
			continue
		}
		if out == nil {
			out = make([]any, len(s))
			copy(out, s)
		}
		out[i] = cleaned
	}
	if out == nil {
		return s, false
	}
	return out, true
}

func stringSlice(ss []string) ([]string, bool) {
	var out []string
	for i, v := range ss {
		cleaned, masked := String(v)
		if !masked {
			continue
		}
		if out == nil {
			out = make([]string, len(ss))
			copy(out, ss)
		}
		out[i] = cleaned
	}
	if out == nil {
		return ss, false
	}
	return out, true
}
