package authmw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/marlinbank/sift/internal/fraud"
)

var testTokens = map[string]Principal{
	"agent-token-123": {Name: "agent-1", Role: fraud.RoleAgent},
	"lead-token-456":  {Name: "lead-1", Role: fraud.RoleLead},
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
})

func TestBearer_ResolvesPrincipal(t *testing.T) {
	t.Parallel()

	var got Principal
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := FromContext(r.Context())
		if !ok {
			t.Error("principal missing from context")
		}
		got = p
		w.WriteHeader(http.StatusOK)
	})
	h := Bearer(testTokens)(inner)

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Authorization", "Bearer lead-token-456")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got.Name != "lead-1" || got.Role != fraud.RoleLead {
		t.Errorf("principal = %+v, want lead-1/lead", got)
	}
}

func TestBearer_MissingHeader(t *testing.T) {
	t.Parallel()

	h := Bearer(testTokens)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestBearer_WrongPrefix(t *testing.T) {
	t.Parallel()

	h := Bearer(testTokens)(okHandler)

	tests := []struct {
		name  string
		value string
	}{
		{"Basic auth", "Basic dXNlcjpwYXNz"},
		{"lowercase bearer", "bearer agent-token-123"},
		{"no prefix", "agent-token-123"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.value != "" {
				req.Header.Set("Authorization", tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestBearer_InvalidToken(t *testing.T) {
	t.Parallel()

	h := Bearer(testTokens)(okHandler)

	tests := []struct {
		name  string
		token string
	}{
		{"wrong token", "wrong-token"},
		{"partial match", "agent-token"},
		{"token with suffix", "agent-token-123-extra"},
		{"empty token", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestFromContext_EmptyWithoutMiddleware(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	if _, ok := FromContext(req.Context()); ok {
		t.Error("FromContext returned a principal without the middleware")
	}
}
