// Package authmw provides HTTP middleware that resolves bearer tokens to
// principals (analyst name plus role).
package authmw

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/marlinbank/sift/internal/fraud"
)

// Principal identifies the authenticated caller.
type Principal struct {
	Name string
	Role fraud.Role
}

type ctxKey struct{}

// FromContext returns the principal stored by the Bearer middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}

// Bearer returns middleware that validates the Authorization header against
// the configured token set and stores the matching principal on the request
// context. Every configured token is compared on every request, in constant
// time, to prevent timing side channels.
func Bearer(tokens map[string]Principal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")

			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, `{"error":"missing or malformed authorization header"}`, http.StatusUnauthorized)
				return
			}

			got := []byte(auth[len("Bearer "):])

			var matched Principal
			var found bool
			for token, principal := range tokens {
				if subtle.ConstantTimeCompare(got, []byte(token)) == 1 {
					matched = principal
					found = true
				}
			}
			if !found {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, matched)))
		})
	}
}
