// Package authmw provides HTTP middleware for bearer token authentication.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerToken returns middleware that validates the Authorization header
// contains a Bearer token matching one of the expected values. Multiple
// tokens allow each webhook adapter its own credential. Comparison uses
// constant-time equality to prevent timing side-channel attacks.
func BearerToken(tokens ...string) func(http.Handler) http.Handler {
	expected := make([][]byte, 0, len(tokens))
	for _, t := range tokens {
		if t != "" {
			expected = append(expected, []byte(t))
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")

			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, `{"error":"missing or malformed authorization header"}`, http.StatusUnauthorized)
				return
			}

			got := []byte(auth[len("Bearer "):])

			// Check every token so timing does not reveal which one
			// matched.
			match := 0
			for _, exp := range expected {
				match |= subtle.ConstantTimeCompare(got, exp)
			}
			if match != 1 {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
