package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKey returns middleware guarding operator-only endpoints with a static
// key sent as a Bearer token or in X-API-Key. An empty key disables the
// check.
func APIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing api key")
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(key)) != 1 {
				writeUnauthorized(w, "invalid api key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractToken reads Authorization: Bearer <token>, then X-API-Key.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
