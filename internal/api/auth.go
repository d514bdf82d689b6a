package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth admits only requests presenting the configured API token as a
// bearer credential. Token comparison is constant-time.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const prefix = "Bearer "
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, prefix) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "missing bearer token")
				return
			}
			presented := header[len(prefix):]
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid API token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
