package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIToken returns middleware requiring "Authorization: Bearer <token>".
// An empty token disables the check, for deployments behind their own
// gateway.
func APIToken(tokenOf Secret) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenOf()
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get("Authorization")
			got, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				writeError(w, http.StatusUnauthorized, "authorization required")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusForbidden, "invalid api token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
