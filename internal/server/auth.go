package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/groblegark/coop/internal/wire"
)

// authExempt paths never require a token: health for probes, the hook
// endpoints because the agent runtime calls them from inside the PTY, and
// the WS upgrade (unauthenticated WS connections are read-only).
var authExempt = map[string]bool{
	"/api/v1/health":       true,
	"/api/v1/hooks/stop":   true,
	"/api/v1/hooks/start":  true,
	"/api/v1/stop/resolve": true,
	"/ws":                  true,
}

// tokenOK compares a presented token in constant time. An empty configured
// token disables auth entirely (loopback development).
func (s *Server) tokenOK(token string) bool {
	if s.authToken == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) == 1
}

// requestToken pulls the bearer token from the Authorization header or the
// token query parameter.
func requestToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// authed reports whether the request carries a valid token.
func (s *Server) authed(r *http.Request) bool {
	return s.tokenOK(requestToken(r))
}

// requireAuth wraps the mux: non-exempt paths need a valid token.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authExempt[r.URL.Path] && !s.authed(r) {
			writeError(w, http.StatusUnauthorized, wire.CodeUnauthorized, "missing or invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
