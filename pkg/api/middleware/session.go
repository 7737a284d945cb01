// Package middleware carries the admission layer: principal resolution
// from session tokens and tiered rate limiting. Both run before any
// request reaches the gateway or the hub.
package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/sharesync/sharesync/pkg/api/auth"
)

// Session resolves the calling principal from the session cookie or a
// bearer token and stores it on the request context. Missing or invalid
// credentials resolve to the anonymous principal; route handlers decide
// whether anonymous access is acceptable.
func Session(sessions *auth.SessionService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r, sessions.CookieName())
			if token != "" {
				if claims, err := sessions.Verify(token); err == nil {
					ctx := auth.WithPrincipal(r.Context(), auth.Principal{
						UserID: claims.Subject,
						Email:  claims.Email,
						Name:   claims.Name,
					})
					r = r.WithContext(ctx)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request, cookieName string) string {
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value
	}
	return ""
}

// ClientIP returns the request's client address without the port. It runs
// after chi's RealIP middleware, which already folds proxy headers into
// RemoteAddr.
func ClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
