// Package auth implements the Gateway's AuthN surface: JWT issuance and
// verification for the bearer-token path, plus a static/Redis-backed API
// key gate usable as an alternative to bearer tokens on the catch-all
// routes.
package auth

import (
	"context"
	"net/http"
	"strings"
)

// Identity is the authenticated principal attached to a request context
// after an Authenticator succeeds.
type Identity struct {
	Subject string         // "user:<jwt-subject>" or "apikey:<key-name>"
	KeyName string         // API key name; empty for JWT auth
	Tier    string         // metadata carried through, never enforced (quotas are a Non-goal)
	Claims  map[string]any // JWT claims or API key metadata
}

type contextKey struct{}

var identityKey = contextKey{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity retrieves the Identity previously attached by WithIdentity.
func GetIdentity(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}

// Authenticator attempts to authenticate an incoming request, returning nil
// if it does not apply or fails.
type Authenticator interface {
	Authenticate(r *http.Request) *Identity
}

// Middleware requires authentication on every request whose path is not in
// publicPaths, trying each authenticator in order and accepting the first
// that succeeds.
func Middleware(authenticators []Authenticator, publicPaths []string) func(http.Handler) http.Handler {
	publicSet := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		publicSet[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path, publicSet) {
				next.ServeHTTP(w, r)
				return
			}

			for _, a := range authenticators {
				if id := a.Authenticate(r); id != nil {
					next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
					return
				}
			}

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="edgefaas"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}`))
		})
	}
}

func isPublicPath(path string, publicSet map[string]bool) bool {
	if publicSet[path] {
		return true
	}
	for p := range publicSet {
		if strings.HasSuffix(p, "/*") && strings.HasPrefix(path, strings.TrimSuffix(p, "*")) {
			return true
		}
	}
	return false
}
