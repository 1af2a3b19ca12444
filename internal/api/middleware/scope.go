package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const ScopeKey contextKey = "access_scope"

// ScopeHeader carries the caller's access scope. The engine trusts it;
// authentication happens upstream of this service.
const ScopeHeader = "X-Access-Scope"

// Scope injects the caller's access scope into the request context.
func Scope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope := r.Header.Get(ScopeHeader)
		if scope != "" {
			ctx := context.WithValue(r.Context(), ScopeKey, scope)
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// GetScope returns the access scope from context.
func GetScope(ctx context.Context) string {
	scope, _ := ctx.Value(ScopeKey).(string)
	return scope
}
