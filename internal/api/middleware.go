// ABOUTME: Bearer-token middleware with role enforcement for the REST boundary
// ABOUTME: Verified claims are stashed on the request context

package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/parleychat/relay/internal/auth"
)

type contextKey string

const claimsKey contextKey = "claims"

// claimsFrom returns the verified claims stored by requireAuth. Handlers
// behind the middleware can rely on them being present.
func claimsFrom(ctx context.Context) auth.Claims {
	claims, _ := ctx.Value(claimsKey).(auth.Claims)
	return claims
}

// requireAuth wraps a handler with token verification. When roles are given,
// the caller's role must be one of them; otherwise any verified identity
// passes.
func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		token = strings.TrimPrefix(token, "Bearer ")
		if token == "" {
			a.sendJSONError(w, http.StatusUnauthorized, "token is missing")
			return
		}

		claims, err := a.verifier.Verify(token)
		if err != nil {
			a.sendJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		if len(roles) > 0 && !containsRole(roles, claims.Role) {
			a.sendJSONError(w, http.StatusForbidden, "insufficient role")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func containsRole(roles []string, role string) bool {
	for _, candidate := range roles {
		if candidate == role {
			return true
		}
	}
	return false
}
