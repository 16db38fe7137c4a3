package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/frostline/updated/pkg/apperr"
	"github.com/frostline/updated/pkg/auth"
)

type contextKey string

const identityKey contextKey = "identity"

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// requireRole authenticates the bearer token through the verifier and
// rejects callers missing the capability.
func requireRole(v auth.Verifier, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, r, apperr.Unauthenticated("missing bearer token"))
				return
			}
			id, err := auth.Require(r.Context(), v, token, role)
			if err != nil {
				writeError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), identityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// identityFrom returns the authenticated identity, if any.
func identityFrom(ctx context.Context) *auth.Identity {
	id, _ := ctx.Value(identityKey).(*auth.Identity)
	return id
}
