package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/keystone-api/keystone/internal/shared"
)

// Middleware resolves the Authorization header into an Actor on the request
// context. Routes that must be authenticated additionally use RequireActor.
type Middleware struct {
	Service *Service
}

// Authenticate attaches the actor for a valid bearer token and passes the
// request through untouched otherwise. Authorization decisions belong to the
// rbac middleware, not here.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		actor, err := m.Service.VerifyToken(r.Context(), token)
		if err != nil {
			code := "TOKEN_INVALID"
			if errors.Is(err, shared.ErrTokenExpired) {
				code = "TOKEN_EXPIRED"
			}
			shared.WriteError(w, http.StatusUnauthorized, code, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

// RequireActor rejects unauthenticated requests.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shared.ActorFromContext(r.Context()) == nil {
			shared.WriteError(w, http.StatusUnauthorized, "NOT_AUTHENTICATED", "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
