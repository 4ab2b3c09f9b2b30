package http

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/kjstillabower/conseil-meteo-service/internal/models"
	"github.com/kjstillabower/conseil-meteo-service/internal/observability"
)

type userKey struct{}

// Authenticator resolves a bearer token to a user. *auth.Service satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (models.User, error)
}

// userFromContext returns the user placed by RequireUser.
func userFromContext(ctx context.Context) (models.User, bool) {
	u, ok := ctx.Value(userKey{}).(models.User)
	return u, ok
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireUser rejects requests without a valid bearer token with 401 and
// stores the authenticated user in the request context otherwise.
func RequireUser(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				observability.AuthFailuresTotal.WithLabelValues("missing_token").Inc()
				writeError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", msgUnauthorized)
				return
			}
			u, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), userKey{}, u)
			ctx = observability.WithLogger(ctx, observability.LoggerFromContext(ctx).With(zap.Int64("user_id", u.ID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated users lacking role with 403. It must run after RequireUser.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := userFromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", msgUnauthorized)
				return
			}
			if !u.HasRole(role) {
				observability.AuthFailuresTotal.WithLabelValues("forbidden").Inc()
				observability.LoggerFromContext(r.Context()).Info("role check failed", zap.String("required_role", role))
				writeError(w, r, http.StatusForbidden, "FORBIDDEN", msgForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
