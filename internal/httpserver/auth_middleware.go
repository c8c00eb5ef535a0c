package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"zchat/internal/domain"
	"zchat/internal/security"
)

type contextKey string

const userContextKey contextKey = "currentUser"

// Authenticator resolves a bearer token to its user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

func WithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// CurrentUser returns the user attached by AuthMiddleware, or nil.
func CurrentUser(r *http.Request) *domain.User {
	u, _ := r.Context().Value(userContextKey).(*domain.User)
	return u
}

// AuthMiddleware rejects requests without a valid bearer token with 401 and
// attaches the resolved user to the request context.
func AuthMiddleware(auth Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := security.BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				writeError(w, r, err)
				return
			}
			user, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				logger.DebugContext(r.Context(), "authentication failed",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}
