package middleware

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/dmsystem/dms/internal/api/models"
	"github.com/dmsystem/dms/internal/auth"
	"github.com/dmsystem/dms/internal/user"
)

// userKey is the context key for the authenticated account.
type userKey struct{}

// Authenticator resolves a bearer token to an active account.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*user.User, error)
}

// Auth creates authentication middleware that validates JWT bearer tokens
// and stores the acting account in the request context.
func Auth(authenticator Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthorized(w, r, "missing authorization header")
				return
			}

			// Bearer prefix is case-insensitive
			const bearerPrefix = "Bearer "
			if len(authHeader) < len(bearerPrefix) ||
				!strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
				writeUnauthorized(w, r, "invalid authorization header format")
				return
			}

			tokenString := strings.TrimSpace(authHeader[len(bearerPrefix):])
			if tokenString == "" {
				writeUnauthorized(w, r, "missing bearer token")
				return
			}

			u, err := authenticator.Authenticate(r.Context(), tokenString)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrAccessTokenExpired):
					writeUnauthorized(w, r, "access token has expired")
				case errors.Is(err, auth.ErrInvalidAccessToken):
					writeUnauthorized(w, r, "invalid access token")
				case errors.Is(err, auth.ErrInactiveUser):
					writeProblem(w, r, models.NewForbidden(GetRequestID(r.Context()), "user account is not active"))
				default:
					writeProblem(w, r, models.FromError(GetRequestID(r.Context()), err))
				}
				return
			}

			ctx := context.WithValue(r.Context(), userKey{}, u)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects requests whose account role is not in roles.
// It must run after Auth.
func RequireRole(roles ...user.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u := GetUser(r.Context())
			if u == nil {
				writeUnauthorized(w, r, "authentication required")
				return
			}
			if !slices.Contains(roles, u.Role) {
				writeProblem(w, r, models.NewForbidden(GetRequestID(r.Context()), "insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeUnauthorized writes a 401 Unauthorized response.
// This is implemented directly here to avoid import cycle with response package.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeProblem(w, r, models.NewUnauthorized(GetRequestID(r.Context()), detail))
}

func writeProblem(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// GetUser retrieves the authenticated account from the context.
// Returns nil if not authenticated.
func GetUser(ctx context.Context) *user.User {
	u, _ := ctx.Value(userKey{}).(*user.User)
	return u
}

// GetUserID retrieves the authenticated user ID from the context.
// Returns an empty string if not authenticated.
func GetUserID(ctx context.Context) string {
	if u := GetUser(ctx); u != nil {
		return u.ID
	}
	return ""
}

// WithUser returns a copy of ctx carrying u as the authenticated account.
func WithUser(ctx context.Context, u *user.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}
