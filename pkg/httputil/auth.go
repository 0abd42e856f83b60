package httputil

import (
	"net/http"
	"strings"

	"github.com/cornerstone/cornerstone-backend/pkg/actor"
	"github.com/cornerstone/cornerstone-backend/pkg/errors"
	"github.com/cornerstone/cornerstone-backend/pkg/permissions"
)

// TokenVerifier turns a bearer token into the user it was issued to
type TokenVerifier interface {
	VerifyToken(token string) (*actor.Actor, error)
}

// Authenticate requires a valid token, taken from the Authorization header
// or, failing that, from the session cookie. The verified user is placed in
// the request context.
func Authenticate(verifier TokenVerifier, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := extractToken(r, cookieName)
			if err != nil {
				Error(w, err)
				return
			}

			a, err := verifier.VerifyToken(token)
			if err != nil {
				Error(w, err)
				return
			}

			next.ServeHTTP(w, SetActor(r, a))
		})
	}
}

func extractToken(r *http.Request, cookieName string) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", errors.Unauthorized("invalid authorization header format")
		}
		return parts[1], nil
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value, nil
		}
	}
	return "", errors.Unauthorized("authentication required")
}

// RequirePermission rejects requests whose user lacks the permission.
// It must run after Authenticate.
func RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a := actor.FromContext(r.Context())
			if a == nil {
				Error(w, errors.Unauthorized("authentication required"))
				return
			}
			if !permissions.RoleHas(a.Role, permission) {
				Error(w, errors.Forbidden("you do not have permission to perform this action"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
