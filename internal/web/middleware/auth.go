package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/wanderlustcms/api/internal/auth"
	apperrors "github.com/wanderlustcms/api/internal/errors"
	"github.com/wanderlustcms/api/internal/web/response"
)

type subjectKey struct{}

// SubjectFromContext returns the authenticated caller, if any.
func SubjectFromContext(ctx context.Context) (auth.Subject, bool) {
	subject, ok := ctx.Value(subjectKey{}).(auth.Subject)
	return subject, ok
}

func withSubject(ctx context.Context, subject auth.Subject) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// Authenticate resolves a Bearer token into a subject when one is
// presented. Invalid or expired tokens are rejected; absent tokens pass
// through anonymously so RequireAuth decides per route.
func Authenticate(issuer *auth.Issuer) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := issuer.Parse(token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			id, err := uuid.Parse(claims.Subject)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			subject := auth.Subject{
				ID:            id,
				Username:      claims.Username,
				Email:         claims.Email,
				DisplayName:   claims.DisplayName,
				Role:          claims.Role,
				EmailVerified: claims.EmailVerified,
			}
			next.ServeHTTP(w, r.WithContext(withSubject(r.Context(), subject)))
		})
	}
}

// RequireAuth rejects requests that did not authenticate. Expiry gets
// its own code so clients know to refresh rather than re-login.
func RequireAuth(issuer *auth.Issuer, writer *response.Writer) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := SubjectFromContext(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token, hasBearer := strings.CutPrefix(header, "Bearer ")
			if !hasBearer {
				writer.Error(w, r, apperrors.UnauthorizedError("Authentication required", nil))
				return
			}

			_, err := issuer.Parse(token)
			switch {
			case err == nil:
				// Parse succeeded here but Authenticate rejected it
				// earlier (malformed subject claim).
				writer.Error(w, r, apperrors.UnauthorizedError("Invalid token", nil))
			case errors.Is(err, auth.ErrTokenExpired):
				appErr := apperrors.UnauthorizedError("Token has expired", err)
				appErr.Code = apperrors.CodeTokenExpired
				writer.Error(w, r, appErr)
			default:
				writer.Error(w, r, apperrors.UnauthorizedError("Invalid token", err))
			}
		})
	}
}

// RequireRole layers a role check over RequireAuth.
func RequireRole(writer *response.Writer, roles ...string) Middleware {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, ok := SubjectFromContext(r.Context())
			if !ok {
				writer.Error(w, r, apperrors.UnauthorizedError("Authentication required", nil))
				return
			}
			if _, ok := allowed[subject.Role]; !ok {
				writer.Error(w, r, apperrors.ForbiddenError("Insufficient permissions", nil))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
