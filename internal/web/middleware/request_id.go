package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/wanderlustcms/api/internal/web/response"
)

// RequestID assigns every request a correlation id, echoed in the
// X-Request-Id header and stamped into every envelope. Client-supplied
// ids are ignored so log correlation cannot be spoofed.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := uuid.NewString()
			w.Header().Set("X-Request-Id", id)
			next.ServeHTTP(w, r.WithContext(response.WithRequestID(r.Context(), id)))
		})
	}
}
