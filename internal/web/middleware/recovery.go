package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	apperrors "github.com/wanderlustcms/api/internal/errors"
	"github.com/wanderlustcms/api/internal/web/response"
)

// Recovery converts panics into 500 envelopes. The stack trace stays in
// the server log, never in the response.
func Recovery(writer *response.Writer, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Panic recovered",
						slog.Any("panic", rec),
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("request_id", response.RequestIDFromContext(r.Context())),
						slog.String("stack", string(debug.Stack())))

					writer.Error(w, r, apperrors.InternalError(
						"An internal error occurred",
						fmt.Errorf("panic: %v", rec)))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
