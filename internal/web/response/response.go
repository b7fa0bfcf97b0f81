package response

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/wanderlustcms/api/internal/errors"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID stores the per-request correlation id on the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the correlation id, or "" when the
// request never passed through the request-id middleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// APIResponse is the envelope every endpoint answers with, success or
// failure. Clients key off Success and Error.Code, never the message.
type APIResponse struct {
	Success    bool      `json:"success"`
	Message    string    `json:"message,omitempty"`
	Data       any       `json:"data,omitempty"`
	Error      *APIError `json:"error,omitempty"`
	Timestamp  string    `json:"timestamp"`
	RequestID  string    `json:"requestId,omitempty"`
	StatusCode int       `json:"statusCode"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Writer renders envelopes. Development controls whether error details
// and causes leak into responses.
type Writer struct {
	Logger      *slog.Logger
	Development bool
}

func (wr *Writer) JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (wr *Writer) Success(w http.ResponseWriter, r *http.Request, status int, message string, data any) {
	wr.JSON(w, status, APIResponse{
		Success:    true,
		Message:    message,
		Data:       data,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		RequestID:  RequestIDFromContext(r.Context()),
		StatusCode: status,
	})
}

// Error renders a structured failure. Anything that is not an AppError
// is treated as internal: logged in full, reported as a generic 500.
func (wr *Writer) Error(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.AppError

	if apperrors.IsType(err, apperrors.CodeInternalError) || !errors.As(err, &appErr) {
		if wr.Logger != nil {
			wr.Logger.Error("Internal server error",
				slog.String("error", err.Error()),
				slog.String("request_id", RequestIDFromContext(r.Context())))
		}
		appErr = apperrors.InternalError("An internal error occurred", err)
	} else if wr.Logger != nil {
		wr.Logger.Warn("Application error occurred",
			slog.String("code", appErr.Code),
			slog.String("message", appErr.Message),
			slog.String("cause", appErr.Error()),
			slog.String("request_id", RequestIDFromContext(r.Context())))
	}

	apiErr := &APIError{
		Code:    appErr.Code,
		Message: appErr.Message,
	}
	if wr.Development && appErr.Details != "" {
		apiErr.Details = appErr.Details
	}

	wr.JSON(w, appErr.HTTPCode, APIResponse{
		Success:    false,
		Message:    appErr.Message,
		Error:      apiErr,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		RequestID:  RequestIDFromContext(r.Context()),
		StatusCode: appErr.HTTPCode,
	})
}

// ValidationError renders a 400 with per-field details. Field names are
// client input echoes, safe to return in any environment.
func (wr *Writer) ValidationError(w http.ResponseWriter, r *http.Request, message string, details map[string]string) {
	if wr.Logger != nil {
		wr.Logger.Warn("Validation error",
			slog.String("message", message),
			slog.Any("details", details))
	}

	wr.JSON(w, http.StatusBadRequest, APIResponse{
		Success: false,
		Message: message,
		Error: &APIError{
			Code:    apperrors.CodeValidationFailed,
			Message: message,
			Details: details,
		},
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		RequestID:  RequestIDFromContext(r.Context()),
		StatusCode: http.StatusBadRequest,
	})
}
