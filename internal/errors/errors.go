package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents a structured application error with context
type AppError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Details  string `json:"details,omitempty"`
	HTTPCode int    `json:"-"`
	Cause    error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common error codes
const (
	CodeValidationFailed     = "VALIDATION_ERROR"
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	CodeInvalidCredentials   = "INVALID_CREDENTIALS"
	CodeTokenExpired         = "TOKEN_EXPIRED"
	CodeTokenInvalid         = "TOKEN_INVALID"
	CodeForbidden            = "FORBIDDEN"
	CodeAccountDisabled      = "ACCOUNT_DISABLED"
	CodeNotFound             = "NOT_FOUND"
	CodeDuplicateEntity      = "DUPLICATE_ENTITY"
	CodeRateLimited          = "RATE_LIMITED"
	CodeConfigError          = "CONFIGURATION_ERROR"
	CodeDatabaseError        = "DATABASE_ERROR"
	CodeInternalError        = "INTERNAL_ERROR"
)

// Error constructors
func ValidationError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeValidationFailed,
		Message:  message,
		HTTPCode: http.StatusBadRequest,
		Cause:    cause,
	}
}

// AuthenticationError covers bad login credentials and rejected refresh
// tokens. These surface as 400 to match the auth endpoint contract; token
// failures on protected routes use UnauthorizedError instead.
func AuthenticationError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeAuthenticationFailed,
		Message:  message,
		HTTPCode: http.StatusBadRequest,
		Cause:    cause,
	}
}

func UnauthorizedError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeTokenInvalid,
		Message:  message,
		HTTPCode: http.StatusUnauthorized,
		Cause:    cause,
	}
}

func ForbiddenError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeForbidden,
		Message:  message,
		HTTPCode: http.StatusForbidden,
		Cause:    cause,
	}
}

func NotFoundError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeNotFound,
		Message:  message,
		HTTPCode: http.StatusNotFound,
		Cause:    cause,
	}
}

func DuplicateEntityError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeDuplicateEntity,
		Message:  message,
		HTTPCode: http.StatusConflict,
		Cause:    cause,
	}
}

func RateLimitedError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeRateLimited,
		Message:  message,
		HTTPCode: http.StatusTooManyRequests,
		Cause:    cause,
	}
}

// ConfigError is fatal at startup. It is never converted into a
// per-request response.
func ConfigError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeConfigError,
		Message:  message,
		HTTPCode: http.StatusInternalServerError,
		Cause:    cause,
	}
}

func DatabaseError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeDatabaseError,
		Message:  message,
		HTTPCode: http.StatusInternalServerError,
		Cause:    cause,
	}
}

func InternalError(message string, cause error) *AppError {
	return &AppError{
		Code:     CodeInternalError,
		Message:  message,
		HTTPCode: http.StatusInternalServerError,
		Cause:    cause,
	}
}

// IsType checks if an error is of a specific type/code
func IsType(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetAppError extracts an AppError from an error chain, wrapping anything
// unexpected as an internal error.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalError("An unexpected error occurred", err)
}

// GetHTTPCode extracts the HTTP status code from an error
func GetHTTPCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPCode
	}
	return http.StatusInternalServerError
}
