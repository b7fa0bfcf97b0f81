package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	apperrors "github.com/wanderlustcms/api/internal/errors"
	"github.com/wanderlustcms/api/internal/web/response"
)

// Checks run in a fixed order and short-circuit on the first hit. The
// client only ever sees a generic rejection; the matched check and a
// snippet of the offending value go to the server log.

var sqlPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`),
	regexp.MustCompile(`(?i)\b(select|insert|update|delete|drop|create|alter|exec|execute)\b\s.*\b(from|into|table|database|where)\b`),
	regexp.MustCompile(`(?i)'\s*(or|and)\s*'`),
	regexp.MustCompile(`;\s*--`),
	regexp.MustCompile(`(?i)\b0x[0-9a-f]{4,}\b`),
	regexp.MustCompile(`(?i)\b(char|convert|cast)\s*\(`),
}

var scriptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)\bon\w+\s*=`),
	regexp.MustCompile(`(?i)<\s*(iframe|object|embed)`),
	regexp.MustCompile(`(?i)\b(eval|expression)\s*\(`),
}

var commandPatterns = []*regexp.Regexp{
	regexp.MustCompile("`"),
	regexp.MustCompile(`\$\(`),
	regexp.MustCompile(`\.\./`),
	regexp.MustCompile(`(?i)[;&|]\s*(cmd|bash|sh|powershell|rm|wget|curl|nc|ping)\b`),
	regexp.MustCompile(`(?i)^\s*(cmd|bash|sh|wget|curl)\b`),
}

// Proxy routing headers legitimately carry addresses and URLs that trip
// the patterns; credential headers are opaque tokens. Neither is
// interpreted as content, so both are skipped.
var exemptHeaders = map[string]struct{}{
	"X-Forwarded-For":  {},
	"X-Forwarded-Host": {},
	"X-Real-Ip":        {},
	"X-Original-Url":   {},
	"X-Rewrite-Url":    {},
	"Authorization":    {},
	"Cookie":           {},
}

const (
	maxQueryKeyLength   = 100
	maxQueryValueLength = 1000

	authBodyLimit    = 1 << 10
	articleBodyLimit = 10 << 10
	defaultBodyLimit = 5 << 10

	// Hard cap on how much body is buffered for inspection. Anything
	// larger is rejected outright without running content checks.
	maxScanBytes = 1 << 20
)

func bodyCeiling(path string) int64 {
	switch {
	case strings.HasPrefix(path, "/api/auth/"):
		return authBodyLimit
	case strings.HasPrefix(path, "/api/articles"):
		return articleBodyLimit
	default:
		return defaultBodyLimit
	}
}

type patternGroup struct {
	name     string
	patterns []*regexp.Regexp
}

var patternGroups = []patternGroup{
	{"sql_injection", sqlPatterns},
	{"script_injection", scriptPatterns},
	{"command_injection", commandPatterns},
}

// matchThreat reports the first check the value trips, or "".
func matchThreat(value string) string {
	for _, group := range patternGroups {
		for _, pattern := range group.patterns {
			if pattern.MatchString(value) {
				return group.name
			}
		}
	}
	return ""
}

func isStateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func isJSONContentType(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(mediaType) == "application/json"
}

// ThreatScan inspects query parameters, headers and state-changing JSON
// bodies before any handler runs. The body is replaced after reading so
// handlers can still decode it.
func ThreatScan(writer *response.Writer, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reject := func(check, sample string) {
				if len(sample) > 120 {
					sample = sample[:120]
				}
				logger.Warn("Request blocked by threat scan",
					slog.String("check", check),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("sample", sample),
					slog.String("client_ip", ClientIP(r)),
					slog.String("request_id", response.RequestIDFromContext(r.Context())))

				writer.Error(w, r, apperrors.ValidationError("Request could not be processed", nil))
			}

			for key, values := range r.URL.Query() {
				if len(key) > maxQueryKeyLength {
					reject("query_key_length", key)
					return
				}
				if check := matchThreat(key); check != "" {
					reject(check, key)
					return
				}
				for _, value := range values {
					if len(value) > maxQueryValueLength {
						reject("query_value_length", value)
						return
					}
					if check := matchThreat(value); check != "" {
						reject(check, value)
						return
					}
				}
			}

			for name, values := range r.Header {
				if _, exempt := exemptHeaders[name]; exempt {
					continue
				}
				for _, value := range values {
					if check := matchThreat(value); check != "" {
						reject(check, name+": "+value)
						return
					}
				}
			}

			if isStateChanging(r.Method) && r.Body != nil && r.Body != http.NoBody {
				body, err := io.ReadAll(io.LimitReader(r.Body, maxScanBytes+1))
				r.Body.Close()
				if err != nil {
					reject("body_read", err.Error())
					return
				}
				if int64(len(body)) > maxScanBytes {
					reject("body_size", "")
					return
				}

				// Content checks run before the per-route size ceiling
				// so an injection attempt in an oversized body is logged
				// as the threat it is, not as a size violation.
				if len(body) > 0 {
					if isJSONContentType(r.Header.Get("Content-Type")) && !json.Valid(body) {
						reject("malformed_json", string(body))
						return
					}
					if check := matchThreat(string(body)); check != "" {
						reject(check, string(body))
						return
					}
				}
				if int64(len(body)) > bodyCeiling(r.URL.Path) {
					reject("body_size", "")
					return
				}

				r.Body = io.NopCloser(bytes.NewReader(body))
				r.ContentLength = int64(len(body))
			}

			next.ServeHTTP(w, r)
		})
	}
}
