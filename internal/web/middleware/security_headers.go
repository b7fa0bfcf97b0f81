package middleware

import (
	"fmt"
	"net/http"

	"github.com/wanderlustcms/api/internal/config"
)

const (
	// Development keeps inline scripts and eval usable for local tooling.
	cspDevelopment = "default-src 'self'; script-src 'self' 'unsafe-inline' 'unsafe-eval'; style-src 'self' 'unsafe-inline'; img-src 'self' data: https:; connect-src 'self' ws: wss:"
	cspProduction  = "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data: https:; font-src 'self'; connect-src 'self'; frame-ancestors 'none'; base-uri 'self'; form-action 'self'; upgrade-insecure-requests"
)

// SecurityHeaders hardens every response and removes headers that
// disclose the server implementation. HSTS is only meaningful over TLS,
// so it is emitted only on TLS connections.
func SecurityHeaders(sec config.Security, env config.Environment) Middleware {
	csp := sec.ContentSecurityPolicy
	if csp == "" {
		if env == config.EnvProduction {
			csp = cspProduction
		} else {
			csp = cspDevelopment
		}
	}

	referrerPolicy := sec.ReferrerPolicy
	if referrerPolicy == "" {
		referrerPolicy = "strict-origin-when-cross-origin"
	}

	permissionsPolicy := sec.PermissionsPolicy
	if permissionsPolicy == "" {
		permissionsPolicy = "accelerometer=(), camera=(), geolocation=(), gyroscope=(), magnetometer=(), microphone=(), payment=(), usb=()"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-XSS-Protection", "1; mode=block")
			w.Header().Set("Content-Security-Policy", csp)
			w.Header().Set("Referrer-Policy", referrerPolicy)
			w.Header().Set("Permissions-Policy", permissionsPolicy)

			if sec.EnableHSTS && r.TLS != nil {
				hstsValue := fmt.Sprintf("max-age=%d", sec.HSTSMaxAge)
				if sec.HSTSIncludeSubdomains {
					hstsValue += "; includeSubDomains"
				}
				w.Header().Set("Strict-Transport-Security", hstsValue)
			}

			// Remove server information and version disclosure
			w.Header().Set("Server", "")
			w.Header().Del("X-Powered-By")

			next.ServeHTTP(w, r)
		})
	}
}
