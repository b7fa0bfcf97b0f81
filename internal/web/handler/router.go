package handler

import (
	"log/slog"
	"net/http"

	"github.com/wanderlustcms/api/internal/auth"
	"github.com/wanderlustcms/api/internal/config"
	"github.com/wanderlustcms/api/internal/web/middleware"
	"github.com/wanderlustcms/api/internal/web/response"
)

// RouterDeps bundles everything the HTTP surface needs.
type RouterDeps struct {
	Config  config.Config
	Writer  *response.Writer
	Issuer  *auth.Issuer
	Limiter *middleware.RateLimiter
	Auth    *AuthHandler
	Article *ArticleHandler
	Health  *HealthHandler
	Logger  *slog.Logger
}

// NewRouter wires the full request pipeline:
//
//	request id -> security headers -> recovery -> authenticate ->
//	threat scan -> rate limit -> route handler
//
// Authentication runs before the rate limiter so authenticated traffic
// is metered per account instead of per address. Scanner and limiter
// rejections short-circuit before any handler runs.
func NewRouter(deps RouterDeps) http.Handler {
	mux := http.NewServeMux()

	requireAuth := middleware.RequireAuth(deps.Issuer, deps.Writer)
	requireAdmin := middleware.Chain(
		requireAuth,
		middleware.RequireRole(deps.Writer, "admin"),
	)

	deps.Auth.RegisterRoutes(mux, requireAuth)
	deps.Article.RegisterRoutes(mux, requireAuth, requireAdmin)
	deps.Health.RegisterRoutes(mux)

	middlewares := []middleware.Middleware{
		middleware.RequestID(),
		middleware.SecurityHeaders(deps.Config.Security, deps.Config.Server.Environment),
		middleware.Recovery(deps.Writer, deps.Logger),
		middleware.Authenticate(deps.Issuer),
		middleware.ThreatScan(deps.Writer, deps.Logger),
	}
	if deps.Config.RateLimit.Enabled {
		middlewares = append(middlewares, middleware.RateLimit(deps.Limiter, deps.Writer, deps.Logger))
	}

	return middleware.Chain(middlewares...)(mux)
}
