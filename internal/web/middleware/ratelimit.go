package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wanderlustcms/api/internal/cache"
	"github.com/wanderlustcms/api/internal/clock"
	apperrors "github.com/wanderlustcms/api/internal/errors"
	"github.com/wanderlustcms/api/internal/web/response"
)

// Tier is one fixed-window policy. Paths match exactly, Prefix matches
// by path prefix; the first matching tier wins.
type Tier struct {
	Name   string
	Paths  []string
	Prefix string
	Limit  int
	Window time.Duration
}

func (t Tier) matches(path string) bool {
	for _, p := range t.Paths {
		if path == p {
			return true
		}
	}
	return t.Prefix != "" && strings.HasPrefix(path, t.Prefix)
}

// DefaultTiers returns the endpoint policies, most specific first.
// Credential endpoints get tight budgets, the API surface a broad one.
func DefaultTiers() []Tier {
	return []Tier{
		{
			Name:   "auth",
			Paths:  []string{"/api/auth/login", "/api/auth/register"},
			Limit:  5,
			Window: 15 * time.Minute,
		},
		{
			Name:   "password",
			Paths:  []string{"/api/auth/change-password"},
			Limit:  3,
			Window: time.Hour,
		},
		{
			Name:   "api",
			Prefix: "/api/",
			Limit:  100,
			Window: 15 * time.Minute,
		},
	}
}

// DefaultFallbackTier covers everything outside the API surface.
func DefaultFallbackTier() Tier {
	return Tier{
		Name:   "default",
		Limit:  200,
		Window: 15 * time.Minute,
	}
}

// Decision is the outcome of admitting one request against its tier.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter admits requests against per-identity fixed windows backed
// by a counter store.
type RateLimiter struct {
	store    cache.CounterStore
	clk      clock.Clock
	tiers    []Tier
	fallback Tier
}

func NewRateLimiter(store cache.CounterStore, clk clock.Clock, tiers []Tier, fallback Tier) *RateLimiter {
	return &RateLimiter{
		store:    store,
		clk:      clk,
		tiers:    tiers,
		fallback: fallback,
	}
}

func (l *RateLimiter) tierFor(path string) Tier {
	for _, tier := range l.tiers {
		if tier.matches(path) {
			return tier
		}
	}
	return l.fallback
}

// Admit counts the request and decides. Each (identity, method, path)
// gets its own counter: exhausting the login budget leaves register
// untouched, and heavy reads on one route never lock a client out of
// the rest of the API. The counter always increments atomically, even
// past the limit; because the store anchors the window expiry to the
// first hit, over-limit increments never extend the window or eat into
// the next one, which makes this equivalent to not counting rejected
// requests.
func (l *RateLimiter) Admit(ctx context.Context, identity, method, path string) (Decision, error) {
	tier := l.tierFor(path)
	key := tier.Name + ":" + identity + ":" + method + ":" + path

	count, expiresAt, err := l.store.Increment(ctx, key, tier.Window)
	if err != nil {
		return Decision{}, err
	}

	remaining := tier.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= int64(tier.Limit),
		Limit:     tier.Limit,
		Remaining: remaining,
		ResetAt:   expiresAt,
	}, nil
}

// ClientIP extracts the client address, trusting proxy headers in
// order: first X-Forwarded-For entry, then X-Real-IP, then the socket.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, found := strings.Cut(xff, ","); found || first != "" {
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

// identityFor keys authenticated traffic by account and anonymous
// traffic by address, so a shared NAT cannot exhaust a user's budget.
func identityFor(r *http.Request) string {
	if subject, ok := SubjectFromContext(r.Context()); ok {
		return "user_" + subject.ID.String()
	}
	return "ip_" + ClientIP(r)
}

// RateLimit enforces the limiter on every request. Store failures fail
// open: dropped traffic hurts more than a briefly unmetered window.
func RateLimit(limiter *RateLimiter, writer *response.Writer, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, err := limiter.Admit(r.Context(), identityFor(r), r.Method, r.URL.Path)
			if err != nil {
				logger.Error("Rate limit store unavailable",
					slog.String("error", err.Error()),
					slog.String("path", r.URL.Path))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				retryAfter := int(time.Until(decision.ResetAt).Seconds())
				if l := limiter.clk; l != nil {
					retryAfter = int(decision.ResetAt.Sub(l.Now()).Seconds())
				}
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

				writer.Error(w, r, apperrors.RateLimitedError(
					"Too many requests. Please try again later.", nil))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
