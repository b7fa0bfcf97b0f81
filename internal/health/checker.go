package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/wanderlustcms/api/internal/cache"
	"github.com/wanderlustcms/api/internal/database"
)

// Checker provides Kubernetes-ready health checks.
type Checker struct {
	DB     *database.Database
	Store  cache.CounterStore
	Logger *slog.Logger
}

func NewChecker(db *database.Database, store cache.CounterStore, logger *slog.Logger) Checker {
	return Checker{
		DB:     db,
		Store:  store,
		Logger: logger,
	}
}

type Status struct {
	Status     string                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

type ComponentHealth struct {
	Status      string        `json:"status"`
	Message     string        `json:"message,omitempty"`
	Latency     time.Duration `json:"latency_ms"`
	LastChecked string        `json:"last_checked"`
	Critical    bool          `json:"critical"`
}

// CheckHealth inspects every dependency. The rate-limit store is
// non-critical: the service still serves traffic when it is degraded.
func (h *Checker) CheckHealth(ctx context.Context) Status {
	now := time.Now()
	components := make(map[string]ComponentHealth)

	components["database"] = h.checkDatabase(ctx)
	components["rate_limit_store"] = h.checkStore(ctx)

	overall := "healthy"
	for _, c := range components {
		if c.Status == "unhealthy" && c.Critical {
			overall = "unhealthy"
			break
		}
		if c.Status == "degraded" || (c.Status == "unhealthy" && !c.Critical) {
			overall = "degraded"
		}
	}

	return Status{
		Status:     overall,
		Timestamp:  now.UTC().Format(time.RFC3339),
		Components: components,
	}
}

// CheckLiveness is intentionally lightweight: it only verifies the
// process is responsive.
func (h *Checker) CheckLiveness(ctx context.Context) Status {
	now := time.Now()
	return Status{
		Status:    "healthy",
		Timestamp: now.UTC().Format(time.RFC3339),
		Components: map[string]ComponentHealth{
			"process": {
				Status:      "healthy",
				Message:     "service is responsive",
				Latency:     time.Since(now),
				LastChecked: now.UTC().Format(time.RFC3339),
				Critical:    true,
			},
		},
	}
}

// CheckReadiness only checks critical dependencies.
func (h *Checker) CheckReadiness(ctx context.Context) Status {
	now := time.Now()
	dbHealth := h.checkDatabase(ctx)

	overall := "healthy"
	if dbHealth.Status == "unhealthy" {
		overall = "unhealthy"
	}

	return Status{
		Status:    overall,
		Timestamp: now.UTC().Format(time.RFC3339),
		Components: map[string]ComponentHealth{
			"database": dbHealth,
		},
	}
}

func (h *Checker) checkDatabase(ctx context.Context) ComponentHealth {
	start := time.Now()

	if h.DB == nil {
		return ComponentHealth{
			Status:      "unhealthy",
			Message:     "database not configured",
			Latency:     time.Since(start),
			LastChecked: time.Now().UTC().Format(time.RFC3339),
			Critical:    true,
		}
	}

	var result int
	err := h.DB.QueryRow(ctx, "SELECT 1").Scan(&result)
	latency := time.Since(start)

	if err != nil {
		h.Logger.Error("Database health check failed", "error", err, "latency", latency)
		return ComponentHealth{
			Status:      "unhealthy",
			Message:     "database connection failed: " + err.Error(),
			Latency:     latency,
			LastChecked: time.Now().UTC().Format(time.RFC3339),
			Critical:    true,
		}
	}

	status := "healthy"
	message := "database connection successful"
	if latency > 5*time.Second {
		status = "unhealthy"
		message = "database response time too slow"
	} else if latency > 100*time.Millisecond {
		status = "degraded"
		message = "database response time elevated"
	}

	return ComponentHealth{
		Status:      status,
		Message:     message,
		Latency:     latency,
		LastChecked: time.Now().UTC().Format(time.RFC3339),
		Critical:    true,
	}
}

func (h *Checker) checkStore(ctx context.Context) ComponentHealth {
	start := time.Now()

	if h.Store == nil {
		return ComponentHealth{
			Status:      "degraded",
			Message:     "rate limit store not configured",
			Latency:     time.Since(start),
			LastChecked: time.Now().UTC().Format(time.RFC3339),
			Critical:    false,
		}
	}

	// Peek is read-only, so probing does not consume anyone's quota.
	_, _, _, err := h.Store.Peek(ctx, "health:check:probe")
	latency := time.Since(start)

	if err != nil {
		h.Logger.Error("Rate limit store health check failed", "error", err, "latency", latency)
		return ComponentHealth{
			Status:      "unhealthy",
			Message:     "store unavailable: " + err.Error(),
			Latency:     latency,
			LastChecked: time.Now().UTC().Format(time.RFC3339),
			Critical:    false,
		}
	}

	return ComponentHealth{
		Status:      "healthy",
		Message:     "store reachable",
		Latency:     latency,
		LastChecked: time.Now().UTC().Format(time.RFC3339),
		Critical:    false,
	}
}
