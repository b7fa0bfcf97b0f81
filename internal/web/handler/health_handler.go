package handler

import (
	"net/http"

	"github.com/wanderlustcms/api/internal/health"
	"github.com/wanderlustcms/api/internal/web/response"
)

type HealthHandler struct {
	Checker health.Checker
	Writer  *response.Writer
}

func NewHealthHandler(checker health.Checker, writer *response.Writer) *HealthHandler {
	return &HealthHandler{
		Checker: checker,
		Writer:  writer,
	}
}

func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.handleLiveness)
	mux.HandleFunc("GET /readyz", h.handleReadiness)
	mux.HandleFunc("GET /api/health", h.handleHealth)
}

func (h *HealthHandler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	h.Writer.JSON(w, http.StatusOK, h.Checker.CheckLiveness(r.Context()))
}

func (h *HealthHandler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	status := h.Checker.CheckReadiness(r.Context())
	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	h.Writer.JSON(w, code, status)
}

func (h *HealthHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.Checker.CheckHealth(r.Context())
	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	h.Writer.JSON(w, code, status)
}
