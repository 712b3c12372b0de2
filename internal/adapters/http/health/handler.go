package health

import (
	"log/slog"
	"net/http"

	apphealth "3tcapital/ms_facturacion_pe/internal/application/health"
	httperrors "3tcapital/ms_facturacion_pe/internal/infrastructure/http"
)

// Handler serves the liveness report built by the health service.
type Handler struct {
	service *apphealth.Service
	log     *slog.Logger
}

// NewHandler wires a health handler. log may be nil.
func NewHandler(service *apphealth.Service, log *slog.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// Status answers 200 when every dependency is up and 503 otherwise.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	report := h.service.Status(r.Context())
	if report.Healthy() {
		httperrors.WriteJSON(w, http.StatusOK, report, h.log)
		return
	}

	if h.log != nil {
		for _, dep := range report.Dependencies {
			if dep.Error != "" {
				h.log.Warn("health probe failed", "dependency", dep.Name, "error", dep.Error)
			}
		}
	}
	httperrors.WriteJSON(w, http.StatusServiceUnavailable, report, h.log)
}
