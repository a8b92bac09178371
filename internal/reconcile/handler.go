package reconcile

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rentalpulse/rentalpulse/internal/platform/httpx"
)

// Handler exposes reconciliation reports over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers reconciliation endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/reconciliation", func(r chi.Router) {
		r.Get("/report", h.report)
		r.Get("/unmapped-items", h.unmappedItems)
		r.Get("/unmapped-classes", h.unmappedClasses)
		r.Get("/quantity-mismatches", h.quantityMismatches)
	})
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Report(r.Context())
	if err != nil {
		h.logger.Error("reconciliation report failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "could not build reconciliation report", "storage failure")
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) unmappedItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.UnmappedItems(r.Context(), queryLimit(r))
	if err != nil {
		h.logger.Error("unmapped items lookup failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "could not list unmapped items", "storage failure")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) unmappedClasses(w http.ResponseWriter, r *http.Request) {
	classes, err := h.service.UnmappedClasses(r.Context(), queryLimit(r))
	if err != nil {
		h.logger.Error("unmapped classes lookup failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "could not list unmapped classes", "storage failure")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"classes": classes})
}

func (h *Handler) quantityMismatches(w http.ResponseWriter, r *http.Request) {
	mismatches, label, err := h.service.Mismatches(r.Context())
	if err != nil {
		h.logger.Error("quantity mismatch lookup failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "could not compute quantity mismatches", "storage failure")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"coverage_label": label,
		"mismatches":     mismatches,
	})
}

func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return v
}
