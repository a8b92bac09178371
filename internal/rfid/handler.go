package rfid

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rentalpulse/rentalpulse/internal/platform/httpx"
)

// Handler exposes tag inventory reads over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers RFID endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/rfid", func(r chi.Router) {
		r.Get("/classes", h.listClasses)
		r.Get("/classes/{rentalClass}/items", h.listItems)
	})
}

func (h *Handler) listClasses(w http.ResponseWriter, r *http.Request) {
	classes, err := h.service.ClassSummaries(r.Context())
	if err != nil {
		h.logger.Error("class summary lookup failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "could not list rental classes", "storage failure")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"classes": classes})
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	rentalClass := chi.URLParam(r, "rentalClass")
	items, err := h.service.ItemsByClass(r.Context(), rentalClass)
	if err != nil {
		h.logger.Error("class items lookup failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "could not list tags", "storage failure")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rental_class": rentalClass, "items": items})
}
