package correlate

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/rentalpulse/rentalpulse/internal/platform/httpx"
)

// Handler exposes correlation operations over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers correlation endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/correlations", func(r chi.Router) {
		r.Post("/run", h.run)
		r.Get("/ambiguous", h.listAmbiguous)
		r.Post("/manual", h.mapManually)
		r.Post("/{id}/verify", h.verify)
		r.Get("/items/{itemNumber}", h.itemStatus)
		r.Get("/classes/{rentalClass}", h.classItems)
	})
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Run(r.Context())
	if err != nil {
		if errors.Is(err, ErrCorrelationRunning) {
			httpx.Problem(w, http.StatusConflict, "correlation run already in progress", "")
			return
		}
		h.logger.Error("correlation run failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "correlation run failed", "")
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) listAmbiguous(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}
	items, err := h.service.ListAmbiguous(r.Context(), limit)
	if err != nil {
		h.logger.Error("list ambiguous failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "could not list ambiguous items", "storage failure")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

type manualMapRequest struct {
	ItemNumber  string `json:"item_number" validate:"required"`
	RentalClass string `json:"rental_class" validate:"required"`
	Actor       string `json:"actor" validate:"required"`
}

func (h *Handler) mapManually(w http.ResponseWriter, r *http.Request) {
	var req manualMapRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	mapping, err := h.service.MapManually(r.Context(), req.ItemNumber, req.RentalClass, req.Actor)
	if err != nil {
		if errors.Is(err, ErrVerifiedConflict) {
			httpx.Problem(w, http.StatusConflict, "verified mapping conflict", "item already has a verified mapping to another class")
			return
		}
		h.logger.Error("manual mapping failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "could not record mapping", "storage failure")
		return
	}
	httpx.JSON(w, http.StatusCreated, mapping)
}

type verifyRequest struct {
	Actor string `json:"actor" validate:"required"`
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid mapping id", err.Error())
		return
	}
	var req verifyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	mapping, err := h.service.VerifyMapping(r.Context(), id, req.Actor)
	if err != nil {
		switch {
		case errors.Is(err, ErrMappingNotFound):
			httpx.Problem(w, http.StatusNotFound, "mapping not found", "")
		case errors.Is(err, ErrVerifiedConflict):
			httpx.Problem(w, http.StatusConflict, "verified mapping conflict", "item already has a verified mapping to another class")
		default:
			h.logger.Error("verify mapping failed", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "could not verify mapping", "storage failure")
		}
		return
	}
	httpx.JSON(w, http.StatusOK, mapping)
}

func (h *Handler) itemStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.StatusForItem(r.Context(), chi.URLParam(r, "itemNumber"))
	if err != nil {
		h.logger.Error("item status lookup failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "could not load item status", "storage failure")
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) classItems(w http.ResponseWriter, r *http.Request) {
	rentalClass := chi.URLParam(r, "rentalClass")
	mappings, err := h.service.ItemsForClass(r.Context(), rentalClass)
	if err != nil {
		h.logger.Error("class items lookup failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "could not load class mappings", "storage failure")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rental_class": rentalClass, "items": mappings})
}
