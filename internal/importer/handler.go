package importer

import (
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/rentalpulse/rentalpulse/internal/platform/httpx"
)

// Handler exposes the import admin surface and the period query boundary.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validate  *validator.Validate
	importDir string
}

// NewHandler constructs the import handler.
func NewHandler(logger *slog.Logger, service *Service, importDir string) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validate:  validator.New(),
		importDir: importDir,
	}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/imports", func(r chi.Router) {
		r.Post("/", h.runImport)
		r.Get("/", h.listBatches)
		r.Get("/{id}", h.getBatch)
		r.Post("/{id}/rollback", h.rollback)
	})
	r.Get("/periods", h.listPeriods)
}

type runImportRequest struct {
	SourceType string `json:"source_type" validate:"required"`
	File       string `json:"file" validate:"required"`
}

func (h *Handler) runImport(w http.ResponseWriter, r *http.Request) {
	var req runImportRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	path := filepath.Join(h.importDir, filepath.Clean("/"+req.File))
	batch, err := h.service.ImportFile(r.Context(), req.SourceType, path)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownSourceType):
			httpx.Problem(w, http.StatusBadRequest, "unknown source type", err.Error())
		case errors.Is(err, ErrImportRunning):
			httpx.Problem(w, http.StatusConflict, "import already running", err.Error())
		default:
			h.logger.Error("run import", slog.Any("error", err))
			// The batch summary still reaches the caller: silent partial
			// success is the failure mode this surface exists to avoid.
			if batch.ID != "" {
				httpx.JSON(w, http.StatusUnprocessableEntity, batch)
				return
			}
			httpx.Problem(w, http.StatusInternalServerError, "import failed", err.Error())
		}
		return
	}
	httpx.JSON(w, http.StatusCreated, batch)
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	batches, pagination, err := h.service.ListBatches(r.Context(), page, perPage)
	if err != nil {
		h.logger.Error("list batches", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "list batches", "storage failure")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"batches":    batches,
		"pagination": pagination,
	})
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.service.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ErrBatchNotFound) {
			httpx.Problem(w, http.StatusNotFound, "batch not found", "")
			return
		}
		h.logger.Error("get batch", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "get batch", "storage failure")
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

type rollbackRequest struct {
	Actor string `json:"actor"`
}

func (h *Handler) rollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	_ = httpx.DecodeJSON(r, &req)
	if req.Actor == "" {
		req.Actor = "api"
	}
	periods, equipment, err := h.service.Rollback(r.Context(), chi.URLParam(r, "id"), req.Actor)
	if err != nil {
		switch {
		case errors.Is(err, ErrBatchNotFound):
			httpx.Problem(w, http.StatusNotFound, "batch not found", "")
		case errors.Is(err, ErrBatchNotRollbackable):
			httpx.Problem(w, http.StatusConflict, "batch cannot be rolled back", err.Error())
		default:
			h.logger.Error("rollback batch", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "rollback failed", "storage failure")
		}
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"periods_deleted":   periods,
		"equipment_deleted": equipment,
	})
}

func (h *Handler) listPeriods(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := PeriodFilter{
		SourceType:   SourceType(strings.ToLower(query.Get("source_type"))),
		LocationCode: query.Get("location"),
	}
	if from := query.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "invalid from date", err.Error())
			return
		}
		filter.From = t
	}
	if to := query.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "invalid to date", err.Error())
			return
		}
		filter.To = t
	}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil {
		filter.Limit = limit
	}
	records, err := h.service.ListPeriods(r.Context(), filter)
	if err != nil {
		h.logger.Error("list periods", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "list periods", "storage failure")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"periods": records})
}
