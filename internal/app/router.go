package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/rentalpulse/rentalpulse/internal/correlate"
	"github.com/rentalpulse/rentalpulse/internal/importer"
	"github.com/rentalpulse/rentalpulse/internal/observability"
	"github.com/rentalpulse/rentalpulse/internal/reconcile"
	"github.com/rentalpulse/rentalpulse/internal/rfid"
	"github.com/rentalpulse/rentalpulse/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	ImportHandler    *importer.Handler
	CorrelateHandler *correlate.Handler
	ReconcileHandler *reconcile.Handler
	RFIDHandler      *rfid.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with RentalPulse defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		if params.ImportHandler != nil {
			params.ImportHandler.MountRoutes(api)
		}
		if params.CorrelateHandler != nil {
			params.CorrelateHandler.MountRoutes(api)
		}
		if params.ReconcileHandler != nil {
			params.ReconcileHandler.MountRoutes(api)
		}
		if params.RFIDHandler != nil {
			params.RFIDHandler.MountRoutes(api)
		}
		if params.JobHandler != nil {
			api.Route("/jobs", func(jr chi.Router) {
				params.JobHandler.MountRoutes(jr)
			})
		}
	})

	return r
}
