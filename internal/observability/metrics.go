package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	importRows     *prometheus.CounterVec
	batchesFailed  prometheus.Counter
	mappingsScored *prometheus.CounterVec
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rentalpulse_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rentalpulse_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	importRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rentalpulse_import_rows_total",
		Help: "Import rows by source type and outcome (inserted, updated, skipped, unchanged).",
	}, []string{"source_type", "outcome"})
	batchesFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rentalpulse_import_batches_failed_total",
		Help: "Import batches that terminated in a failed state.",
	})
	mappingsScored := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rentalpulse_correlation_mappings_total",
		Help: "Correlation mappings recorded by matching method.",
	}, []string{"method"})
	registry.MustRegister(requests, duration, importRows, batchesFailed, mappingsScored)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		importRows:      importRows,
		batchesFailed:   batchesFailed,
		mappingsScored:  mappingsScored,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveImportRow counts a processed row outcome for a source type.
func (m *Metrics) ObserveImportRow(sourceType, outcome string) {
	if m == nil {
		return
	}
	m.importRows.WithLabelValues(sourceType, outcome).Inc()
}

// ObserveBatchFailed counts a failed import batch.
func (m *Metrics) ObserveBatchFailed() {
	if m == nil {
		return
	}
	m.batchesFailed.Inc()
}

// ObserveMapping counts a recorded correlation mapping per method.
func (m *Metrics) ObserveMapping(method string) {
	if m == nil {
		return
	}
	m.mappingsScored.WithLabelValues(method).Inc()
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)

		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if ctx := chi.RouteContext(r.Context()); ctx != nil {
		if pattern := ctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
