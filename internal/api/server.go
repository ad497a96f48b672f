// Package api serves the report HTTP API.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/rankgrid/internal/model"
	"github.com/sells-group/rankgrid/internal/report"
)

// Service is the report service the handlers call.
type Service interface {
	CreateProfile(ctx context.Context, in report.ProfileInput) (*model.Profile, error)
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	CreateReport(ctx context.Context, in report.CreateInput) (*model.Report, error)
	ListReports(ctx context.Context, profileID string) ([]model.ReportSummary, error)
	GetReport(ctx context.Context, id string) (*report.Detail, error)
	UpdateReport(ctx context.Context, id string, u model.ReportUpdate) (*model.Report, error)
	DeleteReport(ctx context.Context, id string) (bool, error)
	TriggerRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, reportID string, limit int) ([]model.Run, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	GetRunResults(ctx context.Context, runID, keyword string) ([]model.Result, error)
}

var _ Service = (*report.Service)(nil)

// Pinger checks a dependency for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config configures the router.
type Config struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

type handlers struct {
	svc    Service
	health Pinger
}

// NewRouter builds the API router.
func NewRouter(svc Service, health Pinger, cfg Config) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &handlers{svc: svc, health: health}
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", h.healthCheck)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(chiMiddleware.Timeout(cfg.RequestTimeout))

		r.Post("/profiles", h.createProfile)
		r.Get("/profiles/{profileID}", h.getProfile)
		r.Get("/profiles/{profileID}/reports", h.listProfileReports)

		r.Route("/reports", func(r chi.Router) {
			r.Get("/", h.listReports)
			r.Post("/", h.createReport)
			r.Get("/{id}", h.getReport)
			r.Patch("/{id}", h.updateReport)
			r.Delete("/{id}", h.deleteReport)
			r.Post("/{id}/runs", h.triggerRun)
			r.Get("/{id}/runs", h.listRuns)
		})

		r.Get("/runs/{id}", h.getRun)
		r.Get("/runs/{id}/results", h.getRunResults)
		r.Get("/runs/{id}/geojson", h.getRunGeoJSON)
	})

	return r
}
