package api

import (
	"net/http"

	mw "github.com/cytomind/gateway/internal/api/middleware"
	"github.com/cytomind/gateway/internal/api/response"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit
	// ServiceKey guards the inference callback. When nil the callback route
	// is not mounted.
	ServiceKey *mw.ServiceKey

	HealthHandler   http.HandlerFunc
	MetricsHandler  http.Handler
	UploadHandler   http.HandlerFunc
	ListJobsHandler http.HandlerFunc
	StatusHandler   http.HandlerFunc
	ReportHandler   http.HandlerFunc
	ProgressHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	// Public
	r.Get("/api/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Caller-facing routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/upload", orNotImplemented(deps.UploadHandler))
		r.Get("/api/jobs", orNotImplemented(deps.ListJobsHandler))
		r.Get("/api/jobs/{jobID}/status", orNotImplemented(deps.StatusHandler))
		r.Get("/api/reports/{jobID}", orNotImplemented(deps.ReportHandler))
	})

	// Inference service callbacks
	if deps.ServiceKey != nil {
		r.Group(func(r chi.Router) {
			r.Use(deps.ServiceKey.Authenticate)

			r.Post("/internal/jobs/{jobID}/progress", orNotImplemented(deps.ProgressHandler))
		})
	}

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
