// Package handler holds the HTTP handlers for the gateway's caller-facing
// and service-facing endpoints.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cytomind/gateway/internal/api/response"
	"github.com/cytomind/gateway/internal/inference"
	"github.com/cytomind/gateway/internal/jobs"
	"github.com/cytomind/gateway/internal/store"
	"github.com/cytomind/gateway/pkg/models"
	"github.com/google/uuid"
)

// JobService defines the interface the handlers depend on.
type JobService interface {
	Submit(ctx context.Context, sub jobs.Submission) (*jobs.Accepted, error)
	Status(ctx context.Context, ownerID, jobID string) (*jobs.StatusView, error)
	Report(ctx context.Context, ownerID, jobID string) (*inference.Report, error)
	ApplyUpdate(ctx context.Context, jobID uuid.UUID, u jobs.Update) (*models.Job, error)
	List(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error)
}

var _ JobService = (*jobs.Service)(nil)

// writeServiceError maps a jobs error to its HTTP status. Unclassified
// errors are logged and hidden behind a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, jobs.ErrValidation):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, jobs.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, jobs.ErrNotReady):
		response.Error(w, http.StatusBadRequest, "NOT_READY", err.Error(), nil)
	case errors.Is(err, jobs.ErrConflict):
		response.Error(w, http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)
	case errors.Is(err, jobs.ErrUpstream):
		response.Error(w, http.StatusInternalServerError, "UPSTREAM_ERROR", err.Error(), nil)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
	}
}

func unauthorized(w http.ResponseWriter) {
	response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner identity", nil)
}
