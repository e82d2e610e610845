package handler

import (
	"encoding/json"
	"net/http"

	"github.com/cytomind/gateway/internal/api/response"
	"github.com/cytomind/gateway/internal/jobs"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxCallbackBytes = 4 << 20

// NewProgressHandler returns an http.HandlerFunc for
// POST /internal/jobs/{jobID}/progress, called by the inference service.
func NewProgressHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}

		var u jobs.Update
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCallbackBytes)).Decode(&u); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		job, err := svc.ApplyUpdate(r.Context(), jobID, u)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		response.JSON(w, map[string]any{
			"jobId":    job.ID,
			"status":   job.Status,
			"progress": job.Progress,
		})
	}
}
