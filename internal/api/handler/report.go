package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	mw "github.com/cytomind/gateway/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ReportFilename is the attachment name for a job's PDF.
func ReportFilename(jobID uuid.UUID) string {
	return fmt.Sprintf("cytomind_report_%s.pdf", jobID)
}

// NewReportHandler returns an http.HandlerFunc for GET /api/reports/{jobID}.
// The PDF is streamed straight from the inference service.
func NewReportHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			unauthorized(w)
			return
		}

		rep, err := svc.Report(r.Context(), ownerID, chi.URLParam(r, "jobID"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		defer rep.Body.Close()

		h := w.Header()
		h.Set("Content-Type", "application/pdf")
		h.Set("Content-Disposition", "attachment; filename="+ReportFilename(rep.JobID))
		if rep.ContentLength > 0 {
			h.Set("Content-Length", strconv.FormatInt(rep.ContentLength, 10))
		}
		w.WriteHeader(http.StatusOK)

		if _, err := io.Copy(w, rep.Body); err != nil {
			slog.Warn("report stream interrupted", "job_id", rep.JobID, "error", err)
		}
	}
}
