package handler

import (
	"net/http"
	"strconv"

	mw "github.com/cytomind/gateway/internal/api/middleware"
	"github.com/cytomind/gateway/internal/api/response"
	"github.com/cytomind/gateway/internal/store"
	"github.com/go-chi/chi/v5"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// NewStatusHandler returns an http.HandlerFunc for GET /api/jobs/{jobID}/status.
func NewStatusHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			unauthorized(w)
			return
		}

		view, err := svc.Status(r.Context(), ownerID, chi.URLParam(r, "jobID"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, view)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/jobs.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			unauthorized(w)
			return
		}

		q := r.URL.Query()
		page := queryInt(q.Get("page"), 1)
		if page < 1 {
			page = 1
		}
		limit := queryInt(q.Get("limit"), defaultPageLimit)
		if limit < 1 {
			limit = defaultPageLimit
		}
		if limit > maxPageLimit {
			limit = maxPageLimit
		}

		list, total, err := svc.List(r.Context(), store.JobFilter{
			OwnerID: ownerID,
			Status:  q.Get("status"),
			Page:    page,
			Limit:   limit,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		response.Collection(w, list, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
