// Package jobs orchestrates uploads, status polls, report downloads and
// progress callbacks on top of the store and the inference client.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cytomind/gateway/internal/cache"
	"github.com/cytomind/gateway/internal/inference"
	"github.com/cytomind/gateway/internal/metrics"
	"github.com/cytomind/gateway/internal/store"
	"github.com/cytomind/gateway/pkg/models"
	"github.com/google/uuid"
)

const defaultFailureMessage = "Processing failed"

// Service is the gateway's job workflow.
type Service struct {
	store     store.Store
	cache     cache.Cache
	inference inference.Client
	viewTTL   time.Duration

	now   func() time.Time
	newID func() uuid.UUID
}

// NewService creates a new Service. viewTTL bounds how long terminal status
// views stay cached.
func NewService(st store.Store, ca cache.Cache, client inference.Client, viewTTL time.Duration) *Service {
	return &Service{
		store:     st,
		cache:     ca,
		inference: client,
		viewTTL:   viewTTL,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.New,
	}
}

// Submission is one upload request after multipart decoding.
type Submission struct {
	OwnerID   string
	PatientID string
	Name      string
	Age       string
	Images    []inference.Image
}

// Accepted is returned once the inference service has taken the job.
type Accepted struct {
	JobID       uuid.UUID `json:"jobId"`
	Status      string    `json:"status"`
	TotalImages int       `json:"totalImages"`
	Message     string    `json:"message"`
}

// Submit persists the patient and a PENDING job, then forwards the images.
// If the forward fails the job is marked FAILED with the same message the
// caller receives.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Accepted, error) {
	patientID := strings.TrimSpace(sub.PatientID)
	if len(sub.Images) == 0 {
		return nil, newError(ErrValidation, "At least one image is required")
	}
	if patientID == "" {
		return nil, newError(ErrValidation, "Patient ID is required")
	}
	age, err := ParseAge(sub.Age)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(sub.Name)

	if _, err := s.store.UpsertPatient(ctx, &models.Patient{
		PatientID: patientID,
		Name:      name,
		Age:       age,
		OwnerID:   sub.OwnerID,
	}); err != nil {
		return nil, fmt.Errorf("upserting patient: %w", err)
	}

	now := s.now()
	job := &models.Job{
		ID:          s.newID(),
		PatientID:   patientID,
		OwnerID:     sub.OwnerID,
		Status:      models.JobStatusPending,
		Progress:    0,
		TotalImages: len(sub.Images),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	resp, err := s.inference.Analyze(ctx, inference.AnalyzeRequest{
		JobID:       job.ID,
		PatientID:   patientID,
		PatientName: name,
		PatientAge:  age,
		LabID:       sub.OwnerID,
		Images:      sub.Images,
	})
	if err != nil {
		msg := upstreamMessage(err)
		slog.Error("forward to inference failed", "job_id", job.ID, "error", err)
		s.markFailed(ctx, job.ID, msg)
		metrics.IncUpload("upstream_failed")
		return nil, newError(ErrUpstream, msg)
	}

	metrics.IncUpload("accepted")
	slog.Info("job submitted", "job_id", job.ID, "owner_id", sub.OwnerID, "images", job.TotalImages)

	msg := resp.Message
	if msg == "" {
		msg = fmt.Sprintf("%d image(s) uploaded successfully. Processing started.", job.TotalImages)
	}
	return &Accepted{
		JobID:       job.ID,
		Status:      models.JobStatusPending,
		TotalImages: job.TotalImages,
		Message:     msg,
	}, nil
}

// markFailed records a forward failure. It must survive the caller
// disconnecting, so the request context's cancellation is dropped.
func (s *Service) markFailed(ctx context.Context, jobID uuid.UUID, msg string) {
	ctx = context.WithoutCancel(ctx)
	_, err := s.store.UpdateJob(ctx, jobID, models.JobStatusFailed,
		store.WithResult(&models.JobResult{Error: msg}))
	if err != nil {
		slog.Error("marking job failed", "job_id", jobID, "error", err)
		return
	}
	metrics.IncJobTransition(models.JobStatusFailed)
}

// ParseAge accepts a blank value as 0 and otherwise requires a
// non-negative integer.
func ParseAge(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	age, err := strconv.Atoi(raw)
	if err != nil || age < 0 {
		return 0, newError(ErrValidation, "Age must be a non-negative integer")
	}
	return age, nil
}

// StatusView is the poll response.
type StatusView struct {
	JobID    uuid.UUID   `json:"jobId"`
	Status   string      `json:"status"`
	Progress int         `json:"progress"`
	Report   *ReportView `json:"report,omitempty"`
	Message  string      `json:"message,omitempty"`
}

// ReportView is the job result joined with the patient record.
type ReportView struct {
	PatientID            string              `json:"patientId"`
	PatientName          string              `json:"patientName"`
	PatientAge           int                 `json:"patientAge"`
	Classification       string              `json:"classification"`
	PrimaryClass         string              `json:"primaryClass"`
	PrimaryClassFullName string              `json:"primaryClassFullName,omitempty"`
	MalignancyPercentage float64             `json:"malignancyPercentage"`
	MalignantCellCount   int                 `json:"malignantCellCount,omitempty"`
	Confidence           float64             `json:"confidence"`
	TopPredictions       []models.Prediction `json:"topPredictions"`
	TotalCellsAnalyzed   int                 `json:"totalCellsAnalyzed,omitempty"`
	CellDistribution     json.RawMessage     `json:"cellDistribution,omitempty"`
	Date                 time.Time           `json:"date"`
}

// Status returns the caller's view of a job. Unknown, malformed and foreign
// job ids all fail with the same NotFound error. Terminal views are cached
// without patient fields; the patient is joined on every read.
func (s *Service) Status(ctx context.Context, ownerID, rawJobID string) (*StatusView, error) {
	jobID, err := uuid.Parse(rawJobID)
	if err != nil {
		return nil, notFound()
	}

	key := cache.JobViewKey(ownerID, jobID)
	view, ok := s.cachedView(ctx, key)
	if !ok {
		job, err := s.getJob(ctx, jobID, ownerID)
		if err != nil {
			return nil, err
		}
		view = jobView(job)
		if models.IsTerminal(job.Status) {
			s.storeView(ctx, key, view)
		}
	}

	if view.Report != nil {
		if err := s.joinPatient(ctx, view.JobID, view.Report); err != nil {
			return nil, err
		}
	}
	return view, nil
}

// jobView is everything in a StatusView that comes from the job record.
func jobView(job *models.Job) *StatusView {
	view := &StatusView{JobID: job.ID, Status: job.Status, Progress: job.Progress}
	switch job.Status {
	case models.JobStatusCompleted:
		view.Report = reportFromJob(job)
	case models.JobStatusFailed:
		view.Message = defaultFailureMessage
		if job.Result != nil && job.Result.Error != "" {
			view.Message = job.Result.Error
		}
	}
	return view
}

func reportFromJob(job *models.Job) *ReportView {
	r := job.Result
	if r == nil {
		r = &models.JobResult{}
	}
	view := &ReportView{
		PatientID:            job.PatientID,
		Classification:       r.Classification,
		PrimaryClass:         r.PrimaryClass,
		PrimaryClassFullName: r.PrimaryClassFullName,
		MalignancyPercentage: r.MalignancyPercentage,
		MalignantCellCount:   r.MalignantCellCount,
		Confidence:           r.Confidence,
		TopPredictions:       r.TopPredictions,
		TotalCellsAnalyzed:   r.TotalCellsAnalyzed,
		CellDistribution:     r.CellDistribution,
		Date:                 job.CreatedAt,
	}
	if view.TopPredictions == nil {
		view.TopPredictions = []models.Prediction{}
	}
	return view
}

// joinPatient fills the patient's current name and age into report.
func (s *Service) joinPatient(ctx context.Context, jobID uuid.UUID, report *ReportView) error {
	report.PatientName = ""
	report.PatientAge = 0

	patient, err := s.store.GetPatient(ctx, report.PatientID)
	switch {
	case err == nil:
		report.PatientName = patient.Name
		report.PatientAge = patient.Age
	case errors.Is(err, store.ErrNotFound):
		slog.Warn("patient missing for completed job", "job_id", jobID, "patient_id", report.PatientID)
	default:
		return fmt.Errorf("getting patient: %w", err)
	}
	return nil
}

func (s *Service) cachedView(ctx context.Context, key string) (*StatusView, bool) {
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("job view cache read failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var view StatusView
	if err := json.Unmarshal(data, &view); err != nil {
		slog.Warn("job view cache entry corrupt", "key", key, "error", err)
		return nil, false
	}
	return &view, true
}

func (s *Service) storeView(ctx context.Context, key string, view *StatusView) {
	if s.viewTTL <= 0 {
		return
	}
	data, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.viewTTL); err != nil {
		slog.Warn("job view cache write failed", "key", key, "error", err)
	}
}

// Report opens the PDF for a completed job. The caller must close Body.
func (s *Service) Report(ctx context.Context, ownerID, rawJobID string) (*inference.Report, error) {
	jobID, err := uuid.Parse(rawJobID)
	if err != nil {
		return nil, notFound()
	}

	job, err := s.getJob(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusCompleted {
		return nil, newError(ErrNotReady, msgNotReady)
	}

	rep, err := s.inference.FetchReport(ctx, job.ID)
	if err != nil {
		slog.Error("fetching report failed", "job_id", job.ID, "error", err)
		return nil, newError(ErrUpstream, upstreamMessage(err))
	}
	rep.JobID = job.ID
	return rep, nil
}

// Update is a progress report from the inference service.
type Update struct {
	Status   string            `json:"status"`
	Progress *int              `json:"progress,omitempty"`
	Result   *models.JobResult `json:"result,omitempty"`
}

// ApplyUpdate moves a job along its lifecycle on behalf of the inference
// service. Transitions out of a terminal state fail with ErrConflict.
func (s *Service) ApplyUpdate(ctx context.Context, jobID uuid.UUID, u Update) (*models.Job, error) {
	status := strings.ToUpper(strings.TrimSpace(u.Status))
	if !models.ValidJobStatus(status) || status == models.JobStatusPending {
		return nil, newError(ErrValidation, "Status must be PROCESSING, COMPLETED or FAILED")
	}

	var previous string
	opts := []store.JobUpdateOption{store.WithPreviousStatus(&previous)}
	if u.Progress != nil {
		opts = append(opts, store.WithProgress(min(max(*u.Progress, 0), 100)))
	}

	switch status {
	case models.JobStatusCompleted:
		if u.Result == nil {
			return nil, newError(ErrValidation, "Result is required for COMPLETED")
		}
		opts = append(opts, store.WithResult(u.Result))
	case models.JobStatusFailed:
		result := &models.JobResult{Error: defaultFailureMessage}
		if u.Result != nil && u.Result.Error != "" {
			result.Error = u.Result.Error
		}
		opts = append(opts, store.WithResult(result))
	}

	job, err := s.store.UpdateJob(ctx, jobID, status, opts...)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, notFound()
	case errors.Is(err, store.ErrInvalidTransition):
		return nil, newError(ErrConflict, err.Error())
	case err != nil:
		return nil, fmt.Errorf("updating job: %w", err)
	}

	if previous != job.Status {
		metrics.IncJobTransition(job.Status)
	}
	slog.Info("job updated", "job_id", job.ID, "status", job.Status, "progress", job.Progress)
	return job, nil
}

// List returns a page of the caller's jobs, newest first.
func (s *Service) List(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error) {
	if filter.Status != "" {
		filter.Status = strings.ToUpper(filter.Status)
		if !models.ValidJobStatus(filter.Status) {
			return nil, 0, newError(ErrValidation, "Unknown status filter")
		}
	}
	jobs, total, err := s.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, total, nil
}

func (s *Service) getJob(ctx context.Context, jobID uuid.UUID, ownerID string) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, jobID, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound()
	}
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return job, nil
}

// upstreamMessage is the text shown to callers for an inference failure.
// The service's own detail is forwarded when it sent one.
func upstreamMessage(err error) string {
	var se *inference.StatusError
	switch {
	case errors.As(err, &se):
		return se.Error()
	case errors.Is(err, inference.ErrTimeout):
		return "Inference service timed out"
	default:
		return "Inference service unavailable"
	}
}
