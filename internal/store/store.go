package store

import (
	"context"
	"errors"

	"github.com/cytomind/gateway/pkg/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid job status transition")
var ErrRevisionConflict = errors.New("revision conflict")

// Store is the data access interface. All database operations go through here.
// Every write is a single atomic statement; nothing relies on multi-row transactions.
type Store interface {
	Ping(ctx context.Context) error

	UpsertPatient(ctx context.Context, patient *models.Patient) (*models.Patient, error)
	GetPatient(ctx context.Context, patientID string) (*models.Patient, error)

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID, ownerID string) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	UpdateJob(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) (*models.Job, error)
}

type JobFilter struct {
	OwnerID string
	Status  string
	Page    int
	Limit   int
}

// JobUpdate holds the optional fields of an UpdateJob call. Previous, when
// set, receives the status the job had before the update.
type JobUpdate struct {
	Progress *int
	Result   *models.JobResult
	Previous *string
}

type JobUpdateOption func(*JobUpdate)

// ResolveUpdate applies opts to an empty JobUpdate.
func ResolveUpdate(opts ...JobUpdateOption) JobUpdate {
	var u JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

func WithProgress(progress int) JobUpdateOption {
	return func(p *JobUpdate) {
		p.Progress = &progress
	}
}

func WithResult(result *models.JobResult) JobUpdateOption {
	return func(p *JobUpdate) {
		p.Result = result
	}
}

// WithPreviousStatus stores the job's pre-update status in dst on success.
func WithPreviousStatus(dst *string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.Previous = dst
	}
}

// validTransitions maps a target status to the statuses it may be entered from.
var validTransitions = map[string][]string{
	models.JobStatusProcessing: {models.JobStatusPending, models.JobStatusProcessing},
	models.JobStatusCompleted:  {models.JobStatusProcessing},
	models.JobStatusFailed:     {models.JobStatusPending, models.JobStatusProcessing},
}

// AllowedFrom returns the statuses from which a job may move to status.
// A nil result means status can never be entered by an update.
func AllowedFrom(status string) []string {
	return validTransitions[status]
}
