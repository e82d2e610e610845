package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "PENDING"
	JobStatusProcessing = "PROCESSING"
	JobStatusCompleted  = "COMPLETED"
	JobStatusFailed     = "FAILED"
)

// Job tracks one analysis request from upload to terminal result. The API
// returns its ID on POST /api/upload; the client polls
// GET /api/jobs/{jobID}/status until status is COMPLETED or FAILED.
type Job struct {
	ID          uuid.UUID  `db:"id"           json:"jobId"`
	PatientID   string     `db:"patient_id"   json:"patientId"`
	OwnerID     string     `db:"owner_id"     json:"ownerId"`
	Status      string     `db:"status"       json:"status"`
	Progress    int        `db:"progress"     json:"progress"`
	TotalImages int        `db:"total_images" json:"totalImages"`
	Result      *JobResult `db:"result"       json:"result,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completedAt,omitempty"`
	CreatedAt   time.Time  `db:"created_at"   json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updatedAt"`
}

// IsTerminal reports whether no further transitions are permitted from status.
func IsTerminal(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// ValidJobStatus reports whether status is one of the four lifecycle states.
func ValidJobStatus(status string) bool {
	switch status {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}
