package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cytomind/gateway/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, patient_id, owner_id, status, progress, total_images, result, completed_at, created_at, updated_at`

const jobColumnsQualified = `j.id, j.patient_id, j.owner_id, j.status, j.progress, j.total_images, j.result, j.completed_at, j.created_at, j.updated_at`

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Patients ---

// UpsertPatient writes the patient keyed by PatientID. An existing row is
// overwritten (last write wins) and its revision incremented.
//
// When p.Revision is non-zero the write is a compare-and-swap instead: the
// row must exist at exactly that revision, otherwise ErrRevisionConflict.
func (s *PostgresStore) UpsertPatient(ctx context.Context, p *models.Patient) (*models.Patient, error) {
	if p.Revision > 0 {
		return s.swapPatient(ctx, p)
	}

	now := time.Now().UTC()
	var out models.Patient
	err := s.pool.QueryRow(ctx,
		`INSERT INTO patients (patient_id, name, age, owner_id, revision, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 1, $5, $5)
		 ON CONFLICT (patient_id) DO UPDATE SET
		   name = EXCLUDED.name,
		   age = EXCLUDED.age,
		   owner_id = EXCLUDED.owner_id,
		   revision = patients.revision + 1,
		   updated_at = EXCLUDED.updated_at
		 RETURNING patient_id, name, age, owner_id, revision, created_at, updated_at`,
		p.PatientID, p.Name, p.Age, p.OwnerID, now,
	).Scan(&out.PatientID, &out.Name, &out.Age, &out.OwnerID, &out.Revision, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert patient: %w", err)
	}
	return &out, nil
}

func (s *PostgresStore) swapPatient(ctx context.Context, p *models.Patient) (*models.Patient, error) {
	var out models.Patient
	err := s.pool.QueryRow(ctx,
		`UPDATE patients SET
		   name = $2, age = $3, owner_id = $4, revision = revision + 1, updated_at = $6
		 WHERE patient_id = $1 AND revision = $5
		 RETURNING patient_id, name, age, owner_id, revision, created_at, updated_at`,
		p.PatientID, p.Name, p.Age, p.OwnerID, p.Revision, time.Now().UTC(),
	).Scan(&out.PatientID, &out.Name, &out.Age, &out.OwnerID, &out.Revision, &out.CreatedAt, &out.UpdatedAt)
	if err == nil {
		return &out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("swap patient: %w", err)
	}
	if _, err := s.GetPatient(ctx, p.PatientID); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: patient %s is not at revision %d", ErrRevisionConflict, p.PatientID, p.Revision)
}

func (s *PostgresStore) GetPatient(ctx context.Context, patientID string) (*models.Patient, error) {
	var p models.Patient
	err := s.pool.QueryRow(ctx,
		`SELECT patient_id, name, age, owner_id, revision, created_at, updated_at
		 FROM patients WHERE patient_id = $1`, patientID,
	).Scan(&p.PatientID, &p.Name, &p.Age, &p.OwnerID, &p.Revision, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return &p, nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, patient_id, owner_id, status, progress, total_images, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.PatientID, job.OwnerID, job.Status, job.Progress, job.TotalImages,
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// GetJob returns the job only if it belongs to ownerID. Missing and foreign
// jobs are indistinguishable to the caller.
func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID, ownerID string) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND owner_id = $2`, id, ownerID)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	conditions := []string{"owner_id = $1"}
	args := []any{filter.OwnerID}
	argIdx := 2

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	query := fmt.Sprintf(
		`SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

// UpdateJob moves a job to status in one conditional statement. Progress never
// decreases, COMPLETED forces it to 100, and the result is written only when
// entering a terminal state.
func (s *PostgresStore) UpdateJob(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) (*models.Job, error) {
	params := ResolveUpdate(opts...)

	allowed := AllowedFrom(status)
	if len(allowed) == 0 {
		return nil, fmt.Errorf("%w: cannot enter %s", ErrInvalidTransition, status)
	}

	terminal := models.IsTerminal(status)
	var resultJSON []byte
	if terminal && params.Result != nil {
		b, err := json.Marshal(params.Result)
		if err != nil {
			return nil, fmt.Errorf("encode job result: %w", err)
		}
		resultJSON = b
	}

	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx,
		`WITH prev AS (
		   SELECT id, status FROM jobs WHERE id = $1 FOR UPDATE
		 )
		 UPDATE jobs j SET
		   status = $2,
		   progress = CASE WHEN $2 = 'COMPLETED' THEN 100
		                   ELSE GREATEST(j.progress, COALESCE($3::integer, j.progress)) END,
		   result = CASE WHEN $4 THEN $5::jsonb ELSE j.result END,
		   completed_at = CASE WHEN $4 THEN $6 ELSE j.completed_at END,
		   updated_at = $6
		 FROM prev
		 WHERE j.id = prev.id AND prev.status = ANY($7)
		 RETURNING `+jobColumnsQualified+`, prev.status`,
		id, status, params.Progress, terminal, resultJSON, now, allowed)
	var previous string
	j, err := scanJob(row, &previous)
	if err == nil {
		if params.Previous != nil {
			*params.Previous = previous
		}
		return j, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update job: %w", err)
	}

	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job status: %w", err)
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
}

// scanJob scans jobColumns followed by any extra destinations.
func scanJob(row pgx.Row, extra ...any) (*models.Job, error) {
	var j models.Job
	var result []byte
	dest := append([]any{&j.ID, &j.PatientID, &j.OwnerID, &j.Status, &j.Progress, &j.TotalImages,
		&result, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if len(result) > 0 {
		j.Result = &models.JobResult{}
		if err := json.Unmarshal(result, j.Result); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
	}
	return &j, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
