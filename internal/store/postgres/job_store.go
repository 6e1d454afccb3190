package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/riskrunner/internal/models"
	"github.com/wolfeidau/riskrunner/internal/store"
)

const jobColumns = `
	job_id, owner_id, tenant_role, tenant_org_id, job_type, status,
	total_rows, processed_rows, success_count, failure_count, errors,
	task_handle, cancel_requested, failure_reason,
	created_at, started_at, completed_at, updated_at`

// JobStore implements store.JobStore using PostgreSQL. Status changes that
// depend on the current row run in a transaction holding a row lock, so
// progress checkpoints and cancellation never interleave.
type JobStore struct {
	pool *pgxpool.Pool
	cfg  StoreConfig
	now  func() time.Time
}

// NewJobStore creates a job store sharing pool with the other stores.
func NewJobStore(pool *pgxpool.Pool, cfg StoreConfig) *JobStore {
	cfg.ApplyDefaults()
	return &JobStore{pool: pool, cfg: cfg, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.BulkJob, error) {
	var (
		job        models.BulkJob
		role       string
		jobType    string
		status     string
		errorsJSON []byte
	)
	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&role,
		&job.Tenant.OrganizationID,
		&jobType,
		&status,
		&job.TotalRows,
		&job.ProcessedRows,
		&job.SuccessCount,
		&job.FailureCount,
		&errorsJSON,
		&job.TaskHandle,
		&job.CancelRequested,
		&job.FailureReason,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Tenant.ActorID = job.OwnerID
	job.Tenant.Role = models.Role(role)
	job.JobType = models.PredictionType(jobType)
	job.Status = models.JobStatus(status)

	job.Errors = []models.RowRejection{}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &job.Errors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job errors: %w", err)
		}
	}
	return &job, nil
}

// Create inserts a new pending job.
func (s *JobStore) Create(ctx context.Context, job *models.BulkJob) error {
	if job.Status != models.JobStatusPending {
		return fmt.Errorf("%w: new job must be pending, got %s", store.ErrInvalidTransition, job.Status)
	}

	errorsJSON, err := marshalRejections(job.Errors)
	if err != nil {
		return err
	}

	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (
			job_id, owner_id, tenant_role, tenant_org_id, job_type, status,
			total_rows, processed_rows, success_count, failure_count, errors,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		job.ID,
		job.OwnerID,
		string(job.Tenant.Role),
		job.Tenant.OrganizationID,
		string(job.JobType),
		string(job.Status),
		job.TotalRows,
		job.ProcessedRows,
		job.SuccessCount,
		job.FailureCount,
		errorsJSON,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("job %s already exists", job.ID)
		}
		return fmt.Errorf("failed to create job: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("job_id", job.ID.String()).
		Str("owner_id", job.OwnerID.String()).
		Int("total_rows", job.TotalRows).
		Msg("Created job")
	return nil
}

// Get returns the job or store.ErrJobNotFound.
func (s *JobStore) Get(ctx context.Context, jobID uuid.UUID) (*models.BulkJob, error) {
	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", mapPostgresError(err))
	}
	return job, nil
}

// visibilityClause returns the WHERE fragment restricting jobs to tenant.
// Argument numbering starts at $1.
func visibilityClause(tenant models.TenantContext) (string, []any) {
	switch tenant.Role {
	case models.RoleSuperAdmin:
		return "TRUE", nil
	case models.RoleOrgMember:
		return "(owner_id = $1 OR (tenant_org_id IS NOT NULL AND tenant_org_id = $2))",
			[]any{tenant.ActorID, tenant.OrganizationID}
	default:
		return "owner_id = $1", []any{tenant.ActorID}
	}
}

// List returns a tenant-scoped page of jobs, newest first.
func (s *JobStore) List(ctx context.Context, tenant models.TenantContext, filter store.ListFilter) (*store.ListResult, error) {
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	page := max(filter.Page, 1)

	where, args := visibilityClause(tenant)
	conditions := []string{where}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	whereSQL := strings.Join(conditions, " AND ")

	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE `+whereSQL, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", mapPostgresError(err))
	}
	lastPage := max((total-1)/pageSize+1, 1)

	pageArgs := append(args, pageSize, (page-1)*pageSize)
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC, job_id DESC LIMIT $%d OFFSET $%d`,
		jobColumns, whereSQL, len(pageArgs)-1, len(pageArgs))

	rows, err := s.pool.Query(ctx, query, pageArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", mapPostgresError(err))
	}
	defer rows.Close()

	jobs := []*models.BulkJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", mapPostgresError(err))
	}

	return &store.ListResult{Jobs: jobs, LastPage: lastPage}, nil
}

// ListResumable returns queued and processing jobs, oldest first.
func (s *JobStore) ListResumable(ctx context.Context) ([]*models.BulkJob, error) {
	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status IN ('queued', 'processing')
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list resumable jobs: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var jobs []*models.BulkJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", mapPostgresError(err))
	}
	return jobs, nil
}

// MarkQueued records the dispatch of a pending job.
func (s *JobStore) MarkQueued(ctx context.Context, jobID uuid.UUID, handle string) error {
	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	result, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = 'queued', task_handle = $2, updated_at = $3
		WHERE job_id = $1 AND status = 'pending'
	`, jobID, handle, s.now())
	if err != nil {
		return fmt.Errorf("failed to mark job queued: %w", mapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return s.transitionError(ctx, jobID, models.JobStatusQueued)
	}
	return nil
}

// MarkStarted claims a queued job. A processing job is returned as is so a
// resumed job keeps its started_at.
func (s *JobStore) MarkStarted(ctx context.Context, jobID uuid.UUID) (*models.BulkJob, error) {
	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	job, err := scanJob(s.pool.QueryRow(ctx, `
		UPDATE jobs SET
			status = 'processing',
			started_at = COALESCE(started_at, $2),
			updated_at = $2
		WHERE job_id = $1 AND status IN ('queued', 'processing')
		RETURNING `+jobColumns,
		jobID, s.now(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.transitionError(ctx, jobID, models.JobStatusProcessing)
		}
		return nil, fmt.Errorf("failed to mark job started: %w", mapPostgresError(err))
	}
	return job, nil
}

// UpdateProgress applies a checkpoint under a row lock.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID uuid.UUID, delta store.ProgressDelta) (*models.BulkJob, error) {
	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	var updated *models.BulkJob
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		job, err := lockJob(ctx, tx, jobID)
		if err != nil {
			return err
		}

		if job.Status != models.JobStatusQueued && job.Status != models.JobStatusProcessing {
			return fmt.Errorf("%w: cannot record progress on %s job", store.ErrInvalidTransition, job.Status)
		}

		next := *job
		next.ProcessedRows += delta.Processed
		next.SuccessCount += delta.Success
		next.FailureCount += delta.Failure
		if err := next.CheckCounts(); err != nil {
			return fmt.Errorf("%w: %s", store.ErrProgressInvariant, err)
		}

		now := s.now()
		if next.Status == models.JobStatusQueued {
			next.Status = models.JobStatusProcessing
			next.StartedAt = &now
		}

		appended, err := marshalRejections(delta.Errors)
		if err != nil {
			return err
		}

		updated, err = scanJob(tx.QueryRow(ctx, `
			UPDATE jobs SET
				status = $2,
				processed_rows = $3,
				success_count = $4,
				failure_count = $5,
				errors = errors || $6::jsonb,
				started_at = $7,
				updated_at = $8
			WHERE job_id = $1
			RETURNING `+jobColumns,
			jobID,
			string(next.Status),
			next.ProcessedRows,
			next.SuccessCount,
			next.FailureCount,
			appended,
			next.StartedAt,
			now,
		))
		return err
	})
	if err != nil {
		return nil, mapPostgresError(err)
	}

	log.Debug().
		Str("job_id", jobID.String()).
		Int("processed_rows", updated.ProcessedRows).
		Int("total_rows", updated.TotalRows).
		Msg("Recorded job progress")

	return updated, nil
}

// RequestCancel sets the cooperative cancellation flag on a live job.
func (s *JobStore) RequestCancel(ctx context.Context, jobID uuid.UUID) (*models.BulkJob, error) {
	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	job, err := scanJob(s.pool.QueryRow(ctx, `
		UPDATE jobs SET cancel_requested = TRUE, updated_at = $2
		WHERE job_id = $1 AND status IN ('pending', 'queued', 'processing')
		RETURNING `+jobColumns,
		jobID, s.now(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.transitionError(ctx, jobID, models.JobStatusCancelled)
		}
		return nil, fmt.Errorf("failed to request cancel: %w", mapPostgresError(err))
	}
	return job, nil
}

// CancelUnclaimed cancels a job no worker has claimed. The status guard in
// the WHERE clause loses to a concurrent MarkStarted.
func (s *JobStore) CancelUnclaimed(ctx context.Context, jobID uuid.UUID, reason string) (*models.BulkJob, error) {
	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	now := s.now()
	job, err := scanJob(s.pool.QueryRow(ctx, `
		UPDATE jobs SET
			status = 'cancelled',
			cancel_requested = TRUE,
			failure_reason = $2,
			completed_at = $3,
			updated_at = $3
		WHERE job_id = $1 AND status IN ('pending', 'queued')
		RETURNING `+jobColumns,
		jobID, reason, now,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.transitionError(ctx, jobID, models.JobStatusCancelled)
		}
		return nil, fmt.Errorf("failed to cancel job: %w", mapPostgresError(err))
	}

	log.Info().Str("job_id", jobID.String()).Msg("Job cancelled before a worker claimed it")
	return job, nil
}

// MarkTerminal finishes the job under a row lock.
func (s *JobStore) MarkTerminal(ctx context.Context, jobID uuid.UUID, status models.JobStatus, reason string) (*models.BulkJob, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is not terminal", store.ErrInvalidTransition, status)
	}

	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	var updated *models.BulkJob
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		job, err := lockJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if status == models.JobStatusCompleted && job.ProcessedRows != job.TotalRows {
			return fmt.Errorf("%w: completed with %d of %d rows processed", store.ErrProgressInvariant, job.ProcessedRows, job.TotalRows)
		}
		if !job.Status.CanTransition(status) {
			return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, job.Status, status)
		}

		now := s.now()
		updated, err = scanJob(tx.QueryRow(ctx, `
			UPDATE jobs SET status = $2, failure_reason = $3, completed_at = $4, updated_at = $4
			WHERE job_id = $1
			RETURNING `+jobColumns,
			jobID, string(status), reason, now,
		))
		return err
	})
	if err != nil {
		return nil, mapPostgresError(err)
	}

	log.Info().Str("job_id", jobID.String()).Str("status", string(status)).Msg("Job reached terminal state")
	return updated, nil
}

// Delete removes the ledger row. The stored batch goes with it.
func (s *JobStore) Delete(ctx context.Context, jobID uuid.UUID) error {
	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	result, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", mapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", store.ErrJobNotFound, jobID)
	}
	return nil
}

// PurgeTerminal deletes terminal jobs completed before cutoff.
func (s *JobStore) PurgeTerminal(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND completed_at IS NOT NULL
		  AND completed_at < $1
		RETURNING job_id
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to purge jobs: %w", mapPostgresError(err))
	}

	purged, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("failed to collect purged jobs: %w", mapPostgresError(err))
	}

	if len(purged) > 0 {
		log.Info().Int("count", len(purged)).Time("cutoff", cutoff).Msg("Purged terminal jobs")
	}
	return purged, nil
}

func lockJob(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (*models.BulkJob, error) {
	job, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1 FOR UPDATE`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrJobNotFound, jobID)
		}
		return nil, err
	}
	return job, nil
}

// transitionError explains why a conditional update matched no row.
func (s *JobStore) transitionError(ctx context.Context, jobID uuid.UUID, next models.JobStatus) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE job_id = $1`, jobID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", store.ErrJobNotFound, jobID)
		}
		return fmt.Errorf("failed to read job status: %w", mapPostgresError(err))
	}
	return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, status, next)
}

func marshalRejections(rejections []models.RowRejection) ([]byte, error) {
	if rejections == nil {
		rejections = []models.RowRejection{}
	}
	data, err := json.Marshal(rejections)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal row rejections: %w", err)
	}
	return data, nil
}
