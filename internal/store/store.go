package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/riskrunner/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrJobNotFound        = errors.New("job not found")
	ErrBatchNotFound      = errors.New("batch not found")
	ErrCompanyNotFound    = errors.New("company not found")
	ErrPredictionNotFound = errors.New("prediction not found")
	ErrInvalidTransition  = errors.New("invalid job status transition")
	ErrProgressInvariant  = errors.New("job progress invariant violated")

	// ErrInfrastructure marks storage faults the caller cannot recover from
	// within a single row (connection loss, server shutdown, resource limits).
	ErrInfrastructure = errors.New("storage unavailable")
)

// ProgressDelta is a batch of row outcomes applied to a job in one checkpoint.
type ProgressDelta struct {
	Processed int
	Success   int
	Failure   int
	Errors    []models.RowRejection
}

func (d ProgressDelta) Empty() bool {
	return d.Processed == 0
}

// ListFilter narrows a job listing.
type ListFilter struct {
	Status   models.JobStatus // empty means any
	Page     int
	PageSize int
}

// ListResult is one page of jobs, newest first.
type ListResult struct {
	Jobs     []*models.BulkJob
	LastPage int
}

// JobStore is the job ledger. A job has at most one writer of progress at a
// time (the executor that owns it); jobs with different IDs share no state.
type JobStore interface {
	// Create inserts a new job in the pending state.
	Create(ctx context.Context, job *models.BulkJob) error

	// Get returns a snapshot of the job. Returns ErrJobNotFound if absent.
	Get(ctx context.Context, jobID uuid.UUID) (*models.BulkJob, error)

	// List returns the jobs visible to tenant: super admins see all jobs,
	// organization members see jobs owned within their organization and
	// personal users see only their own.
	List(ctx context.Context, tenant models.TenantContext, filter ListFilter) (*ListResult, error)

	// ListResumable returns queued and processing jobs, used to recover after a restart.
	ListResumable(ctx context.Context) ([]*models.BulkJob, error)

	// MarkQueued moves a pending job to queued and records the execution handle.
	MarkQueued(ctx context.Context, jobID uuid.UUID, handle string) error

	// MarkStarted moves a queued job to processing and sets started_at. It is
	// a no-op for a job that is already processing and returns
	// ErrInvalidTransition for pending or terminal jobs.
	MarkStarted(ctx context.Context, jobID uuid.UUID) (*models.BulkJob, error)

	// UpdateProgress applies a checkpoint. A queued job is moved to processing
	// as MarkStarted would. Returns ErrProgressInvariant if the
	// counters would become inconsistent and ErrInvalidTransition if the job
	// is no longer running.
	UpdateProgress(ctx context.Context, jobID uuid.UUID, delta ProgressDelta) (*models.BulkJob, error)

	// RequestCancel sets the cooperative cancellation flag.
	RequestCancel(ctx context.Context, jobID uuid.UUID) (*models.BulkJob, error)

	// CancelUnclaimed moves a pending or queued job straight to cancelled.
	// Returns ErrInvalidTransition once a worker has claimed the job.
	CancelUnclaimed(ctx context.Context, jobID uuid.UUID, reason string) (*models.BulkJob, error)

	// MarkTerminal moves the job to completed, failed or cancelled.
	MarkTerminal(ctx context.Context, jobID uuid.UUID, status models.JobStatus, reason string) (*models.BulkJob, error)

	// Delete removes the ledger row.
	Delete(ctx context.Context, jobID uuid.UUID) error

	// PurgeTerminal deletes terminal jobs completed before cutoff and returns their IDs.
	PurgeTerminal(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

// BatchStore keeps the parsed input rows of a job so execution can resume.
type BatchStore interface {
	SaveBatch(ctx context.Context, jobID uuid.UUID, rows []models.RawRow) error
	LoadBatch(ctx context.Context, jobID uuid.UUID) ([]models.RawRow, error)
	DeleteBatch(ctx context.Context, jobID uuid.UUID) error
}

// CompanyStore persists scoped company records.
type CompanyStore interface {
	// UpsertCompany atomically returns the existing row for the company's
	// (symbol, scope, prediction type, reporting period) key or inserts it.
	// The boolean reports whether a new row was created.
	UpsertCompany(ctx context.Context, company *models.Company) (*models.Company, bool, error)

	GetCompany(ctx context.Context, companyID uuid.UUID) (*models.Company, error)

	// FindCompanies returns all rows for symbol within any of scopes. A nil
	// scopes slice matches every scope.
	FindCompanies(ctx context.Context, symbol string, scopes []models.Scope) ([]*models.Company, error)
}

// PredictionStore persists predictions.
type PredictionStore interface {
	// CreateWithCompany resolves the company (as UpsertCompany) and inserts the
	// prediction in one transaction. When the prediction carries a job ID and
	// row index that already exist, the stored prediction is returned instead
	// of creating a duplicate.
	CreateWithCompany(ctx context.Context, company *models.Company, prediction *models.Prediction) (*models.Prediction, error)

	GetPrediction(ctx context.Context, predictionID uuid.UUID) (*models.Prediction, error)

	// ListByJob returns the predictions created by a job ordered by row index.
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Prediction, error)
}
