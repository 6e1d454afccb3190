// Package jobs is the lifecycle API for bulk prediction jobs: submission,
// polling, listing, cancellation, deletion and record access checks.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/riskrunner/internal/auth"
	"github.com/wolfeidau/riskrunner/internal/models"
	"github.com/wolfeidau/riskrunner/internal/store"
	"github.com/wolfeidau/riskrunner/internal/telemetry"
	"github.com/wolfeidau/riskrunner/internal/worker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrEmptyBatch   = errors.New("batch has no rows")
	ErrBatchTooBig  = errors.New("batch exceeds row limit")
	ErrJobInFlight  = errors.New("job is processing past the delete grace period; cancel it first")
	ErrJobTerminal  = errors.New("job already finished")
	ErrInvalidInput = errors.New("invalid request")
)

// Dispatcher hands queued jobs to the execution unit.
type Dispatcher interface {
	Dispatch(ctx context.Context, item worker.WorkItem) error
	Cancel(jobID uuid.UUID) bool
}

// Config controls lifecycle rules.
type Config struct {
	DeleteGracePeriod time.Duration `help:"How long after starting a processing job may still be deleted without cancelling." default:"30s" env:"DELETE_GRACE_PERIOD"`
	MaxRows           int           `help:"Maximum rows accepted per batch." default:"10000" env:"MAX_ROWS"`
	Retention         time.Duration `help:"Remove terminal jobs older than this (0 keeps them forever)." default:"720h" env:"JOB_RETENTION"`
	RetentionInterval time.Duration `help:"How often retention runs." default:"1h" env:"JOB_RETENTION_INTERVAL"`
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.DeleteGracePeriod <= 0 {
		c.DeleteGracePeriod = 30 * time.Second
	}
	if c.MaxRows <= 0 {
		c.MaxRows = 10000
	}
	if c.RetentionInterval <= 0 {
		c.RetentionInterval = time.Hour
	}
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for the delete grace period.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service implements the job lifecycle.
type Service struct {
	jobs        store.JobStore
	batches     store.BatchStore
	predictions store.PredictionStore
	dispatcher  Dispatcher
	evaluator   *auth.Evaluator
	cfg         Config
	now         func() time.Time
	metrics     *telemetry.Metrics
}

func NewService(
	jobs store.JobStore,
	batches store.BatchStore,
	predictions store.PredictionStore,
	dispatcher Dispatcher,
	evaluator *auth.Evaluator,
	cfg Config,
	opts ...Option,
) *Service {
	cfg.ApplyDefaults()
	s := &Service{
		jobs:        jobs,
		batches:     batches,
		predictions: predictions,
		dispatcher:  dispatcher,
		evaluator:   evaluator,
		cfg:         cfg,
		now:         time.Now,
		metrics:     telemetry.GetMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit records a new job for rows and hands it to the worker pool.
func (s *Service) Submit(ctx context.Context, tenant models.TenantContext, jobType models.PredictionType, rows []models.RawRow) (*models.BulkJob, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	if models.RequiredRatios(jobType) == nil {
		return nil, fmt.Errorf("%w: unknown job type %q", ErrInvalidInput, jobType)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(rows) > s.cfg.MaxRows {
		return nil, fmt.Errorf("%w: %d rows, limit %d", ErrBatchTooBig, len(rows), s.cfg.MaxRows)
	}

	now := s.now()
	job := &models.BulkJob{
		ID:        uuid.Must(uuid.NewV7()),
		OwnerID:   tenant.ActorID,
		Tenant:    tenant,
		JobType:   jobType,
		Status:    models.JobStatusPending,
		TotalRows: len(rows),
		Errors:    []models.RowRejection{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if err := s.batches.SaveBatch(ctx, job.ID, rows); err != nil {
		s.failDispatch(ctx, job.ID, fmt.Errorf("failed to store batch: %w", err))
		return nil, fmt.Errorf("failed to store batch: %w", err)
	}

	handle := "task-" + uuid.Must(uuid.NewV7()).String()
	if err := s.jobs.MarkQueued(ctx, job.ID, handle); err != nil {
		s.failDispatch(ctx, job.ID, err)
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	if err := s.dispatcher.Dispatch(ctx, worker.WorkItem{JobID: job.ID, Handle: handle}); err != nil {
		s.failDispatch(ctx, job.ID, err)
		return nil, fmt.Errorf("failed to dispatch job: %w", err)
	}

	s.metrics.JobsSubmittedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("job_type", string(jobType))))
	log.Info().
		Str("job_id", job.ID.String()).
		Str("actor_id", tenant.ActorID.String()).
		Str("org_id", tenant.OrgString()).
		Str("job_type", string(jobType)).
		Int("total_rows", len(rows)).
		Msg("Job submitted")

	return s.jobs.Get(ctx, job.ID)
}

func (s *Service) failDispatch(ctx context.Context, jobID uuid.UUID, cause error) {
	ctx = context.WithoutCancel(ctx)
	if _, err := s.jobs.MarkTerminal(ctx, jobID, models.JobStatusFailed, cause.Error()); err != nil {
		log.Error().Err(err).Str("job_id", jobID.String()).Msg("Failed to mark undispatched job failed")
	}
}

// GetStatus returns a snapshot of the job including its rejection list.
func (s *Service) GetStatus(ctx context.Context, tenant models.TenantContext, jobID uuid.UUID) (*models.BulkJob, error) {
	return s.authorizedJob(ctx, tenant, auth.ActionRead, jobID)
}

// List returns the jobs visible to tenant.
func (s *Service) List(ctx context.Context, tenant models.TenantContext, filter store.ListFilter) (*store.ListResult, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	return s.jobs.List(ctx, tenant, filter)
}

// Cancel requests cooperative cancellation. Jobs not yet processing are
// cancelled immediately; processing jobs stop at the next row boundary.
func (s *Service) Cancel(ctx context.Context, tenant models.TenantContext, jobID uuid.UUID) (*models.BulkJob, error) {
	job, err := s.authorizedJob(ctx, tenant, auth.ActionModify, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, ErrJobTerminal
	}

	if _, err := s.jobs.RequestCancel(ctx, jobID); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return s.jobs.Get(ctx, jobID)
		}
		return nil, fmt.Errorf("failed to request cancel: %w", err)
	}

	// a job a worker has claimed is finished by that worker once the
	// current row is committed
	if job.Status == models.JobStatusPending || job.Status == models.JobStatusQueued {
		if _, err := s.jobs.CancelUnclaimed(ctx, jobID, "cancelled by request"); err != nil && !errors.Is(err, store.ErrInvalidTransition) {
			return nil, fmt.Errorf("failed to cancel job: %w", err)
		}
	}

	running := s.dispatcher.Cancel(jobID)
	log.Info().
		Str("job_id", jobID.String()).
		Str("actor_id", tenant.ActorID.String()).
		Bool("running", running).
		Msg("Job cancellation requested")

	return s.jobs.Get(ctx, jobID)
}

// Delete removes a job. A processing job may only be deleted within the
// grace period after it started; beyond that it must be cancelled first.
func (s *Service) Delete(ctx context.Context, tenant models.TenantContext, jobID uuid.UUID) error {
	job, err := s.authorizedJob(ctx, tenant, auth.ActionDelete, jobID)
	if err != nil {
		return err
	}

	if job.Status == models.JobStatusProcessing && job.StartedAt != nil {
		if elapsed := s.now().Sub(*job.StartedAt); elapsed >= s.cfg.DeleteGracePeriod {
			return fmt.Errorf("%w: running for %s", ErrJobInFlight, elapsed.Truncate(time.Second))
		}
	}

	if !job.Status.IsTerminal() && job.TaskHandle != nil {
		// stop the execution unit before the ledger row disappears
		if _, err := s.jobs.RequestCancel(ctx, jobID); err != nil && !errors.Is(err, store.ErrInvalidTransition) {
			return fmt.Errorf("failed to signal cancellation: %w", err)
		}
		s.dispatcher.Cancel(jobID)
	}

	if err := s.jobs.Delete(ctx, jobID); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if err := s.batches.DeleteBatch(ctx, jobID); err != nil {
		log.Warn().Err(err).Str("job_id", jobID.String()).Msg("Failed to delete job batch")
	}

	s.metrics.JobsDeletedTotal.Add(ctx, 1)
	log.Info().
		Str("job_id", jobID.String()).
		Str("actor_id", tenant.ActorID.String()).
		Str("status", string(job.Status)).
		Msg("Job deleted")
	return nil
}

// Decision is the outcome of an access check.
type Decision struct {
	Allowed bool       `json:"allowed"`
	Grant   auth.Grant `json:"grant,omitempty"`
	Reason  string     `json:"reason,omitempty"`
}

// CheckAccess evaluates whether tenant may perform action on a prediction.
func (s *Service) CheckAccess(ctx context.Context, tenant models.TenantContext, predictionID uuid.UUID, action auth.Action) (*Decision, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	switch action {
	case auth.ActionRead, auth.ActionModify, auth.ActionDelete:
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidInput, action)
	}

	prediction, err := s.predictions.GetPrediction(ctx, predictionID)
	if err != nil {
		return nil, err
	}

	grant, reason := s.evaluator.Decide(tenant, action, prediction)
	log.Debug().
		Str("prediction_id", predictionID.String()).
		Str("actor_id", tenant.ActorID.String()).
		Str("action", string(action)).
		Str("grant", string(grant)).
		Msg("Access check")

	return &Decision{Allowed: grant != auth.GrantNone, Grant: grant, Reason: reason}, nil
}

func (s *Service) authorizedJob(ctx context.Context, tenant models.TenantContext, action auth.Action, jobID uuid.UUID) (*models.BulkJob, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := auth.CheckJob(tenant, action, job); err != nil {
		return nil, err
	}
	return job, nil
}
