// Package worker executes bulk prediction jobs row by row, checkpointing
// progress into the job ledger so execution can resume after a restart.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/riskrunner/internal/models"
	"github.com/wolfeidau/riskrunner/internal/resolver"
	"github.com/wolfeidau/riskrunner/internal/scoring"
	"github.com/wolfeidau/riskrunner/internal/store"
	"github.com/wolfeidau/riskrunner/internal/telemetry"
	"github.com/wolfeidau/riskrunner/internal/validator"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrCancelRequested is the context cause used when a caller cancels a job.
var ErrCancelRequested = errors.New("job cancellation requested")

// Config controls execution.
type Config struct {
	Workers            int           `help:"Number of concurrent job workers." default:"4" env:"WORKERS"`
	QueueSize          int           `help:"Dispatch queue capacity." default:"64" env:"QUEUE_SIZE"`
	CheckpointEvery    int           `help:"Rows between progress checkpoints." default:"1" env:"CHECKPOINT_EVERY"`
	CheckpointInterval time.Duration `help:"Maximum time between progress checkpoints." default:"2s" env:"CHECKPOINT_INTERVAL"`
	UnreachableAfter   int           `help:"Fail a job after this many consecutive scoring failures (0 disables)." default:"0" env:"UNREACHABLE_AFTER"`
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = 1
	}
}

// Executor runs one job at a time to a terminal state.
type Executor struct {
	jobs        store.JobStore
	batches     store.BatchStore
	predictions store.PredictionStore
	resolver    *resolver.Resolver
	scorer      scoring.Scorer
	cfg         Config
	metrics     *telemetry.Metrics
}

func NewExecutor(
	jobs store.JobStore,
	batches store.BatchStore,
	predictions store.PredictionStore,
	res *resolver.Resolver,
	scorer scoring.Scorer,
	cfg Config,
) *Executor {
	cfg.ApplyDefaults()
	return &Executor{
		jobs:        jobs,
		batches:     batches,
		predictions: predictions,
		resolver:    res,
		scorer:      scorer,
		cfg:         cfg,
		metrics:     telemetry.GetMetrics(),
	}
}

// fatalError ends the job as failed.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Run executes jobID from its last checkpoint. It returns nil when the job
// reached a terminal state or was removed, and the context error when it
// stopped for shutdown and should be resumed later.
func (e *Executor) Run(ctx context.Context, jobID uuid.UUID) error {
	logger := log.With().Str("job_id", jobID.String()).Logger()

	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			logger.Info().Msg("Job removed before execution")
			return nil
		}
		return fmt.Errorf("failed to load job: %w", err)
	}

	if job.Status.IsTerminal() {
		logger.Debug().Str("status", string(job.Status)).Msg("Job already terminal")
		return nil
	}
	if job.Status == models.JobStatusPending {
		return fmt.Errorf("job %s has not been queued", jobID)
	}

	// ledger writes outlive the per-job context so a cancel can still be recorded
	ledgerCtx := context.WithoutCancel(ctx)

	if job.CancelRequested {
		return e.finish(ledgerCtx, job, models.JobStatusCancelled, "cancelled before start")
	}

	rows, err := e.batches.LoadBatch(ctx, jobID)
	if err != nil {
		if ctx.Err() != nil {
			return e.stopped(ctx, job, nil)
		}
		return e.finish(ledgerCtx, job, models.JobStatusFailed, fmt.Sprintf("failed to load batch: %v", err))
	}
	if len(rows) != job.TotalRows {
		return e.finish(ledgerCtx, job, models.JobStatusFailed, fmt.Sprintf("batch has %d rows, ledger expects %d", len(rows), job.TotalRows))
	}

	// claim before the first row so a cancel can no longer finish the job
	// behind a row that is being scored
	claimed, err := e.jobs.MarkStarted(ledgerCtx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrJobNotFound) {
			logger.Info().Err(err).Msg("Job finished before it could start")
			return nil
		}
		return fmt.Errorf("failed to start job: %w", err)
	}
	job = claimed
	if job.CancelRequested {
		return e.finish(ledgerCtx, job, models.JobStatusCancelled, "cancelled before start")
	}

	scorer := e.scorer
	if e.cfg.UnreachableAfter > 0 {
		scorer = scoring.NewGuard(scorer, e.cfg.UnreachableAfter)
	}

	var cancelSeen atomic.Bool
	cp := NewCheckpointer(e.cfg.CheckpointEvery, e.cfg.CheckpointInterval, func(delta store.ProgressDelta) error {
		updated, err := e.jobs.UpdateProgress(ledgerCtx, jobID, delta)
		if err != nil {
			e.metrics.CheckpointErrorsTotal.Add(ledgerCtx, 1)
			return err
		}
		e.metrics.CheckpointsTotal.Add(ledgerCtx, 1)
		if updated.CancelRequested {
			cancelSeen.Store(true)
		}
		return nil
	})

	e.metrics.ActiveJobs.Add(ctx, 1)
	defer e.metrics.ActiveJobs.Add(ledgerCtx, -1)

	if job.ProcessedRows > 0 {
		e.metrics.JobsResumedTotal.Add(ctx, 1)
		logger.Info().Int("processed_rows", job.ProcessedRows).Msg("Resuming job")
	} else {
		logger.Info().Int("total_rows", job.TotalRows).Msg("Starting job")
	}

	interrupted := func() (bool, error) {
		switch {
		case cancelSeen.Load() || errors.Is(context.Cause(ctx), ErrCancelRequested):
			return true, e.cancel(ledgerCtx, job, cp)
		case ctx.Err() != nil:
			return true, e.stopped(ctx, job, cp)
		}
		return false, nil
	}

	for i := job.ProcessedRows; i < len(rows); i++ {
		if stop, err := interrupted(); stop {
			return err
		}

		outcome, err := e.processRow(ctx, job, i, rows[i], scorer)
		if err != nil {
			var fatal *fatalError
			if errors.As(err, &fatal) {
				return e.fail(ledgerCtx, job, cp, fatal.err)
			}
			// context ended mid-row, the row is not recorded
			if stop, err := interrupted(); stop {
				return err
			}
			return e.fail(ledgerCtx, job, cp, err)
		}

		e.metrics.RowsProcessedTotal.Add(ctx, 1)
		if err := cp.Add(outcome); err != nil {
			return e.checkpointFailed(ledgerCtx, job, err)
		}
	}

	if err := cp.Stop(); err != nil {
		return e.checkpointFailed(ledgerCtx, job, err)
	}
	if cancelSeen.Load() {
		// the final checkpoint observed a cancel but every row is already committed
		logger.Debug().Msg("Cancel observed after last row, completing")
	}
	return e.finish(ledgerCtx, job, models.JobStatusCompleted, "")
}

// processRow runs validate, resolve, score and persist for one row. Row level
// problems become a rejection; a returned error is either fatal or a context error.
func (e *Executor) processRow(ctx context.Context, job *models.BulkJob, index int, raw models.RawRow, scorer scoring.Scorer) (RowOutcome, error) {
	res := validator.Validate(index, raw, job.JobType)
	if !res.OK() {
		return e.reject(ctx, index, "validation", res.Rejection.Reason), nil
	}
	row := res.Row

	company, err := e.resolver.Scope(job.Tenant, resolver.CompanyInput{
		Symbol:    row.Symbol,
		Name:      row.Name,
		Sector:    row.Sector,
		MarketCap: row.MarketCap,
	}, job.JobType, row.Period)
	if err != nil {
		return e.reject(ctx, index, "resolve", err.Error()), nil
	}

	start := time.Now()
	score, err := scorer.Score(ctx, row.Ratios)
	e.metrics.ScoringDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	switch {
	case err == nil:
	case errors.Is(err, scoring.ErrScorerUnreachable):
		return RowOutcome{}, &fatalError{err: err}
	case ctx.Err() != nil:
		return RowOutcome{}, ctx.Err()
	default:
		return e.reject(ctx, index, "scoring", fmt.Sprintf("scoring failed: %v", err)), nil
	}
	if err := scoring.Check(score); err != nil {
		return e.reject(ctx, index, "scoring", fmt.Sprintf("scoring failed: %v", err)), nil
	}

	rowIndex := index
	jobID := job.ID
	prediction := &models.Prediction{
		Type:        job.JobType,
		AccessLevel: models.AccessLevelFor(job.Tenant),
		CreatedBy:   job.OwnerID,
		Ratios:      row.Ratios,
		RiskTier:    score.RiskTier,
		Probability: score.Probability,
		JobID:       &jobID,
		RowIndex:    &rowIndex,
	}
	if prediction.AccessLevel != models.AccessSystem {
		prediction.OrganizationID = job.Tenant.OrganizationID
	}
	if err := prediction.Validate(job.Tenant.Role); err != nil {
		return e.reject(ctx, index, "persist", err.Error()), nil
	}

	if _, err := e.predictions.CreateWithCompany(ctx, company, prediction); err != nil {
		switch {
		case errors.Is(err, store.ErrInfrastructure):
			return RowOutcome{}, &fatalError{err: err}
		case ctx.Err() != nil:
			return RowOutcome{}, ctx.Err()
		}
		return e.reject(ctx, index, "persist", fmt.Sprintf("persist failed: %v", err)), nil
	}

	return RowOutcome{RowIndex: index}, nil
}

func (e *Executor) reject(ctx context.Context, index int, stage, reason string) RowOutcome {
	e.metrics.RowsRejectedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	return RowOutcome{
		RowIndex:  index,
		Rejection: &models.RowRejection{RowIndex: index, Reason: reason},
	}
}

// cancel flushes committed progress and records the cancellation.
func (e *Executor) cancel(ctx context.Context, job *models.BulkJob, cp *Checkpointer) error {
	if err := cp.Stop(); err != nil {
		return e.checkpointFailed(ctx, job, err)
	}
	return e.finish(ctx, job, models.JobStatusCancelled, "cancelled by request")
}

// fail flushes committed progress and marks the job failed.
func (e *Executor) fail(ctx context.Context, job *models.BulkJob, cp *Checkpointer, cause error) error {
	log.Error().Err(cause).Str("job_id", job.ID.String()).Msg("Job failed")
	if err := cp.Stop(); err != nil {
		return e.checkpointFailed(ctx, job, err)
	}
	return e.finish(ctx, job, models.JobStatusFailed, cause.Error())
}

// stopped flushes progress and leaves the job running in the ledger so the
// next pool start resumes it.
func (e *Executor) stopped(ctx context.Context, job *models.BulkJob, cp *Checkpointer) error {
	if cp != nil {
		if err := cp.Stop(); err != nil {
			log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("Failed to flush progress on shutdown")
		}
	}
	log.Info().Str("job_id", job.ID.String()).Msg("Job interrupted by shutdown, will resume")
	return ctx.Err()
}

func (e *Executor) checkpointFailed(ctx context.Context, job *models.BulkJob, err error) error {
	switch {
	case errors.Is(err, store.ErrJobNotFound):
		log.Info().Str("job_id", job.ID.String()).Msg("Job deleted during execution")
		return nil
	case errors.Is(err, store.ErrInvalidTransition):
		log.Warn().Err(err).Str("job_id", job.ID.String()).Msg("Job finished elsewhere during execution")
		return nil
	}
	return e.finish(ctx, job, models.JobStatusFailed, fmt.Sprintf("failed to checkpoint progress: %v", err))
}

func (e *Executor) finish(ctx context.Context, job *models.BulkJob, status models.JobStatus, reason string) error {
	final, err := e.jobs.MarkTerminal(ctx, job.ID, status, reason)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) || errors.Is(err, store.ErrInvalidTransition) {
			log.Info().Err(err).Str("job_id", job.ID.String()).Msg("Job no longer accepts terminal status")
			return nil
		}
		return fmt.Errorf("failed to mark job %s: %w", status, err)
	}

	e.metrics.JobsTerminalTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	if final.StartedAt != nil && final.CompletedAt != nil {
		e.metrics.JobDuration.Record(ctx, final.CompletedAt.Sub(*final.StartedAt).Seconds())
	}

	log.Info().
		Str("job_id", job.ID.String()).
		Str("status", string(status)).
		Int("success_count", final.SuccessCount).
		Int("failure_count", final.FailureCount).
		Msg("Job finished")
	return nil
}
