package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/riskrunner/internal/models"
	"github.com/wolfeidau/riskrunner/internal/resolver"
	"github.com/wolfeidau/riskrunner/internal/scoring"
	"github.com/wolfeidau/riskrunner/internal/store"
	"github.com/wolfeidau/riskrunner/internal/store/memory"
)

type fixture struct {
	jobs     *memory.JobStore
	batches  *memory.BatchStore
	entities *memory.EntityStore
	resolver *resolver.Resolver
	tenant   models.TenantContext
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	org := uuid.Must(uuid.NewV7())
	entities := memory.NewEntityStore()
	return &fixture{
		jobs:     memory.NewJobStore(),
		batches:  memory.NewBatchStore(),
		entities: entities,
		resolver: resolver.New(entities, memory.NewOrganizationStore()),
		tenant:   models.TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: models.RoleOrgMember, OrganizationID: &org},
	}
}

func (f *fixture) executor(scorer scoring.Scorer, cfg Config) *Executor {
	return NewExecutor(f.jobs, f.batches, f.entities, f.resolver, scorer, cfg)
}

// queueJob stores rows and moves a new job to queued.
func (f *fixture) queueJob(t *testing.T, rows []models.RawRow) *models.BulkJob {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	job := &models.BulkJob{
		ID:        uuid.Must(uuid.NewV7()),
		OwnerID:   f.tenant.ActorID,
		Tenant:    f.tenant,
		JobType:   models.PredictionAnnual,
		Status:    models.JobStatusPending,
		TotalRows: len(rows),
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.jobs.Create(ctx, job))
	require.NoError(t, f.batches.SaveBatch(ctx, job.ID, rows))
	require.NoError(t, f.jobs.MarkQueued(ctx, job.ID, "test-handle"))
	return job
}

func annualRow(symbol string) models.RawRow {
	return models.RawRow{
		"company_symbol":                  symbol,
		"reporting_year":                  "2024",
		"long_term_debt_to_total_capital": "0.4",
		"total_debt_to_ebitda":            "2.5",
		"net_income_margin":               "0.08",
		"ebit_to_interest_expense":        "4.2",
		"return_on_assets":                "0.03",
	}
}

func annualRows(n int) []models.RawRow {
	rows := make([]models.RawRow, n)
	for i := range rows {
		rows[i] = annualRow(fmt.Sprintf("SYM%d", i))
	}
	return rows
}

func countingScorer(calls *atomic.Int32) scoring.Scorer {
	return scoring.Func(func(ctx context.Context, r models.Ratios) (scoring.Score, error) {
		calls.Add(1)
		return scoring.Score{Probability: 0.3, RiskTier: scoring.TierFor(0.3)}, nil
	})
}

func TestExecutorCompletesWithRowRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rows := annualRows(3)
	rows[1]["net_income_margin"] = "not-a-number"
	job := f.queueJob(t, rows)

	var calls atomic.Int32
	require.NoError(t, f.executor(countingScorer(&calls), Config{}).Run(ctx, job.ID))

	got, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, got.Status)
	require.Equal(t, 3, got.ProcessedRows)
	require.Equal(t, 2, got.SuccessCount)
	require.Equal(t, 1, got.FailureCount)
	require.Equal(t, []models.RowRejection{{RowIndex: 1, Reason: "non-numeric field net_income_margin"}}, got.Errors)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)

	preds, err := f.entities.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, preds, 2)
	require.Equal(t, models.AccessOrganization, preds[0].AccessLevel)
	require.Equal(t, *f.tenant.OrganizationID, *preds[0].OrganizationID)
	require.EqualValues(t, 2, calls.Load())
}

func TestExecutorResumesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.queueJob(t, annualRows(4))

	// a previous run committed rows 0 and 1 but only checkpointed row 0
	var calls atomic.Int32
	exec := f.executor(countingScorer(&calls), Config{})
	batch, err := f.batches.LoadBatch(ctx, job.ID)
	require.NoError(t, err)
	for i := range 2 {
		outcome, err := exec.processRow(ctx, job, i, batch[i], exec.scorer)
		require.NoError(t, err)
		require.Nil(t, outcome.Rejection)
	}
	_, err = f.jobs.UpdateProgress(ctx, job.ID, store.ProgressDelta{Processed: 1, Success: 1})
	require.NoError(t, err)

	calls.Store(0)
	require.NoError(t, exec.Run(ctx, job.ID))

	got, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, got.Status)
	require.Equal(t, 4, got.SuccessCount)
	require.EqualValues(t, 3, calls.Load(), "row 0 must not be scored again")

	preds, err := f.entities.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, preds, 4, "row 1 must not be duplicated")
}

func TestExecutorObservesLedgerCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.queueJob(t, annualRows(5))

	var calls atomic.Int32
	scorer := scoring.Func(func(ctx context.Context, r models.Ratios) (scoring.Score, error) {
		if calls.Add(1) == 2 {
			_, err := f.jobs.RequestCancel(ctx, job.ID)
			require.NoError(t, err)
		}
		return scoring.Score{Probability: 0.1, RiskTier: models.RiskLow}, nil
	})

	require.NoError(t, f.executor(scorer, Config{}).Run(ctx, job.ID))

	got, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCancelled, got.Status)
	require.Equal(t, 2, got.ProcessedRows)
	require.Equal(t, 2, got.SuccessCount)
}

func TestExecutorObservesContextCancel(t *testing.T) {
	f := newFixture(t)
	job := f.queueJob(t, annualRows(5))

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	var calls atomic.Int32
	scorer := scoring.Func(func(_ context.Context, r models.Ratios) (scoring.Score, error) {
		if calls.Add(1) == 3 {
			cancel(ErrCancelRequested)
		}
		return scoring.Score{Probability: 0.1, RiskTier: models.RiskLow}, nil
	})

	require.NoError(t, f.executor(scorer, Config{}).Run(ctx, job.ID))

	got, err := f.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCancelled, got.Status)
	require.Equal(t, 3, got.ProcessedRows)
}

func TestExecutorShutdownLeavesJobResumable(t *testing.T) {
	f := newFixture(t)
	job := f.queueJob(t, annualRows(4))

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	scorer := scoring.Func(func(_ context.Context, r models.Ratios) (scoring.Score, error) {
		if calls.Add(1) == 2 {
			cancel()
		}
		return scoring.Score{Probability: 0.1, RiskTier: models.RiskLow}, nil
	})

	err := f.executor(scorer, Config{}).Run(ctx, job.ID)
	require.ErrorIs(t, err, context.Canceled)

	got, err := f.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusProcessing, got.Status)
	require.Equal(t, 2, got.ProcessedRows)

	require.NoError(t, f.executor(scorer, Config{}).Run(context.Background(), job.ID))
	got, err = f.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, got.Status)
	require.Equal(t, 4, got.SuccessCount)
}

func TestExecutorScoringFailures(t *testing.T) {
	t.Run("unavailable rows are rejected and the job completes", func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t)
		job := f.queueJob(t, annualRows(3))

		down := scoring.Func(func(ctx context.Context, r models.Ratios) (scoring.Score, error) {
			return scoring.Score{}, scoring.ErrScoringUnavailable
		})
		require.NoError(t, f.executor(down, Config{}).Run(ctx, job.ID))

		got, err := f.jobs.Get(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, models.JobStatusCompleted, got.Status)
		require.Zero(t, got.SuccessCount)
		require.Equal(t, 3, got.FailureCount)
		require.Len(t, got.Errors, 3)
		require.Contains(t, got.Errors[0].Reason, "scoring failed")
	})

	t.Run("unreachable scorer fails the job", func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t)
		job := f.queueJob(t, annualRows(5))

		down := scoring.Func(func(ctx context.Context, r models.Ratios) (scoring.Score, error) {
			return scoring.Score{}, scoring.ErrScoringUnavailable
		})
		require.NoError(t, f.executor(down, Config{UnreachableAfter: 2}).Run(ctx, job.ID))

		got, err := f.jobs.Get(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, models.JobStatusFailed, got.Status)
		require.Equal(t, 1, got.ProcessedRows)
		require.Contains(t, got.FailureReason, "scorer unreachable")
	})

	t.Run("out of range score rejects the row", func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t)
		job := f.queueJob(t, annualRows(1))

		bad := scoring.Func(func(ctx context.Context, r models.Ratios) (scoring.Score, error) {
			return scoring.Score{Probability: 1.7, RiskTier: models.RiskHigh}, nil
		})
		require.NoError(t, f.executor(bad, Config{}).Run(ctx, job.ID))

		got, err := f.jobs.Get(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, models.JobStatusCompleted, got.Status)
		require.Equal(t, 1, got.FailureCount)
	})
}

func TestExecutorSkipsTerminalAndDeletedJobs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.queueJob(t, annualRows(1))
	_, err := f.jobs.MarkTerminal(ctx, job.ID, models.JobStatusCancelled, "cancelled")
	require.NoError(t, err)

	var calls atomic.Int32
	exec := f.executor(countingScorer(&calls), Config{})
	require.NoError(t, exec.Run(ctx, job.ID))
	require.NoError(t, exec.Run(ctx, uuid.Must(uuid.NewV7())))
	require.Zero(t, calls.Load())
}

func TestExecutorBatchedCheckpoints(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.queueJob(t, annualRows(7))

	var calls atomic.Int32
	require.NoError(t, f.executor(countingScorer(&calls), Config{CheckpointEvery: 3}).Run(ctx, job.ID))

	got, err := f.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, got.Status)
	require.Equal(t, 7, got.ProcessedRows)
}
