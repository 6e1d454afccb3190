package jobs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/riskrunner/internal/auth"
	"github.com/wolfeidau/riskrunner/internal/models"
	"github.com/wolfeidau/riskrunner/internal/resolver"
	"github.com/wolfeidau/riskrunner/internal/scoring"
	"github.com/wolfeidau/riskrunner/internal/store/memory"
	"github.com/wolfeidau/riskrunner/internal/worker"
)

// runningDispatcher executes each dispatched job on its own goroutine and
// forwards cancellation the way the worker pool does.
type runningDispatcher struct {
	exec    *worker.Executor
	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelCauseFunc
	done    chan error
}

func (d *runningDispatcher) Dispatch(_ context.Context, item worker.WorkItem) error {
	ctx, cancel := context.WithCancelCause(context.Background())
	d.mu.Lock()
	d.cancels[item.JobID] = cancel
	d.mu.Unlock()

	go func() {
		defer cancel(nil)
		d.done <- d.exec.Run(ctx, item.JobID)
	}()
	return nil
}

func (d *runningDispatcher) Cancel(jobID uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	cancel, ok := d.cancels[jobID]
	if ok {
		cancel(worker.ErrCancelRequested)
	}
	return ok
}

func scoredRows(n int) []models.RawRow {
	out := make([]models.RawRow, n)
	for i := range out {
		out[i] = models.RawRow{
			"company_symbol":                  fmt.Sprintf("SYM%d", i),
			"reporting_year":                  "2024",
			"long_term_debt_to_total_capital": "0.4",
			"total_debt_to_ebitda":            "2.5",
			"net_income_margin":               "0.08",
			"ebit_to_interest_expense":        "4.2",
			"return_on_assets":                "0.03",
		}
	}
	return out
}

func TestCancelWhileRowIsScored(t *testing.T) {
	tests := []struct {
		name            string
		checkpointEvery int
	}{
		{name: "checkpoint every row", checkpointEvery: 1},
		{name: "batched checkpoints", checkpointEvery: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			jobs := memory.NewJobStore()
			batches := memory.NewBatchStore()
			entities := memory.NewEntityStore()

			entered := make(chan struct{}, 1)
			release := make(chan struct{})
			scorer := scoring.Func(func(_ context.Context, r models.Ratios) (scoring.Score, error) {
				select {
				case entered <- struct{}{}:
				default:
				}
				<-release
				return scoring.Score{Probability: 0.2, RiskTier: scoring.TierFor(0.2)}, nil
			})

			exec := worker.NewExecutor(jobs, batches, entities, resolver.New(entities, memory.NewOrganizationStore()), scorer,
				worker.Config{CheckpointEvery: tt.checkpointEvery})
			dispatcher := &runningDispatcher{exec: exec, cancels: map[uuid.UUID]context.CancelCauseFunc{}, done: make(chan error, 1)}
			svc := NewService(jobs, batches, entities, dispatcher, auth.NewEvaluator(auth.Policy{}), Config{DeleteGracePeriod: 30 * time.Second})

			owner := models.TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: models.RolePersonalUser}
			job, err := svc.Submit(ctx, owner, models.PredictionAnnual, scoredRows(3))
			require.NoError(t, err)

			select {
			case <-entered:
			case <-time.After(5 * time.Second):
				t.Fatal("scorer was never called")
			}

			got, err := svc.Cancel(ctx, owner, job.ID)
			require.NoError(t, err)
			require.Equal(t, models.JobStatusProcessing, got.Status, "a row in flight keeps the job processing")
			require.True(t, got.CancelRequested)

			close(release)
			select {
			case err := <-dispatcher.done:
				require.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("job did not finish")
			}

			final, err := jobs.Get(ctx, job.ID)
			require.NoError(t, err)
			require.Equal(t, models.JobStatusCancelled, final.Status)

			preds, err := entities.ListByJob(ctx, job.ID)
			require.NoError(t, err)
			require.Len(t, preds, 1)
			require.Equal(t, len(preds), final.SuccessCount)
			require.Equal(t, final.SuccessCount+final.FailureCount, final.ProcessedRows)
		})
	}
}
