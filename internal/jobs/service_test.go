package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/riskrunner/internal/auth"
	"github.com/wolfeidau/riskrunner/internal/models"
	"github.com/wolfeidau/riskrunner/internal/store"
	"github.com/wolfeidau/riskrunner/internal/store/memory"
	"github.com/wolfeidau/riskrunner/internal/worker"
)

type fakeDispatcher struct {
	mu        sync.Mutex
	items     []worker.WorkItem
	cancelled []uuid.UUID
	err       error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, item worker.WorkItem) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.items = append(d.items, item)
	return nil
}

func (d *fakeDispatcher) Cancel(jobID uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelled = append(d.cancelled, jobID)
	return true
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc        *Service
	jobs       *memory.JobStore
	batches    *memory.BatchStore
	entities   *memory.EntityStore
	dispatcher *fakeDispatcher
	clock      *clock
	owner      models.TenantContext
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	org := uuid.Must(uuid.NewV7())
	f := &fixture{
		jobs:       memory.NewJobStore(memory.WithClock(clk.Now)),
		batches:    memory.NewBatchStore(),
		entities:   memory.NewEntityStore(),
		dispatcher: &fakeDispatcher{},
		clock:      clk,
		owner:      models.TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: models.RoleOrgMember, OrganizationID: &org},
	}
	f.svc = NewService(f.jobs, f.batches, f.entities, f.dispatcher, auth.NewEvaluator(auth.Policy{}),
		Config{DeleteGracePeriod: 30 * time.Second, Retention: 24 * time.Hour}, WithClock(clk.Now))
	return f
}

func rows(n int) []models.RawRow {
	out := make([]models.RawRow, n)
	for i := range out {
		out[i] = models.RawRow{"company_symbol": "ABC", "reporting_year": "2024"}
	}
	return out
}

// startProcessing moves a queued job to processing the way a worker's first
// checkpoint does.
func (f *fixture) startProcessing(t *testing.T, jobID uuid.UUID) {
	t.Helper()
	_, err := f.jobs.UpdateProgress(context.Background(), jobID, store.ProgressDelta{Processed: 1, Success: 1})
	require.NoError(t, err)
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("queues and dispatches", func(t *testing.T) {
		f := newFixture(t)
		job, err := f.svc.Submit(ctx, f.owner, models.PredictionAnnual, rows(3))
		require.NoError(t, err)
		require.Equal(t, models.JobStatusQueued, job.Status)
		require.Equal(t, 3, job.TotalRows)
		require.Equal(t, f.owner.ActorID, job.OwnerID)
		require.NotNil(t, job.TaskHandle)

		require.Len(t, f.dispatcher.items, 1)
		require.Equal(t, job.ID, f.dispatcher.items[0].JobID)
		require.Equal(t, *job.TaskHandle, f.dispatcher.items[0].Handle)

		batch, err := f.batches.LoadBatch(ctx, job.ID)
		require.NoError(t, err)
		require.Len(t, batch, 3)
	})

	t.Run("rejects empty batches", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Submit(ctx, f.owner, models.PredictionAnnual, nil)
		require.ErrorIs(t, err, ErrEmptyBatch)
	})

	t.Run("rejects oversized batches", func(t *testing.T) {
		f := newFixture(t)
		f.svc.cfg.MaxRows = 2
		_, err := f.svc.Submit(ctx, f.owner, models.PredictionAnnual, rows(3))
		require.ErrorIs(t, err, ErrBatchTooBig)
	})

	t.Run("rejects unknown job type", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Submit(ctx, f.owner, models.PredictionType("monthly"), rows(1))
		require.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("rejects invalid tenant", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Submit(ctx, models.TenantContext{Role: models.RoleOrgMember}, models.PredictionAnnual, rows(1))
		require.ErrorIs(t, err, models.ErrInvalidTenant)
	})

	t.Run("dispatch failure marks job failed", func(t *testing.T) {
		f := newFixture(t)
		f.dispatcher.err = worker.ErrPoolStopped
		_, err := f.svc.Submit(ctx, f.owner, models.PredictionAnnual, rows(1))
		require.ErrorIs(t, err, worker.ErrPoolStopped)

		res, err := f.jobs.List(ctx, f.owner, store.ListFilter{})
		require.NoError(t, err)
		require.Len(t, res.Jobs, 1)
		require.Equal(t, models.JobStatusFailed, res.Jobs[0].Status)
	})
}

func TestGetStatusEnforcesVisibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job, err := f.svc.Submit(ctx, f.owner, models.PredictionAnnual, rows(1))
	require.NoError(t, err)

	colleague := models.TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: models.RoleOrgMember, OrganizationID: f.owner.OrganizationID}
	got, err := f.svc.GetStatus(ctx, colleague, job.ID)
	require.NoError(t, err)
	require.Equal(t, job.ID, got.ID)

	otherOrg := uuid.Must(uuid.NewV7())
	stranger := models.TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: models.RoleOrgMember, OrganizationID: &otherOrg}
	_, err = f.svc.GetStatus(ctx, stranger, job.ID)
	require.ErrorIs(t, err, auth.ErrPermissionDenied)

	_, err = f.svc.GetStatus(ctx, f.owner, uuid.Must(uuid.NewV7()))
	require.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("queued job is cancelled immediately", func(t *testing.T) {
		f := newFixture(t)
		job, err := f.svc.Submit(ctx, f.owner, models.PredictionAnnual, rows(2))
		require.NoError(t, err)

		got, err := f.svc.Cancel(ctx, f.owner, job.ID)
		require.NoError(t, err)
		require.Equal(t, models.JobStatusCancelled, got.Status)
		require.True(t, got.CancelRequested)
	})

	t.Run("processing job is flagged and signalled", func(t *testing.T) {
		f := newFixture(t)
		job, err := f.svc.Submit(ctx, f.owner, models.PredictionAnnual, rows(2))
		require.NoError(t, err)
		f.startProcessing(t, job.ID)

		got, err := f.svc.Cancel(ctx, f.owner, job.ID)
		require.NoError(t, err)
		require.Equal(t, models.JobStatusProcessing, got.Status)
		require.True(t, got.CancelRequested)
		require.Equal(t, []uuid.UUID{job.ID}, f.dispatcher.cancelled)
	})

	t.Run("terminal job cannot be cancelled", func(t *testing.T) {
		f := newFixture(t)
		job, err := f.svc.Submit(ctx, f.owner, models.PredictionAnnual, rows(1))
		require.NoError(t, err)
		f.startProcessing(t, job.ID)
		_, err = f.jobs.MarkTerminal(ctx, job.ID, models.JobStatusCompleted, "")
		require.NoError(t, err)

		_, err = f.svc.Cancel(ctx, f.owner, job.ID)
		require.ErrorIs(t, err, ErrJobTerminal)
	})

	t.Run("org member cannot cancel a colleague's job", func(t *testing.T) {
		f := newFixture(t)
		job, err := f.svc.Submit(ctx, f.owner, models.PredictionAnnual, rows(1))
		require.NoError(t, err)

		colleague := models.TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: models.RoleOrgMember, OrganizationID: f.owner.OrganizationID}
		_, err = f.svc.Cancel(ctx, colleague, job.ID)
		require.ErrorIs(t, err, auth.ErrPermissionDenied)
	})
}

func TestDeleteGracePeriod(t *testing.T) {
	ctx := context.Background()

	t.Run("processing job within grace period is deleted", func(t *testing.T) {
		f := newFixture(t)
		job, err := f.svc.Submit(ctx, f.owner, models.PredictionAnnual, rows(5))
		require.NoError(t, err)
		f.startProcessing(t, job.ID)
		f.clock.Advance(2 * time.Second)

		require.NoError(t, f.svc.Delete(ctx, f.owner, job.ID))
		require.Equal(t, []uuid.UUID{job.ID}, f.dispatcher.cancelled)

		_, err = f.jobs.Get(ctx, job.ID)
		require.ErrorIs(t, err, store.ErrJobNotFound)
		_, err = f.batches.LoadBatch(ctx, job.ID)
		require.ErrorIs(t, err, store.ErrBatchNotFound)
	})

	t.Run("processing job past grace period is refused until cancelled", func(t *testing.T) {
		f := newFixture(t)
		job, err := f.svc.Submit(ctx, f.owner, models.PredictionAnnual, rows(5))
		require.NoError(t, err)
		f.startProcessing(t, job.ID)
		f.clock.Advance(45 * time.Second)

		err = f.svc.Delete(ctx, f.owner, job.ID)
		require.ErrorIs(t, err, ErrJobInFlight)

		_, err = f.svc.Cancel(ctx, f.owner, job.ID)
		require.NoError(t, err)
		// the worker observes the flag at its next checkpoint
		_, err = f.jobs.MarkTerminal(ctx, job.ID, models.JobStatusCancelled, "cancelled by request")
		require.NoError(t, err)

		require.NoError(t, f.svc.Delete(ctx, f.owner, job.ID))
	})

	t.Run("terminal jobs delete without signalling", func(t *testing.T) {
		f := newFixture(t)
		job, err := f.svc.Submit(ctx, f.owner, models.PredictionAnnual, rows(1))
		require.NoError(t, err)
		_, err = f.svc.Cancel(ctx, f.owner, job.ID)
		require.NoError(t, err)
		f.dispatcher.cancelled = nil

		require.NoError(t, f.svc.Delete(ctx, f.owner, job.ID))
		require.Empty(t, f.dispatcher.cancelled)
	})

	t.Run("personal user cannot delete another user's job", func(t *testing.T) {
		f := newFixture(t)
		job, err := f.svc.Submit(ctx, f.owner, models.PredictionAnnual, rows(1))
		require.NoError(t, err)

		other := models.TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: models.RolePersonalUser}
		err = f.svc.Delete(ctx, other, job.ID)
		require.ErrorIs(t, err, auth.ErrPermissionDenied)
	})
}

func TestList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for range 3 {
		_, err := f.svc.Submit(ctx, f.owner, models.PredictionAnnual, rows(1))
		require.NoError(t, err)
	}

	res, err := f.svc.List(ctx, f.owner, store.ListFilter{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, res.Jobs, 2)
	require.Equal(t, 2, res.LastPage)

	stranger := models.TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: models.RolePersonalUser}
	res, err = f.svc.List(ctx, stranger, store.ListFilter{})
	require.NoError(t, err)
	require.Empty(t, res.Jobs)
}

func TestCheckAccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	company, _, err := f.entities.UpsertCompany(ctx, &models.Company{
		Symbol:          "ABC",
		Name:            "ABC Ltd",
		Scope:           models.OrganizationScope(*f.owner.OrganizationID),
		PredictionType:  models.PredictionAnnual,
		ReportingPeriod: models.ReportingPeriod{Year: 2024},
	})
	require.NoError(t, err)

	prediction, err := f.entities.CreateWithCompany(ctx, company, &models.Prediction{
		Type:           models.PredictionAnnual,
		AccessLevel:    models.AccessOrganization,
		OrganizationID: f.owner.OrganizationID,
		CreatedBy:      f.owner.ActorID,
		Ratios:         models.AnnualRatios{LongTermDebtToTotalCapital: 0.4},
		RiskTier:       models.RiskLow,
		Probability:    0.1,
	})
	require.NoError(t, err)

	tests := []struct {
		name    string
		actor   models.TenantContext
		action  auth.Action
		allowed bool
	}{
		{"creator may modify", f.owner, auth.ActionModify, true},
		{"colleague may read", models.TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: models.RoleOrgMember, OrganizationID: f.owner.OrganizationID}, auth.ActionRead, true},
		{"outsider may not read", models.TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: models.RolePersonalUser}, auth.ActionRead, false},
		{"super admin may delete", models.TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: models.RoleSuperAdmin}, auth.ActionDelete, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := f.svc.CheckAccess(ctx, tt.actor, prediction.ID, tt.action)
			require.NoError(t, err)
			require.Equal(t, tt.allowed, d.Allowed)
			if !tt.allowed {
				require.Equal(t, auth.GrantNone, d.Grant)
			}
		})
	}

	_, err = f.svc.CheckAccess(ctx, f.owner, uuid.Must(uuid.NewV7()), auth.ActionRead)
	require.ErrorIs(t, err, store.ErrPredictionNotFound)

	_, err = f.svc.CheckAccess(ctx, f.owner, prediction.ID, auth.Action("share"))
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	old, err := f.svc.Submit(ctx, f.owner, models.PredictionAnnual, rows(1))
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, f.owner, old.ID)
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)

	live, err := f.svc.Submit(ctx, f.owner, models.PredictionAnnual, rows(1))
	require.NoError(t, err)

	n, err := f.svc.Purge(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = f.jobs.Get(ctx, old.ID)
	require.True(t, errors.Is(err, store.ErrJobNotFound))
	_, err = f.jobs.Get(ctx, live.ID)
	require.NoError(t, err)

	_, err = f.svc.Purge(ctx, 0)
	require.ErrorIs(t, err, ErrInvalidInput)
}
