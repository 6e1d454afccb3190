package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/authn"
	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/riskrunner/internal/api"
	"github.com/wolfeidau/riskrunner/internal/auth"
	"github.com/wolfeidau/riskrunner/internal/client"
	"github.com/wolfeidau/riskrunner/internal/jobs"
	"github.com/wolfeidau/riskrunner/internal/logger"
	"github.com/wolfeidau/riskrunner/internal/models"
	"github.com/wolfeidau/riskrunner/internal/resolver"
	"github.com/wolfeidau/riskrunner/internal/scoring"
	"github.com/wolfeidau/riskrunner/internal/store/memory"
	"github.com/wolfeidau/riskrunner/internal/worker"
)

func newTestServer(t *testing.T, authFunc authn.AuthFunc) *httptest.Server {
	t.Helper()
	ts, _ := startTestServer(t, authFunc)
	return ts
}

// startTestServer runs the full stack on memory stores and returns the
// organization store so tests can flip organization settings.
func startTestServer(t *testing.T, authFunc authn.AuthFunc) (*httptest.Server, *memory.OrganizationStore) {
	t.Helper()

	jobStore := memory.NewJobStore()
	batches := memory.NewBatchStore()
	entities := memory.NewEntityStore()
	orgs := memory.NewOrganizationStore()
	res := resolver.New(entities, orgs)

	exec := worker.NewExecutor(jobStore, batches, entities, res, scoring.DefaultModel(), worker.Config{})
	pool := worker.NewPool(exec, jobStore, worker.Config{Workers: 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pool.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	svc := jobs.NewService(jobStore, batches, entities, pool, auth.NewEvaluator(auth.Policy{}), jobs.Config{})
	handler := NewServer(svc, res).Handler(logger.NewConnectRequests(zerolog.Nop()))

	ts := httptest.NewServer(authn.NewMiddleware(authFunc).Wrap(handler))
	t.Cleanup(ts.Close)
	return ts, orgs
}

func headerClient(t *testing.T, ts *httptest.Server, tenant models.TenantContext) *client.Client {
	t.Helper()
	interceptor, err := client.NewHeaderInterceptor(tenant)
	require.NoError(t, err)
	return client.NewWithHTTPClient(ts.Client(), ts.URL, connect.WithInterceptors(interceptor))
}

func annualRow(symbol string) models.RawRow {
	return models.RawRow{
		"company_symbol":                  symbol,
		"company_name":                    symbol + " Ltd",
		"reporting_year":                  2024,
		"long_term_debt_to_total_capital": 0.4,
		"total_debt_to_ebitda":            2.5,
		"net_income_margin":               "8%",
		"ebit_to_interest_expense":        4.2,
		"return_on_assets":                0.03,
	}
}

func waitTerminal(t *testing.T, c *client.Client, jobID uuid.UUID) *models.BulkJob {
	t.Helper()
	var job *models.BulkJob
	require.Eventually(t, func() bool {
		resp, err := c.GetJob(context.Background(), &api.GetJobRequest{JobID: jobID})
		if err != nil {
			return false
		}
		job = resp.Job
		return job.Status.IsTerminal()
	}, 5*time.Second, 20*time.Millisecond)
	return job
}

func TestJobWorkflow(t *testing.T) {
	ts := newTestServer(t, auth.NewHeaderAuthFunc())
	org := uuid.Must(uuid.NewV7())
	owner := models.TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: models.RoleOrgMember, OrganizationID: &org}
	c := headerClient(t, ts, owner)
	ctx := context.Background()

	bad := annualRow("BAD")
	bad["net_income_margin"] = "n/a"

	submitted, err := c.SubmitJob(ctx, &api.SubmitJobRequest{
		JobType: "annual",
		Rows:    []models.RawRow{annualRow("TCS"), bad, annualRow("INFY")},
	})
	require.NoError(t, err)
	require.Equal(t, 3, submitted.Job.TotalRows)

	job := waitTerminal(t, c, submitted.Job.ID)
	require.Equal(t, models.JobStatusCompleted, job.Status)
	require.Equal(t, 3, job.ProcessedRows)
	require.Equal(t, 2, job.SuccessCount)
	require.Equal(t, 1, job.FailureCount)
	require.Len(t, job.Errors, 1)
	require.Equal(t, 1, job.Errors[0].RowIndex)

	list, err := c.ListJobs(ctx, &api.ListJobsRequest{Status: "completed"})
	require.NoError(t, err)
	require.Len(t, list.Jobs, 1)

	_, err = c.CancelJob(ctx, &api.CancelJobRequest{JobID: job.ID})
	require.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))

	_, err = c.DeleteJob(ctx, &api.DeleteJobRequest{JobID: job.ID})
	require.NoError(t, err)

	_, err = c.GetJob(ctx, &api.GetJobRequest{JobID: job.ID})
	require.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
}

func TestErrorCodes(t *testing.T) {
	ts := newTestServer(t, auth.NewHeaderAuthFunc())
	user := models.TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: models.RolePersonalUser}
	c := headerClient(t, ts, user)
	ctx := context.Background()

	t.Run("unknown job type", func(t *testing.T) {
		_, err := c.SubmitJob(ctx, &api.SubmitJobRequest{JobType: "monthly", Rows: []models.RawRow{annualRow("X")}})
		require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
	})

	t.Run("empty batch", func(t *testing.T) {
		_, err := c.SubmitJob(ctx, &api.SubmitJobRequest{JobType: "annual"})
		require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
	})

	t.Run("purge requires super admin", func(t *testing.T) {
		_, err := c.PurgeJobs(ctx, &api.PurgeJobsRequest{OlderThanSeconds: 60})
		require.Equal(t, connect.CodePermissionDenied, connect.CodeOf(err))
	})

	t.Run("other user's job", func(t *testing.T) {
		submitted, err := c.SubmitJob(ctx, &api.SubmitJobRequest{JobType: "annual", Rows: []models.RawRow{annualRow("X")}})
		require.NoError(t, err)

		other := headerClient(t, ts, models.TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: models.RolePersonalUser})
		_, err = other.GetJob(ctx, &api.GetJobRequest{JobID: submitted.Job.ID})
		require.Equal(t, connect.CodePermissionDenied, connect.CodeOf(err))
	})

	t.Run("unknown prediction", func(t *testing.T) {
		_, err := c.CheckAccess(ctx, &api.CheckAccessRequest{PredictionID: uuid.Must(uuid.NewV7()), Action: "read"})
		require.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
	})

	t.Run("missing credentials", func(t *testing.T) {
		anon := client.NewWithHTTPClient(ts.Client(), ts.URL)
		_, err := anon.ListJobs(ctx, &api.ListJobsRequest{})
		require.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
	})
}

func TestHealthIsPublic(t *testing.T) {
	ts := newTestServer(t, auth.NewHeaderAuthFunc())

	resp, err := ts.Client().Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestJWTAuthentication(t *testing.T) {
	privPEM, pubPEM, err := auth.GenerateSigningKey()
	require.NoError(t, err)

	authFunc, err := auth.NewJWTAuthFunc(pubPEM)
	require.NoError(t, err)
	ts := newTestServer(t, authFunc)

	admin := models.TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: models.RoleSuperAdmin}
	interceptor, err := client.NewSigningInterceptor(privPEM, admin)
	require.NoError(t, err)
	c := client.NewWithHTTPClient(ts.Client(), ts.URL, connect.WithInterceptors(interceptor))

	resp, err := c.PurgeJobs(context.Background(), &api.PurgeJobsRequest{OlderThanSeconds: 3600})
	require.NoError(t, err)
	require.Equal(t, 0, resp.Purged)

	// header credentials are ignored when the server verifies tokens
	spoofed := headerClient(t, ts, admin)
	_, err = spoofed.ListJobs(context.Background(), &api.ListJobsRequest{})
	require.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
}
