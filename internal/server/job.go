package server

import (
	"context"
	"errors"
	"time"

	"connectrpc.com/connect"
	"github.com/wolfeidau/riskrunner/internal/api"
	"github.com/wolfeidau/riskrunner/internal/auth"
	"github.com/wolfeidau/riskrunner/internal/jobs"
	"github.com/wolfeidau/riskrunner/internal/models"
	"github.com/wolfeidau/riskrunner/internal/resolver"
	"github.com/wolfeidau/riskrunner/internal/store"
	"github.com/wolfeidau/riskrunner/internal/worker"
)

type JobServer struct {
	jobs *jobs.Service
}

func NewJobServer(svc *jobs.Service) *JobServer {
	return &JobServer{
		jobs: svc,
	}
}

func (s *JobServer) SubmitJob(ctx context.Context, req *connect.Request[api.SubmitJobRequest]) (*connect.Response[api.SubmitJobResponse], error) {
	tenant, err := auth.RequirePermission(ctx, auth.PermJobsSubmit)
	if err != nil {
		return nil, err
	}

	jobType, err := models.ParsePredictionType(req.Msg.JobType)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	job, err := s.jobs.Submit(ctx, tenant, jobType, req.Msg.Rows)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&api.SubmitJobResponse{Job: job}), nil
}

func (s *JobServer) GetJob(ctx context.Context, req *connect.Request[api.GetJobRequest]) (*connect.Response[api.GetJobResponse], error) {
	tenant, err := auth.RequirePermission(ctx, auth.PermJobsRead)
	if err != nil {
		return nil, err
	}

	job, err := s.jobs.GetStatus(ctx, tenant, req.Msg.JobID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&api.GetJobResponse{Job: job}), nil
}

func (s *JobServer) ListJobs(ctx context.Context, req *connect.Request[api.ListJobsRequest]) (*connect.Response[api.ListJobsResponse], error) {
	tenant, err := auth.RequirePermission(ctx, auth.PermJobsList)
	if err != nil {
		return nil, err
	}

	filter := store.ListFilter{Page: req.Msg.Page, PageSize: req.Msg.PageSize}
	if req.Msg.Status != "" {
		status, err := models.ParseJobStatus(req.Msg.Status)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		filter.Status = status
	}

	res, err := s.jobs.List(ctx, tenant, filter)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&api.ListJobsResponse{Jobs: res.Jobs, LastPage: res.LastPage}), nil
}

func (s *JobServer) CancelJob(ctx context.Context, req *connect.Request[api.CancelJobRequest]) (*connect.Response[api.CancelJobResponse], error) {
	tenant, err := auth.RequirePermission(ctx, auth.PermJobsCancel)
	if err != nil {
		return nil, err
	}

	job, err := s.jobs.Cancel(ctx, tenant, req.Msg.JobID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&api.CancelJobResponse{Job: job}), nil
}

func (s *JobServer) DeleteJob(ctx context.Context, req *connect.Request[api.DeleteJobRequest]) (*connect.Response[api.DeleteJobResponse], error) {
	tenant, err := auth.RequirePermission(ctx, auth.PermJobsDelete)
	if err != nil {
		return nil, err
	}

	if err := s.jobs.Delete(ctx, tenant, req.Msg.JobID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&api.DeleteJobResponse{}), nil
}

func (s *JobServer) CheckAccess(ctx context.Context, req *connect.Request[api.CheckAccessRequest]) (*connect.Response[api.CheckAccessResponse], error) {
	tenant, err := auth.RequirePermission(ctx, auth.PermAccessCheck)
	if err != nil {
		return nil, err
	}

	decision, err := s.jobs.CheckAccess(ctx, tenant, req.Msg.PredictionID, auth.Action(req.Msg.Action))
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&api.CheckAccessResponse{
		Allowed: decision.Allowed,
		Grant:   string(decision.Grant),
		Reason:  decision.Reason,
	}), nil
}

func (s *JobServer) PurgeJobs(ctx context.Context, req *connect.Request[api.PurgeJobsRequest]) (*connect.Response[api.PurgeJobsResponse], error) {
	if _, err := auth.RequirePermission(ctx, auth.PermJobsPurge); err != nil {
		return nil, err
	}

	n, err := s.jobs.Purge(ctx, time.Duration(req.Msg.OlderThanSeconds)*time.Second)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&api.PurgeJobsResponse{Purged: n}), nil
}

// toConnectError maps domain errors onto Connect status codes.
func toConnectError(err error) error {
	switch {
	case errors.Is(err, models.ErrInvalidTenant),
		errors.Is(err, jobs.ErrEmptyBatch),
		errors.Is(err, jobs.ErrBatchTooBig),
		errors.Is(err, jobs.ErrInvalidInput),
		errors.Is(err, resolver.ErrInvalidCompany):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, store.ErrJobNotFound),
		errors.Is(err, store.ErrPredictionNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, auth.ErrPermissionDenied),
		errors.Is(err, resolver.ErrScopeConflict):
		return connect.NewError(connect.CodePermissionDenied, err)
	case errors.Is(err, jobs.ErrJobInFlight),
		errors.Is(err, jobs.ErrJobTerminal),
		errors.Is(err, store.ErrInvalidTransition):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, worker.ErrPoolStopped):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}
