package server

import (
	"net/http"

	"connectrpc.com/connect"
	"github.com/wolfeidau/riskrunner/internal/api"
	"github.com/wolfeidau/riskrunner/internal/jobs"
	"github.com/wolfeidau/riskrunner/internal/resolver"
)

// Server exposes the job lifecycle and company lookup over Connect RPC.
type Server struct {
	jobServer     *JobServer
	companyServer *CompanyServer
}

// NewServer creates a new server backed by the lifecycle service and the
// company resolver.
func NewServer(svc *jobs.Service, res *resolver.Resolver) *Server {
	return &Server{
		jobServer:     NewJobServer(svc),
		companyServer: NewCompanyServer(res),
	}
}

// Handler returns the HTTP handler for the server. Authentication is applied
// by the caller so the same handler can sit behind JWT or header auth.
func (s *Server) Handler(interceptors ...connect.Interceptor) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint for load balancer
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	opts := []connect.HandlerOption{
		connect.WithCodec(api.Codec{}),
		connect.WithInterceptors(interceptors...),
	}

	mux.Handle(api.SubmitJobProcedure, connect.NewUnaryHandler(api.SubmitJobProcedure, s.jobServer.SubmitJob, opts...))
	mux.Handle(api.GetJobProcedure, connect.NewUnaryHandler(api.GetJobProcedure, s.jobServer.GetJob, opts...))
	mux.Handle(api.ListJobsProcedure, connect.NewUnaryHandler(api.ListJobsProcedure, s.jobServer.ListJobs, opts...))
	mux.Handle(api.CancelJobProcedure, connect.NewUnaryHandler(api.CancelJobProcedure, s.jobServer.CancelJob, opts...))
	mux.Handle(api.DeleteJobProcedure, connect.NewUnaryHandler(api.DeleteJobProcedure, s.jobServer.DeleteJob, opts...))
	mux.Handle(api.CheckAccessProcedure, connect.NewUnaryHandler(api.CheckAccessProcedure, s.jobServer.CheckAccess, opts...))
	mux.Handle(api.PurgeJobsProcedure, connect.NewUnaryHandler(api.PurgeJobsProcedure, s.jobServer.PurgeJobs, opts...))

	mux.Handle(api.ListCompaniesProcedure, connect.NewUnaryHandler(api.ListCompaniesProcedure, s.companyServer.ListCompanies, opts...))
	mux.Handle(api.CreateCompanyProcedure, connect.NewUnaryHandler(api.CreateCompanyProcedure, s.companyServer.CreateCompany, opts...))

	return mux
}
