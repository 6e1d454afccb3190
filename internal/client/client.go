package client

import (
	"context"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/wolfeidau/riskrunner/internal/api"
)

// Config holds common client configuration
type Config struct {
	ServerURL string
	Timeout   time.Duration
	Debug     bool
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		ServerURL: "https://localhost:8443",
		Timeout:   5 * time.Minute,
		Debug:     false,
	}
}

// Client calls the JobService and CompanyService procedures.
type Client struct {
	submit        *connect.Client[api.SubmitJobRequest, api.SubmitJobResponse]
	get           *connect.Client[api.GetJobRequest, api.GetJobResponse]
	list          *connect.Client[api.ListJobsRequest, api.ListJobsResponse]
	cancel        *connect.Client[api.CancelJobRequest, api.CancelJobResponse]
	delete        *connect.Client[api.DeleteJobRequest, api.DeleteJobResponse]
	checkAccess   *connect.Client[api.CheckAccessRequest, api.CheckAccessResponse]
	purge         *connect.Client[api.PurgeJobsRequest, api.PurgeJobsResponse]
	listCompanies *connect.Client[api.ListCompaniesRequest, api.ListCompaniesResponse]
	createCompany *connect.Client[api.CreateCompanyRequest, api.CreateCompanyResponse]
}

// New creates a client with the given configuration. Extra options such as
// auth interceptors are appended after the JSON codec.
func New(config Config, opts ...connect.ClientOption) *Client {
	httpClient := &http.Client{
		Timeout: config.Timeout,
	}
	return NewWithHTTPClient(httpClient, config.ServerURL, opts...)
}

// NewWithHTTPClient creates a client using httpClient, mostly for tests.
func NewWithHTTPClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	opts = append([]connect.ClientOption{connect.WithCodec(api.Codec{})}, opts...)

	return &Client{
		submit:        connect.NewClient[api.SubmitJobRequest, api.SubmitJobResponse](httpClient, baseURL+api.SubmitJobProcedure, opts...),
		get:           connect.NewClient[api.GetJobRequest, api.GetJobResponse](httpClient, baseURL+api.GetJobProcedure, opts...),
		list:          connect.NewClient[api.ListJobsRequest, api.ListJobsResponse](httpClient, baseURL+api.ListJobsProcedure, opts...),
		cancel:        connect.NewClient[api.CancelJobRequest, api.CancelJobResponse](httpClient, baseURL+api.CancelJobProcedure, opts...),
		delete:        connect.NewClient[api.DeleteJobRequest, api.DeleteJobResponse](httpClient, baseURL+api.DeleteJobProcedure, opts...),
		checkAccess:   connect.NewClient[api.CheckAccessRequest, api.CheckAccessResponse](httpClient, baseURL+api.CheckAccessProcedure, opts...),
		purge:         connect.NewClient[api.PurgeJobsRequest, api.PurgeJobsResponse](httpClient, baseURL+api.PurgeJobsProcedure, opts...),
		listCompanies: connect.NewClient[api.ListCompaniesRequest, api.ListCompaniesResponse](httpClient, baseURL+api.ListCompaniesProcedure, opts...),
		createCompany: connect.NewClient[api.CreateCompanyRequest, api.CreateCompanyResponse](httpClient, baseURL+api.CreateCompanyProcedure, opts...),
	}
}

func (c *Client) SubmitJob(ctx context.Context, req *api.SubmitJobRequest) (*api.SubmitJobResponse, error) {
	return call(ctx, c.submit, req)
}

func (c *Client) GetJob(ctx context.Context, req *api.GetJobRequest) (*api.GetJobResponse, error) {
	return call(ctx, c.get, req)
}

func (c *Client) ListJobs(ctx context.Context, req *api.ListJobsRequest) (*api.ListJobsResponse, error) {
	return call(ctx, c.list, req)
}

func (c *Client) CancelJob(ctx context.Context, req *api.CancelJobRequest) (*api.CancelJobResponse, error) {
	return call(ctx, c.cancel, req)
}

func (c *Client) DeleteJob(ctx context.Context, req *api.DeleteJobRequest) (*api.DeleteJobResponse, error) {
	return call(ctx, c.delete, req)
}

func (c *Client) CheckAccess(ctx context.Context, req *api.CheckAccessRequest) (*api.CheckAccessResponse, error) {
	return call(ctx, c.checkAccess, req)
}

func (c *Client) PurgeJobs(ctx context.Context, req *api.PurgeJobsRequest) (*api.PurgeJobsResponse, error) {
	return call(ctx, c.purge, req)
}

func (c *Client) ListCompanies(ctx context.Context, req *api.ListCompaniesRequest) (*api.ListCompaniesResponse, error) {
	return call(ctx, c.listCompanies, req)
}

func (c *Client) CreateCompany(ctx context.Context, req *api.CreateCompanyRequest) (*api.CreateCompanyResponse, error) {
	return call(ctx, c.createCompany, req)
}

func call[Req, Res any](ctx context.Context, c *connect.Client[Req, Res], req *Req) (*Res, error) {
	resp, err := c.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
