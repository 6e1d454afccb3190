// Package api defines the JobService RPC contract shared by the server and
// the CLI client. Messages are plain structs carried by a JSON codec.
package api

import (
	"github.com/google/uuid"
	"github.com/wolfeidau/riskrunner/internal/models"
)

const (
	ServiceName        = "riskrunner.v1.JobService"
	CompanyServiceName = "riskrunner.v1.CompanyService"
)

const (
	SubmitJobProcedure   = "/" + ServiceName + "/SubmitJob"
	GetJobProcedure      = "/" + ServiceName + "/GetJob"
	ListJobsProcedure    = "/" + ServiceName + "/ListJobs"
	CancelJobProcedure   = "/" + ServiceName + "/CancelJob"
	DeleteJobProcedure   = "/" + ServiceName + "/DeleteJob"
	CheckAccessProcedure = "/" + ServiceName + "/CheckAccess"
	PurgeJobsProcedure   = "/" + ServiceName + "/PurgeJobs"

	ListCompaniesProcedure = "/" + CompanyServiceName + "/ListCompanies"
	CreateCompanyProcedure = "/" + CompanyServiceName + "/CreateCompany"
)

type SubmitJobRequest struct {
	JobType string          `json:"job_type"`
	Rows    []models.RawRow `json:"rows"`
}

type SubmitJobResponse struct {
	Job *models.BulkJob `json:"job"`
}

type GetJobRequest struct {
	JobID uuid.UUID `json:"job_id"`
}

type GetJobResponse struct {
	Job *models.BulkJob `json:"job"`
}

type ListJobsRequest struct {
	Status   string `json:"status,omitempty"`
	Page     int    `json:"page,omitempty"`
	PageSize int    `json:"page_size,omitempty"`
}

type ListJobsResponse struct {
	Jobs     []*models.BulkJob `json:"jobs"`
	LastPage int               `json:"last_page"`
}

type CancelJobRequest struct {
	JobID uuid.UUID `json:"job_id"`
}

type CancelJobResponse struct {
	Job *models.BulkJob `json:"job"`
}

type DeleteJobRequest struct {
	JobID uuid.UUID `json:"job_id"`
}

type DeleteJobResponse struct{}

type CheckAccessRequest struct {
	PredictionID uuid.UUID `json:"prediction_id"`
	Action       string    `json:"action"`
}

type CheckAccessResponse struct {
	Allowed bool   `json:"allowed"`
	Grant   string `json:"grant,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// PurgeJobsRequest removes terminal jobs finished more than OlderThanSeconds ago.
type PurgeJobsRequest struct {
	OlderThanSeconds int64 `json:"older_than_seconds"`
}

type PurgeJobsResponse struct {
	Purged int `json:"purged"`
}

// ListCompaniesRequest returns every company row for Symbol the caller can
// read. Organizations see global rows only when their global data access
// flag is set.
type ListCompaniesRequest struct {
	Symbol string `json:"symbol"`
}

type ListCompaniesResponse struct {
	Companies []*models.Company `json:"companies"`
}

// CreateCompanyRequest resolves or creates a single company in the caller's
// scope. Global claims global scope and is only honoured for a super admin
// outside any organization.
type CreateCompanyRequest struct {
	Symbol           string   `json:"symbol"`
	Name             string   `json:"name,omitempty"`
	Sector           string   `json:"sector,omitempty"`
	MarketCap        *float64 `json:"market_cap,omitempty"`
	PredictionType   string   `json:"prediction_type"`
	ReportingYear    int      `json:"reporting_year"`
	ReportingQuarter string   `json:"reporting_quarter,omitempty"`
	Global           bool     `json:"global,omitempty"`
}

type CreateCompanyResponse struct {
	Company *models.Company `json:"company"`
}
