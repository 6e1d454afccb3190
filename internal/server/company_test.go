package server

import (
	"context"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/riskrunner/internal/api"
	"github.com/wolfeidau/riskrunner/internal/auth"
	"github.com/wolfeidau/riskrunner/internal/models"
)

func TestGlobalCompaniesFollowOrganizationFlag(t *testing.T) {
	ctx := context.Background()
	ts, orgs := startTestServer(t, auth.NewHeaderAuthFunc())

	org := &models.Organization{OrgID: uuid.Must(uuid.NewV7()), Name: "Acme", CreatedAt: time.Now()}
	require.NoError(t, orgs.Create(ctx, org))

	admin := headerClient(t, ts, models.TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: models.RoleSuperAdmin})
	member := headerClient(t, ts, models.TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: models.RoleOrgMember, OrganizationID: &org.OrgID})

	created, err := admin.CreateCompany(ctx, &api.CreateCompanyRequest{
		Symbol:         "hdfc",
		Name:           "HDFC Bank",
		PredictionType: "annual",
		ReportingYear:  2024,
		Global:         true,
	})
	require.NoError(t, err)
	require.True(t, created.Company.Scope.IsGlobal)
	require.Equal(t, "HDFC", created.Company.Symbol)

	resp, err := member.ListCompanies(ctx, &api.ListCompaniesRequest{Symbol: "HDFC"})
	require.NoError(t, err)
	require.Empty(t, resp.Companies, "global rows are hidden without global data access")

	org.AllowGlobalDataAccess = true
	require.NoError(t, orgs.Update(ctx, org))

	resp, err = member.ListCompanies(ctx, &api.ListCompaniesRequest{Symbol: "hdfc"})
	require.NoError(t, err)
	require.Len(t, resp.Companies, 1)
	require.Equal(t, created.Company.ID, resp.Companies[0].ID)

	own, err := member.CreateCompany(ctx, &api.CreateCompanyRequest{
		Symbol:         "HDFC",
		PredictionType: "annual",
		ReportingYear:  2024,
	})
	require.NoError(t, err)
	require.Equal(t, org.OrgID, *own.Company.Scope.OrganizationID)
	require.NotEqual(t, created.Company.ID, own.Company.ID)

	resp, err = member.ListCompanies(ctx, &api.ListCompaniesRequest{Symbol: "HDFC"})
	require.NoError(t, err)
	require.Len(t, resp.Companies, 2)
}

func TestCreateCompanyErrors(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t, auth.NewHeaderAuthFunc())

	org := uuid.Must(uuid.NewV7())
	member := headerClient(t, ts, models.TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: models.RoleOrgMember, OrganizationID: &org})

	tests := []struct {
		name string
		req  *api.CreateCompanyRequest
		code connect.Code
	}{
		{
			name: "member cannot claim global scope",
			req:  &api.CreateCompanyRequest{Symbol: "INFY", PredictionType: "annual", ReportingYear: 2024, Global: true},
			code: connect.CodePermissionDenied,
		},
		{
			name: "quarterly requires a quarter",
			req:  &api.CreateCompanyRequest{Symbol: "INFY", PredictionType: "quarterly", ReportingYear: 2024},
			code: connect.CodeInvalidArgument,
		},
		{
			name: "malformed quarter",
			req:  &api.CreateCompanyRequest{Symbol: "INFY", PredictionType: "quarterly", ReportingYear: 2024, ReportingQuarter: "Q+2"},
			code: connect.CodeInvalidArgument,
		},
		{
			name: "missing symbol",
			req:  &api.CreateCompanyRequest{Symbol: " ", PredictionType: "annual", ReportingYear: 2024},
			code: connect.CodeInvalidArgument,
		},
		{
			name: "unknown prediction type",
			req:  &api.CreateCompanyRequest{Symbol: "INFY", PredictionType: "monthly", ReportingYear: 2024},
			code: connect.CodeInvalidArgument,
		},
		{
			name: "year out of range",
			req:  &api.CreateCompanyRequest{Symbol: "INFY", PredictionType: "annual", ReportingYear: 24},
			code: connect.CodeInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := member.CreateCompany(ctx, tt.req)
			require.Error(t, err)
			require.Equal(t, tt.code, connect.CodeOf(err))
		})
	}

	_, err := member.ListCompanies(ctx, &api.ListCompaniesRequest{})
	require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}
