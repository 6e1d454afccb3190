package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestJobStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		allowed  bool
	}{
		{JobStatusPending, JobStatusQueued, true},
		{JobStatusQueued, JobStatusProcessing, true},
		{JobStatusProcessing, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusProcessing, JobStatusCancelled, true},
		{JobStatusQueued, JobStatusCancelled, true},
		{JobStatusPending, JobStatusProcessing, false},
		{JobStatusQueued, JobStatusCompleted, false},
		{JobStatusCompleted, JobStatusProcessing, false},
		{JobStatusCancelled, JobStatusQueued, false},
		{JobStatusProcessing, JobStatusQueued, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			require.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestBulkJobCheckCounts(t *testing.T) {
	job := &BulkJob{TotalRows: 3, ProcessedRows: 2, SuccessCount: 1, FailureCount: 1}
	require.NoError(t, job.CheckCounts())

	job.ProcessedRows = 4
	require.Error(t, job.CheckCounts())

	job.ProcessedRows = 2
	job.FailureCount = 0
	require.Error(t, job.CheckCounts())
}

func TestBulkJobCloneIsDeep(t *testing.T) {
	org := uuid.Must(uuid.NewV7())
	job := &BulkJob{
		Tenant: TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: RoleOrgMember, OrganizationID: &org},
		Errors: []RowRejection{{RowIndex: 1, Reason: "bad"}},
	}

	clone := job.Clone()
	clone.Errors[0].Reason = "changed"
	*clone.Tenant.OrganizationID = uuid.Nil

	require.Equal(t, "bad", job.Errors[0].Reason)
	require.Equal(t, org, *job.Tenant.OrganizationID)
}

func TestPredictionValidate(t *testing.T) {
	org := uuid.Must(uuid.NewV7())
	creator := uuid.Must(uuid.NewV7())
	ratios := AnnualRatios{LongTermDebtToTotalCapital: 0.4}

	t.Run("system prediction requires super admin without organization", func(t *testing.T) {
		p := &Prediction{Type: PredictionAnnual, AccessLevel: AccessSystem, CreatedBy: creator, Ratios: ratios}
		require.NoError(t, p.Validate(RoleSuperAdmin))
		require.ErrorIs(t, p.Validate(RoleOrgMember), ErrInvalidPrediction)

		p.OrganizationID = &org
		require.ErrorIs(t, p.Validate(RoleSuperAdmin), ErrInvalidPrediction)
	})

	t.Run("organization prediction requires organization", func(t *testing.T) {
		p := &Prediction{Type: PredictionAnnual, AccessLevel: AccessOrganization, CreatedBy: creator, Ratios: ratios}
		require.ErrorIs(t, p.Validate(RoleOrgMember), ErrInvalidPrediction)
		p.OrganizationID = &org
		require.NoError(t, p.Validate(RoleOrgMember))
	})

	t.Run("ratio variant must match type", func(t *testing.T) {
		p := &Prediction{Type: PredictionQuarterly, AccessLevel: AccessPersonal, CreatedBy: creator, Ratios: ratios}
		require.ErrorIs(t, p.Validate(RolePersonalUser), ErrInvalidPrediction)
	})
}

func TestRatiosRoundTripThroughValues(t *testing.T) {
	in := QuarterlyRatios{TotalDebtToEBITDA: 2.5, SGAMargin: 0.2, LongTermDebtToTotalCapital: 0.3, ReturnOnCapital: 0.11}
	out, err := RatiosFromValues(PredictionQuarterly, in.Values())
	require.NoError(t, err)
	require.Equal(t, in, out)

	_, err = RatiosFromValues(PredictionAnnual, in.Values())
	require.Error(t, err)
}

func TestScopeKeysNeverCollide(t *testing.T) {
	orgA := uuid.Must(uuid.NewV7())
	orgB := uuid.Must(uuid.NewV7())
	period := ReportingPeriod{Year: 2024}

	keys := map[string]bool{}
	for _, s := range []Scope{GlobalScope(), OrganizationScope(orgA), OrganizationScope(orgB), {}} {
		c := &Company{Symbol: "hdfc", Scope: s, PredictionType: PredictionAnnual, ReportingPeriod: period}
		keys[c.Key()] = true
	}
	require.Len(t, keys, 4)
}

func TestAccessLevelFor(t *testing.T) {
	org := uuid.Must(uuid.NewV7())
	actor := uuid.Must(uuid.NewV7())

	require.Equal(t, AccessSystem, AccessLevelFor(TenantContext{ActorID: actor, Role: RoleSuperAdmin}))
	require.Equal(t, AccessOrganization, AccessLevelFor(TenantContext{ActorID: actor, Role: RoleSuperAdmin, OrganizationID: &org}))
	require.Equal(t, AccessOrganization, AccessLevelFor(TenantContext{ActorID: actor, Role: RoleOrgMember, OrganizationID: &org}))
	require.Equal(t, AccessPersonal, AccessLevelFor(TenantContext{ActorID: actor, Role: RolePersonalUser, OrganizationID: &org}))
	require.Equal(t, AccessPersonal, AccessLevelFor(TenantContext{ActorID: actor, Role: RolePersonalUser}))
}
