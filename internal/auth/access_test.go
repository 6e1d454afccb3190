package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/riskrunner/internal/models"
)

func TestEvaluatorCan(t *testing.T) {
	orgA := uuid.Must(uuid.NewV7())
	orgB := uuid.Must(uuid.NewV7())
	creator := uuid.Must(uuid.NewV7())

	admin := models.TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: models.RoleSuperAdmin}
	owner := models.TenantContext{ActorID: creator, Role: models.RoleOrgMember, OrganizationID: &orgA}
	colleague := models.TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: models.RoleOrgMember, OrganizationID: &orgA}
	outsider := models.TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: models.RoleOrgMember, OrganizationID: &orgB}
	departed := models.TenantContext{ActorID: creator, Role: models.RolePersonalUser}

	orgRecord := &models.Prediction{AccessLevel: models.AccessOrganization, OrganizationID: &orgA, CreatedBy: creator}
	systemRecord := &models.Prediction{AccessLevel: models.AccessSystem, CreatedBy: creator}
	personalRecord := &models.Prediction{AccessLevel: models.AccessPersonal, CreatedBy: creator}

	tests := []struct {
		name   string
		actor  models.TenantContext
		action Action
		record *models.Prediction
		want   Grant
	}{
		{"super admin deletes organization record", admin, ActionDelete, orgRecord, GrantSuperAdmin},
		{"super admin modifies system record", admin, ActionModify, systemRecord, GrantSuperAdmin},
		{"creator deletes own organization record", owner, ActionDelete, orgRecord, GrantCreator},
		{"colleague reads organization record", colleague, ActionRead, orgRecord, GrantOrganization},
		{"colleague modifies organization record", colleague, ActionModify, orgRecord, GrantOrganization},
		{"colleague cannot delete organization record", colleague, ActionDelete, orgRecord, GrantNone},
		{"outsider cannot read organization record", outsider, ActionRead, orgRecord, GrantNone},
		{"creator cannot modify system record", owner, ActionModify, systemRecord, GrantNone},
		{"colleague cannot read personal record", colleague, ActionRead, personalRecord, GrantNone},
		{"creator keeps personal record", owner, ActionDelete, personalRecord, GrantCreator},
		{"departed creator keeps organization record by default", departed, ActionModify, orgRecord, GrantCreator},
		{"nil record", admin, ActionRead, nil, GrantNone},
	}

	e := NewEvaluator(Policy{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grant, _ := e.Decide(tt.actor, tt.action, tt.record)
			require.Equal(t, tt.want, grant)
			require.Equal(t, tt.want != GrantNone, e.Can(tt.actor, tt.action, tt.record))

			err := e.Check(tt.actor, tt.action, tt.record)
			if tt.want == GrantNone {
				require.ErrorIs(t, err, ErrPermissionDenied)
				var denied *PermissionDeniedError
				require.ErrorAs(t, err, &denied)
				require.Equal(t, tt.action, denied.Action)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestEvaluatorCreatorRequiresMembership(t *testing.T) {
	orgA := uuid.Must(uuid.NewV7())
	creator := uuid.Must(uuid.NewV7())
	departed := models.TenantContext{ActorID: creator, Role: models.RolePersonalUser}
	member := models.TenantContext{ActorID: creator, Role: models.RoleOrgMember, OrganizationID: &orgA}

	orgRecord := &models.Prediction{AccessLevel: models.AccessOrganization, OrganizationID: &orgA, CreatedBy: creator}
	personalRecord := &models.Prediction{AccessLevel: models.AccessPersonal, CreatedBy: creator}

	e := NewEvaluator(Policy{CreatorRequiresMembership: true})
	require.False(t, e.Can(departed, ActionModify, orgRecord))
	require.True(t, e.Can(member, ActionDelete, orgRecord))
	require.True(t, e.Can(departed, ActionDelete, personalRecord))
}

func TestCheckJob(t *testing.T) {
	org := uuid.Must(uuid.NewV7())
	owner := models.TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: models.RoleOrgMember, OrganizationID: &org}
	colleague := models.TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: models.RoleOrgMember, OrganizationID: &org}
	stranger := models.TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: models.RolePersonalUser}
	admin := models.TenantContext{ActorID: uuid.Must(uuid.NewV7()), Role: models.RoleSuperAdmin}

	job := &models.BulkJob{OwnerID: owner.ActorID, Tenant: owner}

	require.NoError(t, CheckJob(owner, ActionDelete, job))
	require.NoError(t, CheckJob(admin, ActionDelete, job))
	require.NoError(t, CheckJob(colleague, ActionRead, job))
	require.ErrorIs(t, CheckJob(colleague, ActionModify, job), ErrPermissionDenied)
	require.ErrorIs(t, CheckJob(stranger, ActionRead, job), ErrPermissionDenied)
}
