package auth

import (
	"context"
	"fmt"
	"slices"

	"connectrpc.com/connect"
	"github.com/wolfeidau/riskrunner/internal/models"
)

// Permission represents an authorized RPC
type Permission string

const (
	PermJobsSubmit  Permission = "jobs:submit"
	PermJobsRead    Permission = "jobs:read"
	PermJobsList    Permission = "jobs:list"
	PermJobsCancel  Permission = "jobs:cancel"
	PermJobsDelete  Permission = "jobs:delete"
	PermJobsPurge   Permission = "jobs:purge"
	PermAccessCheck Permission = "access:check"

	PermCompaniesRead  Permission = "companies:read"
	PermCompaniesWrite Permission = "companies:write"
)

// RolePermissions maps tenant roles to allowed permissions
var RolePermissions = map[models.Role][]Permission{
	models.RoleSuperAdmin: {
		PermJobsSubmit,
		PermJobsRead,
		PermJobsList,
		PermJobsCancel,
		PermJobsDelete,
		PermJobsPurge,
		PermAccessCheck,
		PermCompaniesRead,
		PermCompaniesWrite,
	},
	models.RoleOrgMember: {
		PermJobsSubmit,
		PermJobsRead,
		PermJobsList,
		PermJobsCancel,
		PermJobsDelete,
		PermAccessCheck,
		PermCompaniesRead,
		PermCompaniesWrite,
	},
	models.RolePersonalUser: {
		PermJobsSubmit,
		PermJobsRead,
		PermJobsList,
		PermJobsCancel,
		PermJobsDelete,
		PermAccessCheck,
		PermCompaniesRead,
		PermCompaniesWrite,
	},
}

// HasPermission checks if a role has a specific permission
func HasPermission(role models.Role, perm Permission) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	return slices.Contains(perms, perm)
}

// RequirePermission checks authorization and returns the caller's tenant context
func RequirePermission(ctx context.Context, perm Permission) (models.TenantContext, error) {
	tenant, ok := TenantFromContext(ctx)
	if !ok {
		return models.TenantContext{}, connect.NewError(connect.CodeUnauthenticated, fmt.Errorf("not authenticated"))
	}

	if !HasPermission(tenant.Role, perm) {
		return models.TenantContext{}, connect.NewError(
			connect.CodePermissionDenied,
			fmt.Errorf("permission denied: %s requires %s", tenant.Role, perm),
		)
	}

	return tenant, nil
}
