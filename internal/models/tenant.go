package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Role is the tenancy tier of an acting principal.
type Role string

const (
	RoleSuperAdmin   Role = "super_admin"   // platform operator, sees and manages everything
	RoleOrgMember    Role = "org_member"    // member of exactly one organization
	RolePersonalUser Role = "personal_user" // individual account, optionally attached to an organization
)

var ErrInvalidTenant = errors.New("invalid tenant context")

// ParseRole converts a wire value into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidTenant, s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleOrgMember, RolePersonalUser:
		return true
	}
	return false
}

// TenantContext identifies who is acting and under which organization.
// It is captured once per request (or per job at submission time) and passed
// explicitly to every resolver, executor and access check.
type TenantContext struct {
	ActorID        uuid.UUID  `json:"actor_id"`
	Role           Role       `json:"role"`
	OrganizationID *uuid.UUID `json:"organization_id,omitempty"`
}

// Validate checks the context is internally consistent.
func (t TenantContext) Validate() error {
	if t.ActorID == uuid.Nil {
		return fmt.Errorf("%w: actor id is required", ErrInvalidTenant)
	}
	if !t.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidTenant, t.Role)
	}
	if t.Role == RoleOrgMember && t.OrganizationID == nil {
		return fmt.Errorf("%w: organization member without organization", ErrInvalidTenant)
	}
	return nil
}

func (t TenantContext) IsSuperAdmin() bool {
	return t.Role == RoleSuperAdmin
}

// InOrganization reports whether the actor belongs to orgID. A nil orgID never matches.
func (t TenantContext) InOrganization(orgID *uuid.UUID) bool {
	return t.OrganizationID != nil && orgID != nil && *t.OrganizationID == *orgID
}

// OrgString renders the organization for logging, "-" when unset.
func (t TenantContext) OrgString() string {
	if t.OrganizationID == nil {
		return "-"
	}
	return t.OrganizationID.String()
}
