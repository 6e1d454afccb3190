package auth

import (
	"errors"
	"fmt"

	"github.com/wolfeidau/riskrunner/internal/models"
)

// Action is an operation on a prediction record.
type Action string

const (
	ActionRead   Action = "read"
	ActionModify Action = "modify"
	ActionDelete Action = "delete"
)

// Grant names the path that allowed an action.
type Grant string

const (
	GrantNone         Grant = ""
	GrantSuperAdmin   Grant = "super_admin"
	GrantCreator      Grant = "creator"
	GrantOrganization Grant = "organization_member"
)

// ErrPermissionDenied is wrapped by every PermissionDeniedError.
var ErrPermissionDenied = errors.New("permission denied")

// PermissionDeniedError reports which action was refused and why.
type PermissionDeniedError struct {
	Action Action
	Reason string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: cannot %s: %s", e.Action, e.Reason)
}

func (e *PermissionDeniedError) Unwrap() error {
	return ErrPermissionDenied
}

// Policy tunes the evaluator.
type Policy struct {
	// CreatorRequiresMembership drops the creator path for organization
	// records once the creator has left the record's organization.
	CreatorRequiresMembership bool `help:"Revoke creator access to organization records after the creator leaves the organization." default:"false" env:"CREATOR_REQUIRES_MEMBERSHIP"`
}

// Evaluator decides prediction-level access.
type Evaluator struct {
	policy Policy
}

func NewEvaluator(policy Policy) *Evaluator {
	return &Evaluator{policy: policy}
}

// Decide returns the first path that grants action on p to actor, and a
// reason when none does.
func (e *Evaluator) Decide(actor models.TenantContext, action Action, p *models.Prediction) (Grant, string) {
	if p == nil {
		return GrantNone, "no such record"
	}

	if actor.IsSuperAdmin() {
		return GrantSuperAdmin, ""
	}

	if p.AccessLevel == models.AccessSystem {
		return GrantNone, "system records are managed by super admins only"
	}

	if actor.ActorID == p.CreatedBy && e.creatorRetainsAccess(actor, p) {
		return GrantCreator, ""
	}

	if p.AccessLevel == models.AccessOrganization && actor.InOrganization(p.OrganizationID) {
		if action == ActionDelete {
			return GrantNone, "organization records can only be deleted by their creator or a super admin"
		}
		return GrantOrganization, ""
	}

	return GrantNone, "record belongs to another owner"
}

func (e *Evaluator) creatorRetainsAccess(actor models.TenantContext, p *models.Prediction) bool {
	if !e.policy.CreatorRequiresMembership || p.AccessLevel != models.AccessOrganization {
		return true
	}
	return actor.InOrganization(p.OrganizationID)
}

// Can reports whether actor may perform action on p.
func (e *Evaluator) Can(actor models.TenantContext, action Action, p *models.Prediction) bool {
	grant, _ := e.Decide(actor, action, p)
	return grant != GrantNone
}

// Check is Can returning a *PermissionDeniedError on refusal.
func (e *Evaluator) Check(actor models.TenantContext, action Action, p *models.Prediction) error {
	grant, reason := e.Decide(actor, action, p)
	if grant == GrantNone {
		return &PermissionDeniedError{Action: action, Reason: reason}
	}
	return nil
}

// CheckJob applies the job ownership rule: owners and super admins may do
// anything, members of the job's organization may read.
func CheckJob(actor models.TenantContext, action Action, job *models.BulkJob) error {
	switch {
	case actor.IsSuperAdmin():
		return nil
	case actor.ActorID == job.OwnerID:
		return nil
	case action == ActionRead && actor.Role == models.RoleOrgMember && actor.InOrganization(job.Tenant.OrganizationID):
		return nil
	}
	return &PermissionDeniedError{Action: action, Reason: "job belongs to another owner"}
}
