package workflow

import (
	"fmt"
	"time"

	"gatehouse-api/internal/domain"
)

// ExpirationPolicy is what happens to the subject resource when a pending
// request passes its deadline undecided.
type ExpirationPolicy string

const (
	// ExpireForfeit marks the request EXPIRED and leaves everything else
	// untouched. Used for admissions, where no subject resource exists yet.
	ExpireForfeit ExpirationPolicy = "FORFEIT"

	// ExpireRevert replays the initiation snapshot over the subject resource
	// before marking the request EXPIRED. Used for edit approvals.
	ExpireRevert ExpirationPolicy = "REVERT"
)

// Policy declares how one workflow kind behaves: who may decide, how long a
// request stays decidable, and what expiration does to the subject. This is
// the single place workflow policy lives; the engine never hard-codes
// durations or role checks.
type Policy struct {
	Kind         domain.WorkflowKind
	DeciderRoles []domain.Role
	Expiration   time.Duration
	OnExpire     ExpirationPolicy

	// Category and DecideAction are the matrix cell a decider must hold in
	// addition to being listed in DeciderRoles. Role membership is necessary
	// but not sufficient; the decider's scope must also cover the subject.
	Category     domain.ResourceCategory
	DecideAction domain.Action

	// SubjectKind positions the subject in the containment tree.
	SubjectKind domain.ContainerKind
}

// AllowsDecider reports whether the role is listed as a decider.
func (p Policy) AllowsDecider(role domain.Role) bool {
	for _, r := range p.DeciderRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Registry is the read-only workflow policy table, loaded once at start-up.
type Registry struct {
	policies map[domain.WorkflowKind]Policy
}

// DefaultRegistry returns the shipped workflow table.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Policy{
			Kind:         domain.WorkflowOrgAdmission,
			DeciderRoles: []domain.Role{domain.RolePlatformAdmin},
			Expiration:   7 * 24 * time.Hour,
			OnExpire:     ExpireForfeit,
			Category:     domain.CategoryOrganization,
			DecideAction: domain.ActionDecideAdmission,
			SubjectKind:  domain.ContainerOrganization,
		},
		Policy{
			Kind:         domain.WorkflowUserAdmission,
			DeciderRoles: []domain.Role{domain.RolePlatformAdmin, domain.RoleOrgAdmin},
			Expiration:   7 * 24 * time.Hour,
			OnExpire:     ExpireForfeit,
			Category:     domain.CategoryActor,
			DecideAction: domain.ActionDecideAdmission,
			SubjectKind:  domain.ContainerOrganization,
		},
		Policy{
			Kind:         domain.WorkflowPropertyEdit,
			DeciderRoles: []domain.Role{domain.RolePlatformAdmin, domain.RoleOrgAdmin, domain.RoleOrgManager},
			Expiration:   72 * time.Hour,
			OnExpire:     ExpireRevert,
			Category:     domain.CategoryProperty,
			DecideAction: domain.ActionApproveEdit,
			SubjectKind:  domain.ContainerProperty,
		},
		Policy{
			Kind:         domain.WorkflowUnitEdit,
			DeciderRoles: []domain.Role{domain.RolePlatformAdmin, domain.RoleOrgAdmin, domain.RoleOrgManager, domain.RoleResourceOwner},
			Expiration:   72 * time.Hour,
			OnExpire:     ExpireRevert,
			Category:     domain.CategoryUnit,
			DecideAction: domain.ActionApproveEdit,
			SubjectKind:  domain.ContainerUnit,
		},
	)
}

// NewRegistry builds a registry from explicit policies. Exposed for tests
// that need short expirations.
func NewRegistry(policies ...Policy) *Registry {
	r := &Registry{policies: make(map[domain.WorkflowKind]Policy, len(policies))}
	for _, p := range policies {
		r.policies[p.Kind] = p
	}
	return r
}

// Get returns the policy for a workflow kind.
func (r *Registry) Get(kind domain.WorkflowKind) (Policy, error) {
	p, ok := r.policies[kind]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %s", ErrUnknownWorkflow, kind)
	}
	return p, nil
}
