package domain

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ResourceCategory is the "what kind of thing" axis of the permission matrix.
type ResourceCategory string

const (
	CategoryOrganization ResourceCategory = "ORGANIZATION"
	CategoryProperty     ResourceCategory = "PROPERTY"
	CategoryUnit         ResourceCategory = "UNIT"
	CategoryLease        ResourceCategory = "LEASE"
	CategoryMaintenance  ResourceCategory = "MAINTENANCE"
	CategoryActor        ResourceCategory = "ACTOR"
	CategoryScope        ResourceCategory = "SCOPE"
	CategoryInvitation   ResourceCategory = "INVITATION"
	CategoryAudit        ResourceCategory = "AUDIT"
)

// IsValid reports whether the ResourceCategory value is valid.
func (c ResourceCategory) IsValid() bool {
	switch c {
	case CategoryOrganization, CategoryProperty, CategoryUnit, CategoryLease,
		CategoryMaintenance, CategoryActor, CategoryScope, CategoryInvitation, CategoryAudit:
		return true
	}
	return false
}

// Action is the "what operation" axis of the permission matrix.
type Action string

const (
	ActionView            Action = "VIEW"
	ActionCreate          Action = "CREATE"
	ActionEdit            Action = "EDIT"
	ActionDelete          Action = "DELETE"
	ActionApproveEdit     Action = "APPROVE_EDIT"
	ActionDecideAdmission Action = "DECIDE_ADMISSION"
	ActionGrantScope      Action = "GRANT_SCOPE"
	ActionInvite          Action = "INVITE"
	ActionQueryAudit      Action = "QUERY_AUDIT"
	ActionSeedMatrix      Action = "SEED_MATRIX"
)

// IsValid reports whether the Action value is valid.
func (a Action) IsValid() bool {
	switch a {
	case ActionView, ActionCreate, ActionEdit, ActionDelete, ActionApproveEdit,
		ActionDecideAdmission, ActionGrantScope, ActionInvite, ActionQueryAudit, ActionSeedMatrix:
		return true
	}
	return false
}

// Scan implements sql.Scanner.
func (a *Action) Scan(src interface{}) error {
	var str string
	switch v := src.(type) {
	case string:
		str = v
	case []byte:
		str = string(v)
	default:
		return fmt.Errorf("cannot scan %T into Action", src)
	}
	*a = Action(str)
	return nil
}

// Value implements driver.Valuer.
func (a Action) Value() (driver.Value, error) {
	return string(a), nil
}

// Scope grants an actor authority over a container and everything nested
// under it. Scopes are additive; there is no deny-scope. A scope row must
// reference an existing container (enforced with ON DELETE CASCADE, so
// deleting a container never leaves dangling scopes behind).
type Scope struct {
	ID            string        `json:"id" db:"id"`
	ActorID       string        `json:"actorId" db:"actor_id"`
	ContainerKind ContainerKind `json:"containerKind" db:"container_kind"`
	ContainerID   string        `json:"containerId" db:"container_id"`
	GrantedBy     string        `json:"grantedBy" db:"granted_by"`
	CreatedAt     time.Time     `json:"createdAt" db:"created_at"`
}

// Ref returns the container position this scope attaches to.
func (s Scope) Ref() ScopeRef {
	return ScopeRef{Kind: s.ContainerKind, ID: s.ContainerID}
}

// Decision is the outcome of a permission resolution.
// MatchedScope is the most specific matching scope (closest to the target in
// the containment tree); it is carried for audit detail only and drives no
// further logic. Reason is set on denials: role_denied, out_of_scope,
// invalid_scope.
type Decision struct {
	Allowed      bool   `json:"allowed"`
	MatchedScope *Scope `json:"matchedScope,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Denial reasons. A role-level denial is never overridden by scopes; a
// malformed target fails closed.
const (
	ReasonRoleDenied   = "role_denied"
	ReasonOutOfScope   = "out_of_scope"
	ReasonInvalidScope = "invalid_scope"
)

// CheckPermissionRequest is the read-path permission query.
type CheckPermissionRequest struct {
	Action   Action           `json:"action" validate:"required"`
	Category ResourceCategory `json:"category" validate:"required"`
	Target   ScopeRef         `json:"target"`
}

// GrantScopeRequest grants an actor authority over a container subtree.
// Grant-of-scope is itself a privileged action: it runs through the resolver
// (category SCOPE, action GRANT_SCOPE against the target container) and is
// audited.
type GrantScopeRequest struct {
	ActorID       string        `json:"actorId" validate:"required"`
	ContainerKind ContainerKind `json:"containerKind" validate:"required,oneof=organization property unit"`
	ContainerID   string        `json:"containerId" validate:"required"`
}

// Validate validates the GrantScopeRequest.
func (r *GrantScopeRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}
