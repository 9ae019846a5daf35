package domain

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Role is an actor's primary role (native PostgreSQL TEXT, validated in Go).
// Roles gate who may decide a workflow; they never imply resource access by
// themselves - resource access always goes through the permission matrix
// plus a scope match.
type Role string

const (
	RolePlatformAdmin Role = "platform_admin"
	RoleOrgAdmin      Role = "org_admin"
	RoleOrgManager    Role = "org_manager"
	RoleResourceOwner Role = "resource_owner"
	RoleResident      Role = "resident"
	RoleVendor        Role = "vendor"
)

// IsValid reports whether the Role value is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RolePlatformAdmin, RoleOrgAdmin, RoleOrgManager, RoleResourceOwner, RoleResident, RoleVendor:
		return true
	}
	return false
}

// Rank returns the authority rank of the role. Higher outranks lower.
// Used only for "who may re-grant whose role" checks, never for resource
// access decisions.
func (r Role) Rank() int {
	switch r {
	case RolePlatformAdmin:
		return 5
	case RoleOrgAdmin:
		return 4
	case RoleOrgManager:
		return 3
	case RoleResourceOwner:
		return 2
	case RoleResident, RoleVendor:
		return 1
	}
	return 0
}

// Outranks reports whether r has strictly higher authority than other.
func (r Role) Outranks(other Role) bool {
	return r.Rank() > other.Rank()
}

// Scan implements sql.Scanner.
func (r *Role) Scan(src interface{}) error {
	var str string
	switch v := src.(type) {
	case string:
		str = v
	case []byte:
		str = string(v)
	default:
		return fmt.Errorf("cannot scan %T into Role", src)
	}

	*r = Role(str)
	if !r.IsValid() {
		return fmt.Errorf("invalid Role value: %s", str)
	}
	return nil
}

// Value implements driver.Valuer.
func (r Role) Value() (driver.Value, error) {
	if !r.IsValid() {
		return nil, fmt.Errorf("invalid Role value: %s", string(r))
	}
	return string(r), nil
}

// ActorStatus tracks whether an actor may act at all.
type ActorStatus string

const (
	ActorStatusActive   ActorStatus = "active"
	ActorStatusDisabled ActorStatus = "disabled"
)

// IsValid reports whether the ActorStatus value is valid.
func (s ActorStatus) IsValid() bool {
	switch s {
	case ActorStatusActive, ActorStatusDisabled:
		return true
	}
	return false
}

// Actor is an authenticated identity with exactly one primary role.
// Actors are created by the approval engine when an admission workflow is
// approved; the role is immutable afterwards except via an explicit re-grant
// by a higher-authority actor.
type Actor struct {
	ID        string      `json:"id" db:"id"`
	OrgID     string      `json:"orgId" db:"org_id"`
	Email     string      `json:"email" db:"email"`
	Role      Role        `json:"role" db:"role"`
	Status    ActorStatus `json:"status" db:"status"`
	CreatedAt time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time   `json:"updatedAt" db:"updated_at"`
}

// RegrantRoleRequest changes an actor's primary role. Restricted to actors
// that outrank both the subject's current role and the requested role.
type RegrantRoleRequest struct {
	Role Role `json:"role" validate:"required"`
}

// Validate validates the RegrantRoleRequest.
func (r *RegrantRoleRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// SetActorStatusRequest flips an actor between active and disabled.
type SetActorStatusRequest struct {
	Status ActorStatus `json:"status" validate:"required,oneof=active disabled"`
}

// Validate validates the SetActorStatusRequest.
func (r *SetActorStatusRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}
