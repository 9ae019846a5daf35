package domain

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ContainerKind identifies a level of the containment tree.
// The tree is strict: Organization -> Property -> Unit.
type ContainerKind string

const (
	ContainerOrganization ContainerKind = "organization"
	ContainerProperty     ContainerKind = "property"
	ContainerUnit         ContainerKind = "unit"
)

// IsValid reports whether the ContainerKind value is valid.
func (k ContainerKind) IsValid() bool {
	switch k {
	case ContainerOrganization, ContainerProperty, ContainerUnit:
		return true
	}
	return false
}

// Depth returns the level of the kind in the containment tree, root first.
func (k ContainerKind) Depth() int {
	switch k {
	case ContainerOrganization:
		return 0
	case ContainerProperty:
		return 1
	case ContainerUnit:
		return 2
	}
	return -1
}

// ChildKind returns the kind nested directly under k, or "" for leaves.
func (k ContainerKind) ChildKind() ContainerKind {
	switch k {
	case ContainerOrganization:
		return ContainerProperty
	case ContainerProperty:
		return ContainerUnit
	}
	return ""
}

// Scan implements sql.Scanner.
func (k *ContainerKind) Scan(src interface{}) error {
	var str string
	switch v := src.(type) {
	case string:
		str = v
	case []byte:
		str = string(v)
	default:
		return fmt.Errorf("cannot scan %T into ContainerKind", src)
	}

	*k = ContainerKind(str)
	if !k.IsValid() {
		return fmt.Errorf("invalid ContainerKind value: %s", str)
	}
	return nil
}

// Value implements driver.Valuer.
func (k ContainerKind) Value() (driver.Value, error) {
	if !k.IsValid() {
		return nil, fmt.Errorf("invalid ContainerKind value: %s", string(k))
	}
	return string(k), nil
}

// Container is a node of the containment tree. The organization level has a
// NULL parent; properties hang off organizations, units off properties.
type Container struct {
	ID        string        `json:"id" db:"id"`
	Kind      ContainerKind `json:"kind" db:"kind"`
	ParentID  *string       `json:"parentId,omitempty" db:"parent_id"`
	Name      string        `json:"name" db:"name"`
	CreatedAt time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time     `json:"updatedAt" db:"updated_at"`
}

// ScopeRef addresses a position in the containment tree: the target of a
// permission check or the container a scope grant attaches to. The zero
// value refers to the tree root (platform level), which only platform_admin
// implicitly matches.
type ScopeRef struct {
	Kind ContainerKind `json:"kind"`
	ID   string        `json:"id"`
}

// IsRoot reports whether the reference addresses the platform root.
func (s ScopeRef) IsRoot() bool {
	return s.ID == ""
}

// CreateContainerRequest creates a new node in the containment tree.
// ParentID is required for every kind except organization.
type CreateContainerRequest struct {
	Kind     ContainerKind `json:"kind" validate:"required,oneof=organization property unit"`
	ParentID *string       `json:"parentId,omitempty"`
	Name     string        `json:"name" validate:"required,min=1,max=200"`
}

// Validate sanitizes and validates the CreateContainerRequest.
func (r *CreateContainerRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)

	validate := validator.New()
	return validate.Struct(r)
}

// RenameContainerRequest proposes a new name for a container. Organizations
// rename directly; properties and units go through an edit-approval workflow.
type RenameContainerRequest struct {
	Name string `json:"name" validate:"required,min=1,max=200"`
}

// Validate sanitizes and validates the RenameContainerRequest.
func (r *RenameContainerRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)

	validate := validator.New()
	return validate.Struct(r)
}
