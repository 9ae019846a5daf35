package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ApprovalStatus is the state of an approval request (native PostgreSQL TEXT).
// Transitions are monotonic: PENDING is the only state with outgoing edges;
// APPROVED, REJECTED and EXPIRED are terminal.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "PENDING"
	StatusApproved ApprovalStatus = "APPROVED"
	StatusRejected ApprovalStatus = "REJECTED"
	StatusExpired  ApprovalStatus = "EXPIRED"
)

// IsValid reports whether the ApprovalStatus value is valid.
func (s ApprovalStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether the status has no outgoing transitions.
func (s ApprovalStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// Scan implements sql.Scanner.
func (s *ApprovalStatus) Scan(src interface{}) error {
	var str string
	switch v := src.(type) {
	case string:
		str = v
	case []byte:
		str = string(v)
	default:
		return fmt.Errorf("cannot scan %T into ApprovalStatus", src)
	}

	*s = ApprovalStatus(str)
	if !s.IsValid() {
		return fmt.Errorf("invalid ApprovalStatus value: %s", str)
	}
	return nil
}

// Value implements driver.Valuer.
func (s ApprovalStatus) Value() (driver.Value, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid ApprovalStatus value: %s", string(s))
	}
	return string(s), nil
}

// WorkflowKind names an approval process with its own decider roles and
// expiration policy, declared in the workflow registry.
type WorkflowKind string

const (
	WorkflowOrgAdmission  WorkflowKind = "org_admission"
	WorkflowUserAdmission WorkflowKind = "user_admission"
	WorkflowPropertyEdit  WorkflowKind = "property_edit"
	WorkflowUnitEdit      WorkflowKind = "unit_edit"
)

// IsValid reports whether the WorkflowKind value is valid.
func (k WorkflowKind) IsValid() bool {
	switch k {
	case WorkflowOrgAdmission, WorkflowUserAdmission, WorkflowPropertyEdit, WorkflowUnitEdit:
		return true
	}
	return false
}

// Admission reports whether the kind admits a not-yet-existing actor or
// organization (no subject resource exists to revert on expiration).
func (k WorkflowKind) Admission() bool {
	return k == WorkflowOrgAdmission || k == WorkflowUserAdmission
}

// Scan implements sql.Scanner.
func (k *WorkflowKind) Scan(src interface{}) error {
	var str string
	switch v := src.(type) {
	case string:
		str = v
	case []byte:
		str = string(v)
	default:
		return fmt.Errorf("cannot scan %T into WorkflowKind", src)
	}

	*k = WorkflowKind(str)
	if !k.IsValid() {
		return fmt.Errorf("invalid WorkflowKind value: %s", str)
	}
	return nil
}

// Value implements driver.Valuer.
func (k WorkflowKind) Value() (driver.Value, error) {
	if !k.IsValid() {
		return nil, fmt.Errorf("invalid WorkflowKind value: %s", string(k))
	}
	return string(k), nil
}

// Outcome is a decider's verdict on a pending request.
type Outcome string

const (
	OutcomeApprove Outcome = "APPROVE"
	OutcomeReject  Outcome = "REJECT"
)

// IsValid reports whether the Outcome value is valid.
func (o Outcome) IsValid() bool {
	return o == OutcomeApprove || o == OutcomeReject
}

// Status returns the terminal status the outcome settles a request into.
func (o Outcome) Status() ApprovalStatus {
	if o == OutcomeApprove {
		return StatusApproved
	}
	return StatusRejected
}

// ApprovalRequest is a workflow instance. At most one may be PENDING at a
// time per (workflow_kind, subject_id) pair - enforced by a partial unique
// index, not by in-memory state. Terminal records are never deleted; they
// are retained for audit.
type ApprovalRequest struct {
	ID string `json:"id" db:"id"`
	// OrgID is the organization the subject belongs to; empty for org
	// admissions, which have no organization yet.
	OrgID       string       `json:"orgId,omitempty" db:"org_id"`
	Kind        WorkflowKind `json:"kind" db:"workflow_kind"`
	SubjectID   string       `json:"subjectId" db:"subject_id"`
	SubjectKind ContainerKind `json:"subjectKind" db:"subject_kind"`
	// SubjectContainerID positions the subject in the containment tree; the
	// decider's scope authority is checked against it. Empty means platform
	// root (org admissions).
	SubjectContainerID string `json:"subjectContainerId" db:"subject_container_id"`

	RequestedBy string    `json:"requestedBy" db:"requested_by"`
	RequestedAt time.Time `json:"requestedAt" db:"requested_at"`

	Status     ApprovalStatus `json:"status" db:"status"`
	DecidedBy  *string        `json:"decidedBy,omitempty" db:"decided_by"`
	DecidedAt  *time.Time     `json:"decidedAt,omitempty" db:"decided_at"`
	DecisionNote *string      `json:"decisionNote,omitempty" db:"decision_note"`
	ExpiresAt  time.Time      `json:"expiresAt" db:"expires_at"`

	// Snapshot is the pre-change state captured at initiation, replayed over
	// the subject resource when a REVERT workflow expires. The engine never
	// interprets it.
	Snapshot json.RawMessage `json:"snapshot,omitempty" db:"snapshot"`

	// Payload carries kind-specific initiation data (e.g. the invited email
	// and role for admissions), consumed by the approval completion hook.
	Payload json.RawMessage `json:"payload,omitempty" db:"payload"`
}

// SubjectRef returns the containment-tree position the decider must have
// scope authority over.
func (r ApprovalRequest) SubjectRef() ScopeRef {
	return ScopeRef{Kind: r.SubjectKind, ID: r.SubjectContainerID}
}

// InitiateWorkflowRequest opens a new approval workflow for a subject.
type InitiateWorkflowRequest struct {
	Kind               WorkflowKind    `json:"kind" validate:"required"`
	SubjectID          string          `json:"subjectId" validate:"required"`
	SubjectKind        ContainerKind   `json:"subjectKind" validate:"omitempty,oneof=organization property unit"`
	SubjectContainerID string          `json:"subjectContainerId"`
	Snapshot           json.RawMessage `json:"snapshot,omitempty"`
	Payload            json.RawMessage `json:"payload,omitempty"`
}

// Validate sanitizes and validates the InitiateWorkflowRequest.
func (r *InitiateWorkflowRequest) Validate() error {
	r.SubjectID = strings.TrimSpace(r.SubjectID)

	validate := validator.New()
	return validate.Struct(r)
}

// DecideWorkflowRequest settles a pending request.
type DecideWorkflowRequest struct {
	Outcome Outcome `json:"outcome" validate:"required,oneof=APPROVE REJECT"`
	Note    string  `json:"note" validate:"max=2000"`
}

// Validate sanitizes and validates the DecideWorkflowRequest.
func (r *DecideWorkflowRequest) Validate() error {
	r.Note = strings.TrimSpace(r.Note)

	validate := validator.New()
	return validate.Struct(r)
}

// ListApprovalsParams filters the approval listing for an organization.
type ListApprovalsParams struct {
	OrgID  string
	Kind   *WorkflowKind
	Status *ApprovalStatus

	Limit  int
	Cursor *string // RFC3339 requested_at cursor
}

// Normalize applies listing defaults.
func (p *ListApprovalsParams) Normalize() {
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 50
	}
	if p.Cursor != nil {
		c := strings.TrimSpace(*p.Cursor)
		if c == "" {
			p.Cursor = nil
		} else {
			p.Cursor = &c
		}
	}
}

// ApprovalListResponse is the paginated approval listing.
type ApprovalListResponse struct {
	Data []ApprovalRequest `json:"data"`
	Meta struct {
		HasNextPage bool    `json:"hasNextPage"`
		NextCursor  *string `json:"nextCursor,omitempty"`
	} `json:"meta"`
}

// AdmissionPayload is the kind-specific payload of admission workflows,
// consumed by the approval completion hook to instantiate the actor.
type AdmissionPayload struct {
	Email   string `json:"email"`
	Role    Role   `json:"role"`
	OrgID   string `json:"orgId,omitempty"`
	OrgName string `json:"orgName,omitempty"`
}
