package domain

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// InvitationToken bootstraps a workflow for someone who has no account yet.
// The token string itself is a crypto-random bearer secret; only its SHA-256
// hash is persisted, and the plaintext is returned exactly once at issue
// time. A token may be consumed at most once; consumption is atomic with the
// initiation of the resulting approval request.
type InvitationToken struct {
	ID          string       `json:"id" db:"id"`
	TokenHash   string       `json:"-" db:"token_hash"`
	Kind        WorkflowKind `json:"kind" db:"workflow_kind"`
	TargetEmail string       `json:"targetEmail" db:"target_email"`
	// Role the invitee is admitted with when the admission is approved.
	Role   Role   `json:"role" db:"role"`
	OrgID  string `json:"orgId" db:"org_id"`
	IssuerID string `json:"issuerId" db:"issuer_id"`

	IssuedAt   time.Time  `json:"issuedAt" db:"issued_at"`
	ExpiresAt  time.Time  `json:"expiresAt" db:"expires_at"`
	ConsumedAt *time.Time `json:"consumedAt,omitempty" db:"consumed_at"`
}

// Consumed reports whether the token has already been used.
func (t InvitationToken) Consumed() bool {
	return t.ConsumedAt != nil
}

// InvitationPayload is what a successful consume hands back to the caller:
// everything needed to initiate the admission workflow.
type InvitationPayload struct {
	Kind        WorkflowKind `json:"kind"`
	TargetEmail string       `json:"targetEmail"`
	Role        Role         `json:"role"`
	OrgID       string       `json:"orgId"`
	IssuerID    string       `json:"issuerId"`
}

// IssueInvitationRequest issues a new admission invitation.
type IssueInvitationRequest struct {
	Kind  WorkflowKind `json:"kind" validate:"required,oneof=org_admission user_admission"`
	Email string       `json:"email" validate:"required,email"`
	Role  Role         `json:"role" validate:"required"`
	OrgID string       `json:"orgId"`
}

// Validate sanitizes and validates the IssueInvitationRequest.
func (r *IssueInvitationRequest) Validate() error {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))

	validate := validator.New()
	return validate.Struct(r)
}

// AcceptInvitationRequest consumes a token and opens the admission workflow.
type AcceptInvitationRequest struct {
	Token string `json:"token" validate:"required,min=16"`
}

// Validate sanitizes and validates the AcceptInvitationRequest.
func (r *AcceptInvitationRequest) Validate() error {
	r.Token = strings.TrimSpace(r.Token)

	validate := validator.New()
	return validate.Struct(r)
}
