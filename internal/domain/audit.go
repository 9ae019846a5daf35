package domain

import (
	"strings"
	"time"
)

// Audit outcomes. Every workflow transition and every consequential
// permission decision produces exactly one entry.
const (
	AuditOutcomeAllowed  = "ALLOWED"
	AuditOutcomeDenied   = "DENIED"
	AuditOutcomeApproved = "APPROVED"
	AuditOutcomeRejected = "REJECTED"
	AuditOutcomeExpired  = "EXPIRED"
	AuditOutcomeInitiated = "INITIATED"
	AuditOutcomeIssued   = "ISSUED"
	AuditOutcomeConsumed = "CONSUMED"
	AuditOutcomeGranted  = "GRANTED"
	AuditOutcomeRevoked  = "REVOKED"
	AuditOutcomeReseeded = "RESEEDED"
)

// AuditEntry is an append-only record. The core never updates or deletes
// entries; retention and archival belong to an external collaborator.
type AuditEntry struct {
	ID           string         `json:"id" db:"id"`
	OrgID        string         `json:"orgId" db:"org_id"`
	ActorID      string         `json:"actorId" db:"actor_id"`
	Action       string         `json:"action" db:"action"`
	ResourceType string         `json:"resourceType" db:"resource_type"`
	ResourceID   *string        `json:"resourceId,omitempty" db:"resource_id"`
	Outcome      string         `json:"outcome" db:"outcome"`
	Detail       map[string]any `json:"detail,omitempty" db:"detail"`
	OccurredAt   time.Time      `json:"occurredAt" db:"occurred_at"`
}

// AuditQuery filters the read-only audit listing.
type AuditQuery struct {
	OrgID        string
	ActorID      *string
	ResourceType *string
	Outcome      *string

	Limit  int
	Cursor *string // RFC3339 occurred_at cursor
}

// Normalize applies listing defaults.
func (q *AuditQuery) Normalize() {
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 50
	}
	if q.Cursor != nil {
		c := strings.TrimSpace(*q.Cursor)
		if c == "" {
			q.Cursor = nil
		} else {
			q.Cursor = &c
		}
	}
}

// AuditListResponse is the paginated audit listing.
type AuditListResponse struct {
	Data []AuditEntry `json:"data"`
	Meta struct {
		HasNextPage bool    `json:"hasNextPage"`
		NextCursor  *string `json:"nextCursor,omitempty"`
	} `json:"meta"`
}
