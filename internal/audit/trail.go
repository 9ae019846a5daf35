package audit

import (
	"context"

	"gatehouse-api/internal/domain"
	"gatehouse-api/internal/observability/logger"

	"go.uber.org/zap"
)

// Store is the persistence surface the trail needs, implemented by
// repo.AuditRepo.
type Store interface {
	Append(ctx context.Context, entry *domain.AuditEntry) error
	Query(ctx context.Context, q domain.AuditQuery) ([]domain.AuditEntry, string, error)
}

// Trail is the audit facade used by read paths and by handlers that need the
// listing. Mutations do not go through here: their audit entries are written
// by the repos inside the mutating transaction, so a mutation and its record
// commit or roll back together.
type Trail struct {
	store Store
	log   *logger.Logger
}

// NewTrail creates a new Trail
func NewTrail(store Store, log *logger.Logger) *Trail {
	return &Trail{store: store, log: log}
}

// Append writes an entry and propagates failure. Callers use this when the
// operation must not be reported without its record (denied permission
// checks included).
func (t *Trail) Append(ctx context.Context, entry *domain.AuditEntry) error {
	return t.store.Append(ctx, entry)
}

// BestEffort writes an entry and only logs on failure. Reserved for entries
// where losing the record is preferable to failing the request, e.g. audit
// queries about the audit log itself.
func (t *Trail) BestEffort(ctx context.Context, entry *domain.AuditEntry) {
	if err := t.store.Append(ctx, entry); err != nil {
		t.log.Warn(ctx, "audit entry dropped",
			logger.Module("audit"),
			logger.Action("append"),
			zap.String("audit_action", entry.Action),
			zap.String("resource_type", entry.ResourceType),
			zap.Error(err),
		)
	}
}

// Query lists audit entries for an organization, newest first.
func (t *Trail) Query(ctx context.Context, q domain.AuditQuery) (*domain.AuditListResponse, error) {
	q.Normalize()

	entries, nextCursor, err := t.store.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	resp := &domain.AuditListResponse{Data: entries}
	if nextCursor != "" {
		resp.Meta.HasNextPage = true
		resp.Meta.NextCursor = &nextCursor
	}
	return resp, nil
}
