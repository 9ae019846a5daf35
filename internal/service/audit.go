package service

import (
	"context"
	"errors"
	"fmt"

	"gatehouse-api/internal/domain"
	"gatehouse-api/internal/observability/logger"
	"gatehouse-api/internal/permission"
	"gatehouse-api/internal/repo"

	"go.uber.org/zap"
)

// AuditReader is the read surface of the audit trail, implemented by
// audit.Trail.
type AuditReader interface {
	Query(ctx context.Context, q domain.AuditQuery) (*domain.AuditListResponse, error)
}

// AuditService exposes the read-only audit listing. Querying the trail is
// itself a privileged action, gated on QUERY_AUDIT within the organization.
type AuditService struct {
	trail  AuditReader
	actors ActorStore
	gate   Gate
	log    *logger.Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(trail AuditReader, actors ActorStore, gate Gate, log *logger.Logger) *AuditService {
	return &AuditService{trail: trail, actors: actors, gate: gate, log: log}
}

// Query lists audit entries for an organization, newest first.
func (s *AuditService) Query(ctx context.Context, actorID string, q domain.AuditQuery) (*domain.AuditListResponse, error) {
	actor, err := s.actors.Get(ctx, actorID)
	if err != nil {
		if errors.Is(err, repo.ErrActorNotFound) {
			return nil, &permission.DeniedError{Decision: domain.Decision{Reason: domain.ReasonRoleDenied}}
		}
		return nil, fmt.Errorf("get actor: %w", err)
	}

	decision, err := s.gate.Resolve(ctx, actor, domain.CheckPermissionRequest{
		Action:   domain.ActionQueryAudit,
		Category: domain.CategoryAudit,
		Target:   domain.ScopeRef{Kind: domain.ContainerOrganization, ID: q.OrgID},
	})
	if err != nil {
		return nil, fmt.Errorf("resolve permission: %w", err)
	}
	if !decision.Allowed {
		return nil, &permission.DeniedError{Decision: decision}
	}

	q.Normalize()
	response, err := s.trail.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	s.log.Debug(ctx, "audit trail queried",
		logger.Module("audit"),
		logger.Action("query"),
		zap.String("org_id", q.OrgID),
		zap.Int("count", len(response.Data)),
	)
	return response, nil
}
