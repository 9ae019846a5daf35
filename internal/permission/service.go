package permission

import (
	"context"
	"errors"
	"fmt"

	"gatehouse-api/internal/audit"
	"gatehouse-api/internal/domain"
	"gatehouse-api/internal/ids"
	"gatehouse-api/internal/observability/logger"
	"gatehouse-api/internal/observability/metrics"
	"gatehouse-api/internal/repo"

	"go.uber.org/zap"
)

var (
	ErrActorNotFound = repo.ErrActorNotFound
	ErrScopeNotFound = repo.ErrScopeNotFound
	ErrScopeExists   = repo.ErrScopeExists
)

// DeniedError carries the full decision so handlers can map the denial
// reason to a response code without re-resolving.
type DeniedError struct {
	Decision domain.Decision
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Decision.Reason)
}

// ActorStore loads actors for resolution. Implemented by repo.ActorRepo.
type ActorStore interface {
	Get(ctx context.Context, id string) (*domain.Actor, error)
}

// ScopeWriter covers the scope mutations the service performs.
// Implemented by repo.ScopeRepo.
type ScopeWriter interface {
	Get(ctx context.Context, id string) (*domain.Scope, error)
	Grant(ctx context.Context, s *domain.Scope, audit *domain.AuditEntry) error
	Revoke(ctx context.Context, scopeID string, audit *domain.AuditEntry) error
}

// Service is the permission surface: checks, scope grants and revocations,
// and matrix re-seeding. Every operation it exposes is audited; the check
// path refuses to report "allowed" if the audit write fails.
type Service struct {
	resolver *Resolver
	actors   ActorStore
	scopes   ScopeWriter
	trail    *audit.Trail
	log      *logger.Logger
}

// NewService creates a new Service
func NewService(resolver *Resolver, actors ActorStore, scopes ScopeWriter, trail *audit.Trail, log *logger.Logger) *Service {
	return &Service{
		resolver: resolver,
		actors:   actors,
		scopes:   scopes,
		trail:    trail,
		log:      log,
	}
}

// Resolver exposes the underlying resolver for collaborators (the workflow
// engine gates deciders through it).
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// CheckPermission resolves whether the actor may perform the action on the
// target and records the decision. The audit write is part of the contract:
// if it fails, the check fails, even when the resolution said allowed.
func (s *Service) CheckPermission(ctx context.Context, orgID, actorID string, req domain.CheckPermissionRequest) (*domain.Decision, error) {
	actor, err := s.actors.Get(ctx, actorID)
	if err != nil {
		if errors.Is(err, repo.ErrActorNotFound) {
			// An unknown actor is a denial, not an error. Still audited.
			decision := domain.Decision{Reason: domain.ReasonRoleDenied}
			if err := s.recordDecision(ctx, orgID, actorID, req, decision); err != nil {
				return nil, err
			}
			return &decision, nil
		}
		return nil, fmt.Errorf("get actor: %w", err)
	}

	decision, err := s.resolver.Resolve(ctx, actor, req)
	if err != nil {
		return nil, fmt.Errorf("resolve permission: %w", err)
	}

	if err := s.recordDecision(ctx, orgID, actorID, req, decision); err != nil {
		return nil, err
	}

	return &decision, nil
}

func (s *Service) recordDecision(ctx context.Context, orgID, actorID string, req domain.CheckPermissionRequest, decision domain.Decision) error {
	outcome := domain.AuditOutcomeDenied
	if decision.Allowed {
		outcome = domain.AuditOutcomeAllowed
	}

	detail := map[string]any{
		"action":         string(req.Action),
		"category":       string(req.Category),
		"matrix_version": s.resolver.Matrix().Version(),
	}
	if decision.Reason != "" {
		detail["reason"] = decision.Reason
	}
	if decision.MatchedScope != nil {
		detail["matched_scope_id"] = decision.MatchedScope.ID
		detail["matched_container_id"] = decision.MatchedScope.ContainerID
	}

	var resourceID *string
	if req.Target.ID != "" {
		id := req.Target.ID
		resourceID = &id
	}

	entry := &domain.AuditEntry{
		OrgID:        orgID,
		ActorID:      actorID,
		Action:       "CHECK_PERMISSION",
		ResourceType: string(req.Category),
		ResourceID:   resourceID,
		Outcome:      outcome,
		Detail:       detail,
	}
	if err := s.trail.Append(ctx, entry); err != nil {
		s.log.Error(ctx, "permission decision not recorded",
			logger.Module("permission"),
			logger.Action("check"),
			zap.String("outcome", outcome),
			zap.Error(err),
		)
		return fmt.Errorf("record decision: %w", err)
	}

	metrics.RecordDecision(decision.Allowed, decision.Reason)
	return nil
}

// GrantScope grants an actor authority over a container subtree. The grant
// itself is a privileged action: the granter must pass GRANT_SCOPE on the
// SCOPE category against the target container.
func (s *Service) GrantScope(ctx context.Context, orgID, granterID string, req domain.GrantScopeRequest) (*domain.Scope, error) {
	granter, err := s.actors.Get(ctx, granterID)
	if err != nil {
		if errors.Is(err, repo.ErrActorNotFound) {
			return nil, &DeniedError{Decision: domain.Decision{Reason: domain.ReasonRoleDenied}}
		}
		return nil, fmt.Errorf("get granter: %w", err)
	}

	decision, err := s.resolver.Resolve(ctx, granter, domain.CheckPermissionRequest{
		Action:   domain.ActionGrantScope,
		Category: domain.CategoryScope,
		Target:   domain.ScopeRef{Kind: req.ContainerKind, ID: req.ContainerID},
	})
	if err != nil {
		return nil, fmt.Errorf("resolve grant permission: %w", err)
	}
	if !decision.Allowed {
		return nil, &DeniedError{Decision: decision}
	}

	scope := &domain.Scope{
		ID:            ids.New(),
		ActorID:       req.ActorID,
		ContainerKind: req.ContainerKind,
		ContainerID:   req.ContainerID,
		GrantedBy:     granterID,
	}

	scopeID := scope.ID
	entry := &domain.AuditEntry{
		OrgID:        orgID,
		ActorID:      granterID,
		Action:       "GRANT_SCOPE",
		ResourceType: "scope",
		ResourceID:   &scopeID,
		Outcome:      domain.AuditOutcomeGranted,
		Detail: map[string]any{
			"grantee_id":     req.ActorID,
			"container_kind": string(req.ContainerKind),
			"container_id":   req.ContainerID,
		},
	}

	if err := s.scopes.Grant(ctx, scope, entry); err != nil {
		return nil, err
	}

	s.log.Info(ctx, "scope granted",
		logger.Module("permission"),
		logger.Action("grant_scope"),
		zap.String("scope_id", scope.ID),
		zap.String("container_id", req.ContainerID),
	)
	return scope, nil
}

// RevokeScope removes a scope grant. Gated the same way as granting: the
// revoker needs GRANT_SCOPE authority over the scope's container.
func (s *Service) RevokeScope(ctx context.Context, orgID, revokerID, scopeID string) error {
	revoker, err := s.actors.Get(ctx, revokerID)
	if err != nil {
		if errors.Is(err, repo.ErrActorNotFound) {
			return &DeniedError{Decision: domain.Decision{Reason: domain.ReasonRoleDenied}}
		}
		return fmt.Errorf("get revoker: %w", err)
	}

	scope, err := s.scopes.Get(ctx, scopeID)
	if err != nil {
		return err
	}

	decision, err := s.resolver.Resolve(ctx, revoker, domain.CheckPermissionRequest{
		Action:   domain.ActionGrantScope,
		Category: domain.CategoryScope,
		Target:   scope.Ref(),
	})
	if err != nil {
		return fmt.Errorf("resolve revoke permission: %w", err)
	}
	if !decision.Allowed {
		return &DeniedError{Decision: decision}
	}

	entry := &domain.AuditEntry{
		OrgID:        orgID,
		ActorID:      revokerID,
		Action:       "REVOKE_SCOPE",
		ResourceType: "scope",
		ResourceID:   &scopeID,
		Outcome:      domain.AuditOutcomeRevoked,
		Detail: map[string]any{
			"grantee_id":     scope.ActorID,
			"container_kind": string(scope.ContainerKind),
			"container_id":   scope.ContainerID,
		},
	}

	if err := s.scopes.Revoke(ctx, scopeID, entry); err != nil {
		return err
	}

	s.log.Info(ctx, "scope revoked",
		logger.Module("permission"),
		logger.Action("revoke_scope"),
		zap.String("scope_id", scopeID),
	)
	return nil
}

// SeedMatrix atomically replaces the active permission matrix. Restricted to
// actors holding SEED_MATRIX on the SCOPE category (platform_admin only in
// the shipped seed). An empty path reloads the embedded seed.
func (s *Service) SeedMatrix(ctx context.Context, orgID, actorID, path string) (int, error) {
	actor, err := s.actors.Get(ctx, actorID)
	if err != nil {
		if errors.Is(err, repo.ErrActorNotFound) {
			return 0, &DeniedError{Decision: domain.Decision{Reason: domain.ReasonRoleDenied}}
		}
		return 0, fmt.Errorf("get actor: %w", err)
	}

	decision, err := s.resolver.Resolve(ctx, actor, domain.CheckPermissionRequest{
		Action:   domain.ActionSeedMatrix,
		Category: domain.CategoryScope,
	})
	if err != nil {
		return 0, fmt.Errorf("resolve seed permission: %w", err)
	}
	if !decision.Allowed {
		return 0, &DeniedError{Decision: decision}
	}

	var matrix *Matrix
	if path == "" {
		matrix, err = Default()
	} else {
		matrix, err = Load(path)
	}
	if err != nil {
		return 0, err
	}

	previous := s.resolver.Matrix().Version()
	s.resolver.SwapMatrix(matrix)

	entry := &domain.AuditEntry{
		OrgID:        orgID,
		ActorID:      actorID,
		Action:       "SEED_MATRIX",
		ResourceType: "matrix",
		Outcome:      domain.AuditOutcomeReseeded,
		Detail: map[string]any{
			"previous_version": previous,
			"version":          matrix.Version(),
		},
	}
	if err := s.trail.Append(ctx, entry); err != nil {
		return 0, fmt.Errorf("record reseed: %w", err)
	}

	s.log.Info(ctx, "permission matrix reseeded",
		logger.Module("permission"),
		logger.Action("seed_matrix"),
		zap.Int("version", matrix.Version()),
	)
	return matrix.Version(), nil
}
