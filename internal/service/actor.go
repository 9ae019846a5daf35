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

var (
	ErrActorNotFound = repo.ErrActorNotFound

	// ErrCannotOutrank indicates an actor trying to hand out authority at or
	// above their own level.
	ErrCannotOutrank = errors.New("actor must outrank both the current and the requested role")
)

// ActorManager is the persistence surface of the actor service, implemented
// by repo.ActorRepo.
type ActorManager interface {
	Get(ctx context.Context, id string) (*domain.Actor, error)
	RegrantRole(ctx context.Context, actorID string, role domain.Role, audit *domain.AuditEntry) error
	SetStatus(ctx context.Context, actorID string, status domain.ActorStatus, audit *domain.AuditEntry) error
}

// ActorService manages existing actors. Creating actors is not here on
// purpose: actors only come into existence through approved admission
// workflows.
type ActorService struct {
	actors ActorManager
	gate   Gate
	log    *logger.Logger
}

// NewActorService creates a new ActorService
func NewActorService(actors ActorManager, gate Gate, log *logger.Logger) *ActorService {
	return &ActorService{actors: actors, gate: gate, log: log}
}

// authorize gates an actor-management action against the subject's
// organization.
func (s *ActorService) authorize(ctx context.Context, actingID string, action domain.Action, subject *domain.Actor) (*domain.Actor, error) {
	acting, err := s.actors.Get(ctx, actingID)
	if err != nil {
		if errors.Is(err, repo.ErrActorNotFound) {
			return nil, &permission.DeniedError{Decision: domain.Decision{Reason: domain.ReasonRoleDenied}}
		}
		return nil, fmt.Errorf("get acting actor: %w", err)
	}

	target := domain.ScopeRef{Kind: domain.ContainerOrganization, ID: subject.OrgID}
	decision, err := s.gate.Resolve(ctx, acting, domain.CheckPermissionRequest{
		Action:   action,
		Category: domain.CategoryActor,
		Target:   target,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve permission: %w", err)
	}
	if !decision.Allowed {
		return nil, &permission.DeniedError{Decision: decision}
	}
	return acting, nil
}

// Get retrieves an actor, gated on VIEW within the actor's organization.
func (s *ActorService) Get(ctx context.Context, actingID, actorID string) (*domain.Actor, error) {
	subject, err := s.actors.Get(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, actingID, domain.ActionView, subject); err != nil {
		return nil, err
	}
	return subject, nil
}

// RegrantRole changes an actor's primary role. The role is otherwise
// immutable after admission; a re-grant requires the acting actor to
// strictly outrank both the subject's current role and the requested one.
func (s *ActorService) RegrantRole(ctx context.Context, orgID, actingID, actorID string, role domain.Role) (*domain.Actor, error) {
	subject, err := s.actors.Get(ctx, actorID)
	if err != nil {
		return nil, err
	}

	acting, err := s.authorize(ctx, actingID, domain.ActionEdit, subject)
	if err != nil {
		return nil, err
	}

	if !acting.Role.Outranks(subject.Role) || !acting.Role.Outranks(role) {
		return nil, ErrCannotOutrank
	}

	subjectID := subject.ID
	entry := &domain.AuditEntry{
		OrgID:        orgID,
		ActorID:      actingID,
		Action:       "REGRANT_ROLE",
		ResourceType: "actor",
		ResourceID:   &subjectID,
		Outcome:      domain.AuditOutcomeAllowed,
		Detail: map[string]any{
			"from": string(subject.Role),
			"to":   string(role),
		},
	}

	if err := s.actors.RegrantRole(ctx, actorID, role, entry); err != nil {
		return nil, err
	}

	s.log.Info(ctx, "actor role re-granted",
		logger.Module("actor"),
		logger.Action("regrant_role"),
		zap.String("subject_id", actorID),
		zap.String("role", string(role)),
	)

	subject.Role = role
	return subject, nil
}

// SetStatus flips an actor between active and disabled. Same authority rule
// as a role re-grant: the acting actor must outrank the subject.
func (s *ActorService) SetStatus(ctx context.Context, orgID, actingID, actorID string, status domain.ActorStatus) (*domain.Actor, error) {
	subject, err := s.actors.Get(ctx, actorID)
	if err != nil {
		return nil, err
	}

	acting, err := s.authorize(ctx, actingID, domain.ActionEdit, subject)
	if err != nil {
		return nil, err
	}

	if !acting.Role.Outranks(subject.Role) {
		return nil, ErrCannotOutrank
	}

	subjectID := subject.ID
	entry := &domain.AuditEntry{
		OrgID:        orgID,
		ActorID:      actingID,
		Action:       "SET_ACTOR_STATUS",
		ResourceType: "actor",
		ResourceID:   &subjectID,
		Outcome:      domain.AuditOutcomeAllowed,
		Detail: map[string]any{
			"from": string(subject.Status),
			"to":   string(status),
		},
	}

	if err := s.actors.SetStatus(ctx, actorID, status, entry); err != nil {
		return nil, err
	}

	s.log.Info(ctx, "actor status changed",
		logger.Module("actor"),
		logger.Action("set_status"),
		zap.String("subject_id", actorID),
		zap.String("status", string(status)),
	)

	subject.Status = status
	return subject, nil
}
