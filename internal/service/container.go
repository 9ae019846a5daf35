package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gatehouse-api/internal/domain"
	"gatehouse-api/internal/ids"
	"gatehouse-api/internal/observability/logger"
	"gatehouse-api/internal/permission"
	"gatehouse-api/internal/repo"
	"gatehouse-api/internal/workflow"

	"go.uber.org/zap"
)

var (
	ErrContainerNotFound = repo.ErrContainerNotFound
	ErrParentNotFound    = repo.ErrParentNotFound

	// ErrInvalidParent indicates a parent whose kind does not sit directly
	// above the requested kind in the containment tree.
	ErrInvalidParent = errors.New("parent kind does not match the containment tree")
)

// ContainerStore is the persistence surface of the container service,
// implemented by repo.ContainerRepo.
type ContainerStore interface {
	Create(ctx context.Context, c *domain.Container, audit *domain.AuditEntry) error
	Get(ctx context.Context, id string) (*domain.Container, error)
	Path(ctx context.Context, id string) ([]domain.Container, error)
	OrgOf(ctx context.Context, id string) (string, error)
	ListChildren(ctx context.Context, parentID string) ([]domain.Container, error)
	Rename(ctx context.Context, id, name string, audit *domain.AuditEntry) error
	Delete(ctx context.Context, id string, audit *domain.AuditEntry) error
}

// ActorStore loads the acting actor for permission resolution.
type ActorStore interface {
	Get(ctx context.Context, id string) (*domain.Actor, error)
}

// Gate is the permission resolver surface.
type Gate interface {
	Resolve(ctx context.Context, actor *domain.Actor, req domain.CheckPermissionRequest) (domain.Decision, error)
}

// EditInitiator opens edit-approval workflows. Implemented by
// workflow.Engine.
type EditInitiator interface {
	Initiate(ctx context.Context, orgID, requestedBy string, req domain.InitiateWorkflowRequest) (*domain.ApprovalRequest, error)
}

// ContainerService manages the containment tree. Every mutation is gated
// through the permission resolver against the relevant tree position and
// audited in the same transaction as the change.
//
// Organization renames apply unconditionally; property and unit renames
// apply immediately too, but under the oversight of an edit-approval
// workflow that reverts them if nobody approves in time (RequestEdit).
type ContainerService struct {
	containers ContainerStore
	actors     ActorStore
	gate       Gate
	engine     EditInitiator
	log        *logger.Logger
}

// NewContainerService creates a new ContainerService
func NewContainerService(containers ContainerStore, actors ActorStore, gate Gate, engine EditInitiator, log *logger.Logger) *ContainerService {
	return &ContainerService{
		containers: containers,
		actors:     actors,
		gate:       gate,
		engine:     engine,
		log:        log,
	}
}

func categoryFor(kind domain.ContainerKind) domain.ResourceCategory {
	switch kind {
	case domain.ContainerOrganization:
		return domain.CategoryOrganization
	case domain.ContainerProperty:
		return domain.CategoryProperty
	default:
		return domain.CategoryUnit
	}
}

// authorize loads the actor and resolves the (action, category, target)
// triple, mapping a denial to a DeniedError.
func (s *ContainerService) authorize(ctx context.Context, actorID string, action domain.Action, category domain.ResourceCategory, target domain.ScopeRef) (*domain.Actor, error) {
	actor, err := s.actors.Get(ctx, actorID)
	if err != nil {
		if errors.Is(err, repo.ErrActorNotFound) {
			return nil, &permission.DeniedError{Decision: domain.Decision{Reason: domain.ReasonRoleDenied}}
		}
		return nil, fmt.Errorf("get actor: %w", err)
	}

	decision, err := s.gate.Resolve(ctx, actor, domain.CheckPermissionRequest{
		Action:   action,
		Category: category,
		Target:   target,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve permission: %w", err)
	}
	if !decision.Allowed {
		return nil, &permission.DeniedError{Decision: decision}
	}
	return actor, nil
}

// Create adds a node to the containment tree. Authority is checked against
// the parent position: creating a property requires CREATE on PROPERTY
// within the organization, creating an organization requires CREATE at the
// platform root (platform_admin only; everyone else goes through the
// admission workflow).
func (s *ContainerService) Create(ctx context.Context, orgID, actorID string, req *domain.CreateContainerRequest) (*domain.Container, error) {
	target := domain.ScopeRef{} // platform root
	if req.Kind != domain.ContainerOrganization {
		if req.ParentID == nil || *req.ParentID == "" {
			return nil, ErrInvalidParent
		}
		parent, err := s.containers.Get(ctx, *req.ParentID)
		if err != nil {
			if errors.Is(err, repo.ErrContainerNotFound) {
				return nil, ErrParentNotFound
			}
			return nil, err
		}
		if parent.Kind.ChildKind() != req.Kind {
			return nil, ErrInvalidParent
		}
		target = domain.ScopeRef{Kind: parent.Kind, ID: parent.ID}
	} else if req.ParentID != nil {
		return nil, ErrInvalidParent
	}

	if _, err := s.authorize(ctx, actorID, domain.ActionCreate, categoryFor(req.Kind), target); err != nil {
		return nil, err
	}

	container := &domain.Container{
		ID:       ids.New(),
		Kind:     req.Kind,
		ParentID: req.ParentID,
		Name:     req.Name,
	}

	containerID := container.ID
	entry := &domain.AuditEntry{
		OrgID:        orgID,
		ActorID:      actorID,
		Action:       "CREATE_CONTAINER",
		ResourceType: string(req.Kind),
		ResourceID:   &containerID,
		Outcome:      domain.AuditOutcomeAllowed,
		Detail:       map[string]any{"name": req.Name},
	}

	if err := s.containers.Create(ctx, container, entry); err != nil {
		return nil, err
	}

	s.log.Info(ctx, "container created",
		logger.Module("container"),
		logger.Action("create"),
		zap.String("container_id", container.ID),
		zap.String("kind", string(container.Kind)),
	)
	return container, nil
}

// Get retrieves a container, gated on VIEW.
func (s *ContainerService) Get(ctx context.Context, actorID, id string) (*domain.Container, error) {
	container, err := s.containers.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if _, err := s.authorize(ctx, actorID, domain.ActionView, categoryFor(container.Kind), domain.ScopeRef{Kind: container.Kind, ID: container.ID}); err != nil {
		return nil, err
	}
	return container, nil
}

// ListChildren lists the nodes directly under a container, gated on VIEW of
// the parent.
func (s *ContainerService) ListChildren(ctx context.Context, actorID, parentID string) ([]domain.Container, error) {
	parent, err := s.containers.Get(ctx, parentID)
	if err != nil {
		return nil, err
	}

	if _, err := s.authorize(ctx, actorID, domain.ActionView, categoryFor(parent.Kind), domain.ScopeRef{Kind: parent.Kind, ID: parent.ID}); err != nil {
		return nil, err
	}
	return s.containers.ListChildren(ctx, parentID)
}

// RequestEdit renames a container. Organizations are renamed directly (gated
// on EDIT); properties and units are renamed too, but under oversight: an
// edit-approval workflow opens carrying the pre-change snapshot, and if no
// decider approves before the deadline the engine reverts the rename.
// Initiation runs first so the duplicate-pending guard blocks the rename.
func (s *ContainerService) RequestEdit(ctx context.Context, orgID, actorID, containerID, newName string) (*domain.Container, *domain.ApprovalRequest, error) {
	container, err := s.containers.Get(ctx, containerID)
	if err != nil {
		return nil, nil, err
	}

	target := domain.ScopeRef{Kind: container.Kind, ID: container.ID}
	if _, err := s.authorize(ctx, actorID, domain.ActionEdit, categoryFor(container.Kind), target); err != nil {
		return nil, nil, err
	}

	if container.Kind == domain.ContainerOrganization {
		id := container.ID
		entry := &domain.AuditEntry{
			OrgID:        orgID,
			ActorID:      actorID,
			Action:       "RENAME_CONTAINER",
			ResourceType: string(container.Kind),
			ResourceID:   &id,
			Outcome:      domain.AuditOutcomeAllowed,
			Detail:       map[string]any{"from": container.Name, "to": newName},
		}
		if err := s.containers.Rename(ctx, containerID, newName, entry); err != nil {
			return nil, nil, err
		}
		container.Name = newName
		return container, nil, nil
	}

	kind := domain.WorkflowPropertyEdit
	if container.Kind == domain.ContainerUnit {
		kind = domain.WorkflowUnitEdit
	}

	snapshot, err := json.Marshal(workflow.EditChange{Name: container.Name})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	payload, err := json.Marshal(workflow.EditChange{Name: newName})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal payload: %w", err)
	}

	request, err := s.engine.Initiate(ctx, orgID, actorID, domain.InitiateWorkflowRequest{
		Kind:               kind,
		SubjectID:          container.ID,
		SubjectContainerID: container.ID,
		Snapshot:           snapshot,
		Payload:            payload,
	})
	if err != nil {
		return nil, nil, err
	}

	id := container.ID
	entry := &domain.AuditEntry{
		OrgID:        orgID,
		ActorID:      actorID,
		Action:       "RENAME_CONTAINER",
		ResourceType: string(container.Kind),
		ResourceID:   &id,
		Outcome:      domain.AuditOutcomeAllowed,
		Detail: map[string]any{
			"from":                container.Name,
			"to":                  newName,
			"approval_request_id": request.ID,
		},
	}
	if err := s.containers.Rename(ctx, containerID, newName, entry); err != nil {
		return nil, nil, err
	}
	container.Name = newName
	return container, request, nil
}

// Delete removes a container and, through the database cascade, everything
// nested under it. Gated on DELETE.
func (s *ContainerService) Delete(ctx context.Context, orgID, actorID, id string) error {
	container, err := s.containers.Get(ctx, id)
	if err != nil {
		return err
	}

	if _, err := s.authorize(ctx, actorID, domain.ActionDelete, categoryFor(container.Kind), domain.ScopeRef{Kind: container.Kind, ID: container.ID}); err != nil {
		return err
	}

	containerID := container.ID
	entry := &domain.AuditEntry{
		OrgID:        orgID,
		ActorID:      actorID,
		Action:       "DELETE_CONTAINER",
		ResourceType: string(container.Kind),
		ResourceID:   &containerID,
		Outcome:      domain.AuditOutcomeAllowed,
		Detail:       map[string]any{"name": container.Name},
	}

	if err := s.containers.Delete(ctx, id, entry); err != nil {
		return err
	}

	s.log.Info(ctx, "container deleted",
		logger.Module("container"),
		logger.Action("delete"),
		zap.String("container_id", id),
		zap.String("kind", string(container.Kind)),
	)
	return nil
}
