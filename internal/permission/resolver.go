package permission

import (
	"context"
	"errors"
	"sync/atomic"

	"gatehouse-api/internal/domain"
	"gatehouse-api/internal/repo"
)

// ScopeStore lists the scopes held by an actor. Implemented by
// repo.ScopeRepo.
type ScopeStore interface {
	ListByActor(ctx context.Context, actorID string) ([]domain.Scope, error)
}

// ContainerStore resolves the containment path of a target container.
// Implemented by repo.ContainerRepo.
type ContainerStore interface {
	Path(ctx context.Context, id string) ([]domain.Container, error)
}

// Resolver answers "may this actor perform this action on this target" in a
// single evaluation path:
//
//  1. matrix gate - the (role, category, action) cell must be granted;
//     a role-level denial is final, scopes never override it;
//  2. scope walk - some scope of the actor must sit on the target's
//     containment path. platform_admin holds an implicit scope on the tree
//     root, so once past the matrix gate it matches every target.
//
// Malformed or unknown targets fail closed.
type Resolver struct {
	matrix     atomic.Pointer[Matrix]
	scopes     ScopeStore
	containers ContainerStore
}

// NewResolver creates a new Resolver
func NewResolver(matrix *Matrix, scopes ScopeStore, containers ContainerStore) *Resolver {
	r := &Resolver{scopes: scopes, containers: containers}
	r.matrix.Store(matrix)
	return r
}

// Matrix returns the active permission matrix.
func (r *Resolver) Matrix() *Matrix {
	return r.matrix.Load()
}

// SwapMatrix atomically replaces the active matrix. In-flight resolutions
// finish against the matrix they started with.
func (r *Resolver) SwapMatrix(m *Matrix) {
	r.matrix.Store(m)
}

// Resolve evaluates a permission check. A denial is a valid result, not an
// error; errors are reserved for infrastructure failures.
func (r *Resolver) Resolve(ctx context.Context, actor *domain.Actor, req domain.CheckPermissionRequest) (domain.Decision, error) {
	// Malformed requests fail closed
	if !req.Action.IsValid() || !req.Category.IsValid() {
		return domain.Decision{Reason: domain.ReasonInvalidScope}, nil
	}
	if actor.Status != domain.ActorStatusActive {
		return domain.Decision{Reason: domain.ReasonRoleDenied}, nil
	}

	// Gate 1: the matrix. Nothing downstream can recover a role denial.
	if !r.Matrix().Allows(actor.Role, req.Category, req.Action) {
		return domain.Decision{Reason: domain.ReasonRoleDenied}, nil
	}

	// Gate 2: scope containment. platform_admin carries an implicit scope on
	// the tree root, which every path starts at.
	if actor.Role == domain.RolePlatformAdmin {
		return domain.Decision{Allowed: true}, nil
	}

	// The platform root itself only matches the implicit root scope above.
	if req.Target.IsRoot() {
		return domain.Decision{Reason: domain.ReasonOutOfScope}, nil
	}

	path, err := r.containers.Path(ctx, req.Target.ID)
	if err != nil {
		if errors.Is(err, repo.ErrContainerNotFound) {
			return domain.Decision{Reason: domain.ReasonInvalidScope}, nil
		}
		return domain.Decision{}, err
	}

	// A stale target kind (e.g. a unit id presented as a property) fails
	// closed rather than resolving against the wrong tree level.
	if req.Target.Kind != "" && path[len(path)-1].Kind != req.Target.Kind {
		return domain.Decision{Reason: domain.ReasonInvalidScope}, nil
	}

	scopes, err := r.scopes.ListByActor(ctx, actor.ID)
	if err != nil {
		return domain.Decision{}, err
	}

	byContainer := make(map[string]domain.Scope, len(scopes))
	for _, s := range scopes {
		byContainer[s.ContainerID] = s
	}

	// Walk target -> root so the most specific match wins.
	for i := len(path) - 1; i >= 0; i-- {
		if s, ok := byContainer[path[i].ID]; ok {
			matched := s
			return domain.Decision{Allowed: true, MatchedScope: &matched}, nil
		}
	}

	return domain.Decision{Reason: domain.ReasonOutOfScope}, nil
}
