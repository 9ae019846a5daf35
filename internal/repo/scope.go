package repo

import (
	"context"
	"errors"
	"fmt"

	"gatehouse-api/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrScopeNotFound = errors.New("scope not found")

	// ErrScopeExists indicates the actor already holds a scope on this container
	ErrScopeExists = errors.New("scope already granted for this container")
)

// ScopeRepo handles database operations for scope grants. A scope row must
// always reference a live container; the FK with ON DELETE CASCADE keeps the
// invariant when containers go away.
type ScopeRepo struct {
	pool *pgxpool.Pool
}

// NewScopeRepo creates a new ScopeRepo
func NewScopeRepo(pool *pgxpool.Pool) *ScopeRepo {
	return &ScopeRepo{pool: pool}
}

// ListByActor retrieves every scope held by an actor, oldest first. The
// resolver matches these against the target's containment path.
func (r *ScopeRepo) ListByActor(ctx context.Context, actorID string) ([]domain.Scope, error) {
	query := `
		SELECT id, actor_id, container_kind, container_id, granted_by, created_at
		FROM scopes
		WHERE actor_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, actorID)
	if err != nil {
		return nil, fmt.Errorf("query scopes: %w", err)
	}
	defer rows.Close()

	scopes := make([]domain.Scope, 0)
	for rows.Next() {
		var s domain.Scope
		if err := rows.Scan(&s.ID, &s.ActorID, &s.ContainerKind, &s.ContainerID, &s.GrantedBy, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		scopes = append(scopes, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scopes: %w", err)
	}

	return scopes, nil
}

// Get retrieves a single scope by ID.
func (r *ScopeRepo) Get(ctx context.Context, id string) (*domain.Scope, error) {
	query := `
		SELECT id, actor_id, container_kind, container_id, granted_by, created_at
		FROM scopes
		WHERE id = $1
	`

	var s domain.Scope
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&s.ID, &s.ActorID, &s.ContainerKind, &s.ContainerID, &s.GrantedBy, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScopeNotFound
		}
		return nil, fmt.Errorf("query scope: %w", err)
	}

	return &s, nil
}

// Grant inserts a scope and its audit entry in one transaction.
// Returns ErrScopeExists when the actor already holds a scope on the
// container, ErrContainerNotFound / ErrActorNotFound on broken references.
func (r *ScopeRepo) Grant(ctx context.Context, s *domain.Scope, audit *domain.AuditEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO scopes (id, actor_id, container_kind, container_id, granted_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err = tx.QueryRow(ctx, query, s.ID, s.ActorID, s.ContainerKind, s.ContainerID, s.GrantedBy).
		Scan(&s.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23505" { // unique_violation
				return ErrScopeExists
			}
			if pgErr.Code == "23503" { // foreign_key_violation
				if pgErr.ConstraintName == "scopes_actor_id_fkey" {
					return ErrActorNotFound
				}
				return ErrContainerNotFound
			}
		}
		return fmt.Errorf("insert scope: %w", err)
	}

	if err := insertAuditTx(ctx, tx, audit); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GrantTx inserts a scope inside an existing transaction. Approval completion
// hooks use it to admit an actor and scope them over their organization in
// one commit.
func (r *ScopeRepo) GrantTx(ctx context.Context, tx pgx.Tx, s *domain.Scope) error {
	query := `
		INSERT INTO scopes (id, actor_id, container_kind, container_id, granted_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err := tx.QueryRow(ctx, query, s.ID, s.ActorID, s.ContainerKind, s.ContainerID, s.GrantedBy).
		Scan(&s.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return ErrScopeExists
		}
		return fmt.Errorf("insert scope: %w", err)
	}
	return nil
}

// Revoke removes a scope and writes the audit entry in the same transaction.
func (r *ScopeRepo) Revoke(ctx context.Context, scopeID string, audit *domain.AuditEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM scopes WHERE id = $1`, scopeID)
	if err != nil {
		return fmt.Errorf("delete scope: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrScopeNotFound
	}

	if err := insertAuditTx(ctx, tx, audit); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
