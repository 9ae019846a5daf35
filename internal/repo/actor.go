package repo

import (
	"context"
	"errors"
	"fmt"

	"gatehouse-api/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrActorNotFound = errors.New("actor not found")
)

// ActorRepo handles database operations for actors. Actors are only ever
// created by the approval engine (admission approvals), never directly by a
// handler.
type ActorRepo struct {
	pool *pgxpool.Pool
}

// NewActorRepo creates a new ActorRepo
func NewActorRepo(pool *pgxpool.Pool) *ActorRepo {
	return &ActorRepo{pool: pool}
}

const actorColumns = `id, org_id, email, role, status, created_at, updated_at`

// Get retrieves a single actor by ID.
func (r *ActorRepo) Get(ctx context.Context, id string) (*domain.Actor, error) {
	query := `SELECT ` + actorColumns + ` FROM actors WHERE id = $1`

	var a domain.Actor
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.OrgID, &a.Email, &a.Role, &a.Status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrActorNotFound
		}
		return nil, fmt.Errorf("query actor: %w", err)
	}

	return &a, nil
}

// GetByEmail retrieves a single actor by email.
func (r *ActorRepo) GetByEmail(ctx context.Context, email string) (*domain.Actor, error) {
	query := `SELECT ` + actorColumns + ` FROM actors WHERE email = $1`

	var a domain.Actor
	err := r.pool.QueryRow(ctx, query, email).Scan(
		&a.ID, &a.OrgID, &a.Email, &a.Role, &a.Status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrActorNotFound
		}
		return nil, fmt.Errorf("query actor by email: %w", err)
	}

	return &a, nil
}

// CreateIdempotentTx inserts an actor inside the caller's transaction,
// skipping silently if an actor with the same email already exists. The
// approval engine relies on this to make decision replays side-effect free.
func (r *ActorRepo) CreateIdempotentTx(ctx context.Context, tx pgx.Tx, a *domain.Actor) (bool, error) {
	query := `
		INSERT INTO actors (id, org_id, email, role, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO NOTHING
	`

	tag, err := tx.Exec(ctx, query, a.ID, a.OrgID, a.Email, a.Role, a.Status)
	if err != nil {
		return false, fmt.Errorf("insert actor: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// RegrantRole changes an actor's primary role and writes the audit entry in
// the same transaction. Authority checks (who may re-grant whose role) happen
// in the service layer; this method only persists.
func (r *ActorRepo) RegrantRole(ctx context.Context, actorID string, role domain.Role, audit *domain.AuditEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE actors SET role = $2, updated_at = NOW() WHERE id = $1`,
		actorID, role,
	)
	if err != nil {
		return fmt.Errorf("update actor role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrActorNotFound
	}

	if err := insertAuditTx(ctx, tx, audit); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// SetStatus flips an actor between active and disabled, audited in the same
// transaction.
func (r *ActorRepo) SetStatus(ctx context.Context, actorID string, status domain.ActorStatus, audit *domain.AuditEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE actors SET status = $2, updated_at = NOW() WHERE id = $1`,
		actorID, status,
	)
	if err != nil {
		return fmt.Errorf("update actor status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrActorNotFound
	}

	if err := insertAuditTx(ctx, tx, audit); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
