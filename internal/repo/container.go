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
	ErrContainerNotFound = errors.New("container not found")

	// ErrParentNotFound indicates the referenced parent container does not exist
	ErrParentNotFound = errors.New("parent container not found")
)

// ContainerRepo handles database operations for the containment tree
// (organization -> property -> unit).
type ContainerRepo struct {
	pool *pgxpool.Pool
}

// NewContainerRepo creates a new ContainerRepo
func NewContainerRepo(pool *pgxpool.Pool) *ContainerRepo {
	return &ContainerRepo{pool: pool}
}

// BeginTx starts a transaction. Callers pair it with defer tx.Rollback(ctx)
// and tx.Commit(ctx).
func (r *ContainerRepo) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Create inserts a container and its audit entry in one transaction.
func (r *ContainerRepo) Create(ctx context.Context, c *domain.Container, audit *domain.AuditEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.CreateTx(ctx, tx, c); err != nil {
		return err
	}

	if err := insertAuditTx(ctx, tx, audit); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// CreateTx inserts a container inside the caller's transaction. The approval
// engine uses this to instantiate an organization atomically with the
// admission transition.
func (r *ContainerRepo) CreateTx(ctx context.Context, tx pgx.Tx, c *domain.Container) error {
	query := `
		INSERT INTO containers (id, kind, parent_id, name)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	err := tx.QueryRow(ctx, query, c.ID, c.Kind, c.ParentID, c.Name).
		Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" { // foreign_key_violation
			return ErrParentNotFound
		}
		return fmt.Errorf("insert container: %w", err)
	}
	return nil
}

// Get retrieves a single container by ID.
func (r *ContainerRepo) Get(ctx context.Context, id string) (*domain.Container, error) {
	query := `
		SELECT id, kind, parent_id, name, created_at, updated_at
		FROM containers
		WHERE id = $1
	`

	var c domain.Container
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Kind, &c.ParentID, &c.Name, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrContainerNotFound
		}
		return nil, fmt.Errorf("query container: %w", err)
	}

	return &c, nil
}

// Path returns the chain of containers from the root organization down to
// (and including) the given container. Permission resolution walks this
// chain looking for a scope match; the closest-to-target match wins.
func (r *ContainerRepo) Path(ctx context.Context, id string) ([]domain.Container, error) {
	query := `
		WITH RECURSIVE chain AS (
			SELECT id, kind, parent_id, name, created_at, updated_at, 0 AS height
			FROM containers WHERE id = $1
			UNION ALL
			SELECT c.id, c.kind, c.parent_id, c.name, c.created_at, c.updated_at, chain.height + 1
			FROM containers c
			JOIN chain ON chain.parent_id = c.id
		)
		SELECT id, kind, parent_id, name, created_at, updated_at
		FROM chain
		ORDER BY height DESC
	`

	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query container path: %w", err)
	}
	defer rows.Close()

	var path []domain.Container
	for rows.Next() {
		var c domain.Container
		if err := rows.Scan(&c.ID, &c.Kind, &c.ParentID, &c.Name, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan container path node: %w", err)
		}
		path = append(path, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate container path: %w", err)
	}

	if len(path) == 0 {
		return nil, ErrContainerNotFound
	}

	return path, nil
}

// OrgOf resolves the root organization ID of a container.
func (r *ContainerRepo) OrgOf(ctx context.Context, id string) (string, error) {
	path, err := r.Path(ctx, id)
	if err != nil {
		return "", err
	}
	return path[0].ID, nil
}

// ListChildren retrieves the direct children of a container, oldest first.
func (r *ContainerRepo) ListChildren(ctx context.Context, parentID string) ([]domain.Container, error) {
	query := `
		SELECT id, kind, parent_id, name, created_at, updated_at
		FROM containers
		WHERE parent_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("query container children: %w", err)
	}
	defer rows.Close()

	children := make([]domain.Container, 0)
	for rows.Next() {
		var c domain.Container
		if err := rows.Scan(&c.ID, &c.Kind, &c.ParentID, &c.Name, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan container child: %w", err)
		}
		children = append(children, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate container children: %w", err)
	}

	return children, nil
}

// Rename updates a container's name and writes the audit entry in the same
// transaction. Returns ErrContainerNotFound if no row was touched.
func (r *ContainerRepo) Rename(ctx context.Context, id, name string, audit *domain.AuditEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := renameContainerTx(ctx, tx, id, name); err != nil {
		return err
	}

	if err := insertAuditTx(ctx, tx, audit); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// RenameTx updates a container's name inside the caller's transaction.
// Used by the approval engine when a snapshot is restored on expiry.
func (r *ContainerRepo) RenameTx(ctx context.Context, tx pgx.Tx, id, name string) error {
	return renameContainerTx(ctx, tx, id, name)
}

func renameContainerTx(ctx context.Context, tx pgx.Tx, id, name string) error {
	tag, err := tx.Exec(ctx, `UPDATE containers SET name = $2, updated_at = NOW() WHERE id = $1`, id, name)
	if err != nil {
		return fmt.Errorf("update container: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrContainerNotFound
	}
	return nil
}

// Delete removes a container. Nested containers and scopes referencing any of
// them go with it via ON DELETE CASCADE; the database does the recursion.
func (r *ContainerRepo) Delete(ctx context.Context, id string, audit *domain.AuditEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM containers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete container: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrContainerNotFound
	}

	if err := insertAuditTx(ctx, tx, audit); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
