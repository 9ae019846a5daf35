package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gatehouse-api/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrTokenNotFound = errors.New("invitation token not found")

	// ErrTokenConsumed indicates the token has already been used
	ErrTokenConsumed = errors.New("invitation token already consumed")

	// ErrTokenExpired indicates the token's deadline passed before consumption
	ErrTokenExpired = errors.New("invitation token expired")
)

// InvitationRepo handles database operations for invitation tokens. Only the
// SHA-256 hash of a token is ever stored; the plaintext exists in memory for
// the duration of the issue request and never again.
type InvitationRepo struct {
	pool *pgxpool.Pool
}

// NewInvitationRepo creates a new InvitationRepo
func NewInvitationRepo(pool *pgxpool.Pool) *InvitationRepo {
	return &InvitationRepo{pool: pool}
}

// BeginTx starts a transaction. Callers pair it with defer tx.Rollback(ctx)
// and tx.Commit(ctx).
func (r *InvitationRepo) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Insert stores a freshly issued token with its audit entry in one
// transaction.
func (r *InvitationRepo) Insert(ctx context.Context, t *domain.InvitationToken, audit *domain.AuditEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO invitation_tokens (
			id, token_hash, workflow_kind, target_email, role, org_id, issuer_id, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING issued_at
	`
	err = tx.QueryRow(ctx, query,
		t.ID, t.TokenHash, t.Kind, t.TargetEmail, t.Role, t.OrgID, t.IssuerID, t.ExpiresAt,
	).Scan(&t.IssuedAt)
	if err != nil {
		return fmt.Errorf("insert invitation token: %w", err)
	}

	if err := insertAuditTx(ctx, tx, audit); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetByHash retrieves a token by its SHA-256 hash.
func (r *InvitationRepo) GetByHash(ctx context.Context, tokenHash string) (*domain.InvitationToken, error) {
	query := `
		SELECT id, token_hash, workflow_kind, target_email, role, org_id, issuer_id,
		       issued_at, expires_at, consumed_at
		FROM invitation_tokens
		WHERE token_hash = $1
	`

	var t domain.InvitationToken
	err := r.pool.QueryRow(ctx, query, tokenHash).Scan(
		&t.ID, &t.TokenHash, &t.Kind, &t.TargetEmail, &t.Role, &t.OrgID, &t.IssuerID,
		&t.IssuedAt, &t.ExpiresAt, &t.ConsumedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("query invitation token: %w", err)
	}

	return &t, nil
}

// ConsumeTx locks the token row, validates it and marks it consumed, all
// inside the caller's transaction. The ledger pairs this with the approval
// insert so a token is never burned without its workflow opening, and vice
// versa.
//
// Returns the token as it was before consumption. Expired or already-consumed
// tokens are left untouched.
func (r *InvitationRepo) ConsumeTx(ctx context.Context, tx pgx.Tx, tokenHash string, now time.Time) (*domain.InvitationToken, error) {
	query := `
		SELECT id, token_hash, workflow_kind, target_email, role, org_id, issuer_id,
		       issued_at, expires_at, consumed_at
		FROM invitation_tokens
		WHERE token_hash = $1
		FOR UPDATE
	`

	var t domain.InvitationToken
	err := tx.QueryRow(ctx, query, tokenHash).Scan(
		&t.ID, &t.TokenHash, &t.Kind, &t.TargetEmail, &t.Role, &t.OrgID, &t.IssuerID,
		&t.IssuedAt, &t.ExpiresAt, &t.ConsumedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("lock invitation token: %w", err)
	}

	if t.Consumed() {
		return nil, ErrTokenConsumed
	}
	if !now.Before(t.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	_, err = tx.Exec(ctx,
		`UPDATE invitation_tokens SET consumed_at = $2 WHERE id = $1`,
		t.ID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("mark invitation token consumed: %w", err)
	}

	return &t, nil
}
