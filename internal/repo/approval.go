package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gatehouse-api/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrApprovalNotFound = errors.New("approval request not found")

	// ErrDuplicatePending indicates a PENDING request already exists for the
	// same (workflow_kind, subject_id). Enforced by the partial unique index,
	// not by application bookkeeping.
	ErrDuplicatePending = errors.New("a pending request already exists for this subject")
)

// ApprovalRepo handles database operations for approval requests. All status
// transitions are compare-and-swap against PENDING so concurrent deciders and
// the expiration sweeper cannot double-settle a request.
type ApprovalRepo struct {
	pool *pgxpool.Pool
}

// NewApprovalRepo creates a new ApprovalRepo
func NewApprovalRepo(pool *pgxpool.Pool) *ApprovalRepo {
	return &ApprovalRepo{pool: pool}
}

// BeginTx starts a transaction. Callers pair it with defer tx.Rollback(ctx)
// and tx.Commit(ctx).
func (r *ApprovalRepo) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const approvalColumns = `
	id, org_id, workflow_kind, subject_id, subject_kind, subject_container_id,
	requested_by, requested_at, status, decided_by, decided_at, decision_note,
	expires_at, snapshot, payload
`

// Insert opens a new approval request with its audit entry in one transaction.
func (r *ApprovalRepo) Insert(ctx context.Context, req *domain.ApprovalRequest, audit *domain.AuditEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.InsertTx(ctx, tx, req); err != nil {
		return err
	}

	if err := insertAuditTx(ctx, tx, audit); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// InsertTx opens a new approval request inside the caller's transaction.
// The invitation ledger uses this to make token consumption atomic with
// workflow initiation.
func (r *ApprovalRepo) InsertTx(ctx context.Context, tx pgx.Tx, req *domain.ApprovalRequest) error {
	query := `
		INSERT INTO approval_requests (
			id, org_id, workflow_kind, subject_id, subject_kind, subject_container_id,
			requested_by, status, expires_at, snapshot, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING requested_at
	`

	err := tx.QueryRow(ctx, query,
		req.ID, req.OrgID, req.Kind, req.SubjectID, req.SubjectKind, req.SubjectContainerID,
		req.RequestedBy, req.Status, req.ExpiresAt, req.Snapshot, req.Payload,
	).Scan(&req.RequestedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return ErrDuplicatePending
		}
		return fmt.Errorf("insert approval request: %w", err)
	}

	return nil
}

// Get retrieves a single approval request by ID.
func (r *ApprovalRepo) Get(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE id = $1`

	var a domain.ApprovalRequest
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.OrgID, &a.Kind, &a.SubjectID, &a.SubjectKind, &a.SubjectContainerID,
		&a.RequestedBy, &a.RequestedAt, &a.Status, &a.DecidedBy, &a.DecidedAt, &a.DecisionNote,
		&a.ExpiresAt, &a.Snapshot, &a.Payload,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrApprovalNotFound
		}
		return nil, fmt.Errorf("query approval request: %w", err)
	}

	return &a, nil
}

// TransitionFromPendingTx settles a request from PENDING into a terminal
// status inside the caller's transaction. Returns false without error when no
// row was in PENDING anymore - the caller re-reads and decides whether the
// lost race was an idempotent replay.
func (r *ApprovalRepo) TransitionFromPendingTx(ctx context.Context, tx pgx.Tx, id string, to domain.ApprovalStatus, decidedBy, note *string) (bool, error) {
	query := `
		UPDATE approval_requests
		SET status = $2, decided_by = $3, decided_at = NOW(), decision_note = $4
		WHERE id = $1 AND status = 'PENDING'
	`

	tag, err := tx.Exec(ctx, query, id, to, decidedBy, note)
	if err != nil {
		return false, fmt.Errorf("transition approval request: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// ListExpiredPending retrieves PENDING requests whose deadline passed, oldest
// deadline first, capped at limit. The partial index on (expires_at) WHERE
// status = 'PENDING' keeps this cheap regardless of table size.
func (r *ApprovalRepo) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + `
		FROM approval_requests
		WHERE status = 'PENDING' AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query expired approvals: %w", err)
	}
	defer rows.Close()

	var expired []domain.ApprovalRequest
	for rows.Next() {
		var a domain.ApprovalRequest
		err := rows.Scan(
			&a.ID, &a.OrgID, &a.Kind, &a.SubjectID, &a.SubjectKind, &a.SubjectContainerID,
			&a.RequestedBy, &a.RequestedAt, &a.Status, &a.DecidedBy, &a.DecidedAt, &a.DecisionNote,
			&a.ExpiresAt, &a.Snapshot, &a.Payload,
		)
		if err != nil {
			return nil, fmt.Errorf("scan expired approval: %w", err)
		}
		expired = append(expired, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired approvals: %w", err)
	}

	return expired, nil
}

// List retrieves approval requests for an organization with optional filters,
// newest first, with cursor pagination on requested_at.
func (r *ApprovalRepo) List(ctx context.Context, params domain.ListApprovalsParams) ([]domain.ApprovalRequest, string, error) {
	query := `SELECT ` + approvalColumns + `
		FROM approval_requests
		WHERE org_id = $1
	`
	args := []interface{}{params.OrgID}
	argIdx := 2

	if params.Kind != nil {
		query += fmt.Sprintf(" AND workflow_kind = $%d", argIdx)
		args = append(args, *params.Kind)
		argIdx++
	}

	if params.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *params.Status)
		argIdx++
	}

	if params.Cursor != nil && *params.Cursor != "" {
		cursorTime, err := time.Parse(time.RFC3339Nano, *params.Cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor format: %w", err)
		}
		query += fmt.Sprintf(" AND requested_at < $%d", argIdx)
		args = append(args, cursorTime)
		argIdx++
	}

	query += " ORDER BY requested_at DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, params.Limit+1) // +1 to check if there's a next page

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("query approvals: %w", err)
	}
	defer rows.Close()

	approvals := make([]domain.ApprovalRequest, 0, params.Limit)
	for rows.Next() {
		var a domain.ApprovalRequest
		err := rows.Scan(
			&a.ID, &a.OrgID, &a.Kind, &a.SubjectID, &a.SubjectKind, &a.SubjectContainerID,
			&a.RequestedBy, &a.RequestedAt, &a.Status, &a.DecidedBy, &a.DecidedAt, &a.DecisionNote,
			&a.ExpiresAt, &a.Snapshot, &a.Payload,
		)
		if err != nil {
			return nil, "", fmt.Errorf("scan approval: %w", err)
		}
		approvals = append(approvals, a)
	}

	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterate approvals: %w", err)
	}

	var nextCursor string
	if len(approvals) > params.Limit {
		nextCursor = approvals[params.Limit-1].RequestedAt.Format(time.RFC3339Nano)
		approvals = approvals[:params.Limit]
	}

	return approvals, nextCursor, nil
}
