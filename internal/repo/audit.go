package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gatehouse-api/internal/domain"
	"gatehouse-api/internal/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRepo handles the append-only audit log. Entries are never updated or
// deleted here; retention is an external concern.
type AuditRepo struct {
	pool *pgxpool.Pool
}

// NewAuditRepo creates a new AuditRepo
func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

const insertAuditSQL = `
	INSERT INTO audit_log (
		id, org_id, actor_id, action, resource_type, resource_id,
		outcome, detail, occurred_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

// Append writes a single audit entry with its own connection.
// Used on read paths (permission checks); mutations audit inside their own
// transaction via AppendTx so the entry and the mutation commit together.
func (r *AuditRepo) Append(ctx context.Context, entry *domain.AuditEntry) error {
	detailJSON, err := marshalDetail(entry.Detail)
	if err != nil {
		return err
	}

	fillAuditDefaults(entry)

	_, err = r.pool.Exec(ctx, insertAuditSQL,
		entry.ID, entry.OrgID, entry.ActorID, entry.Action, entry.ResourceType,
		entry.ResourceID, entry.Outcome, detailJSON, entry.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	return nil
}

// AppendTx writes an audit entry inside the caller's transaction. Mutating
// repo methods use this so an operation is never reported without its audit
// record committing alongside it.
func (r *AuditRepo) AppendTx(ctx context.Context, tx pgx.Tx, entry *domain.AuditEntry) error {
	return insertAuditTx(ctx, tx, entry)
}

func insertAuditTx(ctx context.Context, tx pgx.Tx, entry *domain.AuditEntry) error {
	if entry == nil {
		return nil
	}

	detailJSON, err := marshalDetail(entry.Detail)
	if err != nil {
		return err
	}

	fillAuditDefaults(entry)

	_, err = tx.Exec(ctx, insertAuditSQL,
		entry.ID, entry.OrgID, entry.ActorID, entry.Action, entry.ResourceType,
		entry.ResourceID, entry.Outcome, detailJSON, entry.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	return nil
}

func fillAuditDefaults(entry *domain.AuditEntry) {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
}

func marshalDetail(detail map[string]any) ([]byte, error) {
	if detail == nil {
		return nil, nil
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("marshal audit detail: %w", err)
	}
	return detailJSON, nil
}

// Query retrieves audit entries for an organization, newest first, with
// cursor pagination on occurred_at.
func (r *AuditRepo) Query(ctx context.Context, q domain.AuditQuery) ([]domain.AuditEntry, string, error) {
	query := `
		SELECT id, org_id, actor_id, action, resource_type, resource_id,
		       outcome, detail, occurred_at
		FROM audit_log
		WHERE org_id = $1
	`
	args := []interface{}{q.OrgID}
	argIdx := 2

	if q.ActorID != nil {
		query += fmt.Sprintf(" AND actor_id = $%d", argIdx)
		args = append(args, *q.ActorID)
		argIdx++
	}

	if q.ResourceType != nil {
		query += fmt.Sprintf(" AND resource_type = $%d", argIdx)
		args = append(args, *q.ResourceType)
		argIdx++
	}

	if q.Outcome != nil {
		query += fmt.Sprintf(" AND outcome = $%d", argIdx)
		args = append(args, *q.Outcome)
		argIdx++
	}

	if q.Cursor != nil && *q.Cursor != "" {
		cursorTime, err := time.Parse(time.RFC3339Nano, *q.Cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor format: %w", err)
		}
		query += fmt.Sprintf(" AND occurred_at < $%d", argIdx)
		args = append(args, cursorTime)
		argIdx++
	}

	query += " ORDER BY occurred_at DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, q.Limit+1) // +1 to check if there's a next page

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.AuditEntry, 0, q.Limit)
	for rows.Next() {
		var e domain.AuditEntry
		var detailJSON []byte
		err := rows.Scan(
			&e.ID, &e.OrgID, &e.ActorID, &e.Action, &e.ResourceType,
			&e.ResourceID, &e.Outcome, &detailJSON, &e.OccurredAt,
		)
		if err != nil {
			return nil, "", fmt.Errorf("scan audit entry: %w", err)
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, "", fmt.Errorf("unmarshal audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterate audit entries: %w", err)
	}

	var nextCursor string
	if len(entries) > q.Limit {
		nextCursor = entries[q.Limit-1].OccurredAt.Format(time.RFC3339Nano)
		entries = entries[:q.Limit]
	}

	return entries, nextCursor, nil
}
