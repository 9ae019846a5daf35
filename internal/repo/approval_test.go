package repo_test

import (
	"context"
	"os"
	"testing"
	"time"

	"gatehouse-api/internal/database"
	"gatehouse-api/internal/domain"
	"gatehouse-api/internal/ids"
	"gatehouse-api/internal/repo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestApprovalRepo_DuplicatePending_Integration validates that the partial
// unique index rejects a second PENDING request for the same
// (workflow_kind, subject_id) pair, and that settling the first request
// unblocks a new one.
//
// Prerequisites:
//   - DATABASE_URL environment variable must be set
//   - Migration 000001_core_schema must be applied
//
// Run with: go test -v ./internal/repo -run TestApprovalRepo_DuplicatePending_Integration
func TestApprovalRepo_DuplicatePending_Integration(t *testing.T) {
	// Skip if not running integration tests
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	databaseURL := os.Getenv("DATABASE_URL")

	pool, err := database.NewPool(ctx, databaseURL)
	require.NoError(t, err, "failed to connect to database")
	defer pool.Close()

	approvalRepo := repo.NewApprovalRepo(pool)

	subjectID := "test-subject-duplicate-pending"

	// Cleanup: remove test data before and after test
	cleanup := func() {
		_, _ = pool.Exec(ctx, `DELETE FROM approval_requests WHERE subject_id = $1`, subjectID)
		_, _ = pool.Exec(ctx, `DELETE FROM audit_log WHERE resource_id = $1`, subjectID)
	}
	cleanup()
	defer cleanup()

	newRequest := func() *domain.ApprovalRequest {
		return &domain.ApprovalRequest{
			ID:          ids.New(),
			OrgID:       "test-org-dup",
			Kind:        domain.WorkflowPropertyEdit,
			SubjectID:   subjectID,
			SubjectKind: domain.ContainerProperty,
			RequestedBy: "test-actor-dup",
			Status:      domain.StatusPending,
			ExpiresAt:   time.Now().Add(24 * time.Hour),
		}
	}

	// First insert succeeds
	first := newRequest()
	require.NoError(t, approvalRepo.Insert(ctx, first, nil))

	// Second PENDING insert for the same subject is rejected
	second := newRequest()
	err = approvalRepo.Insert(ctx, second, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, repo.ErrDuplicatePending)

	// Settle the first request
	tx, err := approvalRepo.BeginTx(ctx)
	require.NoError(t, err)
	decider := "test-decider-dup"
	settled, err := approvalRepo.TransitionFromPendingTx(ctx, tx, first.ID, domain.StatusApproved, &decider, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	assert.True(t, settled)

	// A new PENDING request is allowed once the old one is terminal
	third := newRequest()
	require.NoError(t, approvalRepo.Insert(ctx, third, nil))
}

// TestApprovalRepo_TransitionCAS_Integration validates that the
// compare-and-swap transition settles a PENDING request exactly once:
// the losing transition reports zero rows instead of overwriting.
func TestApprovalRepo_TransitionCAS_Integration(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	databaseURL := os.Getenv("DATABASE_URL")

	pool, err := database.NewPool(ctx, databaseURL)
	require.NoError(t, err)
	defer pool.Close()

	approvalRepo := repo.NewApprovalRepo(pool)

	subjectID := "test-subject-cas"

	cleanup := func() {
		_, _ = pool.Exec(ctx, `DELETE FROM approval_requests WHERE subject_id = $1`, subjectID)
	}
	cleanup()
	defer cleanup()

	req := &domain.ApprovalRequest{
		ID:          ids.New(),
		OrgID:       "test-org-cas",
		Kind:        domain.WorkflowUnitEdit,
		SubjectID:   subjectID,
		SubjectKind: domain.ContainerUnit,
		RequestedBy: "test-actor-cas",
		Status:      domain.StatusPending,
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}
	require.NoError(t, approvalRepo.Insert(ctx, req, nil))

	// First transition wins
	tx1, err := approvalRepo.BeginTx(ctx)
	require.NoError(t, err)
	decider := "test-decider-cas"
	won, err := approvalRepo.TransitionFromPendingTx(ctx, tx1, req.ID, domain.StatusRejected, &decider, nil)
	require.NoError(t, err)
	require.NoError(t, tx1.Commit(ctx))
	assert.True(t, won)

	// Second transition loses: no row is in PENDING anymore
	tx2, err := approvalRepo.BeginTx(ctx)
	require.NoError(t, err)
	won, err = approvalRepo.TransitionFromPendingTx(ctx, tx2, req.ID, domain.StatusExpired, nil, nil)
	require.NoError(t, err)
	require.NoError(t, tx2.Commit(ctx))
	assert.False(t, won)

	// Losing transition left the record untouched
	got, err := approvalRepo.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, got.Status)
	require.NotNil(t, got.DecidedBy)
	assert.Equal(t, decider, *got.DecidedBy)
}

// TestInvitationRepo_ConsumeTx_Integration validates single-use consumption
// under row locking and the expired-token rejection.
func TestInvitationRepo_ConsumeTx_Integration(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	databaseURL := os.Getenv("DATABASE_URL")

	pool, err := database.NewPool(ctx, databaseURL)
	require.NoError(t, err)
	defer pool.Close()

	invitationRepo := repo.NewInvitationRepo(pool)

	tokenHash := "test-hash-consume-integration"

	cleanup := func() {
		_, _ = pool.Exec(ctx, `DELETE FROM invitation_tokens WHERE token_hash LIKE 'test-hash-%'`)
	}
	cleanup()
	defer cleanup()

	token := &domain.InvitationToken{
		ID:          ids.New(),
		TokenHash:   tokenHash,
		Kind:        domain.WorkflowUserAdmission,
		TargetEmail: "invitee@example.com",
		Role:        domain.RoleResident,
		OrgID:       "test-org-consume",
		IssuerID:    "test-issuer-consume",
		ExpiresAt:   time.Now().Add(72 * time.Hour),
	}
	require.NoError(t, invitationRepo.Insert(ctx, token, nil))

	// First consume succeeds
	tx, err := invitationRepo.BeginTx(ctx)
	require.NoError(t, err)
	consumed, err := invitationRepo.ConsumeTx(ctx, tx, tokenHash, time.Now())
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, "invitee@example.com", consumed.TargetEmail)

	// Second consume fails with ErrTokenConsumed
	tx, err = invitationRepo.BeginTx(ctx)
	require.NoError(t, err)
	_, err = invitationRepo.ConsumeTx(ctx, tx, tokenHash, time.Now())
	require.NoError(t, tx.Rollback(ctx))
	assert.ErrorIs(t, err, repo.ErrTokenConsumed)

	// Expired tokens are rejected without being consumed
	expiredHash := "test-hash-expired-integration"
	expired := &domain.InvitationToken{
		ID:          ids.New(),
		TokenHash:   expiredHash,
		Kind:        domain.WorkflowUserAdmission,
		TargetEmail: "late@example.com",
		Role:        domain.RoleVendor,
		OrgID:       "test-org-consume",
		IssuerID:    "test-issuer-consume",
		ExpiresAt:   time.Now().Add(-1 * time.Hour),
	}
	require.NoError(t, invitationRepo.Insert(ctx, expired, nil))

	tx, err = invitationRepo.BeginTx(ctx)
	require.NoError(t, err)
	_, err = invitationRepo.ConsumeTx(ctx, tx, expiredHash, time.Now())
	require.NoError(t, tx.Rollback(ctx))
	assert.ErrorIs(t, err, repo.ErrTokenExpired)

	got, err := invitationRepo.GetByHash(ctx, expiredHash)
	require.NoError(t, err)
	assert.False(t, got.Consumed())
}
