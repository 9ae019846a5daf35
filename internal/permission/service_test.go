package permission

import (
	"context"
	"errors"
	"testing"

	"gatehouse-api/internal/audit"
	"gatehouse-api/internal/domain"
	"gatehouse-api/internal/observability/logger"
	"gatehouse-api/internal/repo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuditStore struct {
	entries []domain.AuditEntry
	fail    bool
}

func (f *fakeAuditStore) Append(_ context.Context, entry *domain.AuditEntry) error {
	if f.fail {
		return errors.New("audit store down")
	}
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeAuditStore) Query(_ context.Context, _ domain.AuditQuery) ([]domain.AuditEntry, string, error) {
	return nil, "", nil
}

type fakeActorStore struct {
	actors map[string]*domain.Actor
}

func (f *fakeActorStore) Get(_ context.Context, id string) (*domain.Actor, error) {
	a, ok := f.actors[id]
	if !ok {
		return nil, repo.ErrActorNotFound
	}
	return a, nil
}

type fakeScopeWriter struct {
	scopes  map[string]*domain.Scope
	granted []domain.Scope
	audits  []domain.AuditEntry
}

func (f *fakeScopeWriter) Get(_ context.Context, id string) (*domain.Scope, error) {
	s, ok := f.scopes[id]
	if !ok {
		return nil, repo.ErrScopeNotFound
	}
	return s, nil
}

func (f *fakeScopeWriter) Grant(_ context.Context, s *domain.Scope, entry *domain.AuditEntry) error {
	f.granted = append(f.granted, *s)
	f.audits = append(f.audits, *entry)
	return nil
}

func (f *fakeScopeWriter) Revoke(_ context.Context, id string, entry *domain.AuditEntry) error {
	if _, ok := f.scopes[id]; !ok {
		return repo.ErrScopeNotFound
	}
	delete(f.scopes, id)
	f.audits = append(f.audits, *entry)
	return nil
}

func newTestService(t *testing.T, actors map[string]*domain.Actor, scopes map[string][]domain.Scope, store *fakeAuditStore) (*Service, *fakeScopeWriter) {
	t.Helper()
	log, err := logger.New("gatehouse-api-test", "error")
	require.NoError(t, err)
	writer := &fakeScopeWriter{scopes: map[string]*domain.Scope{}}
	resolver := newTestResolver(t, scopes)
	svc := NewService(resolver, &fakeActorStore{actors: actors}, writer, audit.NewTrail(store, log), log)
	return svc, writer
}

func TestCheckPermission_AuditFailureBlocksAllowed(t *testing.T) {
	store := &fakeAuditStore{fail: true}
	svc, _ := newTestService(t, map[string]*domain.Actor{
		"admin-1": activeActor("admin-1", domain.RolePlatformAdmin),
	}, nil, store)

	// The resolution itself would be allowed; the lost audit write makes
	// the check fail instead of reporting it.
	_, err := svc.CheckPermission(context.Background(), "org-1", "admin-1", domain.CheckPermissionRequest{
		Action:   domain.ActionView,
		Category: domain.CategoryProperty,
		Target:   domain.ScopeRef{Kind: domain.ContainerProperty, ID: "prop-1"},
	})
	assert.Error(t, err)
}

func TestCheckPermission_RecordsDecision(t *testing.T) {
	store := &fakeAuditStore{}
	svc, _ := newTestService(t, map[string]*domain.Actor{
		"res-1": activeActor("res-1", domain.RoleResident),
	}, nil, store)

	d, err := svc.CheckPermission(context.Background(), "org-1", "res-1", domain.CheckPermissionRequest{
		Action:   domain.ActionDelete,
		Category: domain.CategoryProperty,
		Target:   domain.ScopeRef{Kind: domain.ContainerProperty, ID: "prop-1"},
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, domain.ReasonRoleDenied, d.Reason)

	require.Len(t, store.entries, 1)
	entry := store.entries[0]
	assert.Equal(t, "CHECK_PERMISSION", entry.Action)
	assert.Equal(t, domain.AuditOutcomeDenied, entry.Outcome)
	assert.Equal(t, domain.ReasonRoleDenied, entry.Detail["reason"])
}

func TestCheckPermission_UnknownActorDenied(t *testing.T) {
	store := &fakeAuditStore{}
	svc, _ := newTestService(t, map[string]*domain.Actor{}, nil, store)

	d, err := svc.CheckPermission(context.Background(), "org-1", "ghost", domain.CheckPermissionRequest{
		Action:   domain.ActionView,
		Category: domain.CategoryUnit,
		Target:   domain.ScopeRef{Kind: domain.ContainerUnit, ID: "unit-1"},
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	require.Len(t, store.entries, 1)
	assert.Equal(t, domain.AuditOutcomeDenied, store.entries[0].Outcome)
}

func TestGrantScope_RequiresAuthority(t *testing.T) {
	store := &fakeAuditStore{}
	svc, writer := newTestService(t, map[string]*domain.Actor{
		"mgr-1": activeActor("mgr-1", domain.RoleOrgManager),
		"adm-1": activeActor("adm-1", domain.RoleOrgAdmin),
	}, map[string][]domain.Scope{
		"adm-1": {{ID: "sc-1", ActorID: "adm-1", ContainerKind: domain.ContainerOrganization, ContainerID: "org-1"}},
	}, store)

	req := domain.GrantScopeRequest{
		ActorID:       "res-9",
		ContainerKind: domain.ContainerProperty,
		ContainerID:   "prop-1",
	}

	// org_manager has no GRANT_SCOPE cell in the matrix.
	_, err := svc.GrantScope(context.Background(), "org-1", "mgr-1", req)
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, domain.ReasonRoleDenied, denied.Decision.Reason)
	assert.Empty(t, writer.granted)

	// org_admin scoped to the organization may grant within it.
	scope, err := svc.GrantScope(context.Background(), "org-1", "adm-1", req)
	require.NoError(t, err)
	assert.Equal(t, "res-9", scope.ActorID)
	assert.Equal(t, "prop-1", scope.ContainerID)
	assert.Equal(t, "adm-1", scope.GrantedBy)
	require.Len(t, writer.audits, 1)
	assert.Equal(t, domain.AuditOutcomeGranted, writer.audits[0].Outcome)
}

func TestRevokeScope(t *testing.T) {
	store := &fakeAuditStore{}
	svc, writer := newTestService(t, map[string]*domain.Actor{
		"adm-1": activeActor("adm-1", domain.RoleOrgAdmin),
	}, map[string][]domain.Scope{
		"adm-1": {{ID: "sc-1", ActorID: "adm-1", ContainerKind: domain.ContainerOrganization, ContainerID: "org-1"}},
	}, store)

	writer.scopes["sc-2"] = &domain.Scope{
		ID:            "sc-2",
		ActorID:       "res-9",
		ContainerKind: domain.ContainerProperty,
		ContainerID:   "prop-1",
	}

	err := svc.RevokeScope(context.Background(), "org-1", "adm-1", "sc-2")
	require.NoError(t, err)
	require.Len(t, writer.audits, 1)
	assert.Equal(t, domain.AuditOutcomeRevoked, writer.audits[0].Outcome)

	err = svc.RevokeScope(context.Background(), "org-1", "adm-1", "sc-2")
	assert.ErrorIs(t, err, repo.ErrScopeNotFound)
}

func TestSeedMatrix_PlatformAdminOnly(t *testing.T) {
	store := &fakeAuditStore{}
	svc, _ := newTestService(t, map[string]*domain.Actor{
		"adm-1":   activeActor("adm-1", domain.RoleOrgAdmin),
		"admin-1": activeActor("admin-1", domain.RolePlatformAdmin),
	}, nil, store)

	_, err := svc.SeedMatrix(context.Background(), "org-1", "adm-1", "")
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)

	version, err := svc.SeedMatrix(context.Background(), "", "admin-1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	require.Len(t, store.entries, 1)
	assert.Equal(t, domain.AuditOutcomeReseeded, store.entries[0].Outcome)
}
