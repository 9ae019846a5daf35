package service

import (
	"context"
	"testing"

	"gatehouse-api/internal/domain"
	"gatehouse-api/internal/observability/logger"
	"gatehouse-api/internal/permission"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeActorManager struct {
	fakeActorStore
	audits []domain.AuditEntry
}

func (f *fakeActorManager) RegrantRole(_ context.Context, actorID string, role domain.Role, audit *domain.AuditEntry) error {
	a, ok := f.byID[actorID]
	if !ok {
		return ErrActorNotFound
	}
	a.Role = role
	f.audits = append(f.audits, *audit)
	return nil
}

func (f *fakeActorManager) SetStatus(_ context.Context, actorID string, status domain.ActorStatus, audit *domain.AuditEntry) error {
	a, ok := f.byID[actorID]
	if !ok {
		return ErrActorNotFound
	}
	a.Status = status
	f.audits = append(f.audits, *audit)
	return nil
}

func newActorFixture(t *testing.T) (*ActorService, *fakeActorManager) {
	t.Helper()
	log, err := logger.New("gatehouse-api-test", "error")
	require.NoError(t, err)

	manager := &fakeActorManager{fakeActorStore: fakeActorStore{byID: map[string]*domain.Actor{
		"adm-1": {ID: "adm-1", OrgID: "org-1", Role: domain.RoleOrgAdmin, Status: domain.ActorStatusActive},
		"mgr-1": {ID: "mgr-1", OrgID: "org-1", Role: domain.RoleOrgManager, Status: domain.ActorStatusActive},
		"res-1": {ID: "res-1", OrgID: "org-1", Role: domain.RoleResident, Status: domain.ActorStatusActive},
	}}}
	gate := &fakeGate{deny: map[string]bool{"res-1": true}}
	return NewActorService(manager, gate, log), manager
}

func TestRegrantRole(t *testing.T) {
	svc, manager := newActorFixture(t)

	updated, err := svc.RegrantRole(context.Background(), "org-1", "adm-1", "res-1", domain.RoleOrgManager)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleOrgManager, updated.Role)
	require.Len(t, manager.audits, 1)
	assert.Equal(t, "REGRANT_ROLE", manager.audits[0].Action)
	assert.Equal(t, "resident", manager.audits[0].Detail["from"])
	assert.Equal(t, "org_manager", manager.audits[0].Detail["to"])
}

func TestRegrantRole_MustOutrankRequestedRole(t *testing.T) {
	svc, manager := newActorFixture(t)

	// org_admin (rank 4) cannot mint another org_admin (rank 4).
	_, err := svc.RegrantRole(context.Background(), "org-1", "adm-1", "res-1", domain.RoleOrgAdmin)
	assert.ErrorIs(t, err, ErrCannotOutrank)
	assert.Empty(t, manager.audits)
}

func TestRegrantRole_MustOutrankSubject(t *testing.T) {
	svc, manager := newActorFixture(t)
	manager.byID["peer-1"] = &domain.Actor{ID: "peer-1", OrgID: "org-1", Role: domain.RoleOrgAdmin, Status: domain.ActorStatusActive}

	_, err := svc.RegrantRole(context.Background(), "org-1", "adm-1", "peer-1", domain.RoleResident)
	assert.ErrorIs(t, err, ErrCannotOutrank)
}

func TestRegrantRole_GateDenies(t *testing.T) {
	svc, _ := newActorFixture(t)

	_, err := svc.RegrantRole(context.Background(), "org-1", "res-1", "mgr-1", domain.RoleResident)
	var denied *permission.DeniedError
	assert.ErrorAs(t, err, &denied)
}

func TestSetStatus(t *testing.T) {
	svc, manager := newActorFixture(t)

	updated, err := svc.SetStatus(context.Background(), "org-1", "adm-1", "res-1", domain.ActorStatusDisabled)
	require.NoError(t, err)
	assert.Equal(t, domain.ActorStatusDisabled, updated.Status)
	require.Len(t, manager.audits, 1)
	assert.Equal(t, "SET_ACTOR_STATUS", manager.audits[0].Action)
}

func TestSetStatus_UnknownActor(t *testing.T) {
	svc, _ := newActorFixture(t)

	_, err := svc.SetStatus(context.Background(), "org-1", "adm-1", "ghost", domain.ActorStatusDisabled)
	assert.ErrorIs(t, err, ErrActorNotFound)
}
