package permission

import (
	"testing"

	"gatehouse-api/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatrix(t *testing.T) {
	m, err := Default()
	require.NoError(t, err)
	assert.Equal(t, 1, m.Version())

	// Spot checks against the shipped seed.
	assert.True(t, m.Allows(domain.RolePlatformAdmin, domain.CategoryOrganization, domain.ActionDecideAdmission))
	assert.True(t, m.Allows(domain.RoleOrgAdmin, domain.CategoryActor, domain.ActionDecideAdmission))
	assert.False(t, m.Allows(domain.RoleOrgAdmin, domain.CategoryOrganization, domain.ActionDecideAdmission))
	assert.True(t, m.Allows(domain.RoleResourceOwner, domain.CategoryUnit, domain.ActionApproveEdit))
	assert.False(t, m.Allows(domain.RoleResident, domain.CategoryProperty, domain.ActionEdit))
	assert.False(t, m.Allows(domain.RoleVendor, domain.CategoryScope, domain.ActionGrantScope))
}

func TestMatrixFailsClosed(t *testing.T) {
	m, err := parse([]byte(`{
		"version": 3,
		"rules": [
			{"role": "resident", "grants": {"UNIT": ["VIEW"]}}
		]
	}`))
	require.NoError(t, err)
	assert.Equal(t, 3, m.Version())

	assert.True(t, m.Allows(domain.RoleResident, domain.CategoryUnit, domain.ActionView))

	// Anything not granted is denied: unknown role, missing category,
	// missing action.
	assert.False(t, m.Allows(domain.RoleVendor, domain.CategoryUnit, domain.ActionView))
	assert.False(t, m.Allows(domain.RoleResident, domain.CategoryLease, domain.ActionView))
	assert.False(t, m.Allows(domain.RoleResident, domain.CategoryUnit, domain.ActionDelete))
	assert.False(t, m.Allows(domain.Role("intruder"), domain.CategoryUnit, domain.ActionView))
}

func TestMatrixParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{
			name: "missing version",
			data: `{"rules": []}`,
		},
		{
			name: "negative version",
			data: `{"version": -1, "rules": []}`,
		},
		{
			name: "unknown role",
			data: `{"version": 1, "rules": [{"role": "superuser", "grants": {}}]}`,
		},
		{
			name: "duplicate role",
			data: `{"version": 1, "rules": [
				{"role": "resident", "grants": {}},
				{"role": "resident", "grants": {}}
			]}`,
		},
		{
			name: "unknown category",
			data: `{"version": 1, "rules": [{"role": "resident", "grants": {"WAREHOUSE": ["VIEW"]}}]}`,
		},
		{
			name: "unknown action",
			data: `{"version": 1, "rules": [{"role": "resident", "grants": {"UNIT": ["TELEPORT"]}}]}`,
		},
		{
			name: "malformed json",
			data: `{"version": 1,`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}
