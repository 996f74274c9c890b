package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

func TestAuthzAdminIsImplicitMember(t *testing.T) {
	a := NewAuthz(map[Role]string{RoleSettler: "boss"})

	assert.True(t, a.Allowed(RoleSettler, "boss"))
	assert.False(t, a.Allowed(RoleSettler, "worker"))
	assert.False(t, a.Allowed(RoleScheduler, "boss"))
}

func TestAuthzGrantRevoke(t *testing.T) {
	a := NewAuthz(map[Role]string{RoleSettler: "boss"})

	// Only the role administrator may grant.
	assert.ErrorIs(t, a.Grant("worker", RoleSettler, "worker"), domain.ErrUnauthorized)

	require.NoError(t, a.Grant("boss", RoleSettler, "worker"))
	assert.True(t, a.Allowed(RoleSettler, "worker"))

	// Membership in one role confers nothing on another.
	assert.False(t, a.Allowed(RoleEngineOps, "worker"))

	require.NoError(t, a.Revoke("boss", RoleSettler, "worker"))
	assert.False(t, a.Allowed(RoleSettler, "worker"))

	// Revoke is idempotent.
	require.NoError(t, a.Revoke("boss", RoleSettler, "worker"))
}

func TestAuthzRoleWithoutAdmin(t *testing.T) {
	a := NewAuthz(map[Role]string{RoleSettler: "boss"})

	// A role with no administrator cannot be granted by anyone.
	assert.ErrorIs(t, a.Grant("boss", RoleScheduler, "worker"), domain.ErrUnauthorized)
	assert.ErrorIs(t, a.Grant("", RoleScheduler, "worker"), domain.ErrUnauthorized)
	assert.False(t, a.Allowed(RoleScheduler, "worker"))
}
