package authz_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringhub.sh/ringhub/core/authz"
)

func setupEnforcer(t *testing.T) *authz.Enforcer {
	e, err := authz.NewEnforcer(":memory:")
	require.NoError(t, err)
	return e
}

func TestSetRolePermissionsAndHasPermission(t *testing.T) {
	e := setupEnforcer(t)

	require.NoError(t, e.SetRolePermissions("ring-1", "owner", []string{"manage_ring", "delete_ring"}))
	require.NoError(t, e.AssignRole("ring-1", "did:web:alice.example", "owner"))

	has, err := e.HasPermission("ring-1", "did:web:alice.example", "manage_ring")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = e.HasPermission("ring-1", "did:web:alice.example", "moderate_posts")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestAssignRoleReplacesPreviousRole(t *testing.T) {
	e := setupEnforcer(t)

	require.NoError(t, e.SetRolePermissions("ring-1", "member", []string{"submit_posts"}))
	require.NoError(t, e.SetRolePermissions("ring-1", "moderator", []string{"moderate_posts"}))

	require.NoError(t, e.AssignRole("ring-1", "did:web:bob.example", "member"))
	require.NoError(t, e.AssignRole("ring-1", "did:web:bob.example", "moderator"))

	role, ok := e.RoleOf("ring-1", "did:web:bob.example")
	require.True(t, ok)
	assert.Equal(t, "moderator", role)

	has, err := e.HasPermission("ring-1", "did:web:bob.example", "submit_posts")
	require.NoError(t, err)
	assert.False(t, has, "previous role's permissions should no longer apply")
}

func TestRoleScopedPerRing(t *testing.T) {
	e := setupEnforcer(t)

	require.NoError(t, e.SetRolePermissions("ring-1", "owner", []string{"manage_ring"}))
	require.NoError(t, e.AssignRole("ring-1", "did:web:carol.example", "owner"))

	has, err := e.HasPermission("ring-2", "did:web:carol.example", "manage_ring")
	require.NoError(t, err)
	assert.False(t, has, "roles must not leak across rings")
}

func TestRevokeRole(t *testing.T) {
	e := setupEnforcer(t)

	require.NoError(t, e.SetRolePermissions("ring-1", "owner", []string{"manage_ring"}))
	require.NoError(t, e.AssignRole("ring-1", "did:web:dave.example", "owner"))
	require.NoError(t, e.RevokeRole("ring-1", "did:web:dave.example"))

	_, ok := e.RoleOf("ring-1", "did:web:dave.example")
	assert.False(t, ok)
}

func TestRemoveRing(t *testing.T) {
	e := setupEnforcer(t)

	require.NoError(t, e.SetRolePermissions("ring-1", "owner", []string{"manage_ring"}))
	require.NoError(t, e.AssignRole("ring-1", "did:web:erin.example", "owner"))
	require.NoError(t, e.RemoveRing("ring-1"))

	has, err := e.HasPermission("ring-1", "did:web:erin.example", "manage_ring")
	require.NoError(t, err)
	assert.False(t, has)
}
