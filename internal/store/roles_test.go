// ABOUTME: Tests for role store operations
// ABOUTME: Covers idempotent grants, removal, ordering, and validation

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoles(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreatePrincipal(ctx, &Principal{
			ID: "p1", Type: PrincipalTypeUser, DisplayName: "alice", Status: PrincipalStatusApproved,
		}))

		roles, err := s.ListRoles(ctx, "p1")
		require.NoError(t, err)
		assert.Empty(t, roles)
		assert.NotNil(t, roles)

		require.NoError(t, s.AddRole(ctx, "p1", RoleMember))
		require.NoError(t, s.AddRole(ctx, "p1", RoleAdmin))
		require.NoError(t, s.AddRole(ctx, "p1", RoleAdmin))

		roles, err = s.ListRoles(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, []RoleName{RoleAdmin, RoleMember}, roles)

		require.NoError(t, s.RemoveRole(ctx, "p1", RoleAdmin))
		require.NoError(t, s.RemoveRole(ctx, "p1", RoleOwner))
		roles, err = s.ListRoles(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, []RoleName{RoleMember}, roles)

		assert.Error(t, s.AddRole(ctx, "p1", "superuser"))
	})
}
