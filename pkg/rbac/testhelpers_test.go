package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDatabaseAvailable(t *testing.T) {
	t.Run("returns true when env var is set", func(t *testing.T) {
		t.Setenv(EnvTestPostgres, "postgres://test")
		assert.True(t, IsDatabaseAvailable())
	})

	t.Run("returns false when env var is empty", func(t *testing.T) {
		t.Setenv(EnvTestPostgres, "")
		assert.False(t, IsDatabaseAvailable())
	})
}

// Runs against AUTHZ_TEST_POSTGRES when it is set
func TestRequireDatabase_SeedsSystemRoles(t *testing.T) {
	db := RequireDatabase(t)
	ctx := context.Background()

	m, err := NewManager(ManagerConfig{DB: db})
	require.NoError(t, err)
	require.NoError(t, m.Initialize(ctx))

	support, err := m.Store().GetRoleByName(ctx, RoleSupportAgent, 0)
	require.NoError(t, err)
	assert.True(t, support.IsSystemRole)
	assert.True(t, support.AllowsOperation(OperationTenantSupport))
}
