package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantauthz/pkg/tenancy"
)

func createTestRole(t *testing.T, store *SQLStore, name string, tenantID int64, perms ...Permission) *Role {
	t.Helper()
	role := &Role{Name: name, DisplayName: name, TenantID: tenantID, Permissions: perms}
	require.NoError(t, store.CreateRole(context.Background(), role))
	require.NotZero(t, role.ID)
	return role
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, RunMigrations(context.Background(), db, DialectSQLite))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM authz_migrations").Scan(&count))
	assert.Equal(t, len(GetMigrations(DialectSQLite)), count)
}

func TestSQLStore_RolesAreTenantScoped(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	view := Permission{Resource: ResourceDocument, Action: ActionView}
	roleA := createTestRole(t, store, "reader", tenantA, view)
	roleB := createTestRole(t, store, "reader", tenantB, view)

	require.NoError(t, store.AssignRole(ctx, &UserRole{UserID: 10, RoleID: roleA.ID, TenantID: tenantA}))

	roles, err := store.GetRolesForUser(ctx, 10, tenantA)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, roleA.ID, roles[0].ID)
	assert.Equal(t, tenantA, roles[0].TenantID)

	roles, err = store.GetRolesForUser(ctx, 10, tenantB)
	require.NoError(t, err)
	assert.Empty(t, roles)

	err = store.AssignRole(ctx, &UserRole{UserID: 10, RoleID: roleB.ID, TenantID: tenantA})
	assert.ErrorIs(t, err, ErrTenantMismatch)

	err = store.AssignRole(ctx, &UserRole{UserID: 10, RoleID: 999, TenantID: tenantA})
	assert.ErrorIs(t, err, ErrRoleNotFound)
}

func TestSQLStore_AssignRoleIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	role := createTestRole(t, store, "reader", tenantA)

	first := &UserRole{UserID: 10, RoleID: role.ID, TenantID: tenantA}
	require.NoError(t, store.AssignRole(ctx, first))
	second := &UserRole{UserID: 10, RoleID: role.ID, TenantID: tenantA}
	require.NoError(t, store.AssignRole(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	users, err := store.GetUsersForRole(ctx, role.ID, tenantA)
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, users)

	require.NoError(t, store.RevokeRole(ctx, 10, role.ID, tenantA))
	users, err = store.GetUsersForRole(ctx, role.ID, tenantA)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestSQLStore_SystemRoles(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	sys := &Role{
		Name:                         RoleSupportAgent,
		DisplayName:                  "Support",
		IsSystemRole:                 true,
		AllowedCrossTenantOperations: []OperationType{OperationTenantSupport},
	}
	require.NoError(t, store.CreateRole(ctx, sys))
	require.NoError(t, store.AssignRole(ctx, &UserRole{UserID: 99, RoleID: sys.ID}))

	roles, err := store.GetSystemRolesForUser(ctx, 99)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.True(t, roles[0].IsSystemRole)
	assert.True(t, roles[0].AllowsOperation(OperationTenantSupport))
	assert.False(t, roles[0].AllowsOperation(OperationAuditReview))

	// System roles never appear as tenant roles
	roles, err = store.GetRolesForUser(ctx, 99, 0)
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestSQLStore_RolePermissions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	view := Permission{Resource: ResourceDocument, Action: ActionView}
	update := Permission{Resource: ResourceDocument, Action: ActionUpdate}
	r1 := createTestRole(t, store, "r1", tenantA, view)
	r2 := createTestRole(t, store, "r2", tenantA, update)

	require.NoError(t, store.GrantPermissionToRole(ctx, r1.ID, view))
	require.NoError(t, store.GrantPermissionToRole(ctx, r1.ID, update))

	rps, err := store.GetPermissionsForRoles(ctx, []int64{r1.ID, r2.ID})
	require.NoError(t, err)
	assert.Len(t, rps, 3)

	require.NoError(t, store.RevokePermissionFromRole(ctx, r1.ID, update))
	role, err := store.GetRole(ctx, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, []Permission{view}, role.Permissions)

	rps, err = store.GetPermissionsForRoles(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, rps)

	_, err = store.DeleteRole(ctx, r2.ID)
	require.NoError(t, err)
	_, err = store.GetRole(ctx, r2.ID)
	assert.ErrorIs(t, err, ErrRoleNotFound)
	_, err = store.DeleteRole(ctx, r2.ID)
	assert.ErrorIs(t, err, ErrRoleNotFound)
}

func TestSQLStore_DirectPermissions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	export := Permission{Resource: ResourceReport, Action: ActionExport}
	view := Permission{Resource: ResourceReport, Action: ActionView}

	require.NoError(t, store.GrantDirectPermission(ctx, &DirectPermission{UserID: 10, TenantID: tenantA, Permission: export, ExpiresAt: &past}))
	require.NoError(t, store.GrantDirectPermission(ctx, &DirectPermission{UserID: 10, TenantID: tenantA, Permission: view, ExpiresAt: &future}))
	require.NoError(t, store.GrantDirectPermission(ctx, &DirectPermission{UserID: 10, TenantID: tenantB, Permission: view}))

	perms, err := store.GetDirectPermissions(ctx, 10, tenantA)
	require.NoError(t, err)
	require.Len(t, perms, 2)
	assert.False(t, perms[0].ActiveAt(now))
	assert.True(t, perms[1].ActiveAt(now))
	active := perms[1]

	perms, err = store.GetDirectPermissions(ctx, 10, tenantB)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Nil(t, perms[0].ExpiresAt)

	expired, err := store.ListExpiredDirectPermissions(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, export, expired[0].Permission)

	// Only rows still expired are deleted
	deleted, err := store.DeleteExpiredDirectPermission(ctx, expired[0].ID, now)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = store.DeleteExpiredDirectPermission(ctx, active.ID, now)
	require.NoError(t, err)
	assert.False(t, deleted)
	deleted, err = store.DeleteExpiredDirectPermission(ctx, perms[0].ID, now)
	require.NoError(t, err)
	assert.False(t, deleted)

	require.NoError(t, store.RevokeDirectPermission(ctx, 10, tenantA, view))
	perms, err = store.GetDirectPermissions(ctx, 10, tenantA)
	require.NoError(t, err)
	assert.Empty(t, perms)

	err = store.GrantDirectPermission(ctx, &DirectPermission{UserID: 10, Permission: view})
	assert.ErrorIs(t, err, ErrTenantContextMissing)
}

func TestSQLStore_ResourceCreator(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	creator, err := store.GetResourceCreator(ctx, tenantA, ResourceDocument, "d1")
	require.NoError(t, err)
	assert.Zero(t, creator)

	require.NoError(t, store.SetResourceCreator(ctx, tenantA, ResourceDocument, "d1", 10))
	require.NoError(t, store.SetResourceCreator(ctx, tenantA, ResourceDocument, "d1", 11))

	creator, err = store.GetResourceCreator(ctx, tenantA, ResourceDocument, "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(11), creator)

	creator, err = store.GetResourceCreator(ctx, tenantB, ResourceDocument, "d1")
	require.NoError(t, err)
	assert.Zero(t, creator)
}

func TestSQLStore_Tenants(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetTenant(ctx, tenantA)
	assert.ErrorIs(t, err, ErrTenantNotFound)

	require.NoError(t, store.UpsertTenant(ctx, &tenancy.Tenant{ID: tenantA, Name: "acme"}))
	tenant, err := store.GetTenant(ctx, tenantA)
	require.NoError(t, err)
	assert.Equal(t, "acme", tenant.Name)
	assert.Equal(t, tenancy.StatusActive, tenant.Status)

	assert.Error(t, store.UpsertTenant(ctx, &tenancy.Tenant{ID: 0}))
	assert.Error(t, store.UpsertTenant(ctx, &tenancy.Tenant{ID: 3, Status: "archived"}))
}
