package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantauthz/pkg/cache"
	"github.com/platinummonkey/tenantauthz/pkg/observability"
)

func TestEngine_SameTenantRoleGrant(t *testing.T) {
	env := newTestEnv(t)
	env.assign(t, 10, RoleTenantEditor, tenantA)

	result := env.check(t, 10, tenantA, ResourceDocument, ActionUpdate)
	assert.True(t, result.Allowed)
	assert.Equal(t, CodeGranted, result.Code)
	assert.Equal(t, []string{RoleTenantEditor}, result.MatchedRoles)
	assert.False(t, result.Cached)

	result = env.check(t, 10, tenantA, ResourceDocument, ActionDelete)
	assert.False(t, result.Allowed)
	assert.Equal(t, CodeDenied, result.Code)
}

func TestEngine_TenantIsolation(t *testing.T) {
	env := newTestEnv(t)
	env.assign(t, 10, RoleTenantAdmin, tenantA)

	assert.True(t, env.check(t, 10, tenantA, ResourceInvoice, ActionView).Allowed)

	// Same user, same permission, other tenant with no assignment there
	result := env.check(t, 10, tenantB, ResourceInvoice, ActionView)
	assert.False(t, result.Allowed)
	assert.Equal(t, CodeDenied, result.Code)
}

func TestEngine_RoleFromOtherTenantCannotBeAssigned(t *testing.T) {
	env := newTestEnv(t)

	err := env.admin.AssignRole(context.Background(), 10, env.roleID(t, RoleTenantAdmin, tenantA), tenantB, nil)
	assert.ErrorIs(t, err, ErrTenantMismatch)
	assert.False(t, env.check(t, 10, tenantB, ResourceInvoice, ActionView).Allowed)
}

func TestEngine_TenantContextMissing(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.engine.CheckPermission(context.Background(), PermissionCheck{
		UserID:     10,
		Permission: Permission{Resource: ResourceDocument, Action: ActionView},
	})
	assert.ErrorIs(t, err, ErrTenantContextMissing)
	require.NotNil(t, result)
	assert.False(t, result.Allowed)
	assert.Equal(t, CodeTenantContextMissing, result.Code)
}

func TestEngine_UnknownPermission(t *testing.T) {
	env := newTestEnv(t)
	env.assign(t, 10, RoleTenantAdmin, tenantA)

	result, err := env.engine.CheckPermission(context.Background(), PermissionCheck{
		UserID:     10,
		TenantID:   tenantA,
		Permission: Permission{Resource: ResourceSettings, Action: ActionExport},
	})
	assert.ErrorIs(t, err, ErrUnknownPermission)
	assert.False(t, result.Allowed)
	assert.Equal(t, CodeUnknownPermission, result.Code)
}

func TestEngine_CrossTenant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.assign(t, 10, RoleTenantAdmin, tenantA)
	require.NoError(t, env.admin.AssignRole(ctx, 99, env.roleID(t, RoleSupportAgent, 0), 0, nil))

	t.Run("tenant role never crosses tenants", func(t *testing.T) {
		result, err := env.engine.CheckPermission(ctx, PermissionCheck{
			UserID:         10,
			TenantID:       tenantA,
			TargetTenantID: tenantB,
			Permission:     Permission{Resource: ResourceUser, Action: ActionView},
			Operation:      OperationTenantSupport,
		})
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, CodeTenantBoundary, result.Code)
		assert.Equal(t, ReasonCrossTenant, result.Reason)
	})

	t.Run("operation required", func(t *testing.T) {
		result, err := env.engine.CheckPermission(ctx, PermissionCheck{
			UserID:         99,
			TenantID:       tenantA,
			TargetTenantID: tenantB,
			Permission:     Permission{Resource: ResourceUser, Action: ActionView},
		})
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, ReasonOperationRequired, result.Reason)
	})

	t.Run("support agent reads users", func(t *testing.T) {
		result, err := env.engine.CheckPermission(ctx, PermissionCheck{
			UserID:         99,
			TenantID:       tenantA,
			TargetTenantID: tenantB,
			Permission:     Permission{Resource: ResourceUser, Action: ActionView},
			Operation:      OperationTenantSupport,
		})
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, []string{RoleSupportAgent}, result.MatchedRoles)
		assert.False(t, result.Cached)
	})

	t.Run("support agent limited to system role permissions", func(t *testing.T) {
		result, err := env.engine.CheckPermission(ctx, PermissionCheck{
			UserID:         99,
			TenantID:       tenantA,
			TargetTenantID: tenantB,
			Permission:     Permission{Resource: ResourceDocument, Action: ActionView},
			Operation:      OperationTenantSupport,
		})
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, CodeDenied, result.Code)
	})

	t.Run("operation not held by role", func(t *testing.T) {
		result, err := env.engine.CheckPermission(ctx, PermissionCheck{
			UserID:         99,
			TenantID:       tenantA,
			TargetTenantID: tenantB,
			Permission:     Permission{Resource: ResourceUser, Action: ActionView},
			Operation:      OperationTenantProvisioning,
		})
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, CodeTenantBoundary, result.Code)
	})

	t.Run("system role does not grant inside own tenant", func(t *testing.T) {
		assert.False(t, env.check(t, 99, tenantA, ResourceUser, ActionView).Allowed)
	})

	calls := env.audit.CrossTenant()
	require.Len(t, calls, 5)
	assert.False(t, calls[0].allowed)
	assert.True(t, calls[2].allowed)
	assert.Equal(t, tenantB, calls[2].target)
}

func TestEngine_DependenciesNeverGrant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	role, err := env.admin.CreateRole(ctx, &Role{
		Name:        "custom:manager",
		DisplayName: "Manager",
		TenantID:    tenantA,
		Permissions: []Permission{{Resource: ResourceReport, Action: ActionManage}},
	})
	require.NoError(t, err)
	require.NoError(t, env.admin.AssignRole(ctx, 10, role.ID, tenantA, nil))

	assert.True(t, env.check(t, 10, tenantA, ResourceReport, ActionManage).Allowed)
	assert.False(t, env.check(t, 10, tenantA, ResourceReport, ActionView).Allowed)

	actions, err := env.engine.UIActions(ctx, 10, tenantA, ResourceReport)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestEngine_UIActions(t *testing.T) {
	env := newTestEnv(t)
	env.assign(t, 10, RoleTenantEditor, tenantA)

	actions, err := env.engine.UIActions(context.Background(), 10, tenantA, ResourceDocument)
	require.NoError(t, err)
	assert.Equal(t, []Action{ActionCreate, ActionUpdate, ActionView, ActionViewAny}, actions)
}

func TestEngine_EffectivePermissions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.assign(t, 10, RoleTenantViewer, tenantA)
	require.NoError(t, env.admin.GrantDirectPermission(ctx, &DirectPermission{
		UserID:     10,
		TenantID:   tenantA,
		Permission: Permission{Resource: ResourceSettings, Action: ActionView},
	}))

	perms, err := env.engine.EffectivePermissions(ctx, 10, tenantA)
	require.NoError(t, err)
	assert.Contains(t, perms, Permission{Resource: ResourceSettings, Action: ActionView})
	assert.Contains(t, perms, Permission{Resource: ResourceInvoice, Action: ActionViewAny})
	assert.Len(t, perms, 7)

	_, err = env.engine.EffectivePermissions(ctx, 10, 0)
	assert.ErrorIs(t, err, ErrTenantContextMissing)
}

func TestEngine_Monotonicity(t *testing.T) {
	env := newTestEnv(t)
	env.assign(t, 10, RoleTenantEditor, tenantA)

	before, err := env.engine.EffectivePermissions(context.Background(), 10, tenantA)
	require.NoError(t, err)

	env.assign(t, 10, RoleTenantViewer, tenantA)
	for _, p := range before {
		assert.True(t, env.check(t, 10, tenantA, p.Resource, p.Action).Allowed, p.String())
	}
	assert.True(t, env.check(t, 10, tenantA, ResourceInvoice, ActionView).Allowed)
}

func TestEngine_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	env.assign(t, 10, RoleTenantEditor, tenantA)

	first := env.check(t, 10, tenantA, ResourceDocument, ActionCreate)
	second := env.check(t, 10, tenantA, ResourceDocument, ActionCreate)
	assert.Equal(t, first.Allowed, second.Allowed)
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.MatchedRoles, second.MatchedRoles)
	assert.True(t, second.Cached)
}

func TestEngine_CacheCoherence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.assign(t, 10, RoleTenantEditor, tenantA)

	assert.True(t, env.check(t, 10, tenantA, ResourceDocument, ActionView).Allowed)
	assert.True(t, env.check(t, 10, tenantA, ResourceDocument, ActionView).Cached)

	t.Run("role revocation", func(t *testing.T) {
		require.NoError(t, env.admin.RevokeRole(ctx, 10, env.roleID(t, RoleTenantEditor, tenantA), tenantA))
		result := env.check(t, 10, tenantA, ResourceDocument, ActionView)
		assert.False(t, result.Allowed)
		assert.False(t, result.Cached)
	})

	t.Run("role permission change", func(t *testing.T) {
		env.assign(t, 10, RoleTenantViewer, tenantA)
		assert.False(t, env.check(t, 10, tenantA, ResourceInvoice, ActionExport).Allowed)

		viewer := env.roleID(t, RoleTenantViewer, tenantA)
		require.NoError(t, env.admin.GrantPermissionToRole(ctx, viewer, tenantA, Permission{Resource: ResourceInvoice, Action: ActionExport}))
		assert.True(t, env.check(t, 10, tenantA, ResourceInvoice, ActionExport).Allowed)

		require.NoError(t, env.admin.RevokePermissionFromRole(ctx, viewer, tenantA, Permission{Resource: ResourceInvoice, Action: ActionExport}))
		assert.False(t, env.check(t, 10, tenantA, ResourceInvoice, ActionExport).Allowed)
	})

	t.Run("direct permission", func(t *testing.T) {
		perm := Permission{Resource: ResourceSettings, Action: ActionUpdate}
		assert.False(t, env.check(t, 10, tenantA, perm.Resource, perm.Action).Allowed)

		require.NoError(t, env.admin.GrantDirectPermission(ctx, &DirectPermission{UserID: 10, TenantID: tenantA, Permission: perm}))
		assert.True(t, env.check(t, 10, tenantA, perm.Resource, perm.Action).Allowed)

		require.NoError(t, env.admin.RevokeDirectPermission(ctx, 10, tenantA, perm))
		assert.False(t, env.check(t, 10, tenantA, perm.Resource, perm.Action).Allowed)
	})

	t.Run("role deletion", func(t *testing.T) {
		role, err := env.admin.CreateRole(ctx, &Role{
			Name:        "custom:billing",
			DisplayName: "Billing",
			TenantID:    tenantA,
			Permissions: []Permission{{Resource: ResourceInvoice, Action: ActionView}, {Resource: ResourceInvoice, Action: ActionCreate}},
		})
		require.NoError(t, err)
		require.NoError(t, env.admin.AssignRole(ctx, 10, role.ID, tenantA, nil))
		assert.True(t, env.check(t, 10, tenantA, ResourceInvoice, ActionCreate).Allowed)

		require.NoError(t, env.admin.DeleteRole(ctx, role.ID, tenantA))
		assert.False(t, env.check(t, 10, tenantA, ResourceInvoice, ActionCreate).Allowed)
	})
}

func TestEngine_DirectPermissionExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	expires := env.clock.Now().Add(10 * time.Second)
	require.NoError(t, env.admin.GrantDirectPermission(ctx, &DirectPermission{
		UserID:     10,
		TenantID:   tenantA,
		Permission: Permission{Resource: ResourceReport, Action: ActionExport},
		ExpiresAt:  &expires,
	}))

	result := env.check(t, 10, tenantA, ResourceReport, ActionExport)
	assert.True(t, result.Allowed)
	assert.Equal(t, "granted by direct permission", result.Reason)
	assert.Empty(t, result.MatchedRoles)
	assert.True(t, env.check(t, 10, tenantA, ResourceReport, ActionExport).Cached)

	// The cache TTL is a minute but the entry must not outlive the grant.
	env.clock.Advance(11 * time.Second)
	result = env.check(t, 10, tenantA, ResourceReport, ActionExport)
	assert.False(t, result.Allowed)
	assert.False(t, result.Cached)

	purged, err := env.admin.PurgeExpiredDirectPermissions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
}

func TestEngine_Ownership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.assign(t, 10, RoleTenantEditor, tenantA)
	require.NoError(t, env.admin.SetResourceCreator(ctx, tenantA, ResourceDocument, "own", 10))
	require.NoError(t, env.admin.SetResourceCreator(ctx, tenantA, ResourceDocument, "other", 11))

	checkDoc := func(action Action, resourceID string) *PermissionCheckResult {
		result, err := env.engine.CheckPermission(ctx, PermissionCheck{
			UserID:     10,
			TenantID:   tenantA,
			Permission: Permission{Resource: ResourceDocument, Action: action},
			ResourceID: resourceID,
		})
		require.NoError(t, err)
		return result
	}

	assert.True(t, checkDoc(ActionUpdate, "own").Allowed)

	result := checkDoc(ActionUpdate, "other")
	assert.False(t, result.Allowed)
	assert.Equal(t, CodeNotOwner, result.Code)

	result = checkDoc(ActionUpdate, "unknown")
	assert.False(t, result.Allowed)
	assert.Equal(t, CodeNotOwner, result.Code)

	// No concrete resource: the permission alone decides
	assert.True(t, checkDoc(ActionUpdate, "").Allowed)
	assert.True(t, checkDoc(ActionUpdate, "*").Allowed)

	// View is not ownership-gated
	assert.True(t, checkDoc(ActionView, "other").Allowed)

	// Ownership decisions are not cached; a later creator change applies
	require.NoError(t, env.admin.SetResourceCreator(ctx, tenantA, ResourceDocument, "unknown", 10))
	assert.True(t, checkDoc(ActionUpdate, "unknown").Allowed)
}

func TestEngine_StoreFailureFailsClosed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.MatchExpectationsInOrder(false)
	mock.ExpectQuery("FROM roles").WillReturnError(errors.New("connection refused"))
	mock.ExpectQuery("FROM user_permissions").WillReturnError(errors.New("connection refused"))

	engine, err := NewEngine(EngineConfig{Store: NewSQLStore(db)})
	require.NoError(t, err)

	result, err := engine.CheckPermission(context.Background(), PermissionCheck{
		UserID:     10,
		TenantID:   tenantA,
		Permission: Permission{Resource: ResourceDocument, Action: ActionView},
	})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	require.NotNil(t, result)
	assert.False(t, result.Allowed)
	assert.Equal(t, CodeStoreUnavailable, result.Code)
}

func TestEngine_StoreTimeout(t *testing.T) {
	store := &stubStore{
		rolesHook: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	engine, err := NewEngine(EngineConfig{Store: store, StoreTimeout: 20 * time.Millisecond})
	require.NoError(t, err)

	result, err := engine.CheckPermission(context.Background(), PermissionCheck{
		UserID:     10,
		TenantID:   tenantA,
		Permission: Permission{Resource: ResourceDocument, Action: ActionView},
	})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, result.Allowed)
	assert.Equal(t, CodeStoreUnavailable, result.Code)
}

func TestEngine_CallerCancellation(t *testing.T) {
	release := make(chan struct{})
	store := &stubStore{
		rolesHook: func(ctx context.Context) error {
			<-release
			return nil
		},
	}
	engine, err := NewEngine(EngineConfig{Store: store})
	require.NoError(t, err)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	result, err := engine.CheckPermission(ctx, PermissionCheck{
		UserID:     10,
		TenantID:   tenantA,
		Permission: Permission{Resource: ResourceDocument, Action: ActionView},
	})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.False(t, result.Allowed)
}

func TestEngine_SharedLoad(t *testing.T) {
	release := make(chan struct{})
	store := &stubStore{
		roles:     []Role{{ID: 1, Name: RoleTenantViewer, TenantID: tenantA}},
		rolePerms: []RolePermission{{RoleID: 1, Permission: Permission{Resource: ResourceDocument, Action: ActionView}}},
		rolesHook: func(ctx context.Context) error {
			<-release
			return nil
		},
	}
	engine, err := NewEngine(EngineConfig{Store: store})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*PermissionCheckResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = engine.CheckPermission(context.Background(), PermissionCheck{
				UserID:     10,
				TenantID:   tenantA,
				Permission: Permission{Resource: ResourceDocument, Action: ActionView},
			})
		}(i)
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), store.roleReads.Load())
	for _, r := range results {
		require.NotNil(t, r)
		assert.True(t, r.Allowed)
	}
}

func TestEngine_IgnoresLeakedRows(t *testing.T) {
	store := &stubStore{
		roles: []Role{
			{ID: 1, Name: RoleTenantViewer, TenantID: tenantB},
			{ID: 2, Name: RoleSuperAdmin, IsSystemRole: true},
		},
		rolePerms: []RolePermission{
			{RoleID: 1, Permission: Permission{Resource: ResourceDocument, Action: ActionView}},
			{RoleID: 2, Permission: Permission{Resource: ResourceDocument, Action: ActionView}},
		},
		direct: []DirectPermission{
			{UserID: 10, TenantID: tenantB, Permission: Permission{Resource: ResourceDocument, Action: ActionView}},
		},
	}
	engine, err := NewEngine(EngineConfig{Store: store})
	require.NoError(t, err)

	result, err := engine.CheckPermission(context.Background(), PermissionCheck{
		UserID:     10,
		TenantID:   tenantA,
		Permission: Permission{Resource: ResourceDocument, Action: ActionView},
	})
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestEngine_InvalidateRole(t *testing.T) {
	local := cache.NewLocalCache(cache.DefaultConfig())
	store := &stubStore{
		roles:     []Role{{ID: 1, Name: RoleTenantViewer, TenantID: tenantA}},
		rolePerms: []RolePermission{{RoleID: 1, Permission: Permission{Resource: ResourceDocument, Action: ActionView}}},
		holders:   []int64{10},
	}
	engine, err := NewEngine(EngineConfig{Store: store, Cache: local})
	require.NoError(t, err)
	ctx := context.Background()

	check := func(userID int64) *PermissionCheckResult {
		result, err := engine.CheckPermission(ctx, PermissionCheck{
			UserID:     userID,
			TenantID:   tenantA,
			Permission: Permission{Resource: ResourceDocument, Action: ActionView},
		})
		require.NoError(t, err)
		return result
	}

	check(10)
	check(11)
	require.True(t, check(10).Cached)
	require.True(t, check(11).Cached)

	require.NoError(t, engine.InvalidateRole(ctx, 1, tenantA))
	assert.False(t, check(10).Cached)
	assert.True(t, check(11).Cached)

	t.Run("holder lookup failure invalidates tenant", func(t *testing.T) {
		store.holdersErr = errors.New("timeout")
		require.NoError(t, engine.InvalidateRole(ctx, 1, tenantA))
		assert.False(t, check(10).Cached)
		assert.False(t, check(11).Cached)
	})

	t.Run("system role holder lookup failure is returned", func(t *testing.T) {
		err := engine.InvalidateRole(ctx, 2, 0)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	})
}

func TestEngine_AuditsEveryDecision(t *testing.T) {
	env := newTestEnv(t)
	env.assign(t, 10, RoleTenantViewer, tenantA)

	env.check(t, 10, tenantA, ResourceDocument, ActionView)
	env.check(t, 10, tenantA, ResourceDocument, ActionView)
	env.check(t, 10, tenantA, ResourceDocument, ActionDelete)

	calls := env.audit.Checks()
	require.Len(t, calls, 3)
	assert.Equal(t, "Document:View", calls[0].permission)
	assert.True(t, calls[1].allowed)
	assert.False(t, calls[2].allowed)
	assert.Equal(t, string(CodeDenied), calls[2].code)
}

func TestNewEngine_DependencyCycle(t *testing.T) {
	policy := DefaultPolicy()
	policy.Dependencies = DependencyTable{
		ActionView:   {ActionUpdate},
		ActionUpdate: {ActionView},
	}
	_, err := NewEngine(EngineConfig{Store: &stubStore{}, Policy: policy})
	assert.ErrorIs(t, err, ErrCycleInDependencyConfig)
}

func TestEngine_CacheUnavailableFallsBackToStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	store := &stubStore{
		roles: []Role{{ID: 1, Name: RoleTenantViewer, TenantID: tenantA}},
		rolePerms: []RolePermission{
			{RoleID: 1, Permission: Permission{Resource: ResourceDocument, Action: ActionView}},
		},
	}
	engine, err := NewEngine(EngineConfig{
		Store: store,
		Cache: cache.NewRedisCacheFromClient(client, "authz", "test"),
	})
	require.NoError(t, err)

	check := PermissionCheck{
		UserID:     10,
		TenantID:   tenantA,
		Permission: Permission{Resource: ResourceDocument, Action: ActionView},
	}
	for i := 0; i < 2; i++ {
		result, err := engine.CheckPermission(context.Background(), check)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.False(t, result.Cached)
	}
	assert.Equal(t, int64(2), store.roleReads.Load())
}

func TestEngine_SystemRoleLookupTimeout(t *testing.T) {
	store := &stubStore{
		systemHook: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	engine, err := NewEngine(EngineConfig{Store: store, StoreTimeout: 50 * time.Millisecond})
	require.NoError(t, err)

	done := make(chan struct{})
	var result *PermissionCheckResult
	go func() {
		defer close(done)
		result, err = engine.CheckPermission(context.Background(), PermissionCheck{
			UserID:         99,
			TenantID:       tenantA,
			TargetTenantID: tenantB,
			Operation:      OperationTenantSupport,
			Permission:     Permission{Resource: ResourceUser, Action: ActionView},
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("system role lookup ignored the store timeout")
	}
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.False(t, result.Allowed)
	assert.Equal(t, CodeStoreUnavailable, result.Code)
}

func TestEngine_RecordsCrossTenantAttempts(t *testing.T) {
	metrics := observability.NewAuthzMetrics(prometheus.NewRegistry())
	store := &stubStore{
		systemRoles: []Role{{
			ID:                           1,
			Name:                         RoleSupportAgent,
			IsSystemRole:                 true,
			AllowedCrossTenantOperations: []OperationType{OperationTenantSupport},
		}},
		rolePerms: []RolePermission{
			{RoleID: 1, Permission: Permission{Resource: ResourceUser, Action: ActionView}},
		},
	}
	engine, err := NewEngine(EngineConfig{Store: store, Metrics: metrics})
	require.NoError(t, err)

	ctx := context.Background()
	check := PermissionCheck{
		UserID:         99,
		TenantID:       tenantA,
		TargetTenantID: tenantB,
		Operation:      OperationTenantSupport,
		Permission:     Permission{Resource: ResourceUser, Action: ActionView},
	}
	result, err := engine.CheckPermission(ctx, check)
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	check.Operation = ""
	result, err = engine.CheckPermission(ctx, check)
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	// Same-tenant checks are not cross-tenant attempts
	_, err = engine.CheckPermission(ctx, PermissionCheck{
		UserID:     99,
		TenantID:   tenantA,
		Permission: Permission{Resource: ResourceUser, Action: ActionView},
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CrossTenantAttempts.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CrossTenantAttempts.WithLabelValues("false")))
}
