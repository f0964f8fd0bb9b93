package rbac

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantauthz/pkg/cache"
	"github.com/platinummonkey/tenantauthz/pkg/tenancy"
)

const (
	tenantA int64 = 1
	tenantB int64 = 2
)

func setupTestDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, RunMigrations(context.Background(), db, DialectSQLite))
	return db
}

func setupTestStore(t testing.TB) *SQLStore {
	t.Helper()
	return NewSQLStore(setupTestDB(t))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type auditCall struct {
	userID, tenantID int64
	permission       string
	allowed          bool
	code             string
}

type crossTenantCall struct {
	userID, source, target int64
	allowed                bool
}

type recordingAudit struct {
	mu          sync.Mutex
	checks      []auditCall
	crossTenant []crossTenantCall
}

func (r *recordingAudit) LogCrossTenantAccess(_ context.Context, userID, source, target int64, allowed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.crossTenant = append(r.crossTenant, crossTenantCall{userID, source, target, allowed})
}

func (r *recordingAudit) LogPermissionCheck(_ context.Context, userID, tenantID int64, permission, _ string, allowed bool, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks = append(r.checks, auditCall{userID, tenantID, permission, allowed, code})
}

func (r *recordingAudit) Checks() []auditCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]auditCall(nil), r.checks...)
}

func (r *recordingAudit) CrossTenant() []crossTenantCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]crossTenantCall(nil), r.crossTenant...)
}

// testEnv is a fully wired engine over SQLite with a local cache
type testEnv struct {
	store  *SQLStore
	engine *Engine
	admin  *Admin
	cache  *cache.LocalCache
	clock  *fakeClock
	audit  *recordingAudit
}

func newTestEnv(t testing.TB) *testEnv {
	t.Helper()
	ctx := context.Background()

	clock := newFakeClock()
	store := setupTestStore(t)
	store.now = clock.Now

	local := cache.NewLocalCache(cache.DefaultConfig())
	local.SetClock(clock.Now)

	rec := &recordingAudit{}
	policy := DefaultPolicy()

	engine, err := NewEngine(EngineConfig{
		Store:     store,
		Ownership: NewOwnershipResolver(policy, store),
		Policy:    policy,
		Cache:     local,
		Audit:     rec,
		CacheTTL:  time.Minute,
		Clock:     clock.Now,
	})
	require.NoError(t, err)

	admin, err := NewAdmin(AdminConfig{
		Store:       store,
		Invalidator: engine,
		Policy:      policy,
		Clock:       clock.Now,
	})
	require.NoError(t, err)

	require.NoError(t, admin.SeedSystemRoles(ctx))
	for _, id := range []int64{tenantA, tenantB} {
		require.NoError(t, admin.BootstrapTenant(ctx, &tenancy.Tenant{ID: id, Name: "tenant"}))
	}

	return &testEnv{store: store, engine: engine, admin: admin, cache: local, clock: clock, audit: rec}
}

func (env *testEnv) roleID(t testing.TB, name string, tenantID int64) int64 {
	t.Helper()
	role, err := env.store.GetRoleByName(context.Background(), name, tenantID)
	require.NoError(t, err)
	return role.ID
}

func (env *testEnv) assign(t testing.TB, userID int64, roleName string, tenantID int64) {
	t.Helper()
	require.NoError(t, env.admin.AssignRole(context.Background(), userID, env.roleID(t, roleName, tenantID), tenantID, nil))
}

func (env *testEnv) check(t *testing.T, userID, tenantID int64, resource Resource, action Action) *PermissionCheckResult {
	t.Helper()
	result, err := env.engine.CheckPermission(context.Background(), PermissionCheck{
		UserID:     userID,
		TenantID:   tenantID,
		Permission: Permission{Resource: resource, Action: action},
	})
	require.NoError(t, err)
	return result
}

// stubStore serves fixed grant data and counts reads. Hooks, when set,
// replace the corresponding read.
type stubStore struct {
	roles       []Role
	rolePerms   []RolePermission
	direct      []DirectPermission
	systemRoles []Role
	holders     []int64

	rolesHook   func(ctx context.Context) error
	systemHook  func(ctx context.Context) error
	holdersErr  error
	systemErr   error
	roleReads   atomic.Int64
	directReads atomic.Int64
}

func (s *stubStore) GetRolesForUser(ctx context.Context, _, _ int64) ([]Role, error) {
	s.roleReads.Add(1)
	if s.rolesHook != nil {
		if err := s.rolesHook(ctx); err != nil {
			return nil, err
		}
	}
	return s.roles, nil
}

func (s *stubStore) GetPermissionsForRoles(_ context.Context, ids []int64) ([]RolePermission, error) {
	wanted := make(map[int64]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var out []RolePermission
	for _, rp := range s.rolePerms {
		if wanted[rp.RoleID] {
			out = append(out, rp)
		}
	}
	return out, nil
}

func (s *stubStore) GetDirectPermissions(context.Context, int64, int64) ([]DirectPermission, error) {
	s.directReads.Add(1)
	return s.direct, nil
}

func (s *stubStore) GetSystemRolesForUser(ctx context.Context, _ int64) ([]Role, error) {
	if s.systemHook != nil {
		if err := s.systemHook(ctx); err != nil {
			return nil, err
		}
	}
	return s.systemRoles, s.systemErr
}

func (s *stubStore) GetUsersForRole(context.Context, int64, int64) ([]int64, error) {
	return s.holders, s.holdersErr
}
