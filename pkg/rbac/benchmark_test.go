package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/platinummonkey/tenantauthz/pkg/cache"
)

func benchCheck(userID int64) PermissionCheck {
	return PermissionCheck{
		UserID:     userID,
		TenantID:   tenantA,
		Permission: Permission{Resource: ResourceDocument, Action: ActionUpdate},
	}
}

// BenchmarkCheckPermission_Cached measures checks served by the local tier
func BenchmarkCheckPermission_Cached(b *testing.B) {
	env := newTestEnv(b)
	env.assign(b, 42, RoleTenantEditor, tenantA)
	ctx := context.Background()

	if _, err := env.engine.CheckPermission(ctx, benchCheck(42)); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := env.engine.CheckPermission(ctx, benchCheck(42)); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkCheckPermission_Uncached invalidates before every check so each
// one loads grants from SQLite
func BenchmarkCheckPermission_Uncached(b *testing.B) {
	env := newTestEnv(b)
	env.assign(b, 42, RoleTenantEditor, tenantA)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := env.engine.InvalidateUserTenant(ctx, 42, tenantA); err != nil {
			b.Fatal(err)
		}
		if _, err := env.engine.CheckPermission(ctx, benchCheck(42)); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkCheckPermission_Parallel spreads checks over many users
func BenchmarkCheckPermission_Parallel(b *testing.B) {
	env := newTestEnv(b)
	const users = 64
	for u := int64(1); u <= users; u++ {
		env.assign(b, u, RoleTenantViewer, tenantA)
	}
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		var i int64
		for pb.Next() {
			i++
			check := benchCheck(i%users + 1)
			check.Permission.Action = ActionView
			if _, err := env.engine.CheckPermission(ctx, check); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// BenchmarkTieredCache_Get reads decisions seeded in Redis through both
// tiers; the first read of each key fills the local tier
func BenchmarkTieredCache_Get(b *testing.B) {
	mr, err := miniredis.Run()
	if err != nil {
		b.Skipf("miniredis: %v", err)
	}
	defer mr.Close()

	shared, err := cache.NewRedisCache(cache.RedisConfig{URL: "redis://" + mr.Addr()})
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	tiered := cache.NewTieredCache(cache.NewLocalCache(cache.DefaultConfig()), shared)
	defer tiered.Close()

	keys := make([]cache.Key, 128)
	for i := range keys {
		keys[i] = cache.Key{TenantID: tenantA, UserID: int64(i + 1), Resource: "Document", Action: "View"}
		gen, err := shared.Generation(ctx, tenantA, keys[i].UserID)
		if err != nil {
			b.Fatal(err)
		}
		if err := shared.Put(ctx, keys[i], &cache.Entry{Allowed: true, Code: "granted", ExpiresAt: time.Now().Add(time.Hour)}, gen); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := tiered.Get(ctx, keys[i%len(keys)]); err != nil {
			b.Fatal(err)
		}
	}
}
