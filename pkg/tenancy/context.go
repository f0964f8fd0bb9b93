package tenancy

import (
	"context"

	"github.com/platinummonkey/tenantauthz/pkg/contextkeys"
)

// WithTenant sets the active tenant id
func WithTenant(ctx context.Context, tenantID int64) context.Context {
	return contextkeys.WithTenantID(ctx, tenantID)
}

// WithUser sets the authenticated user id
func WithUser(ctx context.Context, userID int64) context.Context {
	return contextkeys.WithUserID(ctx, userID)
}

// TenantFromContext returns the active tenant id
func TenantFromContext(ctx context.Context) (int64, bool) {
	return contextkeys.GetTenantID(ctx)
}

// UserFromContext returns the authenticated user id
func UserFromContext(ctx context.Context) (int64, bool) {
	return contextkeys.GetUserID(ctx)
}

// TenantRecordFromContext returns the tenant loaded by Middleware, if any
func TenantRecordFromContext(ctx context.Context) (*Tenant, bool) {
	t, ok := ctx.Value(contextkeys.TenantKey).(*Tenant)
	return t, ok
}
