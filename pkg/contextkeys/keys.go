// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/tenantauthz/pkg/contextkeys"
//	ctx = contextkeys.WithTenantID(ctx, tenantID)
//	tenantID, ok := contextkeys.GetTenantID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// TenantIDKey contains the active tenant id
	// Set by: tenancy.Middleware (pkg/tenancy/middleware.go)
	// Required by: rbac.PermissionMiddleware, every tenant-scoped check
	// Type: int64
	TenantIDKey Key = "tenant_id"

	// TenantKey contains *tenancy.Tenant when a directory lookup was done
	// Set by: tenancy.Middleware
	// Type: *tenancy.Tenant
	TenantKey Key = "tenant"

	// UserIDKey contains the authenticated user id
	// Set by: upstream auth middleware, tenancy.WithUser in tests
	// Used by: rbac.PermissionMiddleware, audit trail
	// Type: int64
	UserIDKey Key = "user_id"

	// RequestIDKey contains request ID string
	// Set by: HTTP middleware, observability layer
	// Used by: Logger, audit trail
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// AuditLoggerKey contains audit.Logger interface
	// Set by: audit.WithLogger
	// Type: audit.Logger
	AuditLoggerKey Key = "audit_logger"
)

// WithTenantID sets the active tenant
func WithTenantID(ctx context.Context, tenantID int64) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// GetTenantID returns the active tenant. A zero or missing value is reported as absent.
func GetTenantID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(TenantIDKey).(int64)
	return id, ok && id != 0
}

// WithTenant stores the resolved tenant record
func WithTenant(ctx context.Context, tenant interface{}) context.Context {
	return context.WithValue(ctx, TenantKey, tenant)
}

// WithUserID sets the authenticated user
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID returns the authenticated user
func GetUserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(UserIDKey).(int64)
	return id, ok && id != 0
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithAuditLogger adds audit logger to the context
func WithAuditLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, AuditLoggerKey, logger)
}
