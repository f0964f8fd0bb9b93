package rbac

import (
	"context"
	"errors"

	"github.com/platinummonkey/tenantauthz/pkg/cache"
	"github.com/platinummonkey/tenantauthz/pkg/tenancy"
)

var (
	// ErrTenantContextMissing is returned when a check has no active tenant.
	// Callers must establish a tenant before asking; it never means "all tenants".
	ErrTenantContextMissing = errors.New("tenant context missing")

	// ErrStoreUnavailable is returned when grant data could not be read in time
	ErrStoreUnavailable = errors.New("permission store unavailable")

	// ErrUnknownPermission is returned for a resource/action pair outside the taxonomy
	ErrUnknownPermission = errors.New("unknown permission")

	// ErrCycleInDependencyConfig is returned when the dependency table is not a DAG
	ErrCycleInDependencyConfig = errors.New("cycle in dependency config")

	// ErrIncompleteDependencies is returned in strict mode when a grant set
	// is missing actions its permissions depend on
	ErrIncompleteDependencies = errors.New("incomplete permission dependencies")

	// ErrSystemRoleImmutable is returned when a system role would be modified
	ErrSystemRoleImmutable = errors.New("system role is immutable")

	// ErrCacheUnavailable is returned by cache tiers; the engine bypasses the cache
	ErrCacheUnavailable = cache.ErrCacheUnavailable

	// ErrTenantNotFound is returned by the tenant directory
	ErrTenantNotFound = tenancy.ErrTenantNotFound

	ErrRoleNotFound   = errors.New("role not found")
	ErrTenantMismatch = errors.New("tenant mismatch")
	ErrInvalidPolicy  = errors.New("invalid policy")
)

// CodeForError maps an error returned with a denied result to its decision code
func CodeForError(err error) DecisionCode {
	switch {
	case err == nil:
		return CodeDenied
	case errors.Is(err, ErrTenantContextMissing):
		return CodeTenantContextMissing
	case errors.Is(err, ErrUnknownPermission):
		return CodeUnknownPermission
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return CodeStoreUnavailable
	default:
		return CodeDenied
	}
}
