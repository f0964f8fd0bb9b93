// Package rbac decides whether a user may perform an action on a resource
// within a tenant.
//
// # Overview
//
// Access is flat RBAC scoped by tenant. A user holds roles in a tenant and
// may hold direct permissions there. A check is granted when the union of
// those grants contains the exact (resource, action) pair asked for. No
// hierarchy, wildcard or dependency ever widens that union.
//
// A check is evaluated in this order:
//
//  1. Tenant boundary (BoundaryResolver)
//  2. Taxonomy membership of the permission (Policy)
//  3. Grant lookup, through the cache when one is configured (Engine)
//  4. Ownership, for gated permissions on a concrete resource id
//
// # Resources and Actions
//
// The taxonomy is fixed at startup by the Policy. By default every resource
// supports every action except Settings, which supports View, Update and
// Manage:
//
//	ResourceUser, ResourceRole, ResourceTenant, ResourceDocument,
//	ResourceReport, ResourceInvoice, ResourceSettings
//
//	ActionView, ActionViewAny, ActionCreate, ActionUpdate, ActionDelete,
//	ActionDeleteAny, ActionRestore, ActionReplicate, ActionExport,
//	ActionImport, ActionBulkEdit, ActionBulkDelete, ActionManage
//
// A permission outside the taxonomy is a configuration error. Checks for it
// return ErrUnknownPermission rather than a plain denial.
//
// # Tenant Boundary
//
// Every check carries an active tenant. Tenant id 0 is never "all tenants";
// a check without one fails with ErrTenantContextMissing.
//
// Targeting another tenant requires an OperationType and a system role that
// lists it. Those checks are decided only against the permissions of the
// qualifying system roles, are never cached and are always audited:
//
//	result, err := engine.CheckPermission(ctx, rbac.PermissionCheck{
//		UserID:         supportUser,
//		TenantID:       homeTenant,
//		TargetTenantID: customerTenant,
//		Operation:      rbac.OperationTenantSupport,
//		Permission:     rbac.Permission{Resource: rbac.ResourceUser, Action: rbac.ActionView},
//	})
//
// Same-tenant checks ignore system roles entirely.
//
// # Dependencies
//
// The dependency table says which actions an action needs to be useful,
// e.g. Update depends on View. It never grants. The DependencyResolver uses
// it to warn about incomplete roles (or reject them when the policy sets
// strict_dependencies) and to compute UIActions, the subset of granted
// actions whose dependencies are also granted.
//
// # Ownership
//
// Permissions listed in the policy's ownership_gated section are granted on
// a concrete resource id only to the user recorded as its creator. An
// unknown creator is denied with CodeNotOwner. Checks without a resource id,
// with "*", or for an ...Any action skip the ownership step.
//
// # Caching and Invalidation
//
// Grant sets are cached per (tenant, user). Admin mutations invalidate the
// affected entries before returning, so the next check after a mutation
// sees it. Concurrent cache misses for one (tenant, user) share a single
// store load; a load started before an invalidation is never shared with a
// check that begins after it.
//
// A cached entry never outlives the earliest expiry among the direct
// permissions it includes.
//
// # Failures
//
// Store errors and timeouts deny with ErrStoreUnavailable. A cache failure
// is not a denial; the engine falls back to the store.
//
// # HTTP Middleware
//
//	pm := manager.Middleware()
//	router.Handle("/tenants/{tenant_id}/documents/{id}",
//		tenancy.Middleware(nil)(
//			pm.RequirePermission(rbac.ResourceDocument, rbac.ActionUpdate)(handler)))
//
// StatusForCode maps decision codes to responses: 400 for a missing tenant,
// 500 for an unknown permission, 503 when grant data is unavailable and 403
// otherwise.
//
// # Testing
//
// Unit tests run against SQLite in memory. Tests tagged integration start
// PostgreSQL with testcontainers:
//
//	go test -tags integration ./pkg/rbac/...
package rbac
