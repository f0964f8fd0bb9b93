package rbac

import "context"

// Store is the read side of grant data. Every method must filter by tenant
// at query level; the engine cannot detect rows that leak across tenants.
type Store interface {
	// GetRolesForUser returns the tenant roles held by a user in a tenant
	GetRolesForUser(ctx context.Context, userID, tenantID int64) ([]Role, error)

	// GetPermissionsForRoles returns the permissions linked to each role
	GetPermissionsForRoles(ctx context.Context, roleIDs []int64) ([]RolePermission, error)

	// GetDirectPermissions returns direct grants, including expired ones
	GetDirectPermissions(ctx context.Context, userID, tenantID int64) ([]DirectPermission, error)

	// GetSystemRolesForUser returns the system roles held by a user
	GetSystemRolesForUser(ctx context.Context, userID int64) ([]Role, error)

	// GetUsersForRole returns every user holding a role in a tenant.
	// A zero tenant selects system role assignments.
	GetUsersForRole(ctx context.Context, roleID, tenantID int64) ([]int64, error)
}

// CreatorLookup finds who created a resource. A zero id means unknown.
type CreatorLookup interface {
	GetResourceCreator(ctx context.Context, tenantID int64, resource Resource, resourceID string) (int64, error)
}

// OwnershipResolver decides which permissions are ownership-gated and who
// owns a resource
type OwnershipResolver interface {
	CreatorLookup
	IsOwnershipGated(perm Permission) bool
}

type policyOwnership struct {
	CreatorLookup
	policy *Policy
}

// NewOwnershipResolver gates permissions named by the policy and looks up
// creators through creators
func NewOwnershipResolver(policy *Policy, creators CreatorLookup) OwnershipResolver {
	return &policyOwnership{CreatorLookup: creators, policy: policy}
}

func (o *policyOwnership) IsOwnershipGated(perm Permission) bool {
	return o.policy.IsOwnershipGated(perm)
}
