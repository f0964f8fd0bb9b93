package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/tenantauthz/pkg/audit"
	"github.com/platinummonkey/tenantauthz/pkg/observability"
	"github.com/platinummonkey/tenantauthz/pkg/tenancy"
)

// AdminStore is the write side of grant data
type AdminStore interface {
	Store

	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, roleID int64) (*Role, error)
	GetRoleByName(ctx context.Context, name string, tenantID int64) (*Role, error)
	ListRoles(ctx context.Context, tenantID int64) ([]Role, error)
	DeleteRole(ctx context.Context, roleID int64) ([]int64, error)
	GrantPermissionToRole(ctx context.Context, roleID int64, perm Permission) error
	RevokePermissionFromRole(ctx context.Context, roleID int64, perm Permission) error
	AssignRole(ctx context.Context, ur *UserRole) error
	RevokeRole(ctx context.Context, userID, roleID, tenantID int64) error
	GrantDirectPermission(ctx context.Context, dp *DirectPermission) error
	RevokeDirectPermission(ctx context.Context, userID, tenantID int64, perm Permission) error
	ListExpiredDirectPermissions(ctx context.Context, t time.Time) ([]DirectPermission, error)
	DeleteExpiredDirectPermission(ctx context.Context, id int64, t time.Time) (bool, error)
	SetResourceCreator(ctx context.Context, tenantID int64, resource Resource, resourceID string, creatorID int64) error
	GetTenant(ctx context.Context, tenantID int64) (*tenancy.Tenant, error)
	UpsertTenant(ctx context.Context, tenant *tenancy.Tenant) error
}

var _ AdminStore = (*SQLStore)(nil)

// MutationAudit records administrative changes
type MutationAudit interface {
	LogMutation(ctx context.Context, eventType audit.EventType, tenantID, targetUserID int64, permission, message string, err error)
}

// AdminConfig configures an Admin
type AdminConfig struct {
	Store        AdminStore
	Invalidator  Invalidator
	Policy       *Policy
	Dependencies *DependencyResolver
	Audit        MutationAudit
	Logger       *observability.Logger
	Clock        func() time.Time
}

// Admin applies grant changes. Every mutation writes the store, then
// invalidates the affected cache entries, and only then returns. An
// invalidation failure is returned even though the write succeeded.
type Admin struct {
	store       AdminStore
	invalidator Invalidator
	taxonomy    *Taxonomy
	deps        *DependencyResolver
	strict      bool
	audit       MutationAudit
	logger      *observability.Logger
	now         func() time.Time
}

type noopMutationAudit struct{}

func (noopMutationAudit) LogMutation(context.Context, audit.EventType, int64, int64, string, string, error) {
}

// NewAdmin creates the administrative mutation service
func NewAdmin(config AdminConfig) (*Admin, error) {
	if config.Store == nil || config.Invalidator == nil {
		return nil, errors.New("store and invalidator are required")
	}
	if config.Policy == nil {
		config.Policy = DefaultPolicy()
	}
	if config.Dependencies == nil {
		deps, err := NewDependencyResolver(config.Policy.Dependencies)
		if err != nil {
			return nil, err
		}
		config.Dependencies = deps
	}
	if config.Audit == nil {
		config.Audit = noopMutationAudit{}
	}
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &Admin{
		store:       config.Store,
		invalidator: config.Invalidator,
		taxonomy:    config.Policy.Taxonomy(),
		deps:        config.Dependencies,
		strict:      config.Policy.StrictDependencies,
		audit:       config.Audit,
		logger:      config.Logger,
		now:         config.Clock,
	}, nil
}

func (a *Admin) validatePermissions(perms []Permission) error {
	for _, p := range perms {
		if !a.taxonomy.Contains(p) {
			return fmt.Errorf("%w: %s", ErrUnknownPermission, p)
		}
	}
	if a.strict {
		return a.deps.CheckStrict(perms)
	}
	for _, w := range a.deps.ValidatePermissions(perms) {
		a.logger.WithField("warning", w.String()).Warn("permission set has missing dependencies")
	}
	return nil
}

// tenantRole loads a mutable role and checks it belongs to tenantID
func (a *Admin) tenantRole(ctx context.Context, roleID, tenantID int64) (*Role, error) {
	role, err := a.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.IsSystemRole {
		return nil, fmt.Errorf("%w: %s", ErrSystemRoleImmutable, role.Name)
	}
	if role.TenantID != tenantID {
		return nil, fmt.Errorf("%w: role %d is not defined in tenant %d", ErrTenantMismatch, roleID, tenantID)
	}
	return role, nil
}

// SeedSystemRoles creates the built-in system roles that do not exist yet
func (a *Admin) SeedSystemRoles(ctx context.Context) error {
	for _, role := range BuiltInRoles() {
		_, err := a.store.GetRoleByName(ctx, role.Name, 0)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrRoleNotFound) {
			return err
		}
		role := role
		if err := a.store.CreateRole(ctx, &role); err != nil {
			return fmt.Errorf("failed to seed %s: %w", role.Name, err)
		}
		a.logger.WithField("role", role.Name).Info("seeded system role")
	}
	return nil
}

// BootstrapTenant registers a tenant and creates its template roles
func (a *Admin) BootstrapTenant(ctx context.Context, tenant *tenancy.Tenant) error {
	if err := a.store.UpsertTenant(ctx, tenant); err != nil {
		a.audit.LogMutation(ctx, audit.EventTypeAuthzTenantUpdate, tenant.ID, 0, "", "bootstrap", err)
		return err
	}
	a.audit.LogMutation(ctx, audit.EventTypeAuthzTenantUpdate, tenant.ID, 0, "", "bootstrap", nil)

	for _, tmpl := range TenantRoleTemplates() {
		_, err := a.store.GetRoleByName(ctx, tmpl.Name, tenant.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrRoleNotFound) {
			return err
		}
		if _, err := a.CreateRole(ctx, &Role{
			Name:        tmpl.Name,
			DisplayName: tmpl.DisplayName,
			Description: tmpl.Description,
			TenantID:    tenant.ID,
			Permissions: tmpl.Permissions,
		}); err != nil {
			return err
		}
	}
	return nil
}

// SetTenantStatus changes a tenant's lifecycle status. Boundary checks read
// the status on every request, so no cache entries need to be dropped.
func (a *Admin) SetTenantStatus(ctx context.Context, tenantID int64, status tenancy.Status) error {
	tenant, err := a.store.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	tenant.Status = status
	err = a.store.UpsertTenant(ctx, tenant)
	a.audit.LogMutation(ctx, audit.EventTypeAuthzTenantUpdate, tenantID, 0, "", "status "+string(status), err)
	return err
}

// CreateRole creates a tenant role
func (a *Admin) CreateRole(ctx context.Context, role *Role) (*Role, error) {
	if role.IsSystemRole {
		return nil, fmt.Errorf("%w: system roles are seeded, not created", ErrSystemRoleImmutable)
	}
	if role.TenantID == 0 {
		return nil, ErrTenantContextMissing
	}
	if err := a.validatePermissions(role.Permissions); err != nil {
		return nil, err
	}

	err := a.store.CreateRole(ctx, role)
	a.audit.LogMutation(ctx, audit.EventTypeAuthzRoleCreate, role.TenantID, 0, "", role.Name, err)
	if err != nil {
		return nil, err
	}
	return role, nil
}

// DeleteRole deletes a tenant role and its assignments
func (a *Admin) DeleteRole(ctx context.Context, roleID, tenantID int64) error {
	role, err := a.tenantRole(ctx, roleID, tenantID)
	if err != nil {
		return err
	}

	// Holders are read inside the deleting transaction.
	holders, err := a.store.DeleteRole(ctx, roleID)
	a.audit.LogMutation(ctx, audit.EventTypeAuthzRoleDelete, tenantID, 0, "", role.Name, err)
	if err != nil {
		return err
	}

	var errs []error
	for _, userID := range holders {
		errs = append(errs, a.invalidator.InvalidateUserTenant(ctx, userID, tenantID))
	}
	return errors.Join(errs...)
}

// GrantPermissionToRole adds a permission to a tenant role
func (a *Admin) GrantPermissionToRole(ctx context.Context, roleID, tenantID int64, perm Permission) error {
	role, err := a.tenantRole(ctx, roleID, tenantID)
	if err != nil {
		return err
	}
	if err := a.validatePermissions(append(role.Permissions, perm)); err != nil {
		return err
	}

	err = a.store.GrantPermissionToRole(ctx, roleID, perm)
	a.audit.LogMutation(ctx, audit.EventTypeAuthzPermissionGrant, tenantID, 0, perm.String(), role.Name, err)
	if err != nil {
		return err
	}
	return a.invalidator.InvalidateRole(ctx, roleID, tenantID)
}

// RevokePermissionFromRole removes a permission from a tenant role. In
// strict mode the remaining permissions must stay complete.
func (a *Admin) RevokePermissionFromRole(ctx context.Context, roleID, tenantID int64, perm Permission) error {
	role, err := a.tenantRole(ctx, roleID, tenantID)
	if err != nil {
		return err
	}
	if a.strict {
		remaining := make([]Permission, 0, len(role.Permissions))
		for _, p := range role.Permissions {
			if p != perm {
				remaining = append(remaining, p)
			}
		}
		if err := a.deps.CheckStrict(remaining); err != nil {
			return err
		}
	}

	err = a.store.RevokePermissionFromRole(ctx, roleID, perm)
	a.audit.LogMutation(ctx, audit.EventTypeAuthzPermissionRevoke, tenantID, 0, perm.String(), role.Name, err)
	if err != nil {
		return err
	}
	return a.invalidator.InvalidateRole(ctx, roleID, tenantID)
}

// AssignRole assigns a role to a user. System roles are assigned with a
// zero tenant.
func (a *Admin) AssignRole(ctx context.Context, userID, roleID, tenantID int64, grantedBy *int64) error {
	err := a.store.AssignRole(ctx, &UserRole{
		UserID:    userID,
		RoleID:    roleID,
		TenantID:  tenantID,
		GrantedBy: grantedBy,
	})
	a.audit.LogMutation(ctx, audit.EventTypeAuthzRoleAssign, tenantID, userID, "", fmt.Sprintf("role %d", roleID), err)
	if err != nil {
		return err
	}
	return a.invalidateAssignment(ctx, userID, tenantID)
}

// RevokeRole removes a role from a user
func (a *Admin) RevokeRole(ctx context.Context, userID, roleID, tenantID int64) error {
	err := a.store.RevokeRole(ctx, userID, roleID, tenantID)
	a.audit.LogMutation(ctx, audit.EventTypeAuthzRoleRevoke, tenantID, userID, "", fmt.Sprintf("role %d", roleID), err)
	if err != nil {
		return err
	}
	return a.invalidateAssignment(ctx, userID, tenantID)
}

func (a *Admin) invalidateAssignment(ctx context.Context, userID, tenantID int64) error {
	if tenantID == 0 {
		return a.invalidator.InvalidateUser(ctx, userID)
	}
	return a.invalidator.InvalidateUserTenant(ctx, userID, tenantID)
}

// GrantDirectPermission grants a permission to a user outside any role
func (a *Admin) GrantDirectPermission(ctx context.Context, dp *DirectPermission) error {
	if dp.TenantID == 0 {
		return ErrTenantContextMissing
	}
	if !a.taxonomy.Contains(dp.Permission) {
		return fmt.Errorf("%w: %s", ErrUnknownPermission, dp.Permission)
	}

	err := a.store.GrantDirectPermission(ctx, dp)
	a.audit.LogMutation(ctx, audit.EventTypeAuthzPermissionGrant, dp.TenantID, dp.UserID, dp.Permission.String(), "direct", err)
	if err != nil {
		return err
	}
	return a.invalidator.InvalidateDirectPermission(ctx, dp.UserID, dp.TenantID, dp.Permission)
}

// RevokeDirectPermission removes a direct permission
func (a *Admin) RevokeDirectPermission(ctx context.Context, userID, tenantID int64, perm Permission) error {
	err := a.store.RevokeDirectPermission(ctx, userID, tenantID, perm)
	a.audit.LogMutation(ctx, audit.EventTypeAuthzPermissionRevoke, tenantID, userID, perm.String(), "direct", err)
	if err != nil {
		return err
	}
	return a.invalidator.InvalidateDirectPermission(ctx, userID, tenantID, perm)
}

// PurgeExpiredDirectPermissions deletes expired direct grants. The engine
// ignores expired grants already; this only reclaims rows. A grant renewed
// between listing and deletion survives.
func (a *Admin) PurgeExpiredDirectPermissions(ctx context.Context) (int, error) {
	now := a.now()
	expired, err := a.store.ListExpiredDirectPermissions(ctx, now)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, dp := range expired {
		deleted, err := a.store.DeleteExpiredDirectPermission(ctx, dp.ID, now)
		if err != nil {
			return purged, err
		}
		if !deleted {
			continue
		}
		purged++
		if err := a.invalidator.InvalidateDirectPermission(ctx, dp.UserID, dp.TenantID, dp.Permission); err != nil {
			return purged, err
		}
	}
	if purged > 0 {
		a.logger.WithField("count", purged).Info("purged expired direct permissions")
	}
	return purged, nil
}

// SetResourceCreator records the creator of a resource for ownership checks.
// Decisions that consult ownership are never cached.
func (a *Admin) SetResourceCreator(ctx context.Context, tenantID int64, resource Resource, resourceID string, creatorID int64) error {
	if tenantID == 0 {
		return ErrTenantContextMissing
	}
	return a.store.SetResourceCreator(ctx, tenantID, resource, resourceID, creatorID)
}
