package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/tenantauthz/pkg/tenancy"
)

// SQLStore persists grant data in Postgres (or SQLite in tests). Every read
// filters by tenant in SQL.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLStore creates a new SQL-backed store
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// DB returns the underlying database handle
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

const roleColumns = `r.id, r.name, r.display_name, r.description, r.tenant_id, r.is_system_role, r.cross_tenant_operations, r.created_at, r.updated_at, r.created_by`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row rowScanner) (*Role, error) {
	var role Role
	var opsJSON string
	var createdBy sql.NullInt64

	if err := row.Scan(
		&role.ID,
		&role.Name,
		&role.DisplayName,
		&role.Description,
		&role.TenantID,
		&role.IsSystemRole,
		&opsJSON,
		&role.CreatedAt,
		&role.UpdatedAt,
		&createdBy,
	); err != nil {
		return nil, err
	}

	if opsJSON != "" {
		if err := json.Unmarshal([]byte(opsJSON), &role.AllowedCrossTenantOperations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cross-tenant operations: %w", err)
		}
	}
	if createdBy.Valid {
		id := createdBy.Int64
		role.CreatedBy = &id
	}
	return &role, nil
}

func (s *SQLStore) queryRoles(ctx context.Context, query string, args ...interface{}) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// GetRolesForUser returns the tenant roles held by a user. The join requires
// the role and the assignment to share the tenant.
func (s *SQLStore) GetRolesForUser(ctx context.Context, userID, tenantID int64) ([]Role, error) {
	query := `
		SELECT ` + roleColumns + `
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id AND ur.tenant_id = r.tenant_id
		WHERE ur.user_id = $1 AND ur.tenant_id = $2 AND r.is_system_role = $3
		ORDER BY r.id
	`
	roles, err := s.queryRoles(ctx, query, userID, tenantID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get roles for user: %w", err)
	}
	return roles, nil
}

// GetSystemRolesForUser returns the system roles held by a user
func (s *SQLStore) GetSystemRolesForUser(ctx context.Context, userID int64) ([]Role, error) {
	query := `
		SELECT ` + roleColumns + `
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1 AND ur.tenant_id = 0 AND r.tenant_id = 0 AND r.is_system_role = $2
		ORDER BY r.id
	`
	roles, err := s.queryRoles(ctx, query, userID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get system roles for user: %w", err)
	}
	return roles, nil
}

// GetPermissionsForRoles returns the permissions linked to the given roles
func (s *SQLStore) GetPermissionsForRoles(ctx context.Context, roleIDs []int64) ([]RolePermission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(roleIDs))
	args := make([]interface{}, len(roleIDs))
	for i, id := range roleIDs {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}

	query := `
		SELECT role_id, resource, action
		FROM role_permissions
		WHERE role_id IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY role_id, resource, action
	`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get role permissions: %w", err)
	}
	defer rows.Close()

	var perms []RolePermission
	for rows.Next() {
		var rp RolePermission
		if err := rows.Scan(&rp.RoleID, &rp.Permission.Resource, &rp.Permission.Action); err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		perms = append(perms, rp)
	}
	return perms, rows.Err()
}

// GetDirectPermissions returns a user's direct grants in a tenant,
// including expired ones
func (s *SQLStore) GetDirectPermissions(ctx context.Context, userID, tenantID int64) ([]DirectPermission, error) {
	query := `
		SELECT id, user_id, tenant_id, resource, action, expires_at, granted_by, granted_at
		FROM user_permissions
		WHERE user_id = $1 AND tenant_id = $2
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, userID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get direct permissions: %w", err)
	}
	defer rows.Close()

	var perms []DirectPermission
	for rows.Next() {
		var dp DirectPermission
		var expiresAt sql.NullTime
		var grantedBy sql.NullInt64
		if err := rows.Scan(
			&dp.ID,
			&dp.UserID,
			&dp.TenantID,
			&dp.Permission.Resource,
			&dp.Permission.Action,
			&expiresAt,
			&grantedBy,
			&dp.GrantedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan direct permission: %w", err)
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			dp.ExpiresAt = &t
		}
		if grantedBy.Valid {
			id := grantedBy.Int64
			dp.GrantedBy = &id
		}
		perms = append(perms, dp)
	}
	return perms, rows.Err()
}

// GetUsersForRole returns every user holding a role in a tenant
func (s *SQLStore) GetUsersForRole(ctx context.Context, roleID, tenantID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT user_id FROM user_roles WHERE role_id = $1 AND tenant_id = $2 ORDER BY user_id",
		roleID, tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get users for role: %w", err)
	}
	defer rows.Close()

	var users []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// GetResourceCreator returns the creator of a resource, or 0 if unknown
func (s *SQLStore) GetResourceCreator(ctx context.Context, tenantID int64, resource Resource, resourceID string) (int64, error) {
	var creatorID int64
	err := s.db.QueryRowContext(ctx,
		"SELECT creator_id FROM resource_owners WHERE tenant_id = $1 AND resource = $2 AND resource_id = $3",
		tenantID, string(resource), resourceID,
	).Scan(&creatorID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get resource creator: %w", err)
	}
	return creatorID, nil
}

// SetResourceCreator records who created a resource
func (s *SQLStore) SetResourceCreator(ctx context.Context, tenantID int64, resource Resource, resourceID string, creatorID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resource_owners (tenant_id, resource, resource_id, creator_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, resource, resource_id) DO UPDATE SET creator_id = excluded.creator_id
	`, tenantID, string(resource), resourceID, creatorID)
	if err != nil {
		return fmt.Errorf("failed to set resource creator: %w", err)
	}
	return nil
}

// GetTenant retrieves a tenant by ID
func (s *SQLStore) GetTenant(ctx context.Context, tenantID int64) (*tenancy.Tenant, error) {
	var t tenancy.Tenant
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, status, created_at, updated_at FROM tenants WHERE id = $1",
		tenantID,
	).Scan(&t.ID, &t.Name, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrTenantNotFound, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &t, nil
}

// UpsertTenant creates or updates a tenant
func (s *SQLStore) UpsertTenant(ctx context.Context, tenant *tenancy.Tenant) error {
	if tenant.ID <= 0 {
		return fmt.Errorf("invalid tenant id: %d", tenant.ID)
	}
	if tenant.Status == "" {
		tenant.Status = tenancy.StatusActive
	}
	if !tenant.Status.Valid() {
		return fmt.Errorf("invalid tenant status: %s", tenant.Status)
	}

	now := s.now()
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = now
	}
	tenant.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, status = excluded.status, updated_at = excluded.updated_at
	`, tenant.ID, tenant.Name, string(tenant.Status), tenant.CreatedAt, tenant.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert tenant: %w", err)
	}
	return nil
}

// CreateRole creates a role and links its permissions
func (s *SQLStore) CreateRole(ctx context.Context, role *Role) error {
	ops := role.AllowedCrossTenantOperations
	if ops == nil {
		ops = []OperationType{}
	}
	opsJSON, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("failed to marshal cross-tenant operations: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO roles (name, display_name, description, tenant_id, is_system_role, cross_tenant_operations, created_at, updated_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`,
		role.Name,
		role.DisplayName,
		role.Description,
		role.TenantID,
		role.IsSystemRole,
		string(opsJSON),
		now,
		now,
		role.CreatedBy,
	).Scan(&role.ID)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	for _, perm := range role.Permissions {
		if err := insertRolePermission(ctx, tx, role.ID, perm); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertRolePermission(ctx context.Context, db execer, roleID int64, perm Permission) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO role_permissions (role_id, resource, action)
		VALUES ($1, $2, $3)
		ON CONFLICT (role_id, resource, action) DO NOTHING
	`, roleID, string(perm.Resource), string(perm.Action))
	if err != nil {
		return fmt.Errorf("failed to grant %s to role %d: %w", perm, roleID, err)
	}
	return nil
}

// GetRole retrieves a role by ID, including its permissions
func (s *SQLStore) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+roleColumns+" FROM roles r WHERE r.id = $1", roleID)
	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRoleNotFound, roleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	perms, err := s.ListRolePermissions(ctx, roleID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return role, nil
}

// GetRoleByName retrieves a role by name within a tenant (0 for system roles)
func (s *SQLStore) GetRoleByName(ctx context.Context, name string, tenantID int64) (*Role, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+roleColumns+" FROM roles r WHERE r.name = $1 AND r.tenant_id = $2", name, tenantID)
	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// ListRoles lists the roles defined in a tenant
func (s *SQLStore) ListRoles(ctx context.Context, tenantID int64) ([]Role, error) {
	roles, err := s.queryRoles(ctx, "SELECT "+roleColumns+" FROM roles r WHERE r.tenant_id = $1 ORDER BY r.name", tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return roles, nil
}

// ListRolePermissions returns the permissions linked to a role
func (s *SQLStore) ListRolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rps, err := s.GetPermissionsForRoles(ctx, []int64{roleID})
	if err != nil {
		return nil, err
	}
	perms := make([]Permission, len(rps))
	for i, rp := range rps {
		perms[i] = rp.Permission
	}
	return perms, nil
}

// DeleteRole deletes a role with its permissions and assignments. It
// returns the users whose assignments were removed.
func (s *SQLStore) DeleteRole(ctx context.Context, roleID int64) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM role_permissions WHERE role_id = $1", roleID); err != nil {
		return nil, fmt.Errorf("failed to delete role references: %w", err)
	}

	rows, err := tx.QueryContext(ctx, "DELETE FROM user_roles WHERE role_id = $1 RETURNING user_id", roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete role references: %w", err)
	}
	var holders []int64
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan role holder: %w", err)
		}
		holders = append(holders, userID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to delete role references: %w", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM roles WHERE id = $1", roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete role: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %d", ErrRoleNotFound, roleID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit role deletion: %w", err)
	}
	return holders, nil
}

// GrantPermissionToRole links a permission to a role
func (s *SQLStore) GrantPermissionToRole(ctx context.Context, roleID int64, perm Permission) error {
	return insertRolePermission(ctx, s.db, roleID, perm)
}

// RevokePermissionFromRole unlinks a permission from a role
func (s *SQLStore) RevokePermissionFromRole(ctx context.Context, roleID int64, perm Permission) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM role_permissions WHERE role_id = $1 AND resource = $2 AND action = $3",
		roleID, string(perm.Resource), string(perm.Action),
	)
	if err != nil {
		return fmt.Errorf("failed to revoke %s from role %d: %w", perm, roleID, err)
	}
	return nil
}

// AssignRole assigns a role to a user. The assignment tenant must equal the
// role tenant.
func (s *SQLStore) AssignRole(ctx context.Context, ur *UserRole) error {
	var roleTenant int64
	err := s.db.QueryRowContext(ctx, "SELECT tenant_id FROM roles WHERE id = $1", ur.RoleID).Scan(&roleTenant)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %d", ErrRoleNotFound, ur.RoleID)
	}
	if err != nil {
		return fmt.Errorf("failed to get role: %w", err)
	}
	if roleTenant != ur.TenantID {
		return fmt.Errorf("%w: role %d is not defined in tenant %d", ErrTenantMismatch, ur.RoleID, ur.TenantID)
	}

	now := s.now()
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO user_roles (user_id, role_id, tenant_id, granted_by, granted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, role_id, tenant_id) DO UPDATE SET granted_by = excluded.granted_by
		RETURNING id
	`, ur.UserID, ur.RoleID, ur.TenantID, ur.GrantedBy, now).Scan(&ur.ID)
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	ur.GrantedAt = now
	return nil
}

// RevokeRole removes a role assignment
func (s *SQLStore) RevokeRole(ctx context.Context, userID, roleID, tenantID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2 AND tenant_id = $3",
		userID, roleID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	return nil
}

// GrantDirectPermission grants or refreshes a direct permission
func (s *SQLStore) GrantDirectPermission(ctx context.Context, dp *DirectPermission) error {
	if dp.TenantID == 0 {
		return ErrTenantContextMissing
	}

	now := s.now()
	var expiresAt interface{}
	if dp.ExpiresAt != nil {
		expiresAt = dp.ExpiresAt.UTC()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO user_permissions (user_id, tenant_id, resource, action, expires_at, granted_by, granted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, tenant_id, resource, action)
		DO UPDATE SET expires_at = excluded.expires_at, granted_by = excluded.granted_by, granted_at = excluded.granted_at
		RETURNING id
	`,
		dp.UserID,
		dp.TenantID,
		string(dp.Permission.Resource),
		string(dp.Permission.Action),
		expiresAt,
		dp.GrantedBy,
		now,
	).Scan(&dp.ID)
	if err != nil {
		return fmt.Errorf("failed to grant direct permission: %w", err)
	}
	dp.GrantedAt = now
	return nil
}

// RevokeDirectPermission removes a direct permission
func (s *SQLStore) RevokeDirectPermission(ctx context.Context, userID, tenantID int64, perm Permission) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM user_permissions WHERE user_id = $1 AND tenant_id = $2 AND resource = $3 AND action = $4",
		userID, tenantID, string(perm.Resource), string(perm.Action),
	)
	if err != nil {
		return fmt.Errorf("failed to revoke direct permission: %w", err)
	}
	return nil
}

// ListExpiredDirectPermissions returns direct grants that expired before t
func (s *SQLStore) ListExpiredDirectPermissions(ctx context.Context, t time.Time) ([]DirectPermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, tenant_id, resource, action, expires_at
		FROM user_permissions
		WHERE expires_at IS NOT NULL AND expires_at < $1
		ORDER BY id
	`, t.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list direct permissions: %w", err)
	}
	defer rows.Close()

	var expired []DirectPermission
	for rows.Next() {
		var dp DirectPermission
		var expiresAt time.Time
		if err := rows.Scan(&dp.ID, &dp.UserID, &dp.TenantID, &dp.Permission.Resource, &dp.Permission.Action, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan direct permission: %w", err)
		}
		dp.ExpiresAt = &expiresAt
		expired = append(expired, dp)
	}
	return expired, rows.Err()
}

// DeleteExpiredDirectPermission removes the direct permission with the given
// ID only if it still expires before t. A grant renewed since it was listed
// is kept and false is returned.
func (s *SQLStore) DeleteExpiredDirectPermission(ctx context.Context, id int64, t time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM user_permissions WHERE id = $1 AND expires_at IS NOT NULL AND expires_at < $2",
		id, t.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete direct permission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete direct permission: %w", err)
	}
	return n > 0, nil
}
