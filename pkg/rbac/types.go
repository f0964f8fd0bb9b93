package rbac

import (
	"sort"
	"strings"
	"time"
)

// Resource represents a resource type in the system
type Resource string

const (
	ResourceUser     Resource = "User"
	ResourceRole     Resource = "Role"
	ResourceTenant   Resource = "Tenant"
	ResourceDocument Resource = "Document"
	ResourceReport   Resource = "Report"
	ResourceInvoice  Resource = "Invoice"
	ResourceSettings Resource = "Settings"
)

// Action represents an action that can be performed on a resource
type Action string

const (
	ActionView       Action = "View"
	ActionViewAny    Action = "ViewAny"
	ActionCreate     Action = "Create"
	ActionUpdate     Action = "Update"
	ActionDelete     Action = "Delete"
	ActionDeleteAny  Action = "DeleteAny"
	ActionRestore    Action = "Restore"
	ActionReplicate  Action = "Replicate"
	ActionExport     Action = "Export"
	ActionImport     Action = "Import"
	ActionBulkEdit   Action = "BulkEdit"
	ActionBulkDelete Action = "BulkDelete"
	ActionManage     Action = "Manage"
)

// AllActions returns the fixed action taxonomy
func AllActions() []Action {
	return []Action{
		ActionView, ActionViewAny, ActionCreate, ActionUpdate, ActionDelete,
		ActionDeleteAny, ActionRestore, ActionReplicate, ActionExport,
		ActionImport, ActionBulkEdit, ActionBulkDelete, ActionManage,
	}
}

// IsAny reports whether the action applies to every instance of a resource
// rather than a single resource id
func (a Action) IsAny() bool {
	return strings.HasSuffix(string(a), "Any")
}

// Permission represents a specific permission (resource + action)
type Permission struct {
	Resource Resource `json:"resource" yaml:"resource"`
	Action   Action   `json:"action" yaml:"action"`
}

// String returns a string representation of the permission
func (p Permission) String() string {
	return string(p.Resource) + ":" + string(p.Action)
}

// ParsePermission parses "Resource:Action"
func ParsePermission(s string) (Permission, bool) {
	res, act, ok := strings.Cut(s, ":")
	if !ok || res == "" || act == "" {
		return Permission{}, false
	}
	return Permission{Resource: Resource(res), Action: Action(act)}, true
}

// SortPermissions orders permissions by resource then action
func SortPermissions(perms []Permission) {
	sort.Slice(perms, func(i, j int) bool {
		if perms[i].Resource != perms[j].Resource {
			return perms[i].Resource < perms[j].Resource
		}
		return perms[i].Action < perms[j].Action
	})
}

// OperationType names an operation that may cross tenant boundaries
type OperationType string

const (
	OperationTenantSupport      OperationType = "tenant_support"
	OperationTenantProvisioning OperationType = "tenant_provisioning"
	OperationAuditReview        OperationType = "audit_review"
)

// Role is a flat, named set of permissions. TenantID is 0 for system roles.
type Role struct {
	ID                           int64           `json:"id"`
	Name                         string          `json:"name"`
	DisplayName                  string          `json:"display_name"`
	Description                  string          `json:"description"`
	TenantID                     int64           `json:"tenant_id,omitempty"`
	IsSystemRole                 bool            `json:"is_system_role"`
	AllowedCrossTenantOperations []OperationType `json:"allowed_cross_tenant_operations,omitempty"`
	Permissions                  []Permission    `json:"permissions,omitempty"`
	CreatedAt                    time.Time       `json:"created_at"`
	UpdatedAt                    time.Time       `json:"updated_at"`
	CreatedBy                    *int64          `json:"created_by,omitempty"`
}

// AllowsOperation reports whether the role may perform op across tenants
func (r Role) AllowsOperation(op OperationType) bool {
	if !r.IsSystemRole || op == "" {
		return false
	}
	for _, allowed := range r.AllowedCrossTenantOperations {
		if allowed == op {
			return true
		}
	}
	return false
}

// RolePermission links a role to one of its permissions
type RolePermission struct {
	RoleID     int64      `json:"role_id"`
	Permission Permission `json:"permission"`
}

// UserRole represents a role assigned to a user. TenantID is 0 for system
// role assignments.
type UserRole struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	RoleID    int64     `json:"role_id"`
	TenantID  int64     `json:"tenant_id,omitempty"`
	GrantedBy *int64    `json:"granted_by,omitempty"`
	GrantedAt time.Time `json:"granted_at"`
}

// DirectPermission is a permission granted to a user outside any role
type DirectPermission struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	TenantID   int64      `json:"tenant_id"`
	Permission Permission `json:"permission"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	GrantedBy  *int64     `json:"granted_by,omitempty"`
	GrantedAt  time.Time  `json:"granted_at"`
}

// ActiveAt reports whether the grant is in force at t
func (d DirectPermission) ActiveAt(t time.Time) bool {
	return d.ExpiresAt == nil || t.Before(*d.ExpiresAt)
}

// PermissionCheck represents a permission check request
type PermissionCheck struct {
	UserID     int64      `json:"user_id"`
	TenantID   int64      `json:"tenant_id"`
	Permission Permission `json:"permission"`

	// TargetTenantID is the tenant owning the resource; 0 means TenantID
	TargetTenantID int64 `json:"target_tenant_id,omitempty"`

	// ResourceID is empty or "*" when the check is not about one instance
	ResourceID string `json:"resource_id,omitempty"`

	// Operation flags a cross-tenant request
	Operation OperationType `json:"operation,omitempty"`
}

// Target returns the tenant the check is evaluated against
func (c PermissionCheck) Target() int64 {
	if c.TargetTenantID == 0 {
		return c.TenantID
	}
	return c.TargetTenantID
}

// CrossTenant reports whether the check leaves the active tenant
func (c PermissionCheck) CrossTenant() bool {
	return c.Target() != c.TenantID
}

// ConcreteResource reports whether the check names a single resource
func (c PermissionCheck) ConcreteResource() bool {
	return c.ResourceID != "" && c.ResourceID != "*"
}

// DecisionCode distinguishes why a check was granted or denied
type DecisionCode string

const (
	CodeGranted              DecisionCode = "granted"
	CodeDenied               DecisionCode = "denied"
	CodeTenantBoundary       DecisionCode = "tenant_boundary"
	CodeTenantContextMissing DecisionCode = "tenant_context_missing"
	CodeStoreUnavailable     DecisionCode = "store_unavailable"
	CodeUnknownPermission    DecisionCode = "unknown_permission"
	CodeNotOwner             DecisionCode = "not_owner"
)

// PermissionCheckResult represents the result of a permission check
type PermissionCheckResult struct {
	Allowed      bool         `json:"allowed"`
	Code         DecisionCode `json:"code"`
	Reason       string       `json:"reason,omitempty"`
	MatchedRoles []string     `json:"matched_roles,omitempty"`
	Cached       bool         `json:"cached"`
	CheckedAt    time.Time    `json:"checked_at"`
}

func denied(code DecisionCode, reason string, now time.Time) *PermissionCheckResult {
	return &PermissionCheckResult{
		Allowed:   false,
		Code:      code,
		Reason:    reason,
		CheckedAt: now,
	}
}

// Built-in role names
const (
	RoleSuperAdmin   = "system:superadmin"
	RoleSupportAgent = "system:support"
	RoleTenantAdmin  = "tenant:admin"
	RoleTenantEditor = "tenant:editor"
	RoleTenantViewer = "tenant:viewer"
)

// BuiltInRoles returns the immutable system roles
func BuiltInRoles() []Role {
	return []Role{
		{
			Name:         RoleSuperAdmin,
			DisplayName:  "Super Administrator",
			Description:  "Platform operator with cross-tenant support and provisioning access",
			IsSystemRole: true,
			AllowedCrossTenantOperations: []OperationType{
				OperationTenantSupport,
				OperationTenantProvisioning,
				OperationAuditReview,
			},
			Permissions: []Permission{
				{Resource: ResourceTenant, Action: ActionManage},
				{Resource: ResourceTenant, Action: ActionView},
				{Resource: ResourceTenant, Action: ActionViewAny},
				{Resource: ResourceTenant, Action: ActionCreate},
				{Resource: ResourceTenant, Action: ActionUpdate},
				{Resource: ResourceTenant, Action: ActionDelete},
				{Resource: ResourceUser, Action: ActionView},
				{Resource: ResourceUser, Action: ActionViewAny},
				{Resource: ResourceUser, Action: ActionUpdate},
				{Resource: ResourceSettings, Action: ActionView},
				{Resource: ResourceSettings, Action: ActionUpdate},
			},
		},
		{
			Name:                         RoleSupportAgent,
			DisplayName:                  "Support Agent",
			Description:                  "Read-only cross-tenant access for support cases",
			IsSystemRole:                 true,
			AllowedCrossTenantOperations: []OperationType{OperationTenantSupport},
			Permissions: []Permission{
				{Resource: ResourceUser, Action: ActionView},
				{Resource: ResourceUser, Action: ActionViewAny},
				{Resource: ResourceSettings, Action: ActionView},
			},
		},
	}
}

// RoleTemplate represents a template for creating tenant roles
type RoleTemplate struct {
	Name        string       `json:"name"`
	DisplayName string       `json:"display_name"`
	Description string       `json:"description"`
	Permissions []Permission `json:"permissions"`
}

// TenantRoleTemplates returns the roles created for every new tenant
func TenantRoleTemplates() []RoleTemplate {
	return []RoleTemplate{
		{
			Name:        RoleTenantAdmin,
			DisplayName: "Tenant Administrator",
			Description: "Full access within the tenant",
			Permissions: append(
				expandResources(
					[]Resource{ResourceUser, ResourceRole, ResourceDocument, ResourceReport, ResourceInvoice},
					ActionView, ActionViewAny, ActionCreate, ActionUpdate, ActionDelete, ActionManage,
				),
				expandResources([]Resource{ResourceSettings}, ActionView, ActionUpdate, ActionManage)...,
			),
		},
		{
			Name:        RoleTenantEditor,
			DisplayName: "Editor",
			Description: "Create and edit documents and reports",
			Permissions: expandResources(
				[]Resource{ResourceDocument, ResourceReport},
				ActionView, ActionViewAny, ActionCreate, ActionUpdate,
			),
		},
		{
			Name:        RoleTenantViewer,
			DisplayName: "Viewer",
			Description: "Read-only access to tenant content",
			Permissions: expandResources(
				[]Resource{ResourceDocument, ResourceReport, ResourceInvoice},
				ActionView, ActionViewAny,
			),
		},
	}
}

func expandResources(resources []Resource, actions ...Action) []Permission {
	perms := make([]Permission, 0, len(resources)*len(actions))
	for _, r := range resources {
		for _, a := range actions {
			perms = append(perms, Permission{Resource: r, Action: a})
		}
	}
	return perms
}
