package rbac

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantauthz/pkg/tenancy"
)

// Route variables read by the middleware
const (
	VarResourceID     = "resource_id"
	VarID             = "id"
	VarTargetTenantID = "target_tenant_id"
)

// PermissionMiddleware guards HTTP handlers with permission checks. It
// expects tenancy.Middleware and an authentication layer to have set the
// tenant and user on the request context.
type PermissionMiddleware struct {
	checker Checker
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(checker Checker) *PermissionMiddleware {
	return &PermissionMiddleware{checker: checker}
}

// StatusForCode maps a denied decision code to an HTTP status
func StatusForCode(code DecisionCode) int {
	switch code {
	case CodeGranted:
		return http.StatusOK
	case CodeTenantContextMissing:
		return http.StatusBadRequest
	case CodeUnknownPermission:
		return http.StatusInternalServerError
	case CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusForbidden
	}
}

func messageForCode(code DecisionCode) string {
	switch code {
	case CodeTenantContextMissing:
		return "Tenant context required"
	case CodeUnknownPermission:
		return "Permission check failed"
	case CodeStoreUnavailable:
		return "Permission data unavailable"
	case CodeNotOwner:
		return "Only the resource owner may do this"
	case CodeTenantBoundary:
		return "Access to this tenant is not permitted"
	default:
		return "Insufficient permissions"
	}
}

// buildCheck assembles a check from the request context and route variables.
// It returns false after writing a response when the user is unknown.
func buildCheck(w http.ResponseWriter, r *http.Request, perm Permission) (PermissionCheck, bool) {
	userID, ok := tenancy.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return PermissionCheck{}, false
	}
	tenantID, _ := tenancy.TenantFromContext(r.Context())

	vars := mux.Vars(r)
	resourceID, ok := vars[VarResourceID]
	if !ok {
		resourceID = vars[VarID]
	}

	return PermissionCheck{
		UserID:     userID,
		TenantID:   tenantID,
		Permission: perm,
		ResourceID: resourceID,
	}, true
}

func (pm *PermissionMiddleware) decide(w http.ResponseWriter, r *http.Request, check PermissionCheck) bool {
	result, err := pm.checker.CheckPermission(r.Context(), check)
	code := CodeDenied
	if result != nil {
		code = result.Code
	}
	if err != nil {
		code = CodeForError(err)
	}
	if err != nil || result == nil || !result.Allowed {
		http.Error(w, messageForCode(code), StatusForCode(code))
		return false
	}
	return true
}

// RequirePermission creates middleware that requires a specific permission.
// The resource id, when present, comes from the resource_id or id route
// variable.
func (pm *PermissionMiddleware) RequirePermission(resource Resource, action Action) func(http.Handler) http.Handler {
	perm := Permission{Resource: resource, Action: action}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			check, ok := buildCheck(w, r, perm)
			if !ok {
				return
			}
			if pm.decide(w, r, check) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// RequireCrossTenant creates middleware for support and provisioning routes
// that act on the tenant named by the target_tenant_id route variable
func (pm *PermissionMiddleware) RequireCrossTenant(op OperationType, resource Resource, action Action) func(http.Handler) http.Handler {
	perm := Permission{Resource: resource, Action: action}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			check, ok := buildCheck(w, r, perm)
			if !ok {
				return
			}

			raw := mux.Vars(r)[VarTargetTenantID]
			target, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || target <= 0 {
				http.Error(w, "Invalid target tenant ID", http.StatusBadRequest)
				return
			}
			check.TargetTenantID = target
			check.Operation = op

			if pm.decide(w, r, check) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// RequireAnyPermission creates middleware that requires any of the specified
// permissions. Failures on individual checks count as denials.
func (pm *PermissionMiddleware) RequireAnyPermission(permissions ...Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lastCode := CodeDenied
			for _, perm := range permissions {
				check, ok := buildCheck(w, r, perm)
				if !ok {
					return
				}
				result, err := pm.checker.CheckPermission(r.Context(), check)
				if err == nil && result.Allowed {
					next.ServeHTTP(w, r)
					return
				}
				if err != nil {
					lastCode = CodeForError(err)
				} else {
					lastCode = result.Code
				}
			}
			http.Error(w, messageForCode(lastCode), StatusForCode(lastCode))
		})
	}
}

// RequireAllPermissions creates middleware that requires all of the
// specified permissions
func (pm *PermissionMiddleware) RequireAllPermissions(permissions ...Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, perm := range permissions {
				check, ok := buildCheck(w, r, perm)
				if !ok {
					return
				}
				if !pm.decide(w, r, check) {
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
