package tenancy

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/tenantauthz/pkg/contextkeys"
)

// HeaderTenantID carries the active tenant when the route has no tenant variable
const HeaderTenantID = "X-Tenant-ID"

// ErrTenantNotFound is returned by a Directory for unknown tenants
var ErrTenantNotFound = errors.New("tenant not found")

// Middleware sets the active tenant from the tenant_id route variable or the
// X-Tenant-ID header. When directory is non-nil the tenant must exist and be
// active. Requests without a tenant pass through untouched; RequireTenant
// rejects them.
func Middleware(directory Directory) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := mux.Vars(r)["tenant_id"]
			if !ok {
				raw = r.Header.Get(HeaderTenantID)
			}
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			tenantID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || tenantID <= 0 {
				http.Error(w, "Invalid tenant ID", http.StatusBadRequest)
				return
			}

			ctx := WithTenant(r.Context(), tenantID)

			if directory != nil {
				tenant, err := directory.GetTenant(ctx, tenantID)
				if errors.Is(err, ErrTenantNotFound) {
					http.Error(w, "Tenant not found", http.StatusNotFound)
					return
				}
				if err != nil {
					http.Error(w, "Failed to load tenant", http.StatusServiceUnavailable)
					return
				}
				if !tenant.IsActive() {
					http.Error(w, "Tenant is not active", http.StatusForbidden)
					return
				}
				ctx = contextkeys.WithTenant(ctx, tenant)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireTenant rejects requests without an active tenant
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := TenantFromContext(r.Context()); !ok {
			http.Error(w, "Tenant context required", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}
