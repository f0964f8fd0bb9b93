package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/tenantauthz/pkg/observability"
	"github.com/platinummonkey/tenantauthz/pkg/tenancy"
)

// Boundary denial reasons
const (
	ReasonCrossTenant         = "cross_tenant_access_denied"
	ReasonOperationRequired   = "cross_tenant_operation_required"
	ReasonOperationNotAllowed = "cross_tenant_operation_not_allowed"
	ReasonTenantInactive      = "tenant_inactive"
	ReasonTenantNotFound      = "tenant_not_found"
)

// AuditHook receives authorization events. Implementations must not block.
type AuditHook interface {
	LogCrossTenantAccess(ctx context.Context, userID, sourceTenantID, targetTenantID int64, allowed bool)
	LogPermissionCheck(ctx context.Context, userID, tenantID int64, permission, resourceID string, allowed bool, code string)
}

type noopAuditHook struct{}

func (noopAuditHook) LogCrossTenantAccess(context.Context, int64, int64, int64, bool) {}

func (noopAuditHook) LogPermissionCheck(context.Context, int64, int64, string, string, bool, string) {
}

// SystemRoleSource lists the system roles a user holds
type SystemRoleSource interface {
	GetSystemRolesForUser(ctx context.Context, userID int64) ([]Role, error)
}

// BoundaryDecision is the outcome of a tenant boundary check
type BoundaryDecision struct {
	Allowed        bool
	Reason         string
	AccessorTenant int64
	TargetTenant   int64

	// CrossTenant is set when the target differs from the active tenant
	CrossTenant bool

	// SystemRoles are the held system roles that permit the operation
	SystemRoles []Role
}

// BoundaryConfig configures a BoundaryResolver
type BoundaryConfig struct {
	SystemRoles SystemRoleSource
	Audit       AuditHook
	Logger      *observability.Logger
	Metrics     *observability.AuthzMetrics

	// Timeout bounds each store lookup (default: 2s)
	Timeout time.Duration

	// Tenants, when set, denies access to tenants that are not active
	Tenants tenancy.Directory

	// Operations restricts the operation types that may cross tenants.
	// Empty accepts any non-empty operation.
	Operations []OperationType
}

// BoundaryResolver decides whether an access stays within a permitted tenant scope
type BoundaryResolver struct {
	systemRoles SystemRoleSource
	audit       AuditHook
	logger      *observability.Logger
	metrics     *observability.AuthzMetrics
	timeout     time.Duration
	tenants     tenancy.Directory
	operations  map[OperationType]bool
}

// NewBoundaryResolver creates a boundary resolver
func NewBoundaryResolver(config BoundaryConfig) *BoundaryResolver {
	b := &BoundaryResolver{
		systemRoles: config.SystemRoles,
		audit:       config.Audit,
		logger:      config.Logger,
		metrics:     config.Metrics,
		timeout:     config.Timeout,
		tenants:     config.Tenants,
	}
	if b.timeout <= 0 {
		b.timeout = 2 * time.Second
	}
	if b.audit == nil {
		b.audit = noopAuditHook{}
	}
	if b.logger == nil {
		b.logger = observability.NopLogger()
	}
	if len(config.Operations) > 0 {
		b.operations = make(map[OperationType]bool, len(config.Operations))
		for _, op := range config.Operations {
			b.operations[op] = true
		}
	}
	return b
}

// ValidateBoundary checks that accessorUserID, acting in accessorTenantID,
// may reach targetTenantID for op. A zero target means the accessor tenant.
// Errors are always returned with a denied decision.
func (b *BoundaryResolver) ValidateBoundary(ctx context.Context, accessorUserID, accessorTenantID, targetTenantID int64, op OperationType) (*BoundaryDecision, error) {
	if accessorTenantID == 0 {
		return &BoundaryDecision{Reason: string(CodeTenantContextMissing)}, ErrTenantContextMissing
	}
	if targetTenantID == 0 {
		targetTenantID = accessorTenantID
	}

	decision := &BoundaryDecision{
		AccessorTenant: accessorTenantID,
		TargetTenant:   targetTenantID,
		CrossTenant:    accessorTenantID != targetTenantID,
	}

	if decision.CrossTenant {
		err := b.crossTenant(ctx, accessorUserID, op, decision)
		b.audit.LogCrossTenantAccess(ctx, accessorUserID, accessorTenantID, targetTenantID, decision.Allowed)
		b.metrics.RecordCrossTenant(decision.Allowed)
		b.logger.WithFields(map[string]interface{}{
			"user_id":       accessorUserID,
			"source_tenant": accessorTenantID,
			"target_tenant": targetTenantID,
			"operation":     string(op),
			"allowed":       decision.Allowed,
		}).Info("cross-tenant access attempt")
		if err != nil || !decision.Allowed {
			return decision, err
		}
	} else {
		decision.Allowed = true
	}

	if b.tenants != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, b.timeout)
		tenant, err := b.tenants.GetTenant(lookupCtx, targetTenantID)
		cancel()
		switch {
		case errors.Is(err, tenancy.ErrTenantNotFound):
			decision.Allowed = false
			decision.Reason = ReasonTenantNotFound
		case err != nil:
			b.metrics.RecordStoreError("tenant")
			decision.Allowed = false
			decision.Reason = string(CodeStoreUnavailable)
			return decision, fmt.Errorf("%w: failed to load tenant %d: %w", ErrStoreUnavailable, targetTenantID, err)
		case !tenant.IsActive():
			decision.Allowed = false
			decision.Reason = ReasonTenantInactive
		}
	}

	return decision, nil
}

func (b *BoundaryResolver) crossTenant(ctx context.Context, userID int64, op OperationType, decision *BoundaryDecision) error {
	if op == "" {
		decision.Reason = ReasonOperationRequired
		return nil
	}
	if b.operations != nil && !b.operations[op] {
		decision.Reason = ReasonOperationNotAllowed
		return nil
	}
	if b.systemRoles == nil {
		decision.Reason = ReasonCrossTenant
		return nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	roles, err := b.systemRoles.GetSystemRolesForUser(lookupCtx, userID)
	if err != nil {
		b.metrics.RecordStoreError("system_roles")
		decision.Reason = string(CodeStoreUnavailable)
		return fmt.Errorf("%w: failed to get system roles: %w", ErrStoreUnavailable, err)
	}

	for _, role := range roles {
		if role.AllowsOperation(op) {
			decision.SystemRoles = append(decision.SystemRoles, role)
		}
	}
	if len(decision.SystemRoles) == 0 {
		decision.Reason = ReasonCrossTenant
		return nil
	}

	decision.Allowed = true
	return nil
}
