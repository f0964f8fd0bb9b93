package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/tenantauthz/pkg/cache"
	"github.com/platinummonkey/tenantauthz/pkg/observability"
)

const tracerName = "github.com/platinummonkey/tenantauthz/pkg/rbac"

// Checker answers permission questions
type Checker interface {
	// CheckPermission decides a single check. An error is always returned
	// together with a denied result.
	CheckPermission(ctx context.Context, check PermissionCheck) (*PermissionCheckResult, error)

	// EffectivePermissions returns the union of a user's grants in a tenant
	EffectivePermissions(ctx context.Context, userID, tenantID int64) ([]Permission, error)

	// UIActions returns the actions on resource whose dependencies are all
	// granted. It is for display only and never grants anything.
	UIActions(ctx context.Context, userID, tenantID int64, resource Resource) ([]Action, error)
}

// Invalidator drops cached decisions after grant data changes. Each call
// returns only once the invalidation has been applied.
type Invalidator interface {
	InvalidateUserTenant(ctx context.Context, userID, tenantID int64) error

	// InvalidateUser drops a user's decisions in every tenant
	InvalidateUser(ctx context.Context, userID int64) error

	InvalidateTenant(ctx context.Context, tenantID int64) error

	// InvalidateRole invalidates every holder of a role. A zero tenant
	// denotes a system role.
	InvalidateRole(ctx context.Context, roleID, tenantID int64) error

	InvalidateDirectPermission(ctx context.Context, userID, tenantID int64, perm Permission) error
}

// EngineConfig configures an Engine
type EngineConfig struct {
	Store     Store
	Ownership OwnershipResolver
	Policy    *Policy
	Boundary  *BoundaryResolver

	// Cache is optional; without it every check reads the store
	Cache cache.Cache

	Audit   AuditHook
	Logger  *observability.Logger
	Metrics *observability.AuthzMetrics

	CacheTTL     time.Duration // default: 30s
	StoreTimeout time.Duration // default: 2s

	Clock func() time.Time
}

// Engine resolves permissions for a user within a tenant
type Engine struct {
	store        Store
	ownership    OwnershipResolver
	taxonomy     *Taxonomy
	deps         *DependencyResolver
	boundary     *BoundaryResolver
	cache        cache.Cache
	audit        AuditHook
	logger       *observability.Logger
	metrics      *observability.AuthzMetrics
	tracer       trace.Tracer
	cacheTTL     time.Duration
	storeTimeout time.Duration
	now          func() time.Time

	flights singleflight.Group

	// epoch advances on every invalidation so that a grant load started
	// before it is never shared with checks that start after it
	epoch atomic.Uint64
}

var (
	_ Checker     = (*Engine)(nil)
	_ Invalidator = (*Engine)(nil)
)

// NewEngine creates a permission resolution engine. It fails when the
// policy's dependency table contains a cycle.
func NewEngine(config EngineConfig) (*Engine, error) {
	if config.Store == nil {
		return nil, errors.New("store is required")
	}
	if config.Policy == nil {
		config.Policy = DefaultPolicy()
	}
	deps, err := NewDependencyResolver(config.Policy.Dependencies)
	if err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}
	if config.Audit == nil {
		config.Audit = noopAuditHook{}
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 30 * time.Second
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = 2 * time.Second
	}
	if config.Boundary == nil {
		config.Boundary = NewBoundaryResolver(BoundaryConfig{
			SystemRoles: config.Store,
			Audit:       config.Audit,
			Logger:      config.Logger,
			Metrics:     config.Metrics,
			Timeout:     config.StoreTimeout,
			Operations:  config.Policy.CrossTenantOperations,
		})
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &Engine{
		store:        config.Store,
		ownership:    config.Ownership,
		taxonomy:     config.Policy.Taxonomy(),
		deps:         deps,
		boundary:     config.Boundary,
		cache:        config.Cache,
		audit:        config.Audit,
		logger:       config.Logger,
		metrics:      config.Metrics,
		tracer:       otel.Tracer(tracerName),
		cacheTTL:     config.CacheTTL,
		storeTimeout: config.StoreTimeout,
		now:          config.Clock,
	}, nil
}

// Dependencies returns the engine's dependency resolver
func (e *Engine) Dependencies() *DependencyResolver {
	return e.deps
}

// grantSet maps each held permission to its sources: role names, or an
// empty string for a direct grant
type grantSet struct {
	sources map[Permission][]string

	// expiresAt is the earliest expiry among active direct grants
	expiresAt time.Time
}

func newGrantSet() *grantSet {
	return &grantSet{sources: make(map[Permission][]string)}
}

func (g *grantSet) add(perm Permission, source string) {
	g.sources[perm] = append(g.sources[perm], source)
}

func (g *grantSet) permissions() []Permission {
	perms := make([]Permission, 0, len(g.sources))
	for p := range g.sources {
		perms = append(perms, p)
	}
	SortPermissions(perms)
	return perms
}

// CheckPermission decides whether the user may perform the permission
func (e *Engine) CheckPermission(ctx context.Context, check PermissionCheck) (*PermissionCheckResult, error) {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "rbac.CheckPermission",
		trace.WithAttributes(
			attribute.Int64("authz.user_id", check.UserID),
			attribute.Int64("authz.tenant_id", check.TenantID),
			attribute.Int64("authz.target_tenant_id", check.Target()),
			attribute.String("authz.permission", check.Permission.String()),
		))
	defer span.End()

	result, err := e.check(ctx, check)
	if result == nil {
		result = denied(CodeForError(err), "", e.now())
	}
	if err != nil && result.Allowed {
		result.Allowed = false
	}

	span.SetAttributes(
		attribute.Bool("authz.allowed", result.Allowed),
		attribute.String("authz.code", string(result.Code)),
		attribute.Bool("authz.cached", result.Cached),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	e.metrics.RecordCheck(string(result.Code), result.Cached, e.now().Sub(start))
	e.audit.LogPermissionCheck(ctx, check.UserID, check.Target(), check.Permission.String(),
		check.ResourceID, result.Allowed, string(result.Code))

	logger := observability.FromContext(ctx, e.logger).WithFields(map[string]interface{}{
		"user_id":    check.UserID,
		"tenant_id":  check.TenantID,
		"permission": check.Permission.String(),
		"allowed":    result.Allowed,
		"code":       string(result.Code),
	})
	if err != nil {
		logger.WithError(err).Warn("permission check failed closed")
	} else {
		logger.Debug("permission check")
	}

	return result, err
}

func (e *Engine) check(ctx context.Context, check PermissionCheck) (*PermissionCheckResult, error) {
	boundary, err := e.boundary.ValidateBoundary(ctx, check.UserID, check.TenantID, check.TargetTenantID, check.Operation)
	if err != nil {
		return denied(CodeForError(err), boundary.Reason, e.now()), err
	}
	if !boundary.Allowed {
		return denied(CodeTenantBoundary, boundary.Reason, e.now()), nil
	}

	if !e.taxonomy.Contains(check.Permission) {
		return denied(CodeUnknownPermission, check.Permission.String(), e.now()),
			fmt.Errorf("%w: %s", ErrUnknownPermission, check.Permission)
	}

	if boundary.CrossTenant {
		grants, err := e.loadSystemGrants(ctx, boundary.SystemRoles)
		if err != nil {
			return denied(CodeStoreUnavailable, "", e.now()), err
		}
		return e.decide(ctx, check, grants)
	}

	key := cache.Key{
		TenantID:   check.TenantID,
		UserID:     check.UserID,
		Resource:   string(check.Permission.Resource),
		Action:     string(check.Permission.Action),
		ResourceID: check.ResourceID,
	}
	if entry := e.cacheGet(ctx, key); entry != nil {
		return &PermissionCheckResult{
			Allowed:      entry.Allowed,
			Code:         DecisionCode(entry.Code),
			Reason:       entry.Reason,
			MatchedRoles: entry.MatchedRoles,
			Cached:       true,
			CheckedAt:    e.now(),
		}, nil
	}

	gen, cacheable := e.generation(ctx, check.TenantID, check.UserID)
	grants, err := e.loadGrants(ctx, check.UserID, check.TenantID, gen)
	if err != nil {
		return denied(CodeStoreUnavailable, "", e.now()), err
	}

	result, err := e.decide(ctx, check, grants)
	if err != nil || !cacheable || e.consultsOwnership(check) {
		return result, err
	}

	ttl := e.cacheTTL
	if !grants.expiresAt.IsZero() {
		if until := grants.expiresAt.Sub(e.now()); until < ttl {
			ttl = until
		}
	}
	if ttl > 0 {
		e.cachePut(ctx, key, &cache.Entry{
			Allowed:      result.Allowed,
			Code:         string(result.Code),
			Reason:       result.Reason,
			MatchedRoles: result.MatchedRoles,
			ExpiresAt:    e.now().Add(ttl),
		}, gen)
	}
	return result, nil
}

// decide applies exact matching and the ownership rule to loaded grants
func (e *Engine) decide(ctx context.Context, check PermissionCheck, grants *grantSet) (*PermissionCheckResult, error) {
	sources, ok := grants.sources[check.Permission]
	if !ok {
		return denied(CodeDenied, "no role or direct permission grants "+check.Permission.String(), e.now()), nil
	}

	var roles []string
	direct := false
	for _, s := range sources {
		if s == "" {
			direct = true
			continue
		}
		roles = append(roles, s)
	}

	if e.consultsOwnership(check) {
		creator, err := e.lookupCreator(ctx, check)
		if err != nil {
			return denied(CodeStoreUnavailable, "", e.now()), err
		}
		if creator == 0 || creator != check.UserID {
			return denied(CodeNotOwner, "permission requires resource ownership", e.now()), nil
		}
	}

	reason := "granted by roles: " + strings.Join(roles, ", ")
	switch {
	case len(roles) == 0:
		reason = "granted by direct permission"
	case direct:
		reason += " and direct permission"
	}

	return &PermissionCheckResult{
		Allowed:      true,
		Code:         CodeGranted,
		Reason:       reason,
		MatchedRoles: roles,
		CheckedAt:    e.now(),
	}, nil
}

func (e *Engine) consultsOwnership(check PermissionCheck) bool {
	return e.ownership != nil &&
		check.ConcreteResource() &&
		!check.Permission.Action.IsAny() &&
		e.ownership.IsOwnershipGated(check.Permission)
}

func (e *Engine) lookupCreator(ctx context.Context, check PermissionCheck) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	creator, err := e.ownership.GetResourceCreator(ctx, check.Target(), check.Permission.Resource, check.ResourceID)
	if err != nil {
		e.metrics.RecordStoreError("resource_creator")
		return 0, fmt.Errorf("%w: failed to get resource creator: %w", ErrStoreUnavailable, err)
	}
	return creator, nil
}

// loadGrants reads a user's tenant grants. Concurrent callers with the same
// generation share one store read, which runs under the store timeout even
// if the caller that started it goes away.
func (e *Engine) loadGrants(ctx context.Context, userID, tenantID int64, gen cache.Generation) (*grantSet, error) {
	key := fmt.Sprintf("%d:%d:%d:%s", tenantID, userID, e.epoch.Load(), gen)

	ch := e.flights.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.storeTimeout)
		defer cancel()
		return e.fetchGrants(loadCtx, userID, tenantID)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, ctx.Err())
	case res := <-ch:
		if res.Shared {
			e.metrics.RecordSharedLoad()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*grantSet), nil
	}
}

func (e *Engine) fetchGrants(ctx context.Context, userID, tenantID int64) (*grantSet, error) {
	var (
		roles       []Role
		rolePerms   []RolePermission
		directPerms []DirectPermission
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		roles, err = e.store.GetRolesForUser(gctx, userID, tenantID)
		if err != nil {
			e.metrics.RecordStoreError("roles")
			return fmt.Errorf("%w: failed to get roles: %w", ErrStoreUnavailable, err)
		}
		if len(roles) == 0 {
			return nil
		}
		ids := make([]int64, len(roles))
		for i, r := range roles {
			ids[i] = r.ID
		}
		rolePerms, err = e.store.GetPermissionsForRoles(gctx, ids)
		if err != nil {
			e.metrics.RecordStoreError("role_permissions")
			return fmt.Errorf("%w: failed to get role permissions: %w", ErrStoreUnavailable, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		directPerms, err = e.store.GetDirectPermissions(gctx, userID, tenantID)
		if err != nil {
			e.metrics.RecordStoreError("direct_permissions")
			return fmt.Errorf("%w: failed to get direct permissions: %w", ErrStoreUnavailable, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	names := make(map[int64]string, len(roles))
	for _, r := range roles {
		// A store must never return system roles here; skip any that leak.
		if r.IsSystemRole || r.TenantID != tenantID {
			continue
		}
		names[r.ID] = r.Name
	}

	grants := newGrantSet()
	for _, rp := range rolePerms {
		if name, ok := names[rp.RoleID]; ok {
			grants.add(rp.Permission, name)
		}
	}

	now := e.now()
	for _, dp := range directPerms {
		if dp.TenantID != tenantID || !dp.ActiveAt(now) {
			continue
		}
		grants.add(dp.Permission, "")
		if dp.ExpiresAt != nil && (grants.expiresAt.IsZero() || dp.ExpiresAt.Before(grants.expiresAt)) {
			grants.expiresAt = *dp.ExpiresAt
		}
	}
	return grants, nil
}

// loadSystemGrants builds the grant set for a cross-tenant check from the
// system roles that allowed the operation
func (e *Engine) loadSystemGrants(ctx context.Context, roles []Role) (*grantSet, error) {
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	names := make(map[int64]string, len(roles))
	ids := make([]int64, 0, len(roles))
	for _, r := range roles {
		names[r.ID] = r.Name
		ids = append(ids, r.ID)
	}

	perms, err := e.store.GetPermissionsForRoles(ctx, ids)
	if err != nil {
		e.metrics.RecordStoreError("role_permissions")
		return nil, fmt.Errorf("%w: failed to get system role permissions: %w", ErrStoreUnavailable, err)
	}

	grants := newGrantSet()
	for _, rp := range perms {
		if name, ok := names[rp.RoleID]; ok {
			grants.add(rp.Permission, name)
		}
	}
	return grants, nil
}

func (e *Engine) generation(ctx context.Context, tenantID, userID int64) (cache.Generation, bool) {
	if e.cache == nil {
		return "", false
	}
	gen, err := e.cache.Generation(ctx, tenantID, userID)
	if err != nil {
		e.metrics.RecordCacheError("generation")
		e.logger.WithError(err).Warn("cache generation unavailable, bypassing cache")
		return "", false
	}
	return gen, true
}

func (e *Engine) cacheGet(ctx context.Context, key cache.Key) *cache.Entry {
	if e.cache == nil {
		return nil
	}
	entry, err := e.cache.Get(ctx, key)
	if err != nil {
		e.metrics.RecordCacheError("get")
		e.logger.WithError(err).Warn("cache read failed, falling back to store")
		return nil
	}
	if entry == nil {
		e.metrics.RecordCacheMiss()
		return nil
	}
	e.metrics.RecordCacheHit(entry.Tier)
	return entry
}

func (e *Engine) cachePut(ctx context.Context, key cache.Key, entry *cache.Entry, gen cache.Generation) {
	if err := e.cache.Put(ctx, key, entry, gen); err != nil {
		e.metrics.RecordCacheError("put")
		e.logger.WithError(err).Warn("cache write failed")
	}
}

// EffectivePermissions returns the permissions a user holds in a tenant
// through tenant roles and active direct grants
func (e *Engine) EffectivePermissions(ctx context.Context, userID, tenantID int64) ([]Permission, error) {
	if tenantID == 0 {
		return nil, ErrTenantContextMissing
	}
	gen, _ := e.generation(ctx, tenantID, userID)
	grants, err := e.loadGrants(ctx, userID, tenantID, gen)
	if err != nil {
		return nil, err
	}
	return grants.permissions(), nil
}

// UIActions returns the actions on resource that are granted together with
// everything they depend on
func (e *Engine) UIActions(ctx context.Context, userID, tenantID int64, resource Resource) ([]Action, error) {
	perms, err := e.EffectivePermissions(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}

	var granted []Action
	for _, p := range perms {
		if p.Resource == resource {
			granted = append(granted, p.Action)
		}
	}
	return e.deps.ConsistentActions(NewActionSet(granted...)).Sorted(), nil
}

// InvalidateUserTenant drops every cached decision for a user in a tenant
func (e *Engine) InvalidateUserTenant(ctx context.Context, userID, tenantID int64) error {
	return e.invalidate(ctx, "user_tenant", cache.UserTenantPattern(userID, tenantID))
}

// InvalidateUser drops every cached decision for a user
func (e *Engine) InvalidateUser(ctx context.Context, userID int64) error {
	return e.invalidate(ctx, "user", cache.UserPattern(userID))
}

// InvalidateTenant drops every cached decision in a tenant
func (e *Engine) InvalidateTenant(ctx context.Context, tenantID int64) error {
	return e.invalidate(ctx, "tenant", cache.TenantPattern(tenantID))
}

// InvalidateDirectPermission drops cached decisions for one permission
func (e *Engine) InvalidateDirectPermission(ctx context.Context, userID, tenantID int64, perm Permission) error {
	return e.invalidate(ctx, "permission", cache.Pattern{
		TenantID: tenantID,
		UserID:   userID,
		Resource: string(perm.Resource),
		Action:   string(perm.Action),
	})
}

// InvalidateRole drops cached decisions for every holder of a role. When
// the holders of a tenant role cannot be listed the whole tenant is
// invalidated instead.
func (e *Engine) InvalidateRole(ctx context.Context, roleID, tenantID int64) error {
	lookupCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	users, err := e.store.GetUsersForRole(lookupCtx, roleID, tenantID)
	cancel()

	if err != nil {
		e.metrics.RecordStoreError("role_holders")
		if tenantID == 0 {
			e.epoch.Add(1)
			return fmt.Errorf("%w: failed to list system role holders: %w", ErrStoreUnavailable, err)
		}
		e.logger.WithError(err).WithField("role_id", roleID).
			Warn("failed to list role holders, invalidating tenant")
		return e.InvalidateTenant(ctx, tenantID)
	}

	var errs []error
	for _, userID := range users {
		if tenantID == 0 {
			errs = append(errs, e.invalidate(ctx, "user", cache.UserPattern(userID)))
			continue
		}
		errs = append(errs, e.invalidate(ctx, "user_tenant", cache.UserTenantPattern(userID, tenantID)))
	}
	if len(users) == 0 {
		e.epoch.Add(1)
	}
	return errors.Join(errs...)
}

func (e *Engine) invalidate(ctx context.Context, scope string, pattern cache.Pattern) error {
	e.epoch.Add(1)
	if e.cache == nil {
		return nil
	}
	err := e.cache.Invalidate(ctx, pattern)
	e.metrics.RecordInvalidation(scope, err)
	if err != nil {
		return fmt.Errorf("failed to invalidate %s: %w", pattern, err)
	}
	return nil
}
