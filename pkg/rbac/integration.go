package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/tenantauthz/pkg/cache"
	"github.com/platinummonkey/tenantauthz/pkg/observability"
)

// AuditSink receives both decision and mutation events
type AuditSink interface {
	AuditHook
	MutationAudit
}

// ManagerConfig holds the wiring for a Manager
type ManagerConfig struct {
	DB      *sql.DB
	Dialect Dialect
	Policy  *Policy

	// Cache is optional
	Cache cache.Cache

	Audit   AuditSink
	Logger  *observability.Logger
	Metrics *observability.AuthzMetrics

	CacheTTL     time.Duration
	StoreTimeout time.Duration

	// EnforceTenantStatus denies access to tenants that are not active
	EnforceTenantStatus bool
}

// Manager wires the store, engine, admin service and middleware together
type Manager struct {
	db         *sql.DB
	dialect    Dialect
	cache      cache.Cache
	store      *SQLStore
	engine     *Engine
	admin      *Admin
	middleware *PermissionMiddleware
}

// NewManager creates a new authorization manager
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.DB == nil {
		return nil, errors.New("database is required")
	}
	if config.Dialect == "" {
		config.Dialect = DialectPostgres
	}
	if config.Policy == nil {
		config.Policy = DefaultPolicy()
	}
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}

	store := NewSQLStore(config.DB)

	var hook AuditHook
	var mutations MutationAudit
	if config.Audit != nil {
		hook = config.Audit
		mutations = config.Audit
	}

	boundaryConfig := BoundaryConfig{
		SystemRoles: store,
		Audit:       hook,
		Logger:      config.Logger,
		Metrics:     config.Metrics,
		Timeout:     config.StoreTimeout,
		Operations:  config.Policy.CrossTenantOperations,
	}
	if config.EnforceTenantStatus {
		boundaryConfig.Tenants = store
	}

	engine, err := NewEngine(EngineConfig{
		Store:        store,
		Ownership:    NewOwnershipResolver(config.Policy, store),
		Policy:       config.Policy,
		Boundary:     NewBoundaryResolver(boundaryConfig),
		Cache:        config.Cache,
		Audit:        hook,
		Logger:       config.Logger,
		Metrics:      config.Metrics,
		CacheTTL:     config.CacheTTL,
		StoreTimeout: config.StoreTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	admin, err := NewAdmin(AdminConfig{
		Store:        store,
		Invalidator:  engine,
		Policy:       config.Policy,
		Dependencies: engine.Dependencies(),
		Audit:        mutations,
		Logger:       config.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create admin service: %w", err)
	}

	return &Manager{
		db:         config.DB,
		dialect:    config.Dialect,
		cache:      config.Cache,
		store:      store,
		engine:     engine,
		admin:      admin,
		middleware: NewPermissionMiddleware(engine),
	}, nil
}

// Initialize runs migrations and seeds the system roles
func (m *Manager) Initialize(ctx context.Context) error {
	if err := RunMigrations(ctx, m.db, m.dialect); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := m.admin.SeedSystemRoles(ctx); err != nil {
		return fmt.Errorf("failed to seed system roles: %w", err)
	}
	return nil
}

// Store returns the SQL store
func (m *Manager) Store() *SQLStore {
	return m.store
}

// Engine returns the permission engine
func (m *Manager) Engine() *Engine {
	return m.engine
}

// Admin returns the mutation service
func (m *Manager) Admin() *Admin {
	return m.admin
}

// Middleware returns the HTTP permission middleware
func (m *Manager) Middleware() *PermissionMiddleware {
	return m.middleware
}

// CheckPermission is a convenience method for same-tenant checks
func (m *Manager) CheckPermission(ctx context.Context, userID, tenantID int64, resource Resource, action Action, resourceID string) (bool, error) {
	result, err := m.engine.CheckPermission(ctx, PermissionCheck{
		UserID:     userID,
		TenantID:   tenantID,
		Permission: Permission{Resource: resource, Action: action},
		ResourceID: resourceID,
	})
	if err != nil {
		return false, err
	}
	return result.Allowed, nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// RegisterHealthChecks adds the database and, when it can be pinged, the
// shared cache to h. The cache is not critical since checks fall back to
// the store.
func (m *Manager) RegisterHealthChecks(h *observability.HealthChecker) {
	h.Register("database", true, func(ctx context.Context) error {
		return m.db.PingContext(ctx)
	})

	var p pinger
	switch c := m.cache.(type) {
	case *cache.TieredCache:
		p = c.Shared()
	case pinger:
		p = c
	}
	if p != nil {
		h.Register("cache", false, p.Ping)
	}
}
