package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenantauthz/pkg/audit"
	"github.com/platinummonkey/tenantauthz/pkg/cache"
	"github.com/platinummonkey/tenantauthz/pkg/config"
	"github.com/platinummonkey/tenantauthz/pkg/contextkeys"
	"github.com/platinummonkey/tenantauthz/pkg/observability"
	"github.com/platinummonkey/tenantauthz/pkg/rbac"
)

// loadConfig is replaced in tests
var loadConfig = config.LoadConfig

// dbStatsInterval is how often pool statistics are exported
const dbStatsInterval = 15 * time.Second

// runtime is the wiring shared by commands that touch the grant store
type runtime struct {
	cfg      *config.Config
	log      *logrus.Logger
	db       *sql.DB
	registry *prometheus.Registry
	manager  *rbac.Manager
	shutdown *observability.ShutdownManager
}

func setupLogger(level observability.LogLevel) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level.String())
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	engineLogger := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr)
	rt := &runtime{
		cfg:      cfg,
		log:      setupLogger(cfg.Observability.LogLevel),
		shutdown: observability.NewShutdownManager(engineLogger, 10*time.Second),
	}

	if err := rt.build(ctx, engineLogger); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

// build registers every resource with the shutdown manager right after it
// is created. Resources close newest first: the audit recorder drains
// before the database it may write to.
func (rt *runtime) build(ctx context.Context, logger *observability.Logger) error {
	cfg := rt.cfg

	var metrics *observability.AuthzMetrics
	if cfg.Observability.MetricsEnabled {
		// One registry per runtime; commands never serve /metrics.
		rt.registry = prometheus.NewRegistry()
		metrics = observability.NewAuthzMetrics(rt.registry)
	}

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	var otelMetrics *observability.OTelMetrics
	if providers != nil {
		rt.shutdown.Register("otel", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers)
		})
		if otelMetrics, err = observability.NewOTelMetrics(); err != nil {
			return err
		}
		metrics.MirrorTo(otelMetrics)
	}

	db, err := connectDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	rt.db = db
	rt.shutdown.Register("database", func(context.Context) error {
		return db.Close()
	})
	if rt.registry != nil {
		if err := rt.registry.Register(collectors.NewDBStatsCollector(db, "authz")); err != nil {
			return fmt.Errorf("failed to register database stats: %w", err)
		}
	}
	stopDBStats := otelMetrics.WatchDBStats(db, dbStatsInterval)
	rt.shutdown.Register("database stats", func(context.Context) error {
		stopDBStats()
		return nil
	})

	decisionCache, err := rt.buildCache(ctx, logger)
	if err != nil {
		return err
	}

	policy := rbac.DefaultPolicy()
	if cfg.Engine.PolicyPath != "" {
		if policy, err = rbac.LoadPolicy(cfg.Engine.PolicyPath); err != nil {
			return err
		}
	}

	managerConfig := rbac.ManagerConfig{
		DB:                  db,
		Dialect:             rbac.Dialect(cfg.Database.Dialect),
		Policy:              policy,
		Cache:               decisionCache,
		Logger:              logger,
		Metrics:             metrics,
		CacheTTL:            cfg.Cache.TTL,
		StoreTimeout:        cfg.Engine.StoreTimeout,
		EnforceTenantStatus: cfg.Engine.EnforceTenantStatus,
	}

	sink, err := rt.buildAuditSink(db)
	if err != nil {
		return err
	}
	if sink != nil {
		recorder := audit.NewRecorder(sink, audit.RecorderConfig{
			BufferSize:  cfg.Audit.BufferSize,
			SkipGranted: cfg.Audit.SkipGranted,
			Logger:      logger,
			Metrics:     metrics,
		})
		rt.shutdown.Register("audit", func(context.Context) error {
			return recorder.Close()
		})
		managerConfig.Audit = recorder
	}

	rt.manager, err = rbac.NewManager(managerConfig)
	return err
}

func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Dialect, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Dialect == string(rbac.DialectSQLite) {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// buildCache returns nil when caching is disabled
func (rt *runtime) buildCache(ctx context.Context, logger *observability.Logger) (cache.Cache, error) {
	cfg := rt.cfg.Cache
	if !cfg.Enabled {
		return nil, nil
	}

	local := cache.NewLocalCache(&cache.Config{
		Shards:     cfg.LocalShards,
		MaxEntries: cfg.LocalMaxEntries,
		TTL:        cfg.TTL,
	})
	if cfg.RedisURL == "" {
		return local, nil
	}

	shared, err := cache.NewRedisCache(cache.RedisConfig{
		URL:        cfg.RedisURL,
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		MaxRetries: cfg.RedisMaxRetries,
		PoolSize:   cfg.RedisPoolSize,
		Prefix:     cfg.RedisPrefix,
	})
	if err != nil {
		return nil, err
	}

	tiered := cache.NewTieredCache(local, shared)
	if err := tiered.Start(ctx); err != nil {
		shared.Close()
		return nil, fmt.Errorf("failed to subscribe to invalidations: %w", err)
	}
	rt.shutdown.Register("cache", func(context.Context) error {
		return tiered.Close()
	})
	logger.WithField("instance_id", shared.InstanceID()).Debug("shared cache tier enabled")
	return tiered, nil
}

// buildAuditSink returns nil when auditing is disabled
func (rt *runtime) buildAuditSink(db *sql.DB) (audit.Logger, error) {
	cfg := rt.cfg.Audit
	switch cfg.Sink {
	case config.AuditSinkStdout:
		return audit.NewWriterLogger(os.Stdout), nil
	case config.AuditSinkFile:
		return audit.NewFileLogger(audit.FileLoggerConfig{
			BasePath: cfg.FilePath,
			MaxSize:  cfg.MaxFileSize,
			MaxFiles: cfg.MaxFiles,
		})
	case config.AuditSinkDatabase:
		if rt.cfg.Database.Dialect != string(rbac.DialectPostgres) {
			return nil, fmt.Errorf("database audit sink requires postgres")
		}
		return audit.NewDBLogger(db)
	default:
		return nil, nil
	}
}

// Close releases every resource
func (rt *runtime) Close() error {
	return rt.shutdown.Shutdown(context.Background())
}

// withActor attributes audited mutations to actor when it is set
func withActor(ctx context.Context, actor int64) context.Context {
	if actor == 0 {
		return ctx
	}
	return contextkeys.WithUserID(ctx, actor)
}
