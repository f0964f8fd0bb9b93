package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/tenantauthz/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Database      DatabaseConfig
	Cache         CacheConfig
	Engine        EngineConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
}

// DatabaseConfig holds grant store connection settings
type DatabaseConfig struct {
	Dialect         string // postgres or sqlite3
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// CacheConfig holds decision cache settings. The shared tier is used only
// when RedisURL is set.
type CacheConfig struct {
	Enabled         bool
	TTL             time.Duration
	LocalShards     int
	LocalMaxEntries int

	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
	RedisPrefix     string
}

// EngineConfig holds permission engine settings
type EngineConfig struct {
	StoreTimeout        time.Duration
	PolicyPath          string
	EnforceTenantStatus bool
}

// Audit sink types
const (
	AuditSinkNone     = "none"
	AuditSinkStdout   = "stdout"
	AuditSinkFile     = "file"
	AuditSinkDatabase = "database"
)

// AuditConfig holds audit trail settings
type AuditConfig struct {
	Sink        string
	FilePath    string
	MaxFileSize int64
	MaxFiles    int
	BufferSize  int
	SkipGranted bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Database:      loadDatabaseConfig(),
		Cache:         loadCacheConfig(),
		Engine:        loadEngineConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Dialect:         getEnv("AUTHZ_DB_DIALECT", "postgres"),
		URL:             getEnv("AUTHZ_DB_URL", ""),
		MaxOpenConns:    getEnvInt("AUTHZ_DB_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("AUTHZ_DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("AUTHZ_DB_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:         getEnvBool("AUTHZ_CACHE_ENABLED", true),
		TTL:             getEnvDuration("AUTHZ_CACHE_TTL", 30*time.Second),
		LocalShards:     getEnvInt("AUTHZ_CACHE_SHARDS", 32),
		LocalMaxEntries: getEnvInt("AUTHZ_CACHE_MAX_ENTRIES", 4096),
		RedisURL:        getEnv("AUTHZ_REDIS_URL", ""),
		RedisPassword:   getEnv("AUTHZ_REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("AUTHZ_REDIS_DB", 0),
		RedisMaxRetries: getEnvInt("AUTHZ_REDIS_MAX_RETRIES", 3),
		RedisPoolSize:   getEnvInt("AUTHZ_REDIS_POOL_SIZE", 10),
		RedisPrefix:     getEnv("AUTHZ_REDIS_PREFIX", "authz"),
	}
}

func loadEngineConfig() EngineConfig {
	return EngineConfig{
		StoreTimeout:        getEnvDuration("AUTHZ_STORE_TIMEOUT", 2*time.Second),
		PolicyPath:          getEnv("AUTHZ_POLICY_PATH", ""),
		EnforceTenantStatus: getEnvBool("AUTHZ_ENFORCE_TENANT_STATUS", true),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Sink:        strings.ToLower(getEnv("AUTHZ_AUDIT_SINK", AuditSinkNone)),
		FilePath:    getEnv("AUTHZ_AUDIT_PATH", "/var/log/authz"),
		MaxFileSize: getEnvInt64("AUTHZ_AUDIT_MAX_FILE_SIZE", 100*1024*1024),
		MaxFiles:    getEnvInt("AUTHZ_AUDIT_MAX_FILES", 10),
		BufferSize:  getEnvInt("AUTHZ_AUDIT_BUFFER_SIZE", 1024),
		SkipGranted: getEnvBool("AUTHZ_AUDIT_SKIP_GRANTED", false),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("AUTHZ_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("AUTHZ_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("AUTHZ_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("AUTHZ_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("AUTHZ_OTEL_SERVICE_NAME", "tenantauthz"),
		OTelServiceVersion: getEnv("AUTHZ_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("AUTHZ_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("AUTHZ_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Database.Dialect {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("invalid database dialect: %s (must be postgres or sqlite3)", c.Database.Dialect)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if c.Cache.Enabled {
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("cache TTL must be positive")
		}
		if c.Cache.LocalShards <= 0 || c.Cache.LocalMaxEntries <= 0 {
			return fmt.Errorf("cache shards and max entries must be positive")
		}
	}

	if c.Engine.StoreTimeout <= 0 {
		return fmt.Errorf("store timeout must be positive")
	}

	switch c.Audit.Sink {
	case AuditSinkNone, AuditSinkStdout, AuditSinkDatabase:
	case AuditSinkFile:
		if c.Audit.FilePath == "" {
			return fmt.Errorf("audit path is required for file audit sink")
		}
	default:
		return fmt.Errorf("invalid audit sink: %s (must be none, stdout, file, or database)", c.Audit.Sink)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
