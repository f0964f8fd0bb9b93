// Package config loads process configuration from AUTHZ_* environment
// variables.
//
// Database:
//
//	AUTHZ_DB_DIALECT="postgres"   # postgres or sqlite3
//	AUTHZ_DB_URL="postgres://localhost/authz?sslmode=disable"
//	AUTHZ_DB_MAX_OPEN_CONNS="20"
//
// Cache (the Redis tier is enabled by setting its URL):
//
//	AUTHZ_CACHE_ENABLED="true"
//	AUTHZ_CACHE_TTL="30s"
//	AUTHZ_REDIS_URL="redis://localhost:6379/0"
//	AUTHZ_REDIS_PREFIX="authz"
//
// Engine:
//
//	AUTHZ_STORE_TIMEOUT="2s"
//	AUTHZ_POLICY_PATH="/etc/authz/policy.yaml"
//	AUTHZ_ENFORCE_TENANT_STATUS="true"
//
// Audit:
//
//	AUTHZ_AUDIT_SINK="file"       # none, stdout, file, database
//	AUTHZ_AUDIT_PATH="/var/log/authz"
//	AUTHZ_AUDIT_SKIP_GRANTED="false"
//
// Observability:
//
//	AUTHZ_LOG_LEVEL="info"
//	AUTHZ_OTEL_ENABLED="false"
//	AUTHZ_OTEL_ENDPOINT="localhost:4317"
//
// LoadConfig validates the result and fails on inconsistent settings.
package config
