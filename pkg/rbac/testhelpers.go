package rbac

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
)

// EnvTestPostgres names the variable holding a Postgres URL for tests
const EnvTestPostgres = "AUTHZ_TEST_POSTGRES"

// SkipIfNoDatabase skips the test if AUTHZ_TEST_POSTGRES is not set.
// This allows tests to run in CI where the database is available, but skip locally if not configured.
func SkipIfNoDatabase(t *testing.T) string {
	t.Helper()

	dbURL := os.Getenv(EnvTestPostgres)
	if dbURL == "" {
		t.Skipf("Skipping test: %s environment variable not set (database not available)", EnvTestPostgres)
	}

	return dbURL
}

// SkipIfNoDatabaseOrShort skips the test if running in short mode OR if database is not available.
func SkipIfNoDatabaseOrShort(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping database test in short mode")
	}

	return SkipIfNoDatabase(t)
}

// RequireDatabase connects to the configured Postgres database and migrates
// it, or skips the test if it is not available or running in short mode
func RequireDatabase(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := SkipIfNoDatabaseOrShort(t)

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Skipf("Failed to connect to database: %v", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("Database not reachable: %v", err)
	}

	if err := RunMigrations(context.Background(), db, DialectPostgres); err != nil {
		db.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// IsDatabaseAvailable returns true if AUTHZ_TEST_POSTGRES is set (does not test connection).
func IsDatabaseAvailable() bool {
	return os.Getenv(EnvTestPostgres) != ""
}
