package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Dialect selects the SQL flavour for schema statements. Queries are
// written to run unchanged on both.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

func (d Dialect) serialPK() string {
	if d == DialectSQLite {
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	return "BIGSERIAL PRIMARY KEY"
}

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all authorization schema migrations. Tenant id 0
// marks system roles and their assignments.
func GetMigrations(dialect Dialect) []Migration {
	pk := dialect.serialPK()
	return []Migration{
		{
			Version:     1,
			Description: "Create tenants table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenants (
					id BIGINT PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					status VARCHAR(20) NOT NULL DEFAULT 'active',
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
			`,
		},
		{
			Version:     2,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id ` + pk + `,
					name VARCHAR(255) NOT NULL,
					display_name VARCHAR(255) NOT NULL,
					description TEXT NOT NULL DEFAULT '',
					tenant_id BIGINT NOT NULL DEFAULT 0,
					is_system_role BOOLEAN NOT NULL DEFAULT FALSE,
					cross_tenant_operations TEXT NOT NULL DEFAULT '[]',
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL,
					created_by BIGINT,
					UNIQUE(name, tenant_id)
				);

				CREATE INDEX IF NOT EXISTS idx_roles_tenant_id ON roles(tenant_id);
			`,
		},
		{
			Version:     3,
			Description: "Create role_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id BIGINT NOT NULL,
					resource VARCHAR(100) NOT NULL,
					action VARCHAR(50) NOT NULL,
					PRIMARY KEY (role_id, resource, action)
				);
			`,
		},
		{
			Version:     4,
			Description: "Create user_roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_roles (
					id ` + pk + `,
					user_id BIGINT NOT NULL,
					role_id BIGINT NOT NULL,
					tenant_id BIGINT NOT NULL DEFAULT 0,
					granted_by BIGINT,
					granted_at TIMESTAMP NOT NULL,
					UNIQUE(user_id, role_id, tenant_id)
				);

				CREATE INDEX IF NOT EXISTS idx_user_roles_user_tenant ON user_roles(user_id, tenant_id);
				CREATE INDEX IF NOT EXISTS idx_user_roles_role_tenant ON user_roles(role_id, tenant_id);
			`,
		},
		{
			Version:     5,
			Description: "Create user_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_permissions (
					id ` + pk + `,
					user_id BIGINT NOT NULL,
					tenant_id BIGINT NOT NULL,
					resource VARCHAR(100) NOT NULL,
					action VARCHAR(50) NOT NULL,
					expires_at TIMESTAMP,
					granted_by BIGINT,
					granted_at TIMESTAMP NOT NULL,
					UNIQUE(user_id, tenant_id, resource, action)
				);

				CREATE INDEX IF NOT EXISTS idx_user_permissions_user_tenant ON user_permissions(user_id, tenant_id);
			`,
		},
		{
			Version:     6,
			Description: "Create resource_owners table",
			SQL: `
				CREATE TABLE IF NOT EXISTS resource_owners (
					tenant_id BIGINT NOT NULL,
					resource VARCHAR(100) NOT NULL,
					resource_id VARCHAR(255) NOT NULL,
					creator_id BIGINT NOT NULL,
					PRIMARY KEY (tenant_id, resource, resource_id)
				);
			`,
		},
	}
}

// RunMigrations applies pending migrations, each in its own transaction
func RunMigrations(ctx context.Context, db *sql.DB, dialect Dialect) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS authz_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM authz_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, migration := range GetMigrations(dialect) {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, strings.TrimSpace(migration.SQL)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO authz_migrations (version, description, applied_at) VALUES ($1, $2, $3)",
			migration.Version, migration.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
