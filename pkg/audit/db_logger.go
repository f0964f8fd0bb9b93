package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// DBLogger implements audit logging to a PostgreSQL table
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db}
	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure authz_audit_log table: %w", err)
	}
	return logger, nil
}

func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS authz_audit_log (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		user_id BIGINT,
		tenant_id BIGINT,
		target_tenant_id BIGINT,
		target_user_id BIGINT,
		permission VARCHAR(255),
		resource_id VARCHAR(255),
		code VARCHAR(50),
		message TEXT,
		error_message TEXT,
		request_id VARCHAR(100),
		metadata JSONB
	);

	CREATE INDEX IF NOT EXISTS idx_authz_audit_log_timestamp ON authz_audit_log(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_authz_audit_log_tenant ON authz_audit_log(tenant_id, user_id);
	CREATE INDEX IF NOT EXISTS idx_authz_audit_log_event_type ON authz_audit_log(event_type);
	`

	_, err := l.db.Exec(query)
	return err
}

// Log inserts an audit event
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	var metadataJSON []byte
	if event.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO authz_audit_log (
			timestamp, event_type, status,
			user_id, tenant_id, target_tenant_id, target_user_id,
			permission, resource_id, code,
			message, error_message, request_id, metadata
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9, $10,
			$11, $12, $13, $14
		)
	`

	_, err := l.db.ExecContext(ctx, query,
		event.Timestamp, string(event.EventType), string(event.Status),
		event.UserID, event.TenantID, event.TargetTenantID, event.TargetUserID,
		event.Permission, event.ResourceID, event.Code,
		event.Message, event.ErrorMessage, event.RequestID, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// SearchFilter narrows a Search. Zero values are ignored.
type SearchFilter struct {
	StartTime  *time.Time
	EndTime    *time.Time
	UserID     int64
	TenantID   int64
	EventTypes []EventType
	Status     EventStatus
	Limit      int
}

// Search returns events matching filter, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	query := `
		SELECT
			timestamp, event_type, status,
			user_id, tenant_id, target_tenant_id, target_user_id,
			permission, resource_id, code,
			message, error_message, request_id, metadata
		FROM authz_audit_log
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}
	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}
	if filter.UserID != 0 {
		query += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, filter.UserID)
		argCount++
	}
	if filter.TenantID != 0 {
		query += fmt.Sprintf(" AND tenant_id = $%d", argCount)
		args = append(args, filter.TenantID)
		argCount++
	}
	if len(filter.EventTypes) > 0 {
		query += fmt.Sprintf(" AND event_type = ANY($%d)", argCount)
		types := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			types[i] = string(et)
		}
		args = append(args, pq.Array(types))
		argCount++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, string(filter.Status))
		argCount++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", argCount)
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		var (
			event        AuditEvent
			eventType    string
			status       string
			metadataJSON []byte
		)
		if err := rows.Scan(
			&event.Timestamp, &eventType, &status,
			&event.UserID, &event.TenantID, &event.TargetTenantID, &event.TargetUserID,
			&event.Permission, &event.ResourceID, &event.Code,
			&event.Message, &event.ErrorMessage, &event.RequestID, &metadataJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		event.EventType = EventType(eventType)
		event.Status = EventStatus(status)
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

// Close is a no-op; the database belongs to the caller
func (l *DBLogger) Close() error {
	return nil
}
