package audit

import (
	"context"

	"github.com/platinummonkey/tenantauthz/pkg/contextkeys"
)

// Logger is the interface for audit sinks
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close flushes and releases the sink
	Close() error
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return contextkeys.WithAuditLogger(ctx, logger)
}

// FromContext retrieves the audit logger from context
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	return noOpLogger{}
}

// NopLogger returns a logger that discards events
func NopLogger() Logger {
	return noOpLogger{}
}

type noOpLogger struct{}

func (noOpLogger) Log(context.Context, *AuditEvent) error { return nil }

func (noOpLogger) Close() error { return nil }
