package audit

import (
	"context"
	"errors"
	"fmt"
)

// MultiLogger fans an event out to several sinks. Every sink sees every
// event even when an earlier one fails.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a new multi-logger that writes to multiple destinations
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log logs an audit event to all configured loggers
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all loggers
func (m *MultiLogger) Close() error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close logger: %w", err))
		}
	}
	return errors.Join(errs...)
}
