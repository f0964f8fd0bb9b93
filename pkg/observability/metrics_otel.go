package observability

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics mirrors the authorization metrics as OpenTelemetry
// instruments on the global meter provider
type OTelMetrics struct {
	checksTotal    metric.Int64Counter
	checkDuration  metric.Float64Histogram
	cacheHitsTotal metric.Int64Counter
	cacheMisses    metric.Int64Counter
	storeErrors    metric.Int64Counter
	invalidations  metric.Int64Counter
	crossTenant    metric.Int64Counter

	dbConnectionsOpen  metric.Int64Gauge
	dbConnectionsInUse metric.Int64Gauge
	dbWaitDuration     metric.Float64Gauge
}

// NewOTelMetrics creates the instruments. Call it after InitOTel so they
// bind to the exporting provider.
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/platinummonkey/tenantauthz")

	m := &OTelMetrics{}
	var err error

	if m.checksTotal, err = meter.Int64Counter(
		"authz.checks",
		metric.WithDescription("Permission checks by decision code"),
		metric.WithUnit("{check}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create checks counter: %w", err)
	}

	if m.checkDuration, err = meter.Float64Histogram(
		"authz.check.duration",
		metric.WithDescription("Permission check duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create check duration histogram: %w", err)
	}

	if m.cacheHitsTotal, err = meter.Int64Counter(
		"authz.cache.hits",
		metric.WithDescription("Decision cache hits by tier"),
		metric.WithUnit("{hit}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	if m.cacheMisses, err = meter.Int64Counter(
		"authz.cache.misses",
		metric.WithDescription("Decision cache misses"),
		metric.WithUnit("{miss}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	if m.storeErrors, err = meter.Int64Counter(
		"authz.store.errors",
		metric.WithDescription("Permission store failures"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create store errors counter: %w", err)
	}

	if m.invalidations, err = meter.Int64Counter(
		"authz.cache.invalidations",
		metric.WithDescription("Cache invalidations by scope"),
		metric.WithUnit("{invalidation}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create invalidations counter: %w", err)
	}

	if m.crossTenant, err = meter.Int64Counter(
		"authz.cross_tenant.attempts",
		metric.WithDescription("Cross-tenant access attempts"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cross-tenant counter: %w", err)
	}

	if m.dbConnectionsOpen, err = meter.Int64Gauge(
		"db.client.connections.open",
		metric.WithDescription("Open grant store connections"),
		metric.WithUnit("{connection}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create db connections gauge: %w", err)
	}

	if m.dbConnectionsInUse, err = meter.Int64Gauge(
		"db.client.connections.in_use",
		metric.WithDescription("Grant store connections in use"),
		metric.WithUnit("{connection}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create db in-use gauge: %w", err)
	}

	if m.dbWaitDuration, err = meter.Float64Gauge(
		"db.client.connections.wait_time",
		metric.WithDescription("Total time blocked waiting for a grant store connection"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create db wait gauge: %w", err)
	}

	return m, nil
}

func (m *OTelMetrics) recordCheck(ctx context.Context, code string, cached bool, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("code", code),
		attribute.Bool("cached", cached),
	)
	m.checksTotal.Add(ctx, 1, attrs)
	m.checkDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.Bool("cached", cached)))
}

func (m *OTelMetrics) recordCacheHit(ctx context.Context, tier string) {
	m.cacheHitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

func (m *OTelMetrics) recordCacheMiss(ctx context.Context) {
	m.cacheMisses.Add(ctx, 1)
}

func (m *OTelMetrics) recordStoreError(ctx context.Context, operation string) {
	m.storeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

func (m *OTelMetrics) recordInvalidation(ctx context.Context, scope string, failed bool) {
	m.invalidations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.Bool("failed", failed),
	))
}

func (m *OTelMetrics) recordCrossTenant(ctx context.Context, allowed bool) {
	m.crossTenant.Add(ctx, 1, metric.WithAttributes(attribute.Bool("allowed", allowed)))
}

// RecordDBStats records connection pool statistics of the grant store
func (m *OTelMetrics) RecordDBStats(ctx context.Context, stats sql.DBStats) {
	if m == nil {
		return
	}
	m.dbConnectionsOpen.Record(ctx, int64(stats.OpenConnections))
	m.dbConnectionsInUse.Record(ctx, int64(stats.InUse))
	m.dbWaitDuration.Record(ctx, stats.WaitDuration.Seconds())
}

// WatchDBStats records db's pool statistics now and on every interval
// until the returned stop function is called. stop waits for the last
// recording and may be called more than once.
func (m *OTelMetrics) WatchDBStats(db *sql.DB, interval time.Duration) (stop func()) {
	if m == nil || db == nil {
		return func() {}
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.RecordDBStats(ctx, db.Stats())

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.RecordDBStats(ctx, db.Stats())
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
