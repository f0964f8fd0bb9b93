package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AuthzMetrics holds the authorization engine's Prometheus metrics.
// A nil *AuthzMetrics is valid and records nothing.
type AuthzMetrics struct {
	ChecksTotal             *prometheus.CounterVec
	CheckDuration           *prometheus.HistogramVec
	CacheHitsTotal          *prometheus.CounterVec
	CacheMissesTotal        prometheus.Counter
	CacheErrorsTotal        *prometheus.CounterVec
	StoreErrorsTotal        *prometheus.CounterVec
	StoreLoadsShared        prometheus.Counter
	InvalidationsTotal      *prometheus.CounterVec
	CrossTenantAttempts     *prometheus.CounterVec
	AuditEventsDroppedTotal prometheus.Counter

	otel *OTelMetrics
}

// MirrorTo also records every metric on o
func (m *AuthzMetrics) MirrorTo(o *OTelMetrics) {
	if m != nil {
		m.otel = o
	}
}

// NewAuthzMetrics creates and registers the authorization metrics
func NewAuthzMetrics(registry prometheus.Registerer) *AuthzMetrics {
	m := &AuthzMetrics{
		ChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authz_checks_total",
				Help: "Total number of permission checks by decision code",
			},
			[]string{"code", "cached"},
		),
		CheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authz_check_duration_seconds",
				Help:    "Permission check duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"cached"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authz_cache_hits_total",
				Help: "Total number of decision cache hits by tier",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authz_cache_misses_total",
				Help: "Total number of decision cache misses",
			},
		),
		CacheErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authz_cache_errors_total",
				Help: "Total number of cache operations that failed and were bypassed",
			},
			[]string{"operation"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authz_store_errors_total",
				Help: "Total number of permission store failures",
			},
			[]string{"operation"},
		),
		StoreLoadsShared: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authz_store_loads_shared_total",
				Help: "Total number of grant loads served by another in-flight load",
			},
		),
		InvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authz_invalidations_total",
				Help: "Total number of cache invalidations by scope",
			},
			[]string{"scope", "status"},
		),
		CrossTenantAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authz_cross_tenant_attempts_total",
				Help: "Total number of cross-tenant access attempts",
			},
			[]string{"allowed"},
		),
		AuditEventsDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authz_audit_events_dropped_total",
				Help: "Total number of audit events dropped because the sink was full",
			},
		),
	}

	registry.MustRegister(
		m.ChecksTotal,
		m.CheckDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheErrorsTotal,
		m.StoreErrorsTotal,
		m.StoreLoadsShared,
		m.InvalidationsTotal,
		m.CrossTenantAttempts,
		m.AuditEventsDroppedTotal,
	)

	return m
}

// RecordCheck records a completed permission check
func (m *AuthzMetrics) RecordCheck(code string, cached bool, duration time.Duration) {
	if m == nil {
		return
	}
	c := strconv.FormatBool(cached)
	m.ChecksTotal.WithLabelValues(code, c).Inc()
	m.CheckDuration.WithLabelValues(c).Observe(duration.Seconds())
	if m.otel != nil {
		m.otel.recordCheck(context.Background(), code, cached, duration)
	}
}

// RecordCacheHit records a hit served by tier
func (m *AuthzMetrics) RecordCacheHit(tier string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(tier).Inc()
	if m.otel != nil {
		m.otel.recordCacheHit(context.Background(), tier)
	}
}

// RecordCacheMiss records a cache miss
func (m *AuthzMetrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
	if m.otel != nil {
		m.otel.recordCacheMiss(context.Background())
	}
}

// RecordCacheError records a bypassed cache failure
func (m *AuthzMetrics) RecordCacheError(operation string) {
	if m == nil {
		return
	}
	m.CacheErrorsTotal.WithLabelValues(operation).Inc()
}

// RecordStoreError records a store failure
func (m *AuthzMetrics) RecordStoreError(operation string) {
	if m == nil {
		return
	}
	m.StoreErrorsTotal.WithLabelValues(operation).Inc()
	if m.otel != nil {
		m.otel.recordStoreError(context.Background(), operation)
	}
}

// RecordSharedLoad records a grant load that joined an in-flight one
func (m *AuthzMetrics) RecordSharedLoad() {
	if m == nil {
		return
	}
	m.StoreLoadsShared.Inc()
}

// RecordInvalidation records an invalidation by scope
func (m *AuthzMetrics) RecordInvalidation(scope string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.InvalidationsTotal.WithLabelValues(scope, status).Inc()
	if m.otel != nil {
		m.otel.recordInvalidation(context.Background(), scope, err != nil)
	}
}

// RecordCrossTenant records a cross-tenant attempt
func (m *AuthzMetrics) RecordCrossTenant(allowed bool) {
	if m == nil {
		return
	}
	m.CrossTenantAttempts.WithLabelValues(strconv.FormatBool(allowed)).Inc()
	if m.otel != nil {
		m.otel.recordCrossTenant(context.Background(), allowed)
	}
}

// RecordAuditDropped records an audit event dropped by a full sink
func (m *AuthzMetrics) RecordAuditDropped() {
	if m == nil {
		return
	}
	m.AuditEventsDroppedTotal.Inc()
}
