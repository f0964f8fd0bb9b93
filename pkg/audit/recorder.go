package audit

import (
	"context"
	"sync"
	"time"

	"github.com/platinummonkey/tenantauthz/pkg/contextkeys"
	"github.com/platinummonkey/tenantauthz/pkg/observability"
)

// RecorderConfig configures a Recorder
type RecorderConfig struct {
	// BufferSize bounds the number of queued events (default: 1024)
	BufferSize int

	// PriorityBufferSize bounds the separate queue for cross-tenant and
	// mutation events (default: 256)
	PriorityBufferSize int

	// PriorityTimeout is how long a cross-tenant or mutation event waits for
	// queue space before it is dropped (default: 250ms)
	PriorityTimeout time.Duration

	// SkipGranted drops successful same-tenant permission checks
	SkipGranted bool

	Logger  *observability.Logger
	Metrics *observability.AuthzMetrics
}

// Recorder turns authorization decisions and mutations into audit events
// and writes them to a sink from a background worker. Permission checks
// never block and are dropped when their buffer is full. Cross-tenant and
// mutation events have their own queue, are written first, and wait up to
// PriorityTimeout for space.
type Recorder struct {
	sink            Logger
	skipGranted     bool
	priorityTimeout time.Duration
	logger          *observability.Logger
	metrics         *observability.AuthzMetrics
	now             func() time.Time

	events    chan *AuditEvent
	priority  chan *AuditEvent
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
}

// NewRecorder starts a recorder writing to sink
func NewRecorder(sink Logger, config RecorderConfig) *Recorder {
	if config.BufferSize <= 0 {
		config.BufferSize = 1024
	}
	if config.PriorityBufferSize <= 0 {
		config.PriorityBufferSize = 256
	}
	if config.PriorityTimeout <= 0 {
		config.PriorityTimeout = 250 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}
	r := &Recorder{
		sink:            sink,
		skipGranted:     config.SkipGranted,
		priorityTimeout: config.PriorityTimeout,
		logger:          config.Logger,
		metrics:         config.Metrics,
		now:             time.Now,
		events:          make(chan *AuditEvent, config.BufferSize),
		priority:        make(chan *AuditEvent, config.PriorityBufferSize),
		done:            make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	defer observability.RecoverPanic(r.logger, "audit recorder")

	priority, events := r.priority, r.events
	for priority != nil || events != nil {
		select {
		case event, ok := <-priority:
			if !ok {
				priority = nil
				continue
			}
			r.write(event)
			continue
		default:
		}

		select {
		case event, ok := <-priority:
			if !ok {
				priority = nil
				continue
			}
			r.write(event)
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.write(event)
		}
	}
}

func (r *Recorder) write(event *AuditEvent) {
	if err := r.sink.Log(context.Background(), event); err != nil {
		r.logger.WithError(err).
			WithField("event_type", string(event.EventType)).
			Warn("failed to write audit event")
	}
}

// Record enqueues an event, stamping time and request id when missing.
// It never blocks.
func (r *Recorder) Record(ctx context.Context, event *AuditEvent) {
	r.enqueue(ctx, r.events, event, 0)
}

func (r *Recorder) recordPriority(ctx context.Context, event *AuditEvent) {
	r.enqueue(ctx, r.priority, event, r.priorityTimeout)
}

func (r *Recorder) enqueue(ctx context.Context, queue chan *AuditEvent, event *AuditEvent, wait time.Duration) {
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = contextkeys.GetRequestID(ctx)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.metrics.RecordAuditDropped()
		return
	}

	select {
	case queue <- event:
		return
	default:
	}
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case queue <- event:
			return
		case <-timer.C:
		}
	}

	r.metrics.RecordAuditDropped()
	r.logger.WithField("event_type", string(event.EventType)).Warn("audit buffer full, dropping event")
}

// LogPermissionCheck records the outcome of a permission check
func (r *Recorder) LogPermissionCheck(ctx context.Context, userID, tenantID int64, permission, resourceID string, allowed bool, code string) {
	if allowed && r.skipGranted {
		return
	}
	event := &AuditEvent{
		EventType:  EventTypeAuthzPermissionCheck,
		Status:     EventStatusSuccess,
		UserID:     userID,
		TenantID:   tenantID,
		Permission: permission,
		ResourceID: resourceID,
		Code:       code,
	}
	if !allowed {
		event.EventType = EventTypeAuthzAccessDenied
		event.Status = EventStatusDenied
	}
	r.Record(ctx, event)
}

// LogCrossTenantAccess records every attempt to reach another tenant
func (r *Recorder) LogCrossTenantAccess(ctx context.Context, userID, sourceTenantID, targetTenantID int64, allowed bool) {
	status := EventStatusSuccess
	if !allowed {
		status = EventStatusDenied
	}
	r.recordPriority(ctx, &AuditEvent{
		EventType:      EventTypeAuthzCrossTenant,
		Status:         status,
		UserID:         userID,
		TenantID:       sourceTenantID,
		TargetTenantID: targetTenantID,
	})
}

// LogMutation records an administrative change. err marks it failed.
func (r *Recorder) LogMutation(ctx context.Context, eventType EventType, tenantID, targetUserID int64, permission, message string, err error) {
	event := &AuditEvent{
		EventType:    eventType,
		Status:       EventStatusSuccess,
		TenantID:     tenantID,
		TargetUserID: targetUserID,
		Permission:   permission,
		Message:      message,
	}
	if actor, ok := contextkeys.GetUserID(ctx); ok {
		event.UserID = actor
	}
	if err != nil {
		event.Status = EventStatusFailure
		event.ErrorMessage = err.Error()
	}
	r.recordPriority(ctx, event)
}

// Close drains queued events and closes the sink
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.events)
		close(r.priority)
		r.mu.Unlock()
	})
	<-r.done
	return r.sink.Close()
}
