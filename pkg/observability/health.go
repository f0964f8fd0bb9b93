package observability

import (
	"context"
	"sort"
	"sync"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc probes one dependency
type CheckFunc func(ctx context.Context) error

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Critical  bool          `json:"critical"`
	Timestamp time.Time     `json:"timestamp"`
}

type namedCheck struct {
	name     string
	critical bool
	fn       CheckFunc
}

// HealthChecker aggregates dependency probes. A failing critical dependency
// makes the whole status unhealthy; a failing optional one degrades it.
type HealthChecker struct {
	checks []namedCheck
}

// NewHealthChecker creates an empty health checker
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

// Register adds a dependency probe
func (h *HealthChecker) Register(name string, critical bool, fn CheckFunc) {
	h.checks = append(h.checks, namedCheck{name: name, critical: critical, fn: fn})
}

// Names returns the registered dependency names in order
func (h *HealthChecker) Names() []string {
	names := make([]string, len(h.checks))
	for i, c := range h.checks {
		names[i] = c.name
	}
	sort.Strings(names)
	return names
}

// Check runs every probe concurrently
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Dependencies: make(map[string]DependencyStatus, len(h.checks)),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, c := range h.checks {
		wg.Add(1)
		go func(c namedCheck) {
			defer wg.Done()

			start := time.Now()
			err := c.fn(ctx)
			dep := DependencyStatus{
				Status:    StatusHealthy,
				Latency:   time.Since(start),
				Critical:  c.critical,
				Timestamp: time.Now(),
			}
			if err != nil {
				dep.Status = StatusUnhealthy
				dep.Message = err.Error()
			}

			mu.Lock()
			defer mu.Unlock()
			status.Dependencies[c.name] = dep
			if err == nil {
				return
			}
			if c.critical {
				status.Status = StatusUnhealthy
			} else if status.Status == StatusHealthy {
				status.Status = StatusDegraded
			}
		}(c)
	}
	wg.Wait()

	return status
}
