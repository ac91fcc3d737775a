package resilience

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
	HealthStatusUnknown   HealthStatus = "UNKNOWN"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name      string         `json:"name"`
	Status    HealthStatus   `json:"status"`
	Message   string         `json:"message"`
	LastCheck time.Time      `json:"lastCheck"`
	Latency   time.Duration  `json:"latency"`
	Details   map[string]any `json:"details,omitempty"`
}

// HealthCheck reports the health of one component.
type HealthCheck func(ctx context.Context) ComponentHealth

// HealthMonitor runs registered checks periodically and serves the last
// results over HTTP.
type HealthMonitor struct {
	mu sync.RWMutex

	checkInterval time.Duration
	checkTimeout  time.Duration
	logger        zerolog.Logger
	now           func() time.Time

	startTime       time.Time
	components      map[string]HealthCheck
	componentHealth map[string]ComponentHealth
	overallStatus   HealthStatus
	totalChecks     int64
	failedChecks    int64
}

// HealthMonitorConfig holds health monitor configuration.
type HealthMonitorConfig struct {
	CheckInterval time.Duration
	CheckTimeout  time.Duration
}

// DefaultHealthMonitorConfig returns default configuration.
func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{
		CheckInterval: 15 * time.Second,
		CheckTimeout:  5 * time.Second,
	}
}

// NewHealthMonitor creates a new health monitor.
func NewHealthMonitor(config HealthMonitorConfig, logger zerolog.Logger) *HealthMonitor {
	def := DefaultHealthMonitorConfig()
	if config.CheckInterval <= 0 {
		config.CheckInterval = def.CheckInterval
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = def.CheckTimeout
	}
	return &HealthMonitor{
		checkInterval:   config.CheckInterval,
		checkTimeout:    config.CheckTimeout,
		logger:          logger.With().Str("component", "health").Logger(),
		now:             time.Now,
		startTime:       time.Now(),
		components:      make(map[string]HealthCheck),
		componentHealth: make(map[string]ComponentHealth),
		overallStatus:   HealthStatusUnknown,
	}
}

// RegisterComponent registers a health check for a component.
func (m *HealthMonitor) RegisterComponent(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[name] = check
}

// Start runs the checks immediately and then every interval until ctx is done.
func (m *HealthMonitor) Start(ctx context.Context) {
	m.RunChecks(ctx)
	go func() {
		ticker := time.NewTicker(m.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.RunChecks(ctx)
			}
		}
	}()
}

// RunChecks runs every registered check concurrently and updates the
// overall status.
func (m *HealthMonitor) RunChecks(ctx context.Context) {
	m.mu.RLock()
	components := make(map[string]HealthCheck, len(m.components))
	for k, v := range m.components {
		components[k] = v
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.checkTimeout)
	defer cancel()

	var wg sync.WaitGroup
	results := make(chan ComponentHealth, len(components))
	for name, check := range components {
		wg.Add(1)
		go func(n string, c HealthCheck) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results <- ComponentHealth{Name: n, Status: HealthStatusUnhealthy, Message: fmt.Sprintf("check panicked: %v", r), LastCheck: m.now()}
				}
			}()

			start := m.now()
			health := c(ctx)
			health.Name = n
			health.LastCheck = m.now()
			if health.Latency == 0 {
				health.Latency = health.LastCheck.Sub(start)
			}
			results <- health
		}(name, check)
	}
	wg.Wait()
	close(results)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalChecks++
	overall := HealthStatusHealthy
	for health := range results {
		prev, seen := m.componentHealth[health.Name]
		m.componentHealth[health.Name] = health

		switch health.Status {
		case HealthStatusUnhealthy:
			overall = HealthStatusUnhealthy
			m.failedChecks++
		case HealthStatusDegraded:
			if overall == HealthStatusHealthy {
				overall = HealthStatusDegraded
			}
		}
		if !seen || prev.Status != health.Status {
			m.logger.Info().
				Str("check", health.Name).
				Str("status", string(health.Status)).
				Str("message", health.Message).
				Msg("Health changed")
		}
	}
	m.overallStatus = overall
}

// SystemHealth represents overall system health.
type SystemHealth struct {
	Status       HealthStatus      `json:"status"`
	Uptime       string            `json:"uptime"`
	StartTime    time.Time         `json:"startTime"`
	Components   []ComponentHealth `json:"components"`
	TotalChecks  int64             `json:"totalChecks"`
	FailedChecks int64             `json:"failedChecks"`
}

// GetHealth returns the last check results.
func (m *HealthMonitor) GetHealth() SystemHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	components := make([]ComponentHealth, 0, len(m.componentHealth))
	for _, h := range m.componentHealth {
		components = append(components, h)
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	return SystemHealth{
		Status:       m.overallStatus,
		Uptime:       m.now().Sub(m.startTime).Round(time.Second).String(),
		StartTime:    m.startTime,
		Components:   components,
		TotalChecks:  m.totalChecks,
		FailedChecks: m.failedChecks,
	}
}

// IsHealthy returns true if the system is healthy.
func (m *HealthMonitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overallStatus == HealthStatusHealthy
}

// HealthHTTPHandler serves the full health report. Degraded is still 200.
func (m *HealthMonitor) HealthHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := m.GetHealth()
		w.Header().Set("Content-Type", "application/json")
		switch health.Status {
		case HealthStatusHealthy, HealthStatusDegraded:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	}
}

// ReadinessHTTPHandler returns an HTTP handler for readiness checks.
func (m *HealthMonitor) ReadinessHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := m.GetHealth().Status
		w.Header().Set("Content-Type", "application/json")
		if status == HealthStatusHealthy || status == HealthStatusDegraded {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ready"}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not_ready"}`))
	}
}

// FeedHealthCheck reports how long ago the last snapshot arrived. Silence
// beyond maxAge is degraded, since the engine only acts on new snapshots.
func FeedHealthCheck(lastSnapshot func() (time.Time, bool), maxAge time.Duration, now func() time.Time) HealthCheck {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) ComponentHealth {
		ts, ok := lastSnapshot()
		if !ok {
			return ComponentHealth{Status: HealthStatusDegraded, Message: "no snapshot received yet"}
		}
		age := now().Sub(ts)
		health := ComponentHealth{Details: map[string]any{"last_snapshot": ts, "age_seconds": int(age.Seconds())}}
		if age > maxAge {
			health.Status = HealthStatusDegraded
			health.Message = fmt.Sprintf("no snapshot for %v", age.Round(time.Second))
			return health
		}
		health.Status = HealthStatusHealthy
		health.Message = "receiving snapshots"
		return health
	}
}

// DatabaseHealthCheck creates a health check for database connections.
func DatabaseHealthCheck(ping func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		err := ping(ctx)
		health := ComponentHealth{Latency: time.Since(start)}

		if err != nil {
			health.Status = HealthStatusUnhealthy
			health.Message = fmt.Sprintf("Database ping failed: %v", err)
			return health
		}
		if health.Latency > 100*time.Millisecond {
			health.Status = HealthStatusDegraded
			health.Message = fmt.Sprintf("Database slow: %v", health.Latency)
			return health
		}
		health.Status = HealthStatusHealthy
		health.Message = "Database healthy"
		return health
	}
}

// BreakerHealthCheck maps a circuit breaker onto a health status: open is
// unhealthy because live orders are being refused.
func BreakerHealthCheck(cb *CircuitBreaker) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		stats := cb.Stats()
		health := ComponentHealth{Details: map[string]any{
			"state":            stats.State,
			"total_requests":   stats.TotalRequests,
			"total_failures":   stats.TotalFailures,
			"total_rejected":   stats.TotalRejected,
			"current_failures": stats.CurrentFailures,
		}}
		switch stats.State {
		case CircuitOpen:
			health.Status = HealthStatusUnhealthy
			health.Message = "circuit open, broker calls rejected"
		case CircuitHalfOpen:
			health.Status = HealthStatusDegraded
			health.Message = "circuit half-open, probing broker"
		default:
			health.Status = HealthStatusHealthy
			health.Message = "circuit closed"
		}
		return health
	}
}
