package resilience

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestHealthMonitorAggregatesStatus(t *testing.T) {
	m := NewHealthMonitor(HealthMonitorConfig{}, zerolog.Nop())
	m.RegisterComponent("ok", func(context.Context) ComponentHealth {
		return ComponentHealth{Status: HealthStatusHealthy}
	})
	m.RegisterComponent("slow", func(context.Context) ComponentHealth {
		return ComponentHealth{Status: HealthStatusDegraded}
	})

	ctx := context.Background()
	m.RunChecks(ctx)
	if got := m.GetHealth().Status; got != HealthStatusDegraded {
		t.Fatalf("Expected DEGRADED, got %s", got)
	}

	m.RegisterComponent("broken", func(context.Context) ComponentHealth {
		panic("nil broker")
	})
	m.RunChecks(ctx)

	h := m.GetHealth()
	if h.Status != HealthStatusUnhealthy {
		t.Fatalf("Expected UNHEALTHY, got %s", h.Status)
	}
	if len(h.Components) != 3 || h.Components[0].Name != "broken" {
		t.Errorf("Expected 3 sorted components, got %+v", h.Components)
	}
	if h.TotalChecks != 2 || h.FailedChecks != 1 {
		t.Errorf("Unexpected counters: %+v", h)
	}
}

func TestHealthHandlers(t *testing.T) {
	m := NewHealthMonitor(HealthMonitorConfig{}, zerolog.Nop())
	status := HealthStatusDegraded
	m.RegisterComponent("feed", func(context.Context) ComponentHealth { return ComponentHealth{Status: status} })
	m.RunChecks(context.Background())

	rec := httptest.NewRecorder()
	m.HealthHTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 when degraded, got %d", rec.Code)
	}

	status = HealthStatusUnhealthy
	m.RunChecks(context.Background())
	rec = httptest.NewRecorder()
	m.ReadinessHTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 when unhealthy, got %d", rec.Code)
	}
}

func TestFeedHealthCheck(t *testing.T) {
	now := time.Date(2024, 10, 17, 10, 0, 0, 0, time.UTC)
	var last time.Time
	have := false
	check := FeedHealthCheck(func() (time.Time, bool) { return last, have }, time.Minute, func() time.Time { return now })

	if h := check(context.Background()); h.Status != HealthStatusDegraded {
		t.Errorf("Expected DEGRADED before first snapshot, got %s", h.Status)
	}

	last, have = now.Add(-30*time.Second), true
	if h := check(context.Background()); h.Status != HealthStatusHealthy {
		t.Errorf("Expected HEALTHY, got %s", h.Status)
	}

	last = now.Add(-5 * time.Minute)
	if h := check(context.Background()); h.Status != HealthStatusDegraded {
		t.Errorf("Expected DEGRADED on stale feed, got %s", h.Status)
	}
}

func TestBreakerAndDatabaseChecks(t *testing.T) {
	cb := NewCircuitBreaker("broker", CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Hour}, zerolog.Nop())
	check := BreakerHealthCheck(cb)
	ctx := context.Background()

	if h := check(ctx); h.Status != HealthStatusHealthy {
		t.Errorf("Expected HEALTHY with closed circuit, got %s", h.Status)
	}
	_ = cb.Execute(ctx, func(context.Context) error { return errors.New("down") })
	if h := check(ctx); h.Status != HealthStatusUnhealthy {
		t.Errorf("Expected UNHEALTHY with open circuit, got %s", h.Status)
	}

	db := DatabaseHealthCheck(func(context.Context) error { return errors.New("disk I/O error") })
	if h := db(ctx); h.Status != HealthStatusUnhealthy {
		t.Errorf("Expected UNHEALTHY on ping failure, got %s", h.Status)
	}
}
