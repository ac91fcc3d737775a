package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCircuitOpensAfterThresholdAndRecovers(t *testing.T) {
	clock := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute}, zerolog.Nop())
	cb.now = func() time.Time { return clock }

	boom := errors.New("boom")
	ctx := context.Background()
	failing := func(context.Context) error { return boom }

	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, failing); !errors.Is(err, boom) {
			t.Fatalf("Expected boom, got %v", err)
		}
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("Expected OPEN, got %s", cb.State())
	}

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("Expected fast failure without calling fn, got err=%v called=%v", err, called)
	}

	clock = clock.Add(2 * time.Minute)
	if err := cb.Execute(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Expected half-open probe to succeed, got %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("Expected CLOSED after successful probe, got %s", cb.State())
	}

	stats := cb.Stats()
	if stats.TotalRejected != 1 || stats.TotalFailures != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clock := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Second}, zerolog.Nop())
	cb.now = func() time.Time { return clock }

	ctx := context.Background()
	_ = cb.Execute(ctx, func(context.Context) error { return errors.New("x") })
	clock = clock.Add(2 * time.Second)
	_ = cb.Execute(ctx, func(context.Context) error { return errors.New("y") })

	if cb.State() != CircuitOpen {
		t.Errorf("Expected OPEN after half-open failure, got %s", cb.State())
	}
}
