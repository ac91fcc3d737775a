package broker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"nifty-options-engine/internal/resilience"
	"nifty-options-engine/pkg/utils"
)

// ResilientBroker guards a broker with a circuit breaker. Tradebook reads are
// retried with backoff; order placement is attempted exactly once.
type ResilientBroker struct {
	inner   Broker
	breaker *resilience.CircuitBreaker
	limiter *resilience.RateLimiter
	retry   utils.RetryConfig
}

// ResilienceConfig holds the breaker and retry settings.
type ResilienceConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
	ReadAttempts     int           `mapstructure:"read_attempts"`
	OrdersPerSecond  float64       `mapstructure:"orders_per_second"`
}

// NewResilientBroker wraps inner.
func NewResilientBroker(inner Broker, cfg ResilienceConfig, logger zerolog.Logger) *ResilientBroker {
	cbCfg := resilience.DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold > 0 {
		cbCfg.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.OpenTimeout > 0 {
		cbCfg.Timeout = cfg.OpenTimeout
	}
	retry := utils.DefaultRetryConfig()
	if cfg.ReadAttempts > 0 {
		retry.MaxAttempts = cfg.ReadAttempts
	}
	retry.ShouldRetry = func(err error) bool { return !errors.Is(err, resilience.ErrCircuitOpen) }

	rate := cfg.OrdersPerSecond
	if rate <= 0 {
		rate = 10
	}

	return &ResilientBroker{
		inner:   inner,
		breaker: resilience.NewCircuitBreaker("broker", cbCfg, logger),
		limiter: resilience.NewRateLimiter(rate, int(rate)),
		retry:   retry,
	}
}

// PlaceOrder places an order unless the circuit is open, waiting for the
// order rate limit first.
func (r *ResilientBroker) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return resilience.ExecuteWithResult(r.breaker, ctx, func(ctx context.Context) (*OrderResult, error) {
		return r.inner.PlaceOrder(ctx, req)
	})
}

// GetTradebook reads the tradebook with retries.
func (r *ResilientBroker) GetTradebook(ctx context.Context) ([]TradebookEntry, error) {
	return utils.RetryWithResult(ctx, r.retry, func() ([]TradebookEntry, error) {
		return resilience.ExecuteWithResult(r.breaker, ctx, r.inner.GetTradebook)
	})
}

// Breaker exposes the circuit breaker for status reporting.
func (r *ResilientBroker) Breaker() *resilience.CircuitBreaker {
	return r.breaker
}

var _ Broker = (*ResilientBroker)(nil)
