package broker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"nifty-options-engine/internal/logging"
	"nifty-options-engine/internal/tracing"
)

// TracedBroker wraps a Broker with spans and API-call logging.
type TracedBroker struct {
	inner  Broker
	logger zerolog.Logger
}

// WithTracing wraps b with observability.
func WithTracing(b Broker, logger zerolog.Logger) *TracedBroker {
	return &TracedBroker{inner: b, logger: logger}
}

// PlaceOrder places an order inside a broker.PlaceOrder span.
func (t *TracedBroker) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	ctx, span := tracing.StartSpan(ctx, "broker.PlaceOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("symbol", req.TradingSymbol),
		attribute.String("side", string(req.Side)),
		attribute.Int("quantity", req.Quantity),
	)

	start := time.Now()
	res, err := t.inner.PlaceOrder(ctx, req)
	logging.LogAPICall(t.logger, "POST", "orders/regular", time.Since(start), err)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case !res.OK:
		span.SetStatus(codes.Error, "order not acknowledged")
	default:
		span.SetAttributes(attribute.String("order_id", res.OrderID))
	}
	return res, err
}

// GetTradebook reads the tradebook inside a broker.GetTradebook span.
func (t *TracedBroker) GetTradebook(ctx context.Context) ([]TradebookEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "broker.GetTradebook")
	defer span.End()

	start := time.Now()
	entries, err := t.inner.GetTradebook(ctx)
	logging.LogAPICall(t.logger, "GET", "trades", time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("entries", len(entries)))
	return entries, nil
}

var _ Broker = (*TracedBroker)(nil)
