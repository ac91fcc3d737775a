package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-options-engine/internal/resilience"
)

type flakyBroker struct {
	placeErrs []error
	bookErrs  []error
	places    int
	reads     int
}

func (f *flakyBroker) PlaceOrder(context.Context, OrderRequest) (*OrderResult, error) {
	f.places++
	if len(f.placeErrs) > 0 {
		err := f.placeErrs[0]
		f.placeErrs = f.placeErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &OrderResult{OK: true, OrderID: "ORD1"}, nil
}

func (f *flakyBroker) GetTradebook(context.Context) ([]TradebookEntry, error) {
	f.reads++
	if len(f.bookErrs) > 0 {
		err := f.bookErrs[0]
		f.bookErrs = f.bookErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return []TradebookEntry{{OrderID: "ORD1", AveragePrice: 101}}, nil
}

func TestResilientBrokerNeverRetriesOrders(t *testing.T) {
	inner := &flakyBroker{placeErrs: []error{errors.New("timeout")}}
	rb := NewResilientBroker(inner, ResilienceConfig{ReadAttempts: 3}, zerolog.Nop())

	_, err := rb.PlaceOrder(context.Background(), buy("X", 75))
	require.Error(t, err)
	assert.Equal(t, 1, inner.places)
}

func TestResilientBrokerRetriesTradebook(t *testing.T) {
	inner := &flakyBroker{bookErrs: []error{errors.New("502"), errors.New("502")}}
	rb := NewResilientBroker(inner, ResilienceConfig{ReadAttempts: 3, FailureThreshold: 10}, zerolog.Nop())

	book, err := rb.GetTradebook(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, inner.reads)
	fill, ok := FindFill(book, "ORD1")
	require.True(t, ok)
	assert.InDelta(t, 101, fill.AveragePrice, 1e-9)
}

func TestResilientBrokerOpensCircuit(t *testing.T) {
	down := errors.New("down")
	inner := &flakyBroker{placeErrs: []error{down, down}}
	rb := NewResilientBroker(inner, ResilienceConfig{FailureThreshold: 2, OpenTimeout: time.Hour}, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := rb.PlaceOrder(ctx, buy("X", 75))
		assert.ErrorIs(t, err, down)
	}
	assert.Equal(t, resilience.CircuitOpen, rb.Breaker().State())

	_, err := rb.PlaceOrder(ctx, buy("X", 75))
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, inner.places, "open circuit short-circuits the call")

	// Reads fail fast too and are not retried against an open circuit.
	_, err = rb.GetTradebook(ctx)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 0, inner.reads)
}

func TestTracedBrokerPassesThrough(t *testing.T) {
	inner := &flakyBroker{}
	tb := WithTracing(inner, zerolog.Nop())

	res, err := tb.PlaceOrder(context.Background(), buy("X", 75))
	require.NoError(t, err)
	assert.Equal(t, "ORD1", res.OrderID)

	book, err := tb.GetTradebook(context.Background())
	require.NoError(t, err)
	assert.Len(t, book, 1)
}
