package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-options-engine/internal/models"
)

var fixedNow = time.Date(2024, 10, 17, 4, 45, 0, 0, time.UTC)

func newTestPaper() *PaperBroker {
	return NewPaperBroker(PaperBrokerConfig{Clock: func() time.Time { return fixedNow }})
}

func buy(symbol string, qty int) OrderRequest {
	return OrderRequest{
		Side:          models.OrderSideBuy,
		Product:       models.ProductMIS,
		Exchange:      models.NFO,
		TradingSymbol: symbol,
		Quantity:      qty,
		OrderType:     models.OrderTypeMarket,
		Remarks:       "entry",
	}
}

func TestPaperBrokerFillsAtCachedPrice(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper()

	snap := &models.OptionChainSnapshot{Rows: []models.SnapshotRow{
		{Strike: 23050, CE: &models.OptionLeg{LTP: models.Float(92.5), TradingSymbol: "NIFTY24O2423050CE"}},
		{Strike: 23100, CE: &models.OptionLeg{TradingSymbol: "NIFTY24O2423100CE"}},
	}}
	p.UpdatePrices(snap)

	res, err := p.PlaceOrder(ctx, buy("NIFTY24O2423050CE", 75))
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.Equal(t, "PAPER_1729140300_1", res.OrderID)

	book, err := p.GetTradebook(ctx)
	require.NoError(t, err)
	fill, ok := FindFill(book, res.OrderID)
	require.True(t, ok)
	assert.InDelta(t, 92.5, fill.AveragePrice, 1e-9)
	assert.Equal(t, 75, fill.Quantity)
	assert.Equal(t, 75, p.Position("NIFTY24O2423050CE"))

	// A leg without a price is never cached.
	res, err = p.PlaceOrder(ctx, buy("NIFTY24O2423100CE", 75))
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestPaperBrokerScriptedFailures(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper()
	p.UpdatePrice("X", 100)

	p.RejectNext(1)
	res, err := p.PlaceOrder(ctx, buy("X", 75))
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, 0, p.Position("X"))

	p.WithholdFills(1)
	res, err = p.PlaceOrder(ctx, buy("X", 75))
	require.NoError(t, err)
	require.True(t, res.OK)
	book, _ := p.GetTradebook(ctx)
	_, ok := FindFill(book, res.OrderID)
	assert.False(t, ok, "acknowledged without a fill")

	boom := errors.New("connection reset")
	p.FailNext(boom)
	_, err = p.PlaceOrder(ctx, buy("X", 75))
	assert.ErrorIs(t, err, boom)

	res, err = p.PlaceOrder(ctx, buy("X", 75))
	require.NoError(t, err)
	assert.True(t, res.OK, "failure modes are one-shot")

	p.Reset()
	assert.Equal(t, 0, p.Position("X"))
	book, _ = p.GetTradebook(ctx)
	assert.Empty(t, book)
}

func TestPaperBrokerRejectsInvalidOrders(t *testing.T) {
	p := newTestPaper()
	p.UpdatePrice("X", 100)
	for _, req := range []OrderRequest{buy("", 75), buy("X", 0)} {
		res, err := p.PlaceOrder(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, res.OK)
	}
}

// Property: after any sequence of buys and sells the simulated position is
// the signed sum of quantities, and each order has exactly one fill.
func TestProperty_PaperPositionIsSignedSum(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("position equals signed fill sum", prop.ForAll(
		func(qtys []int, sells []bool) bool {
			ctx := context.Background()
			p := newTestPaper()
			p.UpdatePrice("X", 50)
			want := 0
			for i, q := range qtys {
				req := buy("X", q)
				if i < len(sells) && sells[i] {
					req.Side = models.OrderSideSell
					want -= q
				} else {
					want += q
				}
				res, err := p.PlaceOrder(ctx, req)
				if err != nil || !res.OK {
					return false
				}
			}
			book, _ := p.GetTradebook(ctx)
			return p.Position("X") == want && len(book) == len(qtys)
		},
		gen.SliceOf(gen.IntRange(1, 1800)),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
