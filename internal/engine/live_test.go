package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-options-engine/internal/broker"
	apperrors "nifty-options-engine/internal/errors"
	"nifty-options-engine/internal/models"
)

// countingBroker records every order submitted to the wrapped paper broker.
type countingBroker struct {
	*broker.PaperBroker
	mu     sync.Mutex
	orders []broker.OrderRequest
}

func (c *countingBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (*broker.OrderResult, error) {
	c.mu.Lock()
	c.orders = append(c.orders, req)
	c.mu.Unlock()
	return c.PaperBroker.PlaceOrder(ctx, req)
}

// placeOnly can submit orders but has no tradebook.
type placeOnly struct{ inner broker.OrderPlacer }

func (p placeOnly) PlaceOrder(ctx context.Context, req broker.OrderRequest) (*broker.OrderResult, error) {
	return p.inner.PlaceOrder(ctx, req)
}

func newLiveEngine(client broker.OrderPlacer, armed bool) *Engine {
	cfg := models.DefaultEngineConfig()
	cfg.LiveArmed = armed
	return New(Options{
		Config:      cfg,
		Live:        true,
		Broker:      client,
		Sleep:       noSleep,
		Logger:      zerolog.Nop(),
		IDGenerator: sequentialIDs(),
	})
}

func newCountingBroker(h []models.OptionChainSnapshot) *countingBroker {
	pb := broker.NewPaperBroker(broker.PaperBrokerConfig{})
	pb.UpdatePrices(&h[len(h)-1])
	return &countingBroker{PaperBroker: pb}
}

func TestLiveRequiresArming(t *testing.T) {
	h := breakoutHistory(80)
	b := newCountingBroker(h)
	eng := newLiveEngine(b, false)

	d := eng.Step(context.Background(), h)
	assert.Equal(t, models.ActionNoTrade, d.Action)
	assert.Empty(t, b.orders)
	assert.Nil(t, eng.State().CurrentTrade)

	_, err := eng.ForceEnter(context.Background(), h)
	assert.ErrorIs(t, err, apperrors.ErrNotArmed)
}

func TestLiveConfirmedEntry(t *testing.T) {
	h := breakoutHistory(80)
	b := newCountingBroker(h)
	b.UpdatePrice("NIFTY24O2423050CE", 81.5)
	eng := newLiveEngine(b, true)

	d := eng.Step(context.Background(), h)
	require.Equal(t, models.ActionEnter, d.Action, "%v", d.Reasons)
	require.Len(t, b.orders, 1)
	assert.Equal(t, models.OrderSideBuy, b.orders[0].Side)
	assert.Equal(t, models.OrderTypeMarket, b.orders[0].OrderType)
	assert.Equal(t, 75, b.orders[0].Quantity)

	tr := eng.State().CurrentTrade
	require.NotNil(t, tr)
	assert.True(t, tr.FillConfirmed)
	assert.True(t, tr.Live)
	assert.NotEmpty(t, tr.EntryOrderID)
	assert.InDelta(t, 81.5, tr.EntryPrice, 1e-9, "entry priced at the fill")
	assert.Equal(t, 75, b.Position("NIFTY24O2423050CE"))
}

func TestLiveMissingTradingSymbol(t *testing.T) {
	h := breakoutHistory(80)
	last := len(h) - 1
	h[last].Row(23050).CE.TradingSymbol = ""
	b := newCountingBroker(h)
	eng := newLiveEngine(b, true)

	d := eng.Step(context.Background(), h)
	assert.Equal(t, models.ActionError, d.Action)
	assert.Empty(t, b.orders)
	assert.Nil(t, eng.State().CurrentTrade)
}

func TestLiveRejectedEntry(t *testing.T) {
	h := breakoutHistory(80)
	b := newCountingBroker(h)
	b.RejectNext(1)
	eng := newLiveEngine(b, true)

	d := eng.Step(context.Background(), h)
	assert.Equal(t, models.ActionError, d.Action)
	assert.NotNil(t, d.Raw, "raw broker response is attached")
	assert.Nil(t, eng.State().CurrentTrade)
	assert.Zero(t, eng.State().TradesToday)
}

func TestLiveUnconfirmedFillStillOpens(t *testing.T) {
	h := breakoutHistory(80)
	b := newCountingBroker(h)
	b.WithholdFills(1)
	eng := newLiveEngine(b, true)

	d := eng.Step(context.Background(), h)
	assert.Equal(t, models.ActionError, d.Action)

	// Known risk: the acknowledged order is tracked as OPEN at the leg LTP so
	// stops keep running even though the fill was never seen.
	st := eng.State()
	require.NotNil(t, st.CurrentTrade)
	assert.Equal(t, models.TradeOpen, st.CurrentTrade.Status)
	assert.False(t, st.CurrentTrade.FillConfirmed)
	assert.InDelta(t, 80, st.CurrentTrade.EntryPrice, 1e-9)
	assert.Equal(t, 1, st.TradesToday)

	h = priced(h, 23010, 90)
	assert.Equal(t, models.ActionHold, eng.Step(context.Background(), h).Action)
}

func TestLiveWithoutTradebookIsUnconfirmed(t *testing.T) {
	h := breakoutHistory(80)
	b := newCountingBroker(h)
	eng := newLiveEngine(placeOnly{b}, true)

	d := eng.Step(context.Background(), h)
	assert.Equal(t, models.ActionError, d.Action)
	require.NotNil(t, eng.State().CurrentTrade)
	assert.False(t, eng.State().CurrentTrade.FillConfirmed)
}

func TestLiveNilClient(t *testing.T) {
	eng := newLiveEngine(nil, true)
	d := eng.Step(context.Background(), breakoutHistory(80))
	assert.Equal(t, models.ActionError, d.Action)
	assert.Nil(t, eng.State().CurrentTrade)
}

func TestLiveExitSubmittedOnce(t *testing.T) {
	ctx := context.Background()
	h := breakoutHistory(80)
	b := newCountingBroker(h)
	eng := newLiveEngine(b, true)
	require.Equal(t, models.ActionEnter, eng.Step(ctx, h).Action)

	// Stop at 56 is hit, but the sell fails.
	b.FailNext(errors.New("connection reset"))
	h = priced(h, 23010, 50)
	d := eng.Step(ctx, h)
	assert.Equal(t, models.ActionError, d.Action)
	assert.Equal(t, models.TradeExiting, eng.State().CurrentTrade.Status)
	require.Len(t, b.orders, 2)

	h = priced(h, 23010, 45)
	d = eng.Step(ctx, h)
	assert.Equal(t, models.ActionError, d.Action, "pending exit repeats the decision")
	assert.Len(t, b.orders, 2, "no second sell is submitted")
	assert.Equal(t, models.TradeExiting, eng.State().CurrentTrade.Status)

	// The operator clears the stuck trade without another order.
	d, err := eng.ForceExit(ctx, h, "manual flatten")
	require.NoError(t, err)
	assert.Equal(t, models.ActionExit, d.Action)
	assert.Len(t, b.orders, 2)
	assert.Nil(t, eng.State().CurrentTrade)
}

func TestLiveExitClosesOnAcknowledgment(t *testing.T) {
	ctx := context.Background()
	h := breakoutHistory(80)
	b := newCountingBroker(h)
	eng := newLiveEngine(b, true)
	require.Equal(t, models.ActionEnter, eng.Step(ctx, h).Action)

	h = priced(h, 23010, 50)
	b.UpdatePrices(&h[len(h)-1])
	b.WithholdFills(1)
	d := eng.Step(ctx, h)
	require.Equal(t, models.ActionExit, d.Action, "%v", d.Reasons)

	st := eng.State()
	assert.Nil(t, st.CurrentTrade)
	require.Len(t, st.TradeHistory, 1)
	closed := st.TradeHistory[0]
	assert.Equal(t, models.ExitSLHit, closed.ExitReason)
	assert.NotEmpty(t, closed.ExitOrderID)
	require.Len(t, b.orders, 2)
	assert.Equal(t, models.OrderSideSell, b.orders[1].Side)
	assert.Zero(t, b.Position("NIFTY24O2423050CE"))
}

func TestLiveExitWithNilClientKeepsTradeOpen(t *testing.T) {
	ctx := context.Background()
	h := breakoutHistory(80)
	eng := newLiveEngine(nil, true)
	eng.state.CurrentTrade = &models.Trade{
		ID: "manual", Status: models.TradeOpen, Mode: models.ModeNormal,
		Strike: 23050, OptType: models.OptionCE, Quantity: 75,
		EntryPrice: 100, PeakPrice: 100, StopLossPrice: 70,
	}

	d := eng.Step(ctx, priced(h, 23010, 60))
	assert.Equal(t, models.ActionError, d.Action)
	assert.Equal(t, models.TradeOpen, eng.State().CurrentTrade.Status)
}
