package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-options-engine/internal/models"
)

var day1 = time.Date(2024, 10, 17, 4, 30, 0, 0, time.UTC)

func closed(reason models.ExitReason, pnl float64) *models.Trade {
	return &models.Trade{Status: models.TradeClosed, ExitReason: reason, PnL: models.Float(pnl)}
}

func TestCollectorObservesLifecycle(t *testing.T) {
	ctx := context.Background()
	c := New()

	c.Observe(ctx, models.Event{Kind: models.EventDecision, Timestamp: day1, Decision: &models.Decision{Action: models.ActionNoTrade}})
	c.Observe(ctx, models.Event{Kind: models.EventOrderPlaced, Timestamp: day1, Order: &models.OrderEvent{Side: models.OrderSideBuy}})
	c.Observe(ctx, models.Event{Kind: models.EventTradeOpened, Timestamp: day1, Trade: &models.Trade{}})
	c.Observe(ctx, models.Event{Kind: models.EventDecision, Timestamp: day1, Decision: &models.Decision{Action: models.ActionEnter}})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.openPosition))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tradesToday))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.orders.WithLabelValues("BUY", "placed")))

	c.Observe(ctx, models.Event{Kind: models.EventOrderFailed, Timestamp: day1, Order: &models.OrderEvent{Side: models.OrderSideSell}})
	c.Observe(ctx, models.Event{Kind: models.EventTradeClosed, Timestamp: day1, Trade: closed(models.TargetHit(30), 2250)})
	c.Observe(ctx, models.Event{Kind: models.EventTradeOpened, Timestamp: day1, Trade: &models.Trade{}})
	c.Observe(ctx, models.Event{Kind: models.EventTradeClosed, Timestamp: day1, Trade: closed(models.ExitSLHit, -750)})

	assert.Equal(t, 0.0, testutil.ToFloat64(c.openPosition))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.tradesToday))
	assert.Equal(t, 1500.0, testutil.ToFloat64(c.realizedPnL))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.exits.WithLabelValues("TARGET_HIT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.exits.WithLabelValues("SL_HIT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.orders.WithLabelValues("SELL", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.decisions.WithLabelValues("ENTER")))
}

func TestTradesTodayResetsOnNewDay(t *testing.T) {
	ctx := context.Background()
	c := New()

	c.Observe(ctx, models.Event{Kind: models.EventTradeOpened, Timestamp: day1, Trade: &models.Trade{}})
	require.Equal(t, 1.0, testutil.ToFloat64(c.tradesToday))

	next := day1.Add(24 * time.Hour)
	c.Observe(ctx, models.Event{Kind: models.EventDecision, Timestamp: next, Decision: &models.Decision{Action: models.ActionHold}})
	assert.Equal(t, 0.0, testutil.ToFloat64(c.tradesToday))
}

func TestArmedGaugeFollowsConfig(t *testing.T) {
	ctx := context.Background()
	c := New()

	cfg := models.DefaultEngineConfig()
	cfg.LiveArmed = true
	c.Observe(ctx, models.Event{Kind: models.EventConfigChanged, Config: &cfg})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.liveArmed))

	cfg.LiveArmed = false
	c.Observe(ctx, models.Event{Kind: models.EventConfigChanged, Config: &cfg})
	assert.Equal(t, 0.0, testutil.ToFloat64(c.liveArmed))
}

func TestHandlerServesExposition(t *testing.T) {
	c := New()
	c.Observe(context.Background(), models.Event{Kind: models.EventDecision, Timestamp: day1, Decision: &models.Decision{Action: models.ActionHold}})

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `engine_decisions_total{action="HOLD"} 1`)
}
