package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-options-engine/internal/models"
)

type bufferCloser struct{ bytes.Buffer }

func (*bufferCloser) Close() error { return nil }

func TestObserveWritesJSONLines(t *testing.T) {
	buf := &bufferCloser{}
	l := NewWithWriter(buf)
	l.SetUserID("AB1234")
	ctx := context.Background()
	tick := time.Date(2024, 10, 17, 10, 5, 0, 0, time.UTC)

	l.Observe(ctx, models.Event{
		Kind:      models.EventDecision,
		Timestamp: tick,
		Decision:  &models.Decision{Timestamp: tick, Mode: models.ModeNormal, Action: models.ActionError, Reasons: []string{"rejected"}, Raw: "margin"},
	})
	l.Observe(ctx, models.Event{
		Kind:      models.EventTradeClosed,
		Timestamp: tick,
		Trade: &models.Trade{ID: "t1", Strike: 23050, OptType: models.OptionCE, EntryPrice: 100,
			ExitPrice: models.Float(127), PnL: models.Float(2025), ExitReason: models.ExitSLHit},
	})
	l.Observe(ctx, models.Event{Kind: models.EventKind("UNKNOWN"), Timestamp: tick})

	var events []Event
	sc := bufio.NewScanner(&buf.Buffer)
	for sc.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	require.Len(t, events, 2)

	assert.Equal(t, EventDecision, events[0].EventType)
	assert.False(t, events[0].Success)
	assert.Equal(t, "AB1234", events[0].UserID)
	assert.Equal(t, l.SessionID(), events[0].SessionID)
	assert.Equal(t, "margin", events[0].Details["raw"])

	assert.Equal(t, EventTradeClosed, events[1].EventType)
	assert.Equal(t, string(models.ExitSLHit), events[1].Action)
	assert.InDelta(t, 2025, events[1].Details["pnl"], 1e-9)
	require.NotNil(t, events[1].TickTime)
	assert.True(t, tick.Equal(*events[1].TickTime))
}

func TestFromEngineEventOrders(t *testing.T) {
	rec, ok := FromEngineEvent(models.Event{
		Kind:  models.EventOrderFailed,
		Order: &models.OrderEvent{TradingSymbol: "NIFTY24O2423050CE", Side: models.OrderSideBuy, Quantity: 75, Error: "insufficient margin"},
	})
	require.True(t, ok)
	assert.Equal(t, EventOrderRejected, rec.EventType)
	assert.False(t, rec.Success)
	assert.Equal(t, "insufficient margin", rec.ErrorMsg)
	assert.Equal(t, "BUY", rec.Action)

	_, ok = FromEngineEvent(models.Event{Kind: models.EventOrderPlaced})
	assert.False(t, ok, "order events without a payload are skipped")
}
