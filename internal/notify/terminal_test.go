package notify

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nifty-options-engine/internal/models"
)

var tickTime = time.Date(2024, 10, 17, 4, 45, 0, 0, time.UTC)

func closedTrade(reason models.ExitReason, exit, pnl float64) *models.Trade {
	return &models.Trade{
		ID: "t1", Status: models.TradeClosed, Mode: models.ModeNormal,
		Strike: 23050, OptType: models.OptionCE, TradingSymbol: "NIFTY24O2423050CE",
		Quantity: 75, EntryPrice: 100, StopLossPrice: 70,
		ExitPrice: models.Float(exit), ExitReason: reason, PnL: models.Float(pnl),
	}
}

func TestFromEngineEvent(t *testing.T) {
	tests := []struct {
		name   string
		event  models.Event
		want   TerminalNotificationType
		mapped bool
	}{
		{"opened", models.Event{Kind: models.EventTradeOpened, Trade: &models.Trade{Mode: models.ModeNormal, EntryPrice: 80}}, TerminalNotifyEntry, true},
		{"target", models.Event{Kind: models.EventTradeClosed, Trade: closedTrade(models.TargetHit(30), 130, 2250)}, TerminalNotifyTarget, true},
		{"stop", models.Event{Kind: models.EventTradeClosed, Trade: closedTrade(models.ExitSLHit, 70, -2250)}, TerminalNotifyStopLoss, true},
		{"false breakout", models.Event{Kind: models.EventTradeClosed, Trade: closedTrade(models.ExitFalseBreakout, 95, -375)}, TerminalNotifyExit, true},
		{"error decision", models.Event{Kind: models.EventDecision, Decision: &models.Decision{Action: models.ActionError, Reasons: []string{"order rejected"}}}, TerminalNotifyError, true},
		{"hold decision", models.Event{Kind: models.EventDecision, Decision: &models.Decision{Action: models.ActionHold}}, 0, false},
		{"order event", models.Event{Kind: models.EventOrderPlaced, Order: &models.OrderEvent{}}, 0, false},
		{"nil trade", models.Event{Kind: models.EventTradeOpened}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := FromEngineEvent(tt.event)
			assert.Equal(t, tt.mapped, ok)
			if tt.mapped {
				assert.Equal(t, tt.want, n.Type)
			}
		})
	}
}

func TestUnconfirmedLiveEntryCarriesAction(t *testing.T) {
	n, ok := FromEngineEvent(models.Event{Kind: models.EventTradeOpened, Trade: &models.Trade{Live: true, EntryPrice: 80}})
	require.True(t, ok)
	assert.Contains(t, n.Action, "not confirmed")
}

func TestFormatNotification(t *testing.T) {
	n, ok := FromEngineEvent(models.Event{
		Kind:      models.EventTradeClosed,
		Timestamp: tickTime,
		Trade:     closedTrade(models.ExitSLHit, 70, -2250),
	})
	require.True(t, ok)

	out := FormatNotification(n, false)
	assert.Contains(t, out, "[10:15:00] STOP-LOSS")
	assert.Contains(t, out, "NIFTY24O2423050CE")
	assert.Contains(t, out, "SL_HIT")
	assert.Contains(t, out, "-₹2,250.00")
	assert.NotContains(t, out, "\x1b[", "no escape codes when color is off")
}

func TestNotifierDeliversToHandlers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var bell bytes.Buffer
	tn := NewTerminalNotifier(4)
	tn.SetOutput(&bell)
	got := make(chan TerminalNotification, 1)
	tn.AddHandler(func(n TerminalNotification) { got <- n })
	tn.Start(ctx)

	tn.Observe(ctx, models.Event{Kind: models.EventDecision, Timestamp: tickTime,
		Decision: &models.Decision{Action: models.ActionError, Reasons: []string{"exit order failed"}, Raw: "timeout"}})

	select {
	case n := <-got:
		assert.Equal(t, TerminalNotifyError, n.Type)
		assert.Equal(t, "exit order failed", n.Message)
		assert.Equal(t, "timeout", n.Action)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestNotifyDropsOldestWhenFull(t *testing.T) {
	tn := NewTerminalNotifier(2)
	for i := 0; i < 3; i++ {
		tn.Notify(TerminalNotification{Type: TerminalNotifyInfo, Message: string(rune('a' + i))})
	}
	assert.Equal(t, "b", (<-tn.notifications).Message)
	assert.Equal(t, "c", (<-tn.notifications).Message)
}

func TestDisabledNotifierDropsEverything(t *testing.T) {
	tn := NewTerminalNotifier(2)
	tn.SetEnabled(false)
	tn.Notify(TerminalNotification{Message: "x"})
	assert.Empty(t, tn.notifications)
}
