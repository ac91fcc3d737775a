package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"nifty-options-engine/internal/broker"
	apperrors "nifty-options-engine/internal/errors"
	"nifty-options-engine/internal/logging"
	"nifty-options-engine/internal/models"
)

// DefaultFillConfirmDelay is how long the live stepper waits after an entry
// acknowledgment before looking for the fill in the tradebook.
const DefaultFillConfirmDelay = 2 * time.Second

// liveExecutor routes entries and exits through a broker client.
//
// Known risk: an entry that is acknowledged but not found in the tradebook
// after the confirm delay is still recorded as an OPEN trade priced at the
// latest leg LTP, and the tick reports ERROR. Stop and exit management must
// keep running for a position that may exist at the broker.
type liveExecutor struct {
	client broker.OrderPlacer
	delay  time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *liveExecutor) order(t *tick, side models.OrderSide, symbol, remarks string) broker.OrderRequest {
	return broker.OrderRequest{
		Side:          side,
		Product:       t.cfg.Product,
		Exchange:      t.cfg.Exchange,
		TradingSymbol: symbol,
		Quantity:      t.cfg.Quantity,
		OrderType:     models.OrderTypeMarket,
		Remarks:       remarks,
	}
}

func orderEvent(req broker.OrderRequest, tradeID, orderID string, err string) *models.OrderEvent {
	return &models.OrderEvent{
		OrderID:       orderID,
		TradeID:       tradeID,
		Side:          req.Side,
		TradingSymbol: req.TradingSymbol,
		Quantity:      req.Quantity,
		Product:       req.Product,
		Exchange:      req.Exchange,
		Remarks:       req.Remarks,
		Error:         err,
	}
}

// submit places req and reports the acknowledgment. A nil result means the
// order was not accepted; raw then holds the diagnostic payload.
func (l *liveExecutor) submit(ctx context.Context, t *tick, req broker.OrderRequest, tradeID string) (*broker.OrderResult, any) {
	if l.client == nil {
		err := apperrors.ErrOrderCapabilityMissing
		t.emit(models.EventOrderFailed, t.st.CurrentTrade, orderEvent(req, tradeID, "", err.Error()))
		return nil, err.Error()
	}
	res, err := l.client.PlaceOrder(ctx, req)
	if err != nil {
		logging.LogOrder(logging.FromContext(ctx), "", req.TradingSymbol, string(req.Side), "FAILED")
		t.emit(models.EventOrderFailed, t.st.CurrentTrade, orderEvent(req, tradeID, "", err.Error()))
		return nil, err.Error()
	}
	if res == nil || !res.OK {
		var raw any
		if res != nil {
			raw = res.Raw
		}
		logging.LogOrder(logging.FromContext(ctx), "", req.TradingSymbol, string(req.Side), "REJECTED")
		t.emit(models.EventOrderFailed, t.st.CurrentTrade, orderEvent(req, tradeID, "", fmt.Sprintf("%v", raw)))
		return nil, raw
	}
	logging.LogOrder(logging.FromContext(ctx), res.OrderID, req.TradingSymbol, string(req.Side), "ACKNOWLEDGED")
	t.emit(models.EventOrderPlaced, t.st.CurrentTrade, orderEvent(req, tradeID, res.OrderID, ""))
	return res, nil
}

func (l *liveExecutor) enter(ctx context.Context, t *tick, sig EntrySignal) *models.Decision {
	if !t.cfg.LiveArmed {
		return t.decide(models.ActionNoTrade, "entry signal ignored: live trading not armed")
	}
	leg := t.snap.Leg(sig.Instrument.Strike, sig.Instrument.OptType)
	if leg == nil || leg.TradingSymbol == "" {
		return t.decideError(nil, fmt.Sprintf("no trading symbol for %s in latest snapshot", sig.Instrument))
	}

	id := t.newID()
	req := l.order(t, models.OrderSideBuy, leg.TradingSymbol, "ENTRY "+string(sig.Mode))
	res, raw := l.submit(ctx, t, req, id)
	if res == nil {
		return t.decideError(raw, fmt.Sprintf("entry order for %s not accepted", leg.TradingSymbol))
	}

	tr := openTrade(id, sig, t.snap, t.cfg)
	tr.Live = true
	tr.TradingSymbol = leg.TradingSymbol
	tr.EntryOrderID = res.OrderID
	t.st.TradesToday++

	fill, why := l.confirm(ctx, res.OrderID)
	if fill != nil {
		tr.FillConfirmed = true
		// A confirmed fill reprices the trade at the broker's average price.
		if fill.AveragePrice > 0 {
			tr.EntryPrice = fill.AveragePrice
			tr.PeakPrice = fill.AveragePrice
			tr.StopLossPrice = InitialStopLoss(tr.Mode, fill.AveragePrice)
		}
	}
	t.st.CurrentTrade = tr
	t.emit(models.EventTradeOpened, tr, nil)
	logging.LogTrade(tradeLogger(ctx, tr, res.OrderID), "opened", tr)

	if fill == nil {
		return t.decideError(why, fmt.Sprintf("order %s placed but not confirmed filled; tracking %s at best-effort price %.2f",
			res.OrderID, tr.Label(), tr.EntryPrice))
	}
	t.note("order %s filled at %.2f, stop %.2f", res.OrderID, tr.EntryPrice, tr.StopLossPrice)
	return t.decide(models.ActionEnter)
}

// confirm waits the confirm delay and looks for orderID in the tradebook.
// It returns nil and a diagnostic when the fill cannot be confirmed.
func (l *liveExecutor) confirm(ctx context.Context, orderID string) (*broker.TradebookEntry, any) {
	if err := l.sleep(ctx, l.delay); err != nil {
		return nil, err.Error()
	}
	reader, ok := l.client.(broker.TradebookReader)
	if !ok || reader == nil {
		return nil, apperrors.ErrTradebookUnavailable.Error()
	}
	entries, err := reader.GetTradebook(ctx)
	if err != nil {
		return nil, err.Error()
	}
	fill, ok := broker.FindFill(entries, orderID)
	if !ok {
		return nil, apperrors.ErrFillNotConfirmed.Error()
	}
	return &fill, nil
}

// exit marks the trade EXITING and submits the sell once. A successful
// acknowledgment closes the trade without waiting for a fill.
func (l *liveExecutor) exit(ctx context.Context, t *tick, reason models.ExitReason, note string, price float64) *models.Decision {
	tr := t.st.CurrentTrade
	if l.client == nil {
		return t.decideError(apperrors.ErrOrderCapabilityMissing.Error(),
			fmt.Sprintf("cannot submit exit for %s: broker cannot place orders", tr.Label()))
	}

	tr.Status = models.TradeExiting
	tr.ExitReason = reason
	tr.ExitNote = note
	req := l.order(t, models.OrderSideSell, tr.TradingSymbol, "EXIT "+string(reason))
	req.Quantity = tr.Quantity
	res, raw := l.submit(ctx, t, req, tr.ID)
	if res == nil {
		return t.decideError(raw, fmt.Sprintf("exit order for %s not accepted; trade left EXITING", tr.Label()))
	}

	tr.ExitOrderID = res.OrderID
	closeTrade(tr, price, t.ts, reason, note)
	t.note("exit order %s acknowledged, closed %s at %.2f, pnl %.2f", res.OrderID, tr.Label(), price, *tr.PnL)
	t.emit(models.EventTradeClosed, tr, nil)
	logging.LogTrade(tradeLogger(ctx, tr, res.OrderID), "closed", tr)
	archive(t.st)
	return t.decide(models.ActionExit)
}

func tradeLogger(ctx context.Context, tr *models.Trade, orderID string) zerolog.Logger {
	return logging.WithOrderID(logging.WithTradeID(logging.FromContext(ctx), tr.ID), orderID)
}

// resumeExit repeats the pending exit decision without another order.
func (l *liveExecutor) resumeExit(_ context.Context, t *tick) *models.Decision {
	tr := t.st.CurrentTrade
	msg := fmt.Sprintf("exit already submitted for %s (%s), not resubmitting", tr.Label(), tr.ExitReason)
	if last := t.st.LastDecision; last != nil && last.TradeID == tr.ID {
		if last.Action == models.ActionError {
			return t.decideError(last.Raw, msg)
		}
		return t.decide(last.Action, msg)
	}
	return t.decide(models.ActionHold, msg)
}

// forceExitPending closes a trade whose exit order was already submitted.
func (l *liveExecutor) forceExitPending(ctx context.Context, t *tick, note string) *models.Decision {
	tr := t.st.CurrentTrade
	logger := logging.WithTradeID(logging.FromContext(ctx), tr.ID)
	logger.Warn().Str("symbol", tr.Label()).
		Msg("Force-closing trade with a pending exit order; verify the broker position")
	price := exitPrice(t, tr)
	closeTrade(tr, price, t.ts, models.ExitForced, note)
	t.note("closed pending-exit %s locally at %.2f without a new order", tr.Label(), price)
	t.emit(models.EventTradeClosed, tr, nil)
	archive(t.st)
	return t.decide(models.ActionExit)
}
