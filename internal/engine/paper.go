package engine

import (
	"context"

	"nifty-options-engine/internal/models"
)

// paperExecutor opens and closes trades in memory only.
type paperExecutor struct{}

func (paperExecutor) enter(_ context.Context, t *tick, sig EntrySignal) *models.Decision {
	tr := openTrade(t.newID(), sig, t.snap, t.cfg)
	t.st.CurrentTrade = tr
	t.st.TradesToday++
	t.note("opened %s at %.2f, stop %.2f", tr.Label(), tr.EntryPrice, tr.StopLossPrice)
	t.emit(models.EventTradeOpened, tr, nil)
	return t.decide(models.ActionEnter)
}

func (paperExecutor) exit(_ context.Context, t *tick, reason models.ExitReason, note string, price float64) *models.Decision {
	tr := t.st.CurrentTrade
	closeTrade(tr, price, t.ts, reason, note)
	t.note("closed %s at %.2f, pnl %.2f", tr.Label(), price, *tr.PnL)
	t.emit(models.EventTradeClosed, tr, nil)
	archive(t.st)
	return t.decide(models.ActionExit)
}

// resumeExit never happens in paper mode; a trade left EXITING by a live
// session is closed at the latest price.
func (p paperExecutor) resumeExit(ctx context.Context, t *tick) *models.Decision {
	tr := t.st.CurrentTrade
	return p.exit(ctx, t, tr.ExitReason, "closed in paper mode after pending exit", exitPrice(t, tr))
}

func (p paperExecutor) forceExitPending(ctx context.Context, t *tick, note string) *models.Decision {
	tr := t.st.CurrentTrade
	return p.exit(ctx, t, models.ExitForced, note, exitPrice(t, tr))
}
