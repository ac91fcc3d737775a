package engine

import (
	"context"
	"fmt"
	"time"

	"nifty-options-engine/internal/models"
)

// tick carries the working state of one engine operation. Events are
// buffered and dispatched by the Engine after it releases its lock.
type tick struct {
	st      *models.EngineState
	cfg     models.EngineConfig
	history []models.OptionChainSnapshot
	snap    *models.OptionChainSnapshot
	ts      time.Time
	mode    models.TradingMode
	reasons []string
	bias    *models.BiasResult
	events  []models.Event
	newID   func() string
}

// executor turns entry and exit decisions into position changes. The paper
// executor applies them directly; the live executor routes them through a
// broker.
type executor interface {
	enter(ctx context.Context, t *tick, sig EntrySignal) *models.Decision
	exit(ctx context.Context, t *tick, reason models.ExitReason, note string, price float64) *models.Decision
	resumeExit(ctx context.Context, t *tick) *models.Decision
	forceExitPending(ctx context.Context, t *tick, note string) *models.Decision
}

func (t *tick) note(format string, args ...any) {
	t.reasons = append(t.reasons, fmt.Sprintf(format, args...))
}

func (t *tick) emit(kind models.EventKind, tr *models.Trade, order *models.OrderEvent) {
	t.events = append(t.events, models.Event{
		Kind:      kind,
		Timestamp: t.ts,
		Trade:     tr.Clone(),
		Order:     order,
	})
}

// decide records the tick's decision as the engine's last decision.
func (t *tick) decide(action models.Action, extra ...string) *models.Decision {
	d := &models.Decision{
		Timestamp: t.ts,
		Mode:      t.mode,
		Action:    action,
		Reasons:   append(append([]string(nil), t.reasons...), extra...),
		Bias:      t.bias,
	}
	if tr := t.st.CurrentTrade; tr != nil {
		d.TradeID = tr.ID
	} else if n := len(t.st.TradeHistory); n > 0 && action == models.ActionExit {
		d.TradeID = t.st.TradeHistory[n-1].ID
	}
	t.st.LastDecision = d
	t.events = append(t.events, models.Event{Kind: models.EventDecision, Timestamp: t.ts, Decision: d.Clone()})
	return d
}

// decideError records an ERROR decision carrying raw broker output.
func (t *tick) decideError(raw any, extra ...string) *models.Decision {
	d := t.decide(models.ActionError, extra...)
	d.Raw = raw
	t.events[len(t.events)-1].Decision.Raw = raw
	return d
}

// prepare rolls the day, captures the open, and resolves the mode. It
// returns false when the latest snapshot cannot be reasoned over; a decision
// has then already been recorded.
func (t *tick) prepare() bool {
	if t.snap == nil {
		t.mode = t.st.ActiveMode
		t.decide(t.idle(), "no snapshots available")
		return false
	}
	t.ts = t.snap.Timestamp
	if err := t.snap.ValidateStrikes(); err != nil {
		t.mode = t.st.ActiveMode
		t.decide(t.idle(), "snapshot skipped: "+err.Error())
		return false
	}
	if rollDay(t.st, t.ts) {
		t.note("new trading day %s", t.st.TradesDate)
	}
	if captureDayOpen(t.st, t.snap) {
		t.note("day open captured at %.2f", *t.st.DayOpenPrice)
	}
	mode, why := resolveMode(t.cfg, t.history, t.st.DayOpenPrice)
	t.mode = mode
	t.st.ActiveMode = mode
	t.reasons = append(t.reasons, why...)
	return true
}

// idle is the action reported when a tick is skipped.
func (t *tick) idle() models.Action {
	if t.st.CurrentTrade.Active() {
		return models.ActionHold
	}
	return models.ActionNoTrade
}

// run is the decision pipeline shared by the paper and live steppers.
func run(ctx context.Context, t *tick, ex executor) *models.Decision {
	if !t.prepare() {
		return t.st.LastDecision
	}

	if tr := t.st.CurrentTrade; tr.Active() {
		if tr.Status == models.TradeExiting {
			return ex.resumeExit(ctx, t)
		}
		ltp, ok := t.snap.LegLTP(tr.Strike, tr.OptType)
		if !ok {
			check := FalseBreakoutExit(tr, t.snap.Underlying.LTP)
			if !check.Exit {
				return t.decide(models.ActionHold, fmt.Sprintf("no LTP for %s, price exits not evaluated", tr.Label()))
			}
			t.note("exit %s: %s", check.Reason, check.Detail)
			return ex.exit(ctx, t, check.Reason, check.Detail, exitPrice(t, tr))
		}
		updatePosition(tr, ltp, t.cfg.ExitStyle)
		check := EvaluateExit(tr, ltp, t.snap.Underlying.LTP, t.cfg)
		if !check.Exit {
			return t.decide(models.ActionHold, check.Detail)
		}
		t.note("exit %s: %s", check.Reason, check.Detail)
		return ex.exit(ctx, t, check.Reason, check.Detail, ltp)
	}

	if capReached(t.st) {
		return t.decide(models.ActionNoTrade, capReason(t.st))
	}

	sig := ShouldEnter(t.history, t.mode, t.cfg.Direction)
	t.reasons = append(t.reasons, sig.Reasons...)
	if !sig.OK {
		return t.decide(models.ActionNoTrade)
	}
	return ex.enter(ctx, t, sig)
}

func capReason(st *models.EngineState) string {
	return fmt.Sprintf("daily trade cap reached (%d/%d)", st.TradesToday, st.Config.MaxTradesPerDay)
}

// forcedSignal builds an entry signal without evaluating entry rules.
func forcedSignal(t *tick) (EntrySignal, error) {
	sig := EntrySignal{Mode: t.mode}
	if sig.Mode == models.ModeAuto || sig.Mode == "" {
		sig.Mode = models.ModeNormal
	}
	dir, why := DirectionSignal(t.snap, t.cfg.Direction)
	t.reasons = append(t.reasons, why...)
	if dir == "" {
		return sig, fmt.Errorf("no direction available for forced entry")
	}
	inst := SelectInstrument(sig.Mode, dir, t.snap)
	if inst == nil {
		return sig, fmt.Errorf("cannot select instrument: atm strike %v unusable", t.snap.ATMStrike)
	}
	price, ok := t.snap.LegLTP(inst.Strike, inst.OptType)
	if !ok || price <= 0 {
		return sig, fmt.Errorf("no usable LTP for %s", inst)
	}
	sig.OK = true
	sig.Direction = dir
	sig.Instrument = *inst
	sig.EntryPrice = price
	sig.Reasons = []string{fmt.Sprintf("forced entry %s at %.2f", inst, price)}
	return sig, nil
}

// exitPrice is the latest price of the open trade, falling back to entry.
func exitPrice(t *tick, tr *models.Trade) float64 {
	if t.snap != nil {
		if ltp, ok := t.snap.LegLTP(tr.Strike, tr.OptType); ok {
			return ltp
		}
	}
	t.note("no LTP for %s, exiting at entry price", tr.Label())
	return tr.EntryPrice
}
