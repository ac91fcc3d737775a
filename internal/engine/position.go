package engine

import (
	"fmt"
	"math"
	"time"

	"nifty-options-engine/internal/models"
)

// falseBreakoutBuffer is how far (index points) the underlying may retrace
// through the recorded breakout level before a NORMAL trade is abandoned.
const falseBreakoutBuffer = 10.0

// InitialStopLoss returns the stop placed at entry for mode.
func InitialStopLoss(mode models.TradingMode, entry float64) float64 {
	switch mode {
	case models.ModeExpiry:
		return entry * 0.75
	case models.ModeBigRally:
		return entry * 0.60
	default:
		return entry * 0.70
	}
}

// trailStep raises the stop to at least frac*peak (or entry when
// frac is zero) once mult reaches the threshold.
type trailStep struct {
	mult float64
	frac float64
}

var (
	normalTrail = []trailStep{
		{1.3, 0},
		{1.6, 0.8},
	}
	bigRallyTrail = []trailStep{
		{2, 0},
		{3, 0.5},
		{5, 0.6},
		{10, 0.7},
	}
)

// UpdatePeakOnly records a new peak without touching the stop.
func UpdatePeakOnly(t *models.Trade, ltp float64) {
	t.PeakPrice = math.Max(t.PeakPrice, ltp)
}

// UpdateTrailing records a new peak and tightens the stop for the trade's
// mode. The stop never moves down.
func UpdateTrailing(t *models.Trade, ltp float64) {
	UpdatePeakOnly(t, ltp)
	if t.EntryPrice <= 0 {
		return
	}
	mult := ltp / t.EntryPrice
	steps := normalTrail
	if t.Mode == models.ModeBigRally {
		steps = bigRallyTrail
	}
	for _, st := range steps {
		if mult < st.mult {
			break
		}
		floor := t.EntryPrice
		if st.frac > 0 {
			floor = st.frac * t.PeakPrice
		}
		t.StopLossPrice = math.Max(t.StopLossPrice, floor)
	}
}

// updatePosition applies the per-tick peak/stop maintenance for the style.
func updatePosition(t *models.Trade, ltp float64, style models.ExitStyle) {
	if style == models.ExitTarget {
		UpdatePeakOnly(t, ltp)
		return
	}
	UpdateTrailing(t, ltp)
}

// ExitCheck is the outcome of evaluating exit rules.
type ExitCheck struct {
	Exit   bool
	Reason models.ExitReason
	Detail string
}

// EvaluateExit checks the exit rules in precedence order: target, false
// breakout, stop loss, trail from peak. The first match wins.
func EvaluateExit(t *models.Trade, ltp float64, underlying *float64, cfg models.EngineConfig) ExitCheck {
	if cfg.ExitStyle == models.ExitTarget {
		target := t.EntryPrice + t.EntryPrice*cfg.TargetPct/100
		if ltp >= target {
			return ExitCheck{true, models.TargetHit(cfg.TargetPct), fmt.Sprintf("ltp %.2f reached target %.2f", ltp, target)}
		}
	}

	if check := FalseBreakoutExit(t, underlying); check.Exit {
		return check
	}

	if ltp <= t.StopLossPrice {
		return ExitCheck{true, models.ExitSLHit, fmt.Sprintf("ltp %.2f <= stop %.2f", ltp, t.StopLossPrice)}
	}

	if t.Mode != models.ModeBigRally && t.EntryPrice > 0 &&
		t.PeakPrice/t.EntryPrice >= 1.6 && ltp <= 0.8*t.PeakPrice {
		return ExitCheck{true, models.ExitTrailFromPeak, fmt.Sprintf("ltp %.2f gave back 20%% from peak %.2f", ltp, t.PeakPrice)}
	}

	return ExitCheck{Detail: fmt.Sprintf("ltp %.2f, stop %.2f, peak %.2f", ltp, t.StopLossPrice, t.PeakPrice)}
}

// FalseBreakoutExit checks the one exit rule that needs only the
// underlying, so it also runs on ticks without an option price.
func FalseBreakoutExit(t *models.Trade, underlying *float64) ExitCheck {
	if t.Mode != models.ModeNormal || t.BreakoutLevel == nil || underlying == nil {
		return ExitCheck{}
	}
	lvl, und := *t.BreakoutLevel, *underlying
	switch {
	case t.OptType == models.OptionCE && und < lvl-falseBreakoutBuffer:
		return ExitCheck{true, models.ExitFalseBreakout, fmt.Sprintf("underlying %.2f fell below breakout %.2f", und, lvl)}
	case t.OptType == models.OptionPE && und > lvl+falseBreakoutBuffer:
		return ExitCheck{true, models.ExitFalseBreakout, fmt.Sprintf("underlying %.2f rose above breakdown %.2f", und, lvl)}
	}
	return ExitCheck{}
}

// closeTrade marks t closed at price and computes realized P&L.
func closeTrade(t *models.Trade, price float64, ts time.Time, reason models.ExitReason, note string) {
	pnl := (price - t.EntryPrice) * float64(t.Quantity)
	t.Status = models.TradeClosed
	t.ExitPrice = models.Float(price)
	t.ExitTimestamp = &ts
	t.ExitReason = reason
	t.ExitNote = note
	t.PnL = &pnl
}

// openTrade builds a new OPEN trade from an entry signal.
func openTrade(id string, sig EntrySignal, snap *models.OptionChainSnapshot, cfg models.EngineConfig) *models.Trade {
	t := &models.Trade{
		ID:             id,
		Status:         models.TradeOpen,
		Mode:           sig.Mode,
		Strike:         sig.Instrument.Strike,
		OptType:        sig.Instrument.OptType,
		Quantity:       cfg.Quantity,
		EntryPrice:     sig.EntryPrice,
		EntryTimestamp: snap.Timestamp,
		PeakPrice:      sig.EntryPrice,
		StopLossPrice:  InitialStopLoss(sig.Mode, sig.EntryPrice),
	}
	if leg := snap.Leg(sig.Instrument.Strike, sig.Instrument.OptType); leg != nil {
		t.TradingSymbol = leg.TradingSymbol
	}
	if sig.BreakoutLevel != nil {
		t.BreakoutLevel = models.Float(*sig.BreakoutLevel)
	}
	return t
}
