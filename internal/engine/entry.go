package engine

import (
	"fmt"

	"nifty-options-engine/internal/models"
)

const (
	expiryEntryPct   = 50.0
	breakoutATMPct   = 12.0
	bigRallyEntryPct = 100.0
)

// EntrySignal is the result of evaluating the entry rules on one tick.
type EntrySignal struct {
	OK            bool
	Direction     models.Direction
	Instrument    Instrument
	Mode          models.TradingMode
	BreakoutLevel *float64
	EntryPrice    float64
	Reasons       []string
}

func (s *EntrySignal) reject(format string, args ...any) EntrySignal {
	s.Reasons = append(s.Reasons, fmt.Sprintf(format, args...))
	s.OK = false
	return *s
}

// ShouldEnter evaluates the entry rule for mode against the snapshot history.
// It does not look at open trades or the daily cap; callers check those first.
func ShouldEnter(history []models.OptionChainSnapshot, mode models.TradingMode, override models.Direction) EntrySignal {
	if mode == models.ModeAuto || mode == "" {
		mode = models.ModeNormal
	}
	sig := EntrySignal{Mode: mode}
	cur := latest(history)
	if cur == nil {
		return sig.reject("no snapshots")
	}

	dir, why := DirectionSignal(cur, override)
	sig.Reasons = append(sig.Reasons, why...)
	if dir == "" {
		return sig.reject("no direction signal")
	}
	inst := SelectInstrument(mode, dir, cur)
	if inst == nil {
		return sig.reject("cannot select instrument: atm strike %v unusable", cur.ATMStrike)
	}
	sig.Direction = dir
	sig.Instrument = *inst

	switch mode {
	case models.ModeExpiry:
		mv, why, ok := legMove(history, *inst, expiryLookback)
		if !ok {
			return sig.reject("expiry entry: %s", why)
		}
		if mv.Pct < expiryEntryPct {
			return sig.reject("expiry entry: %s up %.1f%% in %s, need %.0f%%", inst, mv.Pct, expiryLookback, expiryEntryPct)
		}
		sig.Reasons = append(sig.Reasons, fmt.Sprintf("expiry entry: %s up %.1f%% (%.2f -> %.2f)", inst, mv.Pct, mv.From, mv.To))

	case models.ModeBigRally:
		mv, why, ok := legMove(history, *inst, rallyLookback)
		if !ok {
			return sig.reject("big rally entry: %s", why)
		}
		if mv.Pct < bigRallyEntryPct {
			return sig.reject("big rally entry: %s up %.1f%% in %s, need %.0f%%", inst, mv.Pct, rallyLookback, bigRallyEntryPct)
		}
		sig.Reasons = append(sig.Reasons, fmt.Sprintf("big rally entry: %s up %.1f%% (%.2f -> %.2f)", inst, mv.Pct, mv.From, mv.To))

	default:
		if !normalBreakout(history, cur, override, &sig) {
			sig.OK = false
			return sig
		}
	}

	price, ok := cur.LegLTP(sig.Instrument.Strike, sig.Instrument.OptType)
	if !ok || price <= 0 {
		return sig.reject("no usable LTP for %s", sig.Instrument)
	}
	sig.EntryPrice = price
	sig.OK = true
	return sig
}

// normalBreakout checks the underlying breakout with ATM option confirmation.
// On success it overwrites direction, instrument and breakout level in sig.
func normalBreakout(history []models.OptionChainSnapshot, cur *models.OptionChainSnapshot, override models.Direction, sig *EntrySignal) bool {
	und, ok := cur.UnderlyingLTP()
	if !ok {
		sig.Reasons = append(sig.Reasons, "breakout: underlying LTP missing")
		return false
	}
	lo, hi, src, ok := underlyingRange(history, breakoutWindow)
	if !ok {
		sig.Reasons = append(sig.Reasons, fmt.Sprintf("breakout: no %s range available", breakoutWindow))
		return false
	}

	type side struct {
		dir    models.Direction
		broken bool
		level  float64
		label  string
	}
	sides := []side{
		{models.DirectionBull, und > hi, hi, "high"},
		{models.DirectionBear, und < lo, lo, "low"},
	}
	for _, sd := range sides {
		if override != models.DirectionAuto && override != "" && override != sd.dir {
			continue
		}
		if !sd.broken {
			sig.Reasons = append(sig.Reasons, fmt.Sprintf("breakout: underlying %.2f has not broken %s %s %.2f", und, src, sd.label, sd.level))
			continue
		}
		atm := Instrument{Strike: cur.ATMStrike, OptType: models.OptionTypeFor(sd.dir)}
		mv, why, ok := legMove(history, atm, atmConfirmLookback)
		if !ok {
			sig.Reasons = append(sig.Reasons, fmt.Sprintf("breakout: %s %s broken but %s", src, sd.label, why))
			continue
		}
		if mv.Pct < breakoutATMPct {
			sig.Reasons = append(sig.Reasons, fmt.Sprintf("breakout: %s %s %.2f broken but %s up only %.1f%% in %s, need %.0f%%",
				src, sd.label, sd.level, atm, mv.Pct, atmConfirmLookback, breakoutATMPct))
			continue
		}
		inst := SelectInstrument(models.ModeNormal, sd.dir, cur)
		if inst == nil {
			sig.Reasons = append(sig.Reasons, "breakout: cannot select instrument")
			return false
		}
		level := sd.level
		sig.Direction = sd.dir
		sig.Instrument = *inst
		sig.BreakoutLevel = &level
		sig.Reasons = append(sig.Reasons, fmt.Sprintf("breakout: underlying %.2f broke %s %s %.2f with %s up %.1f%%",
			und, src, sd.label, sd.level, atm, mv.Pct))
		return true
	}
	return false
}
