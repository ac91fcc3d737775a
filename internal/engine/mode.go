package engine

import (
	"fmt"
	"math"

	"nifty-options-engine/internal/models"
)

const (
	rallyOpenMovePct = 1.0
	rallyOptionPct   = 100.0
)

// ComputeAutoMode classifies the active risk regime. It returns NORMAL unless
// the underlying has moved more than 1% from the day open and the 2-strike OTM
// option in the current direction has at least doubled over 10 minutes.
// EXPIRY is never produced here.
func ComputeAutoMode(history []models.OptionChainSnapshot, dayOpen *float64, override models.Direction) (models.TradingMode, []string) {
	cur := latest(history)
	if cur == nil {
		return models.ModeNormal, []string{"no snapshots, mode NORMAL"}
	}
	if dayOpen == nil || *dayOpen <= 0 {
		return models.ModeNormal, []string{"day open not captured, mode NORMAL"}
	}

	var reasons []string
	met := 0

	if und, ok := cur.UnderlyingLTP(); ok {
		move := math.Abs(und-*dayOpen) / *dayOpen * 100
		if move > rallyOpenMovePct {
			met++
			reasons = append(reasons, fmt.Sprintf("underlying moved %.2f%% from open %.2f", move, *dayOpen))
		} else {
			reasons = append(reasons, fmt.Sprintf("underlying move %.2f%% from open within %.0f%%", move, rallyOpenMovePct))
		}
	} else {
		reasons = append(reasons, "underlying LTP missing for open-move check")
	}

	dir, _ := DirectionSignal(cur, override)
	if inst := SelectInstrument(models.ModeBigRally, dir, cur); inst != nil {
		mv, why, ok := legMove(history, *inst, rallyLookback)
		switch {
		case !ok:
			reasons = append(reasons, "rally check: "+why)
		case mv.Pct >= rallyOptionPct:
			met++
			reasons = append(reasons, fmt.Sprintf("%s up %.1f%% in %s", inst, mv.Pct, rallyLookback))
		default:
			reasons = append(reasons, fmt.Sprintf("%s up %.1f%% in %s, below %.0f%%", inst, mv.Pct, rallyLookback, rallyOptionPct))
		}
	} else {
		reasons = append(reasons, "no 2-OTM instrument for rally check")
	}

	if met >= 2 {
		return models.ModeBigRally, append(reasons, "mode BIG_RALLY")
	}
	return models.ModeNormal, append(reasons, "mode NORMAL")
}

// resolveMode applies a pinned mode or falls back to auto classification.
func resolveMode(cfg models.EngineConfig, history []models.OptionChainSnapshot, dayOpen *float64) (models.TradingMode, []string) {
	if cfg.Mode != models.ModeAuto && cfg.Mode != "" {
		return cfg.Mode, []string{fmt.Sprintf("mode %s (pinned)", cfg.Mode)}
	}
	return ComputeAutoMode(history, dayOpen, cfg.Direction)
}
