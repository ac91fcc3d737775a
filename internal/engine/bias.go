package engine

import (
	"fmt"
	"math"
	"time"

	"nifty-options-engine/internal/models"
)

// levelProximity is how close (in index points) the underlying may be to a
// support/resistance strike before it is considered "at" the level.
const levelProximity = 50.0

// BiasParams configures the OI bias scorer.
type BiasParams struct {
	Window      time.Duration `mapstructure:"window"`
	StrikeWidth int           `mapstructure:"strike_width"`
	MinScore    float64       `mapstructure:"min_score"`
}

// DefaultBiasParams returns the scorer defaults.
func DefaultBiasParams() BiasParams {
	return BiasParams{
		Window:      60 * time.Second,
		StrikeWidth: 4,
		MinScore:    3,
	}
}

// ScoreBias scores long buildup and unwinding around ATM across the trailing
// window and recommends BUY_CE, BUY_PE or NO_TRADE.
func ScoreBias(history []models.OptionChainSnapshot, p BiasParams) models.BiasResult {
	res := models.BiasResult{Action: models.BiasNoTrade}
	cur := latest(history)
	if cur == nil {
		res.Reasons = append(res.Reasons, "no snapshots to score")
		return res
	}
	if !cur.HasATM() {
		res.Reasons = append(res.Reasons, "atm strike unusable")
		return res
	}
	if p.Window <= 0 {
		p.Window = DefaultBiasParams().Window
	}
	if p.StrikeWidth <= 0 {
		p.StrikeWidth = DefaultBiasParams().StrikeWidth
	}

	band := float64(p.StrikeWidth) * cur.StrikeStep()
	since := cur.Timestamp.Add(-p.Window)
	for i := range history {
		s := &history[i]
		if s.Timestamp.Before(since) || s.Timestamp.After(cur.Timestamp) {
			continue
		}
		res.Snapshots++
		for j := range s.Rows {
			row := &s.Rows[j]
			if math.Abs(row.Strike-cur.ATMStrike) > band {
				continue
			}
			b, u := scoreLeg(row.CE)
			res.CEBuildup += b
			res.CEUnwind += u
			b, u = scoreLeg(row.PE)
			res.PEBuildup += b
			res.PEUnwind += u
		}
	}

	res.BullishScore = res.CEBuildup + res.PEUnwind - res.PEBuildup
	res.BearishScore = res.PEBuildup + res.CEUnwind - res.CEBuildup
	res.Reasons = append(res.Reasons, fmt.Sprintf("%d snapshots in %s window, band ±%.0f around %.0f: bull %.1f, bear %.1f",
		res.Snapshots, p.Window, band, cur.ATMStrike, res.BullishScore, res.BearishScore))

	und, ok := cur.UnderlyingLTP()
	if !ok {
		res.Reasons = append(res.Reasons, "underlying LTP missing")
		return res
	}

	if res.BullishScore >= p.MinScore {
		switch r, near := nearLevel(und, cur.Levels.ResistanceStrike); {
		case und < cur.ATMStrike:
			res.Reasons = append(res.Reasons, fmt.Sprintf("bullish score %.1f but underlying %.2f below ATM %.0f", res.BullishScore, und, cur.ATMStrike))
		case near:
			res.Reasons = append(res.Reasons, fmt.Sprintf("bullish score %.1f but underlying %.2f within %.0f pts of resistance %.0f", res.BullishScore, und, levelProximity, r))
		default:
			res.Action = models.BiasBuyCE
			res.Confidence = confidence(res.BullishScore)
			res.Reasons = append(res.Reasons, fmt.Sprintf("bullish score %.1f >= %.1f with underlying above ATM", res.BullishScore, p.MinScore))
			return res
		}
	}

	if res.BearishScore >= p.MinScore {
		switch s, near := nearLevel(und, cur.Levels.SupportStrike); {
		case und > cur.ATMStrike:
			res.Reasons = append(res.Reasons, fmt.Sprintf("bearish score %.1f but underlying %.2f above ATM %.0f", res.BearishScore, und, cur.ATMStrike))
		case near:
			res.Reasons = append(res.Reasons, fmt.Sprintf("bearish score %.1f but underlying %.2f within %.0f pts of support %.0f", res.BearishScore, und, levelProximity, s))
		default:
			res.Action = models.BiasBuyPE
			res.Confidence = confidence(res.BearishScore)
			res.Reasons = append(res.Reasons, fmt.Sprintf("bearish score %.1f >= %.1f with underlying below ATM", res.BearishScore, p.MinScore))
			return res
		}
	}

	if res.BullishScore < p.MinScore && res.BearishScore < p.MinScore {
		res.Reasons = append(res.Reasons, fmt.Sprintf("neither score reaches %.1f", p.MinScore))
	}
	return res
}

// scoreLeg returns (buildup, unwind) points for one leg.
func scoreLeg(l *models.OptionLeg) (buildup, unwind float64) {
	if l == nil || l.DOI == nil {
		return 0, 0
	}
	if l.DLTP != nil && *l.DLTP > 0 && *l.DOI > 0 {
		buildup = 1
	}
	if *l.DOI < 0 {
		unwind = 0.5
	}
	return buildup, unwind
}

func confidence(score float64) int {
	return int(math.Min(100, math.Round(40+score*10)))
}

func nearLevel(price float64, level *float64) (float64, bool) {
	if level == nil {
		return 0, false
	}
	return *level, math.Abs(price-*level) <= levelProximity
}

// DirectionSignal returns the directional lean used for selection: the manual
// override when set, else BULL when the underlying is at or above ATM. Returns
// an empty direction when the snapshot lacks the needed prices.
func DirectionSignal(snap *models.OptionChainSnapshot, override models.Direction) (models.Direction, []string) {
	if override == models.DirectionBull || override == models.DirectionBear {
		return override, []string{fmt.Sprintf("direction %s (manual override)", override)}
	}
	if snap == nil {
		return "", []string{"no snapshot for direction"}
	}
	und, ok := snap.UnderlyingLTP()
	if !ok {
		return "", []string{"underlying LTP missing, no direction"}
	}
	if !snap.HasATM() {
		return "", []string{"atm strike unusable, no direction"}
	}

	var reasons []string
	dir := models.DirectionBear
	if und >= snap.ATMStrike {
		dir = models.DirectionBull
	}
	reasons = append(reasons, fmt.Sprintf("direction %s: underlying %.2f vs ATM %.0f", dir, und, snap.ATMStrike))
	if r, ok := nearLevel(und, snap.Levels.ResistanceStrike); ok {
		reasons = append(reasons, fmt.Sprintf("underlying near resistance %.0f", r))
	}
	if s, ok := nearLevel(und, snap.Levels.SupportStrike); ok {
		reasons = append(reasons, fmt.Sprintf("underlying near support %.0f", s))
	}
	return dir, reasons
}
