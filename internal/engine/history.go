package engine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"nifty-options-engine/internal/models"
)

// Lookback windows used by the entry and mode rules.
const (
	expiryLookback     = 5 * time.Minute
	breakoutWindow     = 5 * time.Minute
	atmConfirmLookback = 2 * time.Minute
	rallyLookback      = 10 * time.Minute
)

// latest returns the newest snapshot of the history, or nil.
func latest(history []models.OptionChainSnapshot) *models.OptionChainSnapshot {
	if len(history) == 0 {
		return nil
	}
	return &history[len(history)-1]
}

// snapshotAtOrBefore returns the newest snapshot not after target, falling
// back to the oldest snapshot when none qualifies. History is ascending.
func snapshotAtOrBefore(history []models.OptionChainSnapshot, target time.Time) *models.OptionChainSnapshot {
	if len(history) == 0 {
		return nil
	}
	i := sort.Search(len(history), func(i int) bool {
		return history[i].Timestamp.After(target)
	})
	if i == 0 {
		return &history[0]
	}
	return &history[i-1]
}

// priceMove is the change of one instrument's LTP over a lookback.
type priceMove struct {
	From     float64
	To       float64
	Pct      float64
	FromTime time.Time
}

// legMove measures the percentage change of inst between the snapshot at or
// before now-lookback and the latest snapshot. The string explains a miss.
func legMove(history []models.OptionChainSnapshot, inst Instrument, lookback time.Duration) (priceMove, string, bool) {
	cur := latest(history)
	if cur == nil {
		return priceMove{}, "no snapshots", false
	}
	to, ok := cur.LegLTP(inst.Strike, inst.OptType)
	if !ok {
		return priceMove{}, fmt.Sprintf("no current LTP for %s", inst), false
	}
	base := snapshotAtOrBefore(history, cur.Timestamp.Add(-lookback))
	from, ok := base.LegLTP(inst.Strike, inst.OptType)
	if !ok {
		return priceMove{}, fmt.Sprintf("no LTP for %s at %s", inst, base.Timestamp.Format("15:04:05")), false
	}
	if from <= 0 {
		return priceMove{}, fmt.Sprintf("base LTP for %s is %.2f", inst, from), false
	}
	return priceMove{
		From:     from,
		To:       to,
		Pct:      (to - from) / from * 100,
		FromTime: base.Timestamp,
	}, "", true
}

// underlyingRange returns the trailing high/low of the underlying. A candle
// extremum on the latest snapshot wins; otherwise snapshots strictly inside
// (now-window, now) are scanned.
func underlyingRange(history []models.OptionChainSnapshot, window time.Duration) (lo, hi float64, source string, ok bool) {
	cur := latest(history)
	if cur == nil {
		return 0, 0, "", false
	}
	if c := cur.Candle5m; c != nil && c.High > 0 && c.Low > 0 {
		return c.Low, c.High, "candle", true
	}

	start := cur.Timestamp.Add(-window)
	lo, hi = math.Inf(1), math.Inf(-1)
	for i := range history[:len(history)-1] {
		s := &history[i]
		if !s.Timestamp.After(start) || !s.Timestamp.Before(cur.Timestamp) {
			continue
		}
		if u, ok := s.UnderlyingLTP(); ok {
			lo = math.Min(lo, u)
			hi = math.Max(hi, u)
		}
	}
	if math.IsInf(lo, 1) {
		return 0, 0, "", false
	}
	return lo, hi, "history", true
}
