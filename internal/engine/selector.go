package engine

import (
	"fmt"

	"nifty-options-engine/internal/models"
)

// Instrument is a concrete strike and option type.
type Instrument struct {
	Strike  float64
	OptType models.OptionType
}

func (i Instrument) String() string {
	return fmt.Sprintf("%.0f%s", i.Strike, i.OptType)
}

// SelectInstrument maps (mode, direction) to the strike to trade. EXPIRY
// trades ATM, NORMAL one strike OTM, BIG_RALLY two strikes OTM. Returns nil
// when the ATM strike is unusable or the direction is not BULL/BEAR.
func SelectInstrument(mode models.TradingMode, dir models.Direction, snap *models.OptionChainSnapshot) *Instrument {
	if snap == nil || !snap.HasATM() {
		return nil
	}
	if dir != models.DirectionBull && dir != models.DirectionBear {
		return nil
	}

	var otm float64
	switch mode {
	case models.ModeExpiry:
		otm = 0
	case models.ModeBigRally:
		otm = 2
	default:
		otm = 1
	}

	offset := otm * snap.StrikeStep()
	strike := snap.ATMStrike + offset
	if dir == models.DirectionBear {
		strike = snap.ATMStrike - offset
	}
	return &Instrument{Strike: strike, OptType: models.OptionTypeFor(dir)}
}
