package engine

import (
	"context"
	"fmt"
	"time"

	"nifty-options-engine/internal/models"
	"nifty-options-engine/pkg/utils"
)

var sessionStart = time.Date(2024, 10, 17, 10, 0, 0, 0, utils.IndiaLocation)

type legKey struct {
	strike float64
	typ    models.OptionType
}

// chainSpec describes one synthetic snapshot: strikes 22800..23200 around
// the given ATM, every leg priced at base unless overridden.
type chainSpec struct {
	ts      time.Time
	und     float64
	atm     float64
	base    float64
	prices  map[legKey]float64
	noSym   bool
	candle  *models.CandleRange
	support *float64
	resist  *float64
}

func (c chainSpec) build() models.OptionChainSnapshot {
	if c.base == 0 {
		c.base = 100
	}
	s := models.OptionChainSnapshot{
		ID:         fmt.Sprintf("snap-%d", c.ts.Unix()),
		Timestamp:  c.ts,
		Expiry:     "2024-10-24",
		Underlying: models.Underlying{LTP: models.Float(c.und), TradingSymbol: "NIFTY 50"},
		ATMStrike:  c.atm,
		Levels:     models.Levels{SupportStrike: c.support, ResistanceStrike: c.resist},
		Candle5m:   c.candle,
	}
	for k := 22800.0; k <= 23200; k += 50 {
		row := models.SnapshotRow{Strike: k}
		for _, typ := range []models.OptionType{models.OptionCE, models.OptionPE} {
			price := c.base
			if p, ok := c.prices[legKey{k, typ}]; ok {
				price = p
			}
			leg := &models.OptionLeg{LTP: models.Float(price), OI: models.Int(1000)}
			if !c.noSym {
				leg.TradingSymbol = fmt.Sprintf("NIFTY24O24%.0f%s", k, typ)
			}
			if typ == models.OptionCE {
				row.CE = leg
			} else {
				row.PE = leg
			}
		}
		s.Rows = append(s.Rows, row)
	}
	return s
}

// breakoutHistory returns eleven snapshots 30s apart where the underlying
// sits at 23000 and then breaks to 23020 with the ATM call up 15% over two
// minutes. The NORMAL entry is 23050CE at entryLTP.
func breakoutHistory(entryLTP float64) []models.OptionChainSnapshot {
	var h []models.OptionChainSnapshot
	for i := 0; i <= 10; i++ {
		spec := chainSpec{ts: sessionStart.Add(time.Duration(i) * 30 * time.Second), und: 23000, atm: 23000}
		if i == 10 {
			spec.und = 23020
			spec.prices = map[legKey]float64{
				{23000, models.OptionCE}: 115,
				{23050, models.OptionCE}: entryLTP,
			}
		}
		h = append(h, spec.build())
	}
	return h
}

// priced appends a snapshot 30s after the last one with the given underlying
// and 23050CE price.
func priced(h []models.OptionChainSnapshot, und, ltp float64) []models.OptionChainSnapshot {
	last := h[len(h)-1].Timestamp
	s := chainSpec{
		ts:     last.Add(30 * time.Second),
		und:    und,
		atm:    23000,
		prices: map[legKey]float64{{23050, models.OptionCE}: ltp},
	}.build()
	out := append([]models.OptionChainSnapshot(nil), h...)
	return append(out, s)
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("trade-%d", n)
	}
}

func noSleep(context.Context, time.Duration) error { return nil }
