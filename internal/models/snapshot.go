package models

import (
	"fmt"
	"math"
	"time"

	apperrors "nifty-options-engine/internal/errors"
)

// OptionLeg represents one side (CE or PE) of one strike at one point in time.
// Nil pointers mean the value was not available in the feed.
type OptionLeg struct {
	LTP           *float64 `json:"ltp" msgpack:"ltp"`
	OI            *int64   `json:"oi" msgpack:"oi"`
	Volume        *int64   `json:"volume" msgpack:"volume"`
	DOI           *int64   `json:"dOi" msgpack:"dOi"`
	DLTP          *float64 `json:"dLtp" msgpack:"dLtp"`
	DVol          *int64   `json:"dVol" msgpack:"dVol"`
	Token         string   `json:"token" msgpack:"token"`
	TradingSymbol string   `json:"tradingSymbol" msgpack:"tradingSymbol"`
}

// Price returns the leg LTP when present and usable.
func (l *OptionLeg) Price() (float64, bool) {
	if l == nil {
		return 0, false
	}
	return finite(l.LTP)
}

// SnapshotRow holds both legs of a single strike.
type SnapshotRow struct {
	Strike float64    `json:"strike" msgpack:"strike"`
	CE     *OptionLeg `json:"ce" msgpack:"ce"`
	PE     *OptionLeg `json:"pe" msgpack:"pe"`
}

// Leg returns the CE or PE leg of the row.
func (r *SnapshotRow) Leg(t OptionType) *OptionLeg {
	if t == OptionPE {
		return r.PE
	}
	return r.CE
}

// Underlying describes the index the chain is written on.
type Underlying struct {
	LTP           *float64 `json:"ltp" msgpack:"ltp"`
	Token         string   `json:"token" msgpack:"token"`
	TradingSymbol string   `json:"tradingSymbol" msgpack:"tradingSymbol"`
	VWAP          *float64 `json:"vwap,omitempty" msgpack:"vwap,omitempty"`
}

// Levels are the support and resistance strikes derived from the chain.
type Levels struct {
	SupportStrike    *float64 `json:"supportStrike" msgpack:"supportStrike"`
	ResistanceStrike *float64 `json:"resistanceStrike" msgpack:"resistanceStrike"`
}

// CandleRange is an externally supplied 5-minute extremum of the underlying.
type CandleRange struct {
	High float64 `json:"high" msgpack:"high"`
	Low  float64 `json:"low" msgpack:"low"`
}

// ITMOIStats summarises in-the-money open interest on each side.
type ITMOIStats struct {
	CallOI *int64 `json:"callOi,omitempty" msgpack:"callOi,omitempty"`
	PutOI  *int64 `json:"putOi,omitempty" msgpack:"putOi,omitempty"`
}

// OptionChainSnapshot is the per-tick market picture the engine reasons over.
type OptionChainSnapshot struct {
	ID         string        `json:"id" msgpack:"id"`
	Timestamp  time.Time     `json:"timestamp" msgpack:"timestamp"`
	Expiry     string        `json:"expiry" msgpack:"expiry"`
	Underlying Underlying    `json:"underlying" msgpack:"underlying"`
	ATMStrike  float64       `json:"atmStrike" msgpack:"atmStrike"`
	Levels     Levels        `json:"levels" msgpack:"levels"`
	ITMOIStats ITMOIStats    `json:"itmOiStats" msgpack:"itmOiStats"`
	Candle5m   *CandleRange  `json:"candle5m,omitempty" msgpack:"candle5m,omitempty"`
	Rows       []SnapshotRow `json:"rows" msgpack:"rows"`
}

// Validate checks the structural invariants of the snapshot: strikes unique and
// ascending, and a finite positive ATM strike.
func (s *OptionChainSnapshot) Validate() error {
	if !s.HasATM() {
		return apperrors.NewDataError("snapshot", s.ID, fmt.Sprintf("atm strike %v is not usable", s.ATMStrike), apperrors.ErrInsufficientData)
	}
	return s.ValidateStrikes()
}

// ValidateStrikes checks that strikes are finite, unique and ascending.
func (s *OptionChainSnapshot) ValidateStrikes() error {
	for i := range s.Rows {
		if k := s.Rows[i].Strike; math.IsNaN(k) || math.IsInf(k, 0) {
			return apperrors.NewDataError("snapshot", s.ID, fmt.Sprintf("strike at index %d is not finite", i), nil)
		}
		if i > 0 && s.Rows[i].Strike <= s.Rows[i-1].Strike {
			return apperrors.NewDataError("snapshot", s.ID,
				fmt.Sprintf("strikes not strictly ascending at index %d (%.0f after %.0f)", i, s.Rows[i].Strike, s.Rows[i-1].Strike), nil)
		}
	}
	return nil
}

// HasATM reports whether the ATM strike is a finite positive number.
func (s *OptionChainSnapshot) HasATM() bool {
	return !math.IsNaN(s.ATMStrike) && !math.IsInf(s.ATMStrike, 0) && s.ATMStrike > 0
}

// UnderlyingLTP returns the underlying price when present.
func (s *OptionChainSnapshot) UnderlyingLTP() (float64, bool) {
	return finite(s.Underlying.LTP)
}

// Row returns the row for a strike, or nil.
func (s *OptionChainSnapshot) Row(strike float64) *SnapshotRow {
	lo, hi := 0, len(s.Rows)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch k := s.Rows[mid].Strike; {
		case k == strike:
			return &s.Rows[mid]
		case k < strike:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return nil
}

// Leg returns the leg for (strike, type), or nil.
func (s *OptionChainSnapshot) Leg(strike float64, t OptionType) *OptionLeg {
	row := s.Row(strike)
	if row == nil {
		return nil
	}
	return row.Leg(t)
}

// LegLTP returns the LTP of (strike, type) when present.
func (s *OptionChainSnapshot) LegLTP(strike float64, t OptionType) (float64, bool) {
	return s.Leg(strike, t).Price()
}

// StrikeStep infers the strike interval as the smallest positive gap between
// consecutive strikes. Falls back to 50 when it cannot be determined.
func (s *OptionChainSnapshot) StrikeStep() float64 {
	step := 0.0
	for i := 1; i < len(s.Rows); i++ {
		gap := s.Rows[i].Strike - s.Rows[i-1].Strike
		if gap > 0 && (step == 0 || gap < step) {
			step = gap
		}
	}
	if step == 0 {
		return DefaultStrikeStep
	}
	return step
}

// DefaultStrikeStep is the NIFTY strike interval.
const DefaultStrikeStep = 50.0

func finite(p *float64) (float64, bool) {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return 0, false
	}
	return *p, true
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int64) *int64 { return &v }
