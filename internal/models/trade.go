package models

import (
	"fmt"
	"time"
)

// TradeStatus is the lifecycle state of a trade.
type TradeStatus string

const (
	TradeOpen    TradeStatus = "OPEN"
	TradeExiting TradeStatus = "EXITING" // live only: exit order submitted
	TradeClosed  TradeStatus = "CLOSED"
)

// ExitReason is the closed set of reasons a trade can be closed for.
type ExitReason string

const (
	ExitFalseBreakout ExitReason = "FALSE_BREAKOUT"
	ExitSLHit         ExitReason = "SL_HIT"
	ExitTrailFromPeak ExitReason = "TRAIL_FROM_PEAK"
	ExitForced        ExitReason = "FORCED"
)

// TargetHit returns the exit reason for a target exit at pct percent.
func TargetHit(pct float64) ExitReason {
	return ExitReason(fmt.Sprintf("TARGET_HIT_%g", pct))
}

// Trade represents the single position under management.
type Trade struct {
	ID             string      `json:"id"`
	Status         TradeStatus `json:"status"`
	Mode           TradingMode `json:"mode"`
	Strike         float64     `json:"strike"`
	OptType        OptionType  `json:"optType"`
	TradingSymbol  string      `json:"tradingSymbol,omitempty"`
	Quantity       int         `json:"quantity"`
	EntryPrice     float64     `json:"entryPrice"`
	EntryTimestamp time.Time   `json:"entryTimestamp"`
	PeakPrice      float64     `json:"peakPrice"`
	StopLossPrice  float64     `json:"stopLossPrice"`
	ExitPrice      *float64    `json:"exitPrice,omitempty"`
	ExitTimestamp  *time.Time  `json:"exitTimestamp,omitempty"`
	ExitReason     ExitReason  `json:"exitReason,omitempty"`
	ExitNote       string      `json:"exitNote,omitempty"`
	PnL            *float64    `json:"pnl,omitempty"`
	BreakoutLevel  *float64    `json:"breakoutLevel,omitempty"`
	EntryOrderID   string      `json:"entryOrderId,omitempty"`
	ExitOrderID    string      `json:"exitOrderId,omitempty"`
	FillConfirmed  bool        `json:"fillConfirmed"`
	Live           bool        `json:"live"`
}

// Active reports whether the trade still counts as the open position.
func (t *Trade) Active() bool {
	return t != nil && t.Status != TradeClosed
}

// Clone returns a deep copy of the trade.
func (t *Trade) Clone() *Trade {
	if t == nil {
		return nil
	}
	c := *t
	if t.ExitPrice != nil {
		c.ExitPrice = Float(*t.ExitPrice)
	}
	if t.ExitTimestamp != nil {
		ts := *t.ExitTimestamp
		c.ExitTimestamp = &ts
	}
	if t.PnL != nil {
		c.PnL = Float(*t.PnL)
	}
	if t.BreakoutLevel != nil {
		c.BreakoutLevel = Float(*t.BreakoutLevel)
	}
	return &c
}

// Label is a short human-readable instrument description.
func (t *Trade) Label() string {
	if t.TradingSymbol != "" {
		return t.TradingSymbol
	}
	return fmt.Sprintf("%.0f%s", t.Strike, t.OptType)
}
