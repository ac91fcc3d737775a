package models

import "time"

// Action is the outcome of one engine tick.
type Action string

const (
	ActionEnter   Action = "ENTER"
	ActionHold    Action = "HOLD"
	ActionExit    Action = "EXIT"
	ActionNoTrade Action = "NO_TRADE"
	ActionError   Action = "ERROR"
)

// Decision is the audit record of a single tick.
type Decision struct {
	Timestamp time.Time   `json:"timestamp"`
	Mode      TradingMode `json:"mode"`
	Action    Action      `json:"action"`
	Reasons   []string    `json:"reasons"`
	TradeID   string      `json:"tradeId,omitempty"`
	// Raw carries the broker response or error text for ERROR decisions.
	Raw any `json:"raw,omitempty"`
	// Bias is the OI bias score at this tick, informational only.
	Bias *BiasResult `json:"bias,omitempty"`
}

// Clone returns a copy of the decision with its own reason slice.
func (d *Decision) Clone() *Decision {
	if d == nil {
		return nil
	}
	c := *d
	c.Reasons = append([]string(nil), d.Reasons...)
	return &c
}

// BiasAction is the recommendation of the OI bias scorer.
type BiasAction string

const (
	BiasBuyCE   BiasAction = "BUY_CE"
	BiasBuyPE   BiasAction = "BUY_PE"
	BiasNoTrade BiasAction = "NO_TRADE"
)

// BiasResult is the scored directional lean over a window of snapshots.
type BiasResult struct {
	Action       BiasAction `json:"action"`
	Confidence   int        `json:"confidence"`
	BullishScore float64    `json:"bullishScore"`
	BearishScore float64    `json:"bearishScore"`
	CEBuildup    float64    `json:"ceBuildup"`
	PEBuildup    float64    `json:"peBuildup"`
	CEUnwind     float64    `json:"ceUnwind"`
	PEUnwind     float64    `json:"peUnwind"`
	Snapshots    int        `json:"snapshots"`
	Reasons      []string   `json:"reasons"`
}
