package models

import "time"

// EngineConfig is the operator-adjustable configuration read by every tick.
type EngineConfig struct {
	Mode            TradingMode `json:"mode" mapstructure:"mode"`
	ExitStyle       ExitStyle   `json:"exitStyle" mapstructure:"exit_style"`
	TargetPct       float64     `json:"targetPct" mapstructure:"target_pct"`
	Quantity        int         `json:"quantity" mapstructure:"quantity"`
	Product         ProductType `json:"product" mapstructure:"product"`
	Exchange        Exchange    `json:"exchange" mapstructure:"exchange"`
	MaxTradesPerDay int         `json:"maxTradesPerDay" mapstructure:"max_trades_per_day"`
	Direction       Direction   `json:"direction" mapstructure:"direction"`
	LiveArmed       bool        `json:"liveArmed" mapstructure:"armed"`
	HistoryLimit    int         `json:"historyLimit" mapstructure:"history_limit"`
}

const (
	MinTargetPct        = 20.0
	MaxTargetPct        = 100.0
	DefaultHistoryLimit = 50
)

// DefaultEngineConfig returns the engine defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Mode:            ModeAuto,
		ExitStyle:       ExitTrailing,
		TargetPct:       30,
		Quantity:        75,
		Product:         ProductMIS,
		Exchange:        NFO,
		MaxTradesPerDay: 3,
		Direction:       DirectionAuto,
		HistoryLimit:    DefaultHistoryLimit,
	}
}

// Normalize fills empty fields with defaults and clamps the target percentage.
func (c EngineConfig) Normalize() EngineConfig {
	def := DefaultEngineConfig()
	if _, ok := ParseTradingMode(string(c.Mode)); !ok {
		c.Mode = def.Mode
	}
	if _, ok := ParseExitStyle(string(c.ExitStyle)); !ok {
		c.ExitStyle = def.ExitStyle
	}
	if _, ok := ParseDirection(string(c.Direction)); !ok {
		c.Direction = def.Direction
	}
	switch {
	case c.TargetPct < MinTargetPct:
		c.TargetPct = MinTargetPct
	case c.TargetPct > MaxTargetPct:
		c.TargetPct = MaxTargetPct
	}
	if c.Quantity <= 0 {
		c.Quantity = def.Quantity
	}
	if c.Product == "" {
		c.Product = def.Product
	}
	if c.Exchange == "" {
		c.Exchange = def.Exchange
	}
	if c.MaxTradesPerDay < 0 {
		c.MaxTradesPerDay = 0
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	return c
}

// EngineState is the full mutable state of one engine instance.
type EngineState struct {
	Config       EngineConfig `json:"config"`
	CurrentTrade *Trade       `json:"currentTrade"`
	TradeHistory []Trade      `json:"tradeHistory"`
	TradesToday  int          `json:"tradesToday"`
	TradesDate   string       `json:"tradesDate"`
	DayOpenPrice *float64     `json:"dayOpenPrice"`
	ActiveMode   TradingMode  `json:"activeMode"`
	LastDecision *Decision    `json:"lastDecision"`
}

// Clone returns a deep copy suitable for handing to readers.
func (s *EngineState) Clone() EngineState {
	c := *s
	c.CurrentTrade = s.CurrentTrade.Clone()
	c.TradeHistory = make([]Trade, len(s.TradeHistory))
	for i := range s.TradeHistory {
		c.TradeHistory[i] = *s.TradeHistory[i].Clone()
	}
	if s.DayOpenPrice != nil {
		c.DayOpenPrice = Float(*s.DayOpenPrice)
	}
	c.LastDecision = s.LastDecision.Clone()
	return c
}

// EventKind identifies what an engine event carries.
type EventKind string

const (
	EventDecision      EventKind = "DECISION"
	EventTradeOpened   EventKind = "TRADE_OPENED"
	EventTradeClosed   EventKind = "TRADE_CLOSED"
	EventOrderPlaced   EventKind = "ORDER_PLACED"
	EventOrderFailed   EventKind = "ORDER_FAILED"
	EventConfigChanged EventKind = "CONFIG_CHANGED"
)

// OrderEvent describes a broker order submitted by the live stepper.
type OrderEvent struct {
	OrderID       string      `json:"orderId,omitempty"`
	TradeID       string      `json:"tradeId,omitempty"`
	Side          OrderSide   `json:"side"`
	TradingSymbol string      `json:"tradingSymbol"`
	Quantity      int         `json:"quantity"`
	Product       ProductType `json:"product"`
	Exchange      Exchange    `json:"exchange"`
	Remarks       string      `json:"remarks,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// Event is emitted by the engine after each state-changing operation.
type Event struct {
	Kind      EventKind     `json:"kind"`
	Timestamp time.Time     `json:"timestamp"`
	Decision  *Decision     `json:"decision,omitempty"`
	Trade     *Trade        `json:"trade,omitempty"`
	Order     *OrderEvent   `json:"order,omitempty"`
	Config    *EngineConfig `json:"config,omitempty"`
}
