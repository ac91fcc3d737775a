// Package models provides domain models for the options decision engine.
package models

// Exchange represents a stock exchange segment.
type Exchange string

const (
	NSE Exchange = "NSE"
	NFO Exchange = "NFO" // F&O
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
)

// ProductType represents the product type of an order.
type ProductType string

const (
	ProductMIS  ProductType = "MIS"  // Intraday
	ProductNRML ProductType = "NRML" // F&O Normal
)

// OptionType is the call/put side of a strike.
type OptionType string

const (
	OptionCE OptionType = "CE"
	OptionPE OptionType = "PE"
)

// TradingMode is the risk regime governing selection and exits.
type TradingMode string

const (
	ModeAuto     TradingMode = "AUTO"
	ModeNormal   TradingMode = "NORMAL"
	ModeBigRally TradingMode = "BIG_RALLY"
	ModeExpiry   TradingMode = "EXPIRY"
)

// ParseTradingMode parses a mode name, reporting whether it is known.
func ParseTradingMode(s string) (TradingMode, bool) {
	switch m := TradingMode(s); m {
	case ModeAuto, ModeNormal, ModeBigRally, ModeExpiry:
		return m, true
	}
	return "", false
}

// ExitStyle selects between trailing-stop and fixed-target exits.
type ExitStyle string

const (
	ExitTrailing ExitStyle = "TRAILING"
	ExitTarget   ExitStyle = "TARGET"
)

// ParseExitStyle parses an exit style name.
func ParseExitStyle(s string) (ExitStyle, bool) {
	switch e := ExitStyle(s); e {
	case ExitTrailing, ExitTarget:
		return e, true
	}
	return "", false
}

// Direction is the directional lean used for instrument selection.
type Direction string

const (
	DirectionAuto Direction = "AUTO"
	DirectionBull Direction = "BULL"
	DirectionBear Direction = "BEAR"
)

// ParseDirection parses a direction name.
func ParseDirection(s string) (Direction, bool) {
	switch d := Direction(s); d {
	case DirectionAuto, DirectionBull, DirectionBear:
		return d, true
	}
	return "", false
}

// OptionTypeFor maps a direction to the option type bought for it.
func OptionTypeFor(d Direction) OptionType {
	if d == DirectionBear {
		return OptionPE
	}
	return OptionCE
}
