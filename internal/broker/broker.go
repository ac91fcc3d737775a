// Package broker provides broker integration interfaces and implementations.
package broker

import (
	"context"
	"time"

	"nifty-options-engine/internal/models"
)

// OrderPlacer submits orders to a broker.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
}

// TradebookReader lists the day's executed trades.
type TradebookReader interface {
	GetTradebook(ctx context.Context) ([]TradebookEntry, error)
}

// Broker is a client with both order capabilities.
type Broker interface {
	OrderPlacer
	TradebookReader
}

// OrderRequest represents an order to be placed.
type OrderRequest struct {
	Side          models.OrderSide
	Product       models.ProductType
	Exchange      models.Exchange
	TradingSymbol string
	Quantity      int
	OrderType     models.OrderType
	Remarks       string
}

// OrderResult represents the broker acknowledgment of an order.
type OrderResult struct {
	OK      bool
	OrderID string
	// Raw is the broker payload, kept for diagnosing rejected orders.
	Raw any
}

// TradebookEntry represents one fill in the broker tradebook.
type TradebookEntry struct {
	OrderID       string
	TradeID       string
	TradingSymbol string
	Exchange      string
	Side          models.OrderSide
	Quantity      int
	AveragePrice  float64
	FilledAt      time.Time
}

// FindFill returns the first tradebook entry for orderID.
func FindFill(entries []TradebookEntry, orderID string) (TradebookEntry, bool) {
	for _, e := range entries {
		if e.OrderID == orderID {
			return e, true
		}
	}
	return TradebookEntry{}, false
}
