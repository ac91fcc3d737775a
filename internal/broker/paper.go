package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nifty-options-engine/internal/models"
)

// PaperBroker simulates order placement and fills for dry runs of the live
// stepper. Market orders fill at the last price seen for the trading symbol.
type PaperBroker struct {
	positions  map[string]int
	tradebook  []TradebookEntry
	priceCache map[string]float64

	orderCounter int

	// Scripted failure modes for exercising error paths.
	rejectNext   int
	withholdNext int
	failNext     error

	now func() time.Time
	mu  sync.RWMutex
}

// PaperBrokerConfig holds configuration for paper broker.
type PaperBrokerConfig struct {
	// Clock overrides time.Now for fill timestamps and order ids.
	Clock func() time.Time
}

// NewPaperBroker creates a new paper trading broker.
func NewPaperBroker(cfg PaperBrokerConfig) *PaperBroker {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &PaperBroker{
		positions:  make(map[string]int),
		priceCache: make(map[string]float64),
		now:        now,
	}
}

// PlaceOrder simulates a MARKET order.
func (p *PaperBroker) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failNext != nil {
		err := p.failNext
		p.failNext = nil
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	if req.TradingSymbol == "" || req.Quantity <= 0 {
		return &OrderResult{OK: false, Raw: map[string]any{
			"status":  "REJECTED",
			"message": fmt.Sprintf("invalid order: symbol=%q qty=%d", req.TradingSymbol, req.Quantity),
		}}, nil
	}

	if p.rejectNext > 0 {
		p.rejectNext--
		return &OrderResult{OK: false, Raw: map[string]any{
			"status":  "REJECTED",
			"message": "paper broker scripted rejection",
		}}, nil
	}

	p.orderCounter++
	now := p.now()
	orderID := fmt.Sprintf("PAPER_%d_%d", now.Unix(), p.orderCounter)

	price, ok := p.priceCache[req.TradingSymbol]
	if !ok {
		return &OrderResult{OK: false, Raw: map[string]any{
			"status":  "REJECTED",
			"message": "no price available for " + req.TradingSymbol,
		}}, nil
	}

	if p.withholdNext > 0 {
		p.withholdNext--
	} else {
		p.tradebook = append(p.tradebook, TradebookEntry{
			OrderID:       orderID,
			TradeID:       fmt.Sprintf("%s-T", orderID),
			TradingSymbol: req.TradingSymbol,
			Exchange:      string(req.Exchange),
			Side:          req.Side,
			Quantity:      req.Quantity,
			AveragePrice:  price,
			FilledAt:      now,
		})
	}

	qty := req.Quantity
	if req.Side == models.OrderSideSell {
		qty = -qty
	}
	p.positions[req.TradingSymbol] += qty

	return &OrderResult{
		OK:      true,
		OrderID: orderID,
		Raw:     map[string]any{"status": "COMPLETE", "order_id": orderID, "price": price},
	}, nil
}

// GetTradebook returns all simulated fills.
func (p *PaperBroker) GetTradebook(ctx context.Context) ([]TradebookEntry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]TradebookEntry(nil), p.tradebook...), nil
}

// UpdatePrice updates the simulated price for a trading symbol.
func (p *PaperBroker) UpdatePrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.priceCache[symbol] = price
}

// UpdatePrices caches the LTP of every leg in the snapshot.
func (p *PaperBroker) UpdatePrices(s *models.OptionChainSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range s.Rows {
		for _, leg := range []*models.OptionLeg{s.Rows[i].CE, s.Rows[i].PE} {
			if price, ok := leg.Price(); ok && leg.TradingSymbol != "" {
				p.priceCache[leg.TradingSymbol] = price
			}
		}
	}
}

// Position returns the simulated net quantity for a symbol.
func (p *PaperBroker) Position(symbol string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positions[symbol]
}

// RejectNext makes the next n orders come back rejected.
func (p *PaperBroker) RejectNext(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectNext = n
}

// WithholdFills acknowledges the next n orders without a tradebook entry.
func (p *PaperBroker) WithholdFills(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.withholdNext = n
}

// FailNext makes the next order call return err.
func (p *PaperBroker) FailNext(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = err
}

// Reset clears orders, fills and positions.
func (p *PaperBroker) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions = make(map[string]int)
	p.tradebook = nil
	p.orderCounter = 0
	p.rejectNext, p.withholdNext, p.failNext = 0, 0, nil
}

var _ Broker = (*PaperBroker)(nil)
