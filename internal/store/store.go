// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"nifty-options-engine/internal/models"
)

// DataStore defines the interface for engine persistence.
type DataStore interface {
	// Trades
	SaveTrade(ctx context.Context, trade *models.Trade) error
	GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error)
	GetTrade(ctx context.Context, id string) (*models.Trade, error)

	// Decisions
	SaveDecision(ctx context.Context, decision *models.Decision) error
	GetDecisions(ctx context.Context, filter DecisionFilter) ([]models.Decision, error)

	// Snapshot archive
	SaveSnapshot(ctx context.Context, snap *models.OptionChainSnapshot) error
	GetSnapshots(ctx context.Context, filter SnapshotFilter) ([]models.OptionChainSnapshot, error)

	// Lifecycle
	Close() error
}

// TradeFilter represents filters for querying trades.
type TradeFilter struct {
	Status    models.TradeStatus
	Mode      models.TradingMode
	StartDate time.Time
	EndDate   time.Time
	Live      *bool
	Limit     int
}

// DecisionFilter represents filters for querying decisions.
type DecisionFilter struct {
	Action    models.Action
	TradeID   string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

// SnapshotFilter selects archived snapshots by timestamp.
type SnapshotFilter struct {
	From  time.Time
	To    time.Time
	Limit int
}

// TradeSummary aggregates closed trades.
type TradeSummary struct {
	Trades   int                       `json:"trades"`
	Winners  int                       `json:"winners"`
	Losers   int                       `json:"losers"`
	TotalPnL float64                   `json:"totalPnl"`
	BestPnL  float64                   `json:"bestPnl"`
	WorstPnL float64                   `json:"worstPnl"`
	ByReason map[models.ExitReason]int `json:"byReason"`
}

// Summarize aggregates the closed trades in the slice.
func Summarize(trades []models.Trade) TradeSummary {
	s := TradeSummary{ByReason: make(map[models.ExitReason]int)}
	for _, t := range trades {
		if t.Status != models.TradeClosed || t.PnL == nil {
			continue
		}
		pnl := *t.PnL
		if s.Trades == 0 || pnl > s.BestPnL {
			s.BestPnL = pnl
		}
		if s.Trades == 0 || pnl < s.WorstPnL {
			s.WorstPnL = pnl
		}
		s.Trades++
		s.TotalPnL += pnl
		switch {
		case pnl > 0:
			s.Winners++
		case pnl < 0:
			s.Losers++
		}
		s.ByReason[t.ExitReason]++
	}
	return s
}
