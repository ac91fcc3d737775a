package store

import (
	"context"

	"github.com/rs/zerolog"

	"nifty-options-engine/internal/models"
)

// Recorder persists engine events. Decisions are appended, trades are
// rewritten on open and on close.
type Recorder struct {
	store  DataStore
	logger zerolog.Logger
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store DataStore, logger zerolog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger.With().Str("component", "recorder").Logger()}
}

// Observe implements engine.Observer.
func (r *Recorder) Observe(ctx context.Context, ev models.Event) {
	switch ev.Kind {
	case models.EventDecision:
		if ev.Decision == nil {
			return
		}
		if err := r.store.SaveDecision(ctx, ev.Decision); err != nil {
			r.logger.Error().Err(err).Str("action", string(ev.Decision.Action)).Msg("failed to persist decision")
		}
	case models.EventTradeOpened, models.EventTradeClosed:
		if ev.Trade == nil {
			return
		}
		if err := r.store.SaveTrade(ctx, ev.Trade); err != nil {
			r.logger.Error().Err(err).Str("trade_id", ev.Trade.ID).Msg("failed to persist trade")
		}
	}
}
