package engine

import (
	"time"

	"nifty-options-engine/internal/models"
	"nifty-options-engine/pkg/utils"
)

// rollDay resets the daily counters when ts falls on a new IST day.
func rollDay(st *models.EngineState, ts time.Time) bool {
	key := utils.DayKey(ts)
	if key == st.TradesDate {
		return false
	}
	st.TradesDate = key
	st.TradesToday = 0
	st.DayOpenPrice = nil
	return true
}

// captureDayOpen records the first underlying price seen on the day.
func captureDayOpen(st *models.EngineState, snap *models.OptionChainSnapshot) bool {
	if st.DayOpenPrice != nil {
		return false
	}
	if und, ok := snap.UnderlyingLTP(); ok && und > 0 {
		st.DayOpenPrice = models.Float(und)
		return true
	}
	return false
}

// capReached reports whether the daily trade limit is used up.
func capReached(st *models.EngineState) bool {
	return st.TradesToday >= st.Config.MaxTradesPerDay
}

// archive moves the closed current trade into the bounded history.
func archive(st *models.EngineState) {
	t := st.CurrentTrade
	if t == nil {
		return
	}
	st.TradeHistory = append(st.TradeHistory, *t)
	if limit := st.Config.HistoryLimit; limit > 0 && len(st.TradeHistory) > limit {
		drop := len(st.TradeHistory) - limit
		st.TradeHistory = append([]models.Trade(nil), st.TradeHistory[drop:]...)
	}
	st.CurrentTrade = nil
}
