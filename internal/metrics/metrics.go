// Package metrics exposes engine activity as Prometheus metrics:
//
//	engine_decisions_total{action}       decisions by action
//	engine_orders_total{side,outcome}    orders by side, outcome placed|failed
//	engine_exits_total{reason}           closed trades by exit reason
//	engine_trades_today                  entries counted toward today's cap
//	engine_open_position                 1 while a trade is open or exiting
//	engine_realized_pnl                  realized P&L since process start
//	engine_live_armed                    1 while live entries are armed
package metrics

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nifty-options-engine/internal/models"
	"nifty-options-engine/pkg/utils"
)

// Collector holds the engine metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	decisions    *prometheus.CounterVec
	orders       *prometheus.CounterVec
	exits        *prometheus.CounterVec
	tradesToday  prometheus.Gauge
	openPosition prometheus.Gauge
	realizedPnL  prometheus.Gauge
	liveArmed    prometheus.Gauge

	mu       sync.Mutex
	day      string
	dayCount int
}

// New creates a collector and registers its metrics.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_decisions_total",
				Help: "Decisions recorded by action",
			},
			[]string{"action"},
		),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_orders_total",
				Help: "Orders submitted by side and outcome",
			},
			[]string{"side", "outcome"},
		),
		// TARGET_HIT_<pct> is folded into one TARGET_HIT series.
		exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_exits_total",
				Help: "Closed trades by exit reason",
			},
			[]string{"reason"},
		),
		tradesToday: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_trades_today",
			Help: "Entries counted toward the daily cap",
		}),
		openPosition: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_open_position",
			Help: "1 while a trade is open",
		}),
		realizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_realized_pnl",
			Help: "Realized P&L of closed trades since start",
		}),
		liveArmed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_live_armed",
			Help: "1 while live entries are armed",
		}),
	}

	c.registry.MustRegister(c.decisions, c.orders, c.exits, c.tradesToday, c.openPosition, c.realizedPnL, c.liveArmed)
	return c
}

// Registry returns the registry the metrics are registered on.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Observe implements engine.Observer.
func (c *Collector) Observe(_ context.Context, ev models.Event) {
	switch ev.Kind {
	case models.EventDecision:
		if ev.Decision != nil {
			c.decisions.WithLabelValues(string(ev.Decision.Action)).Inc()
			c.rollDay(ev.Timestamp)
		}

	case models.EventOrderPlaced, models.EventOrderFailed:
		if ev.Order == nil {
			return
		}
		outcome := "placed"
		if ev.Kind == models.EventOrderFailed {
			outcome = "failed"
		}
		c.orders.WithLabelValues(string(ev.Order.Side), outcome).Inc()

	case models.EventTradeOpened:
		c.openPosition.Set(1)
		c.rollDay(ev.Timestamp)
		c.mu.Lock()
		c.dayCount++
		c.tradesToday.Set(float64(c.dayCount))
		c.mu.Unlock()

	case models.EventTradeClosed:
		c.openPosition.Set(0)
		if ev.Trade == nil {
			return
		}
		c.exits.WithLabelValues(exitLabel(ev.Trade.ExitReason)).Inc()
		if ev.Trade.PnL != nil {
			c.realizedPnL.Add(*ev.Trade.PnL)
		}

	case models.EventConfigChanged:
		if ev.Config == nil {
			return
		}
		if ev.Config.LiveArmed {
			c.liveArmed.Set(1)
		} else {
			c.liveArmed.Set(0)
		}
	}
}

func (c *Collector) rollDay(ts time.Time) {
	if ts.IsZero() {
		return
	}
	key := utils.DayKey(ts)
	c.mu.Lock()
	defer c.mu.Unlock()
	if key != c.day {
		c.day = key
		c.dayCount = 0
		c.tradesToday.Set(0)
	}
}

func exitLabel(r models.ExitReason) string {
	if strings.HasPrefix(string(r), "TARGET_HIT") {
		return "TARGET_HIT"
	}
	return string(r)
}
