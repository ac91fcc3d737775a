// Package audit writes an append-only JSON-lines trail of engine decisions,
// orders, trade lifecycle changes and operator configuration changes.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	apperrors "nifty-options-engine/internal/errors"
	"nifty-options-engine/internal/models"
)

// EventType represents the type of audit event.
type EventType string

const (
	EventDecision      EventType = "DECISION"
	EventOrderPlaced   EventType = "ORDER_PLACED"
	EventOrderRejected EventType = "ORDER_REJECTED"
	EventTradeOpened   EventType = "TRADE_OPENED"
	EventTradeClosed   EventType = "TRADE_CLOSED"
	EventConfigChanged EventType = "CONFIG_CHANGED"
	EventLogin         EventType = "LOGIN"
)

// Event represents a single audit log entry.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	TickTime  *time.Time     `json:"tick_time,omitempty"`
	EventType EventType      `json:"event_type"`
	UserID    string         `json:"user_id,omitempty"`
	TradeID   string         `json:"trade_id,omitempty"`
	Symbol    string         `json:"symbol,omitempty"`
	OrderID   string         `json:"order_id,omitempty"`
	Action    string         `json:"action,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Success   bool           `json:"success"`
	ErrorMsg  string         `json:"error,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
}

// Config holds audit logger configuration.
type Config struct {
	Enabled    bool   `mapstructure:"enabled"`
	Dir        string `mapstructure:"dir"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns the default audit configuration.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Enabled:    true,
		Dir:        filepath.Join(home, ".config", "nifty-options-engine", "audit"),
		MaxSize:    50,
		MaxBackups: 30,
		MaxAge:     365,
		Compress:   true,
	}
}

// Logger handles audit logging.
type Logger struct {
	writer    io.WriteCloser
	mu        sync.Mutex
	sessionID string
	userID    string
	now       func() time.Time

	OnError func(error)
}

// New creates an audit logger writing to <dir>/audit.log with rotation.
func New(cfg Config) (*Logger, error) {
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, apperrors.Wrap(err, "creating audit directory")
	}

	writer := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, "audit.log"),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	return NewWithWriter(writer), nil
}

// NewWithWriter creates an audit logger on an arbitrary writer.
func NewWithWriter(w io.WriteCloser) *Logger {
	return &Logger{
		writer:    w,
		sessionID: uuid.NewString(),
		now:       time.Now,
	}
}

// SessionID returns the id stamped on every event of this process.
func (l *Logger) SessionID() string { return l.sessionID }

// SetUserID sets the user ID for audit events.
func (l *Logger) SetUserID(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.userID = userID
}

// Log writes one audit event.
func (l *Logger) Log(_ context.Context, event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	event.Timestamp = l.now().UTC()
	event.SessionID = l.sessionID
	if event.UserID == "" {
		event.UserID = l.userID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return apperrors.Wrap(err, "serializing audit event")
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return apperrors.Wrap(err, "writing audit event")
	}
	return nil
}

// LogLogin logs a broker login attempt.
func (l *Logger) LogLogin(ctx context.Context, userID string, success bool, errorMsg string) error {
	return l.Log(ctx, Event{
		EventType: EventLogin,
		UserID:    userID,
		Success:   success,
		ErrorMsg:  errorMsg,
	})
}

// Observe converts an engine event into an audit record. Write failures are
// passed to OnError when set.
func (l *Logger) Observe(ctx context.Context, ev models.Event) {
	rec, ok := FromEngineEvent(ev)
	if !ok {
		return
	}
	if err := l.Log(ctx, rec); err != nil && l.OnError != nil {
		l.OnError(err)
	}
}

// FromEngineEvent maps an engine event to an audit record.
func FromEngineEvent(ev models.Event) (Event, bool) {
	tick := ev.Timestamp
	rec := Event{TickTime: &tick, Success: true}

	switch ev.Kind {
	case models.EventDecision:
		d := ev.Decision
		if d == nil {
			return rec, false
		}
		rec.EventType = EventDecision
		rec.TradeID = d.TradeID
		rec.Action = string(d.Action)
		rec.Success = d.Action != models.ActionError
		rec.Details = map[string]any{"mode": d.Mode, "reasons": d.Reasons}
		if d.Raw != nil {
			rec.Details["raw"] = d.Raw
		}
		if d.Bias != nil {
			rec.Details["bias"] = d.Bias.Action
			rec.Details["bias_confidence"] = d.Bias.Confidence
		}

	case models.EventOrderPlaced, models.EventOrderFailed:
		o := ev.Order
		if o == nil {
			return rec, false
		}
		rec.EventType = EventOrderPlaced
		if ev.Kind == models.EventOrderFailed {
			rec.EventType = EventOrderRejected
			rec.Success = false
			rec.ErrorMsg = o.Error
		}
		rec.TradeID = o.TradeID
		rec.OrderID = o.OrderID
		rec.Symbol = o.TradingSymbol
		rec.Action = string(o.Side)
		rec.Details = map[string]any{
			"quantity": o.Quantity,
			"product":  o.Product,
			"exchange": o.Exchange,
			"remarks":  o.Remarks,
		}

	case models.EventTradeOpened, models.EventTradeClosed:
		t := ev.Trade
		if t == nil {
			return rec, false
		}
		rec.EventType = EventTradeOpened
		rec.TradeID = t.ID
		rec.Symbol = t.Label()
		rec.Details = map[string]any{
			"mode":        t.Mode,
			"strike":      t.Strike,
			"opt_type":    t.OptType,
			"quantity":    t.Quantity,
			"entry_price": t.EntryPrice,
			"stop_loss":   t.StopLossPrice,
			"live":        t.Live,
		}
		if ev.Kind == models.EventTradeClosed {
			rec.EventType = EventTradeClosed
			rec.Action = string(t.ExitReason)
			rec.Details["peak_price"] = t.PeakPrice
			rec.Details["exit_note"] = t.ExitNote
			if t.ExitPrice != nil {
				rec.Details["exit_price"] = *t.ExitPrice
			}
			if t.PnL != nil {
				rec.Details["pnl"] = *t.PnL
			}
		}

	case models.EventConfigChanged:
		c := ev.Config
		if c == nil {
			return rec, false
		}
		rec.EventType = EventConfigChanged
		rec.Details = map[string]any{
			"mode":               c.Mode,
			"exit_style":         c.ExitStyle,
			"target_pct":         c.TargetPct,
			"quantity":           c.Quantity,
			"max_trades_per_day": c.MaxTradesPerDay,
			"direction":          c.Direction,
			"armed":              c.LiveArmed,
		}

	default:
		return rec, false
	}
	return rec, true
}

// Close closes the audit logger.
func (l *Logger) Close() error {
	return l.writer.Close()
}
