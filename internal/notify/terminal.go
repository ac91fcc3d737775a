// Package notify prints trade lifecycle and error notifications to the
// operator's terminal.
package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"nifty-options-engine/internal/models"
	"nifty-options-engine/pkg/utils"
)

// TerminalNotificationType represents the type of terminal notification.
type TerminalNotificationType int

const (
	TerminalNotifyEntry TerminalNotificationType = iota
	TerminalNotifyStopLoss
	TerminalNotifyTarget
	TerminalNotifyExit
	TerminalNotifyError
	TerminalNotifyInfo
)

// TerminalNotification represents a notification to be displayed in the terminal.
type TerminalNotification struct {
	Type      TerminalNotificationType
	Symbol    string
	Message   string
	Price     float64
	StopLoss  float64
	PnL       *float64
	Timestamp time.Time
	Action    string
}

// TerminalNotificationHandler is a function that handles terminal notifications.
type TerminalNotificationHandler func(n TerminalNotification)

// TerminalNotifier queues notifications and hands them to handlers on a
// background goroutine so engine observers never block on terminal output.
type TerminalNotifier struct {
	notifications chan TerminalNotification
	handlers      []TerminalNotificationHandler
	mu            sync.RWMutex
	enabled       bool
	bellEnabled   bool
	out           io.Writer
}

// NewTerminalNotifier creates a new TerminalNotifier.
func NewTerminalNotifier(bufferSize int) *TerminalNotifier {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &TerminalNotifier{
		notifications: make(chan TerminalNotification, bufferSize),
		enabled:       true,
		bellEnabled:   true,
		out:           os.Stdout,
	}
}

// SetBellEnabled enables or disables the terminal bell.
func (tn *TerminalNotifier) SetBellEnabled(enabled bool) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.bellEnabled = enabled
}

// SetEnabled enables or disables the notifier.
func (tn *TerminalNotifier) SetEnabled(enabled bool) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.enabled = enabled
}

// SetOutput sets where the bell is written.
func (tn *TerminalNotifier) SetOutput(w io.Writer) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.out = w
}

// AddHandler adds a notification handler.
func (tn *TerminalNotifier) AddHandler(handler TerminalNotificationHandler) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.handlers = append(tn.handlers, handler)
}

// Notify queues a notification. When the buffer is full the oldest queued
// notification is dropped.
func (tn *TerminalNotifier) Notify(n TerminalNotification) {
	tn.mu.RLock()
	enabled := tn.enabled
	tn.mu.RUnlock()

	if !enabled {
		return
	}

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	for {
		select {
		case tn.notifications <- n:
			return
		default:
		}
		select {
		case <-tn.notifications:
		default:
		}
	}
}

// Start starts processing notifications.
func (tn *TerminalNotifier) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-tn.notifications:
				tn.processNotification(n)
			}
		}
	}()
}

func (tn *TerminalNotifier) processNotification(n TerminalNotification) {
	tn.mu.RLock()
	handlers := tn.handlers
	bellEnabled := tn.bellEnabled
	out := tn.out
	tn.mu.RUnlock()

	if bellEnabled && (n.Type == TerminalNotifyStopLoss || n.Type == TerminalNotifyError) {
		fmt.Fprint(out, "\a")
	}

	for _, handler := range handlers {
		handler(n)
	}
}

// Observe implements engine.Observer.
func (tn *TerminalNotifier) Observe(_ context.Context, ev models.Event) {
	if n, ok := FromEngineEvent(ev); ok {
		tn.Notify(n)
	}
}

// FromEngineEvent maps the engine events an operator should see: trade opened,
// trade closed and ERROR decisions.
func FromEngineEvent(ev models.Event) (TerminalNotification, bool) {
	n := TerminalNotification{Timestamp: ev.Timestamp}

	switch ev.Kind {
	case models.EventTradeOpened:
		t := ev.Trade
		if t == nil {
			return n, false
		}
		n.Type = TerminalNotifyEntry
		n.Symbol = t.Label()
		n.Price = t.EntryPrice
		n.StopLoss = t.StopLossPrice
		n.Message = fmt.Sprintf("%s entry x%d", t.Mode, t.Quantity)
		if t.Live && !t.FillConfirmed {
			n.Action = "fill not confirmed, check the broker tradebook"
		}

	case models.EventTradeClosed:
		t := ev.Trade
		if t == nil {
			return n, false
		}
		n.Symbol = t.Label()
		n.PnL = t.PnL
		if t.ExitPrice != nil {
			n.Price = *t.ExitPrice
		}
		switch {
		case strings.HasPrefix(string(t.ExitReason), "TARGET_HIT"):
			n.Type = TerminalNotifyTarget
		case t.ExitReason == models.ExitSLHit:
			n.Type = TerminalNotifyStopLoss
		default:
			n.Type = TerminalNotifyExit
		}
		n.Message = string(t.ExitReason)
		if t.ExitNote != "" {
			n.Message += ": " + t.ExitNote
		}

	case models.EventDecision:
		d := ev.Decision
		if d == nil || d.Action != models.ActionError {
			return n, false
		}
		n.Type = TerminalNotifyError
		n.Message = strings.Join(d.Reasons, "; ")
		if d.Raw != nil {
			n.Action = fmt.Sprint(d.Raw)
		}

	default:
		return n, false
	}
	return n, true
}

// FormatNotification renders a notification on one or two lines.
func FormatNotification(n TerminalNotification, colorEnabled bool) string {
	var sb strings.Builder

	var typeIndicator string
	var c *color.Color
	switch n.Type {
	case TerminalNotifyEntry:
		typeIndicator, c = "ENTRY", color.New(color.FgCyan, color.Bold)
	case TerminalNotifyStopLoss:
		typeIndicator, c = "STOP-LOSS", color.New(color.FgRed, color.Bold)
	case TerminalNotifyTarget:
		typeIndicator, c = "TARGET", color.New(color.FgGreen, color.Bold)
	case TerminalNotifyExit:
		typeIndicator, c = "EXIT", color.New(color.FgYellow, color.Bold)
	case TerminalNotifyError:
		typeIndicator, c = "ERROR", color.New(color.FgRed, color.Bold)
	default:
		typeIndicator, c = "INFO", color.New(color.FgWhite)
	}
	if colorEnabled {
		c.EnableColor()
	} else {
		c.DisableColor()
	}

	sb.WriteString(c.Sprintf("[%s] %s", n.Timestamp.In(utils.IndiaLocation).Format("15:04:05"), typeIndicator))

	if n.Symbol != "" {
		sb.WriteString(fmt.Sprintf(" | %s", n.Symbol))
	}
	if n.Message != "" {
		sb.WriteString(fmt.Sprintf(" | %s", n.Message))
	}
	if n.Price > 0 {
		sb.WriteString(fmt.Sprintf(" | @ %s", utils.FormatIndianCurrency(n.Price)))
	}
	if n.StopLoss > 0 {
		sb.WriteString(fmt.Sprintf(" SL %s", utils.FormatIndianCurrency(n.StopLoss)))
	}
	if n.PnL != nil {
		pnl := color.New(color.FgGreen)
		if *n.PnL < 0 {
			pnl = color.New(color.FgRed)
		}
		if !colorEnabled {
			pnl.DisableColor()
		}
		sb.WriteString(" | P&L " + pnl.Sprint(utils.FormatPnL(*n.PnL)))
	}

	if n.Action != "" {
		sb.WriteString(fmt.Sprintf("\n    -> %s", n.Action))
	}

	return sb.String()
}

// DefaultTerminalHandler returns a handler that prints to w.
func DefaultTerminalHandler(w io.Writer, colorEnabled bool) TerminalNotificationHandler {
	return func(n TerminalNotification) {
		fmt.Fprintln(w, FormatNotification(n, colorEnabled))
	}
}
