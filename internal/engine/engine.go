// Package engine implements the options decision and risk engine: bias
// scoring, mode classification, instrument selection, entry and exit rules,
// and the paper and live steppers that apply them to one position.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"nifty-options-engine/internal/broker"
	apperrors "nifty-options-engine/internal/errors"
	"nifty-options-engine/internal/logging"
	"nifty-options-engine/internal/models"
	"nifty-options-engine/internal/tracing"
)

// Options configures a new Engine.
type Options struct {
	Config models.EngineConfig
	Bias   BiasParams

	// Live selects the live stepper. Broker is only used in live mode; a nil
	// Broker makes every live order attempt an ERROR decision.
	Live   bool
	Broker broker.OrderPlacer

	// FillConfirmDelay overrides the wait between entry acknowledgment and
	// the tradebook lookup. Zero means DefaultFillConfirmDelay.
	FillConfirmDelay time.Duration
	Sleep            func(ctx context.Context, d time.Duration) error

	Observers   []Observer
	Logger      zerolog.Logger
	IDGenerator func() string
	Clock       func() time.Time
}

// Engine owns one EngineState and serializes every operation on it. Only one
// step, forced entry or forced exit runs at a time, so at most one order is
// ever in flight for the position.
//
// Observer events are delivered in the order the operations ran. Observers
// must not call back into operations that change engine state.
type Engine struct {
	mu        sync.Mutex
	notifyMu  sync.Mutex
	state     models.EngineState
	bias      BiasParams
	live      bool
	exec      executor
	observers []Observer
	logger    zerolog.Logger
	newID     func() string
	now       func() time.Time
}

// New creates an engine with a fresh state.
func New(opts Options) *Engine {
	cfg := opts.Config.Normalize()
	if opts.IDGenerator == nil {
		opts.IDGenerator = uuid.NewString
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Bias == (BiasParams{}) {
		opts.Bias = DefaultBiasParams()
	}
	logger := opts.Logger.With().Str("component", "engine").Logger()

	e := &Engine{
		state:     models.EngineState{Config: cfg, ActiveMode: models.ModeNormal},
		bias:      opts.Bias,
		live:      opts.Live,
		observers: append([]Observer(nil), opts.Observers...),
		logger:    logger,
		newID:     opts.IDGenerator,
		now:       opts.Clock,
	}
	if cfg.Mode != models.ModeAuto {
		e.state.ActiveMode = cfg.Mode
	}

	if opts.Live {
		delay := opts.FillConfirmDelay
		if delay <= 0 {
			delay = DefaultFillConfirmDelay
		}
		sleep := opts.Sleep
		if sleep == nil {
			sleep = sleepCtx
		}
		e.exec = &liveExecutor{client: opts.Broker, delay: delay, sleep: sleep}
	} else {
		e.exec = paperExecutor{}
	}
	return e
}

// AddObserver registers an observer for subsequent events.
func (e *Engine) AddObserver(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// IsLive reports whether the engine runs the live stepper.
func (e *Engine) IsLive() bool { return e.live }

func (e *Engine) newTick(history []models.OptionChainSnapshot) *tick {
	return &tick{
		st:      &e.state,
		cfg:     e.state.Config,
		history: history,
		snap:    latest(history),
		ts:      e.now(),
		mode:    e.state.ActiveMode,
		newID:   e.newID,
	}
}

// Step runs one tick over history, whose last element is the new snapshot.
// Tick-level failures are reported as NO_TRADE or ERROR decisions.
func (e *Engine) Step(ctx context.Context, history []models.OptionChainSnapshot) *models.Decision {
	ctx, span := tracing.StartSpan(ctx, "engine.step")
	defer span.End()
	ctx = e.withLogger(ctx, "step")

	e.mu.Lock()
	t := e.newTick(history)
	b := ScoreBias(history, e.bias)
	t.bias = &b
	d := run(ctx, t, e.exec).Clone()

	span.SetAttributes(
		attribute.String("engine.action", string(d.Action)),
		attribute.String("engine.mode", string(d.Mode)),
		attribute.Bool("engine.live", e.live),
	)
	e.release(ctx, t.events)
	return d
}

// ForceEnter opens a position at the selected instrument without evaluating
// entry rules. It still refuses when a trade is open or the daily cap is used.
func (e *Engine) ForceEnter(ctx context.Context, history []models.OptionChainSnapshot) (*models.Decision, error) {
	ctx, span := tracing.StartSpan(ctx, "engine.force_enter")
	defer span.End()
	ctx = e.withLogger(ctx, "force_enter")

	e.mu.Lock()
	t := e.newTick(history)
	d, err := e.forceEnter(ctx, t)
	d = d.Clone()

	span.SetAttributes(attribute.String("engine.action", string(d.Action)))
	e.release(ctx, t.events)
	return d, err
}

func (e *Engine) forceEnter(ctx context.Context, t *tick) (*models.Decision, error) {
	if !t.prepare() {
		return t.st.LastDecision, apperrors.NewDataError("snapshot", "", "no usable snapshot for forced entry", apperrors.ErrInsufficientData)
	}
	t.note("forced entry requested")
	if tr := t.st.CurrentTrade; tr.Active() {
		d := t.decide(models.ActionNoTrade, fmt.Sprintf("trade %s already %s", tr.Label(), tr.Status))
		return d, apperrors.ErrTradeAlreadyOpen
	}
	if capReached(t.st) {
		msg := capReason(t.st)
		d := t.decide(models.ActionNoTrade, msg)
		return d, apperrors.NewRiskError("max_trades_per_day", float64(t.st.TradesToday), float64(t.st.Config.MaxTradesPerDay), msg, apperrors.ErrDailyCapReached)
	}
	sig, err := forcedSignal(t)
	if err != nil {
		d := t.decide(models.ActionNoTrade, err.Error())
		return d, apperrors.NewDataError("instrument", "", err.Error(), apperrors.ErrInsufficientData)
	}
	t.reasons = append(t.reasons, sig.Reasons...)

	d := e.exec.enter(ctx, t, sig)
	switch {
	case d.Action == models.ActionNoTrade && e.live && !t.cfg.LiveArmed:
		return d, apperrors.ErrNotArmed
	case d.Action == models.ActionError && t.st.CurrentTrade.Active():
		return d, apperrors.ErrFillNotConfirmed
	case d.Action == models.ActionError:
		return d, apperrors.NewOrderError("", "", "BUY", fmt.Sprintf("%v", d.Raw), apperrors.ErrOrderRejected)
	}
	return d, nil
}

// ForceExit closes the open position at the latest available price, tagging
// it with reason.
func (e *Engine) ForceExit(ctx context.Context, history []models.OptionChainSnapshot, reason string) (*models.Decision, error) {
	ctx, span := tracing.StartSpan(ctx, "engine.force_exit")
	defer span.End()
	ctx = e.withLogger(ctx, "force_exit")

	e.mu.Lock()
	t := e.newTick(history)
	d, err := e.forceExit(ctx, t, reason)
	d = d.Clone()

	span.SetAttributes(attribute.String("engine.action", string(d.Action)))
	e.release(ctx, t.events)
	return d, err
}

func (e *Engine) forceExit(ctx context.Context, t *tick, reason string) (*models.Decision, error) {
	if reason == "" {
		reason = "manual exit"
	}
	if t.snap != nil {
		t.ts = t.snap.Timestamp
		if err := t.snap.ValidateStrikes(); err != nil {
			t.note("latest snapshot unusable for pricing: %v", err)
			t.snap = nil
		}
	}
	t.note("forced exit: %s", reason)

	tr := t.st.CurrentTrade
	if !tr.Active() {
		return t.decide(models.ActionNoTrade, "no open trade to exit"), apperrors.ErrNoOpenTrade
	}
	if tr.Status == models.TradeExiting {
		return e.exec.forceExitPending(ctx, t, reason), nil
	}

	d := e.exec.exit(ctx, t, models.ExitForced, reason, exitPrice(t, tr))
	if d.Action == models.ActionError {
		return d, apperrors.NewOrderError("", tr.Label(), "SELL", fmt.Sprintf("%v", d.Raw), apperrors.ErrOrderRejected)
	}
	return d, nil
}

// Config returns the current engine configuration.
func (e *Engine) Config() models.EngineConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Config
}

// SetConfig replaces the configuration after normalizing it. A pinned mode
// takes effect immediately for state readers.
func (e *Engine) SetConfig(ctx context.Context, cfg models.EngineConfig) models.EngineConfig {
	e.mu.Lock()
	cfg = cfg.Normalize()
	e.state.Config = cfg
	if cfg.Mode != models.ModeAuto {
		e.state.ActiveMode = cfg.Mode
	}

	e.logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("exit_style", string(cfg.ExitStyle)).
		Float64("target_pct", cfg.TargetPct).
		Int("quantity", cfg.Quantity).
		Int("max_trades_per_day", cfg.MaxTradesPerDay).
		Str("direction", string(cfg.Direction)).
		Bool("armed", cfg.LiveArmed).
		Msg("Engine config updated")
	c := cfg
	e.release(ctx, []models.Event{{Kind: models.EventConfigChanged, Timestamp: e.now(), Config: &c}})
	return cfg
}

// UpdateConfig applies fn to a copy of the current configuration.
func (e *Engine) UpdateConfig(ctx context.Context, fn func(*models.EngineConfig)) models.EngineConfig {
	cfg := e.Config()
	fn(&cfg)
	return e.SetConfig(ctx, cfg)
}

// Arm enables or disables live order placement for new entries.
func (e *Engine) Arm(ctx context.Context, armed bool) {
	e.UpdateConfig(ctx, func(c *models.EngineConfig) { c.LiveArmed = armed })
}

// State returns a deep copy of the engine state.
func (e *Engine) State() models.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Bias scores history with the engine's bias parameters.
func (e *Engine) Bias(history []models.OptionChainSnapshot) models.BiasResult {
	return ScoreBias(history, e.bias)
}

func (e *Engine) withLogger(ctx context.Context, op string) context.Context {
	return logging.WithLogger(ctx, logging.WithOperation(e.logger, op))
}

// release hands events to observers and unlocks the engine. notifyMu is
// taken before mu is released, so deliveries keep the order of the
// operations that produced them while state readers are not blocked.
func (e *Engine) release(ctx context.Context, events []models.Event) {
	observers := e.observers
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	e.mu.Unlock()
	e.dispatch(ctx, observers, events)
}

func (e *Engine) dispatch(ctx context.Context, observers []Observer, events []models.Event) {
	for _, ev := range events {
		if ev.Kind == models.EventDecision && ev.Decision != nil {
			logging.LogDecision(e.logger, ev.Decision)
		}
		for _, o := range observers {
			o.Observe(ctx, ev)
		}
	}
}
