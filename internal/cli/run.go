package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"nifty-options-engine/internal/audit"
	"nifty-options-engine/internal/broker"
	"nifty-options-engine/internal/engine"
	apperrors "nifty-options-engine/internal/errors"
	"nifty-options-engine/internal/feed"
	"nifty-options-engine/internal/logging"
	"nifty-options-engine/internal/metrics"
	"nifty-options-engine/internal/models"
	"nifty-options-engine/internal/notify"
	"nifty-options-engine/internal/resilience"
	"nifty-options-engine/internal/runner"
	"nifty-options-engine/internal/store"
	"nifty-options-engine/pkg/utils"
)

func newRunCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Step the engine over a snapshot feed",
		Long: `Step the engine once per option-chain snapshot.

Snapshots are read as JSON lines from --input (a file, or "-" for stdin), or
replayed from the snapshot archive with --from/--to. While the feed runs,
operator commands typed on the terminal (enter, exit, arm, mode, ...) are
applied between steps. Type 'help' for the list.`,
		Example: `  niftyengine run --input snapshots.jsonl
  niftyengine run --input - --live
  niftyengine run --from 2024-10-17T09:15:00+05:30 --to 2024-10-17T15:30:00+05:30 --pace 200ms`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runEngine(ctx, app, cmd, output)
		},
	}

	cmd.Flags().String("input", "", "JSON-lines snapshot file, or - for stdin (default: feed.input)")
	cmd.Flags().String("from", "", "replay archived snapshots from this RFC3339 time")
	cmd.Flags().String("to", "", "replay archived snapshots up to this RFC3339 time")
	cmd.Flags().Bool("live", false, "route orders to the configured broker")
	cmd.Flags().Duration("pace", 0, "sleep between snapshots")
	cmd.Flags().Bool("no-console", false, "do not read operator commands from stdin")

	return cmd
}

func runEngine(ctx context.Context, app *App, cmd *cobra.Command, output *Output) error {
	cfg := app.Config
	logger := app.Logger

	live, _ := cmd.Flags().GetBool("live")
	live = live || cfg.IsLive()
	pace, _ := cmd.Flags().GetDuration("pace")
	noConsole, _ := cmd.Flags().GetBool("no-console")

	source, closeSource, replay, err := openSource(app, cmd)
	if err != nil {
		return err
	}
	defer closeSource()
	if replay == "-" {
		// stdin carries snapshots, so it cannot carry commands too.
		noConsole = true
	}

	var paper *broker.PaperBroker
	opts := cfg.EngineOptions()
	opts.Live = live
	opts.Logger = logger
	if live {
		b, p, err := openBroker(app)
		if err != nil {
			return err
		}
		opts.Broker, paper = b, p
	}

	eng := engine.New(opts)

	// Observers
	eng.AddObserver(engine.ObserverFunc(func(_ context.Context, ev models.Event) {
		if ev.Kind == models.EventDecision && ev.Decision != nil {
			logging.LogDecision(logger, ev.Decision)
			if ev.Decision.Action != models.ActionNoTrade && !output.IsJSON() {
				printDecision(output, ev.Decision)
			}
		}
	}))

	var archiver runner.Archiver
	if cfg.Store.Enabled {
		ds, err := app.Store()
		if err != nil {
			return apperrors.Wrap(err, "opening store")
		}
		eng.AddObserver(store.NewRecorder(ds, logger))
		if cfg.Store.ArchiveSnapshots && replay != "store" {
			archiver = ds
		}
	}

	if cfg.Audit.Enabled {
		al, err := audit.New(cfg.Audit)
		if err != nil {
			logger.Warn().Err(err).Msg("Audit log unavailable")
		} else {
			defer al.Close()
			al.SetUserID(cfg.Credentials.Zerodha.UserID)
			al.OnError = func(err error) { logger.Error().Err(err).Msg("Audit write failed") }
			eng.AddObserver(al)
		}
	}

	history := feed.NewHistory(cfg.Feed.Retention)

	if cfg.Metrics.Enabled {
		collector := metrics.New()
		eng.AddObserver(collector)

		monitor := resilience.NewHealthMonitor(resilience.DefaultHealthMonitorConfig(), logger)
		monitor.RegisterComponent("feed", resilience.FeedHealthCheck(func() (time.Time, bool) {
			snap, ok := history.Latest()
			return snap.Timestamp, ok
		}, 2*time.Minute, nil))
		if ds, ok := app.store.(*store.SQLiteStore); ok {
			monitor.RegisterComponent("store", resilience.DatabaseHealthCheck(ds.Ping))
		}
		if rb, ok := opts.Broker.(*broker.ResilientBroker); ok {
			monitor.RegisterComponent("broker", resilience.BreakerHealthCheck(rb.Breaker()))
		}
		monitor.Start(ctx)

		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		mux.HandleFunc("/healthz", monitor.HealthHTTPHandler())
		mux.HandleFunc("/readyz", monitor.ReadinessHTTPHandler())

		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", cfg.Metrics.Addr).Msg("Metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		logger.Info().Str("addr", cfg.Metrics.Addr).Msg("Serving metrics and health")
	}

	if cfg.UI.Notify && !output.IsJSON() {
		notifier := notify.NewTerminalNotifier(32)
		notifier.SetOutput(cmd.ErrOrStderr())
		notifier.AddHandler(notify.DefaultTerminalHandler(cmd.ErrOrStderr(), cfg.UI.ColorEnabled && output.colorEnabled))
		notifier.Start(ctx)
		eng.AddObserver(notifier)
	}

	r := runner.New(runner.Options{
		Source:   source,
		Engine:   eng,
		History:  history,
		Sink:     sinkFor(paper, live),
		Archiver: archiver,
		Logger:   logger,
		Pace:     pace,
	})

	if live {
		output.Warning("LIVE mode: orders go to %s; entries need 'arm'", cfg.Trading.Broker)
	}
	if replay == "-" && utils.GetMarketStatus() == utils.MarketClosed {
		output.Dim("Market is closed")
	}

	if !noConsole {
		console := NewConsole(eng, history.Snapshots, output)
		go console.Run(ctx, cmd.InOrStdin())
	}

	stats, err := r.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	if output.IsJSON() {
		if jerr := output.JSON(map[string]any{"stats": stats, "state": eng.State()}); jerr != nil {
			return jerr
		}
		return err
	}

	output.Println()
	output.Bold("Run summary")
	output.Printf("  Snapshots: %d (skipped %d)\n", stats.Snapshots, stats.Skipped)
	for _, a := range []models.Action{models.ActionEnter, models.ActionExit, models.ActionHold, models.ActionNoTrade, models.ActionError} {
		if n := stats.Actions[a]; n > 0 {
			output.Printf("  %-9s %d\n", string(a)+":", n)
		}
	}
	st := eng.State()
	summary := store.Summarize(st.TradeHistory)
	if summary.Trades > 0 {
		output.Printf("  Closed trades: %d  P&L %s\n", summary.Trades, output.FormatPnL(summary.TotalPnL))
	}
	if st.CurrentTrade != nil {
		output.Warning("Position still %s: %s x%d", st.CurrentTrade.Status, st.CurrentTrade.Label(), st.CurrentTrade.Quantity)
	}
	return err
}

// openSource picks the snapshot source. replay is "store" for archive
// replay, "-" for stdin, or the input path.
func openSource(app *App, cmd *cobra.Command) (feed.Source, func(), string, error) {
	fromStr, _ := cmd.Flags().GetString("from")
	toStr, _ := cmd.Flags().GetString("to")
	if fromStr != "" || toStr != "" {
		from, to, err := parseWindow(fromStr, toStr)
		if err != nil {
			return nil, nil, "", err
		}
		ds, err := app.Store()
		if err != nil {
			return nil, nil, "", apperrors.Wrap(err, "opening store")
		}
		return feed.NewStoreSource(ds, from, to, 0), func() {}, "store", nil
	}

	input, _ := cmd.Flags().GetString("input")
	if input == "" {
		input = app.Config.Feed.Input
	}
	switch input {
	case "":
		return nil, nil, "", fmt.Errorf("no snapshot input: pass --input or --from/--to")
	case "-":
		return feed.NewJSONLSource(cmd.InOrStdin()), func() {}, "-", nil
	}
	f, err := os.Open(input)
	if err != nil {
		return nil, nil, "", apperrors.Wrapf(err, "opening input %s", input)
	}
	return feed.NewJSONLSource(f), func() { f.Close() }, input, nil
}

// openBroker builds the live order client. The paper broker is returned
// separately because it also needs every snapshot's prices.
func openBroker(app *App) (broker.Broker, *broker.PaperBroker, error) {
	cfg := app.Config
	switch cfg.Trading.Broker {
	case "paper":
		p := broker.NewPaperBroker(broker.PaperBrokerConfig{})
		return p, p, nil
	case "zerodha":
		zb := broker.NewZerodhaBroker(broker.ZerodhaConfig{
			APIKey:    cfg.Credentials.Zerodha.APIKey,
			APISecret: cfg.Credentials.Zerodha.APISecret,
			UserID:    cfg.Credentials.Zerodha.UserID,
			TokenPath: cfg.Broker.SessionPath,
		}, app.Logger)
		if !zb.IsAuthenticated() {
			return nil, nil, fmt.Errorf("zerodha session missing or expired: run 'niftyengine login'")
		}
		traced := broker.WithTracing(zb, app.Logger)
		return broker.NewResilientBroker(traced, cfg.Broker.Resilience, app.Logger), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown broker %q", cfg.Trading.Broker)
}

func sinkFor(paper *broker.PaperBroker, live bool) runner.PriceSink {
	if live && paper != nil {
		return paper
	}
	return nil
}

func parseWindow(fromStr, toStr string) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error
	if fromStr != "" {
		if from, err = time.Parse(time.RFC3339, fromStr); err != nil {
			return from, to, fmt.Errorf("invalid --from: %w", err)
		}
	}
	if toStr != "" {
		if to, err = time.Parse(time.RFC3339, toStr); err != nil {
			return from, to, fmt.Errorf("invalid --to: %w", err)
		}
	}
	if !to.IsZero() && to.Before(from) {
		return from, to, fmt.Errorf("--to is before --from")
	}
	return from, to, nil
}
