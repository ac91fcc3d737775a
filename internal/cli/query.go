package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"nifty-options-engine/internal/engine"
	apperrors "nifty-options-engine/internal/errors"
	"nifty-options-engine/internal/feed"
	"nifty-options-engine/internal/models"
	"nifty-options-engine/internal/store"
	"nifty-options-engine/pkg/utils"
)

// addQueryCommands adds read-only commands over the store.
func addQueryCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newTradesCmd(app))
	rootCmd.AddCommand(newDecisionsCmd(app))
	rootCmd.AddCommand(newBiasCmd(app))
}

func newTradesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List recorded trades",
		Example: `  niftyengine trades
  niftyengine trades --status CLOSED --days 5
  niftyengine trades --live --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ds, err := app.Store()
			if err != nil {
				return err
			}

			filter := store.TradeFilter{}
			if s, _ := cmd.Flags().GetString("status"); s != "" {
				filter.Status = models.TradeStatus(s)
			}
			if days, _ := cmd.Flags().GetInt("days"); days > 0 {
				filter.StartDate = time.Now().AddDate(0, 0, -days)
			}
			if cmd.Flags().Changed("live") {
				live, _ := cmd.Flags().GetBool("live")
				filter.Live = &live
			}
			filter.Limit, _ = cmd.Flags().GetInt("limit")

			trades, err := ds.GetTrades(cmd.Context(), filter)
			if err != nil {
				return err
			}
			summary := store.Summarize(trades)

			if output.IsJSON() {
				return output.JSON(map[string]any{"trades": trades, "summary": summary})
			}
			if len(trades) == 0 {
				output.Dim("No trades recorded")
				return nil
			}

			table := NewTable(output, "ENTRY", "CONTRACT", "MODE", "QTY", "ENTRY PX", "EXIT PX", "REASON", "P&L", "STATUS")
			for _, t := range trades {
				exitPx, pnl := "-", "-"
				if t.ExitPrice != nil {
					exitPx = fmt.Sprintf("%.2f", *t.ExitPrice)
				}
				if t.PnL != nil {
					pnl = output.FormatPnL(*t.PnL)
				}
				status := string(t.Status)
				if t.Live {
					status += " (live)"
				}
				table.AddRow(
					t.EntryTimestamp.In(utils.IndiaLocation).Format("02 Jan 15:04"),
					t.Label(),
					string(t.Mode),
					fmt.Sprintf("%d", t.Quantity),
					fmt.Sprintf("%.2f", t.EntryPrice),
					exitPx,
					string(t.ExitReason),
					pnl,
					status,
				)
			}
			table.Render()

			output.Println()
			printSummary(output, summary)
			return nil
		},
	}

	cmd.Flags().String("status", "", "filter by status (OPEN, EXITING, CLOSED)")
	cmd.Flags().Int("days", 0, "only trades entered in the last N days")
	cmd.Flags().Bool("live", false, "only live (true) or only paper (false) trades")
	cmd.Flags().Int("limit", 50, "maximum number of trades")
	return cmd
}

func printSummary(output *Output, s store.TradeSummary) {
	if s.Trades == 0 {
		return
	}
	output.Bold("Summary")
	output.Printf("  Closed:  %d (%d won, %d lost, win rate %s)\n",
		s.Trades, s.Winners, s.Losers, utils.FormatPercent(float64(s.Winners)/float64(s.Trades)*100))
	output.Printf("  P&L:     %s  best %s  worst %s\n",
		output.FormatPnL(s.TotalPnL), output.FormatPnL(s.BestPnL), output.FormatPnL(s.WorstPnL))
	for reason, n := range s.ByReason {
		output.Dim("  %-16s %d", reason, n)
	}
}

func newDecisionsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "List recorded decisions",
		Example: `  niftyengine decisions --limit 20
  niftyengine decisions --action ERROR
  niftyengine decisions --trade 3f1c...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ds, err := app.Store()
			if err != nil {
				return err
			}

			filter := store.DecisionFilter{}
			if a, _ := cmd.Flags().GetString("action"); a != "" {
				filter.Action = models.Action(a)
			}
			filter.TradeID, _ = cmd.Flags().GetString("trade")
			filter.Limit, _ = cmd.Flags().GetInt("limit")

			decisions, err := ds.GetDecisions(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(decisions)
			}
			if len(decisions) == 0 {
				output.Dim("No decisions recorded")
				return nil
			}
			// Newest first from the store; print oldest first.
			for i := len(decisions) - 1; i >= 0; i-- {
				printDecision(output, &decisions[i])
			}
			return nil
		},
	}

	cmd.Flags().String("action", "", "filter by action (ENTER, HOLD, EXIT, NO_TRADE, ERROR)")
	cmd.Flags().String("trade", "", "filter by trade id")
	cmd.Flags().Int("limit", 50, "maximum number of decisions")
	return cmd
}

func newBiasCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bias",
		Short: "Score OI bias over a snapshot window",
		Long: `Score the open-interest bias over the latest snapshot window.

Snapshots come from --input (JSON lines) or from the archive with --from/--to.
Only the trailing bias window of the loaded snapshots is scored.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			snaps, err := loadSnapshots(cmd.Context(), app, cmd)
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				return apperrors.NewDataError("snapshot", "", "no snapshots to score", apperrors.ErrDataNotFound)
			}

			result := engine.ScoreBias(snaps, app.Config.Bias)
			if output.IsJSON() {
				return output.JSON(result)
			}

			var action string
			switch result.Action {
			case models.BiasBuyCE:
				action = output.Green(string(result.Action))
			case models.BiasBuyPE:
				action = output.Red(string(result.Action))
			default:
				action = output.Yellow(string(result.Action))
			}
			output.Printf("%s  confidence %d%%\n", action, result.Confidence)
			output.Printf("  bullish %.2f  bearish %.2f  over %d snapshots\n",
				result.BullishScore, result.BearishScore, result.Snapshots)
			output.Printf("  CE buildup %.0f  unwind %.0f | PE buildup %.0f  unwind %.0f\n",
				result.CEBuildup, result.CEUnwind, result.PEBuildup, result.PEUnwind)
			for _, r := range result.Reasons {
				output.Dim("  %s", r)
			}
			return nil
		},
	}

	cmd.Flags().String("input", "", "JSON-lines snapshot file")
	cmd.Flags().String("from", "", "archive window start (RFC3339)")
	cmd.Flags().String("to", "", "archive window end (RFC3339)")
	return cmd
}

// loadSnapshots reads every snapshot from the selected source into a history.
func loadSnapshots(ctx context.Context, app *App, cmd *cobra.Command) ([]models.OptionChainSnapshot, error) {
	var source feed.Source
	if input, _ := cmd.Flags().GetString("input"); input != "" {
		f, err := os.Open(input)
		if err != nil {
			return nil, apperrors.Wrapf(err, "opening input %s", input)
		}
		defer f.Close()
		source = feed.NewJSONLSource(f)
	} else {
		fromStr, _ := cmd.Flags().GetString("from")
		toStr, _ := cmd.Flags().GetString("to")
		from, to, err := parseWindow(fromStr, toStr)
		if err != nil {
			return nil, err
		}
		ds, err := app.Store()
		if err != nil {
			return nil, err
		}
		source = feed.NewStoreSource(ds, from, to, 0)
	}

	history := feed.NewHistory(app.Config.Feed.Retention)
	for {
		snap, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			return history.Snapshots(), nil
		}
		var dataErr *apperrors.DataError
		if errors.As(err, &dataErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		history.Add(*snap)
	}
}
