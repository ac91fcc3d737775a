package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"nifty-options-engine/internal/engine"
	"nifty-options-engine/internal/models"
	"nifty-options-engine/pkg/utils"
)

// Controller is the engine surface the operator console drives.
type Controller interface {
	ForceEnter(ctx context.Context, history []models.OptionChainSnapshot) (*models.Decision, error)
	ForceExit(ctx context.Context, history []models.OptionChainSnapshot, reason string) (*models.Decision, error)
	UpdateConfig(ctx context.Context, fn func(*models.EngineConfig)) models.EngineConfig
	Arm(ctx context.Context, armed bool)
	State() models.EngineState
	Bias(history []models.OptionChainSnapshot) models.BiasResult
	IsLive() bool
}

var _ Controller = (*engine.Engine)(nil)

// Console reads operator commands while the runner steps the engine.
type Console struct {
	eng     Controller
	history func() []models.OptionChainSnapshot
	out     *Output
}

// NewConsole creates a console over eng. history returns the current
// snapshot window.
func NewConsole(eng Controller, history func() []models.OptionChainSnapshot, out *Output) *Console {
	return &Console{eng: eng, history: history, out: out}
}

const consoleHelp = `Commands:
  enter                 open a position now using the latest snapshot
  exit [reason]         close the open position
  arm | disarm          allow or block live entries
  mode <AUTO|NORMAL|BIG_RALLY|EXPIRY>
  style <TRAILING|TARGET> [pct]
  qty <n>               lot quantity for the next entry
  cap <n>               max trades per day
  dir <AUTO|BULL|BEAR>  direction override
  bias                  score the current window
  status                show the position and config
  help`

// Run reads commands line by line until r is exhausted or ctx is done.
func (c *Console) Run(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if err := c.Execute(ctx, scanner.Text()); err != nil {
			c.out.Error("%v", err)
		}
	}
}

// Execute runs one command line.
func (c *Console) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "enter":
		d, err := c.eng.ForceEnter(ctx, c.history())
		if err != nil {
			return err
		}
		c.printDecision(d)

	case "exit":
		reason := strings.Join(args, " ")
		d, err := c.eng.ForceExit(ctx, c.history(), reason)
		if err != nil {
			return err
		}
		c.printDecision(d)

	case "arm", "disarm":
		if !c.eng.IsLive() {
			c.out.Warning("paper mode: arming has no effect")
		}
		c.eng.Arm(ctx, cmd == "arm")
		c.out.Success("live entries %s", map[bool]string{true: "armed", false: "disarmed"}[cmd == "arm"])

	case "mode":
		if len(args) != 1 {
			return fmt.Errorf("usage: mode <AUTO|NORMAL|BIG_RALLY|EXPIRY>")
		}
		m, ok := models.ParseTradingMode(strings.ToUpper(args[0]))
		if !ok {
			return fmt.Errorf("unknown mode %q", args[0])
		}
		c.update(ctx, func(cfg *models.EngineConfig) { cfg.Mode = m })

	case "style":
		if len(args) < 1 || len(args) > 2 {
			return fmt.Errorf("usage: style <TRAILING|TARGET> [pct]")
		}
		s, ok := models.ParseExitStyle(strings.ToUpper(args[0]))
		if !ok {
			return fmt.Errorf("unknown exit style %q", args[0])
		}
		pct := -1.0
		if len(args) == 2 {
			v, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid target percent %q", args[1])
			}
			pct = v
		}
		c.update(ctx, func(cfg *models.EngineConfig) {
			cfg.ExitStyle = s
			if pct >= 0 {
				cfg.TargetPct = pct
			}
		})

	case "qty", "cap":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s <n>", cmd)
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return fmt.Errorf("invalid number %q", args[0])
		}
		if cmd == "qty" {
			if n == 0 {
				return fmt.Errorf("quantity must be positive")
			}
			c.update(ctx, func(cfg *models.EngineConfig) { cfg.Quantity = n })
		} else {
			c.update(ctx, func(cfg *models.EngineConfig) { cfg.MaxTradesPerDay = n })
		}

	case "dir":
		if len(args) != 1 {
			return fmt.Errorf("usage: dir <AUTO|BULL|BEAR>")
		}
		d, ok := models.ParseDirection(strings.ToUpper(args[0]))
		if !ok {
			return fmt.Errorf("unknown direction %q", args[0])
		}
		c.update(ctx, func(cfg *models.EngineConfig) { cfg.Direction = d })

	case "bias":
		c.printBias(c.eng.Bias(c.history()))

	case "status":
		c.printStatus(c.eng.State())

	case "help", "?":
		c.out.Println(consoleHelp)

	default:
		return fmt.Errorf("unknown command %q (try 'help')", cmd)
	}
	return nil
}

func (c *Console) update(ctx context.Context, fn func(*models.EngineConfig)) {
	cfg := c.eng.UpdateConfig(ctx, fn)
	c.out.Success("config: mode=%s style=%s target=%.0f%% qty=%d cap=%d dir=%s",
		cfg.Mode, cfg.ExitStyle, cfg.TargetPct, cfg.Quantity, cfg.MaxTradesPerDay, cfg.Direction)
}

func (c *Console) printDecision(d *models.Decision) {
	if d == nil {
		return
	}
	printDecision(c.out, d)
}

func (c *Console) printBias(b models.BiasResult) {
	c.out.Printf("%s  confidence %d%%  bull %.1f  bear %.1f  (%d snapshots)\n",
		b.Action, b.Confidence, b.BullishScore, b.BearishScore, b.Snapshots)
	for _, r := range b.Reasons {
		c.out.Dim("  %s", r)
	}
}

func (c *Console) printStatus(st models.EngineState) {
	cfg := st.Config
	c.out.Bold("Engine")
	c.out.Printf("  Active mode:   %s (configured %s)\n", st.ActiveMode, cfg.Mode)
	c.out.Printf("  Exit style:    %s %.0f%%\n", cfg.ExitStyle, cfg.TargetPct)
	c.out.Printf("  Trades today:  %d/%d\n", st.TradesToday, cfg.MaxTradesPerDay)
	if c.eng.IsLive() {
		c.out.Printf("  Live armed:    %v\n", cfg.LiveArmed)
	}
	if st.DayOpenPrice != nil {
		c.out.Printf("  Day open:      %.2f\n", *st.DayOpenPrice)
	}

	if t := st.CurrentTrade; t != nil {
		c.out.Println()
		c.out.Bold("Position")
		c.out.Printf("  %s x%d  %s\n", t.Label(), t.Quantity, t.Status)
		c.out.Printf("  Entry %s  Peak %s  Stop %s\n",
			utils.FormatIndianCurrency(t.EntryPrice),
			utils.FormatIndianCurrency(t.PeakPrice),
			utils.FormatIndianCurrency(t.StopLossPrice))
	}
	if d := st.LastDecision; d != nil {
		c.out.Println()
		c.out.Bold("Last decision")
		printDecision(c.out, d)
	}
}

// printDecision writes one decision line followed by its reasons.
func printDecision(out *Output, d *models.Decision) {
	ts := d.Timestamp.In(utils.IndiaLocation).Format(time.TimeOnly)
	line := fmt.Sprintf("[%s] %-8s %s", ts, out.ActionText(d.Action), d.Mode)
	if d.TradeID != "" {
		line += " trade=" + truncate(d.TradeID, 12)
	}
	out.Println(line)
	for _, r := range d.Reasons {
		out.Dim("  %s", r)
	}
}
