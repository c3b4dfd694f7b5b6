package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"replay-trader/internal/agents"
	"replay-trader/internal/engine"
	"replay-trader/internal/errors"
	"replay-trader/internal/models"
	"replay-trader/internal/replay"
	"replay-trader/internal/resilience"
	"replay-trader/internal/store"
	"replay-trader/internal/stream"
	"replay-trader/internal/trading"
	"replay-trader/pkg/utils"
)

// demoSymbols are replayed by --demo when no agent names its symbols.
var demoSymbols = []string{"600000.SH", "000001.SZ", "600519.SH"}

// addReplayCommands adds the replay, inspection and reset commands.
func addReplayCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newBacktestCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newSnapshotCmd(app))
	rootCmd.AddCommand(newDecisionsCmd(app))
	rootCmd.AddCommand(newClosedCmd(app))
	rootCmd.AddCommand(newResetCmd(app))
}

// frameFlags are shared by run and backtest.
type frameFlags struct {
	demo     bool
	demoDays int
	seed     int64
	frames   string
}

func (f *frameFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.demo, "demo", false, "replay generated bars instead of a frames file")
	cmd.Flags().IntVar(&f.demoDays, "days", 2, "trading days generated by --demo")
	cmd.Flags().Int64Var(&f.seed, "seed", 1, "random seed of --demo")
	cmd.Flags().StringVar(&f.frames, "frames", "", "frames file (overrides replay.frames_path)")
}

// loadFrames reads the configured frames file or generates demo bars.
func (a *App) loadFrames(f frameFlags) ([]models.Frame, error) {
	if f.demo {
		return replay.SyntheticFrames(replay.SyntheticConfig{
			Symbols:  a.agentSymbols(),
			StartDay: time.Date(2024, 1, 2, 0, 0, 0, 0, utils.ShanghaiLocation),
			Days:     f.demoDays,
			Seed:     f.seed,
		}), nil
	}

	path := f.frames
	if path == "" {
		path = a.Config.Replay.FramesPath
	}
	if path == "" {
		return nil, errors.Wrap(errors.ErrConfigInvalid, "no frames file: set replay.frames_path, pass --frames or use --demo")
	}
	return replay.LoadFrames(path)
}

// agentSymbols returns the sorted union of the configured agent symbols.
func (a *App) agentSymbols() []string {
	seen := make(map[string]bool)
	var symbols []string
	for _, agent := range a.Config.Agents {
		for _, s := range agent.Symbols {
			if !seen[s] {
				seen[s] = true
				symbols = append(symbols, s)
			}
		}
	}
	if len(symbols) == 0 {
		return demoSymbols
	}
	sort.Strings(symbols)
	return symbols
}

// newProvider builds the provider registry. Rule strategies always run
// offline; the chat model serves the llm strategy and, when it is the
// configured kind, every agent without a known strategy.
func (a *App) newProvider() agents.Provider {
	p := a.Config.Provider
	rules := agents.NewRuleProvider(agents.RuleProviderConfig{
		ShortPeriod: p.Rules.ShortPeriod,
		LongPeriod:  p.Rules.LongPeriod,
		RSIPeriod:   p.Rules.RSIPeriod,
		Oversold:    p.Rules.Oversold,
		Overbought:  p.Rules.Overbought,
		PositionPct: p.Rules.PositionPct,
	})

	registry := agents.Registry{
		"":                          rules,
		agents.StrategySMACrossover: rules,
		agents.StrategyRSIOversold:  rules,
		agents.StrategyHold:         rules,
	}
	if p.APIKey != "" {
		llm := agents.NewGuardedProvider(
			agents.NewOpenAIProvider(agents.NewOpenAIClient(p.APIKey, p.BaseURL, p.Model), p.Bars),
			resilience.NewRateLimiter(p.RateLimit, p.Burst),
			resilience.NewCircuitBreaker("openai", resilience.CircuitBreakerConfig{
				FailureThreshold: p.FailureThreshold,
				Cooldown:         p.Cooldown,
				Logger:           a.Logger,
			}),
		)
		registry[agents.StrategyLLM] = llm
		if strings.EqualFold(p.Kind, "openai") {
			registry[""] = llm
		}
	}
	return registry
}

// engineConfig maps the file configuration onto the engine.
func (a *App) engineConfig() engine.Config {
	c := a.Config
	return engine.Config{
		Agents: c.Agents,
		Clock: replay.ClockConfig{
			Speed:      c.Replay.Speed,
			WarmupBars: c.Replay.WarmupBars,
			Loop:       c.Replay.Loop,
		},
		Cadence:         engine.Cadence(c.Replay.Cadence),
		CycleBars:       c.Replay.CycleBars,
		CycleMs:         c.Scheduler.CycleMs,
		TickInterval:    c.Replay.TickInterval,
		HistoryBars:     c.Replay.HistoryBars,
		HistoryLimit:    c.Scheduler.HistoryLimit,
		ProviderTimeout: c.Scheduler.ProviderTimeout,
		Ledger: trading.LedgerConfig{
			CommissionRate:  c.Ledger.CommissionRate,
			JournalDays:     c.Ledger.JournalDays,
			RecentActions:   c.Ledger.RecentActions,
			ClosedPositions: c.Ledger.ClosedPositions,
			EquityPoints:    c.Ledger.EquityPoints,
		},
		VirtualTime: c.Replay.VirtualTime,
		Logger:      a.Logger,
	}
}

// openFileStore opens the per-agent snapshot store.
func (a *App) openFileStore() (*store.FileStore, error) {
	if err := a.Config.EnsureDataDir(); err != nil {
		return nil, err
	}
	return store.NewFileStore(a.Config.DataDir)
}

// openArchive opens the decision archive, or returns nil when disabled.
func (a *App) openArchive() (store.Archive, error) {
	if !a.Config.Archive.Enabled {
		return nil, nil
	}
	if err := a.Config.EnsureDataDir(); err != nil {
		return nil, err
	}
	archive, err := store.NewSQLiteArchive(a.Config.Archive.Path)
	if err != nil {
		return nil, err
	}
	return archive, nil
}

// newEngine wires the persistence layers into an engine over frames.
func (a *App) newEngine(frames []models.Frame, hub *stream.Hub) (*engine.Engine, error) {
	fs, err := a.openFileStore()
	if err != nil {
		return nil, err
	}
	archive, err := a.openArchive()
	if err != nil {
		return nil, err
	}

	deps := engine.Deps{Store: fs, Archive: archive, Hub: hub}
	e, err := engine.New(frames, a.newProvider(), deps, a.engineConfig())
	if err != nil {
		if archive != nil {
			archive.Close()
		}
		return nil, err
	}
	return e, nil
}

func newRunCmd(app *App) *cobra.Command {
	var (
		frames frameFlags
		speed  float64
		loop   bool
		quiet  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay bars in real time and let the agents trade",
		Long: `Replays the frames at the configured speed (virtual bars per real minute)
and runs a decision cycle for every agent on the configured cadence. Agent
state is saved after every cycle, so a stopped replay can be resumed.

Press Ctrl-C to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if cmd.Flags().Changed("speed") {
				app.Config.Replay.Speed = speed
			}
			if cmd.Flags().Changed("loop") {
				app.Config.Replay.Loop = loop
			}

			data, err := app.loadFrames(frames)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			hub := stream.NewHub()
			hub.Start(ctx)
			defer hub.Stop()
			var console stream.Consumer
			if !quiet {
				console = stream.NewConsumerFunc(
					[]stream.EventType{stream.EventDecision, stream.EventCycle},
					func(ev stream.Event) { printEvent(output, ev) },
				)
				hub.RegisterConsumer(console)
			}

			e, err := app.newEngine(data, hub)
			if err != nil {
				return err
			}
			defer e.Close()

			st := e.Clock().Status()
			if !output.IsJSON() {
				output.Info("Replaying %d bars of %s at %.1f bars/min, cursor %s",
					st.TimelineLength, joinSymbols(st.Symbols), st.Speed, FormatProgress(st.Cursor, st.TimelineLength))
				output.Dim("Press Ctrl-C to stop")
			}

			start := time.Now()
			runErr := e.Run(ctx)
			if console != nil {
				// Stop event lines before the summary.
				hub.UnregisterConsumer(console)
			}
			if runErr != nil {
				return runErr
			}

			status := e.Status()
			if output.IsJSON() {
				return output.JSON(status)
			}
			output.Println()
			output.Printf("Stopped after %s at %s %s\n", FormatDuration(time.Since(start)), FormatProgress(status.Replay.Cursor, status.Replay.TimelineLength), output.ReplayState(status.Replay))
			renderAgents(output, status.Agents)
			return nil
		},
	}

	frames.register(cmd)
	cmd.Flags().Float64Var(&speed, "speed", 0, "virtual bars per real minute (overrides replay.speed)")
	cmd.Flags().BoolVar(&loop, "loop", false, "wrap to the first bar at the end of the timeline")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print decisions as they happen")
	return cmd
}

// printEvent renders one live decision or cycle event.
func printEvent(output *Output, ev stream.Event) {
	if output.IsJSON() {
		output.JSON(ev)
		return
	}
	switch ev.Type {
	case stream.EventDecision:
		d := ev.Decision
		if d == nil {
			return
		}
		line := fmt.Sprintf("%s  %-10s #%-4d %s %s", FormatBarTime(d.BarTsMs), d.AgentID, d.CycleNumber, output.Action(d.Action), d.Symbol)
		if d.IsTrade() {
			if d.Executed {
				line += fmt.Sprintf(" %s @ %s fee %s", utils.FormatQuantity(int64(d.FilledQuantity)), FormatPrice(d.Price), FormatPrice(d.Fee))
			} else {
				line += " " + output.Red("rejected: "+d.RejectReason)
			}
		}
		output.Println(line)
	case stream.EventCycle:
		if ev.Failed > 0 {
			output.Warning("cycle: %d ok, %d failed", ev.Succeeded, ev.Failed)
		}
	}
}

func newBacktestCmd(app *App) *cobra.Command {
	var (
		frames frameFlags
		report bool
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay every bar as fast as possible",
		Long: `Steps the replay bar by bar from the warmup position to the end of the
timeline, running a decision cycle every replay.cycle_bars bars. The result
only depends on the frames, the configuration and the persisted agent state.`,
		Example: `  replay-trader backtest --demo
  replay-trader backtest --frames bars.json --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			data, err := app.loadFrames(frames)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := app.newEngine(data, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			summary, err := e.RunToEnd(ctx)
			if err != nil && summary == nil {
				return err
			}
			var reports []trading.Report
			if report {
				for _, snap := range summary.Agents {
					reports = append(reports, trading.BuildReport(snap))
				}
				reports = trading.CompareReports(reports)
			}
			if output.IsJSON() {
				if report {
					return output.JSON(map[string]interface{}{"summary": summary, "reports": reports})
				}
				return output.JSON(summary)
			}

			output.Bold("Backtest complete")
			output.Printf("  Bars:      %d\n", summary.Bars)
			output.Printf("  Cycles:    %d (%d ok, %d failed)\n", summary.Cycles, summary.Scheduler.SuccessCount, summary.Scheduler.FailureCount)
			output.Printf("  Took:      %s\n", summary.Duration)
			output.Println()
			renderAgents(output, summary.Agents)
			if report {
				output.Println()
				renderReports(output, reports, summary.Agents)
			}
			return err
		},
	}

	frames.register(cmd)
	cmd.Flags().BoolVar(&report, "report", false, "add trade statistics and equity charts")
	return cmd
}

// renderReports prints the ranked trade statistics and one equity chart
// per agent.
func renderReports(output *Output, reports []trading.Report, snaps []*models.AgentSnapshot) {
	table := NewTable(output, "Rank", "Agent", "Return", "Closed", "Win%", "Avg win", "Avg loss", "PF", "Expectancy", "Sharpe")
	for i, r := range reports {
		table.AddRow(
			fmt.Sprintf("%d", i+1),
			r.AgentID,
			output.FormatPercent(r.TotalReturn),
			fmt.Sprintf("%d", r.ClosedTrades),
			fmt.Sprintf("%.0f", r.WinRate),
			FormatPrice(r.AvgWin),
			FormatPrice(r.AvgLoss),
			fmt.Sprintf("%.2f", r.ProfitFactor),
			output.FormatPnL(r.Expectancy),
			fmt.Sprintf("%.2f", r.SharpeRatio),
		)
	}
	table.Render()

	for _, snap := range snaps {
		output.Println()
		output.Bold(snap.AgentID)
		output.Print("%s", trading.EquityChart(snap.EquityCurve, 60, 8))
	}
}

// renderAgents prints a one-row-per-agent performance table.
func renderAgents(output *Output, snaps []*models.AgentSnapshot) {
	if len(snaps) == 0 {
		output.Dim("No agents")
		return
	}
	table := NewTable(output, "Agent", "Equity", "P&L", "Return", "Realized", "Fees", "Trades", "Win%", "MaxDD")
	for _, s := range snaps {
		st := s.Stats
		table.AddRow(
			s.AgentID,
			utils.FormatCurrency(st.TotalEquity),
			output.FormatPnL(st.TotalPnL),
			output.FormatPercent(st.TotalPnLPct),
			output.FormatPnL(st.RealizedPnL),
			utils.FormatCurrency(st.TotalFeesPaid),
			fmt.Sprintf("%d/%d", st.BuyTrades, st.SellTrades),
			fmt.Sprintf("%.0f", st.WinRate()),
			fmt.Sprintf("%.2f%%", st.MaxDrawdownPct),
		)
	}
	table.Render()
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the saved state of every agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			fs, err := app.openFileStore()
			if err != nil {
				return err
			}

			ids, err := fs.List()
			if err != nil {
				return err
			}
			known := make(map[string]bool, len(ids))
			for _, id := range ids {
				known[id] = true
			}
			for _, a := range app.Config.Agents {
				if !known[a.ID] {
					ids = append(ids, a.ID)
					known[a.ID] = true
				}
			}

			var snaps []*models.AgentSnapshot
			for _, id := range ids {
				snap, err := fs.Load(id)
				if errors.Is(err, errors.ErrSnapshotNotFound) {
					continue
				}
				if err != nil {
					output.Warning("%s: %v", id, err)
					continue
				}
				snaps = append(snaps, snap)
			}

			if output.IsJSON() {
				return output.JSON(snaps)
			}
			if len(snaps) == 0 {
				output.Dim("No saved agent state in %s", fs.Dir())
				return nil
			}
			renderAgents(output, snaps)
			output.Println()
			for _, s := range snaps {
				output.Dim("%s: cycle %d, %d open lots, updated %s", s.AgentID, s.Stats.LastCycleNumber, len(s.OpenLots), FormatDateTime(s.UpdatedAt))
			}
			return nil
		},
	}
}

func newSnapshotCmd(app *App) *cobra.Command {
	var closedLimit int

	cmd := &cobra.Command{
		Use:   "snapshot <agent>",
		Short: "Show the saved portfolio of one agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			fs, err := app.openFileStore()
			if err != nil {
				return err
			}
			snap, err := fs.Load(args[0])
			if err != nil {
				if errors.Is(err, errors.ErrSnapshotNotFound) {
					return fmt.Errorf("no saved state for agent %q", args[0])
				}
				return err
			}
			if output.IsJSON() {
				return output.JSON(snap)
			}
			renderSnapshot(output, snap, closedLimit)
			return nil
		},
	}

	cmd.Flags().IntVar(&closedLimit, "closed", 10, "closed positions to show")
	return cmd
}

func renderSnapshot(output *Output, snap *models.AgentSnapshot, closedLimit int) {
	st := snap.Stats
	output.Box(fmt.Sprintf("%s (%s)", snap.Config.DisplayName(), snap.AgentID), []string{
		fmt.Sprintf("Equity     %s", utils.FormatCurrency(st.TotalEquity)),
		fmt.Sprintf("Cash       %s", utils.FormatCurrency(st.AvailableBalance)),
		fmt.Sprintf("P&L        %s (%s)", output.FormatPnL(st.TotalPnL), output.FormatPercent(st.TotalPnLPct)),
		fmt.Sprintf("Realized   %s", output.FormatPnL(st.RealizedPnL)),
		fmt.Sprintf("Unrealized %s", output.FormatPnL(st.UnrealizedPnL)),
		fmt.Sprintf("Fees       %s", utils.FormatCurrency(st.TotalFeesPaid)),
		fmt.Sprintf("Max DD     %.2f%%", st.MaxDrawdownPct),
		fmt.Sprintf("Decisions  %d (buy %d, sell %d, hold %d)", st.Decisions, st.BuyTrades, st.SellTrades, st.Holds),
		fmt.Sprintf("Cycle      %d", st.LastCycleNumber),
	})
	output.Println()

	output.Bold("Open lots")
	if len(snap.OpenLots) == 0 {
		output.Dim("  none")
	} else {
		table := NewTable(output, "Symbol", "Qty", "Entry", "Fee left", "Opened", "Order")
		for _, lot := range snap.OpenLots {
			table.AddRow(
				lot.Symbol,
				fmt.Sprintf("%d/%d", lot.RemainingQty, lot.EntryQty),
				FormatPrice(lot.EntryPrice),
				FormatPrice(lot.EntryFeeRemaining),
				FormatDateTime(lot.EntryTime),
				TruncateString(lot.EntryOrderID, 16),
			)
		}
		table.Render()
	}
	output.Println()

	output.Bold("Closed positions")
	closed := snap.ClosedPositions
	if closedLimit > 0 && len(closed) > closedLimit {
		closed = closed[len(closed)-closedLimit:]
	}
	renderClosed(output, closed)

	if n := len(snap.EquityCurve); n > 0 {
		last := snap.EquityCurve[n-1]
		output.Println()
		output.Dim("%d equity points, last %s at %s", n, utils.FormatCurrency(last.TotalEquity), FormatDateTime(last.Timestamp))
	}
}

func renderClosed(output *Output, closed []models.ClosedPosition) {
	if len(closed) == 0 {
		output.Dim("  none")
		return
	}
	table := NewTable(output, "Symbol", "Qty", "Entry", "Exit", "Fee", "P&L", "Closed")
	for _, c := range closed {
		table.AddRow(
			c.Symbol,
			utils.FormatQuantity(int64(c.Quantity)),
			FormatPrice(c.EntryPrice),
			FormatPrice(c.ExitPrice),
			FormatPrice(c.Fee),
			output.FormatPnL(c.RealizedPnL),
			FormatDateTime(c.ExitTime),
		)
	}
	table.Render()
}

func newDecisionsCmd(app *App) *cobra.Command {
	var (
		filter   store.DecisionFilter
		action   string
		executed bool
		stats    bool
	)

	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "Query the decision archive",
		Example: `  replay-trader decisions --agent sma-1 --limit 20
  replay-trader decisions --action sell --executed
  replay-trader decisions --stats --agent rsi-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			archive, err := app.openArchive()
			if err != nil {
				return err
			}
			if archive == nil {
				return errors.Wrap(errors.ErrConfigInvalid, "decision archive is disabled")
			}
			defer archive.Close()
			ctx := cmd.Context()

			if stats {
				s, err := archive.GetDecisionStats(ctx, filter.AgentID)
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(s)
				}
				renderDecisionStats(output, filter.AgentID, s)
				return nil
			}

			if action != "" {
				filter.Action = models.Action(strings.ToLower(action))
			}
			if cmd.Flags().Changed("executed") {
				filter.Executed = &executed
			}
			decisions, err := archive.GetDecisions(ctx, filter)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(decisions)
			}
			if len(decisions) == 0 {
				output.Dim("No decisions")
				return nil
			}

			table := NewTable(output, "Bar", "Agent", "Cycle", "Action", "Symbol", "Qty", "Price", "Conf", "Result")
			for _, d := range decisions {
				result := "-"
				if d.IsTrade() {
					if d.Executed {
						result = output.Green("filled")
					} else {
						result = output.Red(TruncateString(d.RejectReason, 24))
					}
				}
				table.AddRow(
					FormatBarTime(d.BarTsMs),
					d.AgentID,
					fmt.Sprintf("%d", d.CycleNumber),
					output.Action(d.Action),
					d.Symbol,
					utils.FormatQuantity(int64(d.Quantity)),
					FormatPrice(d.Price),
					FormatConfidence(d.Confidence),
					result,
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.AgentID, "agent", "", "only this agent")
	cmd.Flags().StringVar(&filter.Symbol, "symbol", "", "only this symbol")
	cmd.Flags().StringVar(&action, "action", "", "only buy, sell or hold")
	cmd.Flags().BoolVar(&executed, "executed", false, "only executed (or, with =false, unexecuted) decisions")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum rows")
	cmd.Flags().BoolVar(&stats, "stats", false, "show aggregate statistics instead of rows")
	return cmd
}

func renderDecisionStats(output *Output, agentID string, s *store.DecisionStats) {
	title := "All agents"
	if agentID != "" {
		title = agentID
	}
	output.Box(title, []string{
		fmt.Sprintf("Decisions   %d (%d executed)", s.TotalDecisions, s.Executed),
		fmt.Sprintf("Orders      %d buys, %d sells, %d holds", s.Buys, s.Sells, s.Holds),
		fmt.Sprintf("Confidence  %s avg", FormatConfidence(s.AvgConfidence)),
		fmt.Sprintf("Fees        %s", utils.FormatCurrency(s.TotalFees)),
		fmt.Sprintf("Realized    %s", output.FormatPnL(s.RealizedPnL)),
		fmt.Sprintf("Wins/Losses %d/%d", s.Wins, s.Losses),
	})

	symbols := make([]string, 0, len(s.BySymbol))
	for sym := range s.BySymbol {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		output.Printf("  %s %d\n", PadRight(sym, 12), s.BySymbol[sym])
	}
}

func newClosedCmd(app *App) *cobra.Command {
	var filter store.ClosedFilter

	cmd := &cobra.Command{
		Use:   "closed",
		Short: "Query archived closed positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			archive, err := app.openArchive()
			if err != nil {
				return err
			}
			if archive == nil {
				return errors.Wrap(errors.ErrConfigInvalid, "decision archive is disabled")
			}
			defer archive.Close()

			closed, err := archive.GetClosedPositions(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(closed)
			}
			renderClosed(output, closed)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.AgentID, "agent", "", "only this agent")
	cmd.Flags().StringVar(&filter.Symbol, "symbol", "", "only this symbol")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum rows")
	return cmd
}

func newResetCmd(app *App) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the saved state and archive of every agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if !yes {
				return fmt.Errorf("reset deletes all agent state in %s; pass --yes to confirm", app.Config.DataDir)
			}

			e, err := app.newEngine(nil, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := e.Reset(ctx); err != nil {
				output.Error("Reset failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]bool{"reset": true})
			}
			output.Success("✓ Agent state and archive cleared")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the reset")
	return cmd
}
