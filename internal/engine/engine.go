// Package engine drives a replay: the clock advances bars, the scheduler
// evaluates agents, the paper broker fills orders and the ledger books them.
package engine

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"replay-trader/internal/agents"
	"replay-trader/internal/broker"
	"replay-trader/internal/errors"
	"replay-trader/internal/logging"
	"replay-trader/internal/models"
	"replay-trader/internal/replay"
	"replay-trader/internal/store"
	"replay-trader/internal/stream"
	"replay-trader/internal/trading"
)

// Cadence selects what triggers a scheduler cycle.
type Cadence string

const (
	// CadenceBars runs a cycle every CycleBars replayed bars.
	CadenceBars Cadence = "bars"
	// CadenceTimer runs a cycle every CycleMs of wall-clock time.
	CadenceTimer Cadence = "timer"
)

const (
	DefaultCycleBars    = 15
	DefaultTickInterval = time.Second
)

// Config configures an Engine.
type Config struct {
	Agents          []models.AgentConfig
	Clock           replay.ClockConfig
	Cadence         Cadence
	CycleBars       int
	CycleMs         int
	TickInterval    time.Duration
	HistoryBars     int
	HistoryLimit    int
	ProviderTimeout time.Duration
	// Ledger carries the commission rate and retention limits. Its Now and
	// Logger are set by the engine.
	Ledger trading.LedgerConfig
	// VirtualTime stamps decisions and equity points with the bar time of
	// the replay instead of the wall clock.
	VirtualTime bool
	Logger      zerolog.Logger
}

// Deps are the optional collaborators of an Engine.
type Deps struct {
	// Store persists agent snapshots. Nil keeps them in memory.
	Store trading.SnapshotStore
	// Archive receives every booked decision. Nil disables archiving.
	Archive store.Archive
	// Hub receives bar, cycle, decision and reset events. Nil disables them.
	Hub *stream.Hub
}

// Status is a point-in-time view of the whole engine.
type Status struct {
	Replay    models.ReplayStatus     `json:"replay"`
	Scheduler agents.SchedulerState   `json:"scheduler"`
	Agents    []*models.AgentSnapshot `json:"agents"`
}

// Summary reports the outcome of RunToEnd.
type Summary struct {
	Bars     int    `json:"bars"`
	Cycles   int    `json:"cycles"`
	Duration string `json:"duration"`
	Status
}

// Engine owns one replay and the agents trading it.
type Engine struct {
	cfg       Config
	clock     *replay.Clock
	scheduler *agents.Scheduler
	ledger    *trading.Ledger
	brokers   map[string]*broker.PaperBroker
	archive   store.Archive
	hub       *stream.Hub
	logger    zerolog.Logger

	barsSinceCycle int
}

// New builds an engine over a frame batch. Agent documents already in the
// store are loaded and their brokers restored, so a replay can resume.
func New(frames []models.Frame, provider agents.Provider, deps Deps, cfg Config) (*Engine, error) {
	cfg = withDefaults(cfg)
	if len(cfg.Agents) == 0 {
		return nil, errors.Wrap(errors.ErrConfigInvalid, "no agents configured")
	}

	e := &Engine{
		cfg:     cfg,
		clock:   replay.NewClock(frames, cfg.Clock),
		brokers: make(map[string]*broker.PaperBroker),
		archive: deps.Archive,
		hub:     deps.Hub,
		logger:  logging.WithOperation(cfg.Logger, "engine"),
	}

	var timeSource agents.TimeSource = agents.SystemTime{}
	if cfg.VirtualTime {
		timeSource = replayTime{clock: e.clock}
	}

	ledgerCfg := cfg.Ledger
	ledgerCfg.Now = timeSource.Now
	ledgerCfg.Logger = cfg.Logger
	e.ledger = trading.NewLedger(deps.Store, ledgerCfg)
	e.scheduler = agents.NewScheduler(provider, e, e, agents.SchedulerConfig{
		CycleMs:         cfg.CycleMs,
		ProviderTimeout: cfg.ProviderTimeout,
		HistoryLimit:    cfg.HistoryLimit,
		Time:            timeSource,
		Logger:          cfg.Logger,
	})

	if stats := e.clock.Index().Stats(); stats.SkippedInvalid > 0 || stats.Duplicates > 0 {
		e.logger.Warn().
			Int("skipped", stats.SkippedInvalid).
			Int("duplicates", stats.Duplicates).
			Int("indexed", stats.FramesIndexed).
			Msg("frame batch had unusable entries")
	}

	symbols := e.clock.Symbols()
	for _, agent := range cfg.Agents {
		agent = agentDefaults(agent, symbols)
		if _, dup := e.brokers[agent.ID]; dup {
			return nil, errors.Wrapf(errors.ErrConfigInvalid, "duplicate agent id %q", agent.ID)
		}

		snap, err := e.ledger.EnsureAgent(agent)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load agent %s", agent.ID)
		}

		b := broker.NewPaperBroker(broker.PaperBrokerConfig{
			InitialBalance: agent.InitialBalance,
			CommissionRate: cfg.Ledger.CommissionRate,
			Now:            timeSource.Now,
		})
		b.Restore(snap)
		e.brokers[agent.ID] = b

		e.scheduler.AddAgent(agent)
		if err := e.scheduler.SeedCycle(agent.ID, snap.Stats.LastCycleNumber); err != nil {
			return nil, err
		}
	}

	return e, nil
}

func withDefaults(cfg Config) Config {
	if cfg.Cadence == "" {
		cfg.Cadence = CadenceBars
	}
	if cfg.CycleBars <= 0 {
		cfg.CycleBars = DefaultCycleBars
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.HistoryBars <= 0 {
		cfg.HistoryBars = agents.DefaultHistoryLimit
	}
	if cfg.Ledger.CommissionRate <= 0 {
		cfg.Ledger.CommissionRate = trading.DefaultCommissionRate
	}
	return cfg
}

// agentDefaults fills the symbol set, active symbol, lot size and balance.
func agentDefaults(agent models.AgentConfig, symbols []string) models.AgentConfig {
	if len(agent.Symbols) == 0 {
		agent.Symbols = append([]string(nil), symbols...)
	}
	if agent.ActiveSymbol == "" && len(agent.Symbols) > 0 {
		agent.ActiveSymbol = agent.Symbols[0]
	}
	if agent.LotSize <= 0 {
		agent.LotSize = agents.DefaultLotSize
	}
	if agent.InitialBalance <= 0 {
		agent.InitialBalance = broker.DefaultInitialBalance
	}
	return agent
}

// Clock returns the replay clock.
func (e *Engine) Clock() *replay.Clock { return e.clock }

// Scheduler returns the decision scheduler.
func (e *Engine) Scheduler() *agents.Scheduler { return e.scheduler }

// Ledger returns the portfolio ledger.
func (e *Engine) Ledger() *trading.Ledger { return e.ledger }

// Broker returns the paper broker of an agent.
func (e *Engine) Broker(agentID string) (*broker.PaperBroker, bool) {
	b, ok := e.brokers[agentID]
	return b, ok
}

// Apply executes a normalized decision on the agent's broker, books it in
// the ledger and archives it. It implements agents.DecisionSink.
func (e *Engine) Apply(ctx context.Context, agent models.AgentConfig, dc *agents.DecisionContext, d models.Decision) (models.Decision, error) {
	b, ok := e.brokers[agent.ID]
	if !ok {
		return d, errors.Wrapf(errors.ErrAgentNotFound, "no broker for %s", agent.ID)
	}
	log := logging.WithAgent(e.logger, agent.ID)

	if d.IsTrade() {
		side := models.OrderSideBuy
		if d.Action == models.ActionSell {
			side = models.OrderSideSell
		}
		res, err := b.PlaceOrder(ctx, &models.Order{
			AgentID:  agent.ID,
			Symbol:   d.Symbol,
			Side:     side,
			Quantity: d.Quantity,
			Tag:      d.ID,
		})
		switch {
		case err != nil:
			d.Executed = false
			d.RejectReason = err.Error()
			var oe *errors.OrderError
			if errors.As(err, &oe) {
				d.RejectReason = oe.Reason
			}
			if res != nil {
				d.OrderID = res.Order.ID
			}
			symLog := logging.WithSymbol(log, d.Symbol)
			symLog.Info().Str("reason", d.RejectReason).Int("cycle", d.CycleNumber).Msg("order rejected")
		default:
			d.Executed = true
			d.OrderID = res.Order.ID
			d.FilledQuantity = res.Order.FilledQty
			d.Price = res.Order.AveragePrice
			d.Notional = res.Notional
			d.Fee = res.Order.Fee
		}
	}

	account, err := b.GetAccount(ctx)
	if err != nil {
		return d, err
	}
	positions, err := b.GetPositions(ctx)
	if err != nil {
		return d, err
	}
	d.AccountState = account.State(positions)

	result, err := e.ledger.RecordSnapshot(ctx, trading.SnapshotInput{
		Agent:     agent,
		Decision:  d,
		Account:   *account,
		Positions: positions,
		Replay:    e.clock.Status(),
	})
	if err != nil {
		// The broker must not run ahead of the last committed snapshot.
		if snap, serr := e.ledger.GetSnapshot(agent.ID); serr == nil {
			b.Restore(snap)
		}
		return d, err
	}

	if d.Fee == 0 {
		d.Fee = result.Fee
	}
	e.archiveDecision(ctx, log, agent.ID, &d, result.Closed)
	e.publish(stream.Event{
		Type:       stream.EventDecision,
		AgentID:    agent.ID,
		Symbol:     d.Symbol,
		BarTsMs:    d.BarTsMs,
		TradingDay: d.TradingDay,
		Decision:   &d,
	})
	return d, nil
}

func (e *Engine) archiveDecision(ctx context.Context, log zerolog.Logger, agentID string, d *models.Decision, closed []models.ClosedPosition) {
	if e.archive == nil {
		return
	}
	if err := e.archive.SaveDecision(ctx, d); err != nil {
		log.Warn().Err(err).Int("cycle", d.CycleNumber).Msg("failed to archive decision")
	}
	if err := e.archive.SaveClosedPositions(ctx, agentID, closed); err != nil {
		log.Warn().Err(err).Int("cycle", d.CycleNumber).Msg("failed to archive closed positions")
	}
}

func (e *Engine) publish(ev stream.Event) {
	if e.hub != nil {
		e.hub.Publish(ev)
	}
}

// advance reacts to bars the clock moved onto. In bars cadence it runs at
// most one cycle per call once enough bars have passed.
func (e *Engine) advance(ctx context.Context, emitted []int64) bool {
	if len(emitted) == 0 {
		return false
	}
	status := e.clock.Status()
	for _, ts := range emitted {
		e.publish(stream.Event{Type: stream.EventBar, BarTsMs: ts, TradingDay: status.TradingDay, Replay: &status})
	}

	if e.cfg.Cadence != CadenceBars {
		return false
	}
	e.barsSinceCycle += len(emitted)
	if e.barsSinceCycle < e.cfg.CycleBars {
		return false
	}
	e.barsSinceCycle = 0
	return e.runCycle(ctx)
}

func (e *Engine) runCycle(ctx context.Context) bool {
	before := e.scheduler.State()
	if !e.scheduler.RunCycleOnce(ctx) {
		return false
	}
	after := e.scheduler.State()
	status := e.clock.Status()
	e.publish(stream.Event{
		Type:       stream.EventCycle,
		BarTsMs:    status.CurrentTsMs,
		TradingDay: status.TradingDay,
		Replay:     &status,
		Succeeded:  after.SuccessCount - before.SuccessCount,
		Failed:     after.FailureCount - before.FailureCount,
	})
	return true
}

// Step advances up to n bars one at a time, running cycles on the bars
// cadence. It returns the number of bars advanced.
func (e *Engine) Step(ctx context.Context, n int) int {
	advanced := 0
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		emitted := e.clock.Step(1)
		if len(emitted) == 0 {
			break
		}
		advanced++
		e.advance(ctx, emitted)
	}
	return advanced
}

// RunCycle forces one scheduler cycle at the current replay position.
func (e *Engine) RunCycle(ctx context.Context) bool {
	return e.runCycle(ctx)
}

// RunToEnd replays the remaining timeline bar by bar without waiting on the
// wall clock, running a cycle every CycleBars bars. Looping is disabled for
// the run. The result is fully determined by the frames, the provider and
// the starting state.
func (e *Engine) RunToEnd(ctx context.Context) (*Summary, error) {
	if e.clock.Index().Len() == 0 {
		return nil, errors.ErrEmptyTimeline
	}
	start := time.Now()
	e.clock.SetLoop(false)

	cadence := e.cfg.Cadence
	e.cfg.Cadence = CadenceBars
	defer func() { e.cfg.Cadence = cadence }()

	passes := e.scheduler.State().Passes
	bars := 0
	for !e.clock.AtEnd() {
		if err := ctx.Err(); err != nil {
			return e.summary(bars, passes, start), err
		}
		n := e.Step(ctx, 1)
		if n == 0 {
			break
		}
		bars += n
	}

	e.logger.Info().Int("bars", bars).Int("cycles", e.scheduler.State().Passes-passes).Dur("took", time.Since(start)).Msg("replay finished")
	return e.summary(bars, passes, start), nil
}

func (e *Engine) summary(bars, passesBefore int, start time.Time) *Summary {
	st := e.Status()
	return &Summary{
		Bars:     bars,
		Cycles:   st.Scheduler.Passes - passesBefore,
		Duration: time.Since(start).Round(time.Millisecond).String(),
		Status:   st,
	}
}

// Run drives the clock from the wall clock until ctx is done or a
// non-looping replay reaches its end. In timer cadence the scheduler runs
// on its own ticker.
func (e *Engine) Run(ctx context.Context) error {
	if e.clock.Index().Len() == 0 {
		return errors.ErrEmptyTimeline
	}
	if e.cfg.Cadence == CadenceTimer {
		e.scheduler.Resume(ctx)
		defer e.scheduler.Pause()
	}

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	last := time.Now()
	e.logger.Info().Str("cadence", string(e.cfg.Cadence)).Int("timeline", e.clock.Index().Len()).Msg("replay started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("replay stopped")
			return nil
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now
			e.advance(ctx, e.clock.Tick(elapsed.Milliseconds()))
			if e.clock.AtEnd() {
				e.logger.Info().Msg("replay reached the end of the timeline")
				return nil
			}
		}
	}
}

// Status returns the replay, scheduler and agent state.
func (e *Engine) Status() Status {
	return Status{
		Replay:    e.clock.Status(),
		Scheduler: e.scheduler.State(),
		Agents:    e.ledger.Snapshots(),
	}
}

// Reset clears every agent: ledger documents, archive rows, broker state and
// decision history. Replay position is kept.
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.ledger.ResetAll(ctx); err != nil {
		return err
	}
	if e.archive != nil {
		if err := e.archive.Reset(ctx); err != nil {
			return err
		}
	}

	ids := make([]string, 0, len(e.brokers))
	for id := range e.brokers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		e.brokers[id].Reset()
	}
	e.scheduler.ClearHistory()
	e.publish(stream.Event{Type: stream.EventReset, Message: "all agents reset"})
	e.logger.Info().Strs("agents", ids).Msg("agents reset")
	return nil
}

// Close stops the scheduler timer and releases the archive.
func (e *Engine) Close() error {
	e.scheduler.Pause()
	if e.archive != nil {
		return e.archive.Close()
	}
	return nil
}

// replayTime reports the bar under the replay cursor as the current time.
// Tickers still run on the wall clock.
type replayTime struct {
	clock *replay.Clock
}

func (r replayTime) Now() time.Time {
	if ts := r.clock.CurrentTsMs(); ts > 0 {
		return time.UnixMilli(ts).UTC()
	}
	return time.Now()
}

func (r replayTime) NewTicker(d time.Duration) agents.Ticker {
	return agents.SystemTime{}.NewTicker(d)
}
