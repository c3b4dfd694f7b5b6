package agents

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"replay-trader/internal/errors"
	"replay-trader/internal/logging"
	"replay-trader/internal/models"
	"replay-trader/pkg/utils"
)

const (
	MinCycleMs             = 3000
	MaxCycleMs             = 120000
	DefaultCycleMs         = 15000
	DefaultHistoryLimit    = 120
	DefaultProviderTimeout = 30 * time.Second
)

// Ticker is the subset of time.Ticker the scheduler needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TimeSource supplies wall-clock time and tickers.
type TimeSource interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// SystemTime is the real clock.
type SystemTime struct{}

func (SystemTime) Now() time.Time { return time.Now() }

func (SystemTime) NewTicker(d time.Duration) Ticker {
	return systemTicker{time.NewTicker(d)}
}

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

// DecisionSink executes and books a normalized decision. It returns the
// decision completed with its execution report.
type DecisionSink interface {
	Apply(ctx context.Context, agent models.AgentConfig, dc *DecisionContext, decision models.Decision) (models.Decision, error)
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	CycleMs         int
	ProviderTimeout time.Duration
	HistoryLimit    int
	Time            TimeSource
	Logger          zerolog.Logger
}

// AgentState is the per-agent part of SchedulerState.
type AgentState struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	CycleNumber int    `json:"cycle_number"`
	Success     int    `json:"success"`
	Failure     int    `json:"failure"`
	History     int    `json:"history"`
	LastError   string `json:"last_error,omitempty"`
}

// SchedulerState is a point-in-time view of the scheduler.
type SchedulerState struct {
	Running      bool         `json:"running"`
	CycleMs      int          `json:"cycle_ms"`
	InFlight     bool         `json:"in_flight"`
	Passes       int          `json:"passes"`
	SuccessCount int          `json:"success_count"`
	FailureCount int          `json:"failure_count"`
	LastCycleAt  time.Time    `json:"last_cycle_at"`
	Agents       []AgentState `json:"agents"`
}

type agentSlot struct {
	cfg       models.AgentConfig
	cycle     int
	history   []models.Decision // most recent first
	success   int
	failure   int
	lastError string
}

// Scheduler evaluates every agent once per cycle. At most one cycle is in
// flight for the whole scheduler and agents are evaluated sequentially.
type Scheduler struct {
	provider Provider
	contexts ContextBuilder
	sink     DecisionSink
	clock    TimeSource
	logger   zerolog.Logger
	timeout  time.Duration
	limit    int

	inFlight atomic.Bool

	mu           sync.RWMutex
	agents       []*agentSlot
	byID         map[string]*agentSlot
	running      bool
	cycleMs      int
	passes       int
	successCount int
	failureCount int
	lastCycleAt  time.Time

	timerMu  sync.Mutex
	timerCtx context.Context
	stop     chan struct{}
}

// NewScheduler creates a paused scheduler.
func NewScheduler(provider Provider, contexts ContextBuilder, sink DecisionSink, cfg SchedulerConfig) *Scheduler {
	if cfg.Time == nil {
		cfg.Time = SystemTime{}
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.CycleMs == 0 {
		cfg.CycleMs = DefaultCycleMs
	}
	return &Scheduler{
		provider: provider,
		contexts: contexts,
		sink:     sink,
		clock:    cfg.Time,
		logger:   logging.WithOperation(cfg.Logger, "scheduler"),
		timeout:  cfg.ProviderTimeout,
		limit:    cfg.HistoryLimit,
		byID:     make(map[string]*agentSlot),
		cycleMs:  utils.ClampInt(cfg.CycleMs, MinCycleMs, MaxCycleMs),
	}
}

// AddAgent registers an agent. Re-adding an id replaces its config and keeps
// its counters and history.
func (s *Scheduler) AddAgent(cfg models.AgentConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot, ok := s.byID[cfg.ID]; ok {
		slot.cfg = cfg
		return
	}
	slot := &agentSlot{cfg: cfg}
	s.agents = append(s.agents, slot)
	s.byID[cfg.ID] = slot
}

// Agents returns the registered agent configs in registration order.
func (s *Scheduler) Agents() []models.AgentConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AgentConfig, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a.cfg)
	}
	return out
}

// SeedCycle sets the next cycle of an agent to follow n, typically the last
// cycle recorded by the ledger. It never moves the counter backwards.
func (s *Scheduler) SeedCycle(agentID string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.byID[agentID]
	if !ok {
		return errors.Wrapf(errors.ErrAgentNotFound, "seeding %s", agentID)
	}
	if n > slot.cycle {
		slot.cycle = n
	}
	return nil
}

// RunCycleOnce evaluates every agent once. It returns false without doing
// anything when another cycle is still in flight.
func (s *Scheduler) RunCycleOnce(ctx context.Context) bool {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Debug().Msg("cycle already in flight, skipping")
		return false
	}
	defer s.inFlight.Store(false)

	start := s.clock.Now()

	s.mu.RLock()
	slots := append([]*agentSlot(nil), s.agents...)
	s.mu.RUnlock()

	succeeded, failed := 0, 0
	for _, slot := range slots {
		if err := s.evaluate(ctx, slot); err != nil {
			failed++
			continue
		}
		succeeded++
	}

	s.mu.Lock()
	s.passes++
	s.lastCycleAt = start
	s.mu.Unlock()

	logging.LogCycle(s.logger, succeeded, failed, s.clock.Now().Sub(start))
	return true
}

// StepOnce forces one cycle regardless of the timer state.
func (s *Scheduler) StepOnce(ctx context.Context) bool {
	return s.RunCycleOnce(ctx)
}

func (s *Scheduler) evaluate(ctx context.Context, slot *agentSlot) error {
	s.mu.Lock()
	slot.cycle++
	cycle := slot.cycle
	agent := slot.cfg
	s.mu.Unlock()

	log := logging.WithAgent(s.logger, agent.ID)
	ctx = logging.WithLogger(ctx, log)

	if s.contexts == nil {
		return s.fail(slot, log, errors.NewProviderError(agent.ID, cycle, ReasonMissingContext, errors.ErrMissingContext))
	}
	dc, err := s.contexts.BuildContext(ctx, agent)
	if err != nil || dc == nil {
		if err == nil {
			err = errors.ErrMissingContext
		}
		return s.fail(slot, log, errors.NewProviderError(agent.ID, cycle, ReasonMissingContext, err))
	}

	payload, err := s.decide(ctx, Request{Agent: agent, CycleNumber: cycle, Context: dc})
	if err != nil {
		return s.fail(slot, log, err)
	}

	raw, err := DecodePayload(payload)
	if err != nil {
		var pe *errors.ProviderError
		if errors.As(err, &pe) {
			pe.AgentID, pe.Cycle = agent.ID, cycle
		}
		return s.fail(slot, log, err)
	}

	decision := Normalize(raw, dc)
	decision.ID = models.DecisionID(agent.ID, cycle)
	decision.AgentID = agent.ID
	decision.CycleNumber = cycle
	decision.Timestamp = s.clock.Now()

	if s.sink != nil {
		decision, err = s.sink.Apply(ctx, agent, dc, decision)
		if err != nil {
			return s.fail(slot, log, errors.NewProviderError(agent.ID, cycle, ReasonSinkError, err))
		}
	}

	s.mu.Lock()
	slot.history = append([]models.Decision{decision}, slot.history...)
	if len(slot.history) > s.limit {
		slot.history = slot.history[:s.limit]
	}
	slot.success++
	slot.lastError = ""
	s.successCount++
	s.mu.Unlock()

	logging.LogDecision(log, cycle, decision.Symbol, string(decision.Action), decision.Quantity, decision.Confidence)
	return nil
}

// decide calls the provider under the provider timeout. A provider that
// ignores its context is abandoned when the deadline passes.
func (s *Scheduler) decide(ctx context.Context, req Request) (Payload, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		payload Payload
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := s.provider.Decide(ctx, req)
		ch <- result{p, err}
	}()

	var r result
	select {
	case r = <-ch:
	case <-ctx.Done():
		r.err = ctx.Err()
	}
	if r.err == nil {
		return r.payload, nil
	}

	switch {
	case errors.Is(r.err, context.DeadlineExceeded):
		return nil, errors.NewProviderError(req.Agent.ID, req.CycleNumber, ReasonTimeout, errors.Wrap(errors.ErrProviderTimeout, r.err.Error()))
	case errors.Is(r.err, context.Canceled):
		return nil, errors.NewProviderError(req.Agent.ID, req.CycleNumber, ReasonCanceled, r.err)
	}
	var pe *errors.ProviderError
	if errors.As(r.err, &pe) {
		return nil, r.err
	}
	return nil, errors.NewProviderError(req.Agent.ID, req.CycleNumber, ReasonProviderError, r.err)
}

func (s *Scheduler) fail(slot *agentSlot, log zerolog.Logger, err error) error {
	s.mu.Lock()
	slot.failure++
	slot.lastError = err.Error()
	s.failureCount++
	s.mu.Unlock()

	log.Warn().Err(err).Msg("agent cycle failed")
	return err
}

// Resume starts timer mode: a cycle every cycleMs until Pause or until ctx
// is done.
//
// Resume, Pause and SetCycleMs hold timerMu for their whole duration so the
// running flag and the live ticker always change together.
func (s *Scheduler) Resume(ctx context.Context) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	cycleMs := s.cycleMs
	s.mu.Unlock()

	s.timerCtx = ctx
	s.startTimerLocked(cycleMs)
}

// Pause cancels timer mode. A cycle already in flight completes.
func (s *Scheduler) Pause() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.stopTimerLocked()
}

// SetCycleMs changes the timer cadence, clamped to [MinCycleMs, MaxCycleMs].
// A running timer is rescheduled.
func (s *Scheduler) SetCycleMs(ms int) {
	ms = utils.ClampInt(ms, MinCycleMs, MaxCycleMs)

	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	s.mu.Lock()
	s.cycleMs = ms
	running := s.running
	s.mu.Unlock()

	if running {
		s.startTimerLocked(ms)
	}
}

func (s *Scheduler) startTimerLocked(cycleMs int) {
	s.stopTimerLocked()

	ctx := s.timerCtx
	if ctx == nil {
		ctx = context.Background()
	}
	stop := make(chan struct{})
	s.stop = stop
	ticker := s.clock.NewTicker(time.Duration(cycleMs) * time.Millisecond)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C():
				s.RunCycleOnce(ctx)
			}
		}
	}()
}

func (s *Scheduler) stopTimerLocked() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// LatestDecisions returns up to limit most recent decisions of one agent, or
// of all agents merged by cycle descending when agentID is empty.
func (s *Scheduler) LatestDecisions(agentID string, limit int) []models.Decision {
	if limit <= 0 {
		limit = s.limit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if agentID != "" {
		slot, ok := s.byID[agentID]
		if !ok {
			return nil
		}
		n := limit
		if n > len(slot.history) {
			n = len(slot.history)
		}
		return append([]models.Decision(nil), slot.history[:n]...)
	}

	var merged []models.Decision
	for _, slot := range s.agents {
		merged = append(merged, slot.history...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].CycleNumber != merged[j].CycleNumber {
			return merged[i].CycleNumber > merged[j].CycleNumber
		}
		return merged[i].AgentID < merged[j].AgentID
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// State returns a snapshot of the scheduler.
func (s *Scheduler) State() SchedulerState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := SchedulerState{
		Running:      s.running,
		CycleMs:      s.cycleMs,
		InFlight:     s.inFlight.Load(),
		Passes:       s.passes,
		SuccessCount: s.successCount,
		FailureCount: s.failureCount,
		LastCycleAt:  s.lastCycleAt,
		Agents:       make([]AgentState, 0, len(s.agents)),
	}
	for _, slot := range s.agents {
		st.Agents = append(st.Agents, AgentState{
			ID:          slot.cfg.ID,
			Name:        slot.cfg.DisplayName(),
			CycleNumber: slot.cycle,
			Success:     slot.success,
			Failure:     slot.failure,
			History:     len(slot.history),
			LastError:   slot.lastError,
		})
	}
	return st
}

// ClearHistory drops decision history and resets cycle counters, used after
// a ledger reset.
func (s *Scheduler) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, slot := range s.agents {
		slot.history = nil
		slot.cycle = 0
		slot.lastError = ""
	}
}
