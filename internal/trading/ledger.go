// Package trading keeps lot-based portfolio accounting for replay agents.
package trading

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"replay-trader/internal/errors"
	"replay-trader/internal/logging"
	"replay-trader/internal/models"
	"replay-trader/pkg/utils"
)

const (
	DefaultCommissionRate  = 0.003
	DefaultJournalDays     = 30
	DefaultRecentActions   = 30
	DefaultClosedPositions = 500
	DefaultEquityPoints    = 5000
)

// SnapshotStore persists agent snapshots. Save must be atomic: after a
// failed Save the previously stored document is still intact.
type SnapshotStore interface {
	Load(agentID string) (*models.AgentSnapshot, error)
	Save(ctx context.Context, snap *models.AgentSnapshot) error
	Purge(ctx context.Context) error
}

// LedgerConfig configures a Ledger.
type LedgerConfig struct {
	CommissionRate  float64
	JournalDays     int
	RecentActions   int
	ClosedPositions int
	EquityPoints    int
	Now             func() time.Time
	Logger          zerolog.Logger
}

// SnapshotInput is one completed cycle of an agent.
type SnapshotInput struct {
	Agent     models.AgentConfig
	Decision  models.Decision
	Account   models.Account
	Positions []models.Position
	Replay    models.ReplayStatus
}

// RecordResult describes what a RecordSnapshot call booked.
type RecordResult struct {
	Snapshot    *models.AgentSnapshot
	Fee         float64
	RealizedPnL float64
	Closed      []models.ClosedPosition
	Unmatched   int
}

type book struct {
	mu   sync.Mutex
	snap *models.AgentSnapshot
}

// Ledger is the per-agent portfolio ledger. Calls for one agent are
// serialized; calls for different agents touch disjoint state.
type Ledger struct {
	store  SnapshotStore
	cfg    LedgerConfig
	logger zerolog.Logger

	mu    sync.RWMutex
	books map[string]*book
}

// NewLedger creates a ledger. A nil store keeps snapshots in memory only.
func NewLedger(store SnapshotStore, cfg LedgerConfig) *Ledger {
	if cfg.CommissionRate <= 0 {
		cfg.CommissionRate = DefaultCommissionRate
	}
	if cfg.JournalDays <= 0 {
		cfg.JournalDays = DefaultJournalDays
	}
	if cfg.RecentActions <= 0 {
		cfg.RecentActions = DefaultRecentActions
	}
	if cfg.ClosedPositions <= 0 {
		cfg.ClosedPositions = DefaultClosedPositions
	}
	if cfg.EquityPoints <= 0 {
		cfg.EquityPoints = DefaultEquityPoints
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Ledger{
		store:  store,
		cfg:    cfg,
		logger: logging.WithOperation(cfg.Logger, "ledger"),
		books:  make(map[string]*book),
	}
}

// NewSnapshot returns the default document of an agent: the initial balance,
// no lots and a single zero-PnL equity point.
func NewSnapshot(cfg models.AgentConfig, now time.Time) *models.AgentSnapshot {
	balance := cfg.InitialBalance
	return &models.AgentSnapshot{
		SchemaVersion: models.SnapshotSchemaVersion,
		AgentID:       cfg.ID,
		Config:        cfg,
		Stats: models.AgentStats{
			InitialBalance:   balance,
			TotalEquity:      balance,
			AvailableBalance: balance,
			PeakEquity:       balance,
			TroughEquity:     balance,
			UpdatedAt:        now,
		},
		DailyJournal:    []models.JournalDay{},
		OpenLots:        []models.OpenLot{},
		ClosedPositions: []models.ClosedPosition{},
		EquityCurve:     []models.EquityPoint{{Timestamp: now, TotalEquity: balance}},
		RecentActions:   []models.RecentAction{},
		UpdatedAt:       now,
	}
}

// EnsureAgent loads the persisted snapshot of an agent, or creates the
// default one, and returns a copy.
func (l *Ledger) EnsureAgent(cfg models.AgentConfig) (*models.AgentSnapshot, error) {
	b, err := l.book(cfg)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap.Clone(), nil
}

func (l *Ledger) book(cfg models.AgentConfig) (*book, error) {
	l.mu.RLock()
	b, ok := l.books[cfg.ID]
	l.mu.RUnlock()
	if ok {
		return b, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.books[cfg.ID]; ok {
		return b, nil
	}

	snap, err := l.load(cfg)
	if err != nil {
		return nil, err
	}
	b = &book{snap: snap}
	l.books[cfg.ID] = b
	return b, nil
}

func (l *Ledger) load(cfg models.AgentConfig) (*models.AgentSnapshot, error) {
	if l.store == nil {
		return NewSnapshot(cfg, l.cfg.Now()), nil
	}
	snap, err := l.store.Load(cfg.ID)
	if errors.Is(err, errors.ErrSnapshotNotFound) {
		return NewSnapshot(cfg, l.cfg.Now()), nil
	}
	if err != nil {
		return nil, err
	}
	if snap.AgentID == "" {
		snap.AgentID = cfg.ID
	}
	if snap.AgentID != cfg.ID {
		return nil, errors.NewPersistenceError("load", cfg.ID, fmt.Errorf("stored snapshot belongs to agent %q", snap.AgentID))
	}

	snap.Config = cfg
	if snap.Stats.InitialBalance == 0 {
		snap.Stats.InitialBalance = cfg.InitialBalance
	}
	if len(snap.EquityCurve) == 0 {
		snap.EquityCurve = []models.EquityPoint{{Timestamp: snap.UpdatedAt, TotalEquity: snap.Stats.TotalEquity}}
	}
	sortLots(snap.OpenLots)
	l.logger.Debug().
		Str("agent_id", cfg.ID).
		Int("open_lots", len(snap.OpenLots)).
		Int("last_cycle", snap.Stats.LastCycleNumber).
		Msg("loaded agent snapshot")
	return snap, nil
}

// RecordSnapshot books one completed cycle and persists the agent document.
// The in-memory snapshot only advances once the write succeeded. A decision
// whose cycle number was already booked is rejected with
// ErrDuplicateDecision.
func (l *Ledger) RecordSnapshot(ctx context.Context, in SnapshotInput) (*RecordResult, error) {
	b, err := l.book(in.Agent)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	d := in.Decision
	log := logging.WithAgent(l.logger, in.Agent.ID)

	if d.CycleNumber > 0 && d.CycleNumber <= b.snap.Stats.LastCycleNumber {
		return nil, errors.Wrapf(errors.ErrDuplicateDecision, "%s cycle %d (last %d)",
			in.Agent.ID, d.CycleNumber, b.snap.Stats.LastCycleNumber)
	}

	next := b.snap.Clone()
	next.Config = in.Agent
	now := d.Timestamp
	if now.IsZero() {
		now = l.cfg.Now()
	}

	fee := l.decisionFee(d)
	res := &RecordResult{Fee: fee}
	qty := filledQuantity(d)

	switch {
	case d.Executed && d.Action == models.ActionBuy && qty > 0:
		next.OpenLots = pushLot(next.OpenLots, models.OpenLot{
			Symbol:            d.Symbol,
			Side:              models.SideLong,
			EntryQty:          qty,
			RemainingQty:      qty,
			EntryPrice:        d.Price,
			EntryTime:         now,
			EntryOrderID:      d.OrderID,
			EntryFee:          fee,
			EntryFeeRemaining: fee,
			CycleNumber:       d.CycleNumber,
		})

	case d.Executed && d.Action == models.ActionSell && qty > 0:
		fifo := consumeFIFO(next.OpenLots, sellFill{
			Symbol:   d.Symbol,
			Quantity: qty,
			Price:    d.Price,
			Fee:      fee,
			Time:     now,
			OrderID:  d.OrderID,
			Cycle:    d.CycleNumber,
		})
		next.OpenLots = fifo.Lots
		next.ClosedPositions = append(next.ClosedPositions, fifo.Closed...)
		if n := len(next.ClosedPositions); n > l.cfg.ClosedPositions {
			next.ClosedPositions = append([]models.ClosedPosition(nil), next.ClosedPositions[n-l.cfg.ClosedPositions:]...)
		}
		res.Closed = fifo.Closed
		res.RealizedPnL = fifo.RealizedPnL
		res.Unmatched = fifo.Unmatched

		if fifo.Unmatched > 0 {
			next.Stats.OversellEvents++
			diag := errors.NewAccountingError(in.Agent.ID, d.Symbol, "oversell", float64(qty-fifo.Unmatched), float64(qty))
			log.Warn().Err(diag).Int("cycle", d.CycleNumber).Msg("sell exceeds open lots")
		}
	}

	l.updateStats(next, in, res, now)
	equity := next.Stats.TotalEquity

	next.DailyJournal = updateJournal(next.DailyJournal, journalEntry{
		Day:      tradingDayOf(in.Replay, d),
		Decision: d,
		Equity:   equity,
		Fee:      fee,
		Realized: res.RealizedPnL,
	}, l.cfg.JournalDays)

	var ok bool
	next.EquityCurve, ok = mergeEquity(next.EquityCurve, models.EquityPoint{
		Timestamp:   now,
		TotalEquity: equity,
		PnL:         next.Stats.TotalPnL,
		PnLPct:      next.Stats.TotalPnLPct,
		CycleNumber: d.CycleNumber,
	}, l.cfg.EquityPoints)
	if !ok {
		log.Warn().Time("timestamp", now).Int("cycle", d.CycleNumber).Msg("equity point older than curve, dropped")
	}

	next.RecentActions = pushRecent(next.RecentActions, models.RecentAction{
		CycleNumber: d.CycleNumber,
		Action:      d.Action,
		Symbol:      d.Symbol,
		Quantity:    d.Quantity,
		Price:       d.Price,
		Executed:    d.Executed,
		Fee:         fee,
		RealizedPnL: res.RealizedPnL,
		Confidence:  d.Confidence,
		Timestamp:   now,
	}, l.cfg.RecentActions)

	next.SchemaVersion = models.SnapshotSchemaVersion
	next.UpdatedAt = now

	l.reconcile(log, next, in.Positions)

	if l.store != nil {
		if err := l.store.Save(ctx, next); err != nil {
			var pe *errors.PersistenceError
			if !errors.As(err, &pe) {
				err = errors.NewPersistenceError("save", in.Agent.ID, err)
			}
			log.Error().Err(err).Int("cycle", d.CycleNumber).Msg("snapshot not committed")
			return nil, err
		}
	}

	b.snap = next
	res.Snapshot = next.Clone()

	if d.Executed && d.IsTrade() {
		logging.LogTrade(log, d.Symbol, string(d.Action), qty, d.Price, fee)
	}
	return res, nil
}

// decisionFee is zero for holds and unexecuted decisions. Otherwise the
// explicit fee wins, then the commission on the explicit notional, then the
// commission on filled quantity times price.
func (l *Ledger) decisionFee(d models.Decision) float64 {
	if !d.Executed || !d.IsTrade() {
		return 0
	}
	if d.Fee > 0 {
		return utils.Round2(d.Fee)
	}
	notional := decimal.NewFromFloat(d.Notional)
	if d.Notional <= 0 {
		notional = decimal.NewFromInt(int64(filledQuantity(d))).Mul(decimal.NewFromFloat(d.Price))
	}
	return utils.ToFloat(notional.Mul(decimal.NewFromFloat(l.cfg.CommissionRate)))
}

func filledQuantity(d models.Decision) int {
	if d.FilledQuantity > 0 {
		return d.FilledQuantity
	}
	if d.Executed {
		return d.Quantity
	}
	return 0
}

// updateStats takes balances from the authoritative account and derives only
// the realized bookkeeping locally.
func (l *Ledger) updateStats(snap *models.AgentSnapshot, in SnapshotInput, res *RecordResult, now time.Time) {
	st := &snap.Stats
	d := in.Decision

	st.TotalEquity = in.Account.TotalEquity
	st.AvailableBalance = in.Account.AvailableBalance
	st.UnrealizedPnL = in.Account.UnrealizedProfit
	st.RealizedPnL = utils.Round2(st.RealizedPnL + res.RealizedPnL)
	st.TotalPnL = utils.Round2(st.TotalEquity - st.InitialBalance)
	st.TotalPnLPct = utils.PercentOf(st.TotalPnL, st.InitialBalance)
	st.PeakEquity = math.Max(st.PeakEquity, st.TotalEquity)
	if st.TroughEquity == 0 || st.TotalEquity < st.TroughEquity {
		st.TroughEquity = st.TotalEquity
	}
	if st.PeakEquity > 0 {
		dd := utils.PercentOf(st.PeakEquity-st.TotalEquity, st.PeakEquity)
		st.MaxDrawdownPct = math.Max(st.MaxDrawdownPct, dd)
	}

	st.Decisions++
	switch {
	case d.Action == models.ActionHold:
		st.Holds++
	case d.Executed && d.Action == models.ActionBuy:
		st.BuyTrades++
	case d.Executed && d.Action == models.ActionSell:
		st.SellTrades++
		if res.RealizedPnL > 0 {
			st.Wins++
		} else if res.RealizedPnL < 0 {
			st.Losses++
		}
	}
	st.TotalFeesPaid = utils.Round2(st.TotalFeesPaid + res.Fee)
	if d.CycleNumber > st.LastCycleNumber {
		st.LastCycleNumber = d.CycleNumber
	}
	st.UpdatedAt = now
}

// reconcile compares open lot quantity with the reported holdings.
func (l *Ledger) reconcile(log zerolog.Logger, snap *models.AgentSnapshot, positions []models.Position) {
	lots := openQuantities(snap.OpenLots)
	held := make(map[string]int, len(positions))
	for _, p := range positions {
		held[p.Symbol] += p.Quantity
	}
	for symbol := range held {
		if _, ok := lots[symbol]; !ok {
			lots[symbol] = 0
		}
	}
	for symbol, qty := range lots {
		if held[symbol] != qty {
			diag := errors.NewAccountingError(snap.AgentID, symbol, "lot_reconciliation", float64(held[symbol]), float64(qty))
			log.Warn().Err(diag).Msg("open lots disagree with reported position")
		}
	}
}

// GetSnapshot returns a copy of an agent's snapshot.
func (l *Ledger) GetSnapshot(agentID string) (*models.AgentSnapshot, error) {
	l.mu.RLock()
	b, ok := l.books[agentID]
	l.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(errors.ErrAgentNotFound, "snapshot %s", agentID)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap.Clone(), nil
}

// Snapshots returns copies of every known agent snapshot ordered by id.
func (l *Ledger) Snapshots() []*models.AgentSnapshot {
	l.mu.RLock()
	ids := make([]string, 0, len(l.books))
	for id := range l.books {
		ids = append(ids, id)
	}
	l.mu.RUnlock()
	sort.Strings(ids)

	out := make([]*models.AgentSnapshot, 0, len(ids))
	for _, id := range ids {
		if snap, err := l.GetSnapshot(id); err == nil {
			out = append(out, snap)
		}
	}
	return out
}

// ResetAll deletes every persisted document and resets every known agent to
// its default snapshot. When the store cannot be purged nothing is reset.
func (l *Ledger) ResetAll(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, b := range l.books {
		b.mu.Lock()
		defer b.mu.Unlock()
	}

	if l.store != nil {
		if err := l.store.Purge(ctx); err != nil {
			l.logger.Error().Err(err).Msg("reset aborted")
			return err
		}
	}

	now := l.cfg.Now()
	for _, b := range l.books {
		b.snap = NewSnapshot(b.snap.Config, now)
	}
	l.logger.Info().Int("agents", len(l.books)).Msg("ledger reset")
	return nil
}
