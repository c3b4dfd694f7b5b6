package trading

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replay-trader/internal/errors"
	"replay-trader/internal/models"
)

type memStore struct {
	mu        sync.Mutex
	docs      map[string][]byte
	saves     int
	failSave  error
	failPurge error
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string][]byte)}
}

func (m *memStore) Load(agentID string) (*models.AgentSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.docs[agentID]
	if !ok {
		return nil, errors.ErrSnapshotNotFound
	}
	var snap models.AgentSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (m *memStore) Save(_ context.Context, snap *models.AgentSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return m.failSave
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	m.docs[snap.AgentID] = data
	m.saves++
	return nil
}

func (m *memStore) Purge(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPurge != nil {
		return m.failPurge
	}
	m.docs = make(map[string][]byte)
	return nil
}

var (
	t0    = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	alpha = models.AgentConfig{ID: "alpha", Symbols: []string{"600000.SH"}, ActiveSymbol: "600000.SH", LotSize: 100, InitialBalance: 100000}
)

func newTestLedger(store SnapshotStore) *Ledger {
	return NewLedger(store, LedgerConfig{Now: func() time.Time { return t0 }})
}

func trade(cycle int, action models.Action, qty int, price float64) models.Decision {
	d := models.Decision{
		ID:          models.DecisionID("alpha", cycle),
		AgentID:     "alpha",
		CycleNumber: cycle,
		Symbol:      "600000.SH",
		Action:      action,
		Quantity:    qty,
		Price:       price,
		Confidence:  0.7,
		Reasoning:   "test",
		Timestamp:   t0.Add(time.Duration(cycle) * time.Minute),
		TradingDay:  "2024-01-02",
	}
	if action != models.ActionHold {
		d.OrderID = fmt.Sprintf("ord-%d", cycle)
		d.Executed = true
		d.FilledQuantity = qty
	}
	return d
}

func input(d models.Decision, equity, cash float64, held int) SnapshotInput {
	in := SnapshotInput{
		Agent:    alpha,
		Decision: d,
		Account:  models.Account{TotalEquity: equity, AvailableBalance: cash, UnrealizedProfit: equity - cash},
		Replay:   models.ReplayStatus{TradingDay: d.TradingDay},
	}
	if held > 0 {
		in.Positions = []models.Position{{Symbol: "600000.SH", Quantity: held}}
	}
	return in
}

// Scenario: buy 100@10.00 (fee 3.00), sell 100@11.00 (fee 3.30).
func TestRoundTripRealizedPnL(t *testing.T) {
	ledger := newTestLedger(newMemStore())
	ctx := context.Background()

	snap, err := ledger.EnsureAgent(alpha)
	require.NoError(t, err)
	assert.Equal(t, 100000.0, snap.Stats.AvailableBalance)
	require.Len(t, snap.EquityCurve, 1)

	res, err := ledger.RecordSnapshot(ctx, input(trade(1, models.ActionBuy, 100, 10.00), 99997, 98997, 100))
	require.NoError(t, err)
	assert.Equal(t, 3.00, res.Fee)
	require.Len(t, res.Snapshot.OpenLots, 1)
	assert.Equal(t, 3.00, res.Snapshot.OpenLots[0].EntryFeeRemaining)

	res, err = ledger.RecordSnapshot(ctx, input(trade(2, models.ActionSell, 100, 11.00), 100093.70, 100093.70, 0))
	require.NoError(t, err)
	assert.Equal(t, 3.30, res.Fee)

	snap = res.Snapshot
	require.Len(t, snap.ClosedPositions, 1)
	assert.Equal(t, 93.70, snap.ClosedPositions[0].RealizedPnL)
	assert.Equal(t, 3.00, snap.ClosedPositions[0].EntryFee)
	assert.Equal(t, 3.30, snap.ClosedPositions[0].ExitFee)
	assert.Equal(t, 6.30, snap.Stats.TotalFeesPaid)
	assert.Equal(t, 93.70, snap.Stats.RealizedPnL)
	assert.Empty(t, snap.OpenLots)
	assert.Equal(t, 1, snap.Stats.Wins)
	assert.Equal(t, 1, snap.Stats.BuyTrades)
	assert.Equal(t, 1, snap.Stats.SellTrades)
	assert.Equal(t, 2, snap.Stats.LastCycleNumber)
}

// Scenario: L1 100@10 then L2 100@12; a sell of 150 closes L1 fully then 50
// of L2, in that order.
func TestFIFOAcrossLots(t *testing.T) {
	ledger := newTestLedger(nil)
	ctx := context.Background()

	_, err := ledger.RecordSnapshot(ctx, input(trade(1, models.ActionBuy, 100, 10.0), 99997, 98997, 100))
	require.NoError(t, err)
	_, err = ledger.RecordSnapshot(ctx, input(trade(2, models.ActionBuy, 100, 12.0), 99993.4, 97793.4, 200))
	require.NoError(t, err)
	res, err := ledger.RecordSnapshot(ctx, input(trade(3, models.ActionSell, 150, 13.0), 100000, 99729.55, 50))
	require.NoError(t, err)

	require.Len(t, res.Closed, 2)
	first, second := res.Closed[0], res.Closed[1]
	assert.Equal(t, 10.0, first.EntryPrice)
	assert.Equal(t, 100, first.Quantity)
	assert.Equal(t, 12.0, second.EntryPrice)
	assert.Equal(t, 50, second.Quantity)
	assert.Equal(t, "ord-1", first.EntryOrderID, "entry attributes belong to the lot")
	assert.Equal(t, "ord-2", second.EntryOrderID)
	assert.Equal(t, "ord-3", second.ExitOrderID)
	assert.True(t, first.EntryTime.Before(second.EntryTime))

	// sell fee 5.85 split 2/3 and 1/3, entry fee of L2 (3.60) halved
	assert.Equal(t, 3.90, first.ExitFee)
	assert.Equal(t, 1.95, second.ExitFee)
	assert.Equal(t, 3.00, first.EntryFee)
	assert.Equal(t, 1.80, second.EntryFee)
	assert.Equal(t, 293.10, first.RealizedPnL)
	assert.Equal(t, 46.25, second.RealizedPnL)

	snap := res.Snapshot
	require.Len(t, snap.OpenLots, 1)
	assert.Equal(t, 50, snap.OpenLots[0].RemainingQty)
	assert.Equal(t, 100, snap.OpenLots[0].EntryQty)
	assert.Equal(t, 1.80, snap.OpenLots[0].EntryFeeRemaining)
	assert.InDelta(t, 12.45, snap.Stats.TotalFeesPaid, 1e-9)
}

func TestOversellIsDiagnosedNotFatal(t *testing.T) {
	ledger := newTestLedger(nil)
	ctx := context.Background()

	_, err := ledger.RecordSnapshot(ctx, input(trade(1, models.ActionBuy, 100, 10.0), 99997, 98997, 100))
	require.NoError(t, err)
	res, err := ledger.RecordSnapshot(ctx, input(trade(2, models.ActionSell, 300, 10.0), 99985, 99985, 0))
	require.NoError(t, err)

	assert.Equal(t, 200, res.Unmatched)
	require.Len(t, res.Closed, 1)
	assert.Equal(t, 100, res.Closed[0].Quantity)
	assert.Equal(t, 1, res.Snapshot.Stats.OversellEvents)
	assert.Empty(t, res.Snapshot.OpenLots)
}

func TestHoldAndUnexecutedCarryNoFee(t *testing.T) {
	ledger := newTestLedger(nil)
	ctx := context.Background()

	res, err := ledger.RecordSnapshot(ctx, input(trade(1, models.ActionHold, 0, 10), 100000, 100000, 0))
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Fee)
	assert.Equal(t, 1, res.Snapshot.Stats.Holds)

	rejected := trade(2, models.ActionBuy, 100, 10)
	rejected.Executed = false
	rejected.FilledQuantity = 0
	rejected.RejectReason = "insufficient funds"
	res, err = ledger.RecordSnapshot(ctx, input(rejected, 100000, 100000, 0))
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Fee)
	assert.Empty(t, res.Snapshot.OpenLots)
	assert.Equal(t, 0, res.Snapshot.Stats.BuyTrades)
	assert.Equal(t, 2, res.Snapshot.Stats.Decisions)
}

func TestDecisionFeePrecedence(t *testing.T) {
	ledger := newTestLedger(nil)

	d := trade(1, models.ActionBuy, 100, 10)
	assert.Equal(t, 3.00, ledger.decisionFee(d))

	d.Notional = 2000
	assert.Equal(t, 6.00, ledger.decisionFee(d))

	d.Fee = 5.555
	assert.Equal(t, 5.56, ledger.decisionFee(d))
}

func TestDuplicateCycleIsRejected(t *testing.T) {
	store := newMemStore()
	ledger := newTestLedger(store)
	ctx := context.Background()

	_, err := ledger.RecordSnapshot(ctx, input(trade(1, models.ActionBuy, 100, 10), 99997, 98997, 100))
	require.NoError(t, err)
	_, err = ledger.RecordSnapshot(ctx, input(trade(1, models.ActionBuy, 100, 10), 99994, 97994, 200))
	assert.True(t, errors.Is(err, errors.ErrDuplicateDecision))

	snap, err := ledger.GetSnapshot("alpha")
	require.NoError(t, err)
	assert.Len(t, snap.OpenLots, 1)
	assert.Equal(t, 3.00, snap.Stats.TotalFeesPaid)
	assert.Equal(t, 1, store.saves)
}

// Re-evaluating at the same timestamp overwrites the equity point.
func TestEquityCurveOverwriteAndOrder(t *testing.T) {
	ledger := newTestLedger(nil)
	ctx := context.Background()

	d1 := trade(1, models.ActionHold, 0, 10)
	d2 := trade(2, models.ActionHold, 0, 10)
	d2.Timestamp = d1.Timestamp
	d3 := trade(3, models.ActionHold, 0, 10)
	d3.Timestamp = t0.Add(-time.Hour)

	_, err := ledger.RecordSnapshot(ctx, input(d1, 100000, 100000, 0))
	require.NoError(t, err)
	res, err := ledger.RecordSnapshot(ctx, input(d2, 100010, 100010, 0))
	require.NoError(t, err)
	require.Len(t, res.Snapshot.EquityCurve, 2)
	assert.Equal(t, 100010.0, res.Snapshot.EquityCurve[1].TotalEquity)
	assert.Equal(t, 2, res.Snapshot.EquityCurve[1].CycleNumber)

	res, err = ledger.RecordSnapshot(ctx, input(d3, 100020, 100020, 0))
	require.NoError(t, err)
	assert.Len(t, res.Snapshot.EquityCurve, 2, "older point is dropped")
	curve := res.Snapshot.EquityCurve
	for i := 1; i < len(curve); i++ {
		assert.False(t, curve[i].Timestamp.Before(curve[i-1].Timestamp))
	}
}

func TestPersistenceFailureDoesNotCommit(t *testing.T) {
	store := newMemStore()
	ledger := newTestLedger(store)
	ctx := context.Background()

	_, err := ledger.RecordSnapshot(ctx, input(trade(1, models.ActionBuy, 100, 10), 99997, 98997, 100))
	require.NoError(t, err)

	store.failSave = fmt.Errorf("disk full")
	_, err = ledger.RecordSnapshot(ctx, input(trade(2, models.ActionSell, 100, 11), 100093.7, 100093.7, 0))
	var pe *errors.PersistenceError
	require.True(t, errors.As(err, &pe))

	snap, err := ledger.GetSnapshot("alpha")
	require.NoError(t, err)
	assert.Len(t, snap.OpenLots, 1, "state did not advance")
	assert.Empty(t, snap.ClosedPositions)
	assert.Equal(t, 1, snap.Stats.LastCycleNumber)

	store.failSave = nil
	res, err := ledger.RecordSnapshot(ctx, input(trade(2, models.ActionSell, 100, 11), 100093.7, 100093.7, 0))
	require.NoError(t, err)
	assert.Equal(t, 93.70, res.Snapshot.ClosedPositions[0].RealizedPnL)
}

func TestEnsureAgentLoadsPersistedSnapshot(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	first := newTestLedger(store)
	_, err := first.RecordSnapshot(ctx, input(trade(1, models.ActionBuy, 100, 10), 99997, 98997, 100))
	require.NoError(t, err)

	second := newTestLedger(store)
	snap, err := second.EnsureAgent(alpha)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Stats.LastCycleNumber)
	require.Len(t, snap.OpenLots, 1)
	assert.Equal(t, 3.00, snap.OpenLots[0].EntryFee)

	_, err = second.GetSnapshot("nobody")
	assert.True(t, errors.Is(err, errors.ErrAgentNotFound))
}

func TestEnsureAgentRejectsForeignSnapshot(t *testing.T) {
	store := newMemStore()
	beta := alpha
	beta.ID = "beta"
	data, err := json.Marshal(NewSnapshot(beta, t0))
	require.NoError(t, err)
	store.docs["alpha"] = data

	_, err = newTestLedger(store).EnsureAgent(alpha)
	var perr *errors.PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, err.Error(), `"beta"`)
}

func TestResetAll(t *testing.T) {
	store := newMemStore()
	ledger := newTestLedger(store)
	ctx := context.Background()

	_, err := ledger.RecordSnapshot(ctx, input(trade(1, models.ActionBuy, 100, 10), 99997, 98997, 100))
	require.NoError(t, err)

	store.failPurge = fmt.Errorf("permission denied")
	require.Error(t, ledger.ResetAll(ctx))
	snap, _ := ledger.GetSnapshot("alpha")
	assert.Len(t, snap.OpenLots, 1, "failed purge resets nothing")

	store.failPurge = nil
	require.NoError(t, ledger.ResetAll(ctx))
	snap, err = ledger.GetSnapshot("alpha")
	require.NoError(t, err)
	assert.Empty(t, snap.OpenLots)
	assert.Empty(t, snap.ClosedPositions)
	assert.Empty(t, snap.DailyJournal)
	assert.Equal(t, 100000.0, snap.Stats.AvailableBalance)
	require.Len(t, snap.EquityCurve, 1)
	assert.Equal(t, 0.0, snap.EquityCurve[0].PnL)
	assert.Empty(t, store.docs)
}

func TestJournalKeepsRecentDays(t *testing.T) {
	ledger := NewLedger(nil, LedgerConfig{JournalDays: 3, Now: func() time.Time { return t0 }})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		d := trade(i, models.ActionHold, 0, 10)
		d.TradingDay = fmt.Sprintf("2024-01-0%d", i+1)
		_, err := ledger.RecordSnapshot(ctx, input(d, 100000+float64(i), 100000, 0))
		require.NoError(t, err)
	}
	d := trade(6, models.ActionBuy, 100, 10)
	d.TradingDay = "2024-01-06"
	res, err := ledger.RecordSnapshot(ctx, input(d, 100002, 99002, 100))
	require.NoError(t, err)

	days := res.Snapshot.DailyJournal
	require.Len(t, days, 3)
	assert.Equal(t, "2024-01-04", days[0].TradingDay)
	last := days[2]
	assert.Equal(t, "2024-01-06", last.TradingDay)
	assert.Equal(t, 2, last.Decisions)
	assert.Equal(t, 1, last.Buys)
	assert.Equal(t, 1, last.Holds)
	assert.Equal(t, 100005.0, last.PeakEquity)
	assert.Equal(t, 100002.0, last.TroughEquity)
	assert.Equal(t, 3.00, last.Fees)
}

// Property: for any sequence of buys and feasible sells, lot quantity matches
// the held quantity, entry_fee_remaining never exceeds the lot's entry fee,
// total fees never decrease and closed positions only grow at the tail.
func TestProperty_LedgerInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	type step struct {
		Buy   bool
		Lots  int
		Price float64
	}
	stepGen := gopter.CombineGens(gen.Bool(), gen.IntRange(1, 5), gen.Float64Range(5, 50)).Map(func(v []interface{}) step {
		return step{Buy: v[0].(bool), Lots: v[1].(int), Price: v[2].(float64)}
	})

	properties.Property("ledger invariants hold after every call", prop.ForAll(
		func(steps []step) bool {
			ledger := newTestLedger(nil)
			ctx := context.Background()
			held := 0
			prevFees := 0.0
			var prevClosed []models.ClosedPosition

			for i, s := range steps {
				qty := s.Lots * 100
				action := models.ActionBuy
				if !s.Buy {
					action = models.ActionSell
					if held == 0 {
						action = models.ActionHold
						qty = 0
					} else if qty > held {
						qty = held
					}
				}
				switch action {
				case models.ActionBuy:
					held += qty
				case models.ActionSell:
					held -= qty
				}

				res, err := ledger.RecordSnapshot(ctx, input(trade(i+1, action, qty, s.Price), 100000, 90000, held))
				if err != nil {
					return false
				}
				snap := res.Snapshot
				if snap.OpenQuantity("600000.SH") != held {
					return false
				}
				for _, lot := range snap.OpenLots {
					if lot.EntryFeeRemaining > lot.EntryFee+1e-9 || lot.EntryFeeRemaining < 0 {
						return false
					}
				}
				if snap.Stats.TotalFeesPaid < prevFees {
					return false
				}
				prevFees = snap.Stats.TotalFeesPaid
				if len(snap.ClosedPositions) < len(prevClosed) {
					return false
				}
				for j := range prevClosed {
					if snap.ClosedPositions[j] != prevClosed[j] {
						return false
					}
				}
				prevClosed = snap.ClosedPositions
			}
			return true
		},
		gen.SliceOfN(25, stepGen),
	))

	properties.Property("round trip at unchanged price loses exactly the fees", prop.ForAll(
		func(lots int, price float64) bool {
			ledger := newTestLedger(nil)
			ctx := context.Background()
			qty := lots * 100

			buy, err := ledger.RecordSnapshot(ctx, input(trade(1, models.ActionBuy, qty, price), 100000, 90000, qty))
			if err != nil {
				return false
			}
			sell, err := ledger.RecordSnapshot(ctx, input(trade(2, models.ActionSell, qty, price), 100000, 100000, 0))
			if err != nil {
				return false
			}
			var realized float64
			for _, c := range sell.Closed {
				realized += c.RealizedPnL
			}
			want := -(buy.Fee + sell.Fee)
			diff := realized - want
			return diff < 1e-9 && diff > -1e-9 && len(sell.Snapshot.OpenLots) == 0
		},
		gen.IntRange(1, 50),
		gen.Float64Range(1, 200),
	))

	properties.TestingRun(t)
}
