package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replay-trader/internal/agents"
	"replay-trader/internal/errors"
	"replay-trader/internal/models"
	"replay-trader/internal/replay"
	"replay-trader/internal/store"
	"replay-trader/internal/stream"
)

func testFrames() []models.Frame {
	return replay.SyntheticFrames(replay.SyntheticConfig{
		Symbols:  []string{"600000.SH", "000001.SZ"},
		StartDay: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Days:     2,
		Seed:     11,
	})
}

func testConfig() Config {
	return Config{
		Agents: []models.AgentConfig{
			{ID: "alpha", Symbols: []string{"600000.SH", "000001.SZ"}, InitialBalance: 100000},
		},
		Clock:       replay.ClockConfig{Speed: 60, WarmupBars: 120},
		CycleBars:   10,
		VirtualTime: true,
	}
}

// alternating buys 100 shares on odd cycles and sells them on even cycles.
var alternating = agents.ProviderFunc(func(ctx context.Context, req agents.Request) (agents.Payload, error) {
	action := "buy"
	if req.CycleNumber%2 == 0 {
		action = "sell"
	}
	return agents.EncodeDecision(agents.RawDecision{
		Action:         action,
		Symbol:         req.Context.ActiveSymbol,
		Confidence:     0.8,
		QuantityShares: 100,
		Reasoning:      "scripted",
	}), nil
})

func TestRunToEndBooksEveryCycle(t *testing.T) {
	ctx := context.Background()
	e, err := New(testFrames(), alternating, Deps{}, testConfig())
	require.NoError(t, err)

	summary, err := e.RunToEnd(ctx)
	require.NoError(t, err)
	assert.Equal(t, 360, summary.Bars)
	assert.Equal(t, 36, summary.Cycles)
	assert.Equal(t, 36, summary.Scheduler.SuccessCount)
	assert.Zero(t, summary.Scheduler.FailureCount)

	snap, err := e.Ledger().GetSnapshot("alpha")
	require.NoError(t, err)
	assert.Equal(t, 36, snap.Stats.LastCycleNumber)
	assert.Equal(t, 18, snap.Stats.BuyTrades)
	assert.Equal(t, 18, snap.Stats.SellTrades)
	assert.Empty(t, snap.OpenLots)
	assert.Len(t, snap.ClosedPositions, 18)

	b, ok := e.Broker("alpha")
	require.True(t, ok)
	acct, err := b.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, acct.TotalEquity, snap.Stats.TotalEquity)

	realized := 0.0
	for _, c := range snap.ClosedPositions {
		realized += c.RealizedPnL
	}
	assert.InDelta(t, snap.Stats.TotalEquity-snap.Stats.InitialBalance, realized, 0.05)

	for i := 1; i < len(snap.EquityCurve); i++ {
		assert.True(t, snap.EquityCurve[i].Timestamp.After(snap.EquityCurve[i-1].Timestamp))
	}

	latest := e.Scheduler().LatestDecisions("alpha", 1)
	require.Len(t, latest, 1)
	assert.Equal(t, models.ActionSell, latest[0].Action)
	assert.True(t, latest[0].Executed)
	assert.Equal(t, e.Clock().CurrentTsMs(), latest[0].BarTsMs)
}

func TestRunToEndIsDeterministic(t *testing.T) {
	run := func() models.AgentStats {
		e, err := New(testFrames(), agents.NewRuleProvider(agents.DefaultRuleProviderConfig()), Deps{}, testConfig())
		require.NoError(t, err)
		_, err = e.RunToEnd(context.Background())
		require.NoError(t, err)
		snap, err := e.Ledger().GetSnapshot("alpha")
		require.NoError(t, err)
		snap.Stats.UpdatedAt = time.Time{}
		return snap.Stats
	}
	assert.Equal(t, run(), run())
}

func TestResumeFromPersistedState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	fs, err := store.NewFileStore(dir)
	require.NoError(t, err)
	archive, err := store.NewSQLiteArchive(filepath.Join(dir, "decisions.db"))
	require.NoError(t, err)

	first, err := New(testFrames(), alternating, Deps{Store: fs, Archive: archive}, testConfig())
	require.NoError(t, err)
	_, err = first.RunToEnd(ctx)
	require.NoError(t, err)
	before, err := first.Ledger().GetSnapshot("alpha")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	archived, err := archive.GetDecisions(ctx, store.DecisionFilter{AgentID: "alpha"})
	require.Error(t, err, "archive is closed with the engine")
	assert.Nil(t, archived)

	archive, err = store.NewSQLiteArchive(filepath.Join(dir, "decisions.db"))
	require.NoError(t, err)
	defer archive.Close()
	archived, err = archive.GetDecisions(ctx, store.DecisionFilter{AgentID: "alpha"})
	require.NoError(t, err)
	assert.Len(t, archived, 36)
	closed, err := archive.GetClosedPositions(ctx, store.ClosedFilter{AgentID: "alpha"})
	require.NoError(t, err)
	assert.Len(t, closed, 18)

	second, err := New(testFrames(), alternating, Deps{Store: fs}, testConfig())
	require.NoError(t, err)
	resumed, err := second.Ledger().GetSnapshot("alpha")
	require.NoError(t, err)
	assert.Equal(t, before.Stats.TotalEquity, resumed.Stats.TotalEquity)

	b, _ := second.Broker("alpha")
	acct, err := b.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Stats.AvailableBalance, acct.AvailableBalance)

	require.True(t, second.RunCycle(ctx))
	latest := second.Scheduler().LatestDecisions("alpha", 1)
	require.Len(t, latest, 1)
	assert.Equal(t, 37, latest[0].CycleNumber)
}

func TestRejectedOrdersAreBookedAsUnexecuted(t *testing.T) {
	ctx := context.Background()
	sellOnly := agents.ProviderFunc(func(ctx context.Context, req agents.Request) (agents.Payload, error) {
		return []byte(`{"action":"SELL","quantity_shares":100,"confidence":0.9}`), nil
	})

	e, err := New(testFrames(), sellOnly, Deps{}, testConfig())
	require.NoError(t, err)
	require.True(t, e.RunCycle(ctx))

	d := e.Scheduler().LatestDecisions("alpha", 1)[0]
	assert.False(t, d.Executed)
	assert.Equal(t, "nothing held", d.RejectReason)
	assert.NotEmpty(t, d.OrderID)

	snap, err := e.Ledger().GetSnapshot("alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Stats.Decisions)
	assert.Zero(t, snap.Stats.SellTrades)
	assert.Equal(t, 100000.0, snap.Stats.TotalEquity)
}

type failingStore struct{}

func (failingStore) Load(string) (*models.AgentSnapshot, error) {
	return nil, errors.ErrSnapshotNotFound
}
func (failingStore) Save(context.Context, *models.AgentSnapshot) error {
	return errors.NewPersistenceError("write", "agents/alpha.json", errors.New("disk full"))
}
func (failingStore) Purge(context.Context) error { return nil }

func TestPersistenceFailureRollsBackBroker(t *testing.T) {
	ctx := context.Background()
	e, err := New(testFrames(), alternating, Deps{Store: failingStore{}}, testConfig())
	require.NoError(t, err)

	require.True(t, e.RunCycle(ctx))
	st := e.Scheduler().State()
	assert.Equal(t, 1, st.FailureCount)
	assert.Contains(t, st.Agents[0].LastError, "disk full")

	b, _ := e.Broker("alpha")
	acct, err := b.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100000.0, acct.AvailableBalance)
	positions, _ := b.GetPositions(ctx)
	assert.Empty(t, positions)
}

func TestEventsArePublished(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := stream.NewHub()
	hub.Start(ctx)
	defer hub.Stop()
	decisions := hub.Subscribe(stream.EventDecision)
	cycles := hub.Subscribe(stream.EventCycle)

	e, err := New(testFrames(), alternating, Deps{Hub: hub}, testConfig())
	require.NoError(t, err)
	assert.Equal(t, 10, e.Step(ctx, 10))

	select {
	case ev := <-decisions:
		assert.Equal(t, "alpha", ev.AgentID)
		require.NotNil(t, ev.Decision)
		assert.Equal(t, models.ActionBuy, ev.Decision.Action)
	case <-time.After(2 * time.Second):
		t.Fatal("no decision event")
	}
	select {
	case ev := <-cycles:
		assert.Equal(t, 1, ev.Succeeded)
	case <-time.After(2 * time.Second):
		t.Fatal("no cycle event")
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := store.NewFileStore(dir)
	require.NoError(t, err)
	archive, err := store.NewSQLiteArchive(filepath.Join(dir, "decisions.db"))
	require.NoError(t, err)

	e, err := New(testFrames(), alternating, Deps{Store: fs, Archive: archive}, testConfig())
	require.NoError(t, err)
	defer e.Close()

	e.Step(ctx, 30)
	require.NoError(t, e.Reset(ctx))

	snap, err := e.Ledger().GetSnapshot("alpha")
	require.NoError(t, err)
	assert.Zero(t, snap.Stats.Decisions)
	assert.Empty(t, snap.OpenLots)
	assert.Empty(t, e.Scheduler().LatestDecisions("", 0))

	b, _ := e.Broker("alpha")
	acct, _ := b.GetAccount(ctx)
	assert.Equal(t, 100000.0, acct.TotalEquity)

	archived, err := archive.GetDecisions(ctx, store.DecisionFilter{})
	require.NoError(t, err)
	assert.Empty(t, archived)

	ids, err := fs.List()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestEmptyTimeline(t *testing.T) {
	e, err := New(nil, alternating, Deps{}, testConfig())
	require.NoError(t, err)

	_, err = e.RunToEnd(context.Background())
	assert.ErrorIs(t, err, errors.ErrEmptyTimeline)

	assert.True(t, e.RunCycle(context.Background()))
	st := e.Scheduler().State()
	assert.Equal(t, 1, st.FailureCount, "no context without a timeline")
}

func TestNewValidatesAgents(t *testing.T) {
	cfg := testConfig()
	cfg.Agents = nil
	_, err := New(testFrames(), alternating, Deps{}, cfg)
	assert.ErrorIs(t, err, errors.ErrConfigInvalid)

	cfg = testConfig()
	cfg.Agents = append(cfg.Agents, cfg.Agents[0])
	_, err = New(testFrames(), alternating, Deps{}, cfg)
	assert.ErrorIs(t, err, errors.ErrConfigInvalid)
}

func TestRunStopsOnCancel(t *testing.T) {
	e, err := New(testFrames(), alternating, Deps{}, testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, e.Run(ctx))
}
