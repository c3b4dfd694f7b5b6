package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replay-trader/internal/errors"
	"replay-trader/internal/models"
)

func sampleSnapshot(agentID string) *models.AgentSnapshot {
	ts := time.Date(2024, 1, 2, 1, 30, 0, 0, time.UTC)
	return &models.AgentSnapshot{
		SchemaVersion: models.SnapshotSchemaVersion,
		AgentID:       agentID,
		Config:        models.AgentConfig{ID: agentID, Symbols: []string{"600000"}, InitialBalance: 100000},
		Stats: models.AgentStats{
			InitialBalance:  100000,
			TotalEquity:     100050,
			PeakEquity:      100080,
			TroughEquity:    99990,
			LastCycleNumber: 4,
		},
		OpenLots: []models.OpenLot{
			{Symbol: "600000", Side: models.SideLong, EntryQty: 100, RemainingQty: 100, EntryPrice: 10, EntryTime: ts, EntryOrderID: "ord-1", EntryFee: 3, EntryFeeRemaining: 3, CycleNumber: 1},
		},
		EquityCurve:     []models.EquityPoint{{Timestamp: ts, TotalEquity: 100050}},
		DailyJournal:    []models.JournalDay{},
		ClosedPositions: []models.ClosedPosition{},
		RecentActions:   []models.RecentAction{},
		UpdatedAt:       ts,
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	in := sampleSnapshot("alpha")
	require.NoError(t, fs.Save(ctx, in))

	out, err := fs.Load("alpha")
	require.NoError(t, err)
	assert.Equal(t, in.Stats, out.Stats)
	require.Len(t, out.OpenLots, 1)
	assert.Equal(t, in.OpenLots[0].EntryOrderID, out.OpenLots[0].EntryOrderID)
	assert.True(t, in.EquityCurve[0].Timestamp.Equal(out.EquityCurve[0].Timestamp))

	entries, err := os.ReadDir(fs.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestFileStoreLoadMissing(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = fs.Load("ghost")
	assert.ErrorIs(t, err, errors.ErrSnapshotNotFound)
}

func TestFileStoreLoadCorrupt(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(fs.Path("bad"), []byte("{not json"), 0o644))

	_, err = fs.Load("bad")
	var perr *errors.PersistenceError
	assert.True(t, errors.As(err, &perr))
}

func TestFileStoreMigratesOlderDocuments(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	legacy := `{"schema_version":1,"stats":{"initial_balance":5000,"total_equity":5200},"open_lots":[{"symbol":"600000","entry_qty":100,"remaining_qty":100,"entry_price":10,"entry_fee_remaining":2}]}`
	require.NoError(t, os.WriteFile(fs.Path("old"), []byte(legacy), 0o644))

	snap, err := fs.Load("old")
	require.NoError(t, err)
	assert.Equal(t, "old", snap.AgentID)
	assert.Equal(t, models.SnapshotSchemaVersion, snap.SchemaVersion)
	assert.Equal(t, 5200.0, snap.Stats.PeakEquity)
	assert.Equal(t, 5200.0, snap.Stats.TroughEquity)
	assert.NotNil(t, snap.DailyJournal)
	assert.NotNil(t, snap.EquityCurve)
	assert.Equal(t, models.SideLong, snap.OpenLots[0].Side)
	assert.Equal(t, 2.0, snap.OpenLots[0].EntryFee)
}

func TestFileStorePathSanitizesID(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, fs.Dir(), filepath.Dir(fs.Path("../../etc/passwd")))
	assert.Equal(t, "a%2Fb.json", filepath.Base(fs.Path("a/b")))
	assert.Equal(t, "%2Ehidden.json", filepath.Base(fs.Path(".hidden")))
	assert.Equal(t, "sma-1.v2.json", filepath.Base(fs.Path("sma-1.v2")))
}

func TestFileStoreKeepsSimilarIDsApart(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ids := []string{"desk a", "desk_a", "desk%20a", "desk/a", ".desk"}
	for i, id := range ids {
		snap := sampleSnapshot(id)
		snap.Stats.TotalEquity = float64(100 * (i + 1))
		require.NoError(t, fs.Save(ctx, snap))
	}

	for i, id := range ids {
		snap, err := fs.Load(id)
		require.NoError(t, err, id)
		assert.Equal(t, id, snap.AgentID)
		assert.Equal(t, float64(100*(i+1)), snap.Stats.TotalEquity, id)
	}

	listed, err := fs.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, listed)
}

func TestFileStoreRejectsForeignDocument(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, fs.Save(ctx, sampleSnapshot("beta")))
	require.NoError(t, os.Rename(fs.Path("beta"), fs.Path("alpha")))

	_, err = fs.Load("alpha")
	var perr *errors.PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, err.Error(), `"beta"`)
}

func TestFileStoreListAndPurge(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, fs.Save(ctx, sampleSnapshot("beta")))
	require.NoError(t, fs.Save(ctx, sampleSnapshot("alpha")))

	ids, err := fs.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, ids)

	require.NoError(t, fs.Purge(ctx))
	ids, err = fs.List()
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = fs.Load("alpha")
	assert.ErrorIs(t, err, errors.ErrSnapshotNotFound)
}

func TestFileStoreSaveCanceled(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = fs.Save(ctx, sampleSnapshot("alpha"))
	assert.ErrorIs(t, err, context.Canceled)
}
