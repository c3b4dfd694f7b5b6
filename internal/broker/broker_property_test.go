package broker

import (
	"context"
	"fmt"
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

func newTestBroker(balance float64) *PaperBroker {
	n := 0
	return NewPaperBroker(PaperBrokerConfig{
		InitialBalance: balance,
		CommissionRate: 0.003,
		Now:            func() time.Time { return time.Date(2024, 1, 2, 1, 30, 0, 0, time.UTC) },
		NewID: func() string {
			n++
			return fmt.Sprintf("PAPER-%d", n)
		},
	})
}

func order(symbol string, side models.OrderSide, qty int) *models.Order {
	return &models.Order{AgentID: "alpha", Symbol: symbol, Side: side, Quantity: qty}
}

func TestPaperBrokerRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(100000)

	b.UpdatePrice("600000", 10)
	res, err := b.PlaceOrder(ctx, order("600000", models.OrderSideBuy, 100))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusComplete, res.Order.Status)
	assert.Equal(t, "PAPER-1", res.Order.ID)
	assert.Equal(t, 1000.0, res.Notional)
	assert.Equal(t, 3.0, res.Order.Fee)

	acct, err := b.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 98997.0, acct.AvailableBalance)
	assert.Equal(t, 99997.0, acct.TotalEquity)

	b.UpdatePrice("600000", 11)
	positions, err := b.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 100.0, positions[0].UnrealizedPnL)
	assert.Equal(t, 1100.0, positions[0].Value)

	res, err = b.PlaceOrder(ctx, order("600000", models.OrderSideSell, 100))
	require.NoError(t, err)
	assert.Equal(t, 3.3, res.Order.Fee)

	acct, err = b.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100093.7, acct.TotalEquity)
	assert.Zero(t, acct.UnrealizedProfit)

	positions, err = b.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestPaperBrokerRejections(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(1000)

	_, err := b.PlaceOrder(ctx, order("600000", models.OrderSideBuy, 100))
	assert.ErrorIs(t, err, errors.ErrNoPrice)

	b.UpdatePrice("600000", 10)
	res, err := b.PlaceOrder(ctx, order("600000", models.OrderSideBuy, 100))
	assert.ErrorIs(t, err, errors.ErrInsufficientFunds, "fee pushes the cost above cash")
	require.NotNil(t, res)
	assert.Equal(t, models.OrderStatusRejected, res.Order.Status)

	_, err = b.PlaceOrder(ctx, order("600000", models.OrderSideSell, 100))
	assert.ErrorIs(t, err, errors.ErrNoPosition)

	_, err = b.PlaceOrder(ctx, order("600000", models.OrderSideBuy, 0))
	assert.ErrorIs(t, err, errors.ErrInvalidOrder)

	var oerr *errors.OrderError
	assert.True(t, errors.As(err, &oerr))

	orders, err := b.GetOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, orders, 4)

	acct, err := b.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, acct.AvailableBalance)
}

func TestPaperBrokerSellIsCappedAtHolding(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(100000)
	b.UpdatePrice("600000", 10)

	_, err := b.PlaceOrder(ctx, order("600000", models.OrderSideBuy, 200))
	require.NoError(t, err)
	res, err := b.PlaceOrder(ctx, order("600000", models.OrderSideSell, 500))
	require.NoError(t, err)
	assert.Equal(t, 500, res.Order.Quantity)
	assert.Equal(t, 200, res.Order.FilledQty)
}

func TestPaperBrokerRestoreAndReset(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(100000)

	b.Restore(&models.AgentSnapshot{
		Stats: models.AgentStats{InitialBalance: 100000, AvailableBalance: 97000, Decisions: 3},
		OpenLots: []models.OpenLot{
			{Symbol: "600000", RemainingQty: 100, EntryPrice: 10},
			{Symbol: "600000", RemainingQty: 100, EntryPrice: 20},
		},
	})

	positions, err := b.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 200, positions[0].Quantity)
	assert.Equal(t, 15.0, positions[0].AveragePrice)

	acct, err := b.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 97000.0, acct.AvailableBalance)

	b.Reset()
	acct, err = b.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100000.0, acct.TotalEquity)
	orders, _ := b.GetOrders(ctx)
	assert.Empty(t, orders)
}

// Property: at an unchanged price, equity falls by exactly the fees paid.
func TestProperty_EquityLosesOnlyFees(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("cash plus holdings minus fees is conserved", prop.ForAll(
		func(cents int, lots []int) bool {
			ctx := context.Background()
			b := newTestBroker(1e9)
			b.UpdatePrice("600000", float64(cents)/100)

			fees := 0.0
			for i, l := range lots {
				side := models.OrderSideBuy
				if i%2 == 1 {
					side = models.OrderSideSell
				}
				res, err := b.PlaceOrder(ctx, order("600000", side, l*100))
				if err == nil {
					fees += res.Order.Fee
				}
			}

			acct, err := b.GetAccount(ctx)
			if err != nil {
				return false
			}
			diff := 1e9 - fees - acct.TotalEquity
			return diff < 0.011 && diff > -0.011
		},
		gen.IntRange(100, 20000),
		gen.SliceOf(gen.IntRange(1, 50)),
	))

	properties.TestingRun(t)
}
