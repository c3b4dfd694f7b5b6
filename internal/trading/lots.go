package trading

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"replay-trader/internal/models"
	"replay-trader/pkg/utils"
)

// sellFill is the executed part of a sell that has to be matched against
// open lots.
type sellFill struct {
	Symbol   string
	Quantity int
	Price    float64
	Fee      float64
	Time     time.Time
	OrderID  string
	Cycle    int
}

// fifoResult is the outcome of matching one sell.
type fifoResult struct {
	Lots        []models.OpenLot
	Closed      []models.ClosedPosition
	RealizedPnL float64
	// Unmatched is the quantity left after every open lot of the symbol was
	// exhausted. Non-zero means the execution system and the ledger disagree.
	Unmatched int
}

// pushLot appends a lot keeping the queue ordered by entry time. Lots with
// equal entry times keep arrival order.
func pushLot(lots []models.OpenLot, lot models.OpenLot) []models.OpenLot {
	i := sort.Search(len(lots), func(i int) bool {
		return lots[i].EntryTime.After(lot.EntryTime)
	})
	lots = append(lots, models.OpenLot{})
	copy(lots[i+1:], lots[i:])
	lots[i] = lot
	return lots
}

// sortLots restores entry-time order, used on lots loaded from disk.
func sortLots(lots []models.OpenLot) {
	sort.SliceStable(lots, func(i, j int) bool {
		return lots[i].EntryTime.Before(lots[j].EntryTime)
	})
}

// consumeFIFO matches a sell against the open lots of its symbol, oldest
// first. The input slice is not modified.
//
// Entry fees are released in proportion to the closed share of each lot and a
// lot that is closed out releases whatever fee it still carries. The sell fee
// is split by the closed share of the fill; the lot that completes the fill
// takes the rounding remainder so the shares add up to the fee exactly.
func consumeFIFO(lots []models.OpenLot, fill sellFill) fifoResult {
	res := fifoResult{Lots: make([]models.OpenLot, 0, len(lots))}
	if fill.Quantity <= 0 {
		res.Lots = append(res.Lots, lots...)
		return res
	}

	sellFee := utils.Money(fill.Fee)
	filled := decimal.NewFromInt(int64(fill.Quantity))
	exit := decimal.NewFromFloat(fill.Price)
	allocated := decimal.Zero
	realized := decimal.Zero
	remaining := fill.Quantity

	for _, lot := range lots {
		if lot.Symbol != fill.Symbol || remaining == 0 || lot.RemainingQty <= 0 {
			if lot.RemainingQty > 0 {
				res.Lots = append(res.Lots, lot)
			}
			continue
		}

		closeQty := remaining
		if lot.RemainingQty < closeQty {
			closeQty = lot.RemainingQty
		}
		qty := decimal.NewFromInt(int64(closeQty))

		feeLeft := utils.Money(lot.EntryFeeRemaining)
		entryShare := feeLeft
		if closeQty < lot.RemainingQty {
			entryShare = feeLeft.Mul(qty).Div(decimal.NewFromInt(int64(lot.RemainingQty))).Round(2)
		}

		remaining -= closeQty
		var sellShare decimal.Decimal
		if remaining == 0 {
			sellShare = sellFee.Sub(allocated)
		} else {
			sellShare = sellFee.Mul(qty).Div(filled).Round(2)
		}
		allocated = allocated.Add(sellShare)

		entry := decimal.NewFromFloat(lot.EntryPrice)
		pnl := exit.Sub(entry).Mul(qty).Sub(entryShare).Sub(sellShare).Round(2)
		realized = realized.Add(pnl)

		res.Closed = append(res.Closed, models.ClosedPosition{
			Symbol:       lot.Symbol,
			Side:         lot.Side,
			Quantity:     closeQty,
			EntryPrice:   lot.EntryPrice,
			ExitPrice:    fill.Price,
			EntryTime:    lot.EntryTime,
			ExitTime:     fill.Time,
			EntryOrderID: lot.EntryOrderID,
			ExitOrderID:  fill.OrderID,
			EntryFee:     utils.ToFloat(entryShare),
			ExitFee:      utils.ToFloat(sellShare),
			Fee:          utils.ToFloat(entryShare.Add(sellShare)),
			RealizedPnL:  utils.ToFloat(pnl),
			CycleNumber:  fill.Cycle,
		})

		lot.RemainingQty -= closeQty
		left := feeLeft.Sub(entryShare)
		if left.IsNegative() || lot.RemainingQty == 0 {
			left = decimal.Zero
		}
		lot.EntryFeeRemaining = utils.ToFloat(left)
		if lot.RemainingQty > 0 {
			res.Lots = append(res.Lots, lot)
		}
	}

	res.RealizedPnL = utils.ToFloat(realized)
	res.Unmatched = remaining
	return res
}

// openQuantities sums remaining lot quantity per symbol.
func openQuantities(lots []models.OpenLot) map[string]int {
	out := make(map[string]int)
	for _, lot := range lots {
		out[lot.Symbol] += lot.RemainingQty
	}
	return out
}
