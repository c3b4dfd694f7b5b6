package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"replay-trader/internal/errors"
	"replay-trader/internal/models"
	"replay-trader/pkg/utils"
)

// DefaultInitialBalance is used when an agent has no configured balance.
const DefaultInitialBalance = 100000

// PaperBroker simulates fills at the latest visible close. Orders fill
// immediately and in full, except that sells are capped at the held quantity.
type PaperBroker struct {
	commission decimal.Decimal
	now        func() time.Time
	newID      func() string

	initial    float64
	cash       decimal.Decimal
	positions  map[string]*paperPosition
	orders     []models.Order
	priceCache map[string]float64
	maxOrders  int

	mu sync.RWMutex
}

type paperPosition struct {
	quantity int
	cost     decimal.Decimal
}

// PaperBrokerConfig holds configuration for the paper broker.
type PaperBrokerConfig struct {
	InitialBalance float64
	CommissionRate float64
	// MaxOrders bounds the kept order history. Zero keeps 500.
	MaxOrders int
	Now       func() time.Time
	NewID     func() string
}

// NewPaperBroker creates a new paper trading broker.
func NewPaperBroker(cfg PaperBrokerConfig) *PaperBroker {
	initial := cfg.InitialBalance
	if initial <= 0 {
		initial = DefaultInitialBalance
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return "PAPER-" + uuid.NewString() }
	}
	if cfg.MaxOrders <= 0 {
		cfg.MaxOrders = 500
	}

	return &PaperBroker{
		commission: decimal.NewFromFloat(cfg.CommissionRate),
		now:        cfg.Now,
		newID:      cfg.NewID,
		initial:    initial,
		cash:       utils.Money(initial),
		positions:  make(map[string]*paperPosition),
		priceCache: make(map[string]float64),
		maxOrders:  cfg.MaxOrders,
	}
}

// UpdatePrice records the mark price of a symbol. Non-positive prices are ignored.
func (p *PaperBroker) UpdatePrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	p.mu.Lock()
	p.priceCache[symbol] = price
	p.mu.Unlock()
}

// Price returns the cached mark price of a symbol.
func (p *PaperBroker) Price(symbol string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.priceCache[symbol]
	return price, ok
}

// PlaceOrder fills a market order at the cached price. A rejected order is
// recorded and returned together with an OrderError.
func (p *PaperBroker) PlaceOrder(ctx context.Context, order *models.Order) (*OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	o := *order
	o.ID = p.newID()
	o.PlacedAt = p.now()

	reject := func(reason string, cause error) (*OrderResult, error) {
		o.Status = models.OrderStatusRejected
		o.FilledQty = 0
		p.recordOrder(o)
		return &OrderResult{Order: o, Message: reason}, errors.NewOrderError(o.ID, o.Symbol, string(o.Side), reason, cause)
	}

	if o.Quantity <= 0 {
		return reject("quantity must be positive", errors.ErrInvalidOrder)
	}
	price, ok := p.priceCache[o.Symbol]
	if !ok || price <= 0 {
		return reject("no price", errors.ErrNoPrice)
	}

	qty := o.Quantity
	pos := p.positions[o.Symbol]

	switch o.Side {
	case models.OrderSideBuy:
		notional := decimal.NewFromInt(int64(qty)).Mul(decimal.NewFromFloat(price)).Round(2)
		fee := notional.Mul(p.commission).Round(2)
		if p.cash.LessThan(notional.Add(fee)) {
			return reject(fmt.Sprintf("need %s, have %s", notional.Add(fee).StringFixed(2), p.cash.StringFixed(2)), errors.ErrInsufficientFunds)
		}
		if pos == nil {
			pos = &paperPosition{}
			p.positions[o.Symbol] = pos
		}
		pos.quantity += qty
		pos.cost = pos.cost.Add(notional)
		p.cash = p.cash.Sub(notional).Sub(fee)
		return p.fill(o, qty, price, notional, fee), nil

	case models.OrderSideSell:
		if pos == nil || pos.quantity <= 0 {
			return reject("nothing held", errors.ErrNoPosition)
		}
		if qty > pos.quantity {
			qty = pos.quantity
		}
		notional := decimal.NewFromInt(int64(qty)).Mul(decimal.NewFromFloat(price)).Round(2)
		fee := notional.Mul(p.commission).Round(2)

		// Cost basis leaves the position proportionally.
		released := pos.cost.Mul(decimal.NewFromInt(int64(qty))).Div(decimal.NewFromInt(int64(pos.quantity))).Round(2)
		pos.quantity -= qty
		pos.cost = pos.cost.Sub(released)
		if pos.quantity == 0 {
			delete(p.positions, o.Symbol)
		}
		p.cash = p.cash.Add(notional).Sub(fee)
		return p.fill(o, qty, price, notional, fee), nil
	}

	return reject("unknown side", errors.ErrInvalidOrder)
}

func (p *PaperBroker) fill(o models.Order, qty int, price float64, notional, fee decimal.Decimal) *OrderResult {
	o.Status = models.OrderStatusComplete
	o.FilledQty = qty
	o.AveragePrice = price
	o.Fee = utils.ToFloat(fee)
	p.recordOrder(o)
	return &OrderResult{
		Order:    o,
		Notional: utils.ToFloat(notional),
		Message:  "Paper order filled",
	}
}

func (p *PaperBroker) recordOrder(o models.Order) {
	p.orders = append(p.orders, o)
	if len(p.orders) > p.maxOrders {
		p.orders = append([]models.Order(nil), p.orders[len(p.orders)-p.maxOrders:]...)
	}
}

// GetOrders returns the kept order history, oldest first.
func (p *PaperBroker) GetOrders(ctx context.Context) ([]models.Order, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]models.Order(nil), p.orders...), nil
}

// GetPositions returns open positions marked at the cached prices, sorted by symbol.
func (p *PaperBroker) GetPositions(ctx context.Context) ([]models.Position, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positionsLocked(), nil
}

func (p *PaperBroker) positionsLocked() []models.Position {
	out := make([]models.Position, 0, len(p.positions))
	for symbol, pos := range p.positions {
		if pos.quantity <= 0 {
			continue
		}
		qty := decimal.NewFromInt(int64(pos.quantity))
		avg := pos.cost.Div(qty)
		mark := decimal.NewFromFloat(p.priceCache[symbol])
		if mark.IsZero() {
			mark = avg
		}
		value := mark.Mul(qty)
		out = append(out, models.Position{
			Symbol:        symbol,
			Quantity:      pos.quantity,
			AveragePrice:  utils.RoundTo(avg.InexactFloat64(), 4),
			MarkPrice:     mark.InexactFloat64(),
			UnrealizedPnL: utils.ToFloat(value.Sub(pos.cost)),
			Value:         utils.ToFloat(value),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// GetAccount returns cash, equity and unrealized profit at the cached prices.
func (p *PaperBroker) GetAccount(ctx context.Context) (*models.Account, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	equity := p.cash
	unrealized := decimal.Zero
	for _, pos := range p.positionsLocked() {
		equity = equity.Add(decimal.NewFromFloat(pos.Value))
		unrealized = unrealized.Add(decimal.NewFromFloat(pos.UnrealizedPnL))
	}
	return &models.Account{
		TotalEquity:      utils.ToFloat(equity),
		AvailableBalance: utils.ToFloat(p.cash),
		UnrealizedProfit: utils.ToFloat(unrealized),
	}, nil
}

// Restore rebuilds cash and positions from a persisted agent snapshot so a
// restarted replay continues from the recorded state.
func (p *PaperBroker) Restore(snap *models.AgentSnapshot) {
	if snap == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.positions = make(map[string]*paperPosition)
	for _, lot := range snap.OpenLots {
		if lot.RemainingQty <= 0 {
			continue
		}
		pos := p.positions[lot.Symbol]
		if pos == nil {
			pos = &paperPosition{}
			p.positions[lot.Symbol] = pos
		}
		pos.quantity += lot.RemainingQty
		pos.cost = pos.cost.Add(decimal.NewFromInt(int64(lot.RemainingQty)).Mul(decimal.NewFromFloat(lot.EntryPrice)))
		if _, ok := p.priceCache[lot.Symbol]; !ok {
			p.priceCache[lot.Symbol] = lot.EntryPrice
		}
	}

	switch {
	case snap.Stats.Decisions > 0 || len(snap.OpenLots) > 0:
		p.cash = utils.Money(snap.Stats.AvailableBalance)
	case snap.Stats.InitialBalance > 0:
		p.cash = utils.Money(snap.Stats.InitialBalance)
	}
}

// Reset returns the broker to its initial balance with no positions or orders.
func (p *PaperBroker) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cash = utils.Money(p.initial)
	p.positions = make(map[string]*paperPosition)
	p.orders = nil
}
