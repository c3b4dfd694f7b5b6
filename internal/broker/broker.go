// Package broker provides the execution system that fills agent orders and
// reports authoritative account and position snapshots.
package broker

import (
	"context"

	"replay-trader/internal/models"
)

// Broker defines the execution operations the engine relies on.
type Broker interface {
	// Orders
	PlaceOrder(ctx context.Context, order *models.Order) (*OrderResult, error)
	GetOrders(ctx context.Context) ([]models.Order, error)

	// Positions & Account
	GetPositions(ctx context.Context) ([]models.Position, error)
	GetAccount(ctx context.Context) (*models.Account, error)
}

// PriceFeed receives the latest visible close of each symbol.
type PriceFeed interface {
	UpdatePrice(symbol string, price float64)
}

// OrderResult represents the result of an order placement.
type OrderResult struct {
	Order    models.Order
	Notional float64
	Message  string
}
