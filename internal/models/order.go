package models

import "time"

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderStatus values reported by the execution system.
const (
	OrderStatusComplete = "COMPLETE"
	OrderStatusRejected = "REJECTED"
)

// Order is a market order sent to the execution system.
type Order struct {
	ID           string
	AgentID      string
	Symbol       string
	Side         OrderSide
	Quantity     int
	Tag          string
	Status       string
	FilledQty    int
	AveragePrice float64
	Fee          float64
	PlacedAt     time.Time
}

// Position is an open position as reported by the execution system.
type Position struct {
	Symbol        string  `json:"symbol"`
	Quantity      int     `json:"quantity"`
	AveragePrice  float64 `json:"average_price"`
	MarkPrice     float64 `json:"mark_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Value         float64 `json:"value"`
}

// Account is the authoritative balance snapshot of the execution system.
type Account struct {
	TotalEquity      float64 `json:"total_equity"`
	AvailableBalance float64 `json:"available_balance"`
	UnrealizedProfit float64 `json:"unrealized_profit"`
}

// State converts the account into the summary stored on decisions.
func (a Account) State(positions []Position) *AccountState {
	return &AccountState{
		TotalEquity:      a.TotalEquity,
		AvailableBalance: a.AvailableBalance,
		UnrealizedProfit: a.UnrealizedProfit,
		PositionCount:    len(positions),
	}
}
