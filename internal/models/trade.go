package models

import "time"

// PositionSide is the direction of a lot. Only long lots are opened.
type PositionSide string

const (
	SideLong PositionSide = "LONG"
)

// OpenLot is a discrete ownership record created by one buy fill.
type OpenLot struct {
	Symbol            string       `json:"symbol"`
	Side              PositionSide `json:"side"`
	EntryQty          int          `json:"entry_qty"`
	RemainingQty      int          `json:"remaining_qty"`
	EntryPrice        float64      `json:"entry_price"`
	EntryTime         time.Time    `json:"entry_time"`
	EntryOrderID      string       `json:"entry_order_id"`
	EntryFee          float64      `json:"entry_fee"`
	EntryFeeRemaining float64      `json:"entry_fee_remaining"`
	CycleNumber       int          `json:"cycle_number"`
}

// ClosedPosition records the matched part of one lot against one sell.
type ClosedPosition struct {
	Symbol       string       `json:"symbol"`
	Side         PositionSide `json:"side"`
	Quantity     int          `json:"quantity"`
	EntryPrice   float64      `json:"entry_price"`
	ExitPrice    float64      `json:"exit_price"`
	EntryTime    time.Time    `json:"entry_time"`
	ExitTime     time.Time    `json:"exit_time"`
	EntryOrderID string       `json:"entry_order_id"`
	ExitOrderID  string       `json:"exit_order_id"`
	EntryFee     float64      `json:"entry_fee"`
	ExitFee      float64      `json:"exit_fee"`
	Fee          float64      `json:"fee"`
	RealizedPnL  float64      `json:"realized_pnl"`
	CycleNumber  int          `json:"cycle_number"`
}

// HoldDuration returns how long the matched quantity was held.
func (c ClosedPosition) HoldDuration() time.Duration {
	return c.ExitTime.Sub(c.EntryTime)
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Timestamp   time.Time `json:"timestamp"`
	TotalEquity float64   `json:"total_equity"`
	PnL         float64   `json:"pnl"`
	PnLPct      float64   `json:"pnl_pct"`
	CycleNumber int       `json:"cycle_number"`
}

// JournalDay aggregates one trading day of an agent.
type JournalDay struct {
	TradingDay   string  `json:"trading_day"`
	Decisions    int     `json:"decisions"`
	Buys         int     `json:"buys"`
	Sells        int     `json:"sells"`
	Holds        int     `json:"holds"`
	StartEquity  float64 `json:"start_equity"`
	EndEquity    float64 `json:"end_equity"`
	PeakEquity   float64 `json:"peak_equity"`
	TroughEquity float64 `json:"trough_equity"`
	Fees         float64 `json:"fees"`
	RealizedPnL  float64 `json:"realized_pnl"`
}

// RecentAction is the compact view of a cycle kept for display.
type RecentAction struct {
	CycleNumber int       `json:"cycle_number"`
	Action      Action    `json:"action"`
	Symbol      string    `json:"symbol"`
	Quantity    int       `json:"quantity"`
	Price       float64   `json:"price"`
	Executed    bool      `json:"executed"`
	Fee         float64   `json:"fee"`
	RealizedPnL float64   `json:"realized_pnl"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
}
