package models

import (
	"fmt"
	"time"
)

// Action is the canonical action of a decision.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Decision is the canonical record produced once per agent per cycle.
// It is created by the normalizer, completed by the execution step and
// never mutated after it is stored in history.
type Decision struct {
	ID           string        `json:"id"`
	AgentID      string        `json:"agent_id"`
	CycleNumber  int           `json:"cycle_number"`
	Symbol       string        `json:"symbol"`
	Action       Action        `json:"action"`
	Quantity     int           `json:"quantity"`
	Price        float64       `json:"price"`
	Confidence   float64       `json:"confidence"`
	Reasoning    string        `json:"reasoning"`
	AccountState *AccountState `json:"account_state,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
	BarTsMs      int64         `json:"bar_ts_ms"`
	TradingDay   string        `json:"trading_day,omitempty"`

	// Execution report
	Executed       bool    `json:"executed"`
	FilledQuantity int     `json:"filled_quantity"`
	Notional       float64 `json:"notional"`
	Fee            float64 `json:"fee"`
	OrderID        string  `json:"order_id,omitempty"`
	RejectReason   string  `json:"reject_reason,omitempty"`
}

// DecisionID builds the dedupe key of an agent cycle.
func DecisionID(agentID string, cycle int) string {
	return fmt.Sprintf("%s:%d", agentID, cycle)
}

// IsTrade reports whether the decision asks for an order.
func (d *Decision) IsTrade() bool {
	return d.Action == ActionBuy || d.Action == ActionSell
}

// AccountState is the account summary captured alongside a decision.
type AccountState struct {
	TotalEquity      float64 `json:"total_equity"`
	AvailableBalance float64 `json:"available_balance"`
	UnrealizedProfit float64 `json:"unrealized_profit"`
	PositionCount    int     `json:"position_count"`
}

// AgentConfig describes one trading agent.
type AgentConfig struct {
	ID             string   `json:"id" mapstructure:"id"`
	Name           string   `json:"name" mapstructure:"name"`
	Symbols        []string `json:"symbols" mapstructure:"symbols"`
	ActiveSymbol   string   `json:"active_symbol" mapstructure:"active_symbol"`
	LotSize        int      `json:"lot_size" mapstructure:"lot_size"`
	InitialBalance float64  `json:"initial_balance" mapstructure:"initial_balance"`
	Strategy       string   `json:"strategy" mapstructure:"strategy"`
	Model          string   `json:"model,omitempty" mapstructure:"model"`
}

// DisplayName returns the name or, when empty, the id.
func (a AgentConfig) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}
