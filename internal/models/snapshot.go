package models

import "time"

// SnapshotSchemaVersion is written into every persisted agent document.
// Loading an older document defaults the fields it does not carry.
const SnapshotSchemaVersion = 2

// AgentStats holds the running statistics of an agent.
type AgentStats struct {
	InitialBalance   float64   `json:"initial_balance"`
	TotalEquity      float64   `json:"total_equity"`
	AvailableBalance float64   `json:"available_balance"`
	UnrealizedPnL    float64   `json:"unrealized_pnl"`
	RealizedPnL      float64   `json:"realized_pnl"`
	TotalPnL         float64   `json:"total_pnl"`
	TotalPnLPct      float64   `json:"total_pnl_pct"`
	PeakEquity       float64   `json:"peak_equity"`
	TroughEquity     float64   `json:"trough_equity"`
	MaxDrawdownPct   float64   `json:"max_drawdown_pct"`
	Decisions        int       `json:"decisions"`
	BuyTrades        int       `json:"buy_trades"`
	SellTrades       int       `json:"sell_trades"`
	Holds            int       `json:"holds"`
	Wins             int       `json:"wins"`
	Losses           int       `json:"losses"`
	TotalFeesPaid    float64   `json:"total_fees_paid"`
	OversellEvents   int       `json:"oversell_events"`
	LastCycleNumber  int       `json:"last_cycle_number"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// WinRate returns wins over decided sells in percent.
func (s AgentStats) WinRate() float64 {
	total := s.Wins + s.Losses
	if total == 0 {
		return 0
	}
	return float64(s.Wins) / float64(total) * 100
}

// AgentSnapshot is the durable per-agent document.
type AgentSnapshot struct {
	SchemaVersion   int              `json:"schema_version"`
	AgentID         string           `json:"agent_id"`
	Config          AgentConfig      `json:"config"`
	Stats           AgentStats       `json:"stats"`
	DailyJournal    []JournalDay     `json:"daily_journal"`
	OpenLots        []OpenLot        `json:"open_lots"`
	ClosedPositions []ClosedPosition `json:"closed_positions"`
	EquityCurve     []EquityPoint    `json:"equity_curve"`
	RecentActions   []RecentAction   `json:"recent_actions"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Clone returns a deep copy of the snapshot.
func (s *AgentSnapshot) Clone() *AgentSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Config.Symbols = append([]string(nil), s.Config.Symbols...)
	out.DailyJournal = append([]JournalDay{}, s.DailyJournal...)
	out.OpenLots = append([]OpenLot{}, s.OpenLots...)
	out.ClosedPositions = append([]ClosedPosition{}, s.ClosedPositions...)
	out.EquityCurve = append([]EquityPoint{}, s.EquityCurve...)
	out.RecentActions = append([]RecentAction{}, s.RecentActions...)
	return &out
}

// OpenQuantity sums the remaining quantity of the open lots of a symbol.
func (s *AgentSnapshot) OpenQuantity(symbol string) int {
	total := 0
	for _, lot := range s.OpenLots {
		if lot.Symbol == symbol {
			total += lot.RemainingQty
		}
	}
	return total
}
