// Package store provides snapshot persistence and the decision archive.
package store

import (
	"context"

	"replay-trader/internal/models"
)

// Archive is an append-mostly history of decisions and closed positions.
// It is queried by the CLI and never read back by the ledger.
type Archive interface {
	SaveDecision(ctx context.Context, decision *models.Decision) error
	SaveClosedPositions(ctx context.Context, agentID string, closed []models.ClosedPosition) error
	GetDecisions(ctx context.Context, filter DecisionFilter) ([]models.Decision, error)
	GetClosedPositions(ctx context.Context, filter ClosedFilter) ([]models.ClosedPosition, error)
	GetDecisionStats(ctx context.Context, agentID string) (*DecisionStats, error)
	Reset(ctx context.Context) error
	Close() error
}

// DecisionFilter represents filters for querying archived decisions.
type DecisionFilter struct {
	AgentID  string
	Symbol   string
	Action   models.Action
	Executed *bool
	Limit    int
}

// ClosedFilter represents filters for querying closed positions.
type ClosedFilter struct {
	AgentID string
	Symbol  string
	Limit   int
}

// DecisionStats summarizes archived decisions.
type DecisionStats struct {
	TotalDecisions int            `json:"total_decisions"`
	Executed       int            `json:"executed"`
	Buys           int            `json:"buys"`
	Sells          int            `json:"sells"`
	Holds          int            `json:"holds"`
	AvgConfidence  float64        `json:"avg_confidence"`
	TotalFees      float64        `json:"total_fees"`
	RealizedPnL    float64        `json:"realized_pnl"`
	Wins           int            `json:"wins"`
	Losses         int            `json:"losses"`
	BySymbol       map[string]int `json:"by_symbol"`
}
