package agents

import (
	"math"
	"strings"
	"unicode/utf8"

	"replay-trader/internal/models"
	"replay-trader/pkg/utils"
)

const (
	MinConfidence     = 0.51
	MaxConfidence     = 0.95
	MaxReasoningRunes = 320
	DefaultLotSize    = 100
	FallbackReasoning = "No reasoning provided by the decision provider."

	maxShares = 1e12
)

// Normalize turns a validated raw decision into a canonical decision. The
// result has no id, cycle or timestamp yet; the scheduler assigns those.
func Normalize(raw RawDecision, dc *DecisionContext) models.Decision {
	if dc == nil {
		dc = &DecisionContext{}
	}

	action := normalizeAction(raw.Action)
	symbol := raw.Symbol
	if !dc.HasSymbol(symbol) {
		symbol = dc.ActiveSymbol
	}

	d := models.Decision{
		AgentID:    dc.AgentID,
		Symbol:     symbol,
		Action:     action,
		Quantity:   normalizeQuantity(action, raw.QuantityShares, dc.LotSize),
		Confidence: normalizeConfidence(raw.Confidence),
		Reasoning:  normalizeReasoning(raw.Reasoning),
		BarTsMs:    dc.BarTsMs,
		TradingDay: dc.TradingDay,
	}
	if price, ok := dc.Price(symbol); ok {
		d.Price = price
	}
	d.AccountState = dc.Account.State(dc.Positions)
	return d
}

func normalizeAction(a string) models.Action {
	switch models.Action(strings.ToLower(strings.TrimSpace(a))) {
	case models.ActionBuy:
		return models.ActionBuy
	case models.ActionSell:
		return models.ActionSell
	default:
		return models.ActionHold
	}
}

func normalizeConfidence(c float64) float64 {
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return MinConfidence
	}
	return utils.Round2(utils.Clamp(c, MinConfidence, MaxConfidence))
}

// normalizeQuantity floors to whole lots. A trade always carries at least
// one lot.
func normalizeQuantity(action models.Action, shares float64, lotSize int) int {
	if action == models.ActionHold {
		return 0
	}
	if lotSize <= 0 {
		lotSize = DefaultLotSize
	}
	lots := 0
	if shares > 0 && !math.IsInf(shares, 0) {
		lots = int(math.Floor(math.Min(shares, maxShares) / float64(lotSize)))
	}
	if lots < 1 {
		lots = 1
	}
	return lots * lotSize
}

func normalizeReasoning(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return FallbackReasoning
	}
	if utf8.RuneCountInString(s) > MaxReasoningRunes {
		s = strings.TrimSpace(string([]rune(s)[:MaxReasoningRunes]))
	}
	return s
}
