// Package agents schedules trading agents and turns provider output into
// canonical decisions.
package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"replay-trader/internal/errors"
	"replay-trader/internal/models"
)

// Failure reasons attached to ProviderError.
const (
	ReasonMissingContext = "missing_context"
	ReasonProviderError  = "provider_error"
	ReasonTimeout        = "timeout"
	ReasonCanceled       = "canceled"
	ReasonInvalidJSON    = "invalid_json"
	ReasonNotObject      = "not_object"
	ReasonMissingAction  = "missing_action"
	ReasonSinkError      = "sink_error"
	ReasonUnknownAgent   = "unknown_strategy"
	ReasonCircuitOpen    = "circuit_open"
)

// Payload is the raw, untrusted provider response.
type Payload = json.RawMessage

// Request is what a provider is asked to decide on.
type Request struct {
	Agent       models.AgentConfig
	CycleNumber int
	Context     *DecisionContext
}

// Provider produces a raw decision for one agent and cycle.
type Provider interface {
	Decide(ctx context.Context, req Request) (Payload, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (Payload, error)

// Decide calls f.
func (f ProviderFunc) Decide(ctx context.Context, req Request) (Payload, error) {
	return f(ctx, req)
}

// Registry dispatches to a provider by the agent strategy name. The empty
// key is used when no strategy matches.
type Registry map[string]Provider

// Decide implements Provider.
func (r Registry) Decide(ctx context.Context, req Request) (Payload, error) {
	p, ok := r[strings.ToLower(req.Agent.Strategy)]
	if !ok {
		p, ok = r[""]
	}
	if !ok {
		return nil, errors.NewProviderError(req.Agent.ID, req.CycleNumber, ReasonUnknownAgent,
			errors.Wrapf(errors.ErrAgentNotFound, "no provider for strategy %q", req.Agent.Strategy))
	}
	return p.Decide(ctx, req)
}

// DecisionContext is the market and account view an agent decides on.
type DecisionContext struct {
	AgentID      string
	ActiveSymbol string
	Symbols      []string
	LotSize      int
	BarTsMs      int64
	TradingDay   string
	Frames       map[string][]models.Frame
	Prices       map[string]float64
	Account      models.Account
	Positions    []models.Position
	Replay       models.ReplayStatus
}

// ContextBuilder assembles the decision context of an agent.
type ContextBuilder interface {
	BuildContext(ctx context.Context, agent models.AgentConfig) (*DecisionContext, error)
}

// ContextBuilderFunc adapts a function to ContextBuilder.
type ContextBuilderFunc func(ctx context.Context, agent models.AgentConfig) (*DecisionContext, error)

// BuildContext calls f.
func (f ContextBuilderFunc) BuildContext(ctx context.Context, agent models.AgentConfig) (*DecisionContext, error) {
	return f(ctx, agent)
}

// HasSymbol reports whether symbol is tradable in this context.
func (c *DecisionContext) HasSymbol(symbol string) bool {
	for _, s := range c.Symbols {
		if s == symbol {
			return true
		}
	}
	return symbol != "" && symbol == c.ActiveSymbol
}

// Price returns the latest visible close of symbol.
func (c *DecisionContext) Price(symbol string) (float64, bool) {
	p, ok := c.Prices[symbol]
	return p, ok && p > 0
}

// Holding returns the reported position quantity of symbol.
func (c *DecisionContext) Holding(symbol string) int {
	for _, p := range c.Positions {
		if p.Symbol == symbol {
			return p.Quantity
		}
	}
	return 0
}

// RawDecision is a provider payload that passed boundary validation. Its
// values are not yet clamped.
type RawDecision struct {
	Action         string
	Symbol         string
	Confidence     float64
	QuantityShares float64
	Reasoning      string
}

type wirePayload struct {
	Action         *string     `json:"action"`
	Symbol         string      `json:"symbol"`
	Confidence     flexNumber  `json:"confidence"`
	QuantityShares *flexNumber `json:"quantity_shares"`
	Quantity       *flexNumber `json:"quantity"`
	Reasoning      string      `json:"reasoning"`
}

// flexNumber accepts a JSON number, a numeric string or null.
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*n = flexNumber(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = flexNumber(v)
	return nil
}

// DecodePayload validates a provider payload. It returns either a RawDecision
// or a *errors.ProviderError whose Reason names the rejected shape.
func DecodePayload(p Payload) (RawDecision, error) {
	data := bytes.TrimSpace(p)
	if len(data) == 0 {
		return RawDecision{}, errors.NewProviderError("", 0, ReasonInvalidJSON, errors.ErrInvalidPayload)
	}
	if data[0] != '{' {
		return RawDecision{}, errors.NewProviderError("", 0, ReasonNotObject, errors.ErrInvalidPayload)
	}

	var w wirePayload
	if err := json.Unmarshal(data, &w); err != nil {
		return RawDecision{}, errors.NewProviderError("", 0, ReasonInvalidJSON, errors.Wrap(errors.ErrInvalidPayload, err.Error()))
	}
	if w.Action == nil {
		return RawDecision{}, errors.NewProviderError("", 0, ReasonMissingAction, errors.ErrInvalidPayload)
	}

	raw := RawDecision{
		Action:     *w.Action,
		Symbol:     strings.TrimSpace(w.Symbol),
		Confidence: float64(w.Confidence),
		Reasoning:  w.Reasoning,
	}
	switch {
	case w.QuantityShares != nil:
		raw.QuantityShares = float64(*w.QuantityShares)
	case w.Quantity != nil:
		raw.QuantityShares = float64(*w.Quantity)
	}
	if math.IsInf(raw.QuantityShares, 0) || math.IsNaN(raw.QuantityShares) {
		raw.QuantityShares = 0
	}
	return raw, nil
}

// EncodeDecision renders a raw decision as a provider payload.
func EncodeDecision(raw RawDecision) Payload {
	data, _ := json.Marshal(map[string]interface{}{
		"action":          raw.Action,
		"symbol":          raw.Symbol,
		"confidence":      raw.Confidence,
		"quantity_shares": raw.QuantityShares,
		"reasoning":       raw.Reasoning,
	})
	return data
}
