package agents

import (
	"context"
	"fmt"
	"strings"

	"replay-trader/internal/models"
)

// Strategy names understood by RuleProvider.
const (
	StrategySMACrossover = "sma_crossover"
	StrategyRSIOversold  = "rsi_oversold"
	StrategyHold         = "hold"
)

// signal is a strategy verdict on the latest visible bar.
type signal struct {
	action     models.Action
	confidence float64
	reason     string
}

// RuleProviderConfig configures the indicator strategies.
type RuleProviderConfig struct {
	ShortPeriod int
	LongPeriod  int
	RSIPeriod   int
	Oversold    float64
	Overbought  float64
	// PositionPct is the share of available balance a buy commits.
	PositionPct float64
}

// DefaultRuleProviderConfig returns the classic 10/20 SMA and 14 RSI setup.
func DefaultRuleProviderConfig() RuleProviderConfig {
	return RuleProviderConfig{
		ShortPeriod: 10,
		LongPeriod:  20,
		RSIPeriod:   14,
		Oversold:    30,
		Overbought:  70,
		PositionPct: 0.2,
	}
}

// RuleProvider decides offline from indicator crossovers on the visible
// bars of the active symbol. It is deterministic for a given context.
type RuleProvider struct {
	cfg RuleProviderConfig
}

// NewRuleProvider creates a rule provider.
func NewRuleProvider(cfg RuleProviderConfig) *RuleProvider {
	def := DefaultRuleProviderConfig()
	if cfg.ShortPeriod <= 0 {
		cfg.ShortPeriod = def.ShortPeriod
	}
	if cfg.LongPeriod <= cfg.ShortPeriod {
		cfg.LongPeriod = cfg.ShortPeriod * 2
	}
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = def.RSIPeriod
	}
	if cfg.Oversold <= 0 {
		cfg.Oversold = def.Oversold
	}
	if cfg.Overbought <= 0 {
		cfg.Overbought = def.Overbought
	}
	if cfg.PositionPct <= 0 || cfg.PositionPct > 1 {
		cfg.PositionPct = def.PositionPct
	}
	return &RuleProvider{cfg: cfg}
}

// Decide implements Provider.
func (p *RuleProvider) Decide(ctx context.Context, req Request) (Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dc := req.Context
	if dc == nil {
		return nil, fmt.Errorf("rule provider: no context for %s", req.Agent.ID)
	}

	symbol := dc.ActiveSymbol
	closes := closesOf(dc.Frames[symbol])

	var sig signal
	switch strings.ToLower(req.Agent.Strategy) {
	case StrategyRSIOversold:
		sig = p.rsiSignal(closes)
	case StrategyHold:
		sig = signal{action: models.ActionHold, confidence: 0.5, reason: "hold strategy"}
	default:
		sig = p.smaSignal(closes)
	}

	raw := RawDecision{
		Action:     string(sig.action),
		Symbol:     symbol,
		Confidence: sig.confidence,
		Reasoning:  sig.reason,
	}

	price, _ := dc.Price(symbol)
	switch sig.action {
	case models.ActionBuy:
		if price > 0 {
			raw.QuantityShares = dc.Account.AvailableBalance * p.cfg.PositionPct / price
		}
	case models.ActionSell:
		held := dc.Holding(symbol)
		if held <= 0 {
			raw.Action = string(models.ActionHold)
			raw.Reasoning = sig.reason + "; nothing held"
		}
		raw.QuantityShares = float64(held)
	}
	return EncodeDecision(raw), nil
}

func (p *RuleProvider) smaSignal(closes []float64) signal {
	n := len(closes)
	if n < p.cfg.LongPeriod+1 {
		return signal{models.ActionHold, 0.5, fmt.Sprintf("warming up: %d/%d bars", n, p.cfg.LongPeriod+1)}
	}
	short := sma(closes, n-1, p.cfg.ShortPeriod)
	long := sma(closes, n-1, p.cfg.LongPeriod)
	prevShort := sma(closes, n-2, p.cfg.ShortPeriod)
	prevLong := sma(closes, n-2, p.cfg.LongPeriod)

	if prevShort <= prevLong && short > long {
		return signal{models.ActionBuy, 0.7, fmt.Sprintf("SMA%d crossed above SMA%d (%.3f > %.3f)", p.cfg.ShortPeriod, p.cfg.LongPeriod, short, long)}
	}
	if prevShort >= prevLong && short < long {
		return signal{models.ActionSell, 0.7, fmt.Sprintf("SMA%d crossed below SMA%d (%.3f < %.3f)", p.cfg.ShortPeriod, p.cfg.LongPeriod, short, long)}
	}
	return signal{models.ActionHold, 0.55, fmt.Sprintf("no crossover (SMA%d %.3f, SMA%d %.3f)", p.cfg.ShortPeriod, short, p.cfg.LongPeriod, long)}
}

func (p *RuleProvider) rsiSignal(closes []float64) signal {
	n := len(closes)
	if n < p.cfg.RSIPeriod+2 {
		return signal{models.ActionHold, 0.5, fmt.Sprintf("warming up: %d/%d bars", n, p.cfg.RSIPeriod+2)}
	}
	r := rsi(closes, n-1, p.cfg.RSIPeriod)
	prev := rsi(closes, n-2, p.cfg.RSIPeriod)

	if prev <= p.cfg.Oversold && r > p.cfg.Oversold {
		return signal{models.ActionBuy, 0.65, fmt.Sprintf("RSI crossed above %.0f (%.1f)", p.cfg.Oversold, r)}
	}
	if prev >= p.cfg.Overbought && r < p.cfg.Overbought {
		return signal{models.ActionSell, 0.65, fmt.Sprintf("RSI crossed below %.0f (%.1f)", p.cfg.Overbought, r)}
	}
	return signal{models.ActionHold, 0.55, fmt.Sprintf("RSI %.1f", r)}
}

func closesOf(frames []models.Frame) []float64 {
	out := make([]float64, len(frames))
	for i, f := range frames {
		out[i] = f.Bar.Close
	}
	return out
}

func sma(closes []float64, index, period int) float64 {
	if index < period-1 {
		return 0
	}
	var sum float64
	for i := index - period + 1; i <= index; i++ {
		sum += closes[i]
	}
	return sum / float64(period)
}

func rsi(closes []float64, index, period int) float64 {
	if index < period {
		return 50
	}
	var gains, losses float64
	for i := index - period + 1; i <= index; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	if losses == 0 {
		return 100
	}
	rs := (gains / float64(period)) / (losses / float64(period))
	return 100 - (100 / (1 + rs))
}
