package engine

import (
	"context"

	"replay-trader/internal/agents"
	"replay-trader/internal/errors"
	"replay-trader/internal/models"
)

// BuildContext assembles what an agent sees at the current replay position:
// the visible frames of its symbols, their latest closes and the account
// reported by its broker. It implements agents.ContextBuilder.
func (e *Engine) BuildContext(ctx context.Context, agent models.AgentConfig) (*agents.DecisionContext, error) {
	status := e.clock.Status()
	if status.TimelineLength == 0 || status.CurrentTsMs == 0 {
		return nil, errors.Wrap(errors.ErrMissingContext, "replay has not started")
	}

	b, ok := e.brokers[agent.ID]
	if !ok {
		return nil, errors.Wrapf(errors.ErrAgentNotFound, "no broker for %s", agent.ID)
	}

	dc := &agents.DecisionContext{
		AgentID:      agent.ID,
		ActiveSymbol: agent.ActiveSymbol,
		Symbols:      agent.Symbols,
		LotSize:      agent.LotSize,
		BarTsMs:      status.CurrentTsMs,
		TradingDay:   status.TradingDay,
		Frames:       make(map[string][]models.Frame, len(agent.Symbols)),
		Prices:       make(map[string]float64, len(agent.Symbols)),
		Replay:       status,
	}

	for _, symbol := range agent.Symbols {
		frames := e.clock.VisibleFrames(symbol, e.cfg.HistoryBars)
		if len(frames) == 0 {
			continue
		}
		dc.Frames[symbol] = frames
		price := frames[len(frames)-1].Bar.Close
		dc.Prices[symbol] = price
		b.UpdatePrice(symbol, price)
	}
	if len(dc.Frames) == 0 {
		return nil, errors.Wrapf(errors.ErrMissingContext, "no visible frames for %v", agent.Symbols)
	}

	account, err := b.GetAccount(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read account")
	}
	positions, err := b.GetPositions(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read positions")
	}
	dc.Account = *account
	dc.Positions = positions
	return dc, nil
}
