package trading

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"replay-trader/internal/models"
	"replay-trader/pkg/utils"
)

// Report summarizes the performance of one agent from its closed positions
// and equity curve.
type Report struct {
	AgentID      string  `json:"agent_id"`
	Strategy     string  `json:"strategy"`
	TotalReturn  float64 `json:"total_return_pct"`
	RealizedPnL  float64 `json:"realized_pnl"`
	TotalFees    float64 `json:"total_fees"`
	ClosedTrades int     `json:"closed_trades"`
	Winning      int     `json:"winning"`
	Losing       int     `json:"losing"`
	WinRate      float64 `json:"win_rate_pct"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	ProfitFactor float64 `json:"profit_factor"`
	Expectancy   float64 `json:"expectancy"`
	MaxDrawdown  float64 `json:"max_drawdown_pct"`
	SharpeRatio  float64 `json:"sharpe_ratio"`
}

// BuildReport computes a Report. Only the closed positions still retained
// in the snapshot are counted.
func BuildReport(snap *models.AgentSnapshot) Report {
	r := Report{
		AgentID:      snap.AgentID,
		Strategy:     snap.Config.Strategy,
		TotalReturn:  snap.Stats.TotalPnLPct,
		TotalFees:    snap.Stats.TotalFeesPaid,
		MaxDrawdown:  snap.Stats.MaxDrawdownPct,
		ClosedTrades: len(snap.ClosedPositions),
	}

	var grossWin, grossLoss, realized float64
	for _, c := range snap.ClosedPositions {
		realized += c.RealizedPnL
		if c.RealizedPnL > 0 {
			r.Winning++
			grossWin += c.RealizedPnL
		} else {
			r.Losing++
			grossLoss -= c.RealizedPnL
		}
	}
	r.RealizedPnL = utils.Round2(realized)

	if r.ClosedTrades > 0 {
		r.WinRate = utils.Round2(float64(r.Winning) / float64(r.ClosedTrades) * 100)
		r.Expectancy = utils.Round2(realized / float64(r.ClosedTrades))
	}
	if r.Winning > 0 {
		r.AvgWin = utils.Round2(grossWin / float64(r.Winning))
	}
	if r.Losing > 0 {
		r.AvgLoss = utils.Round2(-grossLoss / float64(r.Losing))
	}
	if grossLoss > 0 {
		r.ProfitFactor = utils.RoundTo(grossWin/grossLoss, 2)
	}

	r.SharpeRatio = utils.RoundTo(sharpeRatio(snap.EquityCurve), 2)
	return r
}

// sharpeRatio is the mean over the standard deviation of per-point equity
// returns. It is not annualized because points are one per cycle.
func sharpeRatio(curve []models.EquityPoint) float64 {
	if len(curve) < 3 {
		return 0
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].TotalEquity
		if prev <= 0 {
			continue
		}
		returns = append(returns, (curve[i].TotalEquity-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return 0
	}
	return mean / stdDev
}

// CompareReports orders reports by total return, best first. Ties keep
// agent id order.
func CompareReports(reports []Report) []Report {
	out := append([]Report(nil), reports...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalReturn != out[j].TotalReturn {
			return out[i].TotalReturn > out[j].TotalReturn
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

// EquityChart renders the equity curve as a width x height ASCII chart.
func EquityChart(curve []models.EquityPoint, width, height int) string {
	if len(curve) == 0 || width <= 0 || height <= 0 {
		return "No data to display"
	}

	minEquity, maxEquity := curve[0].TotalEquity, curve[0].TotalEquity
	for _, p := range curve {
		minEquity = math.Min(minEquity, p.TotalEquity)
		maxEquity = math.Max(maxEquity, p.TotalEquity)
	}
	span := maxEquity - minEquity
	if span == 0 {
		span = 1
	}

	grid := make([][]rune, height)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(" ", width))
	}

	points := len(curve)
	if points > width {
		points = width
	}
	for x := 0; x < points; x++ {
		idx := x
		if len(curve) > width {
			idx = len(curve) - 1
			if width > 1 {
				idx = x * (len(curve) - 1) / (width - 1)
			}
		}
		y := int(math.Round((curve[idx].TotalEquity - minEquity) / span * float64(height-1)))
		grid[height-1-y][x] = '█'
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Equity %s - %s\n", utils.FormatCurrency(minEquity), utils.FormatCurrency(maxEquity))
	sb.WriteString("┌" + strings.Repeat("─", width) + "┐\n")
	for _, row := range grid {
		sb.WriteString("│" + string(row) + "│\n")
	}
	sb.WriteString("└" + strings.Repeat("─", width) + "┘\n")
	return sb.String()
}
