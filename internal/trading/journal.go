package trading

import (
	"math"
	"sort"
	"time"

	"replay-trader/internal/models"
	"replay-trader/pkg/utils"
)

// journalEntry is what one recorded cycle contributes to its trading day.
type journalEntry struct {
	Day      string
	Decision models.Decision
	Equity   float64
	Fee      float64
	Realized float64
}

// updateJournal folds a cycle into its trading day and keeps the most recent
// limit days.
func updateJournal(days []models.JournalDay, e journalEntry, limit int) []models.JournalDay {
	idx := -1
	for i := len(days) - 1; i >= 0; i-- {
		if days[i].TradingDay == e.Day {
			idx = i
			break
		}
	}
	if idx < 0 {
		days = append(days, models.JournalDay{
			TradingDay:   e.Day,
			StartEquity:  e.Equity,
			PeakEquity:   e.Equity,
			TroughEquity: e.Equity,
		})
		idx = len(days) - 1
	}

	day := &days[idx]
	day.Decisions++
	switch {
	case e.Decision.Action == models.ActionHold:
		day.Holds++
	case e.Decision.Executed && e.Decision.Action == models.ActionBuy:
		day.Buys++
	case e.Decision.Executed && e.Decision.Action == models.ActionSell:
		day.Sells++
	}
	day.EndEquity = e.Equity
	day.PeakEquity = math.Max(day.PeakEquity, e.Equity)
	day.TroughEquity = math.Min(day.TroughEquity, e.Equity)
	day.Fees = utils.Round2(day.Fees + e.Fee)
	day.RealizedPnL = utils.Round2(day.RealizedPnL + e.Realized)

	sort.SliceStable(days, func(i, j int) bool {
		return days[i].TradingDay < days[j].TradingDay
	})
	if limit > 0 && len(days) > limit {
		days = append([]models.JournalDay(nil), days[len(days)-limit:]...)
	}
	return days
}

// mergeEquity adds a point to a curve with non-decreasing timestamps. A point
// at the timestamp of the last point replaces it; an older point is rejected.
func mergeEquity(curve []models.EquityPoint, p models.EquityPoint, limit int) ([]models.EquityPoint, bool) {
	if n := len(curve); n > 0 {
		last := curve[n-1]
		switch {
		case p.Timestamp.Equal(last.Timestamp):
			curve[n-1] = p
			return curve, true
		case p.Timestamp.Before(last.Timestamp):
			return curve, false
		}
	}
	curve = append(curve, p)
	if limit > 0 && len(curve) > limit {
		curve = append([]models.EquityPoint(nil), curve[len(curve)-limit:]...)
	}
	return curve, true
}

// pushRecent prepends a compact action and keeps the newest limit entries.
func pushRecent(actions []models.RecentAction, a models.RecentAction, limit int) []models.RecentAction {
	actions = append([]models.RecentAction{a}, actions...)
	if limit > 0 && len(actions) > limit {
		actions = actions[:limit]
	}
	return actions
}

// tradingDayOf picks the trading day of a cycle: the replay clock first,
// then the decision, then the bar time, then the decision timestamp.
func tradingDayOf(replay models.ReplayStatus, d models.Decision) string {
	switch {
	case replay.TradingDay != "":
		return replay.TradingDay
	case d.TradingDay != "":
		return d.TradingDay
	case d.BarTsMs > 0:
		return utils.TradingDay(d.BarTsMs)
	case !d.Timestamp.IsZero():
		return d.Timestamp.In(utils.ShanghaiLocation).Format("2006-01-02")
	}
	return time.Now().In(utils.ShanghaiLocation).Format("2006-01-02")
}
