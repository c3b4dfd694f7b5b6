package replay

import (
	"math"
	"math/rand"
	"time"

	"replay-trader/internal/models"
	"replay-trader/pkg/utils"
)

// SyntheticConfig describes a generated random-walk session.
type SyntheticConfig struct {
	Symbols    []string
	StartDay   time.Time // any time on the first trading day
	Days       int
	StartPrice float64
	Volatility float64 // max relative move per bar
	Seed       int64
}

// SyntheticFrames generates deterministic CN-A session bars
// (09:30-11:29 and 13:00-14:59) for every symbol on consecutive weekdays.
func SyntheticFrames(cfg SyntheticConfig) []models.Frame {
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = 10
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.002
	}
	r := rand.New(rand.NewSource(cfg.Seed))

	day := time.Date(cfg.StartDay.Year(), cfg.StartDay.Month(), cfg.StartDay.Day(), 0, 0, 0, 0, utils.ShanghaiLocation)
	prices := make(map[string]float64, len(cfg.Symbols))
	for i, s := range cfg.Symbols {
		prices[s] = cfg.StartPrice * (1 + float64(i)*0.5)
	}

	var frames []models.Frame
	for d := 0; d < cfg.Days; {
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			day = day.AddDate(0, 0, 1)
			continue
		}
		for _, start := range sessionMinutes(day) {
			for _, symbol := range cfg.Symbols {
				open := prices[symbol]
				ret := (r.Float64() - 0.5) * 2.0 * cfg.Volatility
				closePrice := math.Max(0.01, open*(1+ret))
				high := math.Max(open, closePrice) * (1 + r.Float64()*cfg.Volatility*0.5)
				low := math.Min(open, closePrice) * (1 - r.Float64()*cfg.Volatility*0.5)
				volume := int64(10000 + r.Intn(5000)*100)
				turnover := closePrice * float64(volume)

				frames = append(frames, models.Frame{
					SchemaVersion: models.FrameSchemaVersion,
					Market:        "CN-A",
					Instrument:    models.Instrument{Symbol: symbol, Timezone: "Asia/Shanghai", Currency: "CNY"},
					Interval:      models.Interval1m,
					Window: models.Window{
						StartTsMs:  start.UnixMilli(),
						EndTsMs:    start.Add(time.Minute).UnixMilli(),
						TradingDay: day.Format("2006-01-02"),
					},
					Bar: models.Bar{
						Open:         utils.RoundTo(open, 4),
						High:         utils.RoundTo(high, 4),
						Low:          utils.RoundTo(low, 4),
						Close:        utils.RoundTo(closePrice, 4),
						VolumeShares: volume,
						TurnoverCNY:  utils.Round2(turnover),
						VWAP:         utils.RoundTo(turnover/float64(volume), 4),
					},
				})
				prices[symbol] = closePrice
			}
		}
		day = day.AddDate(0, 0, 1)
		d++
	}
	return frames
}

func sessionMinutes(day time.Time) []time.Time {
	out := make([]time.Time, 0, 240)
	am := day.Add(9*time.Hour + 30*time.Minute)
	pm := day.Add(13 * time.Hour)
	for i := 0; i < 120; i++ {
		out = append(out, am.Add(time.Duration(i)*time.Minute))
	}
	for i := 0; i < 120; i++ {
		out = append(out, pm.Add(time.Duration(i)*time.Minute))
	}
	return out
}
