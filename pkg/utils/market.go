package utils

import (
	"time"
)

// ShanghaiLocation is the timezone of the CN-A market.
var ShanghaiLocation *time.Location

func init() {
	var err error
	ShanghaiLocation, err = time.LoadLocation("Asia/Shanghai")
	if err != nil {
		// Fallback to UTC+8
		ShanghaiLocation = time.FixedZone("CST", 8*60*60)
	}
}

// TradingDay returns the YYYY-MM-DD trading day of a bar start timestamp.
func TradingDay(tsMs int64) string {
	if tsMs <= 0 {
		return ""
	}
	return time.UnixMilli(tsMs).In(ShanghaiLocation).Format("2006-01-02")
}
