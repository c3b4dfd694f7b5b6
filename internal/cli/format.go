package cli

import (
	"fmt"
	"strings"
	"time"

	"replay-trader/pkg/utils"
)

// FormatPrice formats a price with two decimals, four below one yuan.
func FormatPrice(price float64) string {
	if price != 0 && price < 1 && price > -1 {
		return fmt.Sprintf("%.4f", price)
	}
	return fmt.Sprintf("%.2f", price)
}

// FormatBarTime formats a bar timestamp in market time.
func FormatBarTime(tsMs int64) string {
	return utils.FormatBarTime(tsMs, utils.ShanghaiLocation)
}

// FormatDateTime formats a wall-clock time in market time.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(utils.ShanghaiLocation).Format("2006-01-02 15:04:05")
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

// FormatConfidence formats a 0..1 confidence as a percentage.
func FormatConfidence(conf float64) string {
	return fmt.Sprintf("%.0f%%", conf*100)
}

// FormatProgress formats the replay cursor against the timeline length.
func FormatProgress(cursor, length int) string {
	if length <= 0 || cursor < 0 {
		return fmt.Sprintf("0/%d", length)
	}
	return fmt.Sprintf("%d/%d (%.1f%%)", cursor+1, length, float64(cursor+1)/float64(length)*100)
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// PadRight pads a string to the right.
func PadRight(s string, length int) string {
	if len(s) >= length {
		return s
	}
	return s + strings.Repeat(" ", length-len(s))
}

func joinSymbols(symbols []string) string {
	return strings.Join(symbols, ",")
}
