// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"strings"
	"time"
)

// FormatCurrency formats an amount with thousands separators and the yuan sign.
func FormatCurrency(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	// Format with 2 decimal places
	str := fmt.Sprintf("%.2f", amount)
	parts := strings.Split(str, ".")
	intPart := parts[0]
	decPart := parts[1]

	result := "¥" + groupThousands(intPart) + "." + decPart
	if negative {
		result = "-" + result
	}
	return result
}

// groupThousands inserts a comma every three digits from the right.
func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	var b strings.Builder
	head := n % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatPnL formats P&L with an explicit sign.
func FormatPnL(pnl float64) string {
	formatted := FormatCurrency(pnl)
	if pnl > 0 {
		return "+" + formatted
	}
	return formatted
}

// FormatQuantity formats a share quantity with commas.
func FormatQuantity(qty int64) string {
	if qty < 0 {
		return "-" + groupThousands(fmt.Sprintf("%d", -qty))
	}
	return groupThousands(fmt.Sprintf("%d", qty))
}

// FormatBarTime renders a unix-millisecond bar timestamp in the given zone.
func FormatBarTime(tsMs int64, loc *time.Location) string {
	if tsMs <= 0 {
		return "-"
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMilli(tsMs).In(loc).Format("2006-01-02 15:04")
}
