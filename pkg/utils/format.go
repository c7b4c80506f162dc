// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"strings"
)

// FormatCNY formats an amount as Chinese yuan with thousands grouping.
func FormatCNY(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.2f", amount)
	parts := strings.Split(str, ".")

	result := "¥" + groupThousands(parts[0]) + "." + parts[1]
	if negative {
		result = "-" + result
	}
	return result
}

// groupThousands inserts comma separators every three digits from the right.
func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	var b strings.Builder
	lead := n % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatPercent formats a percentage with explicit sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatPnL formats realized or unrealized P&L with explicit sign.
func FormatPnL(pnl float64) string {
	formatted := FormatCNY(pnl)
	if pnl > 0 {
		return "+" + formatted
	}
	return formatted
}

// FormatQuantity formats a share quantity with commas.
func FormatQuantity(qty int) string {
	return groupThousands(fmt.Sprintf("%d", qty))
}

// FormatWan formats a large amount in units of 万 (ten thousand).
func FormatWan(amount float64) string {
	return fmt.Sprintf("%.2f万", amount/10000)
}

// FormatCompact picks a compact representation for large amounts.
func FormatCompact(amount float64) string {
	abs := amount
	if abs < 0 {
		abs = -abs
	}
	if abs >= 10000 {
		return FormatWan(amount)
	}
	return FormatCNY(amount)
}
