// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var currencySymbols = map[string]string{
	"rub": "₽",
	"usd": "$",
	"eur": "€",
	"cny": "¥",
}

// FormatMoney formats an amount with two decimals, space-separated
// thousands and the currency symbol, e.g. "1 000 000.00 ₽".
func FormatMoney(amount decimal.Decimal, currency string) string {
	negative := amount.IsNegative()
	str := amount.Abs().StringFixed(2)
	parts := strings.SplitN(str, ".", 2)

	result := groupThousands(parts[0]) + "." + parts[1]
	if negative {
		result = "-" + result
	}

	cur := strings.ToLower(currency)
	if sym, ok := currencySymbols[cur]; ok {
		return result + " " + sym
	}
	if cur == "" {
		return result
	}
	return result + " " + strings.ToUpper(cur)
}

// groupThousands inserts a space between groups of three digits.
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
			b.WriteByte(' ')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value decimal.Decimal) string {
	sign := ""
	if value.IsPositive() {
		sign = "+"
	}
	return sign + value.StringFixed(2) + "%"
}

// FormatPnL formats a result with an explicit sign.
func FormatPnL(pnl decimal.Decimal, currency string) string {
	formatted := FormatMoney(pnl, currency)
	if pnl.IsPositive() {
		return "+" + formatted
	}
	return formatted
}

// FormatQuantity formats a quantity with grouped thousands.
func FormatQuantity(qty int64) string {
	if qty < 0 {
		return "-" + groupThousands(fmt.Sprintf("%d", -qty))
	}
	return groupThousands(fmt.Sprintf("%d", qty))
}

// FormatCompact formats a large amount as thousands, millions or billions.
func FormatCompact(amount decimal.Decimal) string {
	abs := amount.Abs()
	switch {
	case abs.GreaterThanOrEqual(decimal.New(1, 9)):
		return amount.Shift(-9).StringFixed(2) + "B"
	case abs.GreaterThanOrEqual(decimal.New(1, 6)):
		return amount.Shift(-6).StringFixed(2) + "M"
	case abs.GreaterThanOrEqual(decimal.New(1, 3)):
		return amount.Shift(-3).StringFixed(2) + "K"
	}
	return amount.StringFixed(2)
}
