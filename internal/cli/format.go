package cli

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tinkoff-trader/internal/models"
	"tinkoff-trader/internal/order"
	"tinkoff-trader/pkg/utils"
)

// FormatVolume formats a traded volume in compact form.
func FormatVolume(volume int64) string {
	if volume >= 1_000_000 {
		return fmt.Sprintf("%.2f M", float64(volume)/1_000_000)
	} else if volume >= 1000 {
		return fmt.Sprintf("%.2f K", float64(volume)/1000)
	}
	return fmt.Sprintf("%d", volume)
}

// FormatPrice formats a price, keeping sub-ruble precision for cheap
// instruments.
func FormatPrice(price decimal.Decimal) string {
	if price.Abs().LessThan(decimal.NewFromInt(10)) {
		return price.StringFixed(4)
	}
	return price.StringFixed(2)
}

// FormatTime formats a time in Moscow time.
func FormatTime(t time.Time) string {
	return t.In(utils.MoscowLocation).Format("15:04:05")
}

// FormatDateTime formats a datetime.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(utils.MoscowLocation).Format("02.01.2006 15:04:05")
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
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

// FormatOHLC formats a bar's prices.
func FormatOHLC(b models.Bar) string {
	return fmt.Sprintf("O: %s  H: %s  L: %s  C: %s",
		FormatPrice(b.Open), FormatPrice(b.High), FormatPrice(b.Low), FormatPrice(b.Close))
}

// FormatOrderPrice returns the price column for an order: the limit or stop
// price, or "MKT".
func FormatOrderPrice(o order.Order) string {
	switch v := o.(type) {
	case interface{ StopPrice() decimal.Decimal }:
		return "stop " + FormatPrice(v.StopPrice())
	case interface{ Price() decimal.Decimal }:
		return FormatPrice(v.Price())
	}
	return "MKT"
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
