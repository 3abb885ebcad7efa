package utils

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Property: formatted money keeps two decimals, groups digits by three and
// parses back to the rounded amount.
func TestProperty_MoneyFormatting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("FormatMoney round-trips", prop.ForAll(
		func(cents int64) bool {
			amount := decimal.New(cents, -2)
			formatted := FormatMoney(amount, "rub")
			if !strings.HasSuffix(formatted, " ₽") {
				t.Logf("missing symbol: %s", formatted)
				return false
			}
			body := strings.TrimSuffix(formatted, " ₽")
			parts := strings.Split(body, ".")
			if len(parts) != 2 || len(parts[1]) != 2 {
				t.Logf("bad decimals: %s", formatted)
				return false
			}
			groups := strings.Split(strings.TrimPrefix(parts[0], "-"), " ")
			for i, g := range groups {
				if len(g) > 3 || (i > 0 && len(g) != 3) {
					t.Logf("bad grouping: %s", formatted)
					return false
				}
			}
			back, err := decimal.NewFromString(strings.ReplaceAll(body, " ", ""))
			return err == nil && back.Equal(amount)
		},
		gen.Int64Range(-1e15, 1e15),
	))

	properties.TestingRun(t)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "1 000 000.00 ₽", FormatMoney(decimal.NewFromInt(1_000_000), "RUB"))
	assert.Equal(t, "-994.00 $", FormatMoney(decimal.NewFromInt(-994), "usd"))
	assert.Equal(t, "12.50 HKD", FormatMoney(decimal.RequireFromString("12.5"), "hkd"))
	assert.Equal(t, "+994.00 ₽", FormatPnL(decimal.NewFromInt(994), "rub"))
	assert.Equal(t, "-1.25%", FormatPercent(decimal.RequireFromString("-1.25")))
	assert.Equal(t, "+3.00%", FormatPercent(decimal.NewFromInt(3)))
	assert.Equal(t, "-12 345", FormatQuantity(-12345))
	assert.Equal(t, "1.50M", FormatCompact(decimal.NewFromInt(1_500_000)))
	assert.Equal(t, "999.00", FormatCompact(decimal.NewFromInt(999)))
}

func TestSessionAt(t *testing.T) {
	msk := func(day, h, m int) time.Time {
		// 2025-03-03 is a Monday.
		return time.Date(2025, 3, day, h, m, 0, 0, MoscowLocation)
	}
	assert.Equal(t, SessionClosed, SessionAt(msk(3, 9, 0)))
	assert.Equal(t, SessionOpening, SessionAt(msk(3, 9, 55)))
	assert.Equal(t, SessionMain, SessionAt(msk(3, 12, 0)))
	assert.Equal(t, SessionClosing, SessionAt(msk(3, 18, 45)))
	assert.Equal(t, SessionEvening, SessionAt(msk(3, 20, 0)))
	assert.Equal(t, SessionClosed, SessionAt(msk(8, 12, 0)), "Saturday")
	assert.True(t, IsTradingAt(msk(3, 12, 0).UTC()))

	assert.Equal(t, msk(3, 10, 0), NextMainOpen(msk(3, 8, 0)))
	assert.Equal(t, msk(10, 10, 0), NextMainOpen(msk(7, 11, 0)), "Friday rolls to Monday")
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("forbidden")
	calls := 0
	cfg := RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 2,
		Retryable:     func(err error) bool { return !errors.Is(err, permanent) },
	}

	err := Retry(context.Background(), cfg, func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)

	calls = 0
	v, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("flaky")
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 3, calls)
}

func TestCalculateBackoffCaps(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, CalculateBackoff(0, 100*time.Millisecond, time.Second, 2))
	assert.Equal(t, 400*time.Millisecond, CalculateBackoff(2, 100*time.Millisecond, time.Second, 2))
	assert.Equal(t, time.Second, CalculateBackoff(10, 100*time.Millisecond, time.Second, 2))
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
