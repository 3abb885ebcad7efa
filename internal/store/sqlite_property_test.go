package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"tinkoff-trader/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "trader.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// Property: saving bars and reading them back yields the same bars, with
// prices preserved exactly.
func TestProperty_CandleRoundTripConsistency(t *testing.T) {
	store := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	figis := []string{"BBG004730N88", "BBG004731032", "BBG004S681W1", "BBG000B9XRY4"}
	timeframeGen := gen.OneConstOf(models.TF1M, models.TF5M, models.TF1H, models.TFDay)
	countGen := gen.IntRange(1, 20)
	// Prices in units of 1e-9 so that nano precision is exercised.
	priceGen := gen.Int64Range(1_000_000_000, 5_000_000_000_000)
	volumeGen := gen.Int64Range(1, 1_000_000)

	run := 0
	properties.Property("Candle round-trip: save then retrieve produces equal bars", prop.ForAll(
		func(figiIdx int, tf models.TimeFrame, count int, baseNanos int64, baseVolume int64) bool {
			ctx := context.Background()
			run++
			figi := fmt.Sprintf("%s_%d", figis[figiIdx%len(figis)], run)

			bars := generateTestBars(count, decimal.New(baseNanos, -9), baseVolume, tf)
			if err := store.SaveCandles(ctx, figi, tf, bars); err != nil {
				t.Logf("Failed to save candles: %v", err)
				return false
			}

			from := bars[0].Timestamp.Add(-time.Second)
			to := bars[len(bars)-1].Timestamp.Add(time.Second)
			retrieved, err := store.GetCandles(ctx, figi, tf, from, to)
			if err != nil {
				t.Logf("Failed to get candles: %v", err)
				return false
			}
			if len(retrieved) != len(bars) {
				t.Logf("Count mismatch: expected %d, got %d", len(bars), len(retrieved))
				return false
			}
			for i, orig := range bars {
				if !barsEqual(orig, retrieved[i]) {
					t.Logf("Bar mismatch at index %d: original=%+v, retrieved=%+v", i, orig, retrieved[i])
					return false
				}
			}
			return true
		},
		gen.IntRange(0, len(figis)-1),
		timeframeGen,
		countGen,
		priceGen,
		volumeGen,
	))

	properties.Property("Empty candles: saving empty slice should succeed", prop.ForAll(
		func(figiIdx int, tf models.TimeFrame) bool {
			return store.SaveCandles(context.Background(), figis[figiIdx%len(figis)], tf, []models.Bar{}) == nil
		},
		gen.IntRange(0, len(figis)-1),
		timeframeGen,
	))

	properties.TestingRun(t)
}

func generateTestBars(count int, base decimal.Decimal, baseVolume int64, tf models.TimeFrame) []models.Bar {
	bars := make([]models.Bar, count)
	baseTime := time.Date(2024, 1, 10, 7, 0, 0, 0, time.UTC)
	step := decimal.RequireFromString("0.01")

	for i := 0; i < count; i++ {
		open := base.Add(step.Mul(decimal.NewFromInt(int64(i % 10))))
		closePrice := open.Add(step)
		bars[i] = models.Bar{
			Timestamp: baseTime.Add(time.Duration(i) * tf.Duration()),
			Open:      open,
			High:      closePrice.Add(step),
			Low:       open.Sub(step),
			Close:     closePrice,
			Volume:    baseVolume + int64(i*1000),
			Complete:  true,
		}
	}
	return bars
}

func barsEqual(a, b models.Bar) bool {
	return a.Timestamp.Equal(b.Timestamp) &&
		a.Open.Equal(b.Open) &&
		a.High.Equal(b.High) &&
		a.Low.Equal(b.Low) &&
		a.Close.Equal(b.Close) &&
		a.Volume == b.Volume &&
		a.Complete == b.Complete
}
