package broker

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"tinkoff-trader/internal/models"
	"tinkoff-trader/internal/money"
	"tinkoff-trader/internal/order"
	"tinkoff-trader/internal/wire"
)

// Property: every subscribable timeframe survives the trip to the wire
// interval and back.
func TestProperty_SubscriptionIntervalRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	tfs := make([]interface{}, len(models.TimeFrames))
	for i, tf := range models.TimeFrames {
		tfs[i] = tf
	}

	properties.Property("timeFrameFromWire inverts subscriptionIntervalToWire", prop.ForAll(
		func(tf models.TimeFrame) bool {
			interval, err := subscriptionIntervalToWire(tf)
			if err != nil {
				t.Logf("no wire interval for %s: %v", tf, err)
				return false
			}
			back, err := timeFrameFromWire(interval)
			return err == nil && back == tf
		},
		gen.OneConstOf(tfs...),
	))

	properties.TestingRun(t)
}

// Property: an order state reported by the venue replays into an order
// whose executed lots, fills and status match the report.
func TestProperty_OrderStateReplay(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("replayed order matches the reported state", prop.ForAll(
		func(requested int64, parts int, priceNanos int64, complete bool, sell bool) bool {
			if parts > int(requested) {
				parts = int(requested)
			}
			price := decimal.New(priceNanos, -9)

			st := wire.OrderState{
				OrderID:               "42",
				ExecutionReportStatus: wire.ExecutionReportStatusPartiallyFill,
				LotsRequested:         requested,
				Figi:                  sber.FIGI,
				Direction:             wire.OrderDirectionBuy,
				OrderType:             wire.OrderTypeMarket,
				OrderDate:             time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC),
			}
			if sell {
				st.Direction = wire.OrderDirectionSell
			}

			// Split the executed lots into parts stages; a complete order
			// executes everything, otherwise one lot is left.
			executed := requested
			if !complete {
				executed = requested - 1
			}
			mv, err := money.MoneyFromDecimal(price, "rub")
			if err != nil {
				return false
			}
			left := executed
			for i := 0; i < parts && left > 0; i++ {
				q := executed / int64(parts)
				if i == parts-1 || q == 0 {
					q = left
				}
				st.Stages = append(st.Stages, wire.OrderStage{Price: mv, Quantity: q, TradeID: fmt.Sprintf("T%d", i)})
				left -= q
			}
			if complete {
				st.ExecutionReportStatus = wire.ExecutionReportStatusFill
				fee, _ := money.MoneyFromDecimal(decimal.NewFromInt(1), "rub")
				st.ExecutedCommission = &fee
			}

			o, err := orderFromState(st)
			if err != nil {
				t.Logf("replay failed: %v", err)
				return false
			}

			var total int64
			for _, tx := range order.TransactionsOf(o) {
				total += tx.Quantity
			}
			if op, ok := order.OperationOf(o); ok {
				total = op.Quantity
			}

			wantStatus := order.StatusPosted
			if complete {
				wantStatus = order.StatusFilled
			}
			wantDir := models.Buy
			if sell {
				wantDir = models.Sell
			}
			return o.Status() == wantStatus &&
				o.Direction() == wantDir &&
				o.Lots() == requested &&
				total == executed &&
				order.BrokerID(o) == "42"
		},
		gen.Int64Range(2, 500),
		gen.IntRange(1, 5),
		gen.Int64Range(1_000_000, 10_000_000_000_000),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
