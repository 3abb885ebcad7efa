package trade

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"tinkoff-trader/internal/models"
	"tinkoff-trader/internal/order"
)

var (
	hundred    = decimal.NewFromInt(100)
	secondsDay = decimal.NewFromInt(24 * 60 * 60)
)

// ClosedTrade is a finished, flat trade. It is read-only.
type ClosedTrade struct {
	header
	orders     []order.Order
	stopLoss   *order.PostedStopOrder
	takeProfit *order.PostedStopOrder
}

func (t ClosedTrade) Status() Status { return StatusClosed }
func (ClosedTrade) isTrade()         {}

func (t ClosedTrade) String() string {
	return fmt.Sprintf("%s result=%s (%s%%)", t.describe(StatusClosed), t.Result().StringFixed(2), t.ResultPercent().StringFixed(2))
}

// Orders returns a copy of the filled orders of the trade.
func (t ClosedTrade) Orders() []order.Order { return slices.Clone(t.orders) }

// StopLoss returns the stop-loss order that was attached, if any.
func (t ClosedTrade) StopLoss() (order.PostedStopOrder, bool) { return deref(t.stopLoss) }

// TakeProfit returns the take-profit order that was attached, if any.
func (t ClosedTrade) TakeProfit() (order.PostedStopOrder, bool) { return deref(t.takeProfit) }

// Quantity is always zero for a closed trade.
func (t ClosedTrade) Quantity() int64 { return signedQuantity(t.orders) }

func (t ClosedTrade) operations(dir models.Direction) []models.Operation {
	var ops []models.Operation
	for _, o := range t.orders {
		if o.Direction() != dir {
			continue
		}
		if op, ok := order.OperationOf(o); ok {
			ops = append(ops, op)
		}
	}
	return ops
}

func (t ClosedTrade) quantity(dir models.Direction) int64 {
	var q int64
	for _, op := range t.operations(dir) {
		q += op.Quantity
	}
	return q
}

func (t ClosedTrade) value(dir models.Direction) decimal.Decimal {
	v := decimal.Zero
	for _, op := range t.operations(dir) {
		v = v.Add(op.Value)
	}
	return v.Mul(decimal.NewFromInt(t.instrument.LotSize()))
}

func (t ClosedTrade) commission(dir models.Direction) decimal.Decimal {
	c := decimal.Zero
	for _, op := range t.operations(dir) {
		c = c.Add(op.Commission)
	}
	return c
}

func (t ClosedTrade) average(dir models.Direction) decimal.Decimal {
	shares := t.quantity(dir) * t.instrument.LotSize()
	if shares == 0 {
		return decimal.Zero
	}
	return t.value(dir).Div(decimal.NewFromInt(shares))
}

// BuyQuantity returns the bought lots.
func (t ClosedTrade) BuyQuantity() int64 { return t.quantity(models.Buy) }

// SellQuantity returns the sold lots.
func (t ClosedTrade) SellQuantity() int64 { return t.quantity(models.Sell) }

// BuyValue returns the money spent on buys.
func (t ClosedTrade) BuyValue() decimal.Decimal { return t.value(models.Buy) }

// SellValue returns the money received from sells.
func (t ClosedTrade) SellValue() decimal.Decimal { return t.value(models.Sell) }

// BuyAverage returns the average price per security bought.
func (t ClosedTrade) BuyAverage() decimal.Decimal { return t.average(models.Buy) }

// SellAverage returns the average price per security sold.
func (t ClosedTrade) SellAverage() decimal.Decimal { return t.average(models.Sell) }

func (t ClosedTrade) BuyCommission() decimal.Decimal  { return t.commission(models.Buy) }
func (t ClosedTrade) SellCommission() decimal.Decimal { return t.commission(models.Sell) }

// Commission returns the commission paid on all orders.
func (t ClosedTrade) Commission() decimal.Decimal {
	return t.BuyCommission().Add(t.SellCommission())
}

// Result returns SellValue - BuyValue - Commission.
func (t ClosedTrade) Result() decimal.Decimal {
	return t.SellValue().Sub(t.BuyValue()).Sub(t.Commission())
}

// ResultPercent returns Result as a percentage of BuyValue.
func (t ClosedTrade) ResultPercent() decimal.Decimal {
	buy := t.BuyValue()
	if buy.IsZero() {
		return decimal.Zero
	}
	return t.Result().Div(buy).Mul(hundred)
}

// OpenTime returns the earliest transaction time across all orders.
func (t ClosedTrade) OpenTime() time.Time {
	var first time.Time
	for _, o := range t.orders {
		for _, tx := range order.TransactionsOf(o) {
			if first.IsZero() || tx.Timestamp.Before(first) {
				first = tx.Timestamp
			}
		}
	}
	return first
}

// CloseTime returns the latest transaction time across all orders.
func (t ClosedTrade) CloseTime() time.Time {
	var last time.Time
	for _, o := range t.orders {
		for _, tx := range order.TransactionsOf(o) {
			if tx.Timestamp.After(last) {
				last = tx.Timestamp
			}
		}
	}
	return last
}

// Duration returns CloseTime - OpenTime.
func (t ClosedTrade) Duration() time.Duration {
	return t.CloseTime().Sub(t.OpenTime())
}

// Speed returns Result per day held. It is zero for trades held under a second.
func (t ClosedTrade) Speed() decimal.Decimal {
	return perDay(t.Result(), t.Duration())
}

// SpeedPercent returns ResultPercent per day held.
func (t ClosedTrade) SpeedPercent() decimal.Decimal {
	return perDay(t.ResultPercent(), t.Duration())
}

func (t ClosedTrade) IsWin() bool  { return t.Result().IsPositive() }
func (t ClosedTrade) IsLoss() bool { return t.Result().IsNegative() }

func perDay(v decimal.Decimal, d time.Duration) decimal.Decimal {
	seconds := int64(d / time.Second)
	if seconds <= 0 {
		return decimal.Zero
	}
	days := decimal.NewFromInt(seconds).Div(secondsDay)
	return v.Div(days)
}
