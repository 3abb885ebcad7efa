package order

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tinkoff-trader/internal/errors"
	"tinkoff-trader/internal/models"
)

type priced struct {
	price decimal.Decimal
}

// Price returns the limit price.
func (p priced) Price() decimal.Decimal { return p.price }

// NewLimitOrder is a limit order that has not been sent yet.
type NewLimitOrder struct {
	intent
	priced
}

// NewLimit creates a limit order for lots at price.
func NewLimit(direction models.Direction, lots int64, price decimal.Decimal) (NewLimitOrder, error) {
	i, err := newIntent(direction, lots)
	if err != nil {
		return NewLimitOrder{}, err
	}
	if !price.IsPositive() {
		return NewLimitOrder{}, errors.NewValidationError("price", price.String(), "must be positive")
	}
	return NewLimitOrder{intent: i, priced: priced{price: price}}, nil
}

func (o NewLimitOrder) Kind() Kind     { return KindLimit }
func (o NewLimitOrder) Status() Status { return StatusNew }
func (NewLimitOrder) isOrder()         {}

func (o NewLimitOrder) String() string {
	return fmt.Sprintf("%s price=%s", o.describe(KindLimit, StatusNew), o.price)
}

// Post marks the order as accepted by the broker under brokerID.
func (o NewLimitOrder) Post(brokerID string) (PostedLimitOrder, error) {
	f, err := posted(brokerID, "limit order")
	if err != nil {
		return PostedLimitOrder{}, err
	}
	return PostedLimitOrder{intent: o.intent, priced: o.priced, fills: f}, nil
}

// Reject records the broker's refusal.
func (o NewLimitOrder) Reject(reason string) RejectedLimitOrder {
	return RejectedLimitOrder{intent: o.intent, priced: o.priced, reason: reason}
}

// PostedLimitOrder is resting on the book, possibly partially executed.
type PostedLimitOrder struct {
	intent
	priced
	fills
}

func (o PostedLimitOrder) Kind() Kind     { return KindLimit }
func (o PostedLimitOrder) Status() Status { return StatusPosted }
func (PostedLimitOrder) isOrder()         {}

func (o PostedLimitOrder) String() string {
	return fmt.Sprintf("%s price=%s id=%s executed=%d",
		o.describe(KindLimit, StatusPosted), o.price, o.brokerID, o.Executed())
}

// AddTransaction records a partial or final fill.
func (o PostedLimitOrder) AddTransaction(t models.Transaction) (PostedLimitOrder, error) {
	f, err := o.fills.add(t, o.lots, "limit order "+o.brokerID)
	if err != nil {
		return o, err
	}
	return PostedLimitOrder{intent: o.intent, priced: o.priced, fills: f}, nil
}

// Fill completes a fully executed order.
func (o PostedLimitOrder) Fill(commission decimal.Decimal) (FilledLimitOrder, error) {
	op, err := o.fills.settle(o.lots, commission, "limit order "+o.brokerID)
	if err != nil {
		return FilledLimitOrder{}, err
	}
	return FilledLimitOrder{intent: o.intent, priced: o.priced, fills: o.fills, operation: op}, nil
}

// Cancel withdraws the order, keeping any fills it already has.
func (o PostedLimitOrder) Cancel() CanceledLimitOrder {
	return CanceledLimitOrder{intent: o.intent, priced: o.priced, fills: o.fills}
}

// FilledLimitOrder is fully executed.
type FilledLimitOrder struct {
	intent
	priced
	fills
	operation models.Operation
}

func (o FilledLimitOrder) Kind() Kind                  { return KindLimit }
func (o FilledLimitOrder) Status() Status              { return StatusFilled }
func (o FilledLimitOrder) Operation() models.Operation { return o.operation }
func (FilledLimitOrder) isOrder()                      {}

func (o FilledLimitOrder) String() string {
	return fmt.Sprintf("%s price=%s id=%s avg=%s",
		o.describe(KindLimit, StatusFilled), o.price, o.brokerID, o.operation.AveragePrice())
}

// RejectedLimitOrder was refused by the broker.
type RejectedLimitOrder struct {
	intent
	priced
	reason string
}

func (o RejectedLimitOrder) Kind() Kind     { return KindLimit }
func (o RejectedLimitOrder) Status() Status { return StatusRejected }
func (o RejectedLimitOrder) Reason() string { return o.reason }
func (RejectedLimitOrder) isOrder()         {}

func (o RejectedLimitOrder) String() string {
	return fmt.Sprintf("%s price=%s reason=%q", o.describe(KindLimit, StatusRejected), o.price, o.reason)
}

// CanceledLimitOrder was withdrawn before full execution.
type CanceledLimitOrder struct {
	intent
	priced
	fills
}

func (o CanceledLimitOrder) Kind() Kind     { return KindLimit }
func (o CanceledLimitOrder) Status() Status { return StatusCanceled }
func (CanceledLimitOrder) isOrder()         {}

func (o CanceledLimitOrder) String() string {
	return fmt.Sprintf("%s price=%s id=%s executed=%d",
		o.describe(KindLimit, StatusCanceled), o.price, o.brokerID, o.Executed())
}
