package order

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tinkoff-trader/internal/models"
)

// NewMarketOrder is a market order that has not been sent yet.
type NewMarketOrder struct {
	intent
}

// NewMarket creates a market order for lots in direction.
func NewMarket(direction models.Direction, lots int64) (NewMarketOrder, error) {
	i, err := newIntent(direction, lots)
	if err != nil {
		return NewMarketOrder{}, err
	}
	return NewMarketOrder{intent: i}, nil
}

func (o NewMarketOrder) Kind() Kind     { return KindMarket }
func (o NewMarketOrder) Status() Status { return StatusNew }
func (o NewMarketOrder) String() string { return o.describe(KindMarket, StatusNew) }
func (NewMarketOrder) isOrder()         {}

// Post marks the order as accepted by the broker under brokerID.
func (o NewMarketOrder) Post(brokerID string) (PostedMarketOrder, error) {
	f, err := posted(brokerID, "market order")
	if err != nil {
		return PostedMarketOrder{}, err
	}
	return PostedMarketOrder{intent: o.intent, fills: f}, nil
}

// Reject records the broker's refusal.
func (o NewMarketOrder) Reject(reason string) RejectedMarketOrder {
	return RejectedMarketOrder{intent: o.intent, reason: reason}
}

// PostedMarketOrder is accepted by the broker and possibly partially executed.
type PostedMarketOrder struct {
	intent
	fills
}

func (o PostedMarketOrder) Kind() Kind     { return KindMarket }
func (o PostedMarketOrder) Status() Status { return StatusPosted }
func (PostedMarketOrder) isOrder()         {}

func (o PostedMarketOrder) String() string {
	return fmt.Sprintf("%s id=%s executed=%d", o.describe(KindMarket, StatusPosted), o.brokerID, o.Executed())
}

// AddTransaction records a partial or final fill.
func (o PostedMarketOrder) AddTransaction(t models.Transaction) (PostedMarketOrder, error) {
	f, err := o.fills.add(t, o.lots, "market order "+o.brokerID)
	if err != nil {
		return o, err
	}
	return PostedMarketOrder{intent: o.intent, fills: f}, nil
}

// Fill completes a fully executed order.
func (o PostedMarketOrder) Fill(commission decimal.Decimal) (FilledMarketOrder, error) {
	op, err := o.fills.settle(o.lots, commission, "market order "+o.brokerID)
	if err != nil {
		return FilledMarketOrder{}, err
	}
	return FilledMarketOrder{intent: o.intent, fills: o.fills, operation: op}, nil
}

// Cancel withdraws the order, keeping any fills it already has.
func (o PostedMarketOrder) Cancel() CanceledMarketOrder {
	return CanceledMarketOrder{intent: o.intent, fills: o.fills}
}

// FilledMarketOrder is fully executed.
type FilledMarketOrder struct {
	intent
	fills
	operation models.Operation
}

func (o FilledMarketOrder) Kind() Kind                  { return KindMarket }
func (o FilledMarketOrder) Status() Status              { return StatusFilled }
func (o FilledMarketOrder) Operation() models.Operation { return o.operation }
func (FilledMarketOrder) isOrder()                      {}

func (o FilledMarketOrder) String() string {
	return fmt.Sprintf("%s id=%s avg=%s", o.describe(KindMarket, StatusFilled), o.brokerID, o.operation.AveragePrice())
}

// RejectedMarketOrder was refused by the broker.
type RejectedMarketOrder struct {
	intent
	reason string
}

func (o RejectedMarketOrder) Kind() Kind     { return KindMarket }
func (o RejectedMarketOrder) Status() Status { return StatusRejected }
func (o RejectedMarketOrder) Reason() string { return o.reason }
func (RejectedMarketOrder) isOrder()         {}

func (o RejectedMarketOrder) String() string {
	return fmt.Sprintf("%s reason=%q", o.describe(KindMarket, StatusRejected), o.reason)
}

// CanceledMarketOrder was withdrawn before full execution.
type CanceledMarketOrder struct {
	intent
	fills
}

func (o CanceledMarketOrder) Kind() Kind     { return KindMarket }
func (o CanceledMarketOrder) Status() Status { return StatusCanceled }
func (CanceledMarketOrder) isOrder()         {}

func (o CanceledMarketOrder) String() string {
	return fmt.Sprintf("%s id=%s executed=%d", o.describe(KindMarket, StatusCanceled), o.brokerID, o.Executed())
}
