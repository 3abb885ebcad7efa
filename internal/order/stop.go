package order

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tinkoff-trader/internal/errors"
	"tinkoff-trader/internal/models"
)

// StopKind distinguishes protective stops from profit targets.
type StopKind string

const (
	StopLoss   StopKind = "STOP_LOSS"
	TakeProfit StopKind = "TAKE_PROFIT"
)

// stopSpec is the trigger definition of a stop order. When execPrice is set
// the order becomes a limit order on trigger, otherwise a market order.
type stopSpec struct {
	stopKind  StopKind
	stopPrice decimal.Decimal
	execPrice decimal.NullDecimal
}

func (s stopSpec) StopKind() StopKind         { return s.stopKind }
func (s stopSpec) StopPrice() decimal.Decimal { return s.stopPrice }

// ExecPrice returns the limit price used after trigger, if any.
func (s stopSpec) ExecPrice() (decimal.Decimal, bool) {
	return s.execPrice.Decimal, s.execPrice.Valid
}

func (s stopSpec) describeStop() string {
	if s.execPrice.Valid {
		return fmt.Sprintf("%s stop=%s exec=%s", s.stopKind, s.stopPrice, s.execPrice.Decimal)
	}
	return fmt.Sprintf("%s stop=%s exec=market", s.stopKind, s.stopPrice)
}

// NewStopOrder is a stop order that has not been sent yet.
type NewStopOrder struct {
	intent
	stopSpec
}

// NewStop creates a stop order. A nil execPrice executes at market once
// stopPrice is reached.
func NewStop(kind StopKind, direction models.Direction, lots int64, stopPrice decimal.Decimal, execPrice *decimal.Decimal) (NewStopOrder, error) {
	i, err := newIntent(direction, lots)
	if err != nil {
		return NewStopOrder{}, err
	}
	if kind != StopLoss && kind != TakeProfit {
		return NewStopOrder{}, errors.NewValidationError("stop_kind", kind, "must be STOP_LOSS or TAKE_PROFIT")
	}
	if !stopPrice.IsPositive() {
		return NewStopOrder{}, errors.NewValidationError("stop_price", stopPrice.String(), "must be positive")
	}

	spec := stopSpec{stopKind: kind, stopPrice: stopPrice}
	if execPrice != nil {
		if !execPrice.IsPositive() {
			return NewStopOrder{}, errors.NewValidationError("exec_price", execPrice.String(), "must be positive")
		}
		spec.execPrice = decimal.NewNullDecimal(*execPrice)
	}
	return NewStopOrder{intent: i, stopSpec: spec}, nil
}

func (o NewStopOrder) Kind() Kind     { return KindStop }
func (o NewStopOrder) Status() Status { return StatusNew }
func (NewStopOrder) isOrder()         {}

func (o NewStopOrder) String() string {
	return fmt.Sprintf("%s %s", o.describe(KindStop, StatusNew), o.describeStop())
}

// Post marks the stop order as accepted by the broker under brokerID.
func (o NewStopOrder) Post(brokerID string) (PostedStopOrder, error) {
	if brokerID == "" {
		return PostedStopOrder{}, errors.NewValidationError("broker_id", brokerID, "empty broker id for stop order")
	}
	return PostedStopOrder{intent: o.intent, stopSpec: o.stopSpec, brokerID: brokerID}, nil
}

// Reject records the broker's refusal.
func (o NewStopOrder) Reject(reason string) RejectedStopOrder {
	return RejectedStopOrder{intent: o.intent, stopSpec: o.stopSpec, reason: reason}
}

// PostedStopOrder waits on the broker side for its stop price.
type PostedStopOrder struct {
	intent
	stopSpec
	brokerID string
}

func (o PostedStopOrder) Kind() Kind       { return KindStop }
func (o PostedStopOrder) Status() Status   { return StatusPosted }
func (o PostedStopOrder) BrokerID() string { return o.brokerID }
func (PostedStopOrder) isOrder()           {}

func (o PostedStopOrder) String() string {
	return fmt.Sprintf("%s %s id=%s", o.describe(KindStop, StatusPosted), o.describeStop(), o.brokerID)
}

// Cancel withdraws the stop order.
func (o PostedStopOrder) Cancel() CanceledStopOrder {
	return CanceledStopOrder{intent: o.intent, stopSpec: o.stopSpec, brokerID: o.brokerID}
}

// Trigger records that the stop price was reached and the broker placed the
// execution order under brokerID. The execution order is a posted limit
// order when an exec price is set and a posted market order otherwise.
func (o PostedStopOrder) Trigger(brokerID string) (TriggeredStopOrder, error) {
	var (
		execution Order
		err       error
	)
	if o.execPrice.Valid {
		execution, err = lift(NewLimitOrder{intent: o.intent, priced: priced{price: o.execPrice.Decimal}}.Post(brokerID))
	} else {
		execution, err = lift(NewMarketOrder{intent: o.intent}.Post(brokerID))
	}
	if err != nil {
		return TriggeredStopOrder{}, err
	}
	return TriggeredStopOrder{intent: o.intent, stopSpec: o.stopSpec, brokerID: o.brokerID, execution: execution}, nil
}

// TriggeredStopOrder has fired. Its Execution is tracked as a regular order.
type TriggeredStopOrder struct {
	intent
	stopSpec
	brokerID  string
	execution Order
}

func (o TriggeredStopOrder) Kind() Kind       { return KindStop }
func (o TriggeredStopOrder) Status() Status   { return StatusTriggered }
func (o TriggeredStopOrder) BrokerID() string { return o.brokerID }
func (o TriggeredStopOrder) Execution() Order { return o.execution }
func (TriggeredStopOrder) isOrder()           {}

func (o TriggeredStopOrder) String() string {
	return fmt.Sprintf("%s %s id=%s execution=[%s]",
		o.describe(KindStop, StatusTriggered), o.describeStop(), o.brokerID, o.execution)
}

// RejectedStopOrder was refused by the broker.
type RejectedStopOrder struct {
	intent
	stopSpec
	reason string
}

func (o RejectedStopOrder) Kind() Kind     { return KindStop }
func (o RejectedStopOrder) Status() Status { return StatusRejected }
func (o RejectedStopOrder) Reason() string { return o.reason }
func (RejectedStopOrder) isOrder()         {}

func (o RejectedStopOrder) String() string {
	return fmt.Sprintf("%s %s reason=%q", o.describe(KindStop, StatusRejected), o.describeStop(), o.reason)
}

// CanceledStopOrder was withdrawn before it triggered.
type CanceledStopOrder struct {
	intent
	stopSpec
	brokerID string
}

func (o CanceledStopOrder) Kind() Kind       { return KindStop }
func (o CanceledStopOrder) Status() Status   { return StatusCanceled }
func (o CanceledStopOrder) BrokerID() string { return o.brokerID }
func (CanceledStopOrder) isOrder()           {}

func (o CanceledStopOrder) String() string {
	return fmt.Sprintf("%s %s id=%s", o.describe(KindStop, StatusCanceled), o.describeStop(), o.brokerID)
}
