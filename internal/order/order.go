// Package order implements the order lifecycle as a set of state types.
//
// Each state is its own Go type and each transition is a method that returns
// the next state as a new value. A Filled market order simply has no Cancel
// method. Code that holds an untyped Order uses the package-level helpers
// (Post, Cancel, Fill, ...), which return a *errors.TransitionError when the
// state does not permit the operation.
package order

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tinkoff-trader/internal/errors"
	"tinkoff-trader/internal/models"
)

// Kind is the order type.
type Kind string

const (
	KindMarket Kind = "MARKET"
	KindLimit  Kind = "LIMIT"
	KindStop   Kind = "STOP"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusNew       Status = "NEW"
	StatusPosted    Status = "POSTED"
	StatusFilled    Status = "FILLED"
	StatusRejected  Status = "REJECTED"
	StatusCanceled  Status = "CANCELED"
	StatusTriggered Status = "TRIGGERED"
)

// Order is implemented by every order state type in this package.
type Order interface {
	Kind() Kind
	Status() Status
	Direction() models.Direction
	Lots() int64
	String() string
	isOrder()
}

// Identified is implemented by orders the broker has accepted.
type Identified interface {
	Order
	BrokerID() string
}

// Executable is implemented by orders that accumulate transactions.
type Executable interface {
	Identified
	Transactions() []models.Transaction
	Executed() int64
}

// Settled is implemented by filled orders.
type Settled interface {
	Executable
	Operation() models.Operation
}

// BrokerID returns the broker-assigned id of o, or "" when there is none.
func BrokerID(o Order) string {
	if v, ok := o.(Identified); ok {
		return v.BrokerID()
	}
	return ""
}

// TransactionsOf returns a copy of the transactions of o.
func TransactionsOf(o Order) []models.Transaction {
	if v, ok := o.(Executable); ok {
		return v.Transactions()
	}
	return nil
}

// OperationOf returns the operation of a filled order.
func OperationOf(o Order) (models.Operation, bool) {
	if v, ok := o.(Settled); ok {
		return v.Operation(), true
	}
	return models.Operation{}, false
}

// IsTerminal reports whether no further transition is possible.
func IsTerminal(o Order) bool {
	switch o.Status() {
	case StatusFilled, StatusRejected, StatusCanceled, StatusTriggered:
		return true
	default:
		return false
	}
}

// Post moves a New order to Posted.
func Post(o Order, brokerID string) (Order, error) {
	switch v := o.(type) {
	case NewMarketOrder:
		return lift(v.Post(brokerID))
	case NewLimitOrder:
		return lift(v.Post(brokerID))
	case NewStopOrder:
		return lift(v.Post(brokerID))
	}
	return nil, transitionError(o, "post")
}

// Reject moves a New order to Rejected.
func Reject(o Order, reason string) (Order, error) {
	switch v := o.(type) {
	case NewMarketOrder:
		return v.Reject(reason), nil
	case NewLimitOrder:
		return v.Reject(reason), nil
	case NewStopOrder:
		return v.Reject(reason), nil
	}
	return nil, transitionError(o, "reject")
}

// AddTransaction appends a fill to a Posted market or limit order.
func AddTransaction(o Order, t models.Transaction) (Order, error) {
	switch v := o.(type) {
	case PostedMarketOrder:
		return lift(v.AddTransaction(t))
	case PostedLimitOrder:
		return lift(v.AddTransaction(t))
	}
	return nil, transitionError(o, "add transaction to")
}

// Fill moves a fully executed Posted order to Filled.
func Fill(o Order, commission decimal.Decimal) (Order, error) {
	switch v := o.(type) {
	case PostedMarketOrder:
		return lift(v.Fill(commission))
	case PostedLimitOrder:
		return lift(v.Fill(commission))
	}
	return nil, transitionError(o, "fill")
}

// Cancel moves a Posted order to Canceled.
func Cancel(o Order) (Order, error) {
	switch v := o.(type) {
	case PostedMarketOrder:
		return v.Cancel(), nil
	case PostedLimitOrder:
		return v.Cancel(), nil
	case PostedStopOrder:
		return v.Cancel(), nil
	}
	return nil, transitionError(o, "cancel")
}

// CanCancel reports whether Cancel would succeed.
func CanCancel(o Order) bool {
	switch o.(type) {
	case PostedMarketOrder, PostedLimitOrder, PostedStopOrder:
		return true
	default:
		return false
	}
}

func lift[T Order](v T, err error) (Order, error) {
	if err != nil {
		return nil, err
	}
	return v, nil
}

func transitionError(o Order, op string) error {
	if o == nil {
		return errors.NewTransitionError("order", "nil", op)
	}
	return errors.NewTransitionError(string(o.Kind())+" order", string(o.Status()), op)
}

// intent is the part of an order fixed at construction.
type intent struct {
	direction models.Direction
	lots      int64
}

func newIntent(direction models.Direction, lots int64) (intent, error) {
	if !direction.Valid() {
		return intent{}, errors.NewValidationError("direction", direction, "must be BUY or SELL")
	}
	if lots <= 0 {
		return intent{}, errors.NewValidationError("lots", lots, "must be positive")
	}
	return intent{direction: direction, lots: lots}, nil
}

func (i intent) Direction() models.Direction { return i.direction }
func (i intent) Lots() int64                 { return i.lots }

func (i intent) describe(kind Kind, status Status) string {
	return fmt.Sprintf("%s-%s-%d %s", kind, i.direction, i.lots, status)
}

// fills holds the broker id and transactions of an accepted order. The
// transactions slice is never shared between two values.
type fills struct {
	brokerID     string
	transactions []models.Transaction
}

func posted(brokerID string, entity string) (fills, error) {
	if brokerID == "" {
		return fills{}, errors.NewValidationError("broker_id", brokerID, "empty broker id for "+entity)
	}
	return fills{brokerID: brokerID}, nil
}

func (f fills) BrokerID() string { return f.brokerID }

func (f fills) Transactions() []models.Transaction {
	out := make([]models.Transaction, len(f.transactions))
	copy(out, f.transactions)
	return out
}

func (f fills) Executed() int64 {
	var n int64
	for _, t := range f.transactions {
		n += t.Quantity
	}
	return n
}

func (f fills) add(t models.Transaction, requested int64, entity string) (fills, error) {
	if t.Quantity <= 0 {
		return f, errors.NewInvariantError(entity, fmt.Sprintf("transaction quantity %d is not positive", t.Quantity))
	}
	executed := f.Executed()
	if executed+t.Quantity > requested {
		return f, errors.NewInvariantError(entity,
			fmt.Sprintf("executed %d + %d exceeds requested %d", executed, t.Quantity, requested))
	}

	txs := make([]models.Transaction, len(f.transactions), len(f.transactions)+1)
	copy(txs, f.transactions)
	return fills{brokerID: f.brokerID, transactions: append(txs, t)}, nil
}

func (f fills) settle(requested int64, commission decimal.Decimal, entity string) (models.Operation, error) {
	executed := f.Executed()
	if len(f.transactions) == 0 || executed != requested {
		return models.Operation{}, errors.NewTransitionError(entity,
			fmt.Sprintf("%s %d/%d", StatusPosted, executed, requested), "fill")
	}
	return models.NewOperation(f.transactions, commission)
}
