// Package trade groups filled orders into positions.
//
// A trade is NewTrade until its first fill, OpenedTrade while it holds a
// position, and ClosedTrade once the signed executed quantity returns to
// zero. Analytics exist only on ClosedTrade.
package trade

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"tinkoff-trader/internal/errors"
	"tinkoff-trader/internal/models"
	"tinkoff-trader/internal/order"
)

// Kind is the trade direction.
type Kind string

const (
	Long  Kind = "LONG"
	Short Kind = "SHORT"
)

// Entry returns the order direction that opens a trade of this kind.
func (k Kind) Entry() models.Direction {
	if k == Short {
		return models.Sell
	}
	return models.Buy
}

// Status is the lifecycle state of a trade.
type Status string

const (
	StatusNew    Status = "NEW"
	StatusOpened Status = "OPENED"
	StatusClosed Status = "CLOSED"
)

// Trade is implemented by NewTrade, OpenedTrade and ClosedTrade.
type Trade interface {
	Status() Status
	Timestamp() time.Time
	Strategy() string
	Kind() Kind
	Instrument() models.Instrument
	Info() map[string]string
	String() string
	isTrade()
}

type header struct {
	ts         time.Time
	strategy   string
	kind       Kind
	instrument models.Instrument
	info       map[string]string
}

func (h header) Timestamp() time.Time          { return h.ts }
func (h header) Strategy() string              { return h.strategy }
func (h header) Kind() Kind                    { return h.kind }
func (h header) Instrument() models.Instrument { return h.instrument }
func (h header) Info() map[string]string       { return maps.Clone(h.info) }

func (h header) describe(status Status) string {
	return fmt.Sprintf("Trade=%s %s %s %s %s", h.ts.Format(time.RFC3339), h.strategy, h.kind, h.instrument, status)
}

// NewTrade is a trade decision that has no fills yet.
type NewTrade struct {
	header
}

// New creates a trade decided by strategy at ts.
func New(ts time.Time, strategy string, kind Kind, instrument models.Instrument) NewTrade {
	return NewTrade{header: header{ts: ts, strategy: strategy, kind: kind, instrument: instrument}}
}

// WithInfo returns a copy of t carrying an extra info entry.
func (t NewTrade) WithInfo(key, value string) NewTrade {
	info := maps.Clone(t.info)
	if info == nil {
		info = make(map[string]string)
	}
	info[key] = value
	t.info = info
	return t
}

func (t NewTrade) Status() Status { return StatusNew }
func (t NewTrade) String() string { return t.describe(StatusNew) }
func (NewTrade) isTrade()         {}

// Open attaches the first filled order.
func (t NewTrade) Open(filled order.Order) (OpenedTrade, error) {
	if err := requireFilled(filled, "open"); err != nil {
		return OpenedTrade{}, err
	}
	return OpenedTrade{header: t.header, orders: []order.Order{filled}}, nil
}

// OpenedTrade holds a non-terminal position.
type OpenedTrade struct {
	header
	orders     []order.Order
	stopLoss   *order.PostedStopOrder
	takeProfit *order.PostedStopOrder
}

func (t OpenedTrade) Status() Status { return StatusOpened }
func (OpenedTrade) isTrade()         {}

func (t OpenedTrade) String() string {
	return fmt.Sprintf("%s orders=%d quantity=%d", t.describe(StatusOpened), len(t.orders), t.Quantity())
}

// Orders returns a copy of the attached filled orders.
func (t OpenedTrade) Orders() []order.Order { return slices.Clone(t.orders) }

// StopLoss returns the attached stop-loss order, if any.
func (t OpenedTrade) StopLoss() (order.PostedStopOrder, bool) { return deref(t.stopLoss) }

// TakeProfit returns the attached take-profit order, if any.
func (t OpenedTrade) TakeProfit() (order.PostedStopOrder, bool) { return deref(t.takeProfit) }

// Quantity returns the signed executed lots: buys positive, sells negative.
func (t OpenedTrade) Quantity() int64 { return signedQuantity(t.orders) }

// AddOrder attaches another filled order, scaling in or out.
func (t OpenedTrade) AddOrder(filled order.Order) (OpenedTrade, error) {
	if err := requireFilled(filled, "add order to"); err != nil {
		return t, err
	}
	orders := make([]order.Order, len(t.orders), len(t.orders)+1)
	copy(orders, t.orders)
	t.orders = append(orders, filled)
	return t, nil
}

// SetStop attaches a protective stop. It does not affect Quantity.
func (t OpenedTrade) SetStop(stop order.PostedStopOrder) OpenedTrade {
	t.stopLoss = &stop
	return t
}

// SetTake attaches a profit target. It does not affect Quantity.
func (t OpenedTrade) SetTake(take order.PostedStopOrder) OpenedTrade {
	t.takeProfit = &take
	return t
}

// Close finishes a flat trade.
func (t OpenedTrade) Close() (ClosedTrade, error) {
	if q := t.Quantity(); q != 0 {
		return ClosedTrade{}, fmt.Errorf("%w: %s has quantity %d", errors.ErrTradeNotFlat, t.instrument, q)
	}
	return ClosedTrade{header: t.header, orders: t.orders, stopLoss: t.stopLoss, takeProfit: t.takeProfit}, nil
}

func requireFilled(o order.Order, op string) error {
	if o == nil {
		return errors.NewTransitionError("trade", "nil order", op)
	}
	if _, ok := o.(order.Settled); !ok || o.Status() != order.StatusFilled {
		return errors.NewTransitionError("trade", fmt.Sprintf("order %s", o.Status()), op)
	}
	return nil
}

func signedQuantity(orders []order.Order) int64 {
	var q int64
	for _, o := range orders {
		op, _ := order.OperationOf(o)
		q += o.Direction().Sign() * op.Quantity
	}
	return q
}

func deref(p *order.PostedStopOrder) (order.PostedStopOrder, bool) {
	if p == nil {
		return order.PostedStopOrder{}, false
	}
	return *p, true
}
