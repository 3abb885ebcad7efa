package stream

import (
	"fmt"
	"time"

	"tinkoff-trader/internal/models"
	"tinkoff-trader/internal/order"
	"tinkoff-trader/internal/trade"
)

// EventKind names an event type.
type EventKind string

const (
	KindBar    EventKind = "bar"
	KindTic    EventKind = "tic"
	KindStatus EventKind = "status"
	KindOrder  EventKind = "order"
	KindTrade  EventKind = "trade"
)

// Event is published on the Bus.
type Event interface {
	Kind() EventKind
	// FIGI returns the instrument the event concerns.
	FIGI() string
	Time() time.Time
	String() string
}

// BarEvent carries a candle update.
type BarEvent struct {
	Instrument string
	TimeFrame  models.TimeFrame
	Bar        models.Bar
}

func (e BarEvent) Kind() EventKind { return KindBar }
func (e BarEvent) FIGI() string    { return e.Instrument }
func (e BarEvent) Time() time.Time { return e.Bar.Timestamp }

func (e BarEvent) String() string {
	return fmt.Sprintf("BarEvent=%s %s %s O=%s H=%s L=%s C=%s V=%d",
		e.Instrument, e.TimeFrame, e.Bar.Timestamp.Format(time.RFC3339),
		e.Bar.Open, e.Bar.High, e.Bar.Low, e.Bar.Close, e.Bar.Volume)
}

// TicEvent carries an anonymous exchange trade.
type TicEvent struct {
	Instrument string
	Tic        models.Tic
}

func (e TicEvent) Kind() EventKind { return KindTic }
func (e TicEvent) FIGI() string    { return e.Instrument }
func (e TicEvent) Time() time.Time { return e.Tic.Timestamp }

func (e TicEvent) String() string {
	return fmt.Sprintf("TicEvent=%s %s %d*%s value=%s", e.Instrument, e.Tic.Direction, e.Tic.Lots, e.Tic.Price, e.Tic.Value)
}

// StatusEvent carries a trading status change.
type StatusEvent struct {
	Status models.TradingStatus
}

func (e StatusEvent) Kind() EventKind { return KindStatus }
func (e StatusEvent) FIGI() string    { return e.Status.FIGI }
func (e StatusEvent) Time() time.Time { return e.Status.Time }

func (e StatusEvent) String() string {
	return fmt.Sprintf("StatusEvent=%s %s limit=%t market=%t",
		e.Status.FIGI, e.Status.Status, e.Status.LimitOrdersAvailable, e.Status.MarketOrdersAvailable)
}

// OrderEvent reports a new state of an order placed through the gateway.
type OrderEvent struct {
	Account    string
	Instrument string
	Owner      string
	TradeID    string
	At         time.Time
	Order      order.Order
}

func (e OrderEvent) Kind() EventKind { return KindOrder }
func (e OrderEvent) FIGI() string    { return e.Instrument }
func (e OrderEvent) Time() time.Time { return e.At }

func (e OrderEvent) String() string {
	return fmt.Sprintf("OrderEvent=%s %s owner=%s %s", e.Account, e.Instrument, e.Owner, e.Order)
}

// TradeEvent reports that a tracked trade opened or closed.
type TradeEvent struct {
	ID    string
	At    time.Time
	Trade trade.Trade
}

func (e TradeEvent) Kind() EventKind { return KindTrade }
func (e TradeEvent) FIGI() string    { return e.Trade.Instrument().FIGI }
func (e TradeEvent) Time() time.Time { return e.At }

func (e TradeEvent) String() string {
	return fmt.Sprintf("TradeEvent=%s %s", e.ID, e.Trade)
}
