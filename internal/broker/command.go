package broker

import (
	"context"
	"fmt"

	"tinkoff-trader/internal/models"
	"tinkoff-trader/internal/order"
)

// Command is an instruction queued to the gateway. Commands are executed in
// submission order by the gateway loop.
type Command interface {
	isCommand()
	String() string
}

// PostCommand places an order on account. Owner names the strategy that
// issued it. A non-empty TradeID attaches the order's fills, or a posted
// stop order, to that trade in the gateway's book.
type PostCommand struct {
	Account    string
	Instrument models.Instrument
	Owner      string
	TradeID    string
	Order      order.Order
}

func (PostCommand) isCommand() {}

func (c PostCommand) String() string {
	return fmt.Sprintf("post %s %s owner=%s", c.Instrument.FIGI, c.Order, c.Owner)
}

// CancelCommand cancels a previously posted order.
type CancelCommand struct {
	Account    string
	Instrument models.Instrument
	Owner      string
	Order      order.Order
}

func (CancelCommand) isCommand() {}

func (c CancelCommand) String() string {
	return fmt.Sprintf("cancel %s %s owner=%s", c.Instrument.FIGI, c.Order, c.Owner)
}

// MarketData selects a market data feed.
type MarketData string

const (
	DataBars   MarketData = "bars"
	DataTics   MarketData = "tics"
	DataStatus MarketData = "status"
)

// Subscription is one market data feed for one instrument. TimeFrame is
// only used for bars.
type Subscription struct {
	Instrument models.Instrument
	Data       MarketData
	TimeFrame  models.TimeFrame
}

func (s Subscription) String() string {
	if s.Data == DataBars {
		return fmt.Sprintf("%s:%s:%s", s.Instrument.FIGI, s.Data, s.TimeFrame)
	}
	return fmt.Sprintf("%s:%s", s.Instrument.FIGI, s.Data)
}

// SubscribeCommand adds market data subscriptions. They are replayed after
// every reconnect.
type SubscribeCommand struct {
	Subscriptions []Subscription
}

func (SubscribeCommand) isCommand() {}

func (c SubscribeCommand) String() string {
	return fmt.Sprintf("subscribe %v", c.Subscriptions)
}

// UnsubscribeCommand removes market data subscriptions.
type UnsubscribeCommand struct {
	Subscriptions []Subscription
}

func (UnsubscribeCommand) isCommand() {}

func (c UnsubscribeCommand) String() string {
	return fmt.Sprintf("unsubscribe %v", c.Subscriptions)
}

// Pending is the outcome of a submitted command.
type Pending struct {
	done  chan struct{}
	order order.Order
	err   error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) resolve(o order.Order, err error) {
	p.order = o
	p.err = err
	close(p.done)
}

// Done is closed once the command has been executed.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the command has been executed or ctx is done. For post
// and cancel commands the returned order is the state the gateway recorded.
// A rejected order is a result, not an error.
func (p *Pending) Wait(ctx context.Context) (order.Order, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return p.order, p.err
	}
}

type queued struct {
	cmd     Command
	pending *Pending
}
