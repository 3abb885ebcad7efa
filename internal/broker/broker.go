// Package broker connects the runtime to the remote brokerage service.
//
// Client and Stream describe the remote service itself. TinkoffClient talks
// to the real REST and websocket gateway and PaperClient simulates it in
// process. Gateway owns one Stream and reconciles orders and trades against
// what the service reports.
package broker

import (
	"context"
	"sync"

	"tinkoff-trader/internal/wire"
)

// Client is the unary side of the remote service.
type Client interface {
	PostOrder(ctx context.Context, req wire.PostOrderRequest) (wire.PostOrderResponse, error)
	CancelOrder(ctx context.Context, req wire.CancelOrderRequest) (wire.CancelOrderResponse, error)
	GetOrderState(ctx context.Context, req wire.GetOrderStateRequest) (wire.OrderState, error)
	PostStopOrder(ctx context.Context, req wire.PostStopOrderRequest) (wire.PostStopOrderResponse, error)
	CancelStopOrder(ctx context.Context, req wire.CancelStopOrderRequest) (wire.CancelStopOrderResponse, error)
	GetStopOrders(ctx context.Context, req wire.GetStopOrdersRequest) (wire.GetStopOrdersResponse, error)

	GetCandles(ctx context.Context, req wire.GetCandlesRequest) (wire.GetCandlesResponse, error)
	GetLastPrices(ctx context.Context, req wire.GetLastPricesRequest) (wire.GetLastPricesResponse, error)
	GetAccounts(ctx context.Context) (wire.GetAccountsResponse, error)
	GetPositions(ctx context.Context, req wire.PositionsRequest) (wire.PositionsResponse, error)
	Shares(ctx context.Context, req wire.InstrumentsRequest) (wire.SharesResponse, error)

	// OpenStream opens a new bidirectional market-data and execution stream.
	OpenStream(ctx context.Context) (Stream, error)
}

// Stream is one bidirectional connection to the remote service.
// Send and Recv may be called from different goroutines, but each from at
// most one goroutine at a time.
type Stream interface {
	Send(ctx context.Context, req wire.MarketDataRequest) error
	Recv(ctx context.Context) (wire.MarketDataResponse, error)
	Close() error
}

// Dialer opens a fresh Stream, used to reconnect after a transport failure.
type Dialer func(ctx context.Context) (Stream, error)

// mailbox is an unbounded FIFO. push never blocks.
type mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{}
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{signal: make(chan struct{}, 1)}
}

// push appends v. It reports false, leaving the mailbox unchanged, once
// the mailbox is closed.
func (m *mailbox[T]) push(v T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

// close refuses further pushes and returns everything still queued.
func (m *mailbox[T]) close() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	items := m.items
	m.items = nil
	return items
}

// pop removes and returns the oldest item.
func (m *mailbox[T]) pop() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	if len(m.items) == 0 {
		return zero, false
	}
	v := m.items[0]
	m.items[0] = zero
	m.items = m.items[1:]
	return v, true
}

// ready is signalled after a push. A signal may be stale; callers re-check
// with take or pop.
func (m *mailbox[T]) ready() <-chan struct{} {
	return m.signal
}
