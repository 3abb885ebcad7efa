package trade

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"tinkoff-trader/internal/errors"
	"tinkoff-trader/internal/order"
)

// Book tracks live trades by id and applies fills reported by the broker.
// Trades leave the book when they close.
type Book struct {
	mu     sync.RWMutex
	trades map[string]Trade
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{trades: make(map[string]Trade)}
}

// Add registers t under a fresh id.
func (b *Book) Add(t NewTrade) string {
	id := uuid.NewString()
	b.mu.Lock()
	b.trades[id] = t
	b.mu.Unlock()
	return id
}

// Resume registers an opened trade under an id issued earlier, replacing
// whatever the book held there.
func (b *Book) Resume(id string, t OpenedTrade) {
	b.mu.Lock()
	b.trades[id] = t
	b.mu.Unlock()
}

// Get returns the live trade registered under id.
func (b *Book) Get(id string) (Trade, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.trades[id]
	return t, ok
}

// Len returns the number of live trades.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.trades)
}

// Snapshot returns a copy of the live trades.
func (b *Book) Snapshot() map[string]Trade {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]Trade, len(b.trades))
	for id, t := range b.trades {
		out[id] = t
	}
	return out
}

// Apply attaches a filled order to trade id and returns the trade's new
// state. A fill that flattens the position closes the trade and removes it
// from the book.
func (b *Book) Apply(id string, filled order.Order) (Trade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, ok := b.trades[id]
	if !ok {
		return nil, fmt.Errorf("trade %s: %w", id, errors.ErrDataNotFound)
	}

	switch t := current.(type) {
	case NewTrade:
		opened, err := t.Open(filled)
		if err != nil {
			return nil, err
		}
		b.trades[id] = opened
		return opened, nil

	case OpenedTrade:
		opened, err := t.AddOrder(filled)
		if err != nil {
			return nil, err
		}
		if opened.Quantity() != 0 {
			b.trades[id] = opened
			return opened, nil
		}
		closed, err := opened.Close()
		if err != nil {
			return nil, err
		}
		delete(b.trades, id)
		return closed, nil
	}

	return nil, errors.NewTransitionError("trade", string(current.Status()), "apply fill to")
}

// Protect attaches a posted stop order to an opened trade as its stop-loss
// or take-profit, depending on the stop kind.
func (b *Book) Protect(id string, stop order.PostedStopOrder) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, ok := b.trades[id]
	if !ok {
		return fmt.Errorf("trade %s: %w", id, errors.ErrDataNotFound)
	}
	opened, ok := current.(OpenedTrade)
	if !ok {
		return errors.NewTransitionError("trade", string(current.Status()), "protect")
	}

	if stop.StopKind() == order.TakeProfit {
		b.trades[id] = opened.SetTake(stop)
	} else {
		b.trades[id] = opened.SetStop(stop)
	}
	return nil
}
