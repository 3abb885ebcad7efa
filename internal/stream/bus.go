// Package stream distributes market-data and execution events to subscribers.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// BusConfig holds configuration for the Bus.
type BusConfig struct {
	// SubscriberBufferSize is the number of events each subscriber can hold
	// before the oldest is discarded.
	SubscriberBufferSize int
}

// DefaultBusConfig returns the default bus configuration.
func DefaultBusConfig() BusConfig {
	return BusConfig{
		SubscriberBufferSize: 1024,
	}
}

// Bus is a lossy broadcast. Publish never blocks: when a subscriber's buffer
// is full, its oldest queued event is discarded to make room and the
// subscriber's lag counter grows.
type Bus struct {
	config      BusConfig
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool

	// Metrics
	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// Subscriber is one receiving end of the bus.
type Subscriber struct {
	ID        string
	CreatedAt time.Time

	ch     chan Event
	filter map[string]struct{}
	sendMu sync.Mutex
	lagged atomic.Uint64
	bus    *Bus
}

// NewBus creates a bus with default configuration.
func NewBus() *Bus {
	return NewBusWithConfig(DefaultBusConfig())
}

// NewBusWithConfig creates a bus with custom configuration.
func NewBusWithConfig(config BusConfig) *Bus {
	if config.SubscriberBufferSize < 1 {
		config.SubscriberBufferSize = 1
	}
	return &Bus{
		config:      config,
		subscribers: make(map[string]*Subscriber),
	}
}

// Subscribe registers a subscriber. With no arguments it receives every
// event, otherwise only events for the given FIGIs. Subscribing to a closed
// bus returns a subscriber whose channel is already closed.
func (b *Bus) Subscribe(figis ...string) *Subscriber {
	sub := &Subscriber{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		ch:        make(chan Event, b.config.SubscriberBufferSize),
		bus:       b,
	}
	if len(figis) > 0 {
		sub.filter = make(map[string]struct{}, len(figis))
		for _, f := range figis {
			sub.filter[f] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes sub and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub.ID]; !ok {
		return
	}
	delete(b.subscribers, sub.ID)
	close(sub.ch)
}

// Publish delivers e to every matching subscriber without blocking.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Add(1)

	for _, sub := range b.subscribers {
		if !sub.wants(e) {
			continue
		}
		b.dropped.Add(sub.deliver(e))
		b.delivered.Add(1)
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// BusMetrics contains bus counters.
type BusMetrics struct {
	Published   uint64
	Delivered   uint64
	Dropped     uint64
	Subscribers int
}

// Metrics returns bus counters.
func (b *Bus) Metrics() BusMetrics {
	return BusMetrics{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: b.SubscriberCount(),
	}
}

// Events returns the receive channel. It is closed on Unsubscribe or when
// the bus closes.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Lagged returns how many events were discarded for this subscriber.
func (s *Subscriber) Lagged() uint64 {
	return s.lagged.Load()
}

// Close unsubscribes s from its bus.
func (s *Subscriber) Close() {
	s.bus.Unsubscribe(s)
}

func (s *Subscriber) wants(e Event) bool {
	if s.filter == nil {
		return true
	}
	_, ok := s.filter[e.FIGI()]
	return ok
}

// deliver enqueues e, evicting the oldest queued events while the buffer is
// full. It returns the number of evicted events.
func (s *Subscriber) deliver(e Event) uint64 {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	var evicted uint64
	for {
		select {
		case s.ch <- e:
			return evicted
		default:
		}

		select {
		case <-s.ch:
			evicted++
			s.lagged.Add(1)
		default:
		}
	}
}

// Consumer processes events from the bus.
type Consumer interface {
	// OnEvent is called for each event in publish order.
	OnEvent(e Event)
	// Instruments returns the FIGIs this consumer is interested in.
	// Return nil or empty slice to receive all events.
	Instruments() []string
}

// RegisterConsumer subscribes c and feeds it from its own goroutine until
// ctx is done or the subscription closes.
func (b *Bus) RegisterConsumer(ctx context.Context, c Consumer) *Subscriber {
	sub := b.Subscribe(c.Instruments()...)
	go func() {
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case e, ok := <-sub.Events():
				if !ok {
					return
				}
				c.OnEvent(e)
			}
		}
	}()
	return sub
}

// ConsumerFunc is a function adapter for Consumer interface.
type ConsumerFunc struct {
	instruments []string
	onEventFn   func(Event)
}

// NewConsumerFunc creates a new ConsumerFunc.
func NewConsumerFunc(instruments []string, onEvent func(Event)) *ConsumerFunc {
	return &ConsumerFunc{
		instruments: instruments,
		onEventFn:   onEvent,
	}
}

// OnEvent implements Consumer.
func (c *ConsumerFunc) OnEvent(e Event) {
	if c.onEventFn != nil {
		c.onEventFn(e)
	}
}

// Instruments implements Consumer.
func (c *ConsumerFunc) Instruments() []string {
	return c.instruments
}
