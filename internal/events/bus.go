package events

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 256

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event and the drop is counted.
type Bus struct {
	buffer int
	log    *zap.Logger

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	published atomic.Int64
	dropped   atomic.Int64
}

// Subscription receives events on C until it is closed or the bus closes.
type Subscription struct {
	C <-chan *Event

	ch      chan *Event
	id      uint64
	bus     *Bus
	filter  map[EventType]bool
	dropped atomic.Int64
}

// NewBus creates a bus. buffer <= 0 uses DefaultBufferSize.
func NewBus(buffer int, log *zap.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		buffer: buffer,
		log:    log.Named("events"),
		subs:   make(map[uint64]*Subscription),
	}
}

// Subscribe registers a subscriber. With no types it receives everything.
// Subscribing to a closed bus returns a subscription whose channel is closed.
func (b *Bus) Subscribe(types ...EventType) *Subscription {
	ch := make(chan *Event, b.buffer)
	sub := &Subscription{C: ch, ch: ch, bus: b}
	if len(types) > 0 {
		sub.filter = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.filter[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	return sub
}

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s.id]; ok {
		delete(b.subs, s.id)
		close(s.ch)
	}
}

// Dropped is the number of events this subscriber missed.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Publish delivers e to every interested subscriber without blocking.
func (b *Bus) Publish(e *Event) {
	if e == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.published.Add(1)
	for _, sub := range b.subs {
		if sub.filter != nil && !sub.filter[e.Type] {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
			b.dropped.Add(1)
			b.log.Debug("subscriber buffer full, event dropped",
				zap.Uint64("subscriber", sub.id),
				zap.String("type", string(e.Type)))
		}
	}
}

// Published is the number of events accepted by Publish.
func (b *Bus) Published() int64 {
	return b.published.Load()
}

// Dropped is the number of deliveries skipped across all subscribers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribers is the number of open subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
