package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Subscription is one bus subscriber. Events arrive on C in publish
// order; a subscriber that stops draining loses events (Dropped
// counts them) rather than stalling the fabric.
type Subscription struct {
	ID      uint64
	Pattern string
	C       chan Event

	bus     *Bus
	dropped atomic.Int64
	closed  atomic.Bool
}

// Dropped returns how many events overflowed this subscriber's buffer.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close detaches the subscription from the bus and closes its channel.
func (s *Subscription) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.bus.remove(s.ID)
		close(s.C)
	}
}

// Bus is the in-process subject fan-out layer. The notify listener
// feeds it; SSE connections, the webhook dispatcher and the builder
// workers subscribe by subject pattern.
//
// Per-record ordering holds because NOTIFY preserves commit order on a
// single channel and each subscriber channel is drained by one
// goroutine.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID atomic.Uint64
	logger *slog.Logger
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:   make(map[uint64]*Subscription),
		logger: slog.Default().With("component", "bus"),
	}
}

// Subscribe registers a subject-pattern subscriber with the given
// channel buffer. The caller owns draining and must Close when done.
func (b *Bus) Subscribe(pattern string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &Subscription{
		ID:      b.nextID.Add(1),
		Pattern: pattern,
		C:       make(chan Event, buffer),
		bus:     b,
	}
	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

// Publish fans an event out to every matching subscriber without
// blocking. Slow consumers drop the event and are logged.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	matched := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if MatchSubject(sub.Pattern, evt.Subject) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matched {
		if sub.closed.Load() {
			continue
		}
		select {
		case sub.C <- evt:
		default:
			n := sub.dropped.Add(1)
			if n == 1 || n%100 == 0 {
				b.logger.Warn("slow consumer dropping events",
					"pattern", sub.Pattern, "dropped", n, "subject", evt.Subject)
			}
		}
	}
}

// SubscriberCount returns how many subscriptions are registered.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}
