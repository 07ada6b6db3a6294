// Package stream fans newly committed events out to live subscribers and
// tails the journal directory to feed them. Subscribers only ever see events
// appended after they subscribe; history stays in the journal.
package stream

import (
	"sync"

	"github.com/hpungsan/scribe/internal/event"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind is evicted instead of stalling the publisher.
const subscriberBuffer = 64

// Subscriber is one live listener. Its channel closes when the subscriber
// is evicted, the broker shuts down, or Close is called.
type Subscriber struct {
	ch     chan event.Event
	broker *Broker
}

// Events returns the channel of live events.
func (s *Subscriber) Events() <-chan event.Event {
	return s.ch
}

// Close detaches the subscriber. Safe to call more than once and after
// eviction; ingestion and other subscribers are unaffected.
func (s *Subscriber) Close() {
	s.broker.remove(s)
}

// Broker is the fan-out point between the journal tail and push consumers.
type Broker struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	closed bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[*Subscriber]struct{})}
}

// Subscribe registers a listener for events committed from now on. There is
// no replay of earlier events.
func (b *Broker) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan event.Event, subscriberBuffer), broker: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Publish delivers ev to every live subscriber without blocking. A
// subscriber whose buffer is full is evicted, so a stalled consumer can
// never hold up ingestion.
func (b *Broker) Publish(ev event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			delete(b.subs, sub)
			close(sub.ch)
		}
	}
}

// Subscribers returns the current number of live subscribers.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close evicts all subscribers and refuses new ones.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

func (b *Broker) remove(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}
