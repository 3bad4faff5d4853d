// Package localbroker is the in-process Broker: goroutine-safe fan-out
// over buffered Go channels. Used whenever every scheduler/worker node
// sharing a Broker lives in the same process (the façade's default
// single-process configuration, and every broker contract test).
package localbroker

import (
	"context"
	"sync"

	"github.com/relaysched/relay/broker"
)

// bufferSize bounds how far a subscriber can lag before new events are
// dropped for it rather than blocking the publisher — mirrors the
// teacher's own heartbeat/claim loops never blocking on a slow consumer.
const bufferSize = 64

// Broker implements broker.Broker with a mutex-guarded set of
// subscriptions, matching the teacher's goroutine-plus-channel idiom
// (internal/scheduler/worker.go's heartbeat goroutine) generalized from
// a single background ticker to arbitrary many-writer/many-reader fan-out.
type Broker struct {
	mu   sync.Mutex
	subs map[*subscription]struct{}
	next int
}

// New builds an empty, ready-to-use Broker.
func New() *Broker {
	return &Broker{subs: make(map[*subscription]struct{})}
}

func (b *Broker) Publish(ctx context.Context, evt broker.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		if !sub.wants(evt.Kind) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Subscriber is backed up; drop rather than block the
			// publisher (best-effort delivery, per the broker contract).
		}
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, kinds ...broker.Kind) (broker.Subscription, error) {
	sub := &subscription{
		broker: b,
		ch:     make(chan broker.Event, bufferSize),
		kinds:  append([]broker.Kind(nil), kinds...),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

// Close terminates every live subscription's channel. The Broker itself
// is not reusable afterward.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = make(map[*subscription]struct{})
	return nil
}

type subscription struct {
	broker *Broker
	ch     chan broker.Event
	kinds  []broker.Kind
}

func (s *subscription) wants(k broker.Kind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	for _, want := range s.kinds {
		if want == k {
			return true
		}
	}
	return false
}

func (s *subscription) C() <-chan broker.Event { return s.ch }

func (s *subscription) Unsubscribe() {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	if _, ok := s.broker.subs[s]; ok {
		delete(s.broker.subs, s)
		close(s.ch)
	}
}
