// Package redisbroker is the distributed Broker: go-redis/v9 pub/sub
// over a single shared channel, for scheduler/worker nodes spread
// across processes or hosts.
package redisbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaysched/relay/broker"
)

// DefaultChannel is the Redis pub/sub channel every node publishes to
// and subscribes from. One channel keeps fan-out simple; per-subscriber
// kind filtering happens client-side, same as localbroker.
const DefaultChannel = "relay:events"

// Broker implements broker.Broker over a *redis.Client.
type Broker struct {
	client  *redis.Client
	channel string

	mu   sync.Mutex
	subs map[*subscription]struct{}
	ps   *redis.PubSub
	done chan struct{}
}

// New subscribes to channel on client and begins the background fan-out
// loop. Close stops the loop and the underlying redis.PubSub.
func New(client *redis.Client, channel string) (*Broker, error) {
	if channel == "" {
		channel = DefaultChannel
	}

	ps := client.Subscribe(context.Background(), channel)
	if _, err := ps.Receive(context.Background()); err != nil {
		return nil, fmt.Errorf("redisbroker: subscribe to %q: %w", channel, err)
	}

	b := &Broker{
		client:  client,
		channel: channel,
		subs:    make(map[*subscription]struct{}),
		ps:      ps,
		done:    make(chan struct{}),
	}
	go b.fanOut()
	return b, nil
}

func (b *Broker) fanOut() {
	ch := b.ps.Channel()
	for {
		select {
		case <-b.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var evt broker.Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			b.deliver(evt)
		}
	}
}

func (b *Broker) deliver(evt broker.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if !sub.wants(evt.Kind) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

func (b *Broker) Publish(ctx context.Context, evt broker.Event) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("redisbroker: marshal event: %w", err)
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

func (b *Broker) Subscribe(ctx context.Context, kinds ...broker.Kind) (broker.Subscription, error) {
	sub := &subscription{
		broker: b,
		ch:     make(chan broker.Event, 64),
		kinds:  append([]broker.Kind(nil), kinds...),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

// Close stops the fan-out loop and closes the underlying subscription.
// Individual delivery channels are left to their subscribers to drain.
func (b *Broker) Close() error {
	close(b.done)
	err := b.ps.Close()

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = make(map[*subscription]struct{})
	return err
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
