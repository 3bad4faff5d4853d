package localbroker_test

import (
	"context"
	"testing"
	"time"

	"github.com/relaysched/relay/broker"
	"github.com/relaysched/relay/broker/localbroker"
)

func TestBroker_DeliversToSubscriber(t *testing.T) {
	b := localbroker.New()
	defer b.Close()

	sub, err := b.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	evt := broker.Event{Kind: broker.KindJobAdded, ID: "j1"}
	if err := b.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-sub.C():
		if got.ID != "j1" || got.Kind != broker.KindJobAdded {
			t.Fatalf("got event %+v, want %+v", got, evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroker_FiltersByKind(t *testing.T) {
	b := localbroker.New()
	defer b.Close()

	sub, _ := b.Subscribe(context.Background(), broker.KindJobReleased)
	defer sub.Unsubscribe()

	b.Publish(context.Background(), broker.Event{Kind: broker.KindJobAdded, ID: "j1"})
	b.Publish(context.Background(), broker.Event{Kind: broker.KindJobReleased, ID: "j2"})

	select {
	case got := <-sub.C():
		if got.Kind != broker.KindJobReleased || got.ID != "j2" {
			t.Fatalf("got %+v, want only job_released events", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filtered event")
	}

	select {
	case got := <-sub.C():
		t.Fatalf("unexpected second event delivered: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroker_UnsubscribeClosesChannel(t *testing.T) {
	b := localbroker.New()
	defer b.Close()

	sub, _ := b.Subscribe(context.Background())
	sub.Unsubscribe()

	_, ok := <-sub.C()
	if ok {
		t.Fatal("expected channel to be closed after Unsubscribe")
	}
}

func TestBroker_PublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := localbroker.New()
	defer b.Close()

	sub, _ := b.Subscribe(context.Background())
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(context.Background(), broker.Event{Kind: broker.KindJobAdded, ID: "flood"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber instead of dropping")
	}
}
