// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

package broadcast

import (
	"fmt"
	"sync"
	"testing"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	hub := NewHub(8)
	a := hub.Subscribe()
	defer a.Close()
	b := hub.Subscribe()
	defer b.Close()

	hub.Publish(Event{Kind: KindUpdate, Seq: 1, Payload: []byte(`{"seq":1}`)})

	for name, sub := range map[string]*Subscription{"a": a, "b": b} {
		select {
		case ev := <-sub.Events():
			if ev.Seq != 1 || ev.Kind != KindUpdate {
				t.Errorf("subscriber %s got %+v", name, ev)
			}
		default:
			t.Errorf("subscriber %s received nothing", name)
		}
	}
}

func TestPublishPreservesSeqOrderPerSubscriber(t *testing.T) {
	hub := NewHub(16)
	sub := hub.Subscribe()
	defer sub.Close()

	for seq := uint64(1); seq <= 10; seq++ {
		hub.Publish(Event{Kind: KindUpdate, Seq: seq})
	}

	for want := uint64(1); want <= 10; want++ {
		ev := <-sub.Events()
		if ev.Seq != want {
			t.Fatalf("out of order: got seq %d, want %d", ev.Seq, want)
		}
	}
}

func TestSlowSubscriberLagsWithoutBlockingPublisher(t *testing.T) {
	hub := NewHub(2)
	slow := hub.Subscribe()
	defer slow.Close()

	// Fill the buffer, then overflow it.
	for seq := uint64(1); seq <= 5; seq++ {
		hub.Publish(Event{Kind: KindUpdate, Seq: seq})
	}

	if got := slow.Lagged(); got != 3 {
		t.Errorf("Lagged() = %d, want 3", got)
	}
	// Counter resets after read.
	if got := slow.Lagged(); got != 0 {
		t.Errorf("Lagged() after reset = %d, want 0", got)
	}

	// The two buffered events are the oldest that fit.
	first := <-slow.Events()
	second := <-slow.Events()
	if first.Seq != 1 || second.Seq != 2 {
		t.Errorf("buffered events = %d, %d; want 1, 2", first.Seq, second.Seq)
	}
}

func TestCloseRemovesSubscriber(t *testing.T) {
	hub := NewHub(4)
	sub := hub.Subscribe()
	if hub.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", hub.SubscriberCount())
	}

	sub.Close()
	sub.Close() // idempotent

	if hub.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() after close = %d, want 0", hub.SubscriberCount())
	}

	// Publishing after close must not panic or deliver.
	hub.Publish(Event{Kind: KindSnapshot, Seq: 9})
	select {
	case ev := <-sub.Events():
		t.Errorf("closed subscription received %+v", ev)
	default:
	}
}

func TestConcurrentSubscribeAndPublish(t *testing.T) {
	hub := NewHub(64)
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := hub.Subscribe()
			defer sub.Close()
			for range [16]struct{}{} {
				select {
				case <-sub.Events():
				default:
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for seq := uint64(1); seq <= 100; seq++ {
			hub.Publish(Event{Kind: KindUpdate, Seq: seq, Payload: []byte(fmt.Sprintf(`{"seq":%d}`, seq))})
		}
	}()

	wg.Wait()
}
