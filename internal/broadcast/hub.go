// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

// Package broadcast provides the bounded in-memory fan-out channel between
// the poll pipeline (single producer) and the SSE/websocket sessions (many
// consumers).
//
// Publishing never blocks the pipeline: a consumer that has fallen behind
// its buffer has events dropped and its skipped counter incremented. The
// consumer observes the counter and replays the current live snapshot before
// resuming, mirroring the lag semantics of a bounded broadcast ring.
package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/SequoiaWynncraft/sequoia-map/internal/metrics"
)

// EventKind discriminates pre-serialized event payloads.
type EventKind int

const (
	// KindSnapshot is a full territory map replacement.
	KindSnapshot EventKind = iota
	// KindUpdate is an incremental change batch.
	KindUpdate
)

// String returns the SSE event name for the kind.
func (k EventKind) String() string {
	if k == KindSnapshot {
		return "snapshot"
	}
	return "update"
}

// Event is one pre-serialized territory event. Payload is encoded exactly
// once by the sequencer and shared read-only by every subscriber; it must
// never be mutated.
type Event struct {
	Kind    EventKind
	Seq     uint64
	Payload []byte
}

// Hub is the broadcast channel. It is passive: Publish fans out to every
// subscriber's buffered channel directly, so no goroutine owns the hub.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
}

// NewHub creates a hub whose subscribers each buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a new consumer. The caller must Close the subscription
// when its session ends.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		hub: h,
		ch:  make(chan Event, h.buffer),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Publish delivers the event to every subscriber without blocking. Events
// are published in seq order by the single-writer pipeline; per-subscriber
// channel order preserves that order.
func (h *Hub) Publish(ev Event) {
	metrics.EventsBroadcast.WithLabelValues(ev.Kind.String()).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.skipped.Add(1)
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// Subscription is one consumer's bounded view of the event stream.
type Subscription struct {
	hub     *Hub
	ch      chan Event
	skipped atomic.Uint64
	closed  atomic.Bool
}

// Events returns the receive channel. The channel is never closed; consumers
// stop by observing their own context.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Lagged returns the number of events dropped for this subscriber since the
// last call, resetting the counter. A non-zero return means the consumer
// must replay the current live snapshot before resuming.
func (s *Subscription) Lagged() uint64 {
	return s.skipped.Swap(0)
}

// Close releases the subscription. Queued events are discarded. Safe to call
// more than once.
func (s *Subscription) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.hub.remove(s)
	}
}
