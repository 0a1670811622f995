// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package events provides a thread-safe publish/subscribe bus with bounded
// history for indexing progress and mutation notifications.
package events

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Event types published by the store pool and tool layer.
const (
	TypeMemoryStored  = "memory_stored"
	TypeMemoryDeleted = "memory_deleted"
	TypeIndexStarted  = "index_started"
	TypeIndexComplete = "index_complete"
	TypeIndexFailed   = "index_failed"
)

// Event is immutable once published.
type Event struct {
	Type      string    `json:"type"`
	Project   string    `json:"project"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	subscriberBuffer = 256
	historySize      = 512
)

// Subscription is one client's bounded event queue.
type Subscription struct {
	C   <-chan Event
	ch  chan Event
	bus *Bus
}

// Close detaches the subscription from the bus.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.ch)
}

// Bus fans events out to subscriber queues and a fixed-size ring buffer so
// late subscribers can render history. The lock guards subscriber-list
// mutation and the fan-out snapshot only; it is never held while a slow
// consumer's queue is full — a full queue drops the event instead.
type Bus struct {
	mu   sync.Mutex
	subs []chan Event
	ring []Event
	next int
	full bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{ring: make([]Event, historySize)}
}

// Subscribe registers a new bounded queue.
func (b *Bus) Subscribe() *Subscription {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return &Subscription{C: ch, ch: ch, bus: b}
}

func (b *Bus) unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Push publishes to every current subscriber without ever blocking the
// publisher, then records the event in the ring buffer.
func (b *Bus) Push(event Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	b.mu.Lock()
	snapshot := make([]chan Event, len(b.subs))
	copy(snapshot, b.subs)
	b.ring[b.next] = event
	b.next = (b.next + 1) % len(b.ring)
	if b.next == 0 {
		b.full = true
	}
	b.mu.Unlock()

	for _, ch := range snapshot {
		select {
		case ch <- event:
		default:
			log.Warn("subscriber queue full, dropping event", "type", event.Type, "project", event.Project)
		}
	}
}

// Recent returns up to limit events, newest first.
func (b *Bus) Recent(limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := b.next
	if b.full {
		size = len(b.ring)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]Event, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (b.next - 1 - i + len(b.ring)) % len(b.ring)
		out = append(out, b.ring[idx])
	}
	return out
}
