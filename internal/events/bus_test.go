// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package events

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesEvents(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer sub.Close()

	bus.Push(Event{Type: TypeMemoryStored, Project: "alpha"})

	select {
	case event := <-sub.C:
		assert.Equal(t, TypeMemoryStored, event.Type)
		assert.Equal(t, "alpha", event.Project)
		assert.False(t, event.CreatedAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestPushNeverBlocksOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		// Overflow the subscriber queue without draining it.
		for i := 0; i < subscriberBuffer*2; i++ {
			bus.Push(Event{Type: TypeIndexStarted, Project: "alpha"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("push blocked on a slow subscriber")
	}
}

func TestCloseDetachesSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	sub.Close()

	bus.Push(Event{Type: TypeMemoryStored, Project: "alpha"})

	select {
	case <-sub.C:
		t.Fatal("closed subscription still receives events")
	default:
	}
}

func TestRecentNewestFirst(t *testing.T) {
	bus := NewBus()
	for i := 0; i < 5; i++ {
		bus.Push(Event{Type: TypeIndexComplete, Detail: fmt.Sprintf("pass-%d", i)})
	}

	recent := bus.Recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, "pass-4", recent[0].Detail)
	assert.Equal(t, "pass-3", recent[1].Detail)
	assert.Equal(t, "pass-2", recent[2].Detail)
}

func TestRecentWrapsRing(t *testing.T) {
	bus := NewBus()
	for i := 0; i < historySize+10; i++ {
		bus.Push(Event{Type: TypeIndexComplete, Detail: fmt.Sprintf("pass-%d", i)})
	}

	recent := bus.Recent(0)
	require.Len(t, recent, historySize)
	assert.Equal(t, fmt.Sprintf("pass-%d", historySize+9), recent[0].Detail)
}

func TestConcurrentPushAndSubscribe(t *testing.T) {
	bus := NewBus()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := bus.Subscribe()
			for j := 0; j < 100; j++ {
				bus.Push(Event{Type: TypeMemoryStored})
			}
			sub.Close()
		}()
	}
	wg.Wait()

	assert.NotEmpty(t, bus.Recent(10))
}
