package events_test

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sentinel-uhnw/sentinel/internal/events"
)

func newTestBus() *events.EventBus {
	return events.NewEventBus(zap.NewNop(), events.EventBusConfig{NumWorkers: 2, BufferSize: 16})
}

func TestSubscribeReceivesOnlyItsEventType(t *testing.T) {
	bus := newTestBus()
	defer bus.Stop()

	var mu sync.Mutex
	var got []events.EventType
	done := make(chan struct{}, 2)

	bus.Subscribe(events.EventTypeStageStarted, func(e events.Event) error {
		mu.Lock()
		got = append(got, e.GetType())
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, events.SubscriptionOptions{Async: false})

	bus.Publish(events.NewStageEvent(events.EventTypeStageStarted, "s1", "p1", "drift", 0))
	bus.Publish(events.NewStageEvent(events.EventTypeStageCompleted, "s1", "p1", "drift", time.Millisecond))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscribed handler never ran")
	}
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != events.EventTypeStageStarted {
		t.Errorf("got = %v, want exactly one stage_started event", got)
	}
}

func TestSubscribeAllReceivesEveryEventType(t *testing.T) {
	bus := newTestBus()
	defer bus.Stop()

	var mu sync.Mutex
	var count int
	bus.SubscribeAll(func(e events.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}, events.SubscriptionOptions{Async: false})

	bus.PublishSync(events.NewStageEvent(events.EventTypeStageStarted, "s1", "p1", "drift", 0))
	bus.PublishSync(events.NewRoutingSkippedEvent("p1", "no signal"))
	bus.PublishSync(events.NewProcessingErrorEvent("s1", "boom"))

	mu.Lock()
	defer mu.Unlock()
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestSubscriptionFilterExcludesNonMatchingEvents(t *testing.T) {
	bus := newTestBus()
	defer bus.Stop()

	var mu sync.Mutex
	var seen []string
	bus.SubscribeAll(func(e events.Event) error {
		mu.Lock()
		seen = append(seen, e.GetID())
		mu.Unlock()
		return nil
	}, events.SubscriptionOptions{
		Async: false,
		Filter: func(e events.Event) bool {
			se, ok := e.(*events.StageEvent)
			return ok && se.Stage == "tax"
		},
	})

	bus.PublishSync(events.NewStageEvent(events.EventTypeStageStarted, "s1", "p1", "drift", 0))
	bus.PublishSync(events.NewStageEvent(events.EventTypeStageStarted, "s1", "p1", "tax", 0))

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 {
		t.Errorf("seen = %v, want exactly one filtered event", seen)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := newTestBus()
	defer bus.Stop()

	var mu sync.Mutex
	count := 0
	sub := bus.SubscribeAll(func(e events.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}, events.SubscriptionOptions{Async: false})

	bus.PublishSync(events.NewRoutingSkippedEvent("p1", "x"))
	bus.Unsubscribe(sub)
	bus.PublishSync(events.NewRoutingSkippedEvent("p1", "y"))

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("count = %d, want 1 (second publish should not be delivered)", count)
	}
}

func TestHandlerPanicIsRecoveredAndCountedAsProcessingError(t *testing.T) {
	bus := newTestBus()
	defer bus.Stop()

	bus.SubscribeAll(func(e events.Event) error {
		panic("boom")
	}, events.SubscriptionOptions{Async: false})

	bus.PublishSync(events.NewRoutingSkippedEvent("p1", "x"))

	stats := bus.GetStats()
	if stats.ProcessingErrors == 0 {
		t.Error("expected ProcessingErrors to be incremented after a handler panic")
	}
}

func TestPublishDropsEventWhenBufferFull(t *testing.T) {
	bus := events.NewEventBus(zap.NewNop(), events.EventBusConfig{NumWorkers: 1, BufferSize: 1})
	defer bus.Stop()

	block := make(chan struct{})
	bus.Subscribe(events.EventTypeRoutingSkipped, func(e events.Event) error {
		<-block
		return nil
	}, events.SubscriptionOptions{Async: false})

	// First event occupies the sole worker (blocked on <-block); the next
	// fills the one-slot buffer; further publishes should be dropped.
	bus.Publish(events.NewRoutingSkippedEvent("p1", "1"))
	time.Sleep(10 * time.Millisecond) // let the worker pick up event 1
	bus.Publish(events.NewRoutingSkippedEvent("p1", "2"))
	bus.Publish(events.NewRoutingSkippedEvent("p1", "3"))

	close(block)
	time.Sleep(20 * time.Millisecond)

	stats := bus.GetStats()
	if stats.EventsDropped == 0 {
		t.Error("expected at least one dropped event once the buffer filled")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	bus := newTestBus()
	bus.Stop()
	bus.Stop()
}
