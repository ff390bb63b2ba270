package eventbus

import (
	"sync"
	"testing"
	"time"
)

func TestBus_SubscribeAndPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	received := make(chan Event, 10)
	bus.Subscribe(TypeRunCompleted, received)

	bus.Publish(Event{
		Type:      TypeRunCompleted,
		FeedID:    "feed-1",
		RunID:     "run-1",
		Timestamp: time.Now(),
		Data:      map[string]int{"indexed": 50},
	})

	select {
	case evt := <-received:
		if evt.Type != TypeRunCompleted {
			t.Errorf("expected %s, got %s", TypeRunCompleted, evt.Type)
		}
		if evt.RunID != "run-1" {
			t.Errorf("expected run-1, got %s", evt.RunID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch1 := make(chan Event, 10)
	ch2 := make(chan Event, 10)
	bus.Subscribe(TypeRunStarted, ch1)
	bus.Subscribe(TypeRunStarted, ch2)

	bus.Publish(Event{Type: TypeRunStarted, RunID: "run-1"})

	for _, ch := range []chan Event{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBus_TypeFiltering(t *testing.T) {
	bus := New()
	defer bus.Close()

	startedCh := make(chan Event, 10)
	failedCh := make(chan Event, 10)
	bus.Subscribe(TypeRunStarted, startedCh)
	bus.Subscribe(TypeRunFailed, failedCh)

	bus.Publish(Event{Type: TypeRunStarted, RunID: "run-1"})

	select {
	case <-startedCh:
	case <-time.After(time.Second):
		t.Fatal("started subscriber did not receive event")
	}

	select {
	case <-failedCh:
		t.Fatal("failed subscriber should NOT receive run.started event")
	case <-time.After(50 * time.Millisecond):
		// good
	}
}

func TestBus_PublishBatch(t *testing.T) {
	bus := New()
	defer bus.Close()

	received := make(chan Event, 100)
	bus.Subscribe(TypeRunCompleted, received)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(Event{Type: TypeRunCompleted})
		}()
	}
	wg.Wait()

	time.Sleep(100 * time.Millisecond)
	if len(received) != 50 {
		t.Errorf("expected 50 events, got %d", len(received))
	}
}
