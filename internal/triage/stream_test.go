package triage

import (
	"sync"
	"testing"
	"time"
)

func TestStream_OrderedDelivery(t *testing.T) {
	t.Parallel()

	s := NewStream(time.Minute, nil)
	t.Cleanup(s.Close)

	s.Open("run-1")
	events, cancel, ok := s.Subscribe("run-1")
	if !ok {
		t.Fatal("subscribe failed")
	}
	t.Cleanup(cancel)

	for i := 0; i < 5; i++ {
		s.Publish(Event{Type: EventToolUpdate, RunID: "run-1", Data: map[string]any{"seq": i}})
	}

	if ev := <-events; ev.Type != EventConnected {
		t.Fatalf("first event = %q, want connected", ev.Type)
	}
	for i := 0; i < 5; i++ {
		ev := <-events
		if ev.Data["seq"] != i {
			t.Errorf("event %d carried seq %v, out of order", i, ev.Data["seq"])
		}
	}
}

func TestStream_LateSubscriberNoReplay(t *testing.T) {
	t.Parallel()

	s := NewStream(time.Minute, nil)
	t.Cleanup(s.Close)

	s.Open("run-1")
	s.Publish(Event{Type: EventPlanBuilt, RunID: "run-1"})

	events, cancel, ok := s.Subscribe("run-1")
	if !ok {
		t.Fatal("subscribe failed")
	}
	t.Cleanup(cancel)

	<-events // connected
	s.Publish(Event{Type: EventToolUpdate, RunID: "run-1"})
	if ev := <-events; ev.Type != EventToolUpdate {
		t.Errorf("got %q, want only events after subscription", ev.Type)
	}
}

func TestStream_CompleteClosesSubscribers(t *testing.T) {
	t.Parallel()

	s := NewStream(time.Minute, nil)
	t.Cleanup(s.Close)

	s.Open("run-1")
	events, cancel, ok := s.Subscribe("run-1")
	if !ok {
		t.Fatal("subscribe failed")
	}
	t.Cleanup(cancel)

	s.Publish(Event{Type: EventDecisionFinalized, RunID: "run-1"})
	s.Complete("run-1")

	var seen []string
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, open := <-events:
			if !open {
				want := []string{EventConnected, EventDecisionFinalized, EventCompleted}
				if len(seen) != len(want) {
					t.Fatalf("events = %v, want %v", seen, want)
				}
				for i := range want {
					if seen[i] != want[i] {
						t.Fatalf("events = %v, want %v", seen, want)
					}
				}
				// The run is gone: new subscriptions fail.
				if _, _, ok := s.Subscribe("run-1"); ok {
					t.Error("subscribe succeeded on a completed run")
				}
				return
			}
			seen = append(seen, ev.Type)
		case <-deadline:
			t.Fatalf("channel never closed, events so far %v", seen)
		}
	}
}

func TestStream_SlowSubscriberDropsNotBlocks(t *testing.T) {
	t.Parallel()

	dropped := 0
	s := NewStream(time.Minute, func(string) { dropped++ })
	t.Cleanup(s.Close)

	s.Open("run-1")
	_, cancel, ok := s.Subscribe("run-1")
	if !ok {
		t.Fatal("subscribe failed")
	}
	t.Cleanup(cancel)

	// Nobody drains the channel; publishing far past the buffer must not
	// block and must count drops.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			s.Publish(Event{Type: EventToolUpdate, RunID: "run-1", Data: map[string]any{"i": i}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
	if dropped == 0 {
		t.Error("expected dropped events to be counted")
	}
}

func TestStream_HeartbeatOnIdleRun(t *testing.T) {
	t.Parallel()

	s := NewStream(20*time.Millisecond, nil)
	t.Cleanup(s.Close)

	s.Open("run-1")
	events, cancel, ok := s.Subscribe("run-1")
	if !ok {
		t.Fatal("subscribe failed")
	}
	t.Cleanup(cancel)

	<-events // connected
	select {
	case ev := <-events:
		if ev.Type != EventHeartbeat {
			t.Errorf("got %q, want heartbeat", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat on idle run")
	}
}

func TestStream_SubscribeDuringTeardown(t *testing.T) {
	t.Parallel()

	// Subscribe racing Close must never panic: the connected send happens
	// while the subscriber is registered under the stream lock, so teardown
	// cannot close the channel mid-send.
	for i := 0; i < 200; i++ {
		s := NewStream(time.Minute, nil)
		s.Open("run-1")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			events, cancel, ok := s.Subscribe("run-1")
			if !ok {
				return
			}
			defer cancel()
			for range events {
			}
		}()
		go func() {
			defer wg.Done()
			s.Close()
		}()
		wg.Wait()
	}
}
