package eventbus

import (
	"testing"
	"time"

	"pkt.systems/coxswain/schema"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("alice")
	defer cancel()

	event := schema.DataEvent{UserID: "alice", Key: "sess-terminal-tab", Text: "hi"}
	bus.OnData(event)

	select {
	case got := <-ch:
		if got.Type != EventData {
			t.Fatalf("expected data event, got %v", got.Type)
		}
		if got.Data.UserID != event.UserID || got.Data.Key != event.Key {
			t.Fatalf("unexpected payload: %+v", got.Data)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for event")
	}
}

func TestPublishRoutesByUser(t *testing.T) {
	bus := New(nil)
	aliceCh, cancelAlice := bus.Subscribe("alice")
	defer cancelAlice()
	_, cancelBob := bus.Subscribe("bob")
	defer cancelBob()

	bus.OnExit(schema.ExitEvent{UserID: "bob", Key: "k", ExitCode: 0})

	select {
	case got := <-aliceCh:
		t.Fatalf("alice received bob's event: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("alice")
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
}

func TestPublishDoesNotBlockWhenFull(t *testing.T) {
	bus := New(nil)
	bus.depth = 1
	_, cancel := bus.Subscribe("alice")
	defer cancel()

	var sendCh chan Event
	bus.mu.Lock()
	for ch := range bus.subs["alice"] {
		sendCh = ch
		break
	}
	bus.mu.Unlock()
	if sendCh == nil {
		t.Fatalf("expected subscriber channel")
	}
	sendCh <- Event{Type: EventData}
	done := make(chan struct{})
	go func() {
		bus.OnData(schema.DataEvent{UserID: "alice"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("publish blocked on full channel")
	}
}
