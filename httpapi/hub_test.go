package httpapi

import (
	"testing"

	"pkt.systems/coxswain/schema"
)

func TestHubPublishAndSubscribe(t *testing.T) {
	hub := NewHub(10)
	hub.OnData(schema.DataEvent{UserID: "alice", Key: "k1", Text: "hello\n"})

	ch, unsub, seq, history := hub.Subscribe("alice")
	defer unsub()
	if seq != 1 {
		t.Fatalf("expected seq 1, got %d", seq)
	}
	if len(history) != 1 || history[0].Type != "data" || history[0].Text != "hello\n" {
		t.Fatalf("unexpected history: %+v", history)
	}

	hub.OnExit(schema.ExitEvent{UserID: "alice", Key: "k1", ExitCode: 0})
	event := <-ch
	if event.Type != "exit" || event.Seq != 2 {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.ExitCode == nil || *event.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %+v", event.ExitCode)
	}
}

func TestHubReplayAfterSeq(t *testing.T) {
	hub := NewHub(10)
	hub.OnData(schema.DataEvent{UserID: "alice", Key: "k1", Text: "one\n"})
	hub.OnData(schema.DataEvent{UserID: "alice", Key: "k1", Text: "two\n"})
	hub.OnData(schema.DataEvent{UserID: "alice", Key: "k1", Text: "three\n"})

	replay := hub.Replay("alice", 1)
	if len(replay) != 2 {
		t.Fatalf("expected 2 replayed events, got %d", len(replay))
	}
	if replay[0].Text != "two\n" || replay[1].Text != "three\n" {
		t.Fatalf("unexpected replay: %+v", replay)
	}
	if events := hub.Replay("bob", 0); len(events) != 0 {
		t.Fatalf("expected no events for other user, got %d", len(events))
	}
}

func TestHubHistoryBounded(t *testing.T) {
	hub := NewHub(3)
	for i := 0; i < 5; i++ {
		hub.OnData(schema.DataEvent{UserID: "alice", Key: "k1", Text: "x\n"})
	}
	_, unsub, seq, history := hub.Subscribe("alice")
	defer unsub()
	if seq != 5 {
		t.Fatalf("expected seq 5, got %d", seq)
	}
	if len(history) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(history))
	}
	if history[0].Seq != 3 {
		t.Fatalf("expected oldest retained seq 3, got %d", history[0].Seq)
	}
}

func TestHubSessionEventCarriesSnapshot(t *testing.T) {
	hub := NewHub(10)
	hub.OnSessionEvent(schema.SessionEvent{
		UserID:    "alice",
		Type:      schema.SessionEventCreated,
		Session:   schema.SessionSnapshot{ID: "s1", Name: "work"},
		ActiveTab: "t1",
	})
	_, unsub, _, history := hub.Subscribe("alice")
	defer unsub()
	if len(history) != 1 {
		t.Fatalf("expected one event, got %d", len(history))
	}
	event := history[0]
	if event.Type != "session" || event.SessionEvent != "created" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Session == nil || event.Session.ID != "s1" {
		t.Fatalf("expected session snapshot, got %+v", event.Session)
	}
	if event.ActiveTab != "t1" {
		t.Fatalf("unexpected active tab: %q", event.ActiveTab)
	}
}
