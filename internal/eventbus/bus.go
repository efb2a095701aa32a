package eventbus

import (
	"context"
	"sync"

	"pkt.systems/coxswain/schema"
	"pkt.systems/pslog"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventData carries filtered output for a key.
	EventData EventType = "data"
	// EventRawData carries verbatim embedded-terminal output.
	EventRawData EventType = "raw-data"
	// EventExit carries process termination.
	EventExit EventType = "exit"
	// EventAgentError carries a classified agent failure.
	EventAgentError EventType = "agent-error"
	// EventSession carries session and tab lifecycle updates.
	EventSession EventType = "session"
)

// Event represents a frontend-facing event emitted by the core service.
type Event struct {
	Type       EventType
	Data       schema.DataEvent
	RawData    schema.RawDataEvent
	Exit       schema.ExitEvent
	AgentError schema.AgentErrorEvent
	Session    schema.SessionEvent
}

// Bus fanouts events to per-user subscribers.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.UserID]map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.UserID]map[chan Event]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for the user and returns a channel + cancel.
func (b *Bus) Subscribe(userID schema.UserID) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	userSubs := b.subs[userID]
	if userSubs == nil {
		userSubs = make(map[chan Event]struct{})
		b.subs[userID] = userSubs
	}
	userSubs[ch] = struct{}{}
	count := len(userSubs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.With("user", userID).Debug("eventbus subscribe", "subs", count)
	}
	return ch, func() {
		b.mu.Lock()
		if subs := b.subs[userID]; subs != nil {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(b.subs, userID)
			}
		}
		b.mu.Unlock()
		close(ch)
		if b.log != nil {
			b.log.With("user", userID).Debug("eventbus unsubscribe")
		}
	}
}

// OnData publishes a filtered-output event.
func (b *Bus) OnData(event schema.DataEvent) {
	b.publish(event.UserID, Event{Type: EventData, Data: event})
}

// OnRawData publishes a verbatim-output event.
func (b *Bus) OnRawData(event schema.RawDataEvent) {
	b.publish(event.UserID, Event{Type: EventRawData, RawData: event})
}

// OnExit publishes a process exit event.
func (b *Bus) OnExit(event schema.ExitEvent) {
	b.publish(event.UserID, Event{Type: EventExit, Exit: event})
}

// OnAgentError publishes a classified agent failure.
func (b *Bus) OnAgentError(event schema.AgentErrorEvent) {
	b.publish(event.UserID, Event{Type: EventAgentError, AgentError: event})
}

// OnSessionEvent publishes a session or tab lifecycle event.
func (b *Bus) OnSessionEvent(event schema.SessionEvent) {
	b.publish(event.UserID, Event{Type: EventSession, Session: event})
}

func (b *Bus) publish(userID schema.UserID, event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	userSubs := b.subs[userID]
	subs := make([]chan Event, 0, len(userSubs))
	for sub := range userSubs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()
	if len(subs) == 0 {
		return
	}
	dropped := 0
	for _, sub := range subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 && b.log != nil {
		b.log.With("user", userID).Trace("eventbus dropped", "count", dropped)
	}
}
