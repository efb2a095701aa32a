package httpapi

import (
	"context"
	"sync"
	"time"

	"pkt.systems/coxswain/internal/logx"
	"pkt.systems/coxswain/schema"
)

// StreamEvent is sent to SSE clients.
type StreamEvent struct {
	Seq          uint64                      `json:"seq"`
	Type         string                      `json:"type"`
	Key          schema.ProcessKey           `json:"key,omitempty"`
	Text         string                      `json:"text,omitempty"`
	ExitCode     *int                        `json:"exit_code,omitempty"`
	AgentError   *schema.AgentError          `json:"agent_error,omitempty"`
	SessionEvent string                      `json:"session_event,omitempty"`
	Session      *schema.SessionSnapshot     `json:"session,omitempty"`
	Tab          *schema.TerminalTabSnapshot `json:"tab,omitempty"`
	ActiveTab    schema.TabID                `json:"active_tab,omitempty"`
	Snapshot     *SnapshotPayload            `json:"snapshot,omitempty"`
	Timestamp    time.Time                   `json:"timestamp"`
}

// SnapshotPayload seeds client state on connect.
type SnapshotPayload struct {
	Sessions      []schema.SessionSnapshot                    `json:"sessions"`
	ActiveSession schema.SessionID                            `json:"active_session"`
	Buffers       map[schema.ProcessKey]schema.BufferSnapshot `json:"buffers"`
	Agents        []schema.AgentSnapshot                      `json:"agents"`
}

// Hub broadcasts events per user.
type Hub struct {
	mu          sync.Mutex
	users       map[schema.UserID]*userHub
	historySize int
}

// NewHub constructs a hub with the given history size.
func NewHub(historySize int) *Hub {
	if historySize <= 0 {
		historySize = 1000
	}
	return &Hub{
		users:       make(map[schema.UserID]*userHub),
		historySize: historySize,
	}
}

// OnData implements core.EventSink.
func (h *Hub) OnData(event schema.DataEvent) {
	log := logx.WithUser(context.Background(), event.UserID).With("key", event.Key)
	log.Trace("hub data event", "bytes", len(event.Text))
	h.publish(event.UserID, StreamEvent{
		Type:      "data",
		Key:       event.Key,
		Text:      event.Text,
		Timestamp: time.Now(),
	})
}

// OnRawData implements core.EventSink.
func (h *Hub) OnRawData(event schema.RawDataEvent) {
	log := logx.WithUser(context.Background(), event.UserID).With("key", event.Key)
	log.Trace("hub raw data event", "bytes", len(event.Text))
	h.publish(event.UserID, StreamEvent{
		Type:      "raw-data",
		Key:       event.Key,
		Text:      event.Text,
		Timestamp: time.Now(),
	})
}

// OnExit implements core.EventSink.
func (h *Hub) OnExit(event schema.ExitEvent) {
	log := logx.WithUser(context.Background(), event.UserID).With("key", event.Key)
	log.Trace("hub exit event", "exit_code", event.ExitCode)
	code := event.ExitCode
	h.publish(event.UserID, StreamEvent{
		Type:      "exit",
		Key:       event.Key,
		ExitCode:  &code,
		Timestamp: time.Now(),
	})
}

// OnAgentError implements core.EventSink.
func (h *Hub) OnAgentError(event schema.AgentErrorEvent) {
	log := logx.WithUser(context.Background(), event.UserID)
	log.Trace("hub agent error event", "type", event.Error.Type)
	agentErr := event.Error
	h.publish(event.UserID, StreamEvent{
		Type:       "agent-error",
		AgentError: &agentErr,
		Timestamp:  time.Now(),
	})
}

// OnSessionEvent implements core.EventSink.
func (h *Hub) OnSessionEvent(event schema.SessionEvent) {
	log := logx.WithUser(context.Background(), event.UserID)
	log.Trace("hub session event", "type", event.Type, "session", event.Session.ID)
	sess := event.Session
	h.publish(event.UserID, StreamEvent{
		Type:         "session",
		SessionEvent: string(event.Type),
		Session:      &sess,
		Tab:          event.Tab,
		ActiveTab:    event.ActiveTab,
		Timestamp:    time.Now(),
	})
}

// Subscribe registers a subscriber for a user.
func (h *Hub) Subscribe(userID schema.UserID) (<-chan StreamEvent, func(), uint64, []StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	uh := h.getOrCreateUserHubLocked(userID)
	ch := make(chan StreamEvent, 256)
	uh.subs[ch] = struct{}{}
	history := append([]StreamEvent(nil), uh.history...)
	seq := uh.seq
	log := logx.WithUser(context.Background(), userID)
	log.Info("hub subscribe", "subs", len(uh.subs), "history", len(history))
	unsub := func() {
		h.mu.Lock()
		delete(uh.subs, ch)
		close(ch)
		remaining := len(uh.subs)
		h.mu.Unlock()
		log.Info("hub unsubscribe", "subs", remaining)
	}
	return ch, unsub, seq, history
}

// Replay returns events after the provided seq.
func (h *Hub) Replay(userID schema.UserID, after uint64) []StreamEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	uh := h.users[userID]
	if uh == nil {
		return nil
	}
	events := make([]StreamEvent, 0, len(uh.history))
	for _, event := range uh.history {
		if event.Seq > after {
			events = append(events, event)
		}
	}
	logx.WithUser(context.Background(), userID).Debug("hub replay", "after", after, "count", len(events))
	return events
}

func (h *Hub) publish(userID schema.UserID, event StreamEvent) {
	h.mu.Lock()
	uh := h.getOrCreateUserHubLocked(userID)
	uh.seq++
	event.Seq = uh.seq
	uh.history = append(uh.history, event)
	if len(uh.history) > h.historySize {
		uh.history = uh.history[len(uh.history)-h.historySize:]
	}
	subs := make([]chan StreamEvent, 0, len(uh.subs))
	for sub := range uh.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	dropped := 0
	for _, sub := range subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		logx.WithUser(context.Background(), userID).Warn("hub event dropped", "type", event.Type, "dropped", dropped)
	}
}

func (h *Hub) getOrCreateUserHubLocked(userID schema.UserID) *userHub {
	uh := h.users[userID]
	if uh == nil {
		uh = &userHub{
			subs: make(map[chan StreamEvent]struct{}),
		}
		h.users[userID] = uh
	}
	return uh
}

type userHub struct {
	seq     uint64
	history []StreamEvent
	subs    map[chan StreamEvent]struct{}
}
