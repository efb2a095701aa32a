package coxswain

import (
	"context"
	"testing"
	"time"

	"pkt.systems/coxswain/core"
	"pkt.systems/coxswain/schema"
)

func TestServerStopClosesService(t *testing.T) {
	service := &trackingService{}
	ctx, cancel := context.WithCancel(context.Background())
	server := &compositeServer{
		service: service,
		ctx:     ctx,
		cancel:  cancel,
		started: true,
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := server.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if service.closed != 1 {
		t.Fatalf("expected Close to be called, got %d", service.closed)
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatalf("expected server context to be canceled")
	}
}

func TestNewRequiresEnabledService(t *testing.T) {
	if _, err := New(ServerConfig{}, ServerDeps{}); err == nil {
		t.Fatalf("expected error when no services are enabled")
	}
}

func TestEventFanoutSkipsNilSinks(t *testing.T) {
	sink := &countingSink{}
	fanout := eventFanout{sinks: []core.EventSink{nil, sink}}
	fanout.OnData(schema.DataEvent{UserID: "alice", Key: "k", Text: "x\n"})
	fanout.OnRawData(schema.RawDataEvent{UserID: "alice", Key: "k", Text: "y"})
	fanout.OnExit(schema.ExitEvent{UserID: "alice", Key: "k"})
	fanout.OnAgentError(schema.AgentErrorEvent{UserID: "alice"})
	fanout.OnSessionEvent(schema.SessionEvent{UserID: "alice"})
	if sink.calls != 5 {
		t.Fatalf("expected 5 fanned-out events, got %d", sink.calls)
	}
}

type trackingService struct {
	core.Service
	closed int
}

func (t *trackingService) Close() error {
	t.closed++
	return nil
}

type countingSink struct {
	calls int
}

func (c *countingSink) OnData(schema.DataEvent)             { c.calls++ }
func (c *countingSink) OnRawData(schema.RawDataEvent)       { c.calls++ }
func (c *countingSink) OnExit(schema.ExitEvent)             { c.calls++ }
func (c *countingSink) OnAgentError(schema.AgentErrorEvent) { c.calls++ }
func (c *countingSink) OnSessionEvent(schema.SessionEvent)  { c.calls++ }
