package core

import "pkt.systems/coxswain/schema"

// EventSink receives process output and lifecycle events from the core
// service. Event names and argument order are the wire contract with
// the frontends; see the schema event types.
type EventSink interface {
	OnData(event schema.DataEvent)
	OnRawData(event schema.RawDataEvent)
	OnExit(event schema.ExitEvent)
	OnAgentError(event schema.AgentErrorEvent)
	OnSessionEvent(event schema.SessionEvent)
}
