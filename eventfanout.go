package coxswain

import (
	"pkt.systems/coxswain/core"
	"pkt.systems/coxswain/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnData(event schema.DataEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnData(event)
	}
}

func (f eventFanout) OnRawData(event schema.RawDataEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnRawData(event)
	}
}

func (f eventFanout) OnExit(event schema.ExitEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnExit(event)
	}
}

func (f eventFanout) OnAgentError(event schema.AgentErrorEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnAgentError(event)
	}
}

func (f eventFanout) OnSessionEvent(event schema.SessionEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnSessionEvent(event)
	}
}
