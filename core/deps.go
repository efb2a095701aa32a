package core

import (
	"pkt.systems/coxswain/internal/persist"
	"pkt.systems/coxswain/schema"
	"pkt.systems/pslog"
)

// HistoryStore persists prompt history per session. A nil store
// degrades to in-memory history bounded by the service config.
type HistoryStore interface {
	GetEntries(sessionID schema.SessionID) ([]string, error)
	Append(sessionID schema.SessionID, entry string) ([]string, error)
	ListSessionsWithHistory() ([]schema.SessionID, error)
	Remove(sessionID schema.SessionID) error
}

// AgentCatalog resolves agent provider ids to runnable commands. It is
// consulted before every agent spawn; a nil catalog makes every agent
// unavailable.
type AgentCatalog interface {
	GetAgent(id schema.AgentID) (schema.AgentInfo, error)
	List() []schema.AgentSnapshot
}

// ServiceDeps captures optional dependencies for the core service.
// Missing collaborators degrade gracefully; none of them is required
// for the process registry itself.
type ServiceDeps struct {
	History HistoryStore
	Agents  AgentCatalog
	Sink    EventSink
	Store   *persist.Store
	Logger  pslog.Logger
}
