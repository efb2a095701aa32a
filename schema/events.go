package schema

import "time"

// DataEvent carries filtered, coalesced output for the log-style
// display path of terminal and agent processes.
type DataEvent struct {
	UserID UserID
	Key    ProcessKey
	Text   string
}

// RawDataEvent carries verbatim PTY output for embedded-terminal
// processes. Chunks are forwarded exactly as read, including bare
// carriage returns and partial escape sequences.
type RawDataEvent struct {
	UserID UserID
	Key    ProcessKey
	Text   string
}

// ExitEvent reports process termination for a registry key.
type ExitEvent struct {
	UserID   UserID
	Key      ProcessKey
	ExitCode int
}

// AgentErrorType classifies agent process failures.
type AgentErrorType string

const (
	// AgentErrAuthExpired indicates expired or missing credentials.
	AgentErrAuthExpired AgentErrorType = "auth_expired"
	// AgentErrRateLimited indicates the provider rejected the request
	// due to rate or quota limits.
	AgentErrRateLimited AgentErrorType = "rate_limited"
	// AgentErrNetwork indicates a connectivity failure.
	AgentErrNetwork AgentErrorType = "network_error"
	// AgentErrUnavailable indicates the agent binary was not found.
	AgentErrUnavailable AgentErrorType = "agent_unavailable"
	// AgentErrSpawnFailed indicates the agent process failed to start.
	AgentErrSpawnFailed AgentErrorType = "spawn_failed"
	// AgentErrCrashed indicates the agent process exited abnormally.
	AgentErrCrashed AgentErrorType = "agent_crashed"
)

// Recoverable reports whether a retry can reasonably succeed without
// operator intervention.
func (t AgentErrorType) Recoverable() bool {
	switch t {
	case AgentErrRateLimited, AgentErrNetwork, AgentErrSpawnFailed, AgentErrCrashed:
		return true
	default:
		return false
	}
}

// AgentError is the typed payload for agent failure events. It is
// serialized as-is onto client streams.
type AgentError struct {
	Type        AgentErrorType `json:"type"`
	Message     string         `json:"message"`
	Recoverable bool           `json:"recoverable"`
	AgentID     AgentID        `json:"agentId"`
	SessionID   SessionID      `json:"sessionId,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// AgentErrorEvent wraps an AgentError with its owning user for fanout.
type AgentErrorEvent struct {
	UserID UserID
	Error  AgentError
}

// SessionEventType describes session or tab lifecycle changes.
type SessionEventType string

const (
	// SessionEventCreated indicates a session or tab was created.
	SessionEventCreated SessionEventType = "created"
	// SessionEventActivated indicates a tab became active.
	SessionEventActivated SessionEventType = "activated"
	// SessionEventClosed indicates a session or tab was closed.
	SessionEventClosed SessionEventType = "closed"
	// SessionEventReopened indicates a closed tab was restored.
	SessionEventReopened SessionEventType = "reopened"
	// SessionEventUpdated indicates a rename or state change.
	SessionEventUpdated SessionEventType = "updated"
	// SessionEventExited indicates a tab process exited.
	SessionEventExited SessionEventType = "exited"
)

// SessionEvent represents a change to a session or its tab list.
type SessionEvent struct {
	UserID    UserID
	Type      SessionEventType
	Session   SessionSnapshot
	Tab       *TerminalTabSnapshot
	ActiveTab TabID
}
