package schema

// UserID identifies a user in the system.
type UserID string

// SessionID identifies a logical work session (one agent conversation
// or one terminal workspace).
type SessionID string

// TabID identifies a terminal tab within a session.
type TabID string

// TabName is the user-facing name of a terminal tab.
type TabName string

// AgentID identifies an agent provider (e.g. "claude", "codex").
type AgentID string

// ProcessKey addresses a live PTY process in the registry. Terminal
// tabs use the composite form built by ComposeTerminalKey; agent
// processes use the bare session id.
type ProcessKey string
