package schema

import "time"

// ProcessSnapshot is a read-only view of a registered process.
type ProcessSnapshot struct {
	Key     ProcessKey
	Mode    ProcessMode
	PID     int
	Command string
	Cwd     string
	Started time.Time
}

// TerminalTabSnapshot is a read-only view of a terminal tab for
// transports.
type TerminalTabSnapshot struct {
	ID       TabID
	Name     TabName
	Cwd      string
	Shell    string
	PID      int
	State    TabState
	ExitCode *int
	Active   bool
}

// ClosedTabSnapshot records a closed tab for LIFO reopen. Runtime
// fields are reset; Index is the tab's position at close time.
type ClosedTabSnapshot struct {
	Name     TabName
	Cwd      string
	Shell    string
	Index    int
	ClosedAt time.Time
}

// SessionSnapshot is a read-only view of a session and its tabs.
type SessionSnapshot struct {
	ID            SessionID
	Name          string
	Cwd           string
	AgentID       AgentID
	Remote        *RemoteConfig
	Tabs          []TerminalTabSnapshot
	ActiveTab     TabID
	ClosedTabs    int
	AgentPID      int
	AgentState    TabState
	AgentExitCode *int
}

// BufferSnapshot represents the current scrollback view for a key.
type BufferSnapshot struct {
	Key        ProcessKey
	Lines      []string
	TotalLines int
	AtBottom   bool
}

// AgentSnapshot reports a detected agent provider.
type AgentSnapshot struct {
	ID        AgentID
	Available bool
	Command   string
}
