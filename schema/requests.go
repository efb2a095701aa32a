package schema

// Session lifecycle.

// CreateSessionRequest describes a request to create a session.
type CreateSessionRequest struct {
	UserID  UserID
	Cwd     string
	AgentID AgentID
	Remote  *RemoteConfig
	Name    string
}

// CreateSessionResponse reports the created session.
type CreateSessionResponse struct {
	Session SessionSnapshot
}

// ListSessionsRequest describes a request to list sessions.
type ListSessionsRequest struct {
	UserID UserID
}

// ListSessionsResponse reports sessions and the active session id.
type ListSessionsResponse struct {
	Sessions      []SessionSnapshot
	ActiveSession SessionID
}

// CloseSessionRequest describes a request to close a session.
type CloseSessionRequest struct {
	UserID    UserID
	SessionID SessionID
}

// CloseSessionResponse reports the final session snapshot.
type CloseSessionResponse struct {
	Session SessionSnapshot
}

// Terminal tab lifecycle.

// CreateTerminalTabRequest describes a request to create a terminal tab.
type CreateTerminalTabRequest struct {
	UserID    UserID
	SessionID SessionID
	Cwd       string
	Name      TabName
}

// CreateTerminalTabResponse reports the created tab and session state.
type CreateTerminalTabResponse struct {
	Session SessionSnapshot
	Tab     TerminalTabSnapshot
}

// ActivateTerminalTabRequest describes a request to activate a tab,
// spawning its PTY on first activation.
type ActivateTerminalTabRequest struct {
	UserID    UserID
	SessionID SessionID
	TabID     TabID
	Cols      int
	Rows      int
}

// ActivateTerminalTabResponse reports the activated tab, whether a
// spawn was attempted, and its result.
type ActivateTerminalTabResponse struct {
	Session SessionSnapshot
	Tab     TerminalTabSnapshot
	Spawned bool
	Spawn   SpawnResult
}

// RetryTerminalTabRequest describes a request to respawn an exited tab.
type RetryTerminalTabRequest struct {
	UserID    UserID
	SessionID SessionID
	TabID     TabID
	Cols      int
	Rows      int
}

// RetryTerminalTabResponse reports the tab after the retry attempt.
type RetryTerminalTabResponse struct {
	Session SessionSnapshot
	Tab     TerminalTabSnapshot
	Spawn   SpawnResult
}

// CloseTerminalTabRequest describes a request to close a tab.
type CloseTerminalTabRequest struct {
	UserID    UserID
	SessionID SessionID
	TabID     TabID
}

// CloseTerminalTabResponse reports the closed-tab snapshot pushed onto
// the session's reopen history.
type CloseTerminalTabResponse struct {
	Session SessionSnapshot
	Closed  ClosedTabSnapshot
}

// CloseOtherTabsRequest describes a request to close all tabs except one.
type CloseOtherTabsRequest struct {
	UserID    UserID
	SessionID SessionID
	TabID     TabID
}

// CloseOtherTabsResponse reports the session after the bulk close.
type CloseOtherTabsResponse struct {
	Session SessionSnapshot
}

// CloseTabsToRightRequest describes a request to close all tabs after one.
type CloseTabsToRightRequest struct {
	UserID    UserID
	SessionID SessionID
	TabID     TabID
}

// CloseTabsToRightResponse reports the session after the bulk close.
type CloseTabsToRightResponse struct {
	Session SessionSnapshot
}

// ReopenTerminalTabRequest describes a request to restore the most
// recently closed tab.
type ReopenTerminalTabRequest struct {
	UserID    UserID
	SessionID SessionID
}

// ReopenTerminalTabResponse reports the restored tab. Reopened is
// false when the history is empty, in which case the session is
// returned unchanged.
type ReopenTerminalTabResponse struct {
	Session  SessionSnapshot
	Tab      *TerminalTabSnapshot
	Reopened bool
}

// SetTabNameRequest describes a request to rename a tab.
type SetTabNameRequest struct {
	UserID    UserID
	SessionID SessionID
	TabID     TabID
	Name      TabName
}

// SetTabNameResponse reports the renamed tab snapshot.
type SetTabNameResponse struct {
	Tab TerminalTabSnapshot
}

// Process registry.

// SpawnRequest describes a request to spawn a process under a key.
type SpawnRequest struct {
	UserID UserID
	Config ProcessConfig
}

// SpawnResponse reports the spawn result.
type SpawnResponse struct {
	Result SpawnResult
}

// SpawnTerminalTabRequest describes a terminal spawn. It carries no
// remote-execution fields; terminal PTYs always run locally.
type SpawnTerminalTabRequest struct {
	UserID    UserID
	Key       ProcessKey
	Cwd       string
	Shell     string
	ShellArgs string
	Env       map[string]string
	Cols      int
	Rows      int
}

// SpawnTerminalTabResponse reports the spawn result.
type SpawnTerminalTabResponse struct {
	Result SpawnResult
}

// StartAgentRequest describes a request to spawn a session's agent
// process under the bare session id key.
type StartAgentRequest struct {
	UserID    UserID
	SessionID SessionID
	Cols      int
	Rows      int
}

// StartAgentResponse reports the spawn result.
type StartAgentResponse struct {
	Result SpawnResult
}

// WriteProcessRequest describes input destined for a process.
type WriteProcessRequest struct {
	UserID UserID
	Key    ProcessKey
	Data   string
}

// WriteProcessResponse reports whether a live process accepted the write.
type WriteProcessResponse struct {
	OK bool
}

// ResizeProcessRequest describes a PTY window-size change.
type ResizeProcessRequest struct {
	UserID UserID
	Key    ProcessKey
	Cols   int
	Rows   int
}

// ResizeProcessResponse reports whether the resize was applied.
type ResizeProcessResponse struct {
	OK bool
}

// InterruptProcessRequest describes an interrupt (ETX) for a process.
type InterruptProcessRequest struct {
	UserID UserID
	Key    ProcessKey
}

// InterruptProcessResponse reports whether a live process was signaled.
type InterruptProcessResponse struct {
	OK bool
}

// KillProcessRequest describes a request to terminate a process.
type KillProcessRequest struct {
	UserID UserID
	Key    ProcessKey
}

// KillProcessResponse reports whether a live entry was found and killed.
type KillProcessResponse struct {
	OK bool
}

// KillAllProcessesRequest describes a request to kill every process
// registered for a user.
type KillAllProcessesRequest struct {
	UserID UserID
}

// KillAllProcessesResponse reports how many processes were killed.
type KillAllProcessesResponse struct {
	Killed int
}

// GetProcessRequest describes a registry lookup.
type GetProcessRequest struct {
	UserID UserID
	Key    ProcessKey
}

// GetProcessResponse reports the process snapshot when found.
type GetProcessResponse struct {
	Process ProcessSnapshot
	Found   bool
}

// ListProcessesRequest describes a request to list live processes.
type ListProcessesRequest struct {
	UserID UserID
}

// ListProcessesResponse reports live process snapshots.
type ListProcessesResponse struct {
	Processes []ProcessSnapshot
}

// Buffer view.

// GetBufferRequest describes a request to fetch scrollback lines.
type GetBufferRequest struct {
	UserID UserID
	Key    ProcessKey
	Limit  int
}

// GetBufferResponse reports the buffer snapshot.
type GetBufferResponse struct {
	Buffer BufferSnapshot
}

// Prompt history.

// GetHistoryRequest describes a request to fetch prompt history.
type GetHistoryRequest struct {
	UserID    UserID
	SessionID SessionID
}

// GetHistoryResponse reports the prompt history.
type GetHistoryResponse struct {
	Entries []string
}

// AppendHistoryRequest describes a request to append a history entry.
type AppendHistoryRequest struct {
	UserID    UserID
	SessionID SessionID
	Entry     string
}

// AppendHistoryResponse reports the updated history.
type AppendHistoryResponse struct {
	Entries []string
}

// Usage.

// RecordUsageRequest describes a usage payload to aggregate and store.
type RecordUsageRequest struct {
	UserID    UserID
	SessionID SessionID
	Payload   []byte
}

// RecordUsageResponse reports the stored aggregate.
type RecordUsageResponse struct {
	Usage UsageStats
}

// GetSessionUsageRequest describes a request for a session's usage.
type GetSessionUsageRequest struct {
	UserID    UserID
	SessionID SessionID
}

// GetSessionUsageResponse reports the latest aggregate when found.
type GetSessionUsageResponse struct {
	Usage UsageStats
	Found bool
}

// Agents.

// ListAgentsRequest describes a request to list detected agents.
type ListAgentsRequest struct {
	UserID UserID
}

// ListAgentsResponse reports agent availability.
type ListAgentsResponse struct {
	Agents []AgentSnapshot
}
