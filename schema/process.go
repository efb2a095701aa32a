package schema

// ProcessMode selects the spawn strategy and output path for a PTY.
type ProcessMode string

const (
	// ModeTerminal spawns a login+interactive shell whose output is
	// control-sequence filtered and coalesced onto the data path.
	ModeTerminal ProcessMode = "terminal"
	// ModeEmbeddedTerminal spawns the same shell but emits output
	// verbatim on the raw-data path for a front-end emulator.
	ModeEmbeddedTerminal ProcessMode = "embedded-terminal"
	// ModeAgent spawns an external command and argument list directly,
	// without shell wrapping; output follows the data path.
	ModeAgent ProcessMode = "agent"
)

// IsTerminal reports whether the mode spawns a shell-backed terminal.
// Terminal modes never receive remote-execution wrapping.
func (m ProcessMode) IsTerminal() bool {
	return m == ModeTerminal || m == ModeEmbeddedTerminal
}

// TabState is the lifecycle state of a terminal tab.
type TabState string

const (
	// TabIdle means no live process, or a live process awaiting input.
	TabIdle TabState = "idle"
	// TabBusy means the tab's process is producing output.
	TabBusy TabState = "busy"
	// TabExited means the tab's process has exited.
	TabExited TabState = "exited"
)

// ProcessConfig is the spawn input for the registry. Command and Args
// apply to agent mode only; Shell, ShellArgs, and Env apply to the
// terminal modes.
type ProcessConfig struct {
	Key       ProcessKey
	Mode      ProcessMode
	Cwd       string
	Command   string
	Args      []string
	Shell     string
	ShellArgs string
	Env       map[string]string
	Cols      int
	Rows      int
	// Remote wraps agent-mode commands for execution on another host.
	// Terminal modes ignore it unconditionally.
	Remote *RemoteConfig
	// AgentID tags agent-mode processes for error classification.
	AgentID AgentID
}

// RemoteConfig describes optional remote execution for agent processes.
type RemoteConfig struct {
	Enabled    bool
	Target     string
	WorkingDir string
}

// SpawnResult reports the outcome of a spawn attempt. PID is -1 when
// Success is false; Error carries the failure description.
type SpawnResult struct {
	PID     int    `json:"pid"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// AgentInfo describes a detected agent provider binary.
type AgentInfo struct {
	Available bool
	Command   string
	Args      []string
}

// SpawnFailureExitCode marks a tab whose spawn returned an unsuccessful
// result. SpawnPanicExitCode marks a spawn attempt that failed before a
// result could be produced.
const (
	SpawnFailureExitCode = -1
	SpawnPanicExitCode   = 1
)
