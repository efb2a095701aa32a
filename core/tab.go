package core

import (
	"fmt"
	"time"

	"pkt.systems/coxswain/schema"
)

// terminalTab tracks one PTY-backed shell within a session. PID 0 with
// state idle means no process yet (or reset awaiting respawn); PID > 0
// means a live process until an exit event is observed.
type terminalTab struct {
	ID        schema.TabID
	Name      schema.TabName
	Shell     string
	Cwd       string
	PID       int
	State     schema.TabState
	ExitCode  *int
	CreatedAt time.Time
}

// closedTab snapshots an identity at close time for LIFO reopen.
// Runtime fields are reset; Index is the tab's position when closed.
type closedTab struct {
	Name     schema.TabName
	Cwd      string
	Shell    string
	Index    int
	ClosedAt time.Time
}

// session is a logical unit of work: one optional agent process plus
// ordered terminal tabs and a bounded closed-tab history.
type session struct {
	ID      schema.SessionID
	Name    string
	Cwd     string
	AgentID schema.AgentID
	Remote  *schema.RemoteConfig

	tabs      []*terminalTab
	activeTab schema.TabID
	closed    []closedTab
	// spawned guards spawn-on-demand: a tab id present here has a
	// spawn in flight or completed, so repeated activations are no-ops.
	spawned map[schema.TabID]struct{}

	agentPID      int
	agentState    schema.TabState
	agentExitCode *int

	history *historyBuffer
	usage   *schema.UsageStats
}

func (s *session) tabByID(id schema.TabID) (*terminalTab, int) {
	for i, t := range s.tabs {
		if t.ID == id {
			return t, i
		}
	}
	return nil, -1
}

// displayName returns the tab's user-assigned name, else "Terminal N"
// by 1-based position.
func (s *session) displayName(t *terminalTab, index int) schema.TabName {
	if t.Name != "" {
		return t.Name
	}
	return schema.TabName(fmt.Sprintf("Terminal %d", index+1))
}

// pushClosed records a closed-tab snapshot, newest first, evicting the
// oldest beyond the cap.
func (s *session) pushClosed(entry closedTab, cap int) {
	if cap <= 0 {
		cap = schema.DefaultClosedTabHistory
	}
	s.closed = append([]closedTab{entry}, s.closed...)
	if len(s.closed) > cap {
		s.closed = s.closed[:cap]
	}
}

// popClosed removes and returns the most recently closed snapshot.
func (s *session) popClosed() (closedTab, bool) {
	if len(s.closed) == 0 {
		return closedTab{}, false
	}
	entry := s.closed[0]
	s.closed = s.closed[1:]
	return entry, true
}

func (t *terminalTab) snapshot(name schema.TabName, active bool) schema.TerminalTabSnapshot {
	var exitCode *int
	if t.ExitCode != nil {
		code := *t.ExitCode
		exitCode = &code
	}
	return schema.TerminalTabSnapshot{
		ID:       t.ID,
		Name:     name,
		Cwd:      t.Cwd,
		Shell:    t.Shell,
		PID:      t.PID,
		State:    t.State,
		ExitCode: exitCode,
		Active:   active,
	}
}

func (s *session) snapshot() schema.SessionSnapshot {
	tabs := make([]schema.TerminalTabSnapshot, 0, len(s.tabs))
	for i, t := range s.tabs {
		tabs = append(tabs, t.snapshot(s.displayName(t, i), t.ID == s.activeTab))
	}
	var agentExit *int
	if s.agentExitCode != nil {
		code := *s.agentExitCode
		agentExit = &code
	}
	var remote *schema.RemoteConfig
	if s.Remote != nil {
		copied := *s.Remote
		remote = &copied
	}
	return schema.SessionSnapshot{
		ID:            s.ID,
		Name:          s.Name,
		Cwd:           s.Cwd,
		AgentID:       s.AgentID,
		Remote:        remote,
		Tabs:          tabs,
		ActiveTab:     s.activeTab,
		ClosedTabs:    len(s.closed),
		AgentPID:      s.agentPID,
		AgentState:    s.agentState,
		AgentExitCode: agentExit,
	}
}

func (s *session) tabSnapshot(t *terminalTab) schema.TerminalTabSnapshot {
	_, idx := s.tabByID(t.ID)
	return t.snapshot(s.displayName(t, idx), t.ID == s.activeTab)
}

func closedSnapshot(entry closedTab) schema.ClosedTabSnapshot {
	return schema.ClosedTabSnapshot{
		Name:     entry.Name,
		Cwd:      entry.Cwd,
		Shell:    entry.Shell,
		Index:    entry.Index,
		ClosedAt: entry.ClosedAt,
	}
}
