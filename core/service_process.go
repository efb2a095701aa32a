package core

import (
	"context"
	"sort"
	"strings"
	"time"

	"pkt.systems/coxswain/internal/logx"
	"pkt.systems/coxswain/schema"
	"pkt.systems/pslog"
)

func (s *service) Spawn(ctx context.Context, req schema.SpawnRequest) (schema.SpawnResponse, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.SpawnResponse{}, err
	}
	log := logx.WithUser(ctx, userID)
	return schema.SpawnResponse{Result: s.spawnProcess(log, userID, req.Config)}, nil
}

// SpawnTerminalTab is the restricted terminal entry point: its request
// carries no remote-execution fields, so these PTYs always run locally.
func (s *service) SpawnTerminalTab(ctx context.Context, req schema.SpawnTerminalTabRequest) (schema.SpawnTerminalTabResponse, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.SpawnTerminalTabResponse{}, err
	}
	log := logx.WithUser(ctx, userID)
	result := s.spawnProcess(log, userID, schema.ProcessConfig{
		Key:       req.Key,
		Mode:      schema.ModeTerminal,
		Cwd:       req.Cwd,
		Shell:     req.Shell,
		ShellArgs: req.ShellArgs,
		Env:       req.Env,
		Cols:      req.Cols,
		Rows:      req.Rows,
	})
	return schema.SpawnTerminalTabResponse{Result: result}, nil
}

// StartAgent spawns the session's agent process under the bare session
// id key. The catalog is consulted first; an unavailable agent yields a
// typed event and a failed result, never an error.
func (s *service) StartAgent(ctx context.Context, req schema.StartAgentRequest) (schema.StartAgentResponse, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.StartAgentResponse{}, err
	}
	if req.SessionID == "" {
		return schema.StartAgentResponse{}, schema.ErrInvalidSession
	}
	log := logx.WithUserSession(ctx, userID, req.SessionID)

	s.mu.Lock()
	state := s.getOrCreateUserStateLocked(userID)
	sess := state.sessions[req.SessionID]
	if sess == nil {
		s.mu.Unlock()
		return schema.StartAgentResponse{}, schema.ErrSessionNotFound
	}
	agentID := sess.AgentID
	cwd := sess.Cwd
	var remote *schema.RemoteConfig
	if sess.Remote != nil {
		copied := *sess.Remote
		remote = &copied
	}
	s.mu.Unlock()

	key := schema.ProcessKey(req.SessionID)
	if s.agents == nil {
		log.Warn("agent catalog unavailable", "agent", agentID)
		s.emitAgentUnavailable(userID, req.SessionID, agentID, "agent catalog unavailable")
		return schema.StartAgentResponse{Result: schema.SpawnResult{PID: -1, Error: "agent catalog unavailable"}}, nil
	}
	info, err := s.agents.GetAgent(agentID)
	if err != nil || !info.Available {
		message := "agent binary not found"
		if err != nil {
			message = err.Error()
		}
		log.Warn("agent unavailable", "agent", agentID, "err", message)
		s.emitAgentUnavailable(userID, req.SessionID, agentID, message)
		return schema.StartAgentResponse{Result: schema.SpawnResult{PID: -1, Error: message}}, nil
	}

	s.appendBufferLines(userID, key, buildAgentBanner(time.Now(), agentID, info.Command, info.Args, cwd, remote)...)
	result := s.spawnProcess(log, userID, schema.ProcessConfig{
		Key:     key,
		Mode:    schema.ModeAgent,
		Cwd:     cwd,
		Command: info.Command,
		Args:    info.Args,
		Cols:    req.Cols,
		Rows:    req.Rows,
		Remote:  remote,
		AgentID: agentID,
	})

	s.mu.Lock()
	var snapshot *schema.SessionSnapshot
	if sess := state.sessions[req.SessionID]; sess != nil {
		if result.Success {
			sess.agentPID = result.PID
			sess.agentState = schema.TabIdle
			sess.agentExitCode = nil
		} else {
			code := schema.SpawnFailureExitCode
			sess.agentPID = 0
			sess.agentState = schema.TabExited
			sess.agentExitCode = &code
		}
		snap := sess.snapshot()
		snapshot = &snap
	}
	s.mu.Unlock()

	if !result.Success {
		s.emitAgentError(userID, schema.AgentError{
			Type:        schema.AgentErrSpawnFailed,
			Message:     result.Error,
			Recoverable: schema.AgentErrSpawnFailed.Recoverable(),
			AgentID:     agentID,
			SessionID:   req.SessionID,
			Timestamp:   time.Now(),
		})
	}
	if snapshot != nil {
		s.emitSessionEvent(schema.SessionEvent{
			UserID:  userID,
			Type:    schema.SessionEventUpdated,
			Session: *snapshot,
		})
	}
	return schema.StartAgentResponse{Result: result}, nil
}

func (s *service) emitAgentUnavailable(userID schema.UserID, sessionID schema.SessionID, agentID schema.AgentID, message string) {
	s.emitAgentError(userID, schema.AgentError{
		Type:        schema.AgentErrUnavailable,
		Message:     message,
		Recoverable: schema.AgentErrUnavailable.Recoverable(),
		AgentID:     agentID,
		SessionID:   sessionID,
		Timestamp:   time.Now(),
	})
}

func (s *service) emitAgentError(userID schema.UserID, agentErr schema.AgentError) {
	if s.sink == nil {
		return
	}
	s.sink.OnAgentError(schema.AgentErrorEvent{UserID: userID, Error: agentErr})
}

// WriteProcess forwards input to a live process. Unknown keys return
// {OK:false}; a write that ends with a carriage return or newline on an
// agent key is also recorded as a prompt-history entry.
func (s *service) WriteProcess(ctx context.Context, req schema.WriteProcessRequest) (schema.WriteProcessResponse, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.WriteProcessResponse{}, err
	}
	log := logx.WithKey(logx.WithUser(ctx, userID), req.Key)

	s.mu.Lock()
	state := s.users[userID]
	var mp *managedProcess
	if state != nil {
		mp = state.procs[req.Key]
	}
	s.mu.Unlock()
	if mp == nil {
		return schema.WriteProcessResponse{}, nil
	}

	if _, err := mp.proc.Write([]byte(req.Data)); err != nil {
		log.Warn("process write failed", "err", err)
		return schema.WriteProcessResponse{}, nil
	}
	if mp.mode == schema.ModeAgent {
		s.recordPrompt(log, userID, schema.SessionID(req.Key), req.Data)
	}
	return schema.WriteProcessResponse{OK: true}, nil
}

func (s *service) recordPrompt(log pslog.Logger, userID schema.UserID, sessionID schema.SessionID, data string) {
	if !strings.HasSuffix(data, "\r") && !strings.HasSuffix(data, "\n") {
		return
	}
	entry := strings.TrimSpace(strings.TrimRight(data, "\r\n"))
	if entry == "" {
		return
	}
	if s.history != nil {
		if _, err := s.history.Append(sessionID, entry); err != nil {
			log.Warn("prompt history append failed", "err", err)
		}
		return
	}
	s.mu.Lock()
	if state := s.users[userID]; state != nil {
		if sess := state.sessions[sessionID]; sess != nil {
			sess.history.Append(entry)
		}
	}
	s.mu.Unlock()
}

// ResizeProcess applies a PTY window-size change. An OS-level failure
// is logged and reported as {OK:false}; the process stays registered.
func (s *service) ResizeProcess(ctx context.Context, req schema.ResizeProcessRequest) (schema.ResizeProcessResponse, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.ResizeProcessResponse{}, err
	}
	log := logx.WithKey(logx.WithUser(ctx, userID), req.Key)

	s.mu.Lock()
	state := s.users[userID]
	var mp *managedProcess
	if state != nil {
		mp = state.procs[req.Key]
	}
	s.mu.Unlock()
	if mp == nil {
		return schema.ResizeProcessResponse{}, nil
	}
	if err := mp.proc.Resize(req.Cols, req.Rows); err != nil {
		log.Warn("process resize failed", "cols", req.Cols, "rows", req.Rows, "err", err)
		return schema.ResizeProcessResponse{}, nil
	}
	return schema.ResizeProcessResponse{OK: true}, nil
}

// InterruptProcess sends ETX through the write path, as if the user
// pressed Ctrl-C.
func (s *service) InterruptProcess(ctx context.Context, req schema.InterruptProcessRequest) (schema.InterruptProcessResponse, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.InterruptProcessResponse{}, err
	}
	log := logx.WithKey(logx.WithUser(ctx, userID), req.Key)

	s.mu.Lock()
	state := s.users[userID]
	var mp *managedProcess
	if state != nil {
		mp = state.procs[req.Key]
	}
	s.mu.Unlock()
	if mp == nil {
		return schema.InterruptProcessResponse{}, nil
	}
	if _, err := mp.proc.Write([]byte{0x03}); err != nil {
		log.Warn("process interrupt failed", "err", err)
		return schema.InterruptProcessResponse{}, nil
	}
	return schema.InterruptProcessResponse{OK: true}, nil
}

// KillProcess terminates a registered process and removes its entry.
// The entry is removed before the kill so the read loop's exit callback
// finds nothing and stays silent.
func (s *service) KillProcess(ctx context.Context, req schema.KillProcessRequest) (schema.KillProcessResponse, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.KillProcessResponse{}, err
	}
	log := logx.WithKey(logx.WithUser(ctx, userID), req.Key)

	s.mu.Lock()
	state := s.users[userID]
	var mp *managedProcess
	if state != nil {
		mp = state.procs[req.Key]
		if mp != nil {
			delete(state.procs, req.Key)
			s.markKilledLocked(state, req.Key)
		}
	}
	s.mu.Unlock()
	if mp == nil {
		return schema.KillProcessResponse{}, nil
	}

	s.coal.Flush(userID, req.Key)
	if err := mp.proc.Kill(); err != nil {
		log.Warn("process kill failed", "pid", mp.pid, "err", err)
	}
	_ = mp.proc.Close()
	log.Info("process killed", "pid", mp.pid)
	return schema.KillProcessResponse{OK: true}, nil
}

// markKilledLocked resets the tab or agent state owning a key after an
// explicit kill. No exit event follows, so the bookkeeping happens here.
func (s *service) markKilledLocked(state *userState, key schema.ProcessKey) {
	if sessionID, tabID, ok := schema.SplitTerminalKey(key); ok {
		if sess := state.sessions[sessionID]; sess != nil {
			if tab, _ := sess.tabByID(tabID); tab != nil {
				tab.State = schema.TabExited
				tab.PID = 0
				delete(sess.spawned, tabID)
			}
		}
		return
	}
	if sess := state.sessions[schema.SessionID(key)]; sess != nil {
		sess.agentState = schema.TabExited
		sess.agentPID = 0
	}
}

// KillAllProcesses sweeps every registered process for the user.
func (s *service) KillAllProcesses(ctx context.Context, req schema.KillAllProcessesRequest) (schema.KillAllProcessesResponse, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.KillAllProcessesResponse{}, err
	}
	log := logx.WithUser(ctx, userID)

	s.mu.Lock()
	state := s.users[userID]
	var doomed []*managedProcess
	if state != nil {
		for key, mp := range state.procs {
			doomed = append(doomed, mp)
			delete(state.procs, key)
			s.markKilledLocked(state, key)
		}
	}
	s.mu.Unlock()

	for _, mp := range doomed {
		s.coal.Flush(userID, mp.key)
		if err := mp.proc.Kill(); err != nil {
			log.Warn("process kill failed", "key", mp.key, "pid", mp.pid, "err", err)
		}
		_ = mp.proc.Close()
	}
	if len(doomed) > 0 {
		log.Info("processes killed", "count", len(doomed))
	}
	return schema.KillAllProcessesResponse{Killed: len(doomed)}, nil
}

func (s *service) GetProcess(ctx context.Context, req schema.GetProcessRequest) (schema.GetProcessResponse, error) {
	_ = ctx
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.GetProcessResponse{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.users[userID]
	if state == nil {
		return schema.GetProcessResponse{}, nil
	}
	mp := state.procs[req.Key]
	if mp == nil {
		return schema.GetProcessResponse{}, nil
	}
	return schema.GetProcessResponse{Process: mp.snapshot(), Found: true}, nil
}

func (s *service) ListProcesses(ctx context.Context, req schema.ListProcessesRequest) (schema.ListProcessesResponse, error) {
	_ = ctx
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.ListProcessesResponse{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.users[userID]
	if state == nil {
		return schema.ListProcessesResponse{}, nil
	}
	snapshots := make([]schema.ProcessSnapshot, 0, len(state.procs))
	for _, mp := range state.procs {
		snapshots = append(snapshots, mp.snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Key < snapshots[j].Key })
	return schema.ListProcessesResponse{Processes: snapshots}, nil
}
