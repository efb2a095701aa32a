package core

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"pkt.systems/coxswain/internal/ansi"
	"pkt.systems/coxswain/internal/logx"
	"pkt.systems/coxswain/internal/persist"
	"pkt.systems/coxswain/internal/usage"
	"pkt.systems/coxswain/schema"
	"pkt.systems/pslog"
)

// service implements the core service behavior: per-user sessions and
// terminal tabs on top of a keyed PTY process registry.
type service struct {
	cfg     schema.ServiceConfig
	history HistoryStore
	agents  AgentCatalog
	sink    EventSink
	store   *persist.Store
	logger  pslog.Logger
	start   starterFunc
	coal    *coalescer

	mu     sync.Mutex
	users  map[schema.UserID]*userState
	closed bool
}

type userState struct {
	sessions map[schema.SessionID]*session
	order    []schema.SessionID
	active   schema.SessionID
	procs    map[schema.ProcessKey]*managedProcess
	buffers  map[schema.ProcessKey]*buffer
}

// NewService constructs the core service implementation.
func NewService(cfg schema.ServiceConfig, deps ServiceDeps) (Service, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	cfg = normalized
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	svc := &service{
		cfg:     cfg,
		history: deps.History,
		agents:  deps.Agents,
		sink:    deps.Sink,
		store:   deps.Store,
		logger:  logger,
		start:   startPTY,
		users:   make(map[schema.UserID]*userState),
	}
	svc.coal = newCoalescer(cfg.FlushInterval, svc.emitData)
	return svc, nil
}

// Close kills every registered process for every user and flushes any
// pending coalesced output.
func (s *service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var procs []*managedProcess
	for _, state := range s.users {
		for key, mp := range state.procs {
			procs = append(procs, mp)
			delete(state.procs, key)
		}
	}
	s.mu.Unlock()
	for _, mp := range procs {
		_ = mp.proc.Kill()
		_ = mp.proc.Close()
	}
	s.coal.FlushAll()
	s.logger.Info("service closed", "killed", len(procs))
	return nil
}

func normalizeUserID(userID schema.UserID) (schema.UserID, error) {
	if err := schema.ValidateUserID(userID); err != nil {
		return "", err
	}
	return userID, nil
}

func (s *service) getOrCreateUserStateLocked(userID schema.UserID) *userState {
	state := s.users[userID]
	if state != nil {
		return state
	}
	state = &userState{
		sessions: make(map[schema.SessionID]*session),
		procs:    make(map[schema.ProcessKey]*managedProcess),
		buffers:  make(map[schema.ProcessKey]*buffer),
	}
	s.users[userID] = state
	s.restoreUserLocked(userID, state)
	return state
}

// restoreUserLocked rebuilds a user's session layout from the persist
// store. Live pids are never persisted, so every restored tab comes
// back idle with pid 0 awaiting respawn.
func (s *service) restoreUserLocked(userID schema.UserID, state *userState) {
	if s.store == nil {
		return
	}
	snapshot, found, err := s.store.Load(userID)
	if err != nil || !found {
		return
	}
	for _, persisted := range snapshot.Sessions {
		sess := &session{
			ID:         persisted.ID,
			Name:       persisted.Name,
			Cwd:        persisted.Cwd,
			AgentID:    persisted.AgentID,
			Remote:     persisted.Remote,
			activeTab:  persisted.ActiveTab,
			spawned:    make(map[schema.TabID]struct{}),
			agentState: schema.TabIdle,
			history:    newHistory(s.cfg.HistoryMaxEntries),
		}
		for _, t := range persisted.Tabs {
			sess.tabs = append(sess.tabs, &terminalTab{
				ID:        t.ID,
				Name:      t.Name,
				Cwd:       t.Cwd,
				Shell:     t.Shell,
				State:     schema.TabIdle,
				CreatedAt: time.Now(),
			})
		}
		for _, c := range persisted.ClosedTabs {
			sess.closed = append(sess.closed, closedTab{
				Name:  c.Name,
				Cwd:   c.Cwd,
				Shell: c.Shell,
				Index: c.Index,
			})
		}
		state.sessions[sess.ID] = sess
	}
	for _, id := range snapshot.Order {
		if state.sessions[id] != nil {
			state.order = append(state.order, id)
		}
	}
	state.active = snapshot.ActiveSession
	s.logger.With("user", userID).Info("user state restored", "sessions", len(state.sessions))
}

func (s *service) persistUser(log pslog.Logger, userID schema.UserID) {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	state := s.users[userID]
	if state == nil {
		s.mu.Unlock()
		return
	}
	snapshot := persist.UserSnapshot{
		Order:         append([]schema.SessionID(nil), state.order...),
		ActiveSession: state.active,
	}
	for _, id := range state.order {
		sess := state.sessions[id]
		if sess == nil {
			continue
		}
		persisted := persist.SessionSnapshot{
			ID:        sess.ID,
			Name:      sess.Name,
			Cwd:       sess.Cwd,
			AgentID:   sess.AgentID,
			Remote:    sess.Remote,
			ActiveTab: sess.activeTab,
		}
		for _, t := range sess.tabs {
			persisted.Tabs = append(persisted.Tabs, persist.TabSnapshot{
				ID:    t.ID,
				Name:  t.Name,
				Cwd:   t.Cwd,
				Shell: t.Shell,
			})
		}
		for _, c := range sess.closed {
			persisted.ClosedTabs = append(persisted.ClosedTabs, persist.ClosedTabSnapshot{
				Name:  c.Name,
				Cwd:   c.Cwd,
				Shell: c.Shell,
				Index: c.Index,
			})
		}
		snapshot.Sessions = append(snapshot.Sessions, persisted)
	}
	s.mu.Unlock()
	if err := s.store.Save(userID, snapshot); err != nil {
		log.Warn("user state persist failed", "err", err)
	}
}

// Output and exit wiring.

func (s *service) emitData(userID schema.UserID, key schema.ProcessKey, text string) {
	if s.sink == nil {
		return
	}
	s.sink.OnData(schema.DataEvent{UserID: userID, Key: key, Text: text})
}

// handleOutput routes one PTY chunk. Embedded-terminal output is
// forwarded verbatim and immediately on the raw-data path, with a
// filtered copy recorded to the key's scrollback so attach replay and
// GetBuffer see history; everything else is control-sequence
// filtered, recorded to scrollback, and coalesced onto the data path.
func (s *service) handleOutput(userID schema.UserID, mp *managedProcess, chunk string) {
	if mp.mode == schema.ModeEmbeddedTerminal {
		if s.sink != nil {
			s.sink.OnRawData(schema.RawDataEvent{UserID: userID, Key: mp.key, Text: chunk})
		}
		if filtered := ansi.Filter(chunk); strings.TrimSpace(filtered) != "" {
			s.appendBuffer(userID, mp.key, filtered)
		}
		return
	}
	filtered := ansi.Filter(chunk)
	if strings.TrimSpace(filtered) == "" {
		return
	}
	s.appendBuffer(userID, mp.key, filtered)
	s.coal.Add(userID, mp.key, filtered)
	mp.appendTail(chunk)
	if mp.mode == schema.ModeAgent {
		s.probeUsageLines(userID, mp.key, filtered)
	}
}

func (s *service) appendBuffer(userID schema.UserID, key schema.ProcessKey, text string) {
	s.mu.Lock()
	state := s.getOrCreateUserStateLocked(userID)
	buf := state.buffers[key]
	if buf == nil {
		buf = newBufferWithMaxLines(s.cfg.BufferMaxLines)
		state.buffers[key] = buf
	}
	buf.AppendText(text)
	s.mu.Unlock()
}

func (s *service) appendBufferLines(userID schema.UserID, key schema.ProcessKey, lines ...string) {
	s.mu.Lock()
	state := s.getOrCreateUserStateLocked(userID)
	buf := state.buffers[key]
	if buf == nil {
		buf = newBufferWithMaxLines(s.cfg.BufferMaxLines)
		state.buffers[key] = buf
	}
	buf.AppendLines(lines...)
	s.mu.Unlock()
}

// probeUsageLines scans agent output lines for JSON usage payloads and
// records the aggregate on the owning session.
func (s *service) probeUsageLines(userID schema.UserID, key schema.ProcessKey, text string) {
	if _, _, isTab := schema.SplitTerminalKey(key); isTab {
		return
	}
	sessionID := schema.SessionID(key)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}
		payload, ok := usage.Decode([]byte(line))
		if !ok {
			continue
		}
		stats := usage.AggregatePayload(payload)
		s.mu.Lock()
		if state := s.users[userID]; state != nil {
			if sess := state.sessions[sessionID]; sess != nil {
				sess.usage = &stats
			}
		}
		s.mu.Unlock()
		s.logger.With("user", userID, "session", sessionID).Debug("usage recorded",
			"input_tokens", stats.InputTokens, "output_tokens", stats.OutputTokens)
	}
}

// handleExit runs the exit sequence for one process: flush pending
// coalesced output first, then emit exit, then drop the registry entry
// and update the owning tab or agent state. Exits whose entry is gone
// or already replaced (an explicit kill, a duplicate-key respawn) are
// tolerated silently.
func (s *service) handleExit(userID schema.UserID, mp *managedProcess, exitCode int) {
	key := mp.key
	s.coal.Flush(userID, key)

	s.mu.Lock()
	state := s.users[userID]
	if state == nil {
		s.mu.Unlock()
		return
	}
	if state.procs[key] != mp {
		s.mu.Unlock()
		return
	}
	delete(state.procs, key)
	var sessionEvent *schema.SessionEvent
	var agentError *schema.AgentError
	if buf := state.buffers[key]; buf != nil {
		buf.AppendLines(fmt.Sprintf("process exited with code %d", exitCode))
	}
	if sessionID, tabID, ok := schema.SplitTerminalKey(key); ok {
		if sess := state.sessions[sessionID]; sess != nil {
			if tab, _ := sess.tabByID(tabID); tab != nil {
				code := exitCode
				tab.State = schema.TabExited
				tab.ExitCode = &code
				tab.PID = 0
				delete(sess.spawned, tabID)
				snap := sess.tabSnapshot(tab)
				sessionEvent = &schema.SessionEvent{
					UserID:    userID,
					Type:      schema.SessionEventExited,
					Session:   sess.snapshot(),
					Tab:       &snap,
					ActiveTab: sess.activeTab,
				}
			}
		}
	} else if sess := state.sessions[schema.SessionID(key)]; sess != nil {
		code := exitCode
		sess.agentState = schema.TabExited
		sess.agentExitCode = &code
		sess.agentPID = 0
		sessionEvent = &schema.SessionEvent{
			UserID:  userID,
			Type:    schema.SessionEventExited,
			Session: sess.snapshot(),
		}
		if exitCode != 0 {
			classified := classifyAgentError(exitCode, mp.tailString())
			classified.AgentID = mp.agentID
			classified.SessionID = sess.ID
			agentError = &classified
		}
	}
	s.mu.Unlock()

	log := logx.WithKey(s.logger.With("user", userID), key)
	log.Info("process exited", "pid", mp.pid, "exit_code", exitCode)
	if s.sink != nil {
		s.sink.OnExit(schema.ExitEvent{UserID: userID, Key: key, ExitCode: exitCode})
		if sessionEvent != nil {
			s.sink.OnSessionEvent(*sessionEvent)
		}
		if agentError != nil {
			s.sink.OnAgentError(schema.AgentErrorEvent{UserID: userID, Error: *agentError})
		}
	}
}

func (s *service) emitSessionEvent(event schema.SessionEvent) {
	if s.sink == nil {
		return
	}
	s.sink.OnSessionEvent(event)
}

// Session lifecycle.

func (s *service) CreateSession(ctx context.Context, req schema.CreateSessionRequest) (schema.CreateSessionResponse, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.CreateSessionResponse{}, err
	}
	log := logx.WithUser(ctx, userID)
	cwd := strings.TrimSpace(req.Cwd)
	if cwd == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return schema.CreateSessionResponse{}, fmt.Errorf("resolve session cwd: %w", err)
		}
		cwd = home
	}
	var agentID schema.AgentID
	if req.AgentID != "" {
		agentID, err = schema.NormalizeAgentID(string(req.AgentID))
		if err != nil {
			return schema.CreateSessionResponse{}, err
		}
	}
	sess := &session{
		ID:         schema.SessionID(newID()),
		Name:       strings.TrimSpace(req.Name),
		Cwd:        cwd,
		AgentID:    agentID,
		Remote:     req.Remote,
		spawned:    make(map[schema.TabID]struct{}),
		agentState: schema.TabIdle,
		history:    newHistory(s.cfg.HistoryMaxEntries),
	}

	s.mu.Lock()
	state := s.getOrCreateUserStateLocked(userID)
	state.sessions[sess.ID] = sess
	state.order = append(state.order, sess.ID)
	state.active = sess.ID
	snapshot := sess.snapshot()
	s.mu.Unlock()

	s.emitSessionEvent(schema.SessionEvent{
		UserID:  userID,
		Type:    schema.SessionEventCreated,
		Session: snapshot,
	})
	s.persistUser(log, userID)
	log.With("session", sess.ID).Info("session created", "cwd", cwd, "agent", agentID)
	return schema.CreateSessionResponse{Session: snapshot}, nil
}

func (s *service) ListSessions(ctx context.Context, req schema.ListSessionsRequest) (schema.ListSessionsResponse, error) {
	_ = ctx
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.ListSessionsResponse{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.getOrCreateUserStateLocked(userID)
	sessions := make([]schema.SessionSnapshot, 0, len(state.order))
	for _, id := range state.order {
		if sess := state.sessions[id]; sess != nil {
			sessions = append(sessions, sess.snapshot())
		}
	}
	return schema.ListSessionsResponse{Sessions: sessions, ActiveSession: state.active}, nil
}

func (s *service) CloseSession(ctx context.Context, req schema.CloseSessionRequest) (schema.CloseSessionResponse, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.CloseSessionResponse{}, err
	}
	if req.SessionID == "" {
		return schema.CloseSessionResponse{}, schema.ErrInvalidSession
	}
	log := logx.WithUserSession(ctx, userID, req.SessionID)

	s.mu.Lock()
	state := s.getOrCreateUserStateLocked(userID)
	sess := state.sessions[req.SessionID]
	if sess == nil {
		s.mu.Unlock()
		return schema.CloseSessionResponse{}, schema.ErrSessionNotFound
	}
	snapshot := sess.snapshot()
	delete(state.sessions, req.SessionID)
	state.order = removeSessionID(state.order, req.SessionID)
	if state.active == req.SessionID {
		state.active = ""
		if len(state.order) > 0 {
			state.active = state.order[len(state.order)-1]
		}
	}
	// Collect every process owned by the session: the agent under the
	// bare session key plus one PTY per tab.
	var doomed []*managedProcess
	for key, mp := range state.procs {
		owner := schema.SessionID(key)
		if sessionID, _, ok := schema.SplitTerminalKey(key); ok {
			owner = sessionID
		}
		if owner == req.SessionID {
			doomed = append(doomed, mp)
			delete(state.procs, key)
			delete(state.buffers, key)
		}
	}
	s.mu.Unlock()

	for _, mp := range doomed {
		_ = mp.proc.Kill()
		_ = mp.proc.Close()
	}
	s.emitSessionEvent(schema.SessionEvent{
		UserID:  userID,
		Type:    schema.SessionEventClosed,
		Session: snapshot,
	})
	s.persistUser(log, userID)
	log.Info("session closed", "killed", len(doomed))
	return schema.CloseSessionResponse{Session: snapshot}, nil
}

func removeSessionID(order []schema.SessionID, id schema.SessionID) []schema.SessionID {
	out := order[:0]
	for _, candidate := range order {
		if candidate != id {
			out = append(out, candidate)
		}
	}
	return out
}

// Buffers, history, usage, agents.

func (s *service) GetBuffer(ctx context.Context, req schema.GetBufferRequest) (schema.GetBufferResponse, error) {
	_ = ctx
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.GetBufferResponse{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.getOrCreateUserStateLocked(userID)
	snapshot := schema.BufferSnapshot{Key: req.Key, AtBottom: true}
	if buf := state.buffers[req.Key]; buf != nil {
		snapshot.Lines, snapshot.TotalLines = buf.Snapshot(req.Limit)
	}
	return schema.GetBufferResponse{Buffer: snapshot}, nil
}

func (s *service) GetHistory(ctx context.Context, req schema.GetHistoryRequest) (schema.GetHistoryResponse, error) {
	_ = ctx
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.GetHistoryResponse{}, err
	}
	if req.SessionID == "" {
		return schema.GetHistoryResponse{}, schema.ErrInvalidSession
	}
	if s.history != nil {
		entries, err := s.history.GetEntries(req.SessionID)
		if err != nil {
			return schema.GetHistoryResponse{}, fmt.Errorf("load history: %w", err)
		}
		return schema.GetHistoryResponse{Entries: entries}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.getOrCreateUserStateLocked(userID)
	sess := state.sessions[req.SessionID]
	if sess == nil {
		return schema.GetHistoryResponse{}, schema.ErrSessionNotFound
	}
	return schema.GetHistoryResponse{Entries: sess.history.Entries()}, nil
}

func (s *service) AppendHistory(ctx context.Context, req schema.AppendHistoryRequest) (schema.AppendHistoryResponse, error) {
	_ = ctx
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.AppendHistoryResponse{}, err
	}
	if req.SessionID == "" {
		return schema.AppendHistoryResponse{}, schema.ErrInvalidSession
	}
	if s.history != nil {
		entries, err := s.history.Append(req.SessionID, req.Entry)
		if err != nil {
			return schema.AppendHistoryResponse{}, fmt.Errorf("append history: %w", err)
		}
		return schema.AppendHistoryResponse{Entries: entries}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.getOrCreateUserStateLocked(userID)
	sess := state.sessions[req.SessionID]
	if sess == nil {
		return schema.AppendHistoryResponse{}, schema.ErrSessionNotFound
	}
	sess.history.Append(req.Entry)
	return schema.AppendHistoryResponse{Entries: sess.history.Entries()}, nil
}

func (s *service) RecordUsage(ctx context.Context, req schema.RecordUsageRequest) (schema.RecordUsageResponse, error) {
	_ = ctx
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.RecordUsageResponse{}, err
	}
	if req.SessionID == "" {
		return schema.RecordUsageResponse{}, schema.ErrInvalidSession
	}
	payload, ok := usage.Decode(req.Payload)
	if !ok {
		return schema.RecordUsageResponse{}, fmt.Errorf("%w: not a usage payload", schema.ErrInvalidRequest)
	}
	stats := usage.AggregatePayload(payload)
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.getOrCreateUserStateLocked(userID)
	sess := state.sessions[req.SessionID]
	if sess == nil {
		return schema.RecordUsageResponse{}, schema.ErrSessionNotFound
	}
	sess.usage = &stats
	return schema.RecordUsageResponse{Usage: stats}, nil
}

func (s *service) GetSessionUsage(ctx context.Context, req schema.GetSessionUsageRequest) (schema.GetSessionUsageResponse, error) {
	_ = ctx
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.GetSessionUsageResponse{}, err
	}
	if req.SessionID == "" {
		return schema.GetSessionUsageResponse{}, schema.ErrInvalidSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.getOrCreateUserStateLocked(userID)
	sess := state.sessions[req.SessionID]
	if sess == nil {
		return schema.GetSessionUsageResponse{}, schema.ErrSessionNotFound
	}
	if sess.usage == nil {
		return schema.GetSessionUsageResponse{}, nil
	}
	return schema.GetSessionUsageResponse{Usage: *sess.usage, Found: true}, nil
}

func (s *service) ListAgents(ctx context.Context, req schema.ListAgentsRequest) (schema.ListAgentsResponse, error) {
	_ = ctx
	if _, err := normalizeUserID(req.UserID); err != nil {
		return schema.ListAgentsResponse{}, err
	}
	if s.agents == nil {
		return schema.ListAgentsResponse{}, nil
	}
	return schema.ListAgentsResponse{Agents: s.agents.List()}, nil
}
