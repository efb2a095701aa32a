package core

import (
	"context"
	"time"

	"pkt.systems/coxswain/internal/logx"
	"pkt.systems/coxswain/schema"
	"pkt.systems/pslog"
)

func (s *service) CreateTerminalTab(ctx context.Context, req schema.CreateTerminalTabRequest) (schema.CreateTerminalTabResponse, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.CreateTerminalTabResponse{}, err
	}
	if req.SessionID == "" {
		return schema.CreateTerminalTabResponse{}, schema.ErrInvalidSession
	}
	log := logx.WithUserSession(ctx, userID, req.SessionID)

	s.mu.Lock()
	state := s.getOrCreateUserStateLocked(userID)
	sess := state.sessions[req.SessionID]
	if sess == nil {
		s.mu.Unlock()
		return schema.CreateTerminalTabResponse{}, schema.ErrSessionNotFound
	}
	tab := &terminalTab{
		ID:        schema.TabID(newID()),
		Name:      schema.NormalizeTabName(string(req.Name)),
		Cwd:       req.Cwd,
		State:     schema.TabIdle,
		CreatedAt: time.Now(),
	}
	if tab.Cwd == "" {
		tab.Cwd = sess.Cwd
	}
	sess.tabs = append(sess.tabs, tab)
	if sess.activeTab == "" {
		sess.activeTab = tab.ID
	}
	tabSnap := sess.tabSnapshot(tab)
	sessSnap := sess.snapshot()
	active := sess.activeTab
	s.mu.Unlock()

	s.emitSessionEvent(schema.SessionEvent{
		UserID:    userID,
		Type:      schema.SessionEventCreated,
		Session:   sessSnap,
		Tab:       &tabSnap,
		ActiveTab: active,
	})
	s.persistUser(log, userID)
	logx.WithTab(log, tab.ID).Info("terminal tab created", "cwd", tab.Cwd)
	return schema.CreateTerminalTabResponse{Session: sessSnap, Tab: tabSnap}, nil
}

// ActivateTerminalTab marks the tab active and spawns its PTY on
// demand. The spawned-set guard keeps rapid repeated activations from
// double-spawning; a tab spawns at most once until it exits or is
// explicitly retried.
func (s *service) ActivateTerminalTab(ctx context.Context, req schema.ActivateTerminalTabRequest) (schema.ActivateTerminalTabResponse, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.ActivateTerminalTabResponse{}, err
	}
	if req.SessionID == "" {
		return schema.ActivateTerminalTabResponse{}, schema.ErrInvalidSession
	}
	log := logx.WithUserSession(ctx, userID, req.SessionID)

	s.mu.Lock()
	state := s.getOrCreateUserStateLocked(userID)
	sess := state.sessions[req.SessionID]
	if sess == nil {
		s.mu.Unlock()
		return schema.ActivateTerminalTabResponse{}, schema.ErrSessionNotFound
	}
	tab, _ := sess.tabByID(req.TabID)
	if tab == nil {
		s.mu.Unlock()
		return schema.ActivateTerminalTabResponse{}, schema.ErrTabNotFound
	}
	sess.activeTab = tab.ID
	state.active = sess.ID
	needSpawn := tab.PID == 0 && tab.State != schema.TabExited
	if needSpawn {
		if _, guarded := sess.spawned[tab.ID]; guarded {
			needSpawn = false
		} else {
			sess.spawned[tab.ID] = struct{}{}
		}
	}
	cwd := tab.Cwd
	if cwd == "" {
		cwd = sess.Cwd
	}
	key := schema.ComposeTerminalKey(sess.ID, tab.ID)
	s.mu.Unlock()

	resp := schema.ActivateTerminalTabResponse{}
	if needSpawn {
		resp.Spawned = true
		resp.Spawn = s.spawnTabPTY(log, userID, sess.ID, tab.ID, key, cwd, req.Cols, req.Rows)
	}

	s.mu.Lock()
	if tab, _ = sess.tabByID(req.TabID); tab != nil {
		resp.Tab = sess.tabSnapshot(tab)
	}
	resp.Session = sess.snapshot()
	active := sess.activeTab
	s.mu.Unlock()

	s.emitSessionEvent(schema.SessionEvent{
		UserID:    userID,
		Type:      schema.SessionEventActivated,
		Session:   resp.Session,
		Tab:       &resp.Tab,
		ActiveTab: active,
	})
	return resp, nil
}

// spawnTabPTY runs a guarded terminal spawn and writes the outcome
// back onto the tab: success sets the pid, failure marks the tab
// exited with a sentinel code while leaving pid 0 so a retry can run.
func (s *service) spawnTabPTY(log pslog.Logger, userID schema.UserID, sessionID schema.SessionID, tabID schema.TabID, key schema.ProcessKey, cwd string, cols, rows int) (result schema.SpawnResult) {
	defer func() {
		if recovered := recover(); recovered != nil {
			log.Error("terminal spawn panicked", "tab", tabID, "panic", recovered)
			result = schema.SpawnResult{PID: -1, Error: "terminal spawn panicked"}
			s.recordSpawnFailure(userID, sessionID, tabID, schema.SpawnPanicExitCode)
		}
	}()
	result = s.spawnProcess(log, userID, schema.ProcessConfig{
		Key:  key,
		Mode: schema.ModeEmbeddedTerminal,
		Cwd:  cwd,
		Cols: cols,
		Rows: rows,
	})
	s.mu.Lock()
	state := s.users[userID]
	if state == nil {
		s.mu.Unlock()
		return result
	}
	sess := state.sessions[sessionID]
	if sess == nil {
		s.mu.Unlock()
		return result
	}
	tab, _ := sess.tabByID(tabID)
	if tab == nil {
		s.mu.Unlock()
		return result
	}
	if result.Success {
		tab.PID = result.PID
		tab.State = schema.TabIdle
		tab.ExitCode = nil
	} else {
		code := schema.SpawnFailureExitCode
		tab.State = schema.TabExited
		tab.ExitCode = &code
		tab.PID = 0
		delete(sess.spawned, tabID)
	}
	s.mu.Unlock()
	if !result.Success {
		log.Warn("terminal spawn failed", "tab", tabID, "err", result.Error)
	}
	return result
}

func (s *service) recordSpawnFailure(userID schema.UserID, sessionID schema.SessionID, tabID schema.TabID, exitCode int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.users[userID]
	if state == nil {
		return
	}
	sess := state.sessions[sessionID]
	if sess == nil {
		return
	}
	tab, _ := sess.tabByID(tabID)
	if tab == nil {
		return
	}
	code := exitCode
	tab.State = schema.TabExited
	tab.ExitCode = &code
	tab.PID = 0
	delete(sess.spawned, tabID)
}

// RetryTerminalTab resets an exited tab to idle and re-runs the
// spawn-on-demand transition.
func (s *service) RetryTerminalTab(ctx context.Context, req schema.RetryTerminalTabRequest) (schema.RetryTerminalTabResponse, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.RetryTerminalTabResponse{}, err
	}
	if req.SessionID == "" {
		return schema.RetryTerminalTabResponse{}, schema.ErrInvalidSession
	}
	log := logx.WithUserSession(ctx, userID, req.SessionID)

	s.mu.Lock()
	state := s.getOrCreateUserStateLocked(userID)
	sess := state.sessions[req.SessionID]
	if sess == nil {
		s.mu.Unlock()
		return schema.RetryTerminalTabResponse{}, schema.ErrSessionNotFound
	}
	tab, _ := sess.tabByID(req.TabID)
	if tab == nil {
		s.mu.Unlock()
		return schema.RetryTerminalTabResponse{}, schema.ErrTabNotFound
	}
	tab.State = schema.TabIdle
	tab.ExitCode = nil
	tab.PID = 0
	delete(sess.spawned, tab.ID)
	s.mu.Unlock()

	activateResp, err := s.ActivateTerminalTab(ctx, schema.ActivateTerminalTabRequest{
		UserID:    userID,
		SessionID: req.SessionID,
		TabID:     req.TabID,
		Cols:      req.Cols,
		Rows:      req.Rows,
	})
	if err != nil {
		return schema.RetryTerminalTabResponse{}, err
	}
	logx.WithTab(log, req.TabID).Info("terminal tab retried", "spawned", activateResp.Spawned)
	return schema.RetryTerminalTabResponse{
		Session: activateResp.Session,
		Tab:     activateResp.Tab,
		Spawn:   activateResp.Spawn,
	}, nil
}

func (s *service) CloseTerminalTab(ctx context.Context, req schema.CloseTerminalTabRequest) (schema.CloseTerminalTabResponse, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.CloseTerminalTabResponse{}, err
	}
	if req.SessionID == "" {
		return schema.CloseTerminalTabResponse{}, schema.ErrInvalidSession
	}
	log := logx.WithUserSession(ctx, userID, req.SessionID)

	s.mu.Lock()
	state := s.getOrCreateUserStateLocked(userID)
	sess := state.sessions[req.SessionID]
	if sess == nil {
		s.mu.Unlock()
		return schema.CloseTerminalTabResponse{}, schema.ErrSessionNotFound
	}
	if len(sess.tabs) <= 1 {
		s.mu.Unlock()
		return schema.CloseTerminalTabResponse{}, schema.ErrLastTab
	}
	tab, index := sess.tabByID(req.TabID)
	if tab == nil {
		s.mu.Unlock()
		return schema.CloseTerminalTabResponse{}, schema.ErrTabNotFound
	}
	display := sess.displayName(tab, index)
	closed, doomed := s.closeTabLocked(state, sess, tab, index)
	tabSnap := tab.snapshot(display, false)
	sessSnap := sess.snapshot()
	active := sess.activeTab
	s.mu.Unlock()

	if doomed != nil {
		_ = doomed.proc.Kill()
		_ = doomed.proc.Close()
	}
	s.emitSessionEvent(schema.SessionEvent{
		UserID:    userID,
		Type:      schema.SessionEventClosed,
		Session:   sessSnap,
		Tab:       &tabSnap,
		ActiveTab: active,
	})
	s.persistUser(log, userID)
	logx.WithTab(log, req.TabID).Info("terminal tab closed", "index", closed.Index)
	return schema.CloseTerminalTabResponse{Session: sessSnap, Closed: closedSnapshot(closed)}, nil
}

// closeTabLocked removes the tab, records the closed-tab snapshot, and
// reselects the active tab at the closed index clamped to the last
// tab. The caller kills the returned process outside the lock.
func (s *service) closeTabLocked(state *userState, sess *session, tab *terminalTab, index int) (closedTab, *managedProcess) {
	closed := closedTab{
		Name:     tab.Name,
		Cwd:      tab.Cwd,
		Shell:    tab.Shell,
		Index:    index,
		ClosedAt: time.Now(),
	}
	sess.pushClosed(closed, s.cfg.ClosedTabHistory)

	key := schema.ComposeTerminalKey(sess.ID, tab.ID)
	doomed := state.procs[key]
	delete(state.procs, key)
	delete(state.buffers, key)
	delete(sess.spawned, tab.ID)

	sess.tabs = append(sess.tabs[:index], sess.tabs[index+1:]...)
	if sess.activeTab == tab.ID && len(sess.tabs) > 0 {
		next := index
		if next >= len(sess.tabs) {
			next = len(sess.tabs) - 1
		}
		sess.activeTab = sess.tabs[next].ID
	}
	return closed, doomed
}

// CloseOtherTabs closes every tab except the named one; each close
// kills its own PTY independently so one failure never blocks the
// rest.
func (s *service) CloseOtherTabs(ctx context.Context, req schema.CloseOtherTabsRequest) (schema.CloseOtherTabsResponse, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.CloseOtherTabsResponse{}, err
	}
	if req.SessionID == "" {
		return schema.CloseOtherTabsResponse{}, schema.ErrInvalidSession
	}
	log := logx.WithUserSession(ctx, userID, req.SessionID)
	snapshot, err := s.closeTabsWhere(log, userID, req.SessionID, req.TabID, func(i, keep int) bool {
		return i != keep
	})
	if err != nil {
		return schema.CloseOtherTabsResponse{}, err
	}
	return schema.CloseOtherTabsResponse{Session: snapshot}, nil
}

// CloseTabsToRight closes every tab after the named one.
func (s *service) CloseTabsToRight(ctx context.Context, req schema.CloseTabsToRightRequest) (schema.CloseTabsToRightResponse, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.CloseTabsToRightResponse{}, err
	}
	if req.SessionID == "" {
		return schema.CloseTabsToRightResponse{}, schema.ErrInvalidSession
	}
	log := logx.WithUserSession(ctx, userID, req.SessionID)
	snapshot, err := s.closeTabsWhere(log, userID, req.SessionID, req.TabID, func(i, keep int) bool {
		return i > keep
	})
	if err != nil {
		return schema.CloseTabsToRightResponse{}, err
	}
	return schema.CloseTabsToRightResponse{Session: snapshot}, nil
}

func (s *service) closeTabsWhere(log pslog.Logger, userID schema.UserID, sessionID schema.SessionID, keepID schema.TabID, match func(i, keep int) bool) (schema.SessionSnapshot, error) {
	s.mu.Lock()
	state := s.getOrCreateUserStateLocked(userID)
	sess := state.sessions[sessionID]
	if sess == nil {
		s.mu.Unlock()
		return schema.SessionSnapshot{}, schema.ErrSessionNotFound
	}
	_, keep := sess.tabByID(keepID)
	if keep < 0 {
		s.mu.Unlock()
		return schema.SessionSnapshot{}, schema.ErrTabNotFound
	}
	var victims []schema.TabID
	for i, t := range sess.tabs {
		if match(i, keep) {
			victims = append(victims, t.ID)
		}
	}
	var doomed []*managedProcess
	for _, id := range victims {
		tab, index := sess.tabByID(id)
		if tab == nil {
			continue
		}
		_, mp := s.closeTabLocked(state, sess, tab, index)
		if mp != nil {
			doomed = append(doomed, mp)
		}
	}
	sess.activeTab = keepID
	snapshot := sess.snapshot()
	s.mu.Unlock()

	for _, mp := range doomed {
		if err := mp.proc.Kill(); err != nil {
			log.Warn("tab process kill failed", "key", mp.key, "err", err)
		}
		_ = mp.proc.Close()
	}
	s.emitSessionEvent(schema.SessionEvent{
		UserID:    userID,
		Type:      schema.SessionEventClosed,
		Session:   snapshot,
		ActiveTab: keepID,
	})
	s.persistUser(log, userID)
	log.Info("terminal tabs bulk closed", "count", len(victims))
	return snapshot, nil
}

// ReopenTerminalTab restores the most recently closed tab as a brand
// new tab at its original index, clamped to the current tab count. An
// empty history is a no-op with Reopened false.
func (s *service) ReopenTerminalTab(ctx context.Context, req schema.ReopenTerminalTabRequest) (schema.ReopenTerminalTabResponse, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.ReopenTerminalTabResponse{}, err
	}
	if req.SessionID == "" {
		return schema.ReopenTerminalTabResponse{}, schema.ErrInvalidSession
	}
	log := logx.WithUserSession(ctx, userID, req.SessionID)

	s.mu.Lock()
	state := s.getOrCreateUserStateLocked(userID)
	sess := state.sessions[req.SessionID]
	if sess == nil {
		s.mu.Unlock()
		return schema.ReopenTerminalTabResponse{}, schema.ErrSessionNotFound
	}
	entry, ok := sess.popClosed()
	if !ok {
		snapshot := sess.snapshot()
		s.mu.Unlock()
		return schema.ReopenTerminalTabResponse{Session: snapshot}, nil
	}
	tab := &terminalTab{
		ID:        schema.TabID(newID()),
		Name:      entry.Name,
		Cwd:       entry.Cwd,
		Shell:     entry.Shell,
		State:     schema.TabIdle,
		CreatedAt: time.Now(),
	}
	index := entry.Index
	if index > len(sess.tabs) {
		index = len(sess.tabs)
	}
	sess.tabs = append(sess.tabs, nil)
	copy(sess.tabs[index+1:], sess.tabs[index:])
	sess.tabs[index] = tab
	sess.activeTab = tab.ID
	tabSnap := sess.tabSnapshot(tab)
	sessSnap := sess.snapshot()
	s.mu.Unlock()

	s.emitSessionEvent(schema.SessionEvent{
		UserID:    userID,
		Type:      schema.SessionEventReopened,
		Session:   sessSnap,
		Tab:       &tabSnap,
		ActiveTab: tab.ID,
	})
	s.persistUser(log, userID)
	logx.WithTab(log, tab.ID).Info("terminal tab reopened", "cwd", tab.Cwd, "index", index)
	return schema.ReopenTerminalTabResponse{Session: sessSnap, Tab: &tabSnap, Reopened: true}, nil
}

func (s *service) SetTabName(ctx context.Context, req schema.SetTabNameRequest) (schema.SetTabNameResponse, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.SetTabNameResponse{}, err
	}
	if req.SessionID == "" {
		return schema.SetTabNameResponse{}, schema.ErrInvalidSession
	}
	log := logx.WithUserSession(ctx, userID, req.SessionID)

	s.mu.Lock()
	state := s.getOrCreateUserStateLocked(userID)
	sess := state.sessions[req.SessionID]
	if sess == nil {
		s.mu.Unlock()
		return schema.SetTabNameResponse{}, schema.ErrSessionNotFound
	}
	tab, _ := sess.tabByID(req.TabID)
	if tab == nil {
		s.mu.Unlock()
		return schema.SetTabNameResponse{}, schema.ErrTabNotFound
	}
	tab.Name = schema.NormalizeTabName(string(req.Name))
	tabSnap := sess.tabSnapshot(tab)
	sessSnap := sess.snapshot()
	s.mu.Unlock()

	s.emitSessionEvent(schema.SessionEvent{
		UserID:    userID,
		Type:      schema.SessionEventUpdated,
		Session:   sessSnap,
		Tab:       &tabSnap,
		ActiveTab: sessSnap.ActiveTab,
	})
	s.persistUser(log, userID)
	return schema.SetTabNameResponse{Tab: tabSnap}, nil
}
