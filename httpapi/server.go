package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pkt.systems/coxswain/core"
	"pkt.systems/coxswain/internal/logx"
	"pkt.systems/coxswain/schema"
	"pkt.systems/pslog"
)

// Authenticator verifies username, password, and totp.
type Authenticator interface {
	Authenticate(username schema.UserID, password, totp string) error
	ChangePassword(username schema.UserID, currentPassword, totp, newPassword string) error
}

// Server serves the HTTP API.
type Server struct {
	cfg       Config
	service   core.Service
	authStore Authenticator
	sessions  *sessionStore
	hub       *Hub
	basePath  string
	baseHref  string
}

// NewServer constructs an HTTP server.
func NewServer(cfg Config, service core.Service, authStore Authenticator, hub *Hub) *Server {
	ttl := time.Duration(cfg.SessionTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 720 * time.Hour
	}
	return &Server{
		cfg:       cfg,
		service:   service,
		authStore: authStore,
		sessions:  newSessionStore(ttl, cfg.SessionFile),
		hub:       hub,
		basePath:  normalizeBasePath(cfg.BasePath),
		baseHref:  buildBaseHref(cfg.BaseURL, cfg.BasePath),
	}
}

// SetBaseContext sets the parent context for session lifetimes.
func (s *Server) SetBaseContext(ctx context.Context) {
	if s == nil || ctx == nil {
		return
	}
	s.sessions.setBaseContext(ctx)
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/logout", s.handleLogout)
	mux.HandleFunc("/api/chpasswd", s.requireSession(s.handleChangePassword))
	mux.HandleFunc("/api/me", s.requireSession(s.handleMe))
	mux.HandleFunc("/api/sessions", s.requireSession(s.handleSessions))
	mux.HandleFunc("/api/sessions/close", s.requireSession(s.handleCloseSession))
	mux.HandleFunc("/api/tabs", s.requireSession(s.handleCreateTab))
	mux.HandleFunc("/api/tabs/activate", s.requireSession(s.handleActivateTab))
	mux.HandleFunc("/api/tabs/retry", s.requireSession(s.handleRetryTab))
	mux.HandleFunc("/api/tabs/close", s.requireSession(s.handleCloseTab))
	mux.HandleFunc("/api/tabs/close-others", s.requireSession(s.handleCloseOtherTabs))
	mux.HandleFunc("/api/tabs/close-right", s.requireSession(s.handleCloseTabsToRight))
	mux.HandleFunc("/api/tabs/reopen", s.requireSession(s.handleReopenTab))
	mux.HandleFunc("/api/tabs/name", s.requireSession(s.handleSetTabName))
	mux.HandleFunc("/api/agent/start", s.requireSession(s.handleStartAgent))
	mux.HandleFunc("/api/process/write", s.requireSession(s.handleWrite))
	mux.HandleFunc("/api/process/resize", s.requireSession(s.handleResize))
	mux.HandleFunc("/api/process/interrupt", s.requireSession(s.handleInterrupt))
	mux.HandleFunc("/api/process/kill", s.requireSession(s.handleKill))
	mux.HandleFunc("/api/processes", s.requireSession(s.handleProcesses))
	mux.HandleFunc("/api/buffer", s.requireSession(s.handleBuffer))
	mux.HandleFunc("/api/history", s.requireSession(s.handleHistory))
	mux.HandleFunc("/api/usage", s.requireSession(s.handleUsage))
	mux.HandleFunc("/api/agents", s.requireSession(s.handleAgents))
	mux.HandleFunc("/api/stream", s.requireSession(s.handleStream))

	handler := withRequestLogging(mux, s.lookupSession)
	if s.basePath == "" {
		return handler
	}
	prefix := s.basePath
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	root.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != prefix {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, prefix+"/", http.StatusTemporaryRedirect)
	})
	return root
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.Ctx(r.Context()).With("remote", clientIP(r))
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
		TOTP     string `json:"totp"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http login decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	log = log.With("user", payload.Username)
	if err := s.authStore.Authenticate(schema.UserID(payload.Username), payload.Password, payload.TOTP); err != nil {
		log.Warn("http login failed", "err", err)
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	token, sess := s.sessions.create(schema.UserID(payload.Username))
	cookie := &http.Cookie{
		Name:     s.cfg.SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.expiresAt,
	}
	http.SetCookie(w, cookie)
	writeJSON(w, http.StatusOK, map[string]any{"username": payload.Username})
	log.Info("http login ok")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	token := s.sessionToken(r)
	log := logx.Ctx(r.Context()).With("remote", clientIP(r))
	if token != "" {
		if entry, ok := s.sessions.get(token); ok {
			log = log.With("user", entry.userID, "http_session", entry.id)
		}
		s.sessions.delete(token)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	log.Info("http logout")
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.Ctx(r.Context()).With("user", userID, "remote", clientIP(r))
	var payload struct {
		CurrentPassword string `json:"current_password"`
		TOTP            string `json:"totp"`
		NewPassword     string `json:"new_password"`
		ConfirmPassword string `json:"confirm_password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http chpasswd decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(payload.CurrentPassword) == "" {
		writeError(w, http.StatusBadRequest, errors.New("current password is required"))
		return
	}
	if strings.TrimSpace(payload.NewPassword) == "" {
		writeError(w, http.StatusBadRequest, errors.New("new password is required"))
		return
	}
	if strings.TrimSpace(payload.ConfirmPassword) == "" {
		writeError(w, http.StatusBadRequest, errors.New("confirm password is required"))
		return
	}
	if payload.NewPassword != payload.ConfirmPassword {
		writeError(w, http.StatusBadRequest, errors.New("passwords do not match"))
		return
	}
	if strings.TrimSpace(payload.TOTP) == "" {
		writeError(w, http.StatusBadRequest, errors.New("totp is required"))
		return
	}
	if err := s.authStore.ChangePassword(userID, payload.CurrentPassword, payload.TOTP, payload.NewPassword); err != nil {
		log.Warn("http chpasswd failed", "err", err)
		status := http.StatusInternalServerError
		switch {
		case isPasswordChangeAuthError(err):
			status = http.StatusUnauthorized
		case isPasswordChangeValidationError(err):
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	log.Info("http chpasswd ok")
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	writeJSON(w, http.StatusOK, map[string]any{"username": userID})
}

type remotePayload struct {
	Enabled    bool   `json:"enabled"`
	Target     string `json:"target"`
	WorkingDir string `json:"working_dir"`
}

func (p *remotePayload) toConfig() *schema.RemoteConfig {
	if p == nil {
		return nil
	}
	return &schema.RemoteConfig{
		Enabled:    p.Enabled,
		Target:     p.Target,
		WorkingDir: p.WorkingDir,
	}
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	log := logx.WithUser(r.Context(), userID)
	ctx := sessionContext(r.Context())
	switch r.Method {
	case http.MethodGet:
		resp, err := s.service.ListSessions(ctx, schema.ListSessionsRequest{UserID: userID})
		if err != nil {
			log.Warn("http sessions list failed", "err", err)
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		log.Info("http sessions list ok", "count", len(resp.Sessions))
	case http.MethodPost:
		var payload struct {
			Cwd     string         `json:"cwd"`
			AgentID string         `json:"agent_id"`
			Name    string         `json:"name"`
			Remote  *remotePayload `json:"remote"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			log.Warn("http sessions decode failed", "err", err)
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := s.service.CreateSession(ctx, schema.CreateSessionRequest{
			UserID:  userID,
			Cwd:     payload.Cwd,
			AgentID: schema.AgentID(payload.AgentID),
			Remote:  payload.Remote.toConfig(),
			Name:    payload.Name,
		})
		if err != nil {
			log.Warn("http sessions create failed", "err", err)
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		log.Info("http sessions create ok", "session", resp.Session.ID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	ctx := sessionContext(r.Context())
	var payload struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http session close decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.CloseSession(ctx, schema.CloseSessionRequest{
		UserID:    userID,
		SessionID: schema.SessionID(payload.SessionID),
	})
	if err != nil {
		log.Warn("http session close failed", "err", err)
		writeError(w, serviceErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info("http session close ok", "session", resp.Session.ID)
}

func (s *Server) handleCreateTab(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	ctx := sessionContext(r.Context())
	var payload struct {
		SessionID string `json:"session_id"`
		Cwd       string `json:"cwd"`
		Name      string `json:"name"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http tab create decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.CreateTerminalTab(ctx, schema.CreateTerminalTabRequest{
		UserID:    userID,
		SessionID: schema.SessionID(payload.SessionID),
		Cwd:       payload.Cwd,
		Name:      schema.TabName(payload.Name),
	})
	if err != nil {
		log.Warn("http tab create failed", "err", err)
		writeError(w, serviceErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info("http tab create ok", "session", payload.SessionID, "tab", resp.Tab.ID)
}

func (s *Server) handleActivateTab(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	ctx := sessionContext(r.Context())
	var payload struct {
		SessionID string `json:"session_id"`
		TabID     string `json:"tab_id"`
		Cols      int    `json:"cols"`
		Rows      int    `json:"rows"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http tab activate decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.ActivateTerminalTab(ctx, schema.ActivateTerminalTabRequest{
		UserID:    userID,
		SessionID: schema.SessionID(payload.SessionID),
		TabID:     schema.TabID(payload.TabID),
		Cols:      payload.Cols,
		Rows:      payload.Rows,
	})
	if err != nil {
		log.Warn("http tab activate failed", "err", err)
		writeError(w, serviceErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info("http tab activate ok", "tab", resp.Tab.ID, "spawned", resp.Spawned)
}

func (s *Server) handleRetryTab(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	ctx := sessionContext(r.Context())
	var payload struct {
		SessionID string `json:"session_id"`
		TabID     string `json:"tab_id"`
		Cols      int    `json:"cols"`
		Rows      int    `json:"rows"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http tab retry decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.RetryTerminalTab(ctx, schema.RetryTerminalTabRequest{
		UserID:    userID,
		SessionID: schema.SessionID(payload.SessionID),
		TabID:     schema.TabID(payload.TabID),
		Cols:      payload.Cols,
		Rows:      payload.Rows,
	})
	if err != nil {
		log.Warn("http tab retry failed", "err", err)
		writeError(w, serviceErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info("http tab retry ok", "tab", resp.Tab.ID, "success", resp.Spawn.Success)
}

func (s *Server) handleCloseTab(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	ctx := sessionContext(r.Context())
	var payload struct {
		SessionID string `json:"session_id"`
		TabID     string `json:"tab_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http tab close decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.CloseTerminalTab(ctx, schema.CloseTerminalTabRequest{
		UserID:    userID,
		SessionID: schema.SessionID(payload.SessionID),
		TabID:     schema.TabID(payload.TabID),
	})
	if err != nil {
		log.Warn("http tab close failed", "err", err)
		writeError(w, serviceErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info("http tab close ok", "tab", payload.TabID)
}

func (s *Server) handleCloseOtherTabs(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	ctx := sessionContext(r.Context())
	var payload struct {
		SessionID string `json:"session_id"`
		TabID     string `json:"tab_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http tab close others decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.CloseOtherTabs(ctx, schema.CloseOtherTabsRequest{
		UserID:    userID,
		SessionID: schema.SessionID(payload.SessionID),
		TabID:     schema.TabID(payload.TabID),
	})
	if err != nil {
		log.Warn("http tab close others failed", "err", err)
		writeError(w, serviceErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info("http tab close others ok", "kept", payload.TabID)
}

func (s *Server) handleCloseTabsToRight(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	ctx := sessionContext(r.Context())
	var payload struct {
		SessionID string `json:"session_id"`
		TabID     string `json:"tab_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http tab close right decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.CloseTabsToRight(ctx, schema.CloseTabsToRightRequest{
		UserID:    userID,
		SessionID: schema.SessionID(payload.SessionID),
		TabID:     schema.TabID(payload.TabID),
	})
	if err != nil {
		log.Warn("http tab close right failed", "err", err)
		writeError(w, serviceErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info("http tab close right ok", "from", payload.TabID)
}

func (s *Server) handleReopenTab(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	ctx := sessionContext(r.Context())
	var payload struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http tab reopen decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.ReopenTerminalTab(ctx, schema.ReopenTerminalTabRequest{
		UserID:    userID,
		SessionID: schema.SessionID(payload.SessionID),
	})
	if err != nil {
		log.Warn("http tab reopen failed", "err", err)
		writeError(w, serviceErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info("http tab reopen ok", "reopened", resp.Reopened)
}

func (s *Server) handleSetTabName(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	ctx := sessionContext(r.Context())
	var payload struct {
		SessionID string `json:"session_id"`
		TabID     string `json:"tab_id"`
		Name      string `json:"name"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http tab name decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.SetTabName(ctx, schema.SetTabNameRequest{
		UserID:    userID,
		SessionID: schema.SessionID(payload.SessionID),
		TabID:     schema.TabID(payload.TabID),
		Name:      schema.TabName(payload.Name),
	})
	if err != nil {
		log.Warn("http tab name failed", "err", err)
		writeError(w, serviceErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info("http tab name ok", "tab", resp.Tab.ID, "name", resp.Tab.Name)
}

func (s *Server) handleStartAgent(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	ctx := sessionContext(r.Context())
	var payload struct {
		SessionID string `json:"session_id"`
		Cols      int    `json:"cols"`
		Rows      int    `json:"rows"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http agent start decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.StartAgent(ctx, schema.StartAgentRequest{
		UserID:    userID,
		SessionID: schema.SessionID(payload.SessionID),
		Cols:      payload.Cols,
		Rows:      payload.Rows,
	})
	if err != nil {
		log.Warn("http agent start failed", "err", err)
		writeError(w, serviceErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info("http agent start ok", "session", payload.SessionID, "pid", resp.Result.PID)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	ctx := sessionContext(r.Context())
	var payload struct {
		Key  string `json:"key"`
		Data string `json:"data"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http write decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.WriteProcess(ctx, schema.WriteProcessRequest{
		UserID: userID,
		Key:    schema.ProcessKey(payload.Key),
		Data:   payload.Data,
	})
	if err != nil {
		log.Warn("http write failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Debug("http write ok", "key", payload.Key, "bytes", len(payload.Data), "accepted", resp.OK)
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	ctx := sessionContext(r.Context())
	var payload struct {
		Key  string `json:"key"`
		Cols int    `json:"cols"`
		Rows int    `json:"rows"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http resize decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.ResizeProcess(ctx, schema.ResizeProcessRequest{
		UserID: userID,
		Key:    schema.ProcessKey(payload.Key),
		Cols:   payload.Cols,
		Rows:   payload.Rows,
	})
	if err != nil {
		log.Warn("http resize failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Debug("http resize ok", "key", payload.Key, "cols", payload.Cols, "rows", payload.Rows, "applied", resp.OK)
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	ctx := sessionContext(r.Context())
	var payload struct {
		Key string `json:"key"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http interrupt decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.InterruptProcess(ctx, schema.InterruptProcessRequest{
		UserID: userID,
		Key:    schema.ProcessKey(payload.Key),
	})
	if err != nil {
		log.Warn("http interrupt failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info("http interrupt ok", "key", payload.Key, "signaled", resp.OK)
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	ctx := sessionContext(r.Context())
	var payload struct {
		Key string `json:"key"`
		All bool   `json:"all"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http kill decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.All {
		resp, err := s.service.KillAllProcesses(ctx, schema.KillAllProcessesRequest{UserID: userID})
		if err != nil {
			log.Warn("http kill all failed", "err", err)
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		log.Info("http kill all ok", "killed", resp.Killed)
		return
	}
	resp, err := s.service.KillProcess(ctx, schema.KillProcessRequest{
		UserID: userID,
		Key:    schema.ProcessKey(payload.Key),
	})
	if err != nil {
		log.Warn("http kill failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Info("http kill ok", "key", payload.Key, "killed", resp.OK)
}

func (s *Server) handleProcesses(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	ctx := sessionContext(r.Context())
	if key := r.URL.Query().Get("key"); key != "" {
		resp, err := s.service.GetProcess(ctx, schema.GetProcessRequest{
			UserID: userID,
			Key:    schema.ProcessKey(key),
		})
		if err != nil {
			log.Warn("http process get failed", "err", err)
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		log.Debug("http process get ok", "key", key, "found", resp.Found)
		return
	}
	resp, err := s.service.ListProcesses(ctx, schema.ListProcessesRequest{UserID: userID})
	if err != nil {
		log.Warn("http processes list failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Debug("http processes list ok", "count", len(resp.Processes))
}

func (s *Server) handleBuffer(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	key := schema.ProcessKey(r.URL.Query().Get("key"))
	limit := parseInt(r.URL.Query().Get("limit"), s.cfg.InitialBufferLines)
	resp, err := s.service.GetBuffer(r.Context(), schema.GetBufferRequest{
		UserID: userID,
		Key:    key,
		Limit:  limit,
	})
	if err != nil {
		log.Warn("http buffer failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Debug("http buffer ok", "key", key, "lines", resp.Buffer.TotalLines)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	ctx := sessionContext(r.Context())
	log := logx.WithUser(r.Context(), userID)
	switch r.Method {
	case http.MethodGet:
		sessionID := schema.SessionID(r.URL.Query().Get("session_id"))
		resp, err := s.service.GetHistory(ctx, schema.GetHistoryRequest{
			UserID:    userID,
			SessionID: sessionID,
		})
		if err != nil {
			log.Warn("http history get failed", "err", err)
			writeError(w, serviceErrorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		log.Info("http history get ok", "session", sessionID, "entries", len(resp.Entries))
	case http.MethodPost:
		var payload struct {
			SessionID string `json:"session_id"`
			Entry     string `json:"entry"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			log.Warn("http history decode failed", "err", err)
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sessionID := schema.SessionID(payload.SessionID)
		if strings.TrimSpace(payload.Entry) == "" {
			resp, err := s.service.GetHistory(ctx, schema.GetHistoryRequest{
				UserID:    userID,
				SessionID: sessionID,
			})
			if err != nil {
				log.Warn("http history get failed", "err", err)
				writeError(w, serviceErrorStatus(err), err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
			log.Info("http history get ok", "session", sessionID, "entries", len(resp.Entries))
			return
		}
		resp, err := s.service.AppendHistory(ctx, schema.AppendHistoryRequest{
			UserID:    userID,
			SessionID: sessionID,
			Entry:     payload.Entry,
		})
		if err != nil {
			log.Warn("http history append failed", "err", err)
			writeError(w, serviceErrorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		log.Info("http history append ok", "session", sessionID, "entries", len(resp.Entries))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	sessionID := schema.SessionID(r.URL.Query().Get("session_id"))
	resp, err := s.service.GetSessionUsage(r.Context(), schema.GetSessionUsageRequest{
		UserID:    userID,
		SessionID: sessionID,
	})
	if err != nil {
		log.Warn("http usage failed", "err", err)
		writeError(w, serviceErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Debug("http usage ok", "session", sessionID, "found", resp.Found)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	resp, err := s.service.ListAgents(r.Context(), schema.ListAgentsRequest{UserID: userID})
	if err != nil {
		log.Warn("http agents failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Debug("http agents ok", "count", len(resp.Agents))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	log := logx.WithUser(r.Context(), userID)
	ctx := sessionContext(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastID := parseUint(r.Header.Get("Last-Event-ID"))

	snapshot := s.buildSnapshot(ctx, userID)
	snapshotSessions := len(snapshot.Sessions)
	snapshotBuffers := len(snapshot.Buffers)
	_ = writeSSEvent(w, StreamEvent{
		Type:      "snapshot",
		Snapshot:  &snapshot,
		Timestamp: time.Now(),
	})
	flusher.Flush()

	replayCount := 0
	if lastID > 0 {
		replay := s.hub.Replay(userID, lastID)
		replayCount = len(replay)
		for _, event := range replay {
			_ = writeSSEvent(w, event)
		}
		flusher.Flush()
	}

	ch, unsubscribe, _, _ := s.hub.Subscribe(userID)
	defer unsubscribe()

	notify := r.Context().Done()
	log.Info("http stream opened", "last_id", lastID, "replay", replayCount, "sessions", snapshotSessions, "buffers", snapshotBuffers)
	for {
		select {
		case <-notify:
			log.Info("http stream closed")
			return
		case event := <-ch:
			_ = writeSSEvent(w, event)
			flusher.Flush()
		}
	}
}

func (s *Server) buildSnapshot(ctx context.Context, userID schema.UserID) SnapshotPayload {
	resp, err := s.service.ListSessions(ctx, schema.ListSessionsRequest{UserID: userID})
	if err != nil {
		return SnapshotPayload{}
	}
	buffers := make(map[schema.ProcessKey]schema.BufferSnapshot)
	fetch := func(key schema.ProcessKey) {
		bufferResp, err := s.service.GetBuffer(ctx, schema.GetBufferRequest{
			UserID: userID,
			Key:    key,
			Limit:  s.cfg.InitialBufferLines,
		})
		if err != nil || bufferResp.Buffer.TotalLines == 0 {
			return
		}
		buffers[key] = bufferResp.Buffer
	}
	for _, sess := range resp.Sessions {
		fetch(schema.ProcessKey(sess.ID))
		for _, tab := range sess.Tabs {
			fetch(schema.ComposeTerminalKey(sess.ID, tab.ID))
		}
	}
	agents := []schema.AgentSnapshot(nil)
	if agentResp, err := s.service.ListAgents(ctx, schema.ListAgentsRequest{UserID: userID}); err == nil {
		agents = agentResp.Agents
	}
	return SnapshotPayload{
		Sessions:      resp.Sessions,
		ActiveSession: resp.ActiveSession,
		Buffers:       buffers,
		Agents:        agents,
	}
}

func (s *Server) requireSession(next func(http.ResponseWriter, *http.Request, schema.UserID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logx.Ctx(r.Context()).With("remote", clientIP(r))
		token := s.sessionToken(r)
		if token == "" {
			log.Warn("http session missing")
			writeError(w, http.StatusUnauthorized, errors.New("missing session"))
			return
		}
		entry, ok := s.sessions.get(token)
		if !ok {
			log.Warn("http session invalid")
			writeError(w, http.StatusUnauthorized, errors.New("invalid session"))
			return
		}
		log = log.With("user", entry.userID, "http_session", entry.id)
		ctx := logx.ContextWithUserLogger(r.Context(), log, entry.userID)
		ctx = withSessionContext(ctx, entry)
		next(w, r.WithContext(ctx), entry.userID)
	}
}

type sessionContextKey struct{}

func withSessionContext(ctx context.Context, sess session) context.Context {
	if ctx == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

func sessionContext(ctx context.Context) context.Context {
	if ctx == nil {
		return nil
	}
	value := ctx.Value(sessionContextKey{})
	sess, ok := value.(session)
	if !ok || sess.ctx == nil {
		return ctx
	}
	logger := pslog.Ctx(ctx)
	return pslog.ContextWithLogger(sess.ctx, logger)
}

func (s *Server) sessionToken(r *http.Request) string {
	cookie, err := r.Cookie(s.cfg.SessionCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (s *Server) lookupSession(r *http.Request) (schema.UserID, string) {
	if s == nil || r == nil {
		return "", ""
	}
	token := s.sessionToken(r)
	if token == "" {
		return "", ""
	}
	entry, ok := s.sessions.get(token)
	if !ok {
		return "", ""
	}
	return entry.userID, entry.id
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeSSEvent(w http.ResponseWriter, event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if event.Seq > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", event.Seq)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(string(data)))
	return nil
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func serviceErrorStatus(err error) int {
	switch {
	case errors.Is(err, schema.ErrSessionNotFound), errors.Is(err, schema.ErrTabNotFound):
		return http.StatusNotFound
	case errors.Is(err, schema.ErrLastTab):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func isPasswordChangeAuthError(err error) bool {
	if err == nil {
		return false
	}
	switch strings.TrimSpace(err.Error()) {
	case "invalid credentials", "invalid totp", "user not found":
		return true
	default:
		return false
	}
}

func isPasswordChangeValidationError(err error) bool {
	if err == nil {
		return false
	}
	switch strings.TrimSpace(err.Error()) {
	case "current password is required", "totp is required", "new password is required", "confirm password is required", "passwords do not match":
		return true
	default:
		return false
	}
}
