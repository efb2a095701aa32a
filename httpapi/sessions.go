package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pkt.systems/coxswain/internal/logx"
	"pkt.systems/coxswain/schema"
)

// session is one authenticated browser login. Its ctx is canceled on
// logout or expiry so websockets attached to the login fold with it.
type session struct {
	id        string
	userID    schema.UserID
	expiresAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// sessionStore keeps login sessions keyed by bearer token and mirrors
// them to disk so logins survive a server restart.
type sessionStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	base context.Context
	live map[string]*session
	path string
}

func newSessionStore(ttl time.Duration, path string) *sessionStore {
	store := &sessionStore{
		ttl:  ttl,
		base: context.Background(),
		live: make(map[string]*session),
		path: strings.TrimSpace(path),
	}
	if store.path != "" {
		if err := store.load(); err != nil {
			logx.Ctx(context.Background()).Warn("session store load failed", "err", err)
		}
	}
	return store
}

// setBaseContext reparents session lifetimes onto the server's run
// context. Called once at startup, before any handler runs, so the
// only sessions rebound here are those restored from disk.
func (s *sessionStore) setBaseContext(ctx context.Context) {
	if ctx == nil {
		return
	}
	s.mu.Lock()
	s.base = ctx
	for _, sess := range s.live {
		sess.cancel()
		sess.ctx, sess.cancel = context.WithCancel(ctx)
	}
	s.mu.Unlock()
}

func (s *sessionStore) create(userID schema.UserID) (string, session) {
	token := newToken(32)
	s.mu.Lock()
	sess := s.mintLocked(userID, "", time.Now().Add(s.ttl))
	s.live[token] = sess
	s.mu.Unlock()
	s.save()
	logx.WithUser(context.Background(), userID).With("http_session", sess.id).
		Info("session created", "expires", sess.expiresAt.Format(time.RFC3339))
	return token, *sess
}

func (s *sessionStore) get(token string) (session, bool) {
	s.mu.Lock()
	sess := s.live[token]
	if sess == nil {
		s.mu.Unlock()
		return session{}, false
	}
	if time.Now().After(sess.expiresAt) {
		delete(s.live, token)
		sess.cancel()
		s.mu.Unlock()
		logx.WithUser(context.Background(), sess.userID).With("http_session", sess.id).Info("session expired")
		s.save()
		return session{}, false
	}
	out := *sess
	s.mu.Unlock()
	return out, true
}

func (s *sessionStore) delete(token string) {
	s.mu.Lock()
	sess := s.live[token]
	if sess != nil {
		delete(s.live, token)
		sess.cancel()
	}
	s.mu.Unlock()
	if sess == nil {
		return
	}
	logx.WithUser(context.Background(), sess.userID).With("http_session", sess.id).Info("session deleted")
	s.save()
}

// mintLocked builds a live session parented on the current base
// context. Caller holds s.mu.
func (s *sessionStore) mintLocked(userID schema.UserID, id string, expiresAt time.Time) *session {
	if id == "" {
		id = newToken(12)
	}
	ctx, cancel := context.WithCancel(s.base)
	return &session{
		id:        id,
		userID:    userID,
		expiresAt: expiresAt,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func newToken(size int) string {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

type storedSession struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type sessionManifest struct {
	Version  int             `json:"version"`
	Sessions []storedSession `json:"sessions"`
}

func (s *sessionStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var manifest sessionManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return err
	}
	now := time.Now()
	dropped := 0
	s.mu.Lock()
	for _, rec := range manifest.Sessions {
		if rec.Token == "" || rec.UserID == "" || now.After(rec.ExpiresAt) {
			dropped++
			continue
		}
		s.live[rec.Token] = s.mintLocked(schema.UserID(rec.UserID), rec.SessionID, rec.ExpiresAt)
	}
	loaded := len(s.live)
	s.mu.Unlock()
	if dropped > 0 {
		s.save()
	}
	logx.Ctx(context.Background()).Info("session store loaded", "sessions", loaded)
	return nil
}

func (s *sessionStore) save() {
	if s.path == "" {
		return
	}
	s.mu.Lock()
	manifest := sessionManifest{Version: 1, Sessions: make([]storedSession, 0, len(s.live))}
	for token, sess := range s.live {
		manifest.Sessions = append(manifest.Sessions, storedSession{
			Token:     token,
			SessionID: sess.id,
			UserID:    string(sess.userID),
			ExpiresAt: sess.expiresAt,
		})
	}
	s.mu.Unlock()
	if err := writeManifest(s.path, manifest); err != nil {
		logx.Ctx(context.Background()).Warn("session store save failed", "err", err)
	}
}

// writeManifest writes the manifest atomically with owner-only
// permissions; tokens grant login access.
func writeManifest(path string, manifest sessionManifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "sessions-*.json")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
