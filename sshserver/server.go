package sshserver

import (
	"context"
	"errors"
	"io"
	"net"

	gliderssh "github.com/gliderlabs/ssh"
	"golang.org/x/crypto/ssh"

	"pkt.systems/coxswain/core"
	"pkt.systems/coxswain/internal/eventbus"
	"pkt.systems/coxswain/internal/logx"
	"pkt.systems/coxswain/schema"
	"pkt.systems/pslog"
)

// Server attaches SSH clients to their active terminal tab.
type Server struct {
	Addr        string
	HostKeyPath string
	Listener    net.Listener
	Service     core.Service
	AuthStore   LoginAuthStore
	EventBus    *eventbus.Bus
	logger      pslog.Logger
}

// LoginAuthStore validates SSH login credentials.
type LoginAuthStore interface {
	HasLoginPubKey(userID schema.UserID, key ssh.PublicKey) (bool, error)
	ValidateTOTP(username schema.UserID, totpCode string) error
}

type authContextKey string

const loginPubKeyOK authContextKey = "login-pubkey-ok"

// ListenAndServe starts the SSH server and shuts down on context cancellation.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.logger == nil {
		s.logger = pslog.Ctx(ctx)
	}
	if s.AuthStore == nil {
		return errors.New("auth store is required for SSH")
	}

	signer, err := EnsureHostKey(s.HostKeyPath)
	if err != nil {
		return err
	}

	server := &gliderssh.Server{
		Addr:                       s.Addr,
		Handler:                    s.handleSession,
		PublicKeyHandler:           s.handlePublicKey,
		KeyboardInteractiveHandler: s.handleKeyboardInteractive,
	}
	server.AddHostKey(signer)

	errCh := make(chan error, 1)
	go func() {
		if s.Listener != nil {
			errCh <- server.Serve(s.Listener)
			return
		}
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		_ = server.Close()
		return nil
	case err := <-errCh:
		return err
	}
}

// loginLogger resolves the connection-scoped logger annotated with the
// authenticating user and remote endpoint. Every auth and session
// handler starts here so the fields stay uniform across the login flow.
func (s *Server) loginLogger(ctx gliderssh.Context) (pslog.Logger, schema.UserID) {
	log := s.logger
	if log == nil {
		log = pslog.Ctx(ctx)
	}
	userID := schema.UserID(ctx.User())
	if userID != "" {
		log = log.With("user", userID)
	}
	if addr := ctx.RemoteAddr(); addr != nil {
		log = log.With("remote", addr.String())
	}
	if id := ctx.SessionID(); id != "" {
		log = log.With("ssh_session", id)
	}
	return log, userID
}

func (s *Server) handlePublicKey(ctx gliderssh.Context, key gliderssh.PublicKey) bool {
	log, userID := s.loginLogger(ctx)
	log = log.With("fingerprint", ssh.FingerprintSHA256(key))
	if userID == "" {
		log.Warn("ssh pubkey rejected", "reason", "missing user")
		return false
	}
	ok, err := s.AuthStore.HasLoginPubKey(userID, key)
	if err != nil {
		log.Warn("ssh pubkey rejected", "err", err)
		return false
	}
	if !ok {
		log.Warn("ssh pubkey rejected", "reason", "no matching key")
		return false
	}
	// Returning false keeps the handshake going; the TOTP step below
	// grants the login once it sees this marker.
	ctx.SetValue(loginPubKeyOK, true)
	log.Info("ssh pubkey accepted")
	return false
}

func (s *Server) handleKeyboardInteractive(ctx gliderssh.Context, challenger ssh.KeyboardInteractiveChallenge) bool {
	if ctx.Value(loginPubKeyOK) != true {
		return false
	}
	log, userID := s.loginLogger(ctx)
	answers, err := challenger(ctx.User(), "", []string{"Verification code: "}, []bool{false})
	if err != nil {
		log.Warn("ssh totp rejected", "reason", "challenge failed", "err", err)
		return false
	}
	if len(answers) != 1 {
		log.Warn("ssh totp rejected", "reason", "invalid answer count", "count", len(answers))
		return false
	}
	if err := s.AuthStore.ValidateTOTP(userID, answers[0]); err != nil {
		log.Warn("ssh totp rejected", "reason", "invalid code", "err", err)
		return false
	}
	log.Info("ssh totp accepted")
	return true
}

func (s *Server) handleSession(sess gliderssh.Session) {
	log, userID := s.loginLogger(sess.Context())
	if userID == "" {
		log.Info("ssh session rejected", "reason", "missing user")
		_, _ = io.WriteString(sess, "missing user\n")
		return
	}
	ctx := logx.ContextWithUserLogger(sess.Context(), log, userID)

	pty, winCh, ok := sess.Pty()
	if !ok {
		log.Info("ssh session rejected", "reason", "pty required")
		_, _ = io.WriteString(sess, "pty required\n")
		return
	}

	log.Info("ssh session opened", "term", pty.Term)
	var events <-chan eventbus.Event
	var unsubscribe func()
	if s.EventBus != nil {
		events, unsubscribe = s.EventBus.Subscribe(userID)
	}
	if unsubscribe != nil {
		defer unsubscribe()
	}
	attach := newAttachSession(sess, s.Service, userID, events)
	attach.setSize(pty.Window.Width, pty.Window.Height)
	_ = attach.run(ctx, winCh)
	log.Info("ssh session closed", "term", pty.Term)
}
