package sshserver

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	gliderssh "github.com/gliderlabs/ssh"

	"pkt.systems/coxswain/core"
	"pkt.systems/coxswain/internal/eventbus"
	"pkt.systems/coxswain/internal/logx"
	"pkt.systems/coxswain/schema"
)

// attachSession bridges one SSH channel to the user's active terminal
// tab. Input bytes go to the tab's PTY, raw output events come back on
// the event bus, and window changes are forwarded as resizes.
type attachSession struct {
	conn    gliderssh.Session
	service core.Service
	userID  schema.UserID
	events  <-chan eventbus.Event

	mu   sync.Mutex
	cols int
	rows int
	key  schema.ProcessKey
}

func newAttachSession(conn gliderssh.Session, service core.Service, userID schema.UserID, events <-chan eventbus.Event) *attachSession {
	return &attachSession{
		conn:    conn,
		service: service,
		userID:  userID,
		events:  events,
		cols:    80,
		rows:    24,
	}
}

func (a *attachSession) setSize(cols, rows int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cols > 0 {
		a.cols = cols
	}
	if rows > 0 {
		a.rows = rows
	}
}

func (a *attachSession) size() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cols, a.rows
}

func (a *attachSession) run(ctx context.Context, winCh <-chan gliderssh.Window) error {
	log := logx.WithUser(ctx, a.userID)

	key, err := a.ensureTab(ctx)
	if err != nil {
		log.Warn("ssh attach failed", "err", err)
		_, _ = io.WriteString(a.conn, "attach failed: "+err.Error()+"\r\n")
		return err
	}
	a.mu.Lock()
	a.key = key
	a.mu.Unlock()
	log = logx.WithKey(log, key)

	a.replayScrollback(ctx, key)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.forwardInput(ctx, cancel, key)

	log.Info("ssh attach opened")
	for {
		select {
		case <-ctx.Done():
			return nil
		case win, ok := <-winCh:
			if !ok {
				continue
			}
			a.setSize(win.Width, win.Height)
			_, _ = a.service.ResizeProcess(ctx, schema.ResizeProcessRequest{
				UserID: a.userID,
				Key:    key,
				Cols:   win.Width,
				Rows:   win.Height,
			})
		case event, ok := <-a.events:
			if !ok {
				return nil
			}
			switch event.Type {
			case eventbus.EventRawData:
				if event.RawData.Key != key {
					continue
				}
				if _, err := io.WriteString(a.conn, event.RawData.Text); err != nil {
					return nil
				}
			case eventbus.EventExit:
				if event.Exit.Key != key {
					continue
				}
				_, _ = io.WriteString(a.conn, fmt.Sprintf("\r\nprocess exited with code %d\r\n", event.Exit.ExitCode))
				log.Info("ssh attach closed", "exit_code", event.Exit.ExitCode)
				return nil
			}
		}
	}
}

// ensureTab resolves the user's active session and tab, creating both
// when none exist, and activates the tab so its PTY is spawned.
func (a *attachSession) ensureTab(ctx context.Context) (schema.ProcessKey, error) {
	listResp, err := a.service.ListSessions(ctx, schema.ListSessionsRequest{UserID: a.userID})
	if err != nil {
		return "", err
	}
	var sess schema.SessionSnapshot
	found := false
	for _, candidate := range listResp.Sessions {
		if candidate.ID == listResp.ActiveSession {
			sess = candidate
			found = true
			break
		}
	}
	if !found && len(listResp.Sessions) > 0 {
		sess = listResp.Sessions[0]
		found = true
	}
	if !found {
		createResp, err := a.service.CreateSession(ctx, schema.CreateSessionRequest{UserID: a.userID})
		if err != nil {
			return "", err
		}
		sess = createResp.Session
	}

	tabID := sess.ActiveTab
	if tabID == "" && len(sess.Tabs) > 0 {
		tabID = sess.Tabs[0].ID
	}
	if tabID == "" {
		tabResp, err := a.service.CreateTerminalTab(ctx, schema.CreateTerminalTabRequest{
			UserID:    a.userID,
			SessionID: sess.ID,
		})
		if err != nil {
			return "", err
		}
		tabID = tabResp.Tab.ID
	}

	cols, rows := a.size()
	activateResp, err := a.service.ActivateTerminalTab(ctx, schema.ActivateTerminalTabRequest{
		UserID:    a.userID,
		SessionID: sess.ID,
		TabID:     tabID,
		Cols:      cols,
		Rows:      rows,
	})
	if err != nil {
		return "", err
	}
	if activateResp.Spawned && !activateResp.Spawn.Success {
		return "", fmt.Errorf("tab spawn failed: %s", activateResp.Spawn.Error)
	}
	return schema.ComposeTerminalKey(sess.ID, tabID), nil
}

func (a *attachSession) replayScrollback(ctx context.Context, key schema.ProcessKey) {
	resp, err := a.service.GetBuffer(ctx, schema.GetBufferRequest{
		UserID: a.userID,
		Key:    key,
	})
	if err != nil || len(resp.Buffer.Lines) == 0 {
		return
	}
	_, _ = io.WriteString(a.conn, strings.Join(resp.Buffer.Lines, "\r\n")+"\r\n")
}

func (a *attachSession) forwardInput(ctx context.Context, cancel context.CancelFunc, key schema.ProcessKey) {
	defer cancel()
	buf := make([]byte, 1024)
	for {
		n, err := a.conn.Read(buf)
		if n > 0 {
			resp, werr := a.service.WriteProcess(ctx, schema.WriteProcessRequest{
				UserID: a.userID,
				Key:    key,
				Data:   string(buf[:n]),
			})
			if werr != nil || !resp.OK {
				return
			}
		}
		if err != nil {
			return
		}
	}
}
