package core

import (
	"context"
	"testing"

	"pkt.systems/coxswain/internal/persist"
	"pkt.systems/coxswain/schema"
)

func TestTabExitRoutedByKeyDecode(t *testing.T) {
	sink := &captureSink{}
	svc, starter := newTestService(t, schema.ServiceConfig{}, ServiceDeps{Sink: sink})
	user := schema.UserID("alice")
	sess := createTestSession(t, svc, user)
	tab := createTestTab(t, svc, user, sess.ID)

	if _, err := svc.ActivateTerminalTab(context.Background(), schema.ActivateTerminalTabRequest{
		UserID: user, SessionID: sess.ID, TabID: tab.ID,
	}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	starter.proc(t, 0).exit(130)

	waitUntil(t, "tab exit", func() bool {
		list, err := svc.ListSessions(context.Background(), schema.ListSessionsRequest{UserID: user})
		if err != nil {
			return false
		}
		return list.Sessions[0].Tabs[0].State == schema.TabExited
	})
	list, err := svc.ListSessions(context.Background(), schema.ListSessionsRequest{UserID: user})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := list.Sessions[0].Tabs[0]
	if got.ExitCode == nil || *got.ExitCode != 130 {
		t.Fatalf("expected exit code 130, got %+v", got)
	}
	if got.PID != 0 {
		t.Fatalf("expected pid cleared on exit, got %d", got.PID)
	}
}

func TestUndecodableExitKeysIgnored(t *testing.T) {
	sink := &captureSink{}
	svc, starter := newTestService(t, schema.ServiceConfig{}, ServiceDeps{Sink: sink})
	user := schema.UserID("alice")
	sess := createTestSession(t, svc, user)
	tab := createTestTab(t, svc, user, sess.ID)

	// A process under an unrelated key exits; the tab is untouched.
	if _, err := svc.Spawn(context.Background(), schema.SpawnRequest{
		UserID: user,
		Config: schema.ProcessConfig{Key: "foreign-terminal-x", Mode: schema.ModeTerminal, Cwd: t.TempDir()},
	}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	starter.proc(t, 0).exit(9)

	waitUntil(t, "foreign exit", func() bool { return len(sink.exitEvents()) == 1 })
	list, err := svc.ListSessions(context.Background(), schema.ListSessionsRequest{UserID: user})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := list.Sessions[0].Tabs[0]; got.State != schema.TabIdle {
		t.Fatalf("expected tab untouched by foreign exit, got %+v", got)
	}
	_ = tab
}

func TestLayoutPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	store, err := persist.NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	user := schema.UserID("alice")

	svc, _ := newTestService(t, schema.ServiceConfig{}, ServiceDeps{Store: store})
	sess := createTestSession(t, svc, user)
	tab := createTestTab(t, svc, user, sess.ID)
	if _, err := svc.SetTabName(context.Background(), schema.SetTabNameRequest{
		UserID: user, SessionID: sess.ID, TabID: tab.ID, Name: "deploys",
	}); err != nil {
		t.Fatalf("set name: %v", err)
	}
	if _, err := svc.ActivateTerminalTab(context.Background(), schema.ActivateTerminalTabRequest{
		UserID: user, SessionID: sess.ID, TabID: tab.ID,
	}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	restarted, _ := newTestService(t, schema.ServiceConfig{}, ServiceDeps{Store: store})
	list, err := restarted.ListSessions(context.Background(), schema.ListSessionsRequest{UserID: user})
	if err != nil {
		t.Fatalf("list after restart: %v", err)
	}
	if len(list.Sessions) != 1 {
		t.Fatalf("expected restored session, got %v", list.Sessions)
	}
	restored := list.Sessions[0]
	if restored.ID != sess.ID || restored.Cwd != sess.Cwd {
		t.Fatalf("expected identity preserved, got %+v", restored)
	}
	if len(restored.Tabs) != 1 || restored.Tabs[0].Name != "deploys" {
		t.Fatalf("expected tab restored, got %v", restored.Tabs)
	}
	// Live pids never persist; restored tabs await a respawn.
	if restored.Tabs[0].PID != 0 || restored.Tabs[0].State != schema.TabIdle {
		t.Fatalf("expected idle pid-0 tab after restart, got %+v", restored.Tabs[0])
	}
}

// TestSessionTabScenario follows one session through create, activate,
// output, exit, close, and reopen.
func TestSessionTabScenario(t *testing.T) {
	sink := &captureSink{}
	svc, starter := newTestService(t, schema.ServiceConfig{}, ServiceDeps{Sink: sink})
	user := schema.UserID("alice")
	ctx := context.Background()
	sess := createTestSession(t, svc, user)
	tab1 := createTestTab(t, svc, user, sess.ID)
	tab2 := createTestTab(t, svc, user, sess.ID)

	if _, err := svc.ActivateTerminalTab(ctx, schema.ActivateTerminalTabRequest{
		UserID: user, SessionID: sess.ID, TabID: tab1.ID,
	}); err != nil {
		t.Fatalf("activate tab1: %v", err)
	}
	key := schema.ComposeTerminalKey(sess.ID, tab1.ID)
	starter.proc(t, 0).emit("$ make test\nok\n")
	waitUntil(t, "scrollback", func() bool {
		resp, err := svc.GetBuffer(ctx, schema.GetBufferRequest{UserID: user, Key: key})
		return err == nil && len(resp.Buffer.Lines) == 2
	})

	if resp, err := svc.WriteProcess(ctx, schema.WriteProcessRequest{UserID: user, Key: key, Data: "exit\n"}); err != nil || !resp.OK {
		t.Fatalf("write: %+v err %v", resp, err)
	}
	starter.proc(t, 0).exit(0)
	waitUntil(t, "tab1 exit", func() bool { return len(sink.exitEvents()) == 1 })

	// The exited tab keeps its scrollback plus the exit marker.
	buffer, err := svc.GetBuffer(ctx, schema.GetBufferRequest{UserID: user, Key: key})
	if err != nil {
		t.Fatalf("get buffer: %v", err)
	}
	lines := buffer.Buffer.Lines
	if len(lines) != 3 || lines[2] != "process exited with code 0" {
		t.Fatalf("expected scrollback with exit marker, got %v", lines)
	}

	if _, err := svc.CloseTerminalTab(ctx, schema.CloseTerminalTabRequest{
		UserID: user, SessionID: sess.ID, TabID: tab1.ID,
	}); err != nil {
		t.Fatalf("close tab1: %v", err)
	}
	reopen, err := svc.ReopenTerminalTab(ctx, schema.ReopenTerminalTabRequest{UserID: user, SessionID: sess.ID})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !reopen.Reopened || reopen.Tab.ID == tab1.ID {
		t.Fatalf("expected fresh tab from reopen, got %+v", reopen)
	}
	if len(reopen.Session.Tabs) != 2 || reopen.Session.Tabs[0].ID != reopen.Tab.ID {
		t.Fatalf("expected reopened tab back at index 0, got %v", reopen.Session.Tabs)
	}
	_ = tab2
}
