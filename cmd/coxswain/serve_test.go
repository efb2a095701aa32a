package main

import (
	"path/filepath"
	"testing"
	"time"

	"pkt.systems/coxswain/internal/appconfig"
	"pkt.systems/coxswain/schema"
)

func TestToServiceConfig(t *testing.T) {
	cfg := appconfig.Config{
		StateDir: "/tmp/coxswain-state",
		Service: appconfig.ServiceConfig{
			FlushIntervalMS:    25,
			ScrollbackMaxLines: 1234,
			ClosedTabHistory:   5,
		},
		History: appconfig.HistoryConfig{MaxEntries: 99},
		Shell:   appconfig.ShellConfig{Default: "/bin/zsh", ExtraArgs: "--login"},
	}
	got := toServiceConfig(cfg)
	if got.StateDir != "/tmp/coxswain-state" {
		t.Fatalf("state dir: got %q", got.StateDir)
	}
	if got.FlushInterval != 25*time.Millisecond {
		t.Fatalf("flush interval: got %s", got.FlushInterval)
	}
	if got.BufferMaxLines != 1234 {
		t.Fatalf("buffer max lines: got %d", got.BufferMaxLines)
	}
	if got.ClosedTabHistory != 5 {
		t.Fatalf("closed tab history: got %d", got.ClosedTabHistory)
	}
	if got.HistoryMaxEntries != 99 {
		t.Fatalf("history max entries: got %d", got.HistoryMaxEntries)
	}
	if got.DefaultShell != "/bin/zsh" || got.ShellArgs != "--login" {
		t.Fatalf("shell: got %q %q", got.DefaultShell, got.ShellArgs)
	}
}

func TestToHTTPConfigDerivesSessionFile(t *testing.T) {
	cfg := appconfig.Config{
		StateDir: "/var/lib/coxswain",
		HTTP: appconfig.HTTPConfig{
			Addr:            ":26480",
			SessionCookie:   "coxswain_session",
			SessionTTLHours: 720,
		},
	}
	got := toHTTPConfig(cfg)
	if got.Addr != ":26480" {
		t.Fatalf("addr: got %q", got.Addr)
	}
	want := filepath.Join("/var/lib/coxswain", "http_sessions.json")
	if got.SessionFile != want {
		t.Fatalf("session file: got %q want %q", got.SessionFile, want)
	}
}

func TestToAgentEntries(t *testing.T) {
	entries := toAgentEntries(map[string]appconfig.AgentConfig{
		"claude": {Command: "claude", Args: []string{"--verbose"}},
	})
	entry, ok := entries[schema.AgentID("claude")]
	if !ok {
		t.Fatalf("expected claude entry, got %+v", entries)
	}
	if entry.Command != "claude" || len(entry.Args) != 1 || entry.Args[0] != "--verbose" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestToAuthConfigCopiesSeeds(t *testing.T) {
	got := toAuthConfig(appconfig.AuthConfig{
		UserFile: "/tmp/users.json",
		SeedUsers: []appconfig.SeedUser{
			{Username: "alice", PasswordHash: "hash", TOTPSecret: "secret"},
		},
	})
	if got.UserFile != "/tmp/users.json" {
		t.Fatalf("user file: got %q", got.UserFile)
	}
	if len(got.SeedUsers) != 1 || got.SeedUsers[0].Username != "alice" {
		t.Fatalf("seed users: got %+v", got.SeedUsers)
	}
}
