package remote

import (
	"reflect"
	"testing"

	"pkt.systems/coxswain/schema"
)

func TestWrapCommand(t *testing.T) {
	cfg := &schema.RemoteConfig{Enabled: true, Target: "dev@build-host", WorkingDir: "/srv/work"}

	command, args := WrapCommand(cfg, "claude", []string{"--print", "hello world"}, "/local")
	if command != "ssh" {
		t.Fatalf("command: got %q want ssh", command)
	}
	want := []string{"-t", "dev@build-host", "cd /srv/work && exec claude --print 'hello world'"}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("args:\n got %q\nwant %q", args, want)
	}
}

func TestWrapCommandWorkingDirFallback(t *testing.T) {
	cfg := &schema.RemoteConfig{Enabled: true, Target: "host"}

	_, args := WrapCommand(cfg, "codex", nil, "/home/alice/project")
	if args[2] != "cd /home/alice/project && exec codex" {
		t.Fatalf("unexpected remote command: %q", args[2])
	}
}

func TestWrapCommandPassthrough(t *testing.T) {
	command, args := WrapCommand(nil, "claude", []string{"-p"}, "/x")
	if command != "claude" || len(args) != 1 || args[0] != "-p" {
		t.Fatalf("nil config must pass through: %q %v", command, args)
	}

	disabled := &schema.RemoteConfig{Enabled: false, Target: "host"}
	if command, _ = WrapCommand(disabled, "claude", nil, ""); command != "claude" {
		t.Fatalf("disabled config must pass through: %q", command)
	}

	blank := &schema.RemoteConfig{Enabled: true, Target: "  "}
	if command, _ = WrapCommand(blank, "claude", nil, ""); command != "claude" {
		t.Fatalf("blank target must pass through: %q", command)
	}
}

func TestQuote(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"", "''"},
		{"two words", "'two words'"},
		{"it's", `'it'\''s'`},
		{"$HOME", "'$HOME'"},
	}
	for _, tc := range cases {
		if got := quote(tc.in); got != tc.want {
			t.Fatalf("quote(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
