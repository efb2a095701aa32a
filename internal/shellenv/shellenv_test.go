package shellenv

import (
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
)

func TestResolveShellOverride(t *testing.T) {
	if got := ResolveShell("/usr/local/bin/fish"); got != "/usr/local/bin/fish" {
		t.Fatalf("absolute override not passed through: %q", got)
	}
	if got := ResolveShell("  /bin/sh  "); got != "/bin/sh" {
		t.Fatalf("override not trimmed: %q", got)
	}
}

func TestResolveShellFromEnv(t *testing.T) {
	t.Setenv("SHELL", "/opt/shells/nu")
	if got := ResolveShell(""); got != "/opt/shells/nu" {
		t.Fatalf("SHELL not consulted: %q", got)
	}
}

func TestResolveShellBareNameUnresolved(t *testing.T) {
	// A bare name matching nothing in the probe directories stays
	// bare for the OS to reject.
	t.Setenv("SHELL", "definitely-not-a-shell")
	if got := ResolveShell(""); got != "definitely-not-a-shell" {
		t.Fatalf("unresolvable bare name rewritten: %q", got)
	}
}

func TestLookupIn(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}
	dir := t.TempDir()
	exe := filepath.Join(dir, "zsh")
	if err := os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write fake shell: %v", err)
	}
	plain := filepath.Join(dir, "plainfile")
	if err := os.WriteFile(plain, []byte("x"), 0o644); err != nil {
		t.Fatalf("write plain file: %v", err)
	}

	if got, ok := lookupIn([]string{dir}, "zsh"); !ok || got != exe {
		t.Fatalf("executable not found: %q %v", got, ok)
	}
	if _, ok := lookupIn([]string{dir}, "plainfile"); ok {
		t.Fatal("non-executable file resolved")
	}
	if _, ok := lookupIn([]string{dir}, "missing"); ok {
		t.Fatal("missing file resolved")
	}
}

func TestLoginArgs(t *testing.T) {
	args, err := LoginArgs("")
	if err != nil {
		t.Fatalf("empty extra args: %v", err)
	}
	if !reflect.DeepEqual(args, []string{"-l", "-i"}) {
		t.Fatalf("unexpected base args: %v", args)
	}

	args, err = LoginArgs(`-c "echo hello world" --noprofile`)
	if err != nil {
		t.Fatalf("quoted extra args: %v", err)
	}
	want := []string{"-l", "-i", "-c", "echo hello world", "--noprofile"}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("got %v want %v", args, want)
	}

	if _, err := LoginArgs(`"unterminated`); err == nil {
		t.Fatal("expected error for unterminated quote")
	}
}

func TestStandardPaths(t *testing.T) {
	if runtime.GOOS == "windows" {
		if StandardPaths() != "" {
			t.Fatal("expected empty path list on windows")
		}
		return
	}
	got := StandardPaths()
	want := "/opt/homebrew/bin:/usr/local/bin:/usr/bin:/bin:/usr/sbin:/sbin"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestVersionManagerBinDirs(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skipped on windows")
	}
	root := t.TempDir()
	existing := filepath.Join(root, "versions", "node", "v22.1.0", "bin")
	if err := os.MkdirAll(existing, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	t.Setenv("NVM_DIR", root)

	dirs := VersionManagerBinDirs()
	if len(dirs) != 1 || dirs[0] != existing {
		t.Fatalf("got %v want [%s]", dirs, existing)
	}

	path := SearchPath()
	if !strings.HasPrefix(path, existing+string(os.PathListSeparator)) {
		t.Fatalf("version-manager dir not prepended: %q", path)
	}
	if !strings.HasSuffix(path, "/sbin") {
		t.Fatalf("standard list missing: %q", path)
	}
}

func TestTerminalEnv(t *testing.T) {
	t.Setenv("HOME", "/home/alice")
	t.Setenv("USER", "alice")
	t.Setenv("LANG", "en_US.UTF-8")
	t.Setenv("SECRET_TOKEN", "do-not-leak")

	env := TerminalEnv(map[string]string{"TERM": "vt100", "EXTRA": "1"})
	m := envToMap(t, env)

	if m["TERM"] != "vt100" {
		t.Fatalf("caller override lost: %q", m["TERM"])
	}
	if m["EXTRA"] != "1" {
		t.Fatalf("caller var missing: %v", m)
	}
	if m["HOME"] != "/home/alice" || m["USER"] != "alice" || m["LANG"] != "en_US.UTF-8" {
		t.Fatalf("curated vars wrong: %v", m)
	}
	if _, leaked := m["SECRET_TOKEN"]; leaked {
		t.Fatal("parent environment leaked into curated env")
	}
	if m["PATH"] == "" {
		t.Fatal("PATH not set")
	}
}

func TestEmbeddedEnv(t *testing.T) {
	t.Setenv("TERM", "dumb")
	t.Setenv("KEEP_ME", "yes")

	m := envToMap(t, EmbeddedEnv())
	if m["TERM"] != "xterm-256color" {
		t.Fatalf("TERM not pinned: %q", m["TERM"])
	}
	if m["KEEP_ME"] != "yes" {
		t.Fatal("parent environment not passed through")
	}
}

func envToMap(t *testing.T, env []string) map[string]string {
	t.Helper()
	m := make(map[string]string, len(env))
	for _, entry := range env {
		k, v, ok := strings.Cut(entry, "=")
		if !ok {
			t.Fatalf("malformed env entry %q", entry)
		}
		m[k] = v
	}
	return m
}
