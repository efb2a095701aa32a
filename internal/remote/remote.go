// Package remote rewrites agent invocations for execution on another
// host over ssh. Terminal spawns never pass through here; interactive
// PTY sessions require direct local stdin and stdout.
package remote

import (
	"strings"

	"pkt.systems/coxswain/schema"
)

// WrapCommand wraps command+args into an ssh argv targeting
// cfg.Target. The remote working directory is cfg.WorkingDir, falling
// back to localCwd. A nil or disabled config returns the invocation
// unchanged.
func WrapCommand(cfg *schema.RemoteConfig, command string, args []string, localCwd string) (string, []string) {
	if cfg == nil || !cfg.Enabled || strings.TrimSpace(cfg.Target) == "" {
		return command, args
	}
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, quote(command))
	for _, arg := range args {
		parts = append(parts, quote(arg))
	}
	remoteCmd := "exec " + strings.Join(parts, " ")
	dir := cfg.WorkingDir
	if dir == "" {
		dir = localCwd
	}
	if dir != "" {
		remoteCmd = "cd " + quote(dir) + " && " + remoteCmd
	}
	return "ssh", []string{"-t", cfg.Target, remoteCmd}
}

// quote single-quotes s for a remote POSIX shell when it contains
// anything the shell would interpret.
func quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$&|;<>(){}[]*?~#`!") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
