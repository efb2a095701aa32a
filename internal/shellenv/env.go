package shellenv

import (
	"os"
	"sort"
	"strings"
)

const defaultTerm = "xterm-256color"

// TerminalEnv builds the curated environment for legacy terminal
// spawns: TERM, HOME, USER, LANG, and a fixed PATH, merged with
// caller-supplied variables. Caller values win on conflict.
func TerminalEnv(extra map[string]string) []string {
	env := map[string]string{
		"TERM": defaultTerm,
		"PATH": SearchPath(),
	}
	for _, key := range []string{"HOME", "USER", "LANG"} {
		if v, ok := os.LookupEnv(key); ok {
			env[key] = v
		}
	}
	for k, v := range extra {
		env[k] = v
	}
	return flatten(env)
}

// EmbeddedEnv passes the full parent environment through with TERM
// pinned for the front-end emulator; the login shell sources the rest.
func EmbeddedEnv() []string {
	env := environMap()
	env["TERM"] = defaultTerm
	return flatten(env)
}

// AgentEnv returns the parent environment unmodified.
func AgentEnv() []string {
	return os.Environ()
}

func environMap() map[string]string {
	env := make(map[string]string, 64)
	for _, entry := range os.Environ() {
		if k, v, ok := strings.Cut(entry, "="); ok {
			env[k] = v
		}
	}
	return env
}

func flatten(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
