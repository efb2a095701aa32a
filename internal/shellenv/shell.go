// Package shellenv resolves shell binaries and builds process
// environments for PTY spawns.
package shellenv

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/shlex"
)

// probeDirs is the fixed lookup order for bare shell names. PATH is
// deliberately not consulted; spawns must resolve the same way
// regardless of the server's own environment.
var probeDirs = []string{
	"/bin",
	"/usr/bin",
	"/usr/local/bin",
	"/opt/homebrew/bin",
}

// ResolveShell picks the shell binary for a terminal spawn: the
// override when given, else $SHELL, else a platform default. Bare
// names are rewritten to the first existing executable in the fixed
// probe directories; unresolvable names are returned as-is for the
// OS to reject at spawn time.
func ResolveShell(override string) string {
	shell := strings.TrimSpace(override)
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = defaultShell()
	}
	if runtime.GOOS == "windows" {
		return shell
	}
	if filepath.Base(shell) == shell {
		if resolved, ok := lookupIn(probeDirs, shell); ok {
			return resolved
		}
	}
	return shell
}

func defaultShell() string {
	switch runtime.GOOS {
	case "windows":
		if comspec := os.Getenv("COMSPEC"); comspec != "" {
			return comspec
		}
		return "cmd.exe"
	case "darwin":
		return "/bin/zsh"
	default:
		return "/bin/bash"
	}
}

func lookupIn(dirs []string, name string) (string, bool) {
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if info.Mode()&0o111 == 0 {
			continue
		}
		return candidate, true
	}
	return "", false
}

// LoginArgs builds the shell argument list: login and interactive
// flags first, then any extra arguments tokenized quote-aware so
// quoted multi-word values stay single tokens.
func LoginArgs(extraArgs string) ([]string, error) {
	args := []string{"-l", "-i"}
	extra := strings.TrimSpace(extraArgs)
	if extra == "" {
		return args, nil
	}
	tokens, err := shlex.Split(extra)
	if err != nil {
		return nil, fmt.Errorf("parse shell args: %w", err)
	}
	return append(args, tokens...), nil
}
