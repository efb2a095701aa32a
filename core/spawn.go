package core

import (
	"fmt"
	"strings"
	"time"

	"pkt.systems/coxswain/internal/logx"
	"pkt.systems/coxswain/internal/remote"
	"pkt.systems/coxswain/internal/shellenv"
	"pkt.systems/coxswain/schema"
	"pkt.systems/pslog"
)

// resolveSpawn turns a ProcessConfig into a fully resolved spawnSpec.
// Terminal modes ignore Command/Args and any remote configuration;
// agent mode spawns the command verbatim, wrapped for remote execution
// when the session asks for it.
func (s *service) resolveSpawn(cfg schema.ProcessConfig) (spawnSpec, error) {
	spec := spawnSpec{
		Dir:  cfg.Cwd,
		Cols: cfg.Cols,
		Rows: cfg.Rows,
	}
	if spec.Cols <= 0 {
		spec.Cols = s.cfg.DefaultCols
	}
	if spec.Rows <= 0 {
		spec.Rows = s.cfg.DefaultRows
	}
	switch cfg.Mode {
	case schema.ModeTerminal, schema.ModeEmbeddedTerminal:
		override := cfg.Shell
		if override == "" {
			override = s.cfg.DefaultShell
		}
		shellArgs := cfg.ShellArgs
		if shellArgs == "" {
			shellArgs = s.cfg.ShellArgs
		}
		args, err := shellenv.LoginArgs(shellArgs)
		if err != nil {
			return spawnSpec{}, err
		}
		spec.Command = shellenv.ResolveShell(override)
		spec.Args = args
		if cfg.Mode == schema.ModeEmbeddedTerminal {
			spec.Env = shellenv.EmbeddedEnv()
		} else {
			spec.Env = shellenv.TerminalEnv(cfg.Env)
		}
	case schema.ModeAgent:
		if strings.TrimSpace(cfg.Command) == "" {
			return spawnSpec{}, schema.ErrEmptyCommand
		}
		command, args := remote.WrapCommand(cfg.Remote, cfg.Command, cfg.Args, cfg.Cwd)
		spec.Command = command
		spec.Args = args
		spec.Env = shellenv.AgentEnv()
		if cfg.Remote != nil && cfg.Remote.Enabled {
			// The remote side owns the working directory; run ssh from
			// a stable local dir.
			spec.Dir = ""
		}
	default:
		return spawnSpec{}, fmt.Errorf("%w: unknown process mode %q", schema.ErrInvalidRequest, cfg.Mode)
	}
	return spec, nil
}

// spawnProcess resolves, starts, and registers one PTY process. All
// failures resolve to an unsuccessful SpawnResult; nothing is ever
// registered for a failed spawn.
func (s *service) spawnProcess(log pslog.Logger, userID schema.UserID, cfg schema.ProcessConfig) schema.SpawnResult {
	log = logx.WithKey(log, cfg.Key)
	if strings.TrimSpace(string(cfg.Key)) == "" {
		return schema.SpawnResult{PID: -1, Error: "process key is required"}
	}
	spec, err := s.resolveSpawn(cfg)
	if err != nil {
		log.Warn("process spawn rejected", "err", err)
		return schema.SpawnResult{PID: -1, Error: err.Error()}
	}

	// A live entry under the same key is replaced, never leaked: kill
	// the old process before starting its successor.
	s.mu.Lock()
	state := s.getOrCreateUserStateLocked(userID)
	prior := state.procs[cfg.Key]
	if prior != nil {
		delete(state.procs, cfg.Key)
	}
	s.mu.Unlock()
	if prior != nil {
		log.Warn("process spawn replacing live entry", "prior_pid", prior.pid)
		_ = prior.proc.Kill()
		_ = prior.proc.Close()
	}

	proc, err := s.start(spec)
	if err != nil {
		log.Warn("process spawn failed", "command", spec.Command, "err", err)
		return schema.SpawnResult{PID: -1, Error: err.Error()}
	}

	mp := &managedProcess{
		key:     cfg.Key,
		mode:    cfg.Mode,
		agentID: cfg.AgentID,
		pid:     proc.PID(),
		command: spec.Command,
		args:    append([]string(nil), spec.Args...),
		cwd:     spec.Dir,
		started: time.Now(),
		proc:    proc,
	}
	s.mu.Lock()
	state = s.getOrCreateUserStateLocked(userID)
	state.procs[cfg.Key] = mp
	s.mu.Unlock()

	go s.serveProcess(userID, mp)
	log.Info("process spawned", "mode", cfg.Mode, "pid", mp.pid, "command", spec.Command, "cwd", spec.Dir)
	return schema.SpawnResult{PID: mp.pid, Success: true}
}

// serveProcess copies PTY output to the mode's path until EOF, then
// collects the exit code and runs the exit sequence.
func (s *service) serveProcess(userID schema.UserID, mp *managedProcess) {
	buf := make([]byte, 32*1024)
	for {
		n, err := mp.proc.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.handleOutput(userID, mp, string(chunk))
		}
		if err != nil {
			break
		}
	}
	code := mp.proc.Wait()
	_ = mp.proc.Close()
	s.handleExit(userID, mp, code)
}
