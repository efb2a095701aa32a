package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/coxswain/core"
	"pkt.systems/coxswain/internal/agentcatalog"
	"pkt.systems/coxswain/internal/appconfig"
	"pkt.systems/coxswain/internal/shellenv"
	"pkt.systems/coxswain/schema"
	"pkt.systems/pslog"
)

func newDoctorCmd() *cobra.Command {
	var cfgPath string
	var user string
	var ptyTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run coxswain diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())

			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			configPath := cfgPath
			if strings.TrimSpace(configPath) == "" {
				path, err := appconfig.DefaultConfigPath()
				if err != nil {
					return err
				}
				configPath = path
			}
			logger.Info("doctor start", "config", configPath)

			if err := checkShell(logger, cfg); err != nil {
				return err
			}
			if err := checkStateDir(cfg.StateDir); err != nil {
				return err
			}
			logger.Info("doctor state dir ok", "dir", cfg.StateDir)

			catalog := agentcatalog.New(toAgentEntries(cfg.Agents))
			for _, agent := range catalog.List() {
				if agent.Available {
					logger.Info("doctor agent available", "agent", agent.ID, "command", agent.Command)
				} else {
					logger.Warn("doctor agent unavailable", "agent", agent.ID, "command", agent.Command)
				}
			}

			if err := runShellSmokeTest(cmd.Context(), logger, cfg, schema.UserID(user), ptyTimeout); err != nil {
				return err
			}
			logger.Info("doctor complete")
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&user, "user", "doctor", "username for diagnostics")
	cmd.Flags().DurationVar(&ptyTimeout, "pty-timeout", 15*time.Second, "timeout for the shell smoke test")
	return cmd
}

func checkShell(logger pslog.Logger, cfg appconfig.Config) error {
	shell := shellenv.ResolveShell(cfg.Shell.Default)
	if strings.TrimSpace(shell) == "" {
		return errors.New("no shell could be resolved; set shell.default")
	}
	if filepath.IsAbs(shell) {
		if _, err := os.Stat(shell); err != nil {
			return fmt.Errorf("resolved shell %q: %w", shell, err)
		}
	}
	args, err := shellenv.LoginArgs(cfg.Shell.ExtraArgs)
	if err != nil {
		return fmt.Errorf("shell.extra_args: %w", err)
	}
	logger.Info("doctor shell ok", "shell", shell, "args", strings.Join(args, " "))
	return nil
}

func checkStateDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return errors.New("state_dir is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("state dir: %w", err)
	}
	probe := filepath.Join(dir, fmt.Sprintf(".doctor-%d", time.Now().UnixNano()))
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("state dir not writable: %w", err)
	}
	return os.Remove(probe)
}

// runShellSmokeTest spawns a real PTY-backed shell through the core
// service, asks it to exit, and waits for the registry to drop the
// process.
func runShellSmokeTest(ctx context.Context, logger pslog.Logger, cfg appconfig.Config, user schema.UserID, timeout time.Duration) error {
	svc, err := core.NewService(toServiceConfig(cfg), core.ServiceDeps{Logger: logger})
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	cwd, err := os.Getwd()
	if err != nil {
		cwd = os.TempDir()
	}
	createResp, err := svc.CreateSession(ctx, schema.CreateSessionRequest{UserID: user, Cwd: cwd})
	if err != nil {
		return fmt.Errorf("doctor create session: %w", err)
	}
	sessionID := createResp.Session.ID
	tabResp, err := svc.CreateTerminalTab(ctx, schema.CreateTerminalTabRequest{UserID: user, SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("doctor create tab: %w", err)
	}
	activateResp, err := svc.ActivateTerminalTab(ctx, schema.ActivateTerminalTabRequest{
		UserID:    user,
		SessionID: sessionID,
		TabID:     tabResp.Tab.ID,
		Cols:      80,
		Rows:      24,
	})
	if err != nil {
		return fmt.Errorf("doctor activate tab: %w", err)
	}
	if activateResp.Spawned && !activateResp.Spawn.Success {
		return fmt.Errorf("doctor shell spawn failed: %s", activateResp.Spawn.Error)
	}
	key := schema.ComposeTerminalKey(sessionID, tabResp.Tab.ID)
	logger.Info("doctor shell spawned", "key", key, "pid", activateResp.Spawn.PID)

	writeResp, err := svc.WriteProcess(ctx, schema.WriteProcessRequest{UserID: user, Key: key, Data: "exit\n"})
	if err != nil {
		return fmt.Errorf("doctor shell write: %w", err)
	}
	if !writeResp.OK {
		return errors.New("doctor shell write rejected")
	}

	deadline := time.Now().Add(timeout)
	for {
		resp, err := svc.GetProcess(ctx, schema.GetProcessRequest{UserID: user, Key: key})
		if err != nil {
			return fmt.Errorf("doctor shell poll: %w", err)
		}
		if !resp.Found {
			logger.Info("doctor shell smoke test ok")
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("doctor shell did not exit within %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
