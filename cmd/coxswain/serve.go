package main

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/coxswain"
	"pkt.systems/coxswain/core"
	"pkt.systems/coxswain/httpapi"
	"pkt.systems/coxswain/internal/agentcatalog"
	"pkt.systems/coxswain/internal/appconfig"
	"pkt.systems/coxswain/internal/history"
	"pkt.systems/coxswain/internal/persist"
	"pkt.systems/coxswain/schema"
	"pkt.systems/coxswain/sshserver"
	"pkt.systems/pslog"
)

//go:embed assets/LOGO.txt
var serveLogo string

func newServeCmd() *cobra.Command {
	var cfgPath string
	var noBanner bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start coxswain servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			logMode := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_MODE")))
			showBanner := !noBanner && logMode != "json" && logMode != "structured"
			if showBanner && serveLogo != "" {
				_, _ = fmt.Fprint(cmd.OutOrStdout(), serveLogo)
			}
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}

			historyStore, err := history.NewStore(cfg.History.Keystore, cfg.History.Dir, cfg.History.MaxEntries, logger)
			if err != nil {
				return err
			}
			stateStore, err := persist.NewStoreWithLogger(filepath.Join(cfg.StateDir, "sessions"), logger)
			if err != nil {
				return err
			}
			catalog := agentcatalog.New(toAgentEntries(cfg.Agents))

			serverCfg := coxswain.ServerConfig{
				Service:    toServiceConfig(cfg),
				HTTP:       toHTTPConfig(cfg),
				SSH:        toSSHConfig(cfg.SSH),
				Auth:       toAuthConfig(cfg.Auth),
				HubHistory: 1000,
			}
			serverDeps := coxswain.ServerDeps{
				ServiceDeps: core.ServiceDeps{
					History: historyStore,
					Agents:  catalog,
					Store:   stateStore,
					Logger:  logger,
				},
			}
			server, err := coxswain.New(serverCfg, serverDeps, coxswain.WithHTTP(), coxswain.WithSSH())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			logger.Info("http server listening", "addr", serverCfg.HTTP.Addr)
			logger.Info("ssh server listening", "addr", serverCfg.SSH.Addr)
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&noBanner, "no-banner", false, "disable startup banner")
	return cmd
}

func toServiceConfig(cfg appconfig.Config) schema.ServiceConfig {
	return schema.ServiceConfig{
		StateDir:          cfg.StateDir,
		FlushInterval:     time.Duration(cfg.Service.FlushIntervalMS) * time.Millisecond,
		BufferMaxLines:    cfg.Service.ScrollbackMaxLines,
		ClosedTabHistory:  cfg.Service.ClosedTabHistory,
		HistoryMaxEntries: cfg.History.MaxEntries,
		DefaultShell:      cfg.Shell.Default,
		ShellArgs:         cfg.Shell.ExtraArgs,
	}
}

func toAgentEntries(agents map[string]appconfig.AgentConfig) map[schema.AgentID]agentcatalog.Entry {
	entries := make(map[schema.AgentID]agentcatalog.Entry, len(agents))
	for id, agent := range agents {
		entries[schema.AgentID(id)] = agentcatalog.Entry{
			Command: agent.Command,
			Args:    agent.Args,
		}
	}
	return entries
}

func toHTTPConfig(cfg appconfig.Config) httpapi.Config {
	return httpapi.Config{
		Addr:               cfg.HTTP.Addr,
		SessionCookie:      cfg.HTTP.SessionCookie,
		SessionTTLHours:    cfg.HTTP.SessionTTLHours,
		SessionFile:        filepath.Join(cfg.StateDir, "http_sessions.json"),
		BaseURL:            cfg.HTTP.BaseURL,
		BasePath:           cfg.HTTP.BasePath,
		InitialBufferLines: cfg.HTTP.InitialBufferLines,
	}
}

func toSSHConfig(cfg appconfig.SSHConfig) sshserver.Config {
	return sshserver.Config{
		Addr:        cfg.Addr,
		HostKeyPath: cfg.HostKeyPath,
	}
}

func toAuthConfig(cfg appconfig.AuthConfig) coxswain.AuthConfig {
	seeds := make([]coxswain.SeedUser, 0, len(cfg.SeedUsers))
	for _, seed := range cfg.SeedUsers {
		seeds = append(seeds, coxswain.SeedUser{
			Username:     seed.Username,
			PasswordHash: seed.PasswordHash,
			TOTPSecret:   seed.TOTPSecret,
		})
	}
	return coxswain.AuthConfig{
		UserFile:  cfg.UserFile,
		SeedUsers: seeds,
	}
}
