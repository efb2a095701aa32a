package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"pkt.systems/coxswain/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int                    `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string                 `mapstructure:"state_dir" yaml:"state_dir"`
	Service       ServiceConfig          `mapstructure:"service" yaml:"service"`
	Shell         ShellConfig            `mapstructure:"shell" yaml:"shell"`
	Agents        map[string]AgentConfig `mapstructure:"agents" yaml:"agents"`
	History       HistoryConfig          `mapstructure:"history" yaml:"history"`
	HTTP          HTTPConfig             `mapstructure:"http" yaml:"http"`
	SSH           SSHConfig              `mapstructure:"ssh" yaml:"ssh"`
	Auth          AuthConfig             `mapstructure:"auth" yaml:"auth"`
	Logging       LoggingConfig          `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 2

// ServiceConfig controls core service behavior.
type ServiceConfig struct {
	FlushIntervalMS    int `mapstructure:"flush_interval_ms" yaml:"flush_interval_ms"`
	ScrollbackMaxLines int `mapstructure:"scrollback_max_lines" yaml:"scrollback_max_lines"`
	ClosedTabHistory   int `mapstructure:"closed_tab_history" yaml:"closed_tab_history"`
}

// ShellConfig overrides shell resolution for terminal tabs.
type ShellConfig struct {
	Default   string `mapstructure:"default" yaml:"default"`
	ExtraArgs string `mapstructure:"extra_args" yaml:"extra_args"`
}

// AgentConfig maps an agent id to the command that launches it.
type AgentConfig struct {
	Command string   `mapstructure:"command" yaml:"command"`
	Args    []string `mapstructure:"args" yaml:"args"`
}

// HistoryConfig configures encrypted prompt-history storage.
type HistoryConfig struct {
	Dir        string `mapstructure:"dir" yaml:"dir"`
	Keystore   string `mapstructure:"keystore" yaml:"keystore"`
	MaxEntries int    `mapstructure:"max_entries" yaml:"max_entries"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr               string `mapstructure:"addr" yaml:"addr"`
	SessionCookie      string `mapstructure:"session_cookie" yaml:"session_cookie"`
	SessionTTLHours    int    `mapstructure:"session_ttl_hours" yaml:"session_ttl_hours"`
	BaseURL            string `mapstructure:"base_url" yaml:"base_url"`
	BasePath           string `mapstructure:"base_path" yaml:"base_path"`
	InitialBufferLines int    `mapstructure:"initial_buffer_lines" yaml:"initial_buffer_lines"`
}

// SSHConfig configures the SSH attach server.
type SSHConfig struct {
	Addr        string `mapstructure:"addr" yaml:"addr"`
	HostKeyPath string `mapstructure:"host_key_path" yaml:"host_key_path"`
}

// AuthConfig configures auth storage and seed users.
type AuthConfig struct {
	UserFile  string     `mapstructure:"user_file" yaml:"user_file"`
	SeedUsers []SeedUser `mapstructure:"seed_users" yaml:"seed_users"`
}

// LoggingConfig controls audit logging behavior.
type LoggingConfig struct {
	DisableAuditTrails bool `mapstructure:"disable_audit_trails" yaml:"disable_audit_trails"`
}

// SeedUser seeds a user record in the auth store.
type SeedUser struct {
	Username     string `mapstructure:"username" yaml:"username"`
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash"`
	TOTPSecret   string `mapstructure:"totp_secret" yaml:"totp_secret"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".coxswain", "state"),
		Service: ServiceConfig{
			FlushIntervalMS:    int(schema.DefaultFlushInterval / time.Millisecond),
			ScrollbackMaxLines: schema.DefaultBufferMaxLines,
			ClosedTabHistory:   schema.DefaultClosedTabHistory,
		},
		Shell: ShellConfig{
			Default:   "",
			ExtraArgs: "",
		},
		Agents: map[string]AgentConfig{
			"claude": {Command: "claude"},
			"codex":  {Command: "codex"},
		},
		History: HistoryConfig{
			Dir:        filepath.Join(home, ".coxswain", "state", "history"),
			Keystore:   filepath.Join(home, ".coxswain", "state", "history.keys"),
			MaxEntries: schema.DefaultHistoryMaxEntries,
		},
		HTTP: HTTPConfig{
			Addr:               ":26480",
			SessionCookie:      "coxswain_session",
			SessionTTLHours:    720,
			BaseURL:            "",
			BasePath:           "",
			InitialBufferLines: 200,
		},
		SSH: SSHConfig{
			Addr:        ":26422",
			HostKeyPath: filepath.Join(home, ".coxswain", "ssh_host_key"),
		},
		Auth: AuthConfig{
			UserFile:  filepath.Join(home, ".coxswain", "users.json"),
			SeedUsers: []SeedUser{},
		},
		Logging: LoggingConfig{
			DisableAuditTrails: false,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".coxswain", "config.yaml"), nil
}
