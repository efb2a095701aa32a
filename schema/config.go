package schema

import (
	"os"
	"path/filepath"
	"time"
)

// ServiceConfig defines defaults and limits for the core service.
type ServiceConfig struct {
	StateDir string
	// FlushInterval is the coalescer delay for the filtered output path.
	FlushInterval time.Duration
	// BufferMaxLines bounds each key's scrollback buffer.
	BufferMaxLines int
	// ClosedTabHistory bounds each session's reopen history.
	ClosedTabHistory int
	// HistoryMaxEntries bounds per-session prompt history.
	HistoryMaxEntries int
	// DefaultShell overrides shell resolution when set.
	DefaultShell string
	// ShellArgs are extra shell arguments appended after -l -i,
	// tokenized quote-aware.
	ShellArgs string
	// DefaultCols and DefaultRows size PTYs spawned without an
	// explicit geometry.
	DefaultCols int
	DefaultRows int
}

const (
	// DefaultFlushInterval is the coalescer delay applied when the
	// config leaves it unset.
	DefaultFlushInterval = 16 * time.Millisecond
	// DefaultBufferMaxLines is the default per-key scrollback limit.
	DefaultBufferMaxLines = 5000
	// DefaultClosedTabHistory is the default reopen-history cap.
	DefaultClosedTabHistory = 10
	// DefaultHistoryMaxEntries is the default prompt-history cap.
	DefaultHistoryMaxEntries = 200
	// DefaultCols and DefaultRows are the fallback PTY geometry.
	DefaultCols = 80
	DefaultRows = 24
)

// NormalizeServiceConfig applies defaults and validates the config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if cfg.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ServiceConfig{}, err
		}
		cfg.StateDir = filepath.Join(home, ".coxswain", "state")
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.BufferMaxLines <= 0 {
		cfg.BufferMaxLines = DefaultBufferMaxLines
	}
	if cfg.ClosedTabHistory <= 0 {
		cfg.ClosedTabHistory = DefaultClosedTabHistory
	}
	if cfg.HistoryMaxEntries <= 0 {
		cfg.HistoryMaxEntries = DefaultHistoryMaxEntries
	}
	if cfg.DefaultCols <= 0 {
		cfg.DefaultCols = DefaultCols
	}
	if cfg.DefaultRows <= 0 {
		cfg.DefaultRows = DefaultRows
	}
	return cfg, nil
}
