// Package config loads, validates and persists the sysmon configuration.
//
// The configuration is layered: built-in defaults, then the YAML file, then
// environment and flag overrides (see ApplyOverrides). Only the first two
// layers are ever written back to disk.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	// Display controls the live dashboard.
	Display DisplayConfig `yaml:"display"`

	// Sampling selects which mounts and interfaces the sampler reads.
	Sampling SamplingConfig `yaml:"sampling"`

	// Storage configures snapshot persistence.
	Storage StorageConfig `yaml:"storage"`

	// Alerts holds the threshold alert settings.
	Alerts AlertsConfig `yaml:"alerts"`

	// Logging configures the slog handler.
	Logging LoggingConfig `yaml:"logging"`

	// Exporter configures the optional Prometheus endpoint.
	Exporter ExporterConfig `yaml:"exporter"`
}

// DisplayConfig holds dashboard settings.
type DisplayConfig struct {
	// RefreshInterval is the sampling and redraw interval in seconds.
	RefreshInterval float64 `yaml:"refresh_interval"`
	// ShowPerCPU renders a gauge per core.
	ShowPerCPU bool `yaml:"show_per_cpu"`
	// ShowProcesses renders the top-process table.
	ShowProcesses bool `yaml:"show_processes"`
	// ProcessCount bounds the top-process table.
	ProcessCount int `yaml:"process_count"`
	// ProgressBarWidth is the gauge width in cells.
	ProgressBarWidth int `yaml:"progress_bar_width"`
	// HistorySize is the in-memory ring capacity used for trends.
	HistorySize int `yaml:"history_size"`
}

// SamplingConfig narrows what the sampler reads.
type SamplingConfig struct {
	// Mounts restricts disk usage to these mount points; empty means all.
	Mounts []string `yaml:"mounts"`
	// Interfaces restricts network counters to these NICs; empty means all.
	Interfaces []string `yaml:"interfaces"`
	// DiskIO enables cumulative disk I/O counters.
	DiskIO bool `yaml:"disk_io"`
	// PerInterface enables the per-NIC breakdown.
	PerInterface bool `yaml:"per_interface"`
}

// Storage backend names.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// StorageConfig configures snapshot persistence.
type StorageConfig struct {
	// Enabled turns persistence on for `sysmon monitor`.
	Enabled bool `yaml:"enabled"`
	// Backend is "json" or "sqlite".
	Backend string `yaml:"backend"`
	// Path is the store location. Empty resolves under the XDG data dir.
	Path string `yaml:"path"`
	// MaxRecords is the retention bound; older snapshots are discarded.
	MaxRecords int `yaml:"max_records"`
	// FlushInterval is how often pending snapshots are written, in seconds.
	FlushInterval float64 `yaml:"flush_interval"`
	// BatchSize triggers an early flush once this many snapshots are pending.
	BatchSize int `yaml:"batch_size"`
}

// AlertsConfig holds threshold alert settings, in percent.
type AlertsConfig struct {
	Enabled         bool    `yaml:"enabled"`
	CPUThreshold    float64 `yaml:"cpu_threshold"`
	MemoryThreshold float64 `yaml:"memory_threshold"`
	DiskThreshold   float64 `yaml:"disk_threshold"`
}

// LoggingConfig configures the log handler.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
	// File is the log destination. Empty resolves under the XDG state dir.
	File string `yaml:"file"`
}

// ExporterConfig configures the Prometheus endpoint.
type ExporterConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Display: DisplayConfig{
			RefreshInterval:  2,
			ShowPerCPU:       false,
			ShowProcesses:    true,
			ProcessCount:     5,
			ProgressBarWidth: 30,
			HistorySize:      60,
		},
		Sampling: SamplingConfig{
			Mounts:       []string{},
			Interfaces:   []string{},
			DiskIO:       true,
			PerInterface: false,
		},
		Storage: StorageConfig{
			Enabled:       false,
			Backend:       BackendJSON,
			Path:          "",
			MaxRecords:    1000,
			FlushInterval: 10,
			BatchSize:     10,
		},
		Alerts: AlertsConfig{
			Enabled:         true,
			CPUThreshold:    80,
			MemoryThreshold: 85,
			DiskThreshold:   90,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
		Exporter: ExporterConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9273",
		},
	}
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := *c
	out.Sampling.Mounts = append([]string{}, c.Sampling.Mounts...)
	out.Sampling.Interfaces = append([]string{}, c.Sampling.Interfaces...)
	return &out
}

// RefreshDuration returns display.refresh_interval as a duration.
func (d DisplayConfig) RefreshDuration() time.Duration {
	return seconds(d.RefreshInterval)
}

// FlushDuration returns storage.flush_interval as a duration.
func (s StorageConfig) FlushDuration() time.Duration {
	return seconds(s.FlushInterval)
}

// ResolvedPath returns the store location, filling in the default
// $XDG_DATA_HOME/sysmon/history.{json,db} when Path is empty.
func (s StorageConfig) ResolvedPath() string {
	if s.Path != "" {
		return expandHome(s.Path)
	}
	name := "history.json"
	if s.Backend == BackendSQLite {
		name = "history.db"
	}
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "sysmon", name)
}

// ResolvedFile returns the log file, filling in the default
// $XDG_STATE_HOME/sysmon/sysmon.log when File is empty.
func (l LoggingConfig) ResolvedFile() string {
	if l.File != "" {
		return expandHome(l.File)
	}
	return filepath.Join(xdgDir("XDG_STATE_HOME", ".local", "state"), "sysmon", "sysmon.log")
}

// DefaultPath returns the config file location: $SYSMON_CONFIG if set,
// otherwise $XDG_CONFIG_HOME/sysmon/config.yaml.
func DefaultPath() string {
	if p := os.Getenv("SYSMON_CONFIG"); p != "" {
		return expandHome(p)
	}
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "sysmon", "config.yaml")
}

// Validate checks every field against its allowed range. The first
// violation is returned as a *ConfigError.
func (c *Config) Validate() error {
	d := c.Display
	if !finite(d.RefreshInterval) {
		return invalid("display.refresh_interval", "must be a finite number, got %g", d.RefreshInterval)
	}
	if d.RefreshInterval < 0.1 || d.RefreshInterval > 3600 {
		return invalid("display.refresh_interval", "must be between 0.1 and 3600 seconds, got %g", d.RefreshInterval)
	}
	if d.ProcessCount < 1 || d.ProcessCount > 100 {
		return invalid("display.process_count", "must be between 1 and 100, got %d", d.ProcessCount)
	}
	if d.ProgressBarWidth < 5 || d.ProgressBarWidth > 200 {
		return invalid("display.progress_bar_width", "must be between 5 and 200, got %d", d.ProgressBarWidth)
	}
	if d.HistorySize < 2 || d.HistorySize > 10000 {
		return invalid("display.history_size", "must be between 2 and 10000, got %d", d.HistorySize)
	}

	s := c.Storage
	if s.Backend != BackendJSON && s.Backend != BackendSQLite {
		return invalid("storage.backend", "must be 'json' or 'sqlite', got %q", s.Backend)
	}
	if s.MaxRecords < 1 {
		return invalid("storage.max_records", "must be at least 1, got %d", s.MaxRecords)
	}
	if !finite(s.FlushInterval) || s.FlushInterval <= 0 {
		return invalid("storage.flush_interval", "must be positive, got %g", s.FlushInterval)
	}
	if s.BatchSize < 1 {
		return invalid("storage.batch_size", "must be at least 1, got %d", s.BatchSize)
	}

	thresholds := []struct {
		key string
		v   float64
	}{
		{"alerts.cpu_threshold", c.Alerts.CPUThreshold},
		{"alerts.memory_threshold", c.Alerts.MemoryThreshold},
		{"alerts.disk_threshold", c.Alerts.DiskThreshold},
	}
	for _, th := range thresholds {
		if !finite(th.v) || th.v <= 0 || th.v > 100 {
			return invalid(th.key, "must be in (0, 100], got %g", th.v)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level", "must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return invalid("logging.format", "must be 'text' or 'json', got %q", c.Logging.Format)
	}

	if c.Exporter.Enabled && c.Exporter.ListenAddr == "" {
		return invalid("exporter.listen_addr", "is required when the exporter is enabled")
	}

	return nil
}

func invalid(key, format string, args ...any) *ConfigError {
	return &ConfigError{Key: key, Reason: fmt.Sprintf(format, args...)}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// xdgDir returns $env, or $HOME joined with fallback.
func xdgDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(append([]string{home}, fallback...)...)
}

func expandHome(p string) string {
	if p == "~" || len(p) > 1 && p[:2] == "~/" {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, p[1:])
	}
	return p
}
