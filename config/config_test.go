package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func wantConfigError(t *testing.T, err error, key string) {
	t.Helper()
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConfigError, got %T: %v", err, err)
	}
	if ce.Key != key {
		t.Errorf("ConfigError.Key = %q, want %q (reason %q)", ce.Key, key, ce.Reason)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Display.RefreshInterval != 2 {
		t.Errorf("RefreshInterval = %v, want 2", cfg.Display.RefreshInterval)
	}
	if cfg.Display.RefreshDuration() != 2*time.Second {
		t.Errorf("RefreshDuration = %v, want 2s", cfg.Display.RefreshDuration())
	}
	if cfg.Display.ShowPerCPU {
		t.Error("expected ShowPerCPU false by default")
	}
	if !cfg.Display.ShowProcesses {
		t.Error("expected ShowProcesses true by default")
	}
	if cfg.Display.ProcessCount != 5 {
		t.Errorf("ProcessCount = %d, want 5", cfg.Display.ProcessCount)
	}
	if cfg.Display.ProgressBarWidth != 30 {
		t.Errorf("ProgressBarWidth = %d, want 30", cfg.Display.ProgressBarWidth)
	}
	if cfg.Storage.Backend != BackendJSON || cfg.Storage.MaxRecords != 1000 {
		t.Errorf("storage defaults = %+v", cfg.Storage)
	}
	if cfg.Storage.FlushDuration() != 10*time.Second {
		t.Errorf("FlushDuration = %v, want 10s", cfg.Storage.FlushDuration())
	}
	if cfg.Alerts.CPUThreshold != 80 || cfg.Alerts.MemoryThreshold != 85 || cfg.Alerts.DiskThreshold != 90 {
		t.Errorf("alert thresholds = %+v", cfg.Alerts)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("Load() = %+v, want defaults", cfg)
	}
}

func TestLoadOverridesKeyByKey(t *testing.T) {
	path := writeConfig(t, `
display:
  refresh_interval: 0.5
  show_per_cpu: true
sampling:
  interfaces: [eth0, wlan0]
storage:
  backend: sqlite
`)

	cfg, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Display.RefreshInterval != 0.5 || !cfg.Display.ShowPerCPU {
		t.Errorf("display = %+v", cfg.Display)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Display.ProcessCount != 5 || !cfg.Display.ShowProcesses {
		t.Errorf("unset display keys lost defaults: %+v", cfg.Display)
	}
	if !reflect.DeepEqual(cfg.Sampling.Interfaces, []string{"eth0", "wlan0"}) {
		t.Errorf("Interfaces = %v", cfg.Sampling.Interfaces)
	}
	if cfg.Storage.Backend != BackendSQLite || cfg.Storage.MaxRecords != 1000 {
		t.Errorf("storage = %+v", cfg.Storage)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := NewStore(writeConfig(t, "")).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("empty file should load defaults, got %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		key     string
	}{
		{"unknown section", "colours:\n  fg: red\n", "colours"},
		{"unknown key", "display:\n  refresh_rate: 3\n", "display.refresh_rate"},
		{"type mismatch", "display:\n  refresh_interval: fast\n", "display.refresh_interval"},
		{"section not mapping", "display: 3\n", "display"},
		{"out of range", "display:\n  process_count: 0\n", "display.process_count"},
		{"bad backend", "storage:\n  backend: redis\n", "storage.backend"},
		{"bad level", "logging:\n  level: verbose\n", "logging.level"},
		{"NaN refresh", "display:\n  refresh_interval: .nan\n", "display.refresh_interval"},
		{"NaN threshold", "alerts:\n  cpu_threshold: .nan\n", "alerts.cpu_threshold"},
		{"syntax error", "display: [unterminated\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStore(writeConfig(t, tt.content)).Load()
			wantConfigError(t, err, tt.key)
		})
	}
}

func TestSetThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sysmon", "config.yaml")
	s := NewStore(path)

	if err := s.Set("display.refresh_interval", "1.5"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("sampling.mounts", "[/, /home]"); err != nil {
		t.Fatalf("Set mounts: %v", err)
	}

	cfg, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Display.RefreshInterval != 1.5 {
		t.Errorf("RefreshInterval = %v, want 1.5", cfg.Display.RefreshInterval)
	}
	if !reflect.DeepEqual(cfg.Sampling.Mounts, []string{"/", "/home"}) {
		t.Errorf("Mounts = %v", cfg.Sampling.Mounts)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config perm = %o, want 600", perm)
	}
}

func TestInvalidSetLeavesFileAndMemoryUntouched(t *testing.T) {
	path := writeConfig(t, "display:\n  refresh_interval: 3\n")
	before, _ := os.ReadFile(path)

	s := NewStore(path)
	if _, err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		key, value, errKey string
	}{
		{"display.refresh_interval", "0", "display.refresh_interval"},
		{"display.refresh_interval", "abc", "display.refresh_interval"},
		{"display.nope", "1", "display.nope"},
		{"storage.backend", "redis", "storage.backend"},
		{"display.refresh_interval", ".nan", "display.refresh_interval"},
		{"display.refresh_interval", ".inf", "display.refresh_interval"},
		{"storage.flush_interval", ".nan", "storage.flush_interval"},
		{"alerts.cpu_threshold", ".nan", "alerts.cpu_threshold"},
		{"alerts.memory_threshold", ".nan", "alerts.memory_threshold"},
	}
	for _, tt := range tests {
		wantConfigError(t, s.Set(tt.key, tt.value), tt.errKey)
	}

	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Errorf("file changed after failed Set:\nbefore %s\nafter  %s", before, after)
	}
	got, err := s.Get("display.refresh_interval")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != 3.0 {
		t.Errorf("in-memory refresh_interval = %v, want 3", got)
	}
}

func TestResetThenLoad(t *testing.T) {
	path := writeConfig(t, "display:\n  process_count: 20\n")
	s := NewStore(path)

	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	cfg, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("Load after Reset = %+v, want defaults", cfg)
	}
}

func TestGet(t *testing.T) {
	s := NewStore(writeConfig(t, "alerts:\n  cpu_threshold: 70\n"))

	got, err := s.Get("alerts.cpu_threshold")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != 70.0 {
		t.Errorf("Get = %v, want 70", got)
	}

	section, err := s.Get("alerts")
	if err != nil {
		t.Fatalf("Get section: %v", err)
	}
	if a, ok := section.(AlertsConfig); !ok || a.MemoryThreshold != 85 {
		t.Errorf("Get(alerts) = %#v", section)
	}

	_, err = s.Get("alerts.nope.deeper")
	wantConfigError(t, err, "alerts.nope")
}

func TestMarshalRoundTrip(t *testing.T) {
	s := NewStore(writeConfig(t, "display:\n  history_size: 120\n"))
	data, err := s.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), "history_size: 120") {
		t.Errorf("Marshal output missing history_size:\n%s", data)
	}

	cfg, err := NewStore(writeConfig(t, string(data))).Load()
	if err != nil {
		t.Fatalf("reload marshalled config: %v", err)
	}
	if cfg.Display.HistorySize != 120 {
		t.Errorf("HistorySize = %d, want 120", cfg.Display.HistorySize)
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("SYSMON_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultPath(); got != filepath.Join("/xdg", "sysmon", "config.yaml") {
		t.Errorf("DefaultPath() = %q", got)
	}

	t.Setenv("SYSMON_CONFIG", "/etc/sysmon.yaml")
	if got := DefaultPath(); got != "/etc/sysmon.yaml" {
		t.Errorf("DefaultPath() with SYSMON_CONFIG = %q", got)
	}
}

func TestResolvedPaths(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	t.Setenv("XDG_STATE_HOME", "/state")

	s := DefaultConfig().Storage
	if got := s.ResolvedPath(); got != "/data/sysmon/history.json" {
		t.Errorf("json ResolvedPath = %q", got)
	}
	s.Backend = BackendSQLite
	if got := s.ResolvedPath(); got != "/data/sysmon/history.db" {
		t.Errorf("sqlite ResolvedPath = %q", got)
	}
	s.Path = "/tmp/h.db"
	if got := s.ResolvedPath(); got != "/tmp/h.db" {
		t.Errorf("explicit ResolvedPath = %q", got)
	}

	if got := DefaultConfig().Logging.ResolvedFile(); got != "/state/sysmon/sysmon.log" {
		t.Errorf("ResolvedFile = %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		key    string
	}{
		{"refresh too small", func(c *Config) { c.Display.RefreshInterval = 0.05 }, "display.refresh_interval"},
		{"refresh too large", func(c *Config) { c.Display.RefreshInterval = 4000 }, "display.refresh_interval"},
		{"refresh NaN", func(c *Config) { c.Display.RefreshInterval = math.NaN() }, "display.refresh_interval"},
		{"refresh infinite", func(c *Config) { c.Display.RefreshInterval = math.Inf(1) }, "display.refresh_interval"},
		{"flush interval NaN", func(c *Config) { c.Storage.FlushInterval = math.NaN() }, "storage.flush_interval"},
		{"flush interval infinite", func(c *Config) { c.Storage.FlushInterval = math.Inf(1) }, "storage.flush_interval"},
		{"cpu threshold NaN", func(c *Config) { c.Alerts.CPUThreshold = math.NaN() }, "alerts.cpu_threshold"},
		{"disk threshold NaN", func(c *Config) { c.Alerts.DiskThreshold = math.NaN() }, "alerts.disk_threshold"},
		{"bar width", func(c *Config) { c.Display.ProgressBarWidth = 2 }, "display.progress_bar_width"},
		{"history size", func(c *Config) { c.Display.HistorySize = 1 }, "display.history_size"},
		{"max records", func(c *Config) { c.Storage.MaxRecords = 0 }, "storage.max_records"},
		{"flush interval", func(c *Config) { c.Storage.FlushInterval = 0 }, "storage.flush_interval"},
		{"batch size", func(c *Config) { c.Storage.BatchSize = 0 }, "storage.batch_size"},
		{"memory threshold", func(c *Config) { c.Alerts.MemoryThreshold = 120 }, "alerts.memory_threshold"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"exporter addr", func(c *Config) { c.Exporter.Enabled = true; c.Exporter.ListenAddr = "" }, "exporter.listen_addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			wantConfigError(t, cfg.Validate(), tt.key)
		})
	}
}

func TestConfigErrorMessage(t *testing.T) {
	err := &ConfigError{Key: "display.process_count", Reason: "must be between 1 and 100, got 0"}
	if got := err.Error(); got != "display.process_count: must be between 1 and 100, got 0" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&ConfigError{Reason: "parse failed"}).Error(); got != "parse failed" {
		t.Errorf("Error() without key = %q", got)
	}
}

func TestKeys(t *testing.T) {
	keys := Keys()
	if keys[0] != "display.refresh_interval" {
		t.Errorf("Keys()[0] = %q", keys[0])
	}
	for _, want := range []string{"sampling.mounts", "storage.batch_size", "exporter.listen_addr"} {
		found := false
		for _, k := range keys {
			if k == want {
				found = true
			}
		}
		if !found {
			t.Errorf("Keys() missing %q", want)
		}
	}
}

func TestDefaultValue(t *testing.T) {
	tests := []struct {
		key  string
		want any
	}{
		{"display.refresh_interval", 2.0},
		{"storage.backend", BackendJSON},
		{"storage.max_records", 1000},
		{"alerts.enabled", true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := DefaultValue(tt.key)
			if err != nil {
				t.Fatalf("DefaultValue: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DefaultValue = %#v, want %#v", got, tt.want)
			}
		})
	}

	for _, key := range Keys() {
		if _, err := DefaultValue(key); err != nil {
			t.Errorf("DefaultValue(%q): %v", key, err)
		}
	}

	_, err := DefaultValue("display.bogus")
	wantConfigError(t, err, "display.bogus")
}
