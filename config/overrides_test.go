package config

import (
	"reflect"
	"testing"

	"github.com/spf13/pflag"
)

func TestApplyOverridesFromEnv(t *testing.T) {
	t.Setenv("SYSMON_DISPLAY_REFRESH_INTERVAL", "0.5")
	t.Setenv("SYSMON_SAMPLING_INTERFACES", "eth0, wlan0")
	t.Setenv("SYSMON_STORAGE_ENABLED", "true")

	cfg := DefaultConfig()
	if err := ApplyOverrides(cfg, NewViper()); err != nil {
		t.Fatalf("ApplyOverrides: %v", err)
	}

	if cfg.Display.RefreshInterval != 0.5 {
		t.Errorf("RefreshInterval = %v, want 0.5", cfg.Display.RefreshInterval)
	}
	if !reflect.DeepEqual(cfg.Sampling.Interfaces, []string{"eth0", "wlan0"}) {
		t.Errorf("Interfaces = %v", cfg.Sampling.Interfaces)
	}
	if !cfg.Storage.Enabled {
		t.Error("Storage.Enabled not overridden")
	}
	if cfg.Display.ProcessCount != 5 {
		t.Errorf("untouched key changed: ProcessCount = %d", cfg.Display.ProcessCount)
	}
}

func TestApplyOverridesFromFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Float64("interval", 2, "")
	fs.Bool("per-cpu", false, "")
	fs.Bool("no-processes", false, "")

	v := NewViper()
	if err := v.BindPFlag("display.refresh_interval", fs.Lookup("interval")); err != nil {
		t.Fatal(err)
	}
	if err := v.BindPFlag("display.show_per_cpu", fs.Lookup("per-cpu")); err != nil {
		t.Fatal(err)
	}
	if err := fs.Parse([]string{"--interval", "5", "--per-cpu"}); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	if err := ApplyOverrides(cfg, v); err != nil {
		t.Fatalf("ApplyOverrides: %v", err)
	}
	if cfg.Display.RefreshInterval != 5 {
		t.Errorf("RefreshInterval = %v, want 5", cfg.Display.RefreshInterval)
	}
	if !cfg.Display.ShowPerCPU {
		t.Error("ShowPerCPU not overridden by flag")
	}
}

func TestApplyOverridesInvalid(t *testing.T) {
	t.Setenv("SYSMON_DISPLAY_PROCESS_COUNT", "lots")

	err := ApplyOverrides(DefaultConfig(), NewViper())
	wantConfigError(t, err, "display.process_count")
}

func TestApplyOverridesOutOfRange(t *testing.T) {
	t.Setenv("SYSMON_DISPLAY_REFRESH_INTERVAL", "0")

	err := ApplyOverrides(DefaultConfig(), NewViper())
	wantConfigError(t, err, "display.refresh_interval")
}

func TestApplyOverridesNilViper(t *testing.T) {
	cfg := DefaultConfig()
	if err := ApplyOverrides(cfg, nil); err != nil {
		t.Fatalf("ApplyOverrides(nil): %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Error("nil viper changed config")
	}
}
