package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gitlab.com/tinyland/lab/sysmon/collectors"
	"gitlab.com/tinyland/lab/sysmon/collectors/sysmetrics"
	"gitlab.com/tinyland/lab/sysmon/config"
	"gitlab.com/tinyland/lab/sysmon/internal/format"
	"gitlab.com/tinyland/lab/sysmon/storage"
)

// diagnostics prints a checklist and counts hard failures.
type diagnostics struct {
	out    io.Writer
	failed int
}

func (d *diagnostics) section(title string) {
	fmt.Fprintln(d.out)
	fmt.Fprintln(d.out, title)
	fmt.Fprintln(d.out, strings.Repeat("-", 60))
}

func (d *diagnostics) ok(format string, args ...any) {
	fmt.Fprintf(d.out, "   ✅ %s\n", fmt.Sprintf(format, args...))
}

func (d *diagnostics) warn(format string, args ...any) {
	fmt.Fprintf(d.out, "   ⚠️  %s\n", fmt.Sprintf(format, args...))
}

func (d *diagnostics) fail(format string, args ...any) {
	d.failed++
	fmt.Fprintf(d.out, "   ❌ %s\n", fmt.Sprintf(format, args...))
}

func (d *diagnostics) hint(format string, args ...any) {
	fmt.Fprintf(d.out, "   💡 %s\n", fmt.Sprintf(format, args...))
}

func (a *app) newDiagnoseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Check configuration, metric access, storage and the exporter address",
		Long: `Check that the configuration loads, report which metric categories this
user can read, and verify that the store and exporter address are usable.
Unreadable categories are warnings; the command fails only when monitor
could not start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDiagnostics(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func (a *app) runDiagnostics(ctx context.Context, out io.Writer) error {
	d := &diagnostics{out: out}
	fmt.Fprintln(out, "sysmon diagnostics")
	fmt.Fprintln(out, strings.Repeat("=", 60))

	cfg := a.diagnoseConfig(d)
	a.diagnoseMetrics(ctx, d, cfg)
	a.diagnoseStorage(ctx, d, cfg)
	diagnoseLogging(d, cfg)
	diagnoseExporter(d, cfg)

	fmt.Fprintln(out)
	if d.failed > 0 {
		return fmt.Errorf("diagnose: %d check(s) failed", d.failed)
	}
	fmt.Fprintln(out, "all checks passed")
	return nil
}

// diagnoseConfig loads the file and overrides, falling back to defaults
// so the remaining checks still run.
func (a *app) diagnoseConfig(d *diagnostics) *config.Config {
	d.section("📁 Configuration")
	store := a.configStore()
	fmt.Fprintf(d.out, "   file: %s\n", store.Path())

	cfg, err := store.Load()
	if err != nil {
		d.fail("%v", err)
		d.hint(`run "sysmon config reset" to restore defaults`)
		return config.DefaultConfig()
	}
	d.ok("file loads and validates")

	if err := config.ApplyOverrides(cfg, a.v); err != nil {
		d.fail("environment override: %v", err)
		return config.DefaultConfig()
	}
	return cfg
}

func (a *app) diagnoseMetrics(ctx context.Context, d *diagnostics, cfg *config.Config) {
	d.section("📊 Metrics")
	sampler := sysmetrics.NewSampler(sysmetrics.OptionsFromConfig(cfg), a.logger)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	start := time.Now()
	snap, err := sampler.Collect(ctx)
	if err != nil {
		d.fail("sample failed: %v", err)
		return
	}
	fmt.Fprintf(d.out, "   sample took %s\n", time.Since(start).Round(time.Millisecond))

	degraded := false
	for _, cat := range collectors.AllCategories {
		if snap.Available(cat) {
			d.ok("%s", cat)
			continue
		}
		degraded = true
		d.warn("%s: %s", cat, snap.Reason(cat))
	}
	if degraded {
		d.hint("unavailable categories are shown as n/a; some need elevated privileges")
	}
}

func (a *app) diagnoseStorage(ctx context.Context, d *diagnostics, cfg *config.Config) {
	d.section("💾 Storage")
	if !cfg.Storage.Enabled {
		d.ok("persistence disabled (storage.enabled = false)")
		return
	}
	fmt.Fprintf(d.out, "   %s store: %s\n", cfg.Storage.Backend, cfg.Storage.ResolvedPath())

	backend, err := storage.Open(cfg.Storage, a.logger)
	if err != nil {
		d.fail("open: %v", err)
		return
	}
	defer backend.Close()

	n, err := backend.Count(ctx)
	if err != nil {
		d.fail("read: %v", err)
		return
	}
	d.ok("%d of %d snapshots retained", n, cfg.Storage.MaxRecords)

	latest, err := backend.Query(ctx, storage.Query{Limit: 1})
	if err != nil {
		d.fail("query: %v", err)
		return
	}
	if len(latest) > 0 {
		fmt.Fprintf(d.out, "   newest snapshot %s\n", format.FormatTimeSince(latest[0].Timestamp, time.Now()))
	}
}

func diagnoseLogging(d *diagnostics, cfg *config.Config) {
	d.section("📝 Logging")
	path := cfg.Logging.ResolvedFile()
	_, closer, err := newLogger(cfg.Logging, false)
	if err != nil {
		d.warn("%s: %v", path, err)
		d.hint("logging is disabled until the file is writable")
		return
	}
	_ = closer.Close()
	d.ok("%s (%s, %s)", path, cfg.Logging.Level, cfg.Logging.Format)
}

func diagnoseExporter(d *diagnostics, cfg *config.Config) {
	d.section("📡 Exporter")
	if !cfg.Exporter.Enabled {
		d.ok("disabled")
		return
	}
	ln, err := net.Listen("tcp", cfg.Exporter.ListenAddr)
	if err != nil {
		d.fail("cannot listen on %s: %v", cfg.Exporter.ListenAddr, err)
		return
	}
	_ = ln.Close()
	d.ok("%s is available", cfg.Exporter.ListenAddr)
}
