package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"gitlab.com/tinyland/lab/sysmon/collectors"
	"gitlab.com/tinyland/lab/sysmon/collectors/sysmetrics"
	"gitlab.com/tinyland/lab/sysmon/config"
	"gitlab.com/tinyland/lab/sysmon/display/color"
	"gitlab.com/tinyland/lab/sysmon/display/dashboard"
	"gitlab.com/tinyland/lab/sysmon/display/tui"
	"gitlab.com/tinyland/lab/sysmon/exporter"
	"gitlab.com/tinyland/lab/sysmon/history"
	"gitlab.com/tinyland/lab/sysmon/monitor"
	"gitlab.com/tinyland/lab/sysmon/storage"
)

// flagKeys maps flags that override a config key one to one. They are
// bound in setup, for the command that is running only.
var flagKeys = map[string]string{
	"interval": "display.refresh_interval",
	"per-cpu":  "display.show_per_cpu",
}

// addSamplingFlags registers the flags shared by monitor and snapshot.
func addSamplingFlags(cmd *cobra.Command) {
	cmd.Flags().Float64P("interval", "i", 0, "Sampling interval in seconds (display.refresh_interval)")
	cmd.Flags().Bool("per-cpu", false, "Show per-core CPU usage (display.show_per_cpu)")
}

func (a *app) newMonitorCmd() *cobra.Command {
	var (
		jsonOut     bool
		noProcesses bool
		noStore     bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Show the live dashboard",
		Long: `Sample the system on every interval and show a live dashboard.

With --json one snapshot per interval is written to stdout as a JSON line
instead. Snapshots are persisted when storage.enabled is true.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if noProcesses {
				a.v.Set("display.show_processes", false)
			}
			if noStore {
				a.v.Set("storage.enabled", false)
			}
			if cmd.Flags().Changed("metrics-addr") {
				a.v.Set("exporter.listen_addr", metricsAddr)
				a.v.Set("exporter.enabled", true)
			}
			if err := a.setup(cmd); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runMonitor(ctx, cmd.OutOrStdout(), jsonOut)
		},
	}

	addSamplingFlags(cmd)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Write one JSON snapshot per interval instead of the dashboard")
	cmd.Flags().BoolVar(&noProcesses, "no-processes", false, "Hide the top-process table")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "Do not persist snapshots")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

func (a *app) runMonitor(ctx context.Context, out io.Writer, jsonOut bool) error {
	cfg := a.cfg
	ring := history.New(cfg.Display.HistorySize)
	sampler := sysmetrics.NewSampler(samplerOptions(cfg, !jsonOut), a.logger)

	opts := monitor.Options{
		Collector: sampler,
		Ring:      ring,
		Logger:    a.logger,
		Writer:    a.openWriter(cfg),
	}

	if cfg.Exporter.Enabled {
		var stats func() storage.WriterStats
		if opts.Writer != nil {
			stats = opts.Writer.Stats
		}
		srv, err := exporter.NewServer(cfg.Exporter.ListenAddr, exporter.NewCollector(ring, stats), a.logger)
		if err != nil {
			return err
		}
		opts.Exporter = srv
	}

	if jsonOut {
		enc := json.NewEncoder(out)
		opts.OnSample = func(s collectors.Snapshot) {
			if err := enc.Encode(s); err != nil {
				a.logger.Warn("write snapshot", "error", err)
			}
		}
		return monitor.New(opts).Run(ctx)
	}

	if f, ok := out.(*os.File); !ok || !term.IsTerminal(f.Fd()) {
		return errors.New("monitor: stdout is not a terminal (use --json)")
	}
	color.Apply(os.Stdout)

	m := monitor.New(opts)
	model := tui.NewModel(tui.Options{
		Source:    ring,
		Interval:  cfg.Display.RefreshDuration(),
		Dashboard: dashboard.FromConfig(cfg),
		Refresh:   m.Refresh,
	})
	return runAlongside(ctx, m.Run, func(ctx context.Context) error {
		return tui.Run(ctx, model)
	})
}

// samplerOptions builds the sampler options for monitor. The dashboard
// toggles per-core and process views at runtime, so it always samples both.
func samplerOptions(cfg *config.Config, interactive bool) sysmetrics.Options {
	opts := sysmetrics.OptionsFromConfig(cfg)
	if interactive {
		opts.PerCPU = true
		opts.Processes = true
	}
	return opts
}

// openWriter opens the configured backend and wraps it in a Writer. It
// returns nil when storage is disabled or the backend cannot be opened;
// monitoring then runs without persistence.
func (a *app) openWriter(cfg *config.Config) *storage.Writer {
	if !cfg.Storage.Enabled {
		return nil
	}
	backend, err := storage.Open(cfg.Storage, a.logger)
	if err != nil {
		a.logger.Warn("storage unavailable, snapshots will not be persisted", "error", err)
		return nil
	}
	a.closers = append(a.closers, backend)
	return storage.NewWriter(backend, storage.WriterOptions{
		QueueSize:     max(storage.DefaultQueueSize, 4*cfg.Storage.BatchSize),
		BatchSize:     cfg.Storage.BatchSize,
		FlushInterval: cfg.Storage.FlushDuration(),
		Logger:        a.logger,
	})
}

// runAlongside runs the monitor and the dashboard on a shared context.
// Whichever returns first ends the other. A monitor error, such as an
// exporter that cannot listen, takes precedence over the dashboard's.
func runAlongside(ctx context.Context, run, ui func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		err := run(ctx)
		if err != nil {
			cancel()
		}
		done <- err
	}()

	uiErr := ui(ctx)
	cancel()
	if err := <-done; err != nil {
		return err
	}
	if uiErr != nil {
		return fmt.Errorf("monitor: dashboard: %w", uiErr)
	}
	return nil
}
