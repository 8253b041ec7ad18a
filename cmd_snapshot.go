package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"gitlab.com/tinyland/lab/sysmon/collectors"
	"gitlab.com/tinyland/lab/sysmon/collectors/sysmetrics"
	"gitlab.com/tinyland/lab/sysmon/display/color"
	"gitlab.com/tinyland/lab/sysmon/display/dashboard"
	"gitlab.com/tinyland/lab/sysmon/display/widgets"
	"gitlab.com/tinyland/lab/sysmon/internal/format"
	"gitlab.com/tinyland/lab/sysmon/storage"
)

func (a *app) newSnapshotCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Take one sample and print it",
		Long: `Take two samples one interval apart and print the second, so that CPU
utilisation and I/O rates cover a real window.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			sampler := sysmetrics.NewSampler(sysmetrics.OptionsFromConfig(a.cfg), a.logger)
			snap, err := sampleTwice(ctx, sampler, a.cfg.Display.RefreshDuration())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, snap)
			}
			color.Apply(outputFile(out))
			opts := dashboard.FromConfig(a.cfg)
			opts.Width = terminalWidth(out)
			fmt.Fprintln(out, dashboard.Render(snap, nil, opts))
			return nil
		},
	}

	addSamplingFlags(cmd)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the snapshot as JSON")
	return cmd
}

// sampleTwice primes the counter baselines, waits one interval and returns
// the second reading.
func sampleTwice(ctx context.Context, c collectors.Collector, interval time.Duration) (collectors.Snapshot, error) {
	if _, err := c.Collect(ctx); err != nil {
		return collectors.Snapshot{}, fmt.Errorf("sample: %w", err)
	}
	select {
	case <-ctx.Done():
		return collectors.Snapshot{}, ctx.Err()
	case <-time.After(interval):
	}
	snap, err := c.Collect(ctx)
	if err != nil {
		return collectors.Snapshot{}, fmt.Errorf("sample: %w", err)
	}
	return snap, nil
}

func (a *app) newHistoryCmd() *cobra.Command {
	var (
		count   int
		since   time.Duration
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show stored snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			backend, err := storage.Open(a.cfg.Storage, a.logger)
			if err != nil {
				return err
			}
			defer backend.Close()

			q := storage.Query{Limit: count}
			if since > 0 {
				q.Since = time.Now().Add(-since)
			}
			snaps, err := backend.Query(cmd.Context(), q)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				if snaps == nil {
					snaps = []collectors.Snapshot{}
				}
				return writeJSON(out, snaps)
			}
			if len(snaps) == 0 {
				fmt.Fprintf(out, "no snapshots stored in %s\n", a.cfg.Storage.ResolvedPath())
				if !a.cfg.Storage.Enabled {
					fmt.Fprintln(out, `persistence is off; enable it with "sysmon config set storage.enabled true"`)
				}
				return nil
			}
			color.Apply(outputFile(out))
			fmt.Fprintln(out, renderHistory(snaps, terminalWidth(out)))
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 20, "Number of most recent snapshots to show (0 = all)")
	cmd.Flags().DurationVar(&since, "since", 0, "Only show snapshots newer than this, e.g. 30m")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the snapshots as a JSON array")
	return cmd
}

// renderHistory renders one table row per snapshot, oldest first.
func renderHistory(snaps []collectors.Snapshot, width int) string {
	dash := "-"
	pct := func(ok bool, v float64) string {
		if !ok {
			return dash
		}
		return format.FormatPercent(v)
	}

	rows := make([][]string, 0, len(snaps))
	for _, s := range snaps {
		rx, tx := dash, dash
		if s.Network != nil {
			rx, tx = format.FormatRate(s.Network.RxRate), format.FormatRate(s.Network.TxRate)
		}
		disk, diskOK := s.MaxDiskPercent()
		rows = append(rows, []string{
			format.FormatClock(s.Timestamp),
			pct(s.CPU != nil, cpuPercent(s)),
			pct(s.Memory != nil, memPercent(s)),
			pct(diskOK, disk),
			rx,
			tx,
			strconv.Itoa(len(s.Alerts)),
		})
	}

	return widgets.RenderTable(widgets.TableConfig{
		Columns: []widgets.Column{
			{Title: "Time"},
			{Title: "CPU", Align: widgets.AlignRight},
			{Title: "Mem", Align: widgets.AlignRight},
			{Title: "Disk", Align: widgets.AlignRight},
			{Title: "Rx", Align: widgets.AlignRight},
			{Title: "Tx", Align: widgets.AlignRight},
			{Title: "Alerts", Align: widgets.AlignRight},
		},
		Rows:        rows,
		MaxWidth:    width,
		ShowHeader:  true,
		HeaderStyle: lipgloss.NewStyle().Bold(true),
	})
}

func cpuPercent(s collectors.Snapshot) float64 {
	if s.CPU == nil {
		return 0
	}
	return s.CPU.Percent
}

func memPercent(s collectors.Snapshot) float64 {
	if s.Memory == nil {
		return 0
	}
	return s.Memory.Percent
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputFile returns out as a file for terminal detection, or nil.
func outputFile(out io.Writer) *os.File {
	f, _ := out.(*os.File)
	return f
}

// terminalWidth returns the width of out if it is a terminal, else 80.
func terminalWidth(out io.Writer) int {
	if f := outputFile(out); f != nil {
		if w, _, err := term.GetSize(f.Fd()); err == nil && w > 0 {
			return w
		}
	}
	return 80
}
