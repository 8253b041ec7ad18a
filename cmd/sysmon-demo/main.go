// Command sysmon-demo renders the dashboard from synthetic snapshots, for
// checking layouts at a given terminal width without sampling the host.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"gitlab.com/tinyland/lab/sysmon/collectors"
	"gitlab.com/tinyland/lab/sysmon/display/color"
	"gitlab.com/tinyland/lab/sysmon/display/dashboard"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("sysmon-demo", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	width := fs.Int("width", 100, "Terminal width")
	scenario := fs.String("scenario", "idle", "Data set: idle, load or degraded")
	samples := fs.Int("history", 60, "Number of history samples for sparklines")
	perCPU := fs.Bool("per-cpu", false, "Show per-core usage")
	compact := fs.Bool("compact", false, "Compact layout")
	useColor := fs.Bool("color", false, "Emit ANSI colors")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	now := time.Now()
	var snap collectors.Snapshot
	switch *scenario {
	case "idle":
		snap = collectors.MockSnapshot(now)
	case "load":
		snap = collectors.MockSnapshotUnderLoad(now)
	case "degraded":
		snap = collectors.MockSnapshotDegraded(now)
	default:
		fmt.Fprintf(stderr, "sysmon-demo: unknown scenario %q\n", *scenario)
		return 2
	}
	hist := collectors.MockHistory(now, *samples, 2*time.Second)
	if len(hist) > 0 {
		hist[len(hist)-1] = snap
	}

	if !*useColor {
		color.ForceDisable()
	}

	opts := dashboard.DefaultOptions()
	opts.Width = *width
	opts.ShowPerCPU = *perCPU
	opts.Compact = *compact

	fmt.Fprintf(stdout, "=== sysmon demo: %s @ %d columns ===\n\n", *scenario, *width)
	fmt.Fprintln(stdout, dashboard.Render(snap, hist, opts))
	return 0
}
