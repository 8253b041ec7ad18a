// Package dashboard lays out a full snapshot as text. Render is pure: the
// same snapshot, history and options always produce the same string.
package dashboard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"gitlab.com/tinyland/lab/sysmon/collectors"
	"gitlab.com/tinyland/lab/sysmon/config"
	"gitlab.com/tinyland/lab/sysmon/display/widgets"
	"gitlab.com/tinyland/lab/sysmon/history"
	"gitlab.com/tinyland/lab/sysmon/internal/format"
	"gitlab.com/tinyland/lab/sysmon/status"
)

// labelWidth aligns the gauge rows.
const labelWidth = 7

var (
	colorPrimary   = lipgloss.Color("#7C3AED")
	colorSecondary = lipgloss.Color("#06B6D4")
	colorNetwork   = lipgloss.Color("#22C55E")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorSecondary)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	sectionStyle = lipgloss.NewStyle().Bold(true)
)

// Options controls what Render draws.
type Options struct {
	// Width is the terminal width in cells. Zero means 80.
	Width int
	// ShowPerCPU adds one gauge per core.
	ShowPerCPU bool
	// ShowProcesses adds the top-process table.
	ShowProcesses bool
	// ProcessCount bounds the process table.
	ProcessCount int
	// BarWidth is the gauge width. It shrinks to fit narrow terminals.
	BarWidth int
	// Compact drops sparklines, per-interface rows and blank separators.
	Compact bool
	// Thresholds color the gauges. Values at or above Critical are red.
	CPUWarning    float64
	MemoryWarning float64
	DiskWarning   float64
	Critical      float64
}

// DefaultOptions mirrors config.DefaultConfig.
func DefaultOptions() Options {
	return FromConfig(config.DefaultConfig())
}

// FromConfig derives render options from the display and alert settings.
func FromConfig(cfg *config.Config) Options {
	return Options{
		Width:         80,
		ShowPerCPU:    cfg.Display.ShowPerCPU,
		ShowProcesses: cfg.Display.ShowProcesses,
		ProcessCount:  cfg.Display.ProcessCount,
		BarWidth:      cfg.Display.ProgressBarWidth,
		CPUWarning:    cfg.Alerts.CPUThreshold,
		MemoryWarning: cfg.Alerts.MemoryThreshold,
		DiskWarning:   cfg.Alerts.DiskThreshold,
		Critical:      status.DefaultEvaluatorConfig().CriticalPercent,
	}
}

func (o Options) normalized() Options {
	if o.Width <= 0 {
		o.Width = 80
	}
	if o.BarWidth <= 0 {
		o.BarWidth = 30
	}
	// label + space + bar + " 100.0%" must fit.
	if maxBar := o.Width - labelWidth - 1 - 7; o.BarWidth > maxBar {
		o.BarWidth = max(5, maxBar)
	}
	if o.ProcessCount <= 0 {
		o.ProcessCount = 5
	}
	return o
}

// Render draws snap. hist supplies the trend sparklines, oldest first; it
// may be empty.
func Render(snap collectors.Snapshot, hist []collectors.Snapshot, opts Options) string {
	opts = opts.normalized()

	sections := []string{
		renderHeader(snap, opts),
		renderCPU(snap, hist, opts),
		renderMemory(snap, hist, opts),
		renderDisks(snap, opts),
		renderNetwork(snap, hist, opts),
	}
	if snap.DiskIO != nil || !snap.Available(collectors.CategoryDiskIO) {
		sections = append(sections, renderDiskIO(snap, opts))
	}
	if opts.ShowProcesses {
		sections = append(sections, renderProcesses(snap, opts))
	}
	if len(snap.Alerts) > 0 {
		sections = append(sections, renderAlerts(snap))
	}

	sep := "\n\n"
	if opts.Compact {
		sep = "\n"
	}
	return strings.Join(sections, sep)
}

func renderHeader(snap collectors.Snapshot, opts Options) string {
	host := "unknown host"
	uptime := ""
	if snap.Host != nil {
		host = snap.Host.Hostname
		if snap.Host.Platform != "" {
			host += " (" + snap.Host.Platform + " " + snap.Host.PlatformVersion + ")"
		}
		uptime = "up " + format.FormatUptime(snap.Host.UptimeSeconds)
	} else if reason := snap.Reason(collectors.CategoryHost); reason != "" {
		uptime = widgets.Dim("host n/a (" + reason + ")")
	}

	left := titleStyle.Render("SysMon") + "  " + host
	right := uptime
	if !snap.Timestamp.IsZero() {
		if right != "" {
			right += "  "
		}
		right += format.FormatClock(snap.Timestamp)
	}

	gap := opts.Width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 2 {
		return left + "\n" + right
	}
	return left + strings.Repeat(" ", gap) + right
}

func renderCPU(snap collectors.Snapshot, hist []collectors.Snapshot, opts Options) string {
	if snap.CPU == nil {
		return widgets.RenderUnavailable("CPU", labelWidth, unavailableReason(snap, collectors.CategoryCPU))
	}

	suffix := fmt.Sprintf("%d cores", snap.CPU.Count)
	if snap.CPU.FrequencyMHz > 0 {
		suffix += fmt.Sprintf(" @ %.0f MHz", snap.CPU.FrequencyMHz)
	}
	lines := []string{gauge(opts, "CPU", snap.CPU.Percent, opts.CPUWarning, suffix)}

	if !opts.Compact {
		if line := trend(history.Values(hist, history.CPUPercent), opts); line != "" {
			lines = append(lines, line)
		}
	}
	if opts.ShowPerCPU {
		for i, p := range snap.CPU.PerCore {
			lines = append(lines, gauge(opts, "  #"+strconv.Itoa(i), p, opts.CPUWarning, ""))
		}
	}
	return strings.Join(lines, "\n")
}

func renderMemory(snap collectors.Snapshot, hist []collectors.Snapshot, opts Options) string {
	if snap.Memory == nil {
		return widgets.RenderUnavailable("Memory", labelWidth, unavailableReason(snap, collectors.CategoryMemory))
	}
	m := snap.Memory
	lines := []string{gauge(opts, "Memory", m.Percent, opts.MemoryWarning, format.FormatUsage(m.Used, m.Total))}
	if !opts.Compact {
		if line := trend(history.Values(hist, history.MemoryPercent), opts); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func renderDisks(snap collectors.Snapshot, opts Options) string {
	title := sectionStyle.Render("Disks")
	if len(snap.Disks) == 0 {
		return title + "\n" + widgets.RenderUnavailable("", 0, unavailableReason(snap, collectors.CategoryDisk))
	}

	barWidth := min(opts.BarWidth, 20)
	rows := make([][]string, 0, len(snap.Disks))
	for _, d := range snap.Disks {
		bar := widgets.RenderGauge(widgets.GaugeConfig{
			Width:    barWidth,
			Percent:  d.Percent,
			Warning:  opts.DiskWarning,
			Critical: opts.Critical,
		})
		rows = append(rows, []string{
			d.Mountpoint,
			format.FormatBytes(d.Used),
			format.FormatBytes(d.Total),
			format.FormatPercent(d.Percent),
			bar,
		})
	}

	table := widgets.RenderTable(widgets.TableConfig{
		Columns: []widgets.Column{
			{Title: "Mount"},
			{Title: "Used", Align: widgets.AlignRight},
			{Title: "Size", Align: widgets.AlignRight},
			{Title: "Use%", Align: widgets.AlignRight},
			{Title: "", Width: barWidth},
		},
		Rows:        rows,
		MaxWidth:    opts.Width,
		ShowHeader:  true,
		HeaderStyle: lipgloss.NewStyle().Bold(true),
	})
	return title + "\n" + table
}

func renderNetwork(snap collectors.Snapshot, hist []collectors.Snapshot, opts Options) string {
	title := sectionStyle.Render("Network")
	if snap.Network == nil {
		return title + "\n" + widgets.RenderUnavailable("", 0, unavailableReason(snap, collectors.CategoryNetwork))
	}
	n := snap.Network
	lines := []string{
		title,
		fmt.Sprintf("%s %-12s  total %s", format.PadRight("rx", labelWidth), format.FormatRate(n.RxRate), format.FormatBytes(n.RxBytes)),
		fmt.Sprintf("%s %-12s  total %s", format.PadRight("tx", labelWidth), format.FormatRate(n.TxRate), format.FormatBytes(n.TxBytes)),
	}
	if opts.Compact {
		return strings.Join(lines, "\n")
	}

	if rx := history.Values(hist, history.RxRate); len(rx) > 0 {
		lines = append(lines, format.PadRight("", labelWidth)+" "+widgets.RenderSparkline(widgets.SparklineConfig{
			Data:  rx,
			Width: opts.BarWidth,
			Color: colorNetwork,
		}))
	}
	for _, iface := range snap.Interfaces {
		state := "down"
		if iface.Up {
			state = "up"
		}
		lines = append(lines, widgets.Dim(fmt.Sprintf("  %-10s %-4s rx %s  tx %s",
			format.TruncateWithEllipsis(iface.Name, 10), state,
			format.FormatRate(iface.RxRate), format.FormatRate(iface.TxRate))))
	}
	return strings.Join(lines, "\n")
}

func renderDiskIO(snap collectors.Snapshot, opts Options) string {
	title := sectionStyle.Render("Disk I/O")
	if snap.DiskIO == nil {
		return title + "\n" + widgets.RenderUnavailable("", 0, unavailableReason(snap, collectors.CategoryDiskIO))
	}
	io := snap.DiskIO
	sep := "\n"
	if opts.Compact {
		sep = "  "
	}
	return title + "\n" +
		fmt.Sprintf("%s %-12s  total %s", format.PadRight("read", labelWidth), format.FormatRate(io.ReadRate), format.FormatBytes(io.ReadBytes)) + sep +
		fmt.Sprintf("%s %-12s  total %s", format.PadRight("write", labelWidth), format.FormatRate(io.WriteRate), format.FormatBytes(io.WriteBytes))
}

func renderProcesses(snap collectors.Snapshot, opts Options) string {
	title := sectionStyle.Render("Top processes")
	if !snap.Available(collectors.CategoryProcesses) {
		return title + "\n" + widgets.RenderUnavailable("", 0, snap.Reason(collectors.CategoryProcesses))
	}
	if len(snap.TopProcesses) == 0 {
		return title + "\n" + widgets.Dim("no active processes")
	}

	procs := snap.TopProcesses
	if len(procs) > opts.ProcessCount {
		procs = procs[:opts.ProcessCount]
	}
	rows := make([][]string, 0, len(procs))
	for _, p := range procs {
		rows = append(rows, []string{
			strconv.Itoa(int(p.PID)),
			p.Name,
			fmt.Sprintf("%.1f", p.CPUPercent),
			fmt.Sprintf("%.1f", p.MemoryPercent),
			p.Status,
		})
	}
	return title + "\n" + widgets.RenderTable(widgets.TableConfig{
		Columns: []widgets.Column{
			{Title: "PID", Align: widgets.AlignRight},
			{Title: "Name"},
			{Title: "CPU%", Align: widgets.AlignRight},
			{Title: "MEM%", Align: widgets.AlignRight},
			{Title: "Status"},
		},
		Rows:        rows,
		MaxWidth:    opts.Width,
		ShowHeader:  true,
		HeaderStyle: lipgloss.NewStyle().Bold(true),
	})
}

func renderAlerts(snap collectors.Snapshot) string {
	lines := []string{headerStyle.Render("Alerts")}
	for _, a := range snap.Alerts {
		level := status.LevelWarning
		if a.Severity == collectors.SeverityCritical {
			level = status.LevelCritical
		}
		lines = append(lines, widgets.RenderBadge(level, a.Message))
	}
	return strings.Join(lines, "\n")
}

func gauge(opts Options, label string, percent, warning float64, suffix string) string {
	// The suffix is dropped rather than wrapped on narrow terminals.
	if labelWidth+1+opts.BarWidth+7+2+lipgloss.Width(suffix) > opts.Width {
		suffix = ""
	}
	return widgets.RenderGauge(widgets.GaugeConfig{
		Width:       opts.BarWidth,
		Percent:     percent,
		Label:       label,
		LabelWidth:  labelWidth,
		ShowPercent: true,
		Suffix:      suffix,
		Warning:     warning,
		Critical:    opts.Critical,
	})
}

// trend renders a percent sparkline aligned under a gauge bar.
func trend(values []float64, opts Options) string {
	if len(values) < 2 {
		return ""
	}
	return format.PadRight("", labelWidth) + " " + widgets.RenderPercentSparkline(values, opts.BarWidth, colorSecondary)
}

func unavailableReason(snap collectors.Snapshot, cat collectors.Category) string {
	if r := snap.Reason(cat); r != "" {
		return r
	}
	return "not sampled"
}
