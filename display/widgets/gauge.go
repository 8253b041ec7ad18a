// Package widgets renders the small building blocks of the dashboard:
// gauges, sparklines, tables and level badges. Every function is pure and
// returns a string.
package widgets

import (
	"fmt"
	"math"
	"strings"

	"gitlab.com/tinyland/lab/sysmon/status"
)

// GaugeConfig controls the appearance of a horizontal bar gauge.
type GaugeConfig struct {
	// Width is the bar width in cells.
	Width int
	// Percent is the value from 0 to 100.
	Percent float64
	// Label is optional text shown to the left of the bar.
	Label string
	// LabelWidth pads the label so stacked gauges line up.
	LabelWidth int
	// ShowPercent appends " 42.0%".
	ShowPercent bool
	// Suffix is optional text after the percentage, e.g. "3.1 GiB / 8 GiB".
	Suffix string
	// Warning is the percent at which the bar turns yellow.
	Warning float64
	// Critical is the percent at which the bar turns red.
	Critical float64
	// Filled and Empty are the bar characters.
	Filled string
	Empty  string
}

// DefaultGaugeConfig returns a GaugeConfig with sensible defaults.
func DefaultGaugeConfig() GaugeConfig {
	return GaugeConfig{
		Width:       30,
		ShowPercent: true,
		Warning:     80,
		Critical:    95,
		Filled:      "█",
		Empty:       "░",
	}
}

// LevelFor classifies a percentage against warning and critical marks.
func LevelFor(percent, warning, critical float64) status.Level {
	switch {
	case critical > 0 && percent >= critical:
		return status.LevelCritical
	case warning > 0 && percent >= warning:
		return status.LevelWarning
	default:
		return status.LevelHealthy
	}
}

// RenderGauge renders [Label] [████████░░░░] [ 42.0%] [Suffix].
func RenderGauge(cfg GaugeConfig) string {
	percent := math.Max(0, math.Min(100, cfg.Percent))

	filled := cfg.Filled
	if filled == "" {
		filled = "█"
	}
	empty := cfg.Empty
	if empty == "" {
		empty = "░"
	}
	width := cfg.Width
	if width <= 0 {
		width = 30
	}

	n := int(math.Round(percent / 100.0 * float64(width)))
	style := LevelStyle(LevelFor(percent, cfg.Warning, cfg.Critical))
	bar := style.Render(strings.Repeat(filled, n)) + strings.Repeat(empty, width-n)

	var sb strings.Builder
	if cfg.Label != "" || cfg.LabelWidth > 0 {
		sb.WriteString(padLabel(cfg.Label, cfg.LabelWidth))
		sb.WriteString(" ")
	}
	sb.WriteString(bar)
	if cfg.ShowPercent {
		sb.WriteString(fmt.Sprintf(" %5.1f%%", percent))
	}
	if cfg.Suffix != "" {
		sb.WriteString("  ")
		sb.WriteString(cfg.Suffix)
	}
	return sb.String()
}

// RenderUnavailable renders the placeholder shown instead of a gauge when a
// metric could not be read: "CPU   n/a (permission denied)".
func RenderUnavailable(label string, labelWidth int, reason string) string {
	text := "n/a"
	if reason != "" {
		text += " (" + reason + ")"
	}
	if label == "" && labelWidth == 0 {
		return dimStyle.Render(text)
	}
	return padLabel(label, labelWidth) + " " + dimStyle.Render(text)
}

func padLabel(label string, width int) string {
	if n := len([]rune(label)); n < width {
		return label + strings.Repeat(" ", width-n)
	}
	return label
}
