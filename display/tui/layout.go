package tui

import (
	"strings"

	"gitlab.com/tinyland/lab/sysmon/display/dashboard"
)

// LayoutSize represents a responsive breakpoint for terminal width.
type LayoutSize int

const (
	// LayoutCompact is used for terminals narrower than 60 characters.
	LayoutCompact LayoutSize = iota
	// LayoutNormal is used for terminals between 60 and 120 characters wide.
	LayoutNormal
	// LayoutWide is used for terminals wider than 120 characters.
	LayoutWide
)

// DetectLayout returns the appropriate LayoutSize for the given terminal width.
func DetectLayout(width int) LayoutSize {
	switch {
	case width < 60:
		return LayoutCompact
	case width <= 120:
		return LayoutNormal
	default:
		return LayoutWide
	}
}

// applyLayout fits dashboard options to the terminal. The configured bar
// width is an upper bound; compact terminals also drop the sparklines.
func applyLayout(opts dashboard.Options, width int) dashboard.Options {
	opts.Width = width
	switch DetectLayout(width) {
	case LayoutCompact:
		opts.Compact = true
		opts.BarWidth = min(opts.BarWidth, 10)
	case LayoutNormal:
		opts.BarWidth = min(opts.BarWidth, 30)
	}
	return opts
}

// clipLines keeps at most height lines of s.
func clipLines(s string, height int) string {
	if height <= 0 {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= height {
		return s
	}
	return strings.Join(lines[:height], "\n")
}
