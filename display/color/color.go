// Package color decides whether sysmon output may carry ANSI styling.
//
// It implements the NO_COLOR convention (https://no-color.org/) and turns
// styling off when the output is not a terminal, so `sysmon snapshot > file`
// and `sysmon monitor --json | jq` stay plain.
package color

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// ShouldDisableColor reports whether styling should be suppressed for out:
// NO_COLOR is set (any value), or out is not a terminal.
func ShouldDisableColor(out *os.File) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return true
	}
	if out == nil {
		return true
	}
	fd := out.Fd()
	return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
}

// Apply configures the global lipgloss renderer for out and reports
// whether color is enabled. With color disabled every Render call yields
// plain text.
func Apply(out *os.File) bool {
	if ShouldDisableColor(out) {
		lipgloss.SetColorProfile(termenv.Ascii)
		return false
	}
	return true
}

// ForceDisable unconditionally disables styling. Tests use it to compare
// rendered output byte for byte.
func ForceDisable() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// StripANSI removes escape sequences from s, for output that bypassed the
// lipgloss renderer.
func StripANSI(s string) string {
	return ansi.Strip(s)
}
