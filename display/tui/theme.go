package tui

import "github.com/charmbracelet/lipgloss"

// Color palette for the dashboard chrome.
const (
	colorPrimary = lipgloss.Color("#7C3AED")
	colorMuted   = lipgloss.Color("#6B7280")
)

// Styles used throughout the TUI.
var (
	styleFooter  lipgloss.Style
	styleContent lipgloss.Style
	styleNotice  lipgloss.Style
)

func init() {
	styleFooter = lipgloss.NewStyle().
		Foreground(colorMuted).
		BorderStyle(lipgloss.NormalBorder()).
		BorderTop(true).
		BorderForeground(colorMuted)

	styleContent = lipgloss.NewStyle().
		Padding(0, 1)

	styleNotice = lipgloss.NewStyle().
		Foreground(colorPrimary).
		Bold(true)
}
