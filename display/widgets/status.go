package widgets

import (
	"github.com/charmbracelet/lipgloss"

	"gitlab.com/tinyland/lab/sysmon/status"
)

// levelColors maps each level to its display color.
var levelColors = map[status.Level]lipgloss.Color{
	status.LevelHealthy:  lipgloss.Color("#22C55E"),
	status.LevelWarning:  lipgloss.Color("#EAB308"),
	status.LevelCritical: lipgloss.Color("#EF4444"),
	status.LevelUnknown:  lipgloss.Color("#6B7280"),
}

// levelIcons maps each level to its badge icon.
var levelIcons = map[status.Level]string{
	status.LevelHealthy:  "●", // ●
	status.LevelWarning:  "▲", // ▲
	status.LevelCritical: "✖", // ✖
	status.LevelUnknown:  "○", // ○
}

var dimStyle = lipgloss.NewStyle().Foreground(levelColors[status.LevelUnknown])

// LevelStyle returns the foreground style for a level.
func LevelStyle(l status.Level) lipgloss.Style {
	c, ok := levelColors[l]
	if !ok {
		c = levelColors[status.LevelUnknown]
	}
	return lipgloss.NewStyle().Foreground(c)
}

// RenderBadge renders a colored level icon followed by text.
func RenderBadge(l status.Level, text string) string {
	icon, ok := levelIcons[l]
	if !ok {
		icon = levelIcons[status.LevelUnknown]
	}
	badge := LevelStyle(l).Render(icon)
	if text == "" {
		return badge
	}
	return badge + " " + text
}

// Dim renders secondary text in the muted color.
func Dim(s string) string {
	return dimStyle.Render(s)
}
