package widgets

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Alignment controls text alignment within a column.
type Alignment int

const (
	// AlignLeft aligns text to the left (default).
	AlignLeft Alignment = iota
	// AlignRight aligns text to the right; used for numbers.
	AlignRight
)

// Column defines a single table column.
type Column struct {
	Title string
	// Width is fixed when > 0, otherwise sized to the widest cell.
	Width int
	Align Alignment
}

// TableConfig holds the configuration for rendering a table.
type TableConfig struct {
	Columns []Column
	Rows    [][]string
	// MaxWidth shrinks columns proportionally when the table would be wider.
	MaxWidth int
	// ShowHeader renders the title row and a rule beneath it.
	ShowHeader  bool
	HeaderStyle lipgloss.Style
	// Separator goes between columns (default: two spaces).
	Separator string
}

// DefaultTableConfig returns a TableConfig with sensible defaults.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		ShowHeader:  true,
		Separator:   "  ",
		HeaderStyle: lipgloss.NewStyle().Bold(true),
	}
}

// RenderTable renders a plain text table.
func RenderTable(cfg TableConfig) string {
	if len(cfg.Columns) == 0 {
		return ""
	}
	if cfg.Separator == "" {
		cfg.Separator = "  "
	}

	widths := columnWidths(cfg.Columns, cfg.Rows, cfg.MaxWidth, len([]rune(cfg.Separator)))
	var lines []string

	if cfg.ShowHeader {
		head := make([]string, len(cfg.Columns))
		rule := make([]string, len(cfg.Columns))
		for i, col := range cfg.Columns {
			head[i] = fit(col.Title, widths[i], col.Align)
			rule[i] = strings.Repeat("─", widths[i])
		}
		lines = append(lines,
			cfg.HeaderStyle.Render(strings.Join(head, cfg.Separator)),
			strings.Join(rule, cfg.Separator),
		)
	}

	for _, row := range cfg.Rows {
		cells := make([]string, len(cfg.Columns))
		for i, col := range cfg.Columns {
			var text string
			if i < len(row) {
				text = row[i]
			}
			cells[i] = fit(text, widths[i], col.Align)
		}
		lines = append(lines, strings.Join(cells, cfg.Separator))
	}

	return strings.Join(lines, "\n")
}

// fit pads or truncates s to exactly width cells. Styled cells are
// measured without their escape sequences.
func fit(s string, width int, align Alignment) string {
	if width <= 0 {
		return ""
	}
	w := lipgloss.Width(s)
	if w > width {
		if width == 1 {
			return ansi.Truncate(s, 1, "")
		}
		return ansi.Truncate(s, width, "…")
	}
	pad := strings.Repeat(" ", width-w)
	if align == AlignRight {
		return pad + s
	}
	return s + pad
}

// columnWidths sizes each column, then shrinks them proportionally when the
// table would exceed maxWidth.
func columnWidths(cols []Column, rows [][]string, maxWidth, sepWidth int) []int {
	widths := make([]int, len(cols))
	for i, col := range cols {
		if col.Width > 0 {
			widths[i] = col.Width
			continue
		}
		w := lipgloss.Width(col.Title)
		for _, row := range rows {
			if i < len(row) {
				w = max(w, lipgloss.Width(row[i]))
			}
		}
		widths[i] = max(w, 1)
	}

	if maxWidth <= 0 {
		return widths
	}
	seps := sepWidth * (len(cols) - 1)
	total := 0
	for _, w := range widths {
		total += w
	}
	if total+seps <= maxWidth {
		return widths
	}
	available := max(maxWidth-seps, len(cols))
	for i, w := range widths {
		widths[i] = max(w*available/total, 1)
	}
	return widths
}
