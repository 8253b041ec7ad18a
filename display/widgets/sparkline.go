package widgets

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// sparkBlocks are the eight block heights, lowest first.
var sparkBlocks = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// SparklineConfig controls a sparkline chart.
type SparklineConfig struct {
	// Data points, most recent last.
	Data []float64
	// Width is the number of cells. Older points are dropped to fit; fewer
	// points are left-padded. Zero uses len(Data).
	Width int
	// Min and Max fix the vertical scale. When Max <= Min the scale follows
	// the data.
	Min float64
	Max float64
	// Color is the foreground color; empty renders unstyled.
	Color lipgloss.Color
}

// RenderSparkline renders a unicode sparkline. It returns "" without data.
func RenderSparkline(cfg SparklineConfig) string {
	if len(cfg.Data) == 0 {
		return ""
	}

	data := cfg.Data
	width := cfg.Width
	if width <= 0 {
		width = len(data)
	}
	if len(data) > width {
		data = data[len(data)-width:]
	}

	lo, hi := cfg.Min, cfg.Max
	if hi <= lo {
		lo, hi = data[0], data[0]
		for _, v := range data[1:] {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}

	runes := make([]rune, 0, len(data))
	for _, v := range data {
		if hi == lo {
			runes = append(runes, sparkBlocks[len(sparkBlocks)/2])
			continue
		}
		norm := math.Max(0, math.Min(1, (v-lo)/(hi-lo)))
		idx := int(norm * float64(len(sparkBlocks)-1))
		runes = append(runes, sparkBlocks[idx])
	}

	out := string(runes)
	if width > len(data) {
		out = strings.Repeat(" ", width-len(data)) + out
	}
	if cfg.Color != "" {
		out = lipgloss.NewStyle().Foreground(cfg.Color).Render(out)
	}
	return out
}

// RenderPercentSparkline renders data on a fixed 0..100 scale.
func RenderPercentSparkline(data []float64, width int, color lipgloss.Color) string {
	return RenderSparkline(SparklineConfig{Data: data, Width: width, Min: 0, Max: 100, Color: color})
}
