package format

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// FormatBytes renders a byte count with binary units, e.g. "1.5 GiB".
func FormatBytes(n uint64) string {
	return humanize.IBytes(n)
}

// FormatRate renders a bytes-per-second rate, e.g. "12 KiB/s".
func FormatRate(bytesPerSec float64) string {
	if bytesPerSec < 0 {
		bytesPerSec = 0
	}
	return humanize.IBytes(uint64(bytesPerSec+0.5)) + "/s"
}

// FormatPercent renders a percentage with one decimal, e.g. "42.0%".
func FormatPercent(p float64) string {
	return fmt.Sprintf("%.1f%%", p)
}

// FormatUsage renders "used / total" with binary units.
func FormatUsage(used, total uint64) string {
	return FormatBytes(used) + " / " + FormatBytes(total)
}

// PadRight pads s with spaces to width runes. Longer strings are returned
// unchanged.
func PadRight(s string, width int) string {
	n := len([]rune(s))
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}
