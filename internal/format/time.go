// Package format provides shared string and time formatting utilities.
package format

import (
	"fmt"
	"time"
)

// FormatTimeSince formats how long ago t was, relative to now.
// Returns strings like "5m ago", "3d ago", or "just now".
func FormatTimeSince(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}

	d := now.Sub(t)
	if d < 0 {
		d = -d
	}

	if d < 10*time.Second {
		return "just now"
	}

	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}

	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}

	if d < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}

	days := int(d.Hours() / 24)
	return fmt.Sprintf("%dd ago", days)
}

// FormatDuration renders a time.Duration as a concise human-readable string.
// Returns strings like "1s", "5m 30s", "2h 15m", "3d 4h".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}

	if d < time.Second {
		return "0s"
	}

	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// FormatUptime renders a duration in whole seconds as "3d 4h", "2h 15m" or
// "45s".
func FormatUptime(seconds uint64) string {
	return FormatDuration(time.Duration(seconds) * time.Second)
}

// FormatClock renders a timestamp in local time as "2006-01-02 15:04:05".
func FormatClock(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}
