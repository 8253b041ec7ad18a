package format

import (
	"testing"
	"time"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1536, "1.5 KiB"},
		{8 << 30, "8.0 GiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatRate(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{-5, "0 B/s"},
		{0, "0 B/s"},
		{1023.6, "1.0 KiB/s"},
		{2048, "2.0 KiB/s"},
	}
	for _, tt := range tests {
		if got := FormatRate(tt.in); got != tt.want {
			t.Errorf("FormatRate(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatPercentAndUsage(t *testing.T) {
	if got := FormatPercent(42); got != "42.0%" {
		t.Errorf("FormatPercent = %q", got)
	}
	if got := FormatUsage(2<<30, 8<<30); got != "2.0 GiB / 8.0 GiB" {
		t.Errorf("FormatUsage = %q", got)
	}
}

func TestPadRight(t *testing.T) {
	if got := PadRight("cpu", 6); got != "cpu   " {
		t.Errorf("PadRight = %q", got)
	}
	if got := PadRight("memory", 3); got != "memory" {
		t.Errorf("PadRight longer = %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{45 * time.Second, "45s"},
		{5*time.Minute + 30*time.Second, "5m 30s"},
		{2*time.Hour + 15*time.Minute, "2h 15m"},
		{76 * time.Hour, "3d 4h"},
		{-90 * time.Second, "1m 30s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatUptime(t *testing.T) {
	if got := FormatUptime(90061); got != "1d 1h" {
		t.Errorf("FormatUptime = %q", got)
	}
}

func TestFormatTimeSince(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		t    time.Time
		want string
	}{
		{time.Time{}, "never"},
		{now.Add(-3 * time.Second), "just now"},
		{now.Add(-30 * time.Second), "30s ago"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-72 * time.Hour), "3d ago"},
	}
	for _, tt := range tests {
		if got := FormatTimeSince(tt.t, now); got != tt.want {
			t.Errorf("FormatTimeSince(%v) = %q, want %q", tt.t, got, tt.want)
		}
	}
}

func TestTruncateWithEllipsis(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"eth0", 10, "eth0"},
		{"wlp0s20f3", 6, "wlp..."},
		{"abcdef", 3, "abc"},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncateWithEllipsis(tt.in, tt.width); got != tt.want {
			t.Errorf("TruncateWithEllipsis(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}
