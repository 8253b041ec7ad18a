package history

import "gitlab.com/tinyland/lab/sysmon/collectors"

// Common series selectors for Ring.Series.

// CPUPercent picks overall CPU utilisation.
func CPUPercent(s collectors.Snapshot) (float64, bool) {
	if s.CPU == nil {
		return 0, false
	}
	return s.CPU.Percent, true
}

// MemoryPercent picks memory utilisation.
func MemoryPercent(s collectors.Snapshot) (float64, bool) {
	if s.Memory == nil {
		return 0, false
	}
	return s.Memory.Percent, true
}

// RxRate picks the aggregate network receive rate.
func RxRate(s collectors.Snapshot) (float64, bool) {
	if s.Network == nil {
		return 0, false
	}
	return s.Network.RxRate, true
}

// TxRate picks the aggregate network transmit rate.
func TxRate(s collectors.Snapshot) (float64, bool) {
	if s.Network == nil {
		return 0, false
	}
	return s.Network.TxRate, true
}

// Values applies pick to an already-copied slice of snapshots.
func Values(snaps []collectors.Snapshot, pick func(collectors.Snapshot) (float64, bool)) []float64 {
	out := make([]float64, 0, len(snaps))
	for _, s := range snaps {
		if v, ok := pick(s); ok {
			out = append(out, v)
		}
	}
	return out
}
