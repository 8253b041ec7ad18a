package collectors

import (
	"math"
	"time"
)

const gib = 1 << 30

// MockSnapshot returns a fully populated snapshot of an idle four-core
// machine taken at now. Useful for rendering the dashboard without
// sampling the host.
func MockSnapshot(now time.Time) Snapshot {
	return Snapshot{
		Timestamp: now.UTC(),
		Host: &HostInfo{
			Hostname:        "demo",
			OS:              "linux",
			Platform:        "debian",
			PlatformVersion: "12",
			KernelVersion:   "6.1.0",
			Arch:            "x86_64",
			BootTime:        now.Add(-26 * time.Hour).UTC(),
			UptimeSeconds:   uint64((26 * time.Hour).Seconds()),
		},
		CPU: &CPUStats{
			Percent:      12.5,
			PerCore:      []float64{10, 15, 8, 17},
			Count:        4,
			FrequencyMHz: 2400,
		},
		Memory: &MemoryStats{
			Total:     16 * gib,
			Used:      6 * gib,
			Available: 10 * gib,
			Percent:   37.5,
		},
		Disks: []DiskUsage{
			{Mountpoint: "/", Device: "/dev/nvme0n1p2", Fstype: "ext4", Total: 256 * gib, Used: 128 * gib, Free: 128 * gib, Percent: 50},
			{Mountpoint: "/home", Device: "/dev/nvme0n1p3", Fstype: "ext4", Total: 512 * gib, Used: 128 * gib, Free: 384 * gib, Percent: 25},
		},
		DiskIO: &DiskIOStats{
			ReadBytes:  40 * gib,
			WriteBytes: 25 * gib,
			ReadCount:  1_200_000,
			WriteCount: 800_000,
			ReadRate:   512 * 1024,
			WriteRate:  128 * 1024,
		},
		Network: &NetworkIO{
			RxBytes:   12 * gib,
			TxBytes:   3 * gib,
			RxPackets: 9_000_000,
			TxPackets: 4_000_000,
			RxRate:    48 * 1024,
			TxRate:    12 * 1024,
		},
		Interfaces: []InterfaceIO{
			{Name: "eth0", Up: true, Addr: "192.168.1.20", RxBytes: 12 * gib, TxBytes: 3 * gib, RxRate: 48 * 1024, TxRate: 12 * 1024},
			{Name: "wlan0", Up: false},
		},
		TopProcesses: []ProcessInfo{
			{PID: 812, Name: "postgres", CPUPercent: 6.2, MemoryPercent: 4.1, Status: "sleep"},
			{PID: 1301, Name: "node", CPUPercent: 3.8, MemoryPercent: 2.7, Status: "running"},
			{PID: 455, Name: "containerd", CPUPercent: 1.1, MemoryPercent: 0.9, Status: "sleep"},
			{PID: 1, Name: "systemd", CPUPercent: 0.2, MemoryPercent: 0.1, Status: "sleep"},
		},
	}
}

// MockSnapshotUnderLoad returns MockSnapshot with CPU, memory and the root
// disk near saturation, plus the alerts an evaluator would raise.
func MockSnapshotUnderLoad(now time.Time) Snapshot {
	s := MockSnapshot(now)
	s.CPU.Percent = 93.4
	s.CPU.PerCore = []float64{97, 91, 88, 98}
	s.Memory.Used = 15 * gib
	s.Memory.Available = 1 * gib
	s.Memory.Percent = 93.75
	s.Disks[0].Used = 246 * gib
	s.Disks[0].Free = 10 * gib
	s.Disks[0].Percent = 96.1
	s.Alerts = []Alert{
		{Timestamp: s.Timestamp, Type: CategoryCPU, Severity: SeverityWarning, Message: "cpu at 93.4%", CurrentValue: 93.4, Threshold: 80},
		{Timestamp: s.Timestamp, Type: CategoryMemory, Severity: SeverityWarning, Message: "memory at 93.8%", CurrentValue: 93.75, Threshold: 85},
		{Timestamp: s.Timestamp, Type: CategoryDisk, Severity: SeverityCritical, Message: "disk / at 96.1%", CurrentValue: 96.1, Threshold: 90},
	}
	return s
}

// MockSnapshotDegraded returns MockSnapshot with the categories that
// usually need elevated privileges marked unavailable.
func MockSnapshotDegraded(now time.Time) Snapshot {
	s := MockSnapshot(now)
	s.DiskIO = nil
	s.TopProcesses = nil
	s.MarkUnavailable(CategoryDiskIO, "permission denied")
	s.MarkUnavailable(CategoryProcesses, "permission denied")
	return s
}

// MockHistory returns n snapshots ending at end, spaced interval apart and
// oldest first. CPU and network follow a slow wave so sparklines have
// shape.
func MockHistory(end time.Time, n int, interval time.Duration) []Snapshot {
	if n <= 0 {
		return nil
	}
	out := make([]Snapshot, n)
	boot := end.Add(-26 * time.Hour).UTC()
	for i := range out {
		ts := end.Add(-time.Duration(n-1-i) * interval)
		s := MockSnapshot(ts)
		wave := (math.Sin(float64(i)/3) + 1) / 2
		s.CPU.Percent = math.Round((5+wave*60)*10) / 10
		for c := range s.CPU.PerCore {
			s.CPU.PerCore[c] = math.Min(100, s.CPU.Percent+float64(c*3))
		}
		s.Network.RxRate = math.Round(wave * 256 * 1024)
		s.Network.TxRate = math.Round(wave * 64 * 1024)
		s.TopProcesses[0].CPUPercent = math.Round(s.CPU.Percent/2*10) / 10
		s.Host.BootTime = boot
		s.Host.UptimeSeconds = uint64(ts.Sub(boot).Seconds())
		out[i] = s
	}
	return out
}
