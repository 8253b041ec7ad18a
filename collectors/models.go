package collectors

import (
	"sort"
	"time"
)

// Category names one group of metrics inside a Snapshot. A category that
// could not be read is listed in Snapshot.Unavailable with the reason.
type Category string

const (
	CategoryHost       Category = "host"
	CategoryCPU        Category = "cpu"
	CategoryMemory     Category = "memory"
	CategoryDisk       Category = "disk"
	CategoryDiskIO     Category = "disk_io"
	CategoryNetwork    Category = "network"
	CategoryInterfaces Category = "interfaces"
	CategoryProcesses  Category = "processes"
)

// AllCategories lists every category in display order.
var AllCategories = []Category{
	CategoryHost,
	CategoryCPU,
	CategoryMemory,
	CategoryDisk,
	CategoryDiskIO,
	CategoryNetwork,
	CategoryInterfaces,
	CategoryProcesses,
}

// Snapshot is one point-in-time reading across all metric categories.
// Snapshots are values: once the sampler returns one, nothing mutates it.
// Use Clone before handing a snapshot to code that may modify slices.
type Snapshot struct {
	// Timestamp is when the sample completed, in UTC.
	Timestamp time.Time `json:"timestamp"`

	Host         *HostInfo     `json:"host,omitempty"`
	CPU          *CPUStats     `json:"cpu,omitempty"`
	Memory       *MemoryStats  `json:"memory,omitempty"`
	Disks        []DiskUsage   `json:"disks,omitempty"`
	DiskIO       *DiskIOStats  `json:"disk_io,omitempty"`
	Network      *NetworkIO    `json:"network,omitempty"`
	Interfaces   []InterfaceIO `json:"interfaces,omitempty"`
	TopProcesses []ProcessInfo `json:"top_processes,omitempty"`

	// Alerts holds threshold alerts raised for this snapshot.
	Alerts []Alert `json:"alerts,omitempty"`

	// Unavailable maps a category to the reason it could not be read.
	// Partial snapshots are valid.
	Unavailable map[Category]string `json:"unavailable,omitempty"`
}

// HostInfo describes the machine being monitored.
type HostInfo struct {
	Hostname        string    `json:"hostname"`
	OS              string    `json:"os"`
	Platform        string    `json:"platform"`
	PlatformVersion string    `json:"platform_version"`
	KernelVersion   string    `json:"kernel_version"`
	Arch            string    `json:"arch"`
	BootTime        time.Time `json:"boot_time"`
	UptimeSeconds   uint64    `json:"uptime_seconds"`
}

// CPUStats holds CPU utilisation over the window since the previous sample.
type CPUStats struct {
	// Percent is overall utilisation (0-100).
	Percent float64 `json:"percent"`
	// PerCore holds per-core utilisation (0-100), in core order.
	PerCore []float64 `json:"per_core,omitempty"`
	// Count is the number of logical cores.
	Count int `json:"count"`
	// FrequencyMHz is the current (or nominal) clock, 0 when unknown.
	FrequencyMHz float64 `json:"frequency_mhz,omitempty"`
}

// MemoryStats holds virtual memory usage in bytes.
type MemoryStats struct {
	Total     uint64  `json:"total"`
	Used      uint64  `json:"used"`
	Available uint64  `json:"available"`
	Percent   float64 `json:"percent"`
}

// DiskUsage holds usage for a single mount point.
type DiskUsage struct {
	Mountpoint string  `json:"mountpoint"`
	Device     string  `json:"device,omitempty"`
	Fstype     string  `json:"fstype,omitempty"`
	Total      uint64  `json:"total"`
	Used       uint64  `json:"used"`
	Free       uint64  `json:"free"`
	Percent    float64 `json:"percent"`
}

// DiskIOStats holds cumulative I/O counters summed over all devices plus
// byte rates derived from the previous sample.
type DiskIOStats struct {
	ReadBytes   uint64  `json:"read_bytes"`
	WriteBytes  uint64  `json:"write_bytes"`
	ReadCount   uint64  `json:"read_count"`
	WriteCount  uint64  `json:"write_count"`
	ReadTimeMs  uint64  `json:"read_time_ms"`
	WriteTimeMs uint64  `json:"write_time_ms"`
	ReadRate    float64 `json:"read_rate"`
	WriteRate   float64 `json:"write_rate"`
}

// NetworkIO holds cumulative counters across all selected interfaces and
// rates in bytes per second.
type NetworkIO struct {
	RxBytes   uint64  `json:"rx_bytes"`
	TxBytes   uint64  `json:"tx_bytes"`
	RxPackets uint64  `json:"rx_packets"`
	TxPackets uint64  `json:"tx_packets"`
	RxRate    float64 `json:"rx_rate"`
	TxRate    float64 `json:"tx_rate"`
}

// InterfaceIO holds counters for one network interface.
type InterfaceIO struct {
	Name      string  `json:"name"`
	Up        bool    `json:"up"`
	Addr      string  `json:"addr,omitempty"`
	RxBytes   uint64  `json:"rx_bytes"`
	TxBytes   uint64  `json:"tx_bytes"`
	RxPackets uint64  `json:"rx_packets"`
	TxPackets uint64  `json:"tx_packets"`
	RxRate    float64 `json:"rx_rate"`
	TxRate    float64 `json:"tx_rate"`
}

// ProcessInfo is a single entry in the top-process list.
type ProcessInfo struct {
	PID           int32   `json:"pid"`
	Name          string  `json:"name"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	Status        string  `json:"status,omitempty"`
}

// Alert severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert is raised when a metric crosses its configured threshold.
type Alert struct {
	Timestamp    time.Time `json:"timestamp"`
	Type         Category  `json:"type"`
	Severity     string    `json:"severity"`
	Message      string    `json:"message"`
	CurrentValue float64   `json:"current_value"`
	Threshold    float64   `json:"threshold"`
}

// Available reports whether the category was read successfully.
func (s Snapshot) Available(cat Category) bool {
	_, missing := s.Unavailable[cat]
	return !missing
}

// Reason returns why a category is unavailable, or "" when it is available.
func (s Snapshot) Reason(cat Category) string {
	return s.Unavailable[cat]
}

// MarkUnavailable records that cat could not be read. Only the sampler
// calls this, before the snapshot is published.
func (s *Snapshot) MarkUnavailable(cat Category, reason string) {
	if s.Unavailable == nil {
		s.Unavailable = make(map[Category]string)
	}
	s.Unavailable[cat] = reason
}

// MaxDiskPercent returns the fullest mount's usage, and false if no disk
// usage is present.
func (s Snapshot) MaxDiskPercent() (float64, bool) {
	if len(s.Disks) == 0 {
		return 0, false
	}
	maxPct := s.Disks[0].Percent
	for _, d := range s.Disks[1:] {
		if d.Percent > maxPct {
			maxPct = d.Percent
		}
	}
	return maxPct, true
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Host != nil {
		h := *s.Host
		out.Host = &h
	}
	if s.CPU != nil {
		c := *s.CPU
		c.PerCore = append([]float64(nil), s.CPU.PerCore...)
		out.CPU = &c
	}
	if s.Memory != nil {
		m := *s.Memory
		out.Memory = &m
	}
	if s.DiskIO != nil {
		d := *s.DiskIO
		out.DiskIO = &d
	}
	if s.Network != nil {
		n := *s.Network
		out.Network = &n
	}
	out.Disks = append([]DiskUsage(nil), s.Disks...)
	out.Interfaces = append([]InterfaceIO(nil), s.Interfaces...)
	out.TopProcesses = append([]ProcessInfo(nil), s.TopProcesses...)
	out.Alerts = append([]Alert(nil), s.Alerts...)
	if s.Unavailable != nil {
		out.Unavailable = make(map[Category]string, len(s.Unavailable))
		for k, v := range s.Unavailable {
			out.Unavailable[k] = v
		}
	}
	return out
}

// RankProcesses sorts procs by CPU percent descending (ties by PID) and
// returns at most n entries. The input slice is reordered in place.
func RankProcesses(procs []ProcessInfo, n int) []ProcessInfo {
	sort.SliceStable(procs, func(i, j int) bool {
		if procs[i].CPUPercent != procs[j].CPUPercent {
			return procs[i].CPUPercent > procs[j].CPUPercent
		}
		return procs[i].PID < procs[j].PID
	})
	if n >= 0 && len(procs) > n {
		procs = procs[:n]
	}
	return procs
}
