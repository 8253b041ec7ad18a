package sysmetrics

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"

	"gitlab.com/tinyland/lab/sysmon/collectors"
)

const (
	// collectorName is the unique identifier for this collector.
	collectorName = "sysmetrics"

	// collectorDescription describes what this collector gathers.
	collectorDescription = "Local system metrics (CPU, memory, disk, network, processes)"
)

// Sampler implements collectors.Collector for the local host.
//
// Cumulative counters (CPU times, network and disk I/O, process CPU time)
// are differenced against the previous poll, so utilisation and rates
// cover the window between two samples rather than an instant.
type Sampler struct {
	opts   Options
	logger *slog.Logger

	// poll is held for the duration of a sample; TryLock failing means a
	// previous poll is still running.
	poll sync.Mutex

	// Previous-sample state, only touched while poll is held.
	havePrev    bool
	prevAt      time.Time
	prevCPU     cpuTimes
	prevCores   []cpuTimes
	prevNet     map[string]netCounters
	prevDisk    disk.IOCountersStat
	haveDisk    bool
	prevProcs   map[int32]float64
	lastStamp   time.Time
	unavailable map[collectors.Category]bool

	// Overridable sources for testing.
	now           func() time.Time
	cpuTimes      func(ctx context.Context, percpu bool) ([]cpu.TimesStat, error)
	cpuCount      func(ctx context.Context, logical bool) (int, error)
	cpuFreq       func(ctx context.Context) (float64, error)
	hostInfo      func(ctx context.Context) (*host.InfoStat, error)
	virtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	partitions    func(ctx context.Context) ([]disk.PartitionStat, error)
	diskUsage     func(ctx context.Context, path string) (*disk.UsageStat, error)
	diskIO        func(ctx context.Context) (map[string]disk.IOCountersStat, error)
	netCounters   func(ctx context.Context) ([]net.IOCountersStat, error)
	netInterfaces func(ctx context.Context) (net.InterfaceStatList, error)
	processes     func(ctx context.Context) ([]procSample, error)
}

// NewSampler creates a Sampler. If logger is nil, a no-op logger is used.
func NewSampler(opts Options, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ProcessCount <= 0 {
		opts.ProcessCount = DefaultProcessCount
	}

	s := &Sampler{
		opts:        opts,
		logger:      logger,
		prevNet:     make(map[string]netCounters),
		prevProcs:   make(map[int32]float64),
		unavailable: make(map[collectors.Category]bool),
		now:         time.Now,
	}
	s.defaultSources()
	return s
}

// Name returns the collector's unique identifier.
func (s *Sampler) Name() string {
	return collectorName
}

// Description returns a human-readable description of what this collector gathers.
func (s *Sampler) Description() string {
	return collectorDescription
}

// Interval returns the configured polling interval.
func (s *Sampler) Interval() time.Duration {
	return s.opts.Interval
}

// Collect implements collectors.Collector.
func (s *Sampler) Collect(ctx context.Context) (collectors.Snapshot, error) {
	return s.Sample(ctx)
}

// Sample takes one reading of every enabled category.
//
// If another Sample call is still running it returns
// collectors.ErrSampleInProgress at once. The poll runs under a deadline of
// one interval; categories that are not read in time, or whose source
// fails, are marked unavailable and the partial snapshot is returned. The
// only other error is cancellation of ctx itself.
func (s *Sampler) Sample(ctx context.Context) (collectors.Snapshot, error) {
	if !s.poll.TryLock() {
		return collectors.Snapshot{}, collectors.ErrSampleInProgress
	}
	defer s.poll.Unlock()

	if err := ctx.Err(); err != nil {
		return collectors.Snapshot{}, err
	}

	pollCtx, cancel := context.WithTimeout(ctx, s.opts.Interval)
	defer cancel()

	now := s.now().UTC()
	// Timestamps never go backwards, even if the wall clock does.
	if now.Before(s.lastStamp) {
		now = s.lastStamp
	}
	var elapsed time.Duration
	if s.havePrev {
		elapsed = now.Sub(s.prevAt)
	}

	snap := collectors.Snapshot{Timestamp: now}

	s.readHost(pollCtx, &snap)
	s.readCPU(pollCtx, &snap)
	s.readMemory(pollCtx, &snap)
	s.readDisks(pollCtx, &snap)
	if s.opts.DiskIO {
		s.readDiskIO(pollCtx, &snap, elapsed)
	}
	s.readNetwork(pollCtx, &snap, elapsed)
	if s.opts.Processes {
		s.readProcesses(pollCtx, &snap, elapsed)
	}

	if err := ctx.Err(); err != nil {
		return collectors.Snapshot{}, err
	}

	if s.opts.Alerts != nil {
		snap.Alerts = s.opts.Alerts.Alerts(snap)
	}

	s.logTransitions(snap)

	s.havePrev = true
	s.prevAt = now
	s.lastStamp = now

	s.logger.Debug("sysmetrics collected",
		"cpu", formatOptionalPercent(snap.CPU != nil, func() float64 { return snap.CPU.Percent }),
		"memory", formatOptionalPercent(snap.Memory != nil, func() float64 { return snap.Memory.Percent }),
		"disks", len(snap.Disks),
		"processes", len(snap.TopProcesses),
		"unavailable", len(snap.Unavailable),
	)

	return snap, nil
}

// readHost fills host identity and uptime.
func (s *Sampler) readHost(ctx context.Context, snap *collectors.Snapshot) {
	info, err := s.hostInfo(ctx)
	if err != nil {
		snap.MarkUnavailable(collectors.CategoryHost, err.Error())
		return
	}
	snap.Host = &collectors.HostInfo{
		Hostname:        info.Hostname,
		OS:              info.OS,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
		Arch:            runtime.GOARCH,
		BootTime:        time.Unix(int64(info.BootTime), 0).UTC(),
		UptimeSeconds:   info.Uptime,
	}
	if info.KernelArch != "" {
		snap.Host.Arch = info.KernelArch
	}
}

// readCPU computes overall and optionally per-core utilisation from the
// delta of cumulative CPU times.
func (s *Sampler) readCPU(ctx context.Context, snap *collectors.Snapshot) {
	total, err := s.cpuTimes(ctx, false)
	if err != nil {
		snap.MarkUnavailable(collectors.CategoryCPU, err.Error())
		return
	}
	if len(total) == 0 {
		snap.MarkUnavailable(collectors.CategoryCPU, "no cpu times reported")
		return
	}

	cur := splitTimes(total[0])
	stats := &collectors.CPUStats{
		Percent: cur.percentSince(s.prevCPU, s.havePrev),
	}
	s.prevCPU = cur

	if n, err := s.cpuCount(ctx, true); err == nil {
		stats.Count = n
	}
	if mhz, err := s.cpuFreq(ctx); err == nil {
		stats.FrequencyMHz = mhz
	}

	if s.opts.PerCPU {
		cores, err := s.cpuTimes(ctx, true)
		if err == nil {
			havePrev := s.havePrev && len(s.prevCores) == len(cores)
			next := make([]cpuTimes, len(cores))
			stats.PerCore = make([]float64, len(cores))
			for i, c := range cores {
				next[i] = splitTimes(c)
				var prev cpuTimes
				if havePrev {
					prev = s.prevCores[i]
				}
				stats.PerCore[i] = next[i].percentSince(prev, havePrev)
			}
			s.prevCores = next
			if stats.Count == 0 {
				stats.Count = len(cores)
			}
		} else {
			s.logger.Debug("per-core cpu times unavailable", "error", err)
		}
	}

	snap.CPU = stats
}

// splitTimes reduces a gopsutil reading to busy/total seconds. Guest time
// is already accounted in user time on Linux and is not added again.
func splitTimes(t cpu.TimesStat) cpuTimes {
	idle := t.Idle + t.Iowait
	busy := t.User + t.System + t.Nice + t.Irq + t.Softirq + t.Steal
	return cpuTimes{busy: busy, total: busy + idle}
}

// readMemory fills virtual memory usage.
func (s *Sampler) readMemory(ctx context.Context, snap *collectors.Snapshot) {
	vm, err := s.virtualMemory(ctx)
	if err != nil {
		snap.MarkUnavailable(collectors.CategoryMemory, err.Error())
		return
	}
	if vm.Total == 0 {
		snap.MarkUnavailable(collectors.CategoryMemory, "total memory is zero")
		return
	}
	snap.Memory = &collectors.MemoryStats{
		Total:     vm.Total,
		Used:      vm.Used,
		Available: vm.Available,
		Percent:   clampPercent(vm.UsedPercent),
	}
}

// readDisks fills usage for each selected mount point. A mount that fails
// is skipped; the category is unavailable only when no mount could be read.
func (s *Sampler) readDisks(ctx context.Context, snap *collectors.Snapshot) {
	type target struct{ mount, device, fstype string }

	var targets []target
	if len(s.opts.Mounts) > 0 {
		for _, m := range s.opts.Mounts {
			targets = append(targets, target{mount: m})
		}
	} else {
		parts, err := s.partitions(ctx)
		if err != nil {
			snap.MarkUnavailable(collectors.CategoryDisk, err.Error())
			return
		}
		seen := make(map[string]bool, len(parts))
		for _, p := range parts {
			if seen[p.Mountpoint] {
				continue
			}
			seen[p.Mountpoint] = true
			targets = append(targets, target{mount: p.Mountpoint, device: p.Device, fstype: p.Fstype})
		}
	}

	var lastErr error
	for _, t := range targets {
		usage, err := s.diskUsage(ctx, t.mount)
		if err != nil {
			lastErr = err
			s.logger.Debug("disk usage unavailable", "mount", t.mount, "error", err)
			continue
		}
		if usage.Total == 0 {
			continue
		}
		fstype := t.fstype
		if fstype == "" {
			fstype = usage.Fstype
		}
		snap.Disks = append(snap.Disks, collectors.DiskUsage{
			Mountpoint: t.mount,
			Device:     t.device,
			Fstype:     fstype,
			Total:      usage.Total,
			Used:       usage.Used,
			Free:       usage.Free,
			Percent:    clampPercent(usage.UsedPercent),
		})
	}

	if len(snap.Disks) == 0 {
		reason := "no mounted filesystems"
		if lastErr != nil {
			reason = lastErr.Error()
		}
		snap.MarkUnavailable(collectors.CategoryDisk, reason)
	}
}

// readDiskIO sums cumulative I/O counters over all devices.
func (s *Sampler) readDiskIO(ctx context.Context, snap *collectors.Snapshot, elapsed time.Duration) {
	counters, err := s.diskIO(ctx)
	if err != nil {
		snap.MarkUnavailable(collectors.CategoryDiskIO, err.Error())
		return
	}

	var sum disk.IOCountersStat
	for _, c := range counters {
		sum.ReadBytes += c.ReadBytes
		sum.WriteBytes += c.WriteBytes
		sum.ReadCount += c.ReadCount
		sum.WriteCount += c.WriteCount
		sum.ReadTime += c.ReadTime
		sum.WriteTime += c.WriteTime
	}

	stats := &collectors.DiskIOStats{
		ReadBytes:   sum.ReadBytes,
		WriteBytes:  sum.WriteBytes,
		ReadCount:   sum.ReadCount,
		WriteCount:  sum.WriteCount,
		ReadTimeMs:  sum.ReadTime,
		WriteTimeMs: sum.WriteTime,
	}
	if s.haveDisk {
		stats.ReadRate = rate(sum.ReadBytes, s.prevDisk.ReadBytes, elapsed)
		stats.WriteRate = rate(sum.WriteBytes, s.prevDisk.WriteBytes, elapsed)
	}
	s.prevDisk = sum
	s.haveDisk = true
	snap.DiskIO = stats
}

// readNetwork fills aggregate (and optionally per-interface) counters and
// converts them to rates against the previous sample.
func (s *Sampler) readNetwork(ctx context.Context, snap *collectors.Snapshot, elapsed time.Duration) {
	counters, err := s.netCounters(ctx)
	if err != nil {
		snap.MarkUnavailable(collectors.CategoryNetwork, err.Error())
		if s.opts.PerInterface {
			snap.MarkUnavailable(collectors.CategoryInterfaces, err.Error())
		}
		return
	}

	selected := make(map[string]bool, len(s.opts.Interfaces))
	for _, name := range s.opts.Interfaces {
		selected[name] = true
	}

	var ifaceMeta map[string]net.InterfaceStat
	if s.opts.PerInterface {
		if list, err := s.netInterfaces(ctx); err == nil {
			ifaceMeta = make(map[string]net.InterfaceStat, len(list))
			for _, iface := range list {
				ifaceMeta[iface.Name] = iface
			}
		} else {
			s.logger.Debug("interface metadata unavailable", "error", err)
		}
	}

	total := &collectors.NetworkIO{}
	next := make(map[string]netCounters, len(counters))
	matched := 0
	for _, c := range counters {
		if len(selected) > 0 && !selected[c.Name] {
			continue
		}
		matched++
		cur := netCounters{
			rxBytes:   c.BytesRecv,
			txBytes:   c.BytesSent,
			rxPackets: c.PacketsRecv,
			txPackets: c.PacketsSent,
		}
		next[c.Name] = cur

		total.RxBytes += cur.rxBytes
		total.TxBytes += cur.txBytes
		total.RxPackets += cur.rxPackets
		total.TxPackets += cur.txPackets

		var rx, tx float64
		if prev, ok := s.prevNet[c.Name]; ok {
			rx = rate(cur.rxBytes, prev.rxBytes, elapsed)
			tx = rate(cur.txBytes, prev.txBytes, elapsed)
		}
		total.RxRate += rx
		total.TxRate += tx

		if s.opts.PerInterface {
			iface := collectors.InterfaceIO{
				Name:      c.Name,
				Up:        true,
				RxBytes:   cur.rxBytes,
				TxBytes:   cur.txBytes,
				RxPackets: cur.rxPackets,
				TxPackets: cur.txPackets,
				RxRate:    rx,
				TxRate:    tx,
			}
			if meta, ok := ifaceMeta[c.Name]; ok {
				iface.Up = hasFlag(meta.Flags, "up")
				iface.Addr = firstIPv4(meta.Addrs)
			}
			snap.Interfaces = append(snap.Interfaces, iface)
		}
	}
	s.prevNet = next

	if matched == 0 && len(selected) > 0 {
		reason := fmt.Sprintf("no such interface: %v", s.opts.Interfaces)
		snap.MarkUnavailable(collectors.CategoryNetwork, reason)
		if s.opts.PerInterface {
			snap.MarkUnavailable(collectors.CategoryInterfaces, reason)
		}
		return
	}
	snap.Network = total
}

// readProcesses ranks processes by CPU share over the elapsed window.
// A process first seen in this poll has no window yet and is not ranked;
// idle processes and PID 0 are excluded.
func (s *Sampler) readProcesses(ctx context.Context, snap *collectors.Snapshot, elapsed time.Duration) {
	procs, err := s.processes(ctx)
	if err != nil {
		snap.MarkUnavailable(collectors.CategoryProcesses, err.Error())
		return
	}

	next := make(map[int32]float64, len(procs))
	var ranked []collectors.ProcessInfo
	for _, p := range procs {
		next[p.PID] = p.CPUSeconds
		if p.PID == 0 || elapsed <= 0 {
			continue
		}
		prev, ok := s.prevProcs[p.PID]
		if !ok || p.CPUSeconds < prev {
			continue
		}
		pct := (p.CPUSeconds - prev) / elapsed.Seconds() * 100.0
		if pct <= 0 {
			continue
		}
		ranked = append(ranked, collectors.ProcessInfo{
			PID:           p.PID,
			Name:          p.Name,
			CPUPercent:    pct,
			MemoryPercent: float64(p.MemPercent),
			Status:        p.Status,
		})
	}
	s.prevProcs = next

	snap.TopProcesses = collectors.RankProcesses(ranked, s.opts.ProcessCount)
}

// logTransitions warns once when a category becomes unavailable and logs
// again when it recovers, instead of repeating the same warning every poll.
func (s *Sampler) logTransitions(snap collectors.Snapshot) {
	for _, cat := range collectors.AllCategories {
		reason, missing := snap.Unavailable[cat]
		switch {
		case missing && !s.unavailable[cat]:
			s.logger.Warn("metric category unavailable", "category", string(cat), "reason", reason)
			s.unavailable[cat] = true
		case !missing && s.unavailable[cat]:
			s.logger.Info("metric category recovered", "category", string(cat))
			delete(s.unavailable, cat)
		}
	}
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

// firstIPv4 returns the first IPv4 address of an interface without its
// prefix length.
func firstIPv4(addrs net.InterfaceAddrList) string {
	for _, a := range addrs {
		if p, err := netip.ParsePrefix(a.Addr); err == nil && p.Addr().Is4() {
			return p.Addr().String()
		}
		if ip, err := netip.ParseAddr(a.Addr); err == nil && ip.Is4() {
			return ip.String()
		}
	}
	return ""
}

func formatOptionalPercent(ok bool, v func() float64) string {
	if !ok {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", v())
}

// Compile-time interface compliance check.
var _ collectors.Collector = (*Sampler)(nil)
