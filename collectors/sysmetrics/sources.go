package sysmetrics

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

// cpuFrequency returns the current clock of the first CPU, or 0.
func cpuFrequency(ctx context.Context) (float64, error) {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return 0, err
	}
	if len(infos) == 0 {
		return 0, nil
	}
	return infos[0].Mhz, nil
}

// physicalPartitions lists mounted physical filesystems.
func physicalPartitions(ctx context.Context) ([]disk.PartitionStat, error) {
	return disk.PartitionsWithContext(ctx, false)
}

// diskIOCounters returns cumulative counters for every block device.
func diskIOCounters(ctx context.Context) (map[string]disk.IOCountersStat, error) {
	return disk.IOCountersWithContext(ctx)
}

// netIOCounters returns per-interface cumulative counters.
func netIOCounters(ctx context.Context) ([]net.IOCountersStat, error) {
	return net.IOCountersWithContext(ctx, true)
}

// listProcesses reads CPU time, memory share and state for every process
// the caller may inspect. Processes that vanish or deny access mid-read are
// skipped.
func listProcesses(ctx context.Context) ([]procSample, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]procSample, 0, len(procs))
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		times, err := p.TimesWithContext(ctx)
		if err != nil {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		memPct, _ := p.MemoryPercentWithContext(ctx)
		var state string
		if st, err := p.StatusWithContext(ctx); err == nil && len(st) > 0 {
			state = strings.Join(st, ",")
		}
		out = append(out, procSample{
			PID:        p.Pid,
			Name:       name,
			CPUSeconds: times.User + times.System,
			MemPercent: memPct,
			Status:     state,
		})
	}
	return out, nil
}

// defaultSources wires the gopsutil readers into a sampler.
func (s *Sampler) defaultSources() {
	s.cpuTimes = cpu.TimesWithContext
	s.cpuCount = cpu.CountsWithContext
	s.cpuFreq = cpuFrequency
	s.hostInfo = host.InfoWithContext
	s.virtualMemory = mem.VirtualMemoryWithContext
	s.partitions = physicalPartitions
	s.diskUsage = disk.UsageWithContext
	s.diskIO = diskIOCounters
	s.netCounters = netIOCounters
	s.netInterfaces = net.InterfacesWithContext
	s.processes = listProcesses
}
