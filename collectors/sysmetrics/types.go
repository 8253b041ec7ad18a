// Package sysmetrics provides the host metric sampler for sysmon. It reads
// CPU, memory, disk, network and process metrics through gopsutil and turns
// cumulative counters into per-interval values by differencing against the
// previous sample.
package sysmetrics

import (
	"time"

	"gitlab.com/tinyland/lab/sysmon/config"
	"gitlab.com/tinyland/lab/sysmon/status"
)

const (
	// DefaultInterval is the polling interval used when none is configured.
	DefaultInterval = 2 * time.Second

	// DefaultProcessCount is the length of the top-process list.
	DefaultProcessCount = 5
)

// Options selects what the sampler reads on every poll.
type Options struct {
	// Interval is the polling interval. A poll is given at most one
	// interval to complete.
	Interval time.Duration

	// PerCPU enables per-core utilisation.
	PerCPU bool

	// Processes enables the top-process list.
	Processes bool

	// ProcessCount bounds the top-process list.
	ProcessCount int

	// Mounts restricts disk usage to these mount points. Empty means every
	// physical partition.
	Mounts []string

	// Interfaces restricts network counters to these NICs. Empty means all.
	Interfaces []string

	// DiskIO enables cumulative disk I/O counters.
	DiskIO bool

	// PerInterface enables the per-NIC breakdown.
	PerInterface bool

	// Alerts evaluates each snapshot against thresholds. Nil disables alerts.
	Alerts *status.Evaluator
}

// DefaultOptions returns the options used by `sysmon monitor` without a
// config file.
func DefaultOptions() Options {
	return Options{
		Interval:     DefaultInterval,
		Processes:    true,
		ProcessCount: DefaultProcessCount,
		DiskIO:       true,
		Alerts:       status.NewEvaluator(status.DefaultEvaluatorConfig()),
	}
}

// OptionsFromConfig maps the display, sampling and alert settings onto
// sampler options.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		Interval:     cfg.Display.RefreshDuration(),
		PerCPU:       cfg.Display.ShowPerCPU,
		Processes:    cfg.Display.ShowProcesses,
		ProcessCount: cfg.Display.ProcessCount,
		Mounts:       append([]string(nil), cfg.Sampling.Mounts...),
		Interfaces:   append([]string(nil), cfg.Sampling.Interfaces...),
		DiskIO:       cfg.Sampling.DiskIO,
		PerInterface: cfg.Sampling.PerInterface,
	}
	if cfg.Alerts.Enabled {
		ecfg := status.DefaultEvaluatorConfig()
		ecfg.CPUThreshold = cfg.Alerts.CPUThreshold
		ecfg.MemoryThreshold = cfg.Alerts.MemoryThreshold
		ecfg.DiskThreshold = cfg.Alerts.DiskThreshold
		opts.Alerts = status.NewEvaluator(ecfg)
	}
	return opts
}

// cpuTimes is the busy/total split of one cumulative CPU time reading.
type cpuTimes struct {
	busy  float64
	total float64
}

// percentSince returns utilisation over the window between prev and cur.
// Without a previous reading it falls back to the since-boot average.
func (cur cpuTimes) percentSince(prev cpuTimes, havePrev bool) float64 {
	deltaTotal := cur.total
	deltaBusy := cur.busy
	if havePrev {
		deltaTotal = cur.total - prev.total
		deltaBusy = cur.busy - prev.busy
	}
	if deltaTotal <= 0 {
		return 0
	}
	return clampPercent(deltaBusy / deltaTotal * 100.0)
}

// netCounters holds one interface's cumulative counters.
type netCounters struct {
	rxBytes   uint64
	txBytes   uint64
	rxPackets uint64
	txPackets uint64
}

// procSample is one process reading before ranking.
type procSample struct {
	PID        int32
	Name       string
	CPUSeconds float64
	MemPercent float32
	Status     string
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// rate converts a counter delta to a per-second rate. A counter that went
// backwards (interface reset, wraparound) yields 0.
func rate(cur, prev uint64, elapsed time.Duration) float64 {
	if elapsed <= 0 || cur < prev {
		return 0
	}
	return float64(cur-prev) / elapsed.Seconds()
}
