package sysmetrics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"

	"gitlab.com/tinyland/lab/sysmon/collectors"
	"gitlab.com/tinyland/lab/sysmon/config"
	"gitlab.com/tinyland/lab/sysmon/status"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock returns successive times from a list, repeating the last one.
type fakeClock struct {
	mu    sync.Mutex
	times []time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return t
}

// newTestSampler returns a sampler whose sources all return static
// fixtures. Individual tests override the sources they care about.
func newTestSampler(t *testing.T, opts Options) *Sampler {
	t.Helper()
	s := NewSampler(opts, nil)

	clock := &fakeClock{times: []time.Time{baseTime, baseTime.Add(2 * time.Second), baseTime.Add(4 * time.Second)}}
	s.now = clock.now

	s.hostInfo = func(context.Context) (*host.InfoStat, error) {
		return &host.InfoStat{
			Hostname:   "testhost",
			OS:         "linux",
			Platform:   "debian",
			Uptime:     3600,
			BootTime:   uint64(baseTime.Add(-time.Hour).Unix()),
			KernelArch: "x86_64",
		}, nil
	}
	s.cpuTimes = func(_ context.Context, percpu bool) ([]cpu.TimesStat, error) {
		if percpu {
			return []cpu.TimesStat{{CPU: "cpu0", User: 10, Idle: 90}, {CPU: "cpu1", User: 30, Idle: 70}}, nil
		}
		return []cpu.TimesStat{{CPU: "cpu-total", User: 40, Idle: 160}}, nil
	}
	s.cpuCount = func(context.Context, bool) (int, error) { return 2, nil }
	s.cpuFreq = func(context.Context) (float64, error) { return 2400, nil }
	s.virtualMemory = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Total: 16000, Used: 12000, Available: 4000, UsedPercent: 75}, nil
	}
	s.partitions = func(context.Context) ([]disk.PartitionStat, error) {
		return []disk.PartitionStat{
			{Device: "/dev/sda1", Mountpoint: "/", Fstype: "ext4"},
			{Device: "/dev/sda1", Mountpoint: "/", Fstype: "ext4"},
			{Device: "/dev/sdb1", Mountpoint: "/data", Fstype: "xfs"},
		}, nil
	}
	s.diskUsage = func(_ context.Context, path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Path: path, Total: 1000, Used: 600, Free: 400, UsedPercent: 60}, nil
	}
	s.diskIO = func(context.Context) (map[string]disk.IOCountersStat, error) {
		return map[string]disk.IOCountersStat{"sda": {ReadBytes: 1000, WriteBytes: 2000}}, nil
	}
	s.netCounters = func(context.Context) ([]net.IOCountersStat, error) {
		return []net.IOCountersStat{{Name: "eth0", BytesRecv: 1000, BytesSent: 500}}, nil
	}
	s.netInterfaces = func(context.Context) (net.InterfaceStatList, error) {
		return net.InterfaceStatList{{
			Name:  "eth0",
			Flags: []string{"up", "broadcast"},
			Addrs: net.InterfaceAddrList{{Addr: "fe80::1/64"}, {Addr: "192.168.1.10/24"}},
		}}, nil
	}
	s.processes = func(context.Context) ([]procSample, error) { return nil, nil }
	return s
}

func TestPercentSince(t *testing.T) {
	tests := []struct {
		name     string
		cur      cpuTimes
		prev     cpuTimes
		havePrev bool
		want     float64
	}{
		{"since boot", cpuTimes{busy: 25, total: 100}, cpuTimes{}, false, 25},
		{"window", cpuTimes{busy: 75, total: 200}, cpuTimes{busy: 25, total: 100}, true, 50},
		{"no time passed", cpuTimes{busy: 25, total: 100}, cpuTimes{busy: 25, total: 100}, true, 0},
		{"clamped", cpuTimes{busy: 300, total: 200}, cpuTimes{busy: 0, total: 100}, true, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cur.percentSince(tt.prev, tt.havePrev); got != tt.want {
				t.Errorf("percentSince = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestRate(t *testing.T) {
	if got := rate(3000, 1000, 2*time.Second); got != 1000 {
		t.Errorf("rate = %f, want 1000", got)
	}
	if got := rate(500, 1000, 2*time.Second); got != 0 {
		t.Errorf("rate after counter reset = %f, want 0", got)
	}
	if got := rate(3000, 1000, 0); got != 0 {
		t.Errorf("rate with zero elapsed = %f, want 0", got)
	}
}

func TestSampleFullSnapshot(t *testing.T) {
	opts := DefaultOptions()
	opts.PerCPU = true
	opts.PerInterface = true
	s := newTestSampler(t, opts)

	snap, err := s.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}

	if !snap.Timestamp.Equal(baseTime) {
		t.Errorf("Timestamp = %v, want %v", snap.Timestamp, baseTime)
	}
	if len(snap.Unavailable) != 0 {
		t.Errorf("Unavailable = %v, want none", snap.Unavailable)
	}
	if snap.Host == nil || snap.Host.Hostname != "testhost" || snap.Host.Arch != "x86_64" {
		t.Errorf("Host = %+v", snap.Host)
	}
	// First sample: since-boot average 40/200 = 20%.
	if snap.CPU == nil || snap.CPU.Percent != 20 {
		t.Fatalf("CPU = %+v, want 20%%", snap.CPU)
	}
	if len(snap.CPU.PerCore) != 2 || snap.CPU.PerCore[0] != 10 || snap.CPU.PerCore[1] != 30 {
		t.Errorf("PerCore = %v, want [10 30]", snap.CPU.PerCore)
	}
	if snap.CPU.Count != 2 || snap.CPU.FrequencyMHz != 2400 {
		t.Errorf("CPU count/freq = %d/%f", snap.CPU.Count, snap.CPU.FrequencyMHz)
	}
	if snap.Memory == nil || snap.Memory.Percent != 75 {
		t.Errorf("Memory = %+v", snap.Memory)
	}
	// Duplicate mount entries collapse to one.
	if len(snap.Disks) != 2 {
		t.Fatalf("len(Disks) = %d, want 2", len(snap.Disks))
	}
	if snap.Disks[1].Mountpoint != "/data" || snap.Disks[1].Fstype != "xfs" {
		t.Errorf("Disks[1] = %+v", snap.Disks[1])
	}
	if snap.Network == nil || snap.Network.RxBytes != 1000 || snap.Network.RxRate != 0 {
		t.Errorf("Network = %+v, want totals with zero first-sample rate", snap.Network)
	}
	if len(snap.Interfaces) != 1 || !snap.Interfaces[0].Up || snap.Interfaces[0].Addr != "192.168.1.10" {
		t.Errorf("Interfaces = %+v", snap.Interfaces)
	}
	if snap.DiskIO == nil || snap.DiskIO.ReadBytes != 1000 {
		t.Errorf("DiskIO = %+v", snap.DiskIO)
	}
}

func TestSampleCPUWindow(t *testing.T) {
	s := newTestSampler(t, DefaultOptions())
	readings := [][]cpu.TimesStat{
		{{User: 100, System: 50, Idle: 800, Iowait: 50}},
		{{User: 150, System: 100, Idle: 850, Iowait: 50}},
	}
	var call int
	s.cpuTimes = func(context.Context, bool) ([]cpu.TimesStat, error) {
		r := readings[call]
		if call < len(readings)-1 {
			call++
		}
		return r, nil
	}

	if _, err := s.Sample(context.Background()); err != nil {
		t.Fatalf("first Sample: %v", err)
	}
	snap, err := s.Sample(context.Background())
	if err != nil {
		t.Fatalf("second Sample: %v", err)
	}

	// Delta busy = 100, delta total = 150 -> 66.67%.
	if snap.CPU.Percent < 66.6 || snap.CPU.Percent > 66.7 {
		t.Errorf("CPU = %f, want ~66.67%%", snap.CPU.Percent)
	}
}

func TestSampleNetworkRates(t *testing.T) {
	s := newTestSampler(t, DefaultOptions())
	counters := [][]net.IOCountersStat{
		{{Name: "eth0", BytesRecv: 1000, BytesSent: 1000}, {Name: "lo", BytesRecv: 10, BytesSent: 10}},
		{{Name: "eth0", BytesRecv: 5000, BytesSent: 3000}, {Name: "lo", BytesRecv: 10, BytesSent: 10}},
		{{Name: "eth0", BytesRecv: 100, BytesSent: 3000}, {Name: "lo", BytesRecv: 10, BytesSent: 10}},
	}
	var call int
	s.netCounters = func(context.Context) ([]net.IOCountersStat, error) {
		c := counters[call]
		call++
		return c, nil
	}

	for i := 0; i < 3; i++ {
		snap, err := s.Sample(context.Background())
		if err != nil {
			t.Fatalf("Sample #%d: %v", i, err)
		}
		switch i {
		case 1:
			// 4000 bytes over 2s.
			if snap.Network.RxRate != 2000 || snap.Network.TxRate != 1000 {
				t.Errorf("rates = %f/%f, want 2000/1000", snap.Network.RxRate, snap.Network.TxRate)
			}
		case 2:
			// eth0 rx counter reset: no negative rate.
			if snap.Network.RxRate != 0 {
				t.Errorf("RxRate after reset = %f, want 0", snap.Network.RxRate)
			}
		}
	}
}

func TestSampleInterfaceSelection(t *testing.T) {
	opts := DefaultOptions()
	opts.Interfaces = []string{"wlan9"}
	s := newTestSampler(t, opts)

	snap, err := s.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if snap.Network != nil {
		t.Errorf("Network = %+v, want nil for unmatched interface", snap.Network)
	}
	if snap.Available(collectors.CategoryNetwork) {
		t.Error("expected network to be unavailable")
	}
}

func TestSampleMountSelection(t *testing.T) {
	opts := DefaultOptions()
	opts.Mounts = []string{"/srv"}
	s := newTestSampler(t, opts)
	s.partitions = func(context.Context) ([]disk.PartitionStat, error) {
		t.Fatal("partitions should not be listed when mounts are configured")
		return nil, nil
	}

	snap, err := s.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(snap.Disks) != 1 || snap.Disks[0].Mountpoint != "/srv" {
		t.Errorf("Disks = %+v, want only /srv", snap.Disks)
	}
}

func TestSamplePartialSnapshot(t *testing.T) {
	s := newTestSampler(t, DefaultOptions())
	s.virtualMemory = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return nil, errors.New("permission denied")
	}
	s.diskUsage = func(context.Context, string) (*disk.UsageStat, error) {
		return nil, errors.New("statfs failed")
	}

	snap, err := s.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample returned error for partial failure: %v", err)
	}
	if snap.Memory != nil {
		t.Errorf("Memory = %+v, want nil", snap.Memory)
	}
	if got := snap.Reason(collectors.CategoryMemory); got != "permission denied" {
		t.Errorf("memory reason = %q", got)
	}
	if got := snap.Reason(collectors.CategoryDisk); got != "statfs failed" {
		t.Errorf("disk reason = %q", got)
	}
	if snap.CPU == nil {
		t.Error("CPU should still be present")
	}
}

func TestSampleTopProcesses(t *testing.T) {
	opts := DefaultOptions()
	opts.ProcessCount = 2
	s := newTestSampler(t, opts)

	polls := [][]procSample{
		{
			{PID: 0, Name: "idle", CPUSeconds: 0},
			{PID: 10, Name: "web", CPUSeconds: 1.0},
			{PID: 20, Name: "db", CPUSeconds: 5.0},
			{PID: 30, Name: "cron", CPUSeconds: 2.0},
			{PID: 40, Name: "sleepy", CPUSeconds: 3.0},
		},
		{
			{PID: 0, Name: "idle", CPUSeconds: 9.0},
			{PID: 10, Name: "web", CPUSeconds: 2.0, MemPercent: 1.5, Status: "R"},
			{PID: 20, Name: "db", CPUSeconds: 5.5},
			{PID: 30, Name: "cron", CPUSeconds: 3.0},
			{PID: 40, Name: "sleepy", CPUSeconds: 3.0},
			{PID: 50, Name: "newcomer", CPUSeconds: 100},
		},
	}
	var call int
	s.processes = func(context.Context) ([]procSample, error) {
		p := polls[call]
		call++
		return p, nil
	}

	first, err := s.Sample(context.Background())
	if err != nil {
		t.Fatalf("first Sample: %v", err)
	}
	if len(first.TopProcesses) != 0 {
		t.Errorf("first poll has no window, got %+v", first.TopProcesses)
	}

	snap, err := s.Sample(context.Background())
	if err != nil {
		t.Fatalf("second Sample: %v", err)
	}
	// Over 2s: web 1s -> 50%, cron 1s -> 50%, db 0.5s -> 25%.
	if len(snap.TopProcesses) != 2 {
		t.Fatalf("len(TopProcesses) = %d, want 2: %+v", len(snap.TopProcesses), snap.TopProcesses)
	}
	if snap.TopProcesses[0].PID != 10 || snap.TopProcesses[1].PID != 30 {
		t.Errorf("ranking = %+v, want web then cron", snap.TopProcesses)
	}
	if snap.TopProcesses[0].CPUPercent != 50 || snap.TopProcesses[0].MemoryPercent != 1.5 {
		t.Errorf("web = %+v", snap.TopProcesses[0])
	}
}

func TestSampleProcessesDisabled(t *testing.T) {
	opts := DefaultOptions()
	opts.Processes = false
	s := newTestSampler(t, opts)
	s.processes = func(context.Context) ([]procSample, error) {
		t.Fatal("processes should not be read when disabled")
		return nil, nil
	}
	if _, err := s.Sample(context.Background()); err != nil {
		t.Fatalf("Sample: %v", err)
	}
}

func TestSampleTimestampsMonotonic(t *testing.T) {
	s := newTestSampler(t, DefaultOptions())
	clock := &fakeClock{times: []time.Time{baseTime, baseTime.Add(-time.Minute), baseTime.Add(time.Second)}}
	s.now = clock.now

	var last time.Time
	for i := 0; i < 3; i++ {
		snap, err := s.Sample(context.Background())
		if err != nil {
			t.Fatalf("Sample #%d: %v", i, err)
		}
		if snap.Timestamp.Before(last) {
			t.Errorf("sample #%d timestamp %v before previous %v", i, snap.Timestamp, last)
		}
		last = snap.Timestamp
	}
}

func TestSampleNeverOverlaps(t *testing.T) {
	s := newTestSampler(t, DefaultOptions())

	var active, maxActive int32
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	s.processes = func(context.Context) ([]procSample, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		once.Do(func() { close(entered) })
		<-release
		atomic.AddInt32(&active, -1)
		return nil, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Sample(context.Background())
		done <- err
	}()
	<-entered

	var wg sync.WaitGroup
	var busy int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Sample(context.Background()); errors.Is(err, collectors.ErrSampleInProgress) {
				atomic.AddInt32(&busy, 1)
			}
		}()
	}
	wg.Wait()
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("first Sample: %v", err)
	}
	if busy != 5 {
		t.Errorf("%d of 5 overlapping calls were rejected, want all", busy)
	}
	if maxActive != 1 {
		t.Errorf("max concurrent polls = %d, want 1", maxActive)
	}
}

func TestSampleCancelled(t *testing.T) {
	s := newTestSampler(t, DefaultOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Sample(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestSampleAlerts(t *testing.T) {
	opts := DefaultOptions()
	opts.Alerts = status.NewEvaluator(status.DefaultEvaluatorConfig())
	s := newTestSampler(t, opts)
	s.virtualMemory = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Total: 100, Used: 97, Available: 3, UsedPercent: 97}, nil
	}

	snap, err := s.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(snap.Alerts) != 1 {
		t.Fatalf("Alerts = %+v, want one memory alert", snap.Alerts)
	}
	if snap.Alerts[0].Type != collectors.CategoryMemory || snap.Alerts[0].Severity != collectors.SeverityCritical {
		t.Errorf("alert = %+v", snap.Alerts[0])
	}
}

// TestCollectorInterface verifies Name, Description, and Interval.
func TestCollectorInterface(t *testing.T) {
	s := NewSampler(Options{}, nil)

	if s.Name() != "sysmetrics" {
		t.Errorf("Name() = %q, want %q", s.Name(), "sysmetrics")
	}
	if s.Description() == "" {
		t.Error("Description() should not be empty")
	}
	if s.Interval() != DefaultInterval {
		t.Errorf("Interval() = %v, want %v", s.Interval(), DefaultInterval)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Display.RefreshInterval = 0.5
	cfg.Display.ShowPerCPU = true
	cfg.Display.ProcessCount = 12
	cfg.Sampling.Mounts = []string{"/", "/home"}
	cfg.Sampling.DiskIO = false
	cfg.Alerts.CPUThreshold = 70

	opts := OptionsFromConfig(cfg)

	if opts.Interval != 500*time.Millisecond {
		t.Errorf("Interval = %v, want 500ms", opts.Interval)
	}
	if !opts.PerCPU || !opts.Processes || opts.ProcessCount != 12 || opts.DiskIO {
		t.Errorf("display flags not mapped: %+v", opts)
	}
	if len(opts.Mounts) != 2 || opts.Mounts[1] != "/home" {
		t.Errorf("Mounts = %v", opts.Mounts)
	}
	cfg.Sampling.Mounts[0] = "/changed"
	if opts.Mounts[0] != "/" {
		t.Error("Mounts shares backing storage with the config")
	}

	snap := collectors.Snapshot{Timestamp: baseTime, CPU: &collectors.CPUStats{Percent: 75}}
	if opts.Alerts == nil {
		t.Fatal("Alerts evaluator missing with alerts enabled")
	}
	if got := opts.Alerts.Alerts(snap); len(got) != 1 || got[0].Threshold != 70 {
		t.Errorf("alerts at 75%% with threshold 70 = %+v", got)
	}

	cfg.Alerts.Enabled = false
	if OptionsFromConfig(cfg).Alerts != nil {
		t.Error("Alerts evaluator set with alerts disabled")
	}
}
