package monitor

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gitlab.com/tinyland/lab/sysmon/collectors"
	"gitlab.com/tinyland/lab/sysmon/exporter"
	"gitlab.com/tinyland/lab/sysmon/history"
	"gitlab.com/tinyland/lab/sysmon/storage"
	"gitlab.com/tinyland/lab/sysmon/storage/jsonfile"
)

// fakeCollector returns numbered snapshots. hook, if set, runs inside
// Collect and may return an error instead.
type fakeCollector struct {
	interval time.Duration
	hook     func(n int) error

	mu       sync.Mutex
	n        int
	inflight atomic.Int32
	overlap  atomic.Bool
}

func (f *fakeCollector) Name() string            { return "fake" }
func (f *fakeCollector) Interval() time.Duration { return f.interval }

func (f *fakeCollector) Collect(ctx context.Context) (collectors.Snapshot, error) {
	if f.inflight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inflight.Add(-1)

	f.mu.Lock()
	f.n++
	n := f.n
	f.mu.Unlock()

	if f.hook != nil {
		if err := f.hook(n); err != nil {
			return collectors.Snapshot{}, err
		}
	}
	return collectors.Snapshot{
		Timestamp: time.Date(2026, 3, 1, 0, 0, n, 0, time.UTC),
		CPU:       &collectors.CPUStats{Percent: float64(n)},
	}, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func runInBackground(t *testing.T, m *Monitor) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestRunFillsRing(t *testing.T) {
	ring := history.New(3)
	var seen atomic.Int32
	m := New(Options{
		Collector: &fakeCollector{interval: 10 * time.Millisecond},
		Ring:      ring,
		OnSample:  func(collectors.Snapshot) { seen.Add(1) },
	})

	cancel, done := runInBackground(t, m)
	waitFor(t, "five samples", func() bool { return m.Stats().Samples >= 5 })
	cancel()
	if err := wait(t, done); err != nil {
		t.Fatalf("Run = %v", err)
	}

	if ring.Len() != 3 {
		t.Errorf("ring.Len = %d, want 3", ring.Len())
	}
	recent := ring.Recent(3)
	for i := 1; i < len(recent); i++ {
		if !recent[i].Timestamp.After(recent[i-1].Timestamp) {
			t.Errorf("ring out of order: %v", recent)
		}
	}
	if uint64(seen.Load()) != m.Stats().Samples {
		t.Errorf("OnSample calls = %d, samples = %d", seen.Load(), m.Stats().Samples)
	}
	latest, _ := ring.Latest()
	if m.Stats().LastSample != latest.Timestamp {
		t.Errorf("LastSample = %v, want %v", m.Stats().LastSample, latest.Timestamp)
	}
}

func TestRunFlushesWriterOnShutdown(t *testing.T) {
	store, err := jsonfile.Open(storage.Options{Path: filepath.Join(t.TempDir(), "history.json"), MaxRecords: 100})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	// Nothing is written until Close.
	w := storage.NewWriter(store, storage.WriterOptions{BatchSize: 1000, QueueSize: 1000, FlushInterval: time.Hour})
	m := New(Options{
		Collector: &fakeCollector{interval: 10 * time.Millisecond},
		Ring:      history.New(10),
		Writer:    w,
	})

	cancel, done := runInBackground(t, m)
	waitFor(t, "three samples", func() bool { return m.Stats().Samples >= 3 })
	cancel()
	wait(t, done)

	n, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if uint64(n) != m.Stats().Samples {
		t.Errorf("stored %d snapshots, sampled %d", n, m.Stats().Samples)
	}
	if w.Enqueue(collectors.Snapshot{}) {
		t.Error("writer still accepts snapshots after Run returned")
	}
}

func TestPollsNeverOverlap(t *testing.T) {
	interval := 10 * time.Millisecond
	fc := &fakeCollector{
		interval: interval,
		hook: func(int) error {
			time.Sleep(3 * interval)
			return nil
		},
	}
	m := New(Options{Collector: fc, Ring: history.New(10)})

	cancel, done := runInBackground(t, m)
	waitFor(t, "three samples", func() bool { return m.Stats().Samples >= 3 })
	cancel()
	wait(t, done)

	if fc.overlap.Load() {
		t.Error("two polls ran concurrently")
	}
	if st := m.Stats(); st.Skipped < 2*st.Samples {
		t.Errorf("Skipped = %d after %d slow samples, want at least %d", st.Skipped, st.Samples, 2*st.Samples)
	}
}

func TestSamplingErrorsAreCounted(t *testing.T) {
	boom := errors.New("boom")
	fc := &fakeCollector{
		interval: 10 * time.Millisecond,
		hook: func(n int) error {
			switch n % 3 {
			case 1:
				return boom
			case 2:
				return collectors.ErrSampleInProgress
			}
			return nil
		},
	}
	ring := history.New(10)
	m := New(Options{Collector: fc, Ring: ring})

	cancel, done := runInBackground(t, m)
	waitFor(t, "two good samples", func() bool { return m.Stats().Samples >= 2 })
	cancel()
	wait(t, done)

	st := m.Stats()
	if st.Errors < 2 {
		t.Errorf("Errors = %d, want >= 2", st.Errors)
	}
	if st.Skipped < 2 {
		t.Errorf("Skipped = %d, want >= 2", st.Skipped)
	}
	if uint64(ring.Len()) != st.Samples {
		t.Errorf("ring holds %d, samples %d: failed polls must not be pushed", ring.Len(), st.Samples)
	}
}

func TestRefreshSamplesImmediately(t *testing.T) {
	m := New(Options{
		Collector: &fakeCollector{interval: time.Hour},
		Ring:      history.New(10),
	})

	cancel, done := runInBackground(t, m)
	waitFor(t, "initial sample", func() bool { return m.Stats().Samples == 1 })
	m.Refresh()
	waitFor(t, "refreshed sample", func() bool { return m.Stats().Samples == 2 })
	cancel()
	wait(t, done)
}

func TestRunTwice(t *testing.T) {
	block := make(chan struct{})
	fc := &fakeCollector{
		interval: time.Hour,
		hook: func(int) error {
			<-block
			return nil
		},
	}
	m := New(Options{Collector: fc, Ring: history.New(1)})

	cancel, done := runInBackground(t, m)
	waitFor(t, "first Run to start", func() bool { return fc.inflight.Load() == 1 })
	if err := m.Run(context.Background()); err == nil {
		t.Error("second concurrent Run succeeded")
	}
	close(block)
	cancel()
	wait(t, done)
}

func TestExporterListenFailureStopsRun(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer taken.Close()

	ring := history.New(1)
	srv, err := exporter.NewServer(taken.Addr().String(), exporter.NewCollector(ring, nil), nil)
	if err != nil {
		t.Fatal(err)
	}
	m := New(Options{
		Collector: &fakeCollector{interval: time.Hour},
		Ring:      ring,
		Exporter:  srv,
	})

	_, done := runInBackground(t, m)
	if err := wait(t, done); err == nil {
		t.Error("Run = nil, want listen error")
	}
}

func TestNewRequiresCollectorAndRing(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("New without a collector did not panic")
		}
	}()
	New(Options{Ring: history.New(1)})
}
