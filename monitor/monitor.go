// Package monitor runs the sampling loop. Each tick takes one snapshot,
// pushes it into the history ring and hands it to the storage writer. The
// renderer reads the ring independently.
package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gitlab.com/tinyland/lab/sysmon/collectors"
	"gitlab.com/tinyland/lab/sysmon/exporter"
	"gitlab.com/tinyland/lab/sysmon/history"
	"gitlab.com/tinyland/lab/sysmon/storage"
)

// DefaultShutdownTimeout bounds the final storage flush.
const DefaultShutdownTimeout = 5 * time.Second

// Options wires a Monitor. Collector and Ring are required.
type Options struct {
	Collector collectors.Collector
	Ring      *history.Ring

	// Writer persists snapshots. Nil disables persistence.
	Writer *storage.Writer

	// Exporter serves Prometheus metrics while Run is active. Nil disables it.
	Exporter *exporter.Server

	// OnSample is called from the sampling goroutine after each snapshot is
	// pushed. It must not block.
	OnSample func(collectors.Snapshot)

	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// Stats are cumulative sampling counters.
type Stats struct {
	Samples    uint64
	Skipped    uint64 // ticks missed because a poll was still running
	Errors     uint64
	LastSample time.Time
}

// Monitor owns the sampling task.
type Monitor struct {
	opts    Options
	logger  *slog.Logger
	refresh chan struct{}

	running atomic.Bool

	samples atomic.Uint64
	skipped atomic.Uint64
	errs    atomic.Uint64

	mu   sync.Mutex
	last time.Time
}

// New creates a monitor. It panics if Collector or Ring is nil.
func New(opts Options) *Monitor {
	if opts.Collector == nil || opts.Ring == nil {
		panic("monitor: Collector and Ring are required")
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Monitor{
		opts:    opts,
		logger:  logger,
		refresh: make(chan struct{}, 1),
	}
}

// Ring returns the history ring the monitor feeds.
func (m *Monitor) Ring() *history.Ring {
	return m.opts.Ring
}

// Refresh asks the sampling loop to take a snapshot now instead of waiting
// for the next tick. Requests made while one is pending are merged.
func (m *Monitor) Refresh() {
	select {
	case m.refresh <- struct{}{}:
	default:
	}
}

// Stats returns the sampling counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	last := m.last
	m.mu.Unlock()
	return Stats{
		Samples:    m.samples.Load(),
		Skipped:    m.skipped.Load(),
		Errors:     m.errs.Load(),
		LastSample: last,
	}
}

// Run samples until ctx is cancelled, then flushes pending snapshots
// within the shutdown timeout. It returns an error only if the exporter
// fails to start; storage errors are logged and never stop sampling.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("monitor: already running")
	}
	defer m.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg        sync.WaitGroup
		exportErr error
	)
	if m.opts.Exporter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.opts.Exporter.Run(ctx); err != nil {
				m.logger.Error("metrics exporter stopped", "error", err)
				exportErr = err
				cancel()
			}
		}()
	}

	m.logger.Info("monitor started",
		"collector", m.opts.Collector.Name(),
		"interval", m.opts.Collector.Interval().String(),
		"history", m.opts.Ring.Cap(),
		"storage", m.opts.Writer != nil,
	)

	m.loop(ctx)
	wg.Wait()

	if m.opts.Writer != nil {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), m.opts.ShutdownTimeout)
		defer flushCancel()
		if err := m.opts.Writer.Close(flushCtx); err != nil {
			m.logger.Warn("final storage flush failed", "error", err)
		}
		st := m.opts.Writer.Stats()
		m.logger.Info("storage writer closed",
			"written", st.Written,
			"failed", st.Failed,
			"dropped", st.Dropped,
		)
	}

	st := m.Stats()
	m.logger.Info("monitor stopped", "samples", st.Samples, "skipped", st.Skipped, "errors", st.Errors)
	return exportErr
}

// loop is the sampling goroutine body. It samples once immediately, then
// on every tick. time.Ticker drops ticks that arrive while a poll runs, so
// polls never overlap; the drops are counted from the poll duration.
func (m *Monitor) loop(ctx context.Context) {
	interval := m.opts.Collector.Interval()
	if interval <= 0 {
		interval = time.Second
	}

	m.sampleOnce(ctx, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.refresh:
		}
		m.sampleOnce(ctx, interval)
	}
}

func (m *Monitor) sampleOnce(ctx context.Context, interval time.Duration) {
	start := time.Now()
	snap, err := m.opts.Collector.Collect(ctx)
	took := time.Since(start)

	if missed := uint64(took / interval); missed > 0 {
		m.skipped.Add(missed)
		m.logger.Debug("sampling overran its interval, ticks skipped",
			"took", took.String(),
			"skipped", missed,
		)
	}

	if err != nil {
		switch {
		case ctx.Err() != nil:
		case errors.Is(err, collectors.ErrSampleInProgress):
			m.skipped.Add(1)
			m.logger.Debug("previous poll still running, tick skipped")
		default:
			m.errs.Add(1)
			m.logger.Warn("sampling failed", "error", err)
		}
		return
	}

	m.opts.Ring.Push(snap)
	m.samples.Add(1)
	m.mu.Lock()
	m.last = snap.Timestamp
	m.mu.Unlock()

	if m.opts.Writer != nil {
		m.opts.Writer.Enqueue(snap)
	}
	if m.opts.OnSample != nil {
		m.opts.OnSample(snap)
	}
}
