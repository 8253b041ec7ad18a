package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gitlab.com/tinyland/lab/sysmon/collectors"
	"gitlab.com/tinyland/lab/sysmon/retry"
)

const (
	// DefaultQueueSize bounds the snapshots waiting to be written.
	DefaultQueueSize = 64

	// DefaultBatchSize triggers an early flush.
	DefaultBatchSize = 10

	// DefaultFlushInterval is how often pending snapshots are written.
	DefaultFlushInterval = 10 * time.Second
)

// WriterOptions configures a Writer. Zero values use the defaults above.
type WriterOptions struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration

	// Breaker guards backend appends. Nil uses retry.DefaultConfig.
	Breaker *retry.Breaker

	// Logger for write failures and drops. Nil discards.
	Logger *slog.Logger
}

// WriterStats are cumulative Writer counters.
type WriterStats struct {
	Written uint64 // snapshots appended successfully
	Failed  uint64 // snapshots lost to failed or skipped appends
	Dropped uint64 // snapshots evicted from a full queue
	Pending int
}

// Writer decouples persistence from sampling. Enqueue never blocks; a
// background goroutine appends pending snapshots to the backend in batches.
// A failed batch is logged, counted and discarded.
type Writer struct {
	backend Backend
	opts    WriterOptions
	logger  *slog.Logger
	breaker *retry.Breaker

	mu      sync.Mutex
	pending []collectors.Snapshot
	closed  bool

	wake   chan struct{}
	stop   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once

	written atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// NewWriter starts a writer for b. The caller must call Close to flush
// pending snapshots; Close does not close b.
func NewWriter(b Backend, opts WriterOptions) *Writer {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	breaker := opts.Breaker
	if breaker == nil {
		cfg := retry.DefaultConfig()
		cfg.Name = "storage append"
		cfg.Logger = logger
		breaker = retry.New(cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		backend: b,
		opts:    opts,
		logger:  logger,
		breaker: breaker,
		pending: make([]collectors.Snapshot, 0, opts.QueueSize),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go w.loop(ctx)
	return w
}

// Enqueue queues s for writing. When the queue is full the oldest pending
// snapshot is dropped. It reports false if the writer is closed.
func (w *Writer) Enqueue(s collectors.Snapshot) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	var evicted *collectors.Snapshot
	if len(w.pending) >= w.opts.QueueSize {
		old := w.pending[0]
		evicted = &old
		w.pending = append(w.pending[:0], w.pending[1:]...)
	}
	w.pending = append(w.pending, s)
	full := len(w.pending) >= w.opts.BatchSize
	w.mu.Unlock()

	if evicted != nil {
		w.dropped.Add(1)
		w.logger.Warn("storage queue full, dropped oldest snapshot",
			"timestamp", evicted.Timestamp,
			"queue_size", w.opts.QueueSize,
		)
	}
	if full {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
	return true
}

// Close stops the background loop and flushes everything still pending,
// bounded by ctx. It is safe to call more than once.
func (w *Writer) Close(ctx context.Context) error {
	first := false
	w.once.Do(func() {
		first = true
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		close(w.stop)
	})
	if !first {
		return nil
	}

	select {
	case <-w.done:
	case <-ctx.Done():
		w.cancel()
		<-w.done
	}
	defer w.cancel()
	return w.flush(ctx)
}

// Stats returns the cumulative counters.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	pending := len(w.pending)
	w.mu.Unlock()
	return WriterStats{
		Written: w.written.Load(),
		Failed:  w.failed.Load(),
		Dropped: w.dropped.Load(),
		Pending: pending,
	}
}

func (w *Writer) loop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
		case <-w.wake:
		}
		_ = w.flush(ctx)
	}
}

// flush appends every pending snapshot as one batch.
func (w *Writer) flush(ctx context.Context) error {
	w.mu.Lock()
	batch := w.pending
	w.pending = make([]collectors.Snapshot, 0, w.opts.QueueSize)
	w.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	err := w.breaker.Do(ctx, func(ctx context.Context) error {
		return w.backend.Append(ctx, batch...)
	})
	if err != nil {
		w.failed.Add(uint64(len(batch)))
		level := slog.LevelWarn
		if errors.Is(err, retry.ErrOpen) {
			level = slog.LevelDebug
		}
		w.logger.Log(ctx, level, "storage write failed, batch discarded",
			"snapshots", len(batch),
			"error", err,
		)
		return err
	}

	w.written.Add(uint64(len(batch)))
	w.logger.Debug("storage batch written", "snapshots", len(batch))
	return nil
}
