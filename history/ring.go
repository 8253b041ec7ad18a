// Package history keeps the most recent snapshots in memory for the live
// dashboard. It is independent of storage retention: the ring only needs to
// hold enough samples to draw trends.
package history

import (
	"sync"

	"gitlab.com/tinyland/lab/sysmon/collectors"
)

// DefaultCapacity is the number of snapshots kept when none is configured.
// At the default 2s refresh interval this covers two minutes.
const DefaultCapacity = 60

// Ring is a fixed-capacity, overwrite-oldest buffer of snapshots.
// It is safe for one writer and any number of concurrent readers.
type Ring struct {
	mu    sync.RWMutex
	buf   []collectors.Snapshot
	start int // index of the oldest entry
	size  int
}

// New creates a Ring holding at most capacity snapshots. A capacity below 1
// uses DefaultCapacity.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([]collectors.Snapshot, capacity)}
}

// Push appends a snapshot, overwriting the oldest one when full.
func (r *Ring) Push(s collectors.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = s
		r.size++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

// Latest returns the most recently pushed snapshot. The second return value
// is false while the ring is empty.
func (r *Ring) Latest() (collectors.Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.size == 0 {
		return collectors.Snapshot{}, false
	}
	return r.buf[(r.start+r.size-1)%len(r.buf)].Clone(), true
}

// Recent returns the last n pushed snapshots, oldest first. n is clamped to
// the number of snapshots held.
func (r *Ring) Recent(n int) []collectors.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return nil
	}

	out := make([]collectors.Snapshot, n)
	first := r.start + r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(first+i)%len(r.buf)].Clone()
	}
	return out
}

// Series extracts one value per held snapshot, oldest first, for sparkline
// rendering. Snapshots for which pick reports false are skipped.
func (r *Ring) Series(pick func(collectors.Snapshot) (float64, bool)) []float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]float64, 0, r.size)
	for i := 0; i < r.size; i++ {
		if v, ok := pick(r.buf[(r.start+i)%len(r.buf)]); ok {
			out = append(out, v)
		}
	}
	return out
}

// Len returns the number of snapshots currently held.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the ring's capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}
