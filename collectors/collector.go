// Package collectors defines the snapshot model shared by every part of
// sysmon and the interface metric collectors implement.
package collectors

import (
	"context"
	"errors"
	"time"
)

// ErrSampleInProgress is returned by a collector when a previous poll is
// still running. Polls never overlap; the caller should skip this tick.
var ErrSampleInProgress = errors.New("collectors: sample already in progress")

// Collector is the interface the monitoring loop drives on every tick.
type Collector interface {
	// Name returns the collector's identifier (e.g. "sysmetrics").
	Name() string

	// Interval returns the polling interval the collector was configured
	// with. The monitoring loop ticks at this rate.
	Interval() time.Duration

	// Collect takes one reading. Categories that cannot be read are
	// reported through Snapshot.Unavailable rather than as an error; an
	// error means no snapshot was produced at all (cancellation, or
	// ErrSampleInProgress).
	Collect(ctx context.Context) (Snapshot, error)
}
