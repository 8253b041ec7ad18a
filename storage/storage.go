// Package storage persists snapshots for later review. A Backend is a
// bounded, append-only history: once it holds MaxRecords snapshots, every
// append discards the oldest ones.
//
// Backends live in subpackages and register themselves by name:
//
//	import _ "gitlab.com/tinyland/lab/sysmon/storage/jsonfile"
//	import _ "gitlab.com/tinyland/lab/sysmon/storage/sqlite"
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"gitlab.com/tinyland/lab/sysmon/collectors"
	"gitlab.com/tinyland/lab/sysmon/config"
	"gitlab.com/tinyland/lab/sysmon/internal/atomicfile"
)

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("storage: backend closed")

// Backend is a persistent snapshot history with a retention bound.
// Implementations are safe for concurrent use.
type Backend interface {
	// Append adds snapshots in order and applies retention.
	Append(ctx context.Context, snaps ...collectors.Snapshot) error
	// Query returns matching snapshots oldest first.
	Query(ctx context.Context, q Query) ([]collectors.Snapshot, error)
	// Count returns the number of stored snapshots.
	Count(ctx context.Context) (int, error)
	// Clear removes every stored snapshot.
	Clear(ctx context.Context) error
	// Export writes every stored snapshot to path as a JSON array.
	Export(ctx context.Context, path string) error
	// Close releases the backend. Further calls return ErrClosed.
	Close() error
}

// Query selects a time range of stored snapshots. Zero times are unbounded.
// A positive Limit keeps only the most recent Limit matches.
type Query struct {
	Since time.Time
	Until time.Time
	Limit int
}

// Match reports whether ts falls inside the query range. Both ends are
// inclusive.
func (q Query) Match(ts time.Time) bool {
	if !q.Since.IsZero() && ts.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && ts.After(q.Until) {
		return false
	}
	return true
}

// Filter applies q to snaps, which must be ordered oldest first. The result
// shares no memory with snaps.
func Filter(snaps []collectors.Snapshot, q Query) []collectors.Snapshot {
	out := make([]collectors.Snapshot, 0, len(snaps))
	for _, s := range snaps {
		if q.Match(s.Timestamp) {
			out = append(out, s.Clone())
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out
}

// Error describes a failed backend operation.
type Error struct {
	Op      string // "append", "query", "open", ...
	Backend string // "json" or "sqlite"
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Options configures a backend instance.
type Options struct {
	// Path is the store file.
	Path string
	// MaxRecords is the retention bound. Values below 1 are treated as 1.
	MaxRecords int
	// Logger receives backend diagnostics. Nil discards them.
	Logger *slog.Logger
}

// Factory opens a backend.
type Factory func(opts Options) (Backend, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register makes a backend available under name. It panics if called twice
// for the same name.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, dup := factories[name]; dup {
		panic("storage: Register called twice for backend " + name)
	}
	factories[name] = f
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens the backend selected by cfg.
func Open(cfg config.StorageConfig, logger *slog.Logger) (Backend, error) {
	factoriesMu.RLock()
	f, ok := factories[cfg.Backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, &Error{Op: "open", Backend: cfg.Backend, Err: fmt.Errorf("unknown backend (registered: %v)", Backends())}
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return f(Options{
		Path:       cfg.ResolvedPath(),
		MaxRecords: cfg.MaxRecords,
		Logger:     logger.With("backend", cfg.Backend),
	})
}

// WriteExport atomically writes snaps to path as an indented JSON array.
func WriteExport(path string, snaps []collectors.Snapshot) error {
	if snaps == nil {
		snaps = []collectors.Snapshot{}
	}
	data, err := json.MarshalIndent(snaps, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal export: %w", err)
	}
	if err := atomicfile.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("storage: export: %w", err)
	}
	return nil
}

// ReadExport reads a file written by Export.
func ReadExport(path string) ([]collectors.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storage: read export: %w", err)
	}
	var snaps []collectors.Snapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return nil, fmt.Errorf("storage: parse export %s: %w", path, err)
	}
	return snaps, nil
}

// Import appends the snapshots of an export file to b, ordered by
// timestamp. It returns the number of snapshots read.
func Import(ctx context.Context, b Backend, path string) (int, error) {
	snaps, err := ReadExport(path)
	if err != nil {
		return 0, err
	}
	sort.SliceStable(snaps, func(i, j int) bool {
		return snaps[i].Timestamp.Before(snaps[j].Timestamp)
	})
	if len(snaps) == 0 {
		return 0, nil
	}
	if err := b.Append(ctx, snaps...); err != nil {
		return 0, err
	}
	return len(snaps), nil
}
