// Package jsonfile implements the "json" storage backend: the whole history
// is one JSON array, rewritten atomically on every append.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gitlab.com/tinyland/lab/sysmon/collectors"
	"gitlab.com/tinyland/lab/sysmon/config"
	"gitlab.com/tinyland/lab/sysmon/internal/atomicfile"
	"gitlab.com/tinyland/lab/sysmon/storage"
)

func init() {
	storage.Register(config.BackendJSON, func(opts storage.Options) (storage.Backend, error) {
		return Open(opts)
	})
}

// Store is a JSON file history. Writers in other processes are excluded by
// an advisory lock on "<path>.lock".
type Store struct {
	path       string
	maxRecords int
	logger     *slog.Logger
	lock       *fileLock
	now        func() time.Time

	mu     sync.Mutex
	closed bool
}

var _ storage.Backend = (*Store)(nil)

// Open opens or creates the store at opts.Path.
func Open(opts storage.Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.MaxRecords < 1 {
		opts.MaxRecords = 1
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0700); err != nil {
		return nil, wrap("open", fmt.Errorf("create directory: %w", err))
	}
	lock, err := openLock(opts.Path + ".lock")
	if err != nil {
		return nil, wrap("open", fmt.Errorf("open lock file: %w", err))
	}

	return &Store{
		path:       opts.Path,
		maxRecords: opts.MaxRecords,
		logger:     logger,
		lock:       lock,
		now:        time.Now,
	}, nil
}

// Path returns the store file.
func (s *Store) Path() string {
	return s.path
}

// Append adds snaps and keeps only the newest maxRecords.
func (s *Store) Append(ctx context.Context, snaps ...collectors.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	return s.withLock(ctx, "append", true, func() error {
		all, err := s.load(true)
		if err != nil {
			return err
		}
		all = append(all, snaps...)
		if len(all) > s.maxRecords {
			all = all[len(all)-s.maxRecords:]
		}
		return s.write(all)
	})
}

// Query returns the snapshots matching q, oldest first.
func (s *Store) Query(ctx context.Context, q storage.Query) ([]collectors.Snapshot, error) {
	all, err := s.read(ctx, "query")
	if err != nil {
		return nil, err
	}
	return storage.Filter(all, q), nil
}

// Count returns the number of stored snapshots.
func (s *Store) Count(ctx context.Context) (int, error) {
	all, err := s.read(ctx, "count")
	return len(all), err
}

// Clear empties the store.
func (s *Store) Clear(ctx context.Context) error {
	return s.withLock(ctx, "clear", true, func() error {
		return s.write([]collectors.Snapshot{})
	})
}

// Export writes every stored snapshot to path.
func (s *Store) Export(ctx context.Context, path string) error {
	all, err := s.read(ctx, "export")
	if err != nil {
		return err
	}
	if err := storage.WriteExport(path, all); err != nil {
		return wrap("export", err)
	}
	return nil
}

// Close releases the lock file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.lock.close(); err != nil {
		return wrap("close", err)
	}
	return nil
}

// withLock runs fn holding the in-process mutex and the file lock.
func (s *Store) withLock(ctx context.Context, op string, exclusive bool, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return wrap(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return wrap(op, storage.ErrClosed)
	}

	if err := s.lock.lock(exclusive); err != nil {
		return wrap(op, fmt.Errorf("lock: %w", err))
	}
	defer func() { _ = s.lock.unlock() }()

	if err := fn(); err != nil {
		return wrap(op, err)
	}
	return nil
}

// read loads the store under the shared lock. A file that does not parse
// is loaded again under the exclusive lock, which moves it aside.
func (s *Store) read(ctx context.Context, op string) ([]collectors.Snapshot, error) {
	var all []collectors.Snapshot
	err := s.withLock(ctx, op, false, func() error {
		var err error
		all, err = s.load(false)
		return err
	})
	if !errors.Is(err, errCorrupt) {
		return all, err
	}
	err = s.withLock(ctx, op, true, func() error {
		var err error
		all, err = s.load(true)
		return err
	})
	return all, err
}

// errCorrupt is returned by load when the file does not parse and the
// caller holds only the shared lock.
var errCorrupt = errors.New("history file does not parse")

// load reads the durable array. A missing file is an empty store. A file
// that does not parse is moved aside when exclusive is set, and the store
// starts empty; otherwise load returns errCorrupt and leaves it in place.
func (s *Store) load(exclusive bool) ([]collectors.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var snaps []collectors.Snapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		if !exclusive {
			return nil, errCorrupt
		}
		aside := fmt.Sprintf("%s.corrupt-%s", s.path, s.now().UTC().Format("20060102T150405Z"))
		if rerr := os.Rename(s.path, aside); rerr != nil {
			return nil, fmt.Errorf("quarantine corrupt store: %w", rerr)
		}
		s.logger.Warn("storage: corrupt history file moved aside, starting empty",
			slog.String("path", s.path),
			slog.String("moved_to", aside),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	return snaps, nil
}

func (s *Store) write(snaps []collectors.Snapshot) error {
	data, err := json.Marshal(snaps)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return atomicfile.WriteFile(s.path, data, 0600)
}

func wrap(op string, err error) error {
	return &storage.Error{Op: op, Backend: config.BackendJSON, Err: err}
}
