// Package sqlite implements the "sqlite" storage backend on the pure-Go
// modernc.org/sqlite driver. Each snapshot is one row holding its JSON
// encoding, indexed by timestamp.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"gitlab.com/tinyland/lab/sysmon/collectors"
	"gitlab.com/tinyland/lab/sysmon/config"
	"gitlab.com/tinyland/lab/sysmon/storage"
)

func init() {
	storage.Register(config.BackendSQLite, func(opts storage.Options) (storage.Backend, error) {
		return Open(opts)
	})
}

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	ts   INTEGER NOT NULL,
	data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON snapshots(ts);
`

// Store is a SQLite-backed history.
type Store struct {
	db         *sql.DB
	path       string
	maxRecords int
	logger     *slog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ storage.Backend = (*Store)(nil)

// Open opens or creates the database at opts.Path.
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

	db, err := sql.Open("sqlite", dsn(opts.Path))
	if err != nil {
		return nil, wrap("open", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, wrap("open", fmt.Errorf("initialize schema: %w", err))
	}
	_ = os.Chmod(opts.Path, 0600)

	logger.Debug("sqlite store opened", "path", opts.Path, "max_records", opts.MaxRecords)
	return &Store{db: db, path: opts.Path, maxRecords: opts.MaxRecords, logger: logger}, nil
}

// connPragmas are applied by the driver to every new connection.
var connPragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

func dsn(path string) string {
	var b strings.Builder
	b.WriteString(path)
	for i, p := range connPragmas {
		if i == 0 {
			b.WriteString("?")
		} else {
			b.WriteString("&")
		}
		b.WriteString("_pragma=" + p)
	}
	return b.String()
}

// Append inserts snaps and trims the oldest rows beyond maxRecords in the
// same transaction.
func (s *Store) Append(ctx context.Context, snaps ...collectors.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return wrap("append", storage.ErrClosed)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("append", fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO snapshots (ts, data) VALUES (?, ?)`)
	if err != nil {
		return wrap("append", fmt.Errorf("prepare insert: %w", err))
	}
	defer func() { _ = stmt.Close() }()

	for _, snap := range snaps {
		data, err := json.Marshal(snap)
		if err != nil {
			return wrap("append", fmt.Errorf("marshal: %w", err))
		}
		if _, err := stmt.ExecContext(ctx, snap.Timestamp.UnixNano(), string(data)); err != nil {
			return wrap("append", fmt.Errorf("insert: %w", err))
		}
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM snapshots WHERE id NOT IN (
			SELECT id FROM snapshots ORDER BY id DESC LIMIT ?
		)`, s.maxRecords)
	if err != nil {
		return wrap("append", fmt.Errorf("apply retention: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return wrap("append", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Query returns the snapshots matching q, oldest first.
func (s *Store) Query(ctx context.Context, q storage.Query) ([]collectors.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrap("query", storage.ErrClosed)
	}

	var (
		where []string
		args  []any
	)
	if !q.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if !q.Until.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, q.Until.UnixNano())
	}

	query := "SELECT data FROM snapshots"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("query", err)
	}
	defer func() { _ = rows.Close() }()

	var out []collectors.Snapshot
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, wrap("query", fmt.Errorf("scan: %w", err))
		}
		var snap collectors.Snapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			s.logger.Warn("skipping undecodable snapshot row", "error", err)
			continue
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("query", err)
	}

	// Rows were read newest first so LIMIT keeps the most recent.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Count returns the number of stored snapshots.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, wrap("count", storage.ErrClosed)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM snapshots").Scan(&n); err != nil {
		return 0, wrap("count", err)
	}
	return n, nil
}

// Clear deletes every row.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return wrap("clear", storage.ErrClosed)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM snapshots"); err != nil {
		return wrap("clear", err)
	}
	return nil
}

// Export writes every stored snapshot to path as a JSON array.
func (s *Store) Export(ctx context.Context, path string) error {
	snaps, err := s.Query(ctx, storage.Query{})
	if err != nil {
		return err
	}
	if err := storage.WriteExport(path, snaps); err != nil {
		return wrap("export", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return wrap("close", err)
	}
	return nil
}

func wrap(op string, err error) error {
	return &storage.Error{Op: op, Backend: config.BackendSQLite, Err: err}
}
