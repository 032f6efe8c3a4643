package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/muurk/acond/internal/coordinator"
	"github.com/muurk/acond/internal/device"
	"github.com/muurk/acond/internal/logging"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Latest for keys that were never recorded
var ErrNotFound = errors.New("no readings for key")

const schema = `
CREATE TABLE IF NOT EXISTS readings (
	ts    INTEGER NOT NULL,
	key   TEXT    NOT NULL,
	value TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS readings_key_ts ON readings (key, ts);
`

// Reading is one recorded value
type Reading struct {
	Time  time.Time
	Key   string
	Value string
}

// Store records snapshot changes in a SQLite database
type Store struct {
	db *sql.DB

	mu   sync.Mutex
	last map[string]string
}

// Open opens or creates the database at path
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// one writer; readers share the connection
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	s := &Store{db: db, last: make(map[string]string)}
	if err := s.loadLatest(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logging.Debug("History database opened", zap.String("path", path), zap.Int("keys", len(s.last)))
	return s, nil
}

func (s *Store) loadLatest(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.key, r.value FROM readings r
		JOIN (SELECT key, MAX(ts) AS ts FROM readings GROUP BY key) m
		  ON r.key = m.key AND r.ts = m.ts`)
	if err != nil {
		return fmt.Errorf("failed to read latest values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		s.last[key] = value
	}
	return rows.Err()
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores the keys of snap whose value differs from the last recorded
// one and returns how many rows were written.
func (s *Store) Record(ctx context.Context, snap device.Snapshot) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := make(map[string]string)
	for _, key := range snap.Keys() {
		v, _ := snap.Get(key)
		if prev, ok := s.last[key]; !ok || prev != v {
			changed[key] = v
		}
	}
	if len(changed) == 0 {
		return 0, nil
	}

	ts := snap.FetchedAt()
	if ts.IsZero() {
		ts = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO readings (ts, key, value) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for key, v := range changed {
		if _, err := stmt.ExecContext(ctx, ts.UnixMilli(), key, v); err != nil {
			return 0, fmt.Errorf("failed to record %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	for key, v := range changed {
		s.last[key] = v
	}
	return len(changed), nil
}

// Observer returns a coordinator observer that records every served
// snapshot
func (s *Store) Observer() coordinator.Observer {
	return func(u coordinator.Update) {
		if !u.Present {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		n, err := s.Record(ctx, u.Snapshot)
		if err != nil {
			logging.Warn("Failed to record history", zap.Error(err))
			return
		}
		if n > 0 {
			logging.Debug("History recorded", zap.Int("changed", n))
		}
	}
}

// Latest returns the most recent reading of key
func (s *Store) Latest(ctx context.Context, key string) (Reading, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT ts, value FROM readings WHERE key = ? ORDER BY ts DESC LIMIT 1`, key)

	var ms int64
	r := Reading{Key: key}
	if err := row.Scan(&ms, &r.Value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Reading{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return Reading{}, err
	}
	r.Time = time.UnixMilli(ms)
	return r, nil
}

// Range returns readings of key recorded at or after since, oldest first.
// A limit of 0 or less returns all of them; otherwise the newest limit
// readings are returned.
func (s *Store) Range(ctx context.Context, key string, since time.Time, limit int) ([]Reading, error) {
	query := `SELECT ts, value FROM readings WHERE key = ? AND ts >= ? ORDER BY ts DESC`
	args := []any{key, since.UnixMilli()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var ms int64
		r := Reading{Key: key}
		if err := rows.Scan(&ms, &r.Value); err != nil {
			return nil, err
		}
		r.Time = time.UnixMilli(ms)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Prune deletes readings older than before, keeping the latest reading of
// every key, and returns how many rows were deleted.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM readings
		WHERE ts < ?
		  AND ts < (SELECT MAX(ts) FROM readings r WHERE r.key = readings.key)`,
		before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}

// PruneLoop prunes readings older than retention every interval until ctx
// is done
func (s *Store) PruneLoop(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := s.Prune(ctx, time.Now().Add(-retention))
		if err != nil && ctx.Err() == nil {
			logging.Warn("History prune failed", zap.Error(err))
		} else if n > 0 {
			logging.Info("History pruned", zap.Int64("rows", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
