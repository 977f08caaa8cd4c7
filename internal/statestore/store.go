// Package statestore persists engine state snapshots and lifecycle event
// markers in a local SQLite file. Snapshots are opaque msgpack blobs owned
// by the engines; this package only keys and stores them.
package statestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/quantflow/stratd/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS worker_state (
	worker_key TEXT PRIMARY KEY,
	engine     TEXT NOT NULL,
	payload    BLOB NOT NULL,
	saved_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS lifecycle_events (
	kind     TEXT PRIMARY KEY,
	fired_on TEXT NOT NULL
);
`

// Store is a handle to the supervisor's state database.
type Store struct {
	db   *sql.DB
	path string
	log  zerolog.Logger
}

// Open creates or opens the state database at path and applies the schema.
// WAL mode keeps writers from blocking the read paths (status endpoints
// read snapshots while workers save).
func Open(path string, log zerolog.Logger) (*Store, error) {
	if !strings.HasPrefix(path, "file:") {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve state db path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return nil, fmt.Errorf("create state db directory: %w", err)
		}
		path = abs
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	connStr := path + sep +
		"_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(24 * time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping state db: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply state db schema: %w", err)
	}

	return &Store{
		db:   db,
		path: path,
		log:  log.With().Str("component", "statestore").Logger(),
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Snapshot is one saved engine state.
type Snapshot struct {
	Key     domain.WorkerKey
	Engine  string
	Payload []byte
	SavedAt time.Time
}

// SaveSnapshot upserts the engine state for a worker.
func (s *Store) SaveSnapshot(ctx context.Context, key domain.WorkerKey, engineName string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_state (worker_key, engine, payload, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(worker_key) DO UPDATE SET
			engine   = excluded.engine,
			payload  = excluded.payload,
			saved_at = excluded.saved_at`,
		string(key), engineName, payload, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save snapshot for %s: %w", key, err)
	}
	return nil
}

// LoadSnapshot returns the saved state for a worker. The second return is
// false when no snapshot exists.
func (s *Store) LoadSnapshot(ctx context.Context, key domain.WorkerKey) ([]byte, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM worker_state WHERE worker_key = ?`, string(key)).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot for %s: %w", key, err)
	}
	return payload, true, nil
}

// DeleteSnapshot removes a worker's saved state.
func (s *Store) DeleteSnapshot(ctx context.Context, key domain.WorkerKey) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM worker_state WHERE worker_key = ?`, string(key)); err != nil {
		return fmt.Errorf("delete snapshot for %s: %w", key, err)
	}
	return nil
}

// Snapshots lists every saved state, ordered by worker key.
func (s *Store) Snapshots(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT worker_key, engine, payload, saved_at FROM worker_state ORDER BY worker_key`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var (
			key     string
			engine  string
			payload []byte
			savedAt string
		)
		if err := rows.Scan(&key, &engine, &payload, &savedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		ts, err := time.Parse(time.RFC3339, savedAt)
		if err != nil {
			s.log.Warn().Str("worker", key).Str("saved_at", savedAt).Msg("Unparseable snapshot timestamp")
		}
		out = append(out, Snapshot{
			Key:     domain.WorkerKey(key),
			Engine:  engine,
			Payload: payload,
			SavedAt: ts,
		})
	}
	return out, rows.Err()
}

// MarkLifecycleEvent records the last calendar day a lifecycle event kind
// fired, replacing any previous day.
func (s *Store) MarkLifecycleEvent(ctx context.Context, kind, day string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lifecycle_events (kind, fired_on)
		VALUES (?, ?)
		ON CONFLICT(kind) DO UPDATE SET fired_on = excluded.fired_on`,
		kind, day)
	if err != nil {
		return fmt.Errorf("mark lifecycle event %s: %w", kind, err)
	}
	return nil
}

// LifecycleEventDay returns the day a lifecycle event kind last fired.
func (s *Store) LifecycleEventDay(ctx context.Context, kind string) (string, bool, error) {
	var day string
	err := s.db.QueryRowContext(ctx,
		`SELECT fired_on FROM lifecycle_events WHERE kind = ?`, kind).Scan(&day)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load lifecycle event %s: %w", kind, err)
	}
	return day, true, nil
}
