// Package sqlite provides a core.TrackerStore backed by an embedded SQLite
// database (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/logging"

	_ "modernc.org/sqlite"
)

// Options configure the SQLite store.
type Options struct {
	Slots  []core.Slot
	Logger logging.Logger
}

// Store implements core.TrackerStore on a SQLite file.
type Store struct {
	db   *sql.DB
	opts Options
}

// New opens (and if needed creates) the database at path.
func New(path string, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNop(opts.Logger)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create directory: %v", core.ErrPersistence, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", core.ErrPersistence, err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, opts: opts}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trackers (
		sender_id TEXT PRIMARY KEY,
		events TEXT NOT NULL DEFAULT '[]',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("%w: create schema: %v", core.ErrPersistence, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// GetOrCreateTracker returns the stored tracker or a new empty one.
func (s *Store) GetOrCreateTracker(ctx context.Context, senderID string) (*core.Tracker, error) {
	t, err := s.Retrieve(ctx, senderID)
	if errors.Is(err, core.ErrTrackerNotFound) {
		return core.NewTracker(senderID, s.opts.Slots), nil
	}
	return t, err
}

// Save upserts the tracker's event log.
func (s *Store) Save(ctx context.Context, tracker *core.Tracker) error {
	data, err := tracker.Serialize()
	if err != nil {
		return fmt.Errorf("serialize tracker %s: %w", tracker.SenderID, err)
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO trackers (sender_id, events, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(sender_id) DO UPDATE SET events = excluded.events, updated_at = excluded.updated_at`,
		tracker.SenderID, string(data))
	if err != nil {
		s.opts.Logger.Error("Failed to save tracker", "sender_id", tracker.SenderID, "error", err)
		return fmt.Errorf("%w: save tracker %s: %v", core.ErrPersistence, tracker.SenderID, err)
	}
	return nil
}

// Retrieve loads a tracker or returns core.ErrTrackerNotFound.
func (s *Store) Retrieve(ctx context.Context, senderID string) (*core.Tracker, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT events FROM trackers WHERE sender_id = ?`, senderID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrTrackerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve tracker %s: %v", core.ErrPersistence, senderID, err)
	}
	t, err := core.TrackerFromDict(senderID, []byte(data), s.opts.Slots)
	if err != nil {
		return nil, fmt.Errorf("decode tracker %s: %w", senderID, err)
	}
	return t, nil
}

// Keys lists the stored sender ids in sorted order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sender_id FROM trackers ORDER BY sender_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list trackers: %v", core.ErrPersistence, err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("%w: list trackers: %v", core.ErrPersistence, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list trackers: %v", core.ErrPersistence, err)
	}
	return keys, nil
}
