// Package postgres provides a core.TrackerStore backed by PostgreSQL via
// pgx. Each tracker is one row holding its serialized event log as JSONB.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/logging"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultTable is the table trackers are stored in.
const DefaultTable = "conversation_trackers"

var tablePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Options configure the Postgres store.
type Options struct {
	Table  string
	Slots  []core.Slot
	Logger logging.Logger
}

// Store implements core.TrackerStore on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	opts Options
}

// New constructs a Postgres-backed tracker store.
func New(pool *pgxpool.Pool, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{Table: DefaultTable}
	for _, fn := range optFns {
		fn(&opts)
	}
	if !tablePattern.MatchString(opts.Table) {
		return nil, fmt.Errorf("%w: invalid table name %q", core.ErrConfiguration, opts.Table)
	}
	opts.Logger = logging.OrNop(opts.Logger)
	return &Store{pool: pool, opts: opts}, nil
}

// Connect opens a pool for the connection string and ensures the schema.
func Connect(ctx context.Context, dsn string, optFns ...func(o *Options)) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres pool: %v", core.ErrPersistence, err)
	}
	s, err := New(pool, optFns...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// EnsureSchema creates the tracker table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    sender_id TEXT PRIMARY KEY,
    events JSONB NOT NULL DEFAULT '[]'::jsonb,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_%s_updated_at ON %s (updated_at DESC);
`, s.opts.Table, s.opts.Table, s.opts.Table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("%w: ensure schema: %v", core.ErrPersistence, err)
	}
	return nil
}

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
	query := fmt.Sprintf(`
INSERT INTO %s (sender_id, events, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (sender_id) DO UPDATE SET events = EXCLUDED.events, updated_at = EXCLUDED.updated_at
`, s.opts.Table)
	if _, err := s.pool.Exec(ctx, query, tracker.SenderID, data); err != nil {
		s.opts.Logger.Error("Failed to save tracker", "sender_id", tracker.SenderID, "error", err)
		return fmt.Errorf("%w: save tracker %s: %v", core.ErrPersistence, tracker.SenderID, err)
	}
	return nil
}

// Retrieve loads a tracker or returns core.ErrTrackerNotFound.
func (s *Store) Retrieve(ctx context.Context, senderID string) (*core.Tracker, error) {
	query := fmt.Sprintf(`SELECT events FROM %s WHERE sender_id = $1`, s.opts.Table)
	var data []byte
	if err := s.pool.QueryRow(ctx, query, senderID).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrTrackerNotFound
		}
		return nil, fmt.Errorf("%w: retrieve tracker %s: %v", core.ErrPersistence, senderID, err)
	}
	t, err := core.TrackerFromDict(senderID, data, s.opts.Slots)
	if err != nil {
		return nil, fmt.Errorf("decode tracker %s: %w", senderID, err)
	}
	return t, nil
}

// Keys lists the stored sender ids in sorted order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT sender_id FROM %s ORDER BY sender_id`, s.opts.Table))
	if err != nil {
		return nil, fmt.Errorf("%w: list trackers: %v", core.ErrPersistence, err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%w: list trackers: %v", core.ErrPersistence, err)
	}
	return keys, nil
}
