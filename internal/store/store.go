// Package store persists detection events to PostgreSQL.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/hearlink/internal/detect"
)

// Schema is the SQL DDL for the detections table. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS detections (
    id          BIGSERIAL PRIMARY KEY,
    kind        TEXT NOT NULL,
    token       TEXT NOT NULL,
    description TEXT NOT NULL,
    detected_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_detections_detected_at ON detections(detected_at DESC);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store appends detections to PostgreSQL. It satisfies [detect.EventSink].
type Store struct {
	db    DB
	close func()
}

var _ detect.EventSink = (*Store)(nil)

// New wraps an existing connection or pool. The caller owns db and must run
// [Store.Migrate] before use.
func New(db DB) *Store {
	return &Store{db: db, close: func() {}}
}

// Open connects a pool to dsn, verifies it and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	s := &Store{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes [Schema].
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// SaveDetection implements [detect.EventSink].
func (s *Store) SaveDetection(ctx context.Context, ev detect.Event) error {
	const query = `INSERT INTO detections (kind, token, description, detected_at) VALUES ($1, $2, $3, $4)`
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	if _, err := s.db.Exec(ctx, query, string(ev.Kind), ev.Token, ev.Description, at.UTC()); err != nil {
		return fmt.Errorf("store: save detection: %w", err)
	}
	return nil
}

// Recent returns up to limit detections, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]detect.Event, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `
		SELECT kind, token, description, detected_at
		FROM detections
		ORDER BY detected_at DESC, id DESC
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (detect.Event, error) {
		var (
			ev   detect.Event
			kind string
		)
		err := row.Scan(&kind, &ev.Token, &ev.Description, &ev.Time)
		ev.Kind = detect.Kind(kind)
		return ev, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	return events, nil
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the pool opened by [Open]. It is a no-op for stores built
// with [New].
func (s *Store) Close() { s.close() }
