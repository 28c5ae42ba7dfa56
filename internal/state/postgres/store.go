// Package postgres implements the state store as rows of a key/value table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store persists documents in a single table keyed by document name.
//
//	CREATE TABLE pipeline_state (
//		key        TEXT PRIMARY KEY,
//		value      BYTEA NOT NULL,
//		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type Store struct {
	pool  pool
	table string
}

// New connects to Postgres and ensures the state table exists.
func New(ctx context.Context, dsn, table string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("state dsn is required")
	}
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "pipeline_state"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: p, table: table}, nil
}

// EnsureSchema creates the state table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key TEXT PRIMARY KEY,
	value BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create state table: %w", err)
	}
	return nil
}

// Get reads the document for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.table), key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select state: %w", err)
	}
	return value, true, nil
}

// Put upserts the document in a single statement.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	query := fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
