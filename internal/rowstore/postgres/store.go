// Package postgres implements the row store on PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/ledger-batch/internal/ledger"
	"github.com/JakeFAU/ledger-batch/internal/rowstore"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for the row store.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Store reads and appends transaction rows in Postgres.
type Store struct {
	pool  pool
	table string
}

// New creates a Postgres-backed Store and ensures its table exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	s, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Connect opens the pool without touching the schema. pg-export uses it
// against databases it must only read from.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("rowstore dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, cfg.Table)
	if err != nil {
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
		table = rowstore.DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: p, table: table}, nil
}

// EnsureSchema creates the transaction table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	cols := make([]string, 0, len(rowstore.Columns))
	for _, c := range rowstore.Columns {
		cols = append(cols, c+" TEXT NOT NULL DEFAULT ''")
	}
	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\trow_id BIGSERIAL PRIMARY KEY,\n\t%s\n)",
		s.table, strings.Join(cols, ",\n\t"))
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Count returns the number of rows in the table.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

// Fetch returns up to limit rows starting at offset, in row_id order.
func (s *Store) Fetch(ctx context.Context, offset, limit int64) ([]ledger.RawRecord, error) {
	query := fmt.Sprintf("SELECT row_id, %s FROM %s ORDER BY row_id LIMIT $1 OFFSET $2",
		strings.Join(rowstore.Columns, ", "), s.table)
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("fetch chunk at offset %d: %w", offset, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.RawRecord, error) {
		var r ledger.RawRecord
		err := row.Scan(&r.RowID, &r.TransactionID, &r.TransactionDate, &r.Amount,
			&r.Branch, &r.TransactionType, &r.CustomerName)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan chunk at offset %d: %w", offset, err)
	}
	return out, nil
}

// Append inserts records inside one transaction.
func (s *Store) Append(ctx context.Context, records []ledger.RawRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES ($1,$2,$3,$4,$5,$6)",
		s.table, strings.Join(rowstore.Columns, ", "))
	for _, r := range records {
		if _, err := tx.Exec(ctx, query, rowstore.Values(r)...); err != nil {
			_ = tx.Rollback(ctx)
			return 0, fmt.Errorf("insert row: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return len(records), nil
}

// Export reads every row of an arbitrary table as text, preserving the
// table's own column names.
func (s *Store) Export(ctx context.Context, table string) ([]string, [][]string, error) {
	if !validTableName.MatchString(table) {
		return nil, nil, fmt.Errorf("invalid table name %q", table)
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT * FROM %s", table))
	if err != nil {
		return nil, nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	header := make([]string, len(fields))
	for i, f := range fields {
		header[i] = f.Name
	}
	var out [][]string
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, nil, fmt.Errorf("read %s row: %w", table, err)
		}
		line := make([]string, len(values))
		for i, v := range values {
			line[i] = textValue(v)
		}
		out = append(out, line)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return header, out, nil
}

// Tables lists the tables in the public schema.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT table_name FROM information_schema.tables
WHERE table_schema = 'public' ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan tables: %w", err)
	}
	return names, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func textValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		return t.Format("2006-01-02 15:04:05")
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
