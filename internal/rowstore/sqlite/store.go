// Package sqlite implements the row store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/JakeFAU/ledger-batch/internal/ledger"
	"github.com/JakeFAU/ledger-batch/internal/rowstore"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Store reads and appends transaction rows in a SQLite file.
type Store struct {
	db    *sql.DB
	table string
}

// Open opens (or creates) the database at path and ensures the table exists.
func Open(ctx context.Context, path, table string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if table == "" {
		table = rowstore.DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &Store{db: db, table: table}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	cols := make([]string, 0, len(rowstore.Columns))
	for _, c := range rowstore.Columns {
		cols = append(cols, c+" TEXT NOT NULL DEFAULT ''")
	}
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	row_id INTEGER PRIMARY KEY AUTOINCREMENT,
	%s
)`, s.table, strings.Join(cols, ",\n\t"))
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Count returns the number of rows in the table.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

// Fetch returns up to limit rows starting at offset, in row_id order.
func (s *Store) Fetch(ctx context.Context, offset, limit int64) ([]ledger.RawRecord, error) {
	query := fmt.Sprintf("SELECT row_id, %s FROM %s ORDER BY row_id LIMIT ? OFFSET ?",
		strings.Join(rowstore.Columns, ", "), s.table)
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("fetch chunk at offset %d: %w", offset, err)
	}
	defer rows.Close() //nolint:errcheck

	out := make([]ledger.RawRecord, 0, limit)
	for rows.Next() {
		var r ledger.RawRecord
		if err := rows.Scan(&r.RowID, &r.TransactionID, &r.TransactionDate, &r.Amount,
			&r.Branch, &r.TransactionType, &r.CustomerName); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Append inserts records in a single transaction so a file is absorbed
// entirely or not at all.
func (s *Store) Append(ctx context.Context, records []ledger.RawRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(rowstore.Columns)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.table, strings.Join(rowstore.Columns, ", "), placeholders))
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, rowstore.Values(r)...); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("insert row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return len(records), nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
