package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository persists directory entries.
type Repository interface {
	List(ctx context.Context) ([]Entry, error)
	Get(ctx context.Context, moniker string) (*Entry, error)
	Upsert(ctx context.Context, e Entry) error
	Delete(ctx context.Context, moniker string) error
	ReplaceForHost(ctx context.Context, host, source string, entries []Entry) error
}

// SQLiteRepository implements Repository on the driver_hosts table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a SQLite-backed directory repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const upsertQuery = `INSERT INTO driver_hosts (moniker, host, source, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(moniker) DO UPDATE SET
		host = excluded.host,
		source = excluded.source,
		updated_at = excluded.updated_at`

// List returns every entry ordered by moniker.
func (r *SQLiteRepository) List(ctx context.Context) ([]Entry, error) {
	const query = `SELECT moniker, host, source, updated_at FROM driver_hosts ORDER BY moniker`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying driver hosts: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var updatedAt string
		if err := rows.Scan(&e.Moniker, &e.Host, &e.Source, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning driver host row: %w", err)
		}
		e.UpdatedAt = parseTime(updatedAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating driver host rows: %w", err)
	}
	return entries, nil
}

// Get returns one entry. Monikers match case-insensitively.
func (r *SQLiteRepository) Get(ctx context.Context, moniker string) (*Entry, error) {
	const query = `SELECT moniker, host, source, updated_at FROM driver_hosts WHERE moniker = ?`
	var e Entry
	var updatedAt string
	err := r.db.QueryRowContext(ctx, query, moniker).Scan(&e.Moniker, &e.Host, &e.Source, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting driver host %s: %w", moniker, err)
	}
	e.UpdatedAt = parseTime(updatedAt)
	return &e, nil
}

// Upsert inserts or replaces the entry for e.Moniker.
func (r *SQLiteRepository) Upsert(ctx context.Context, e Entry) error {
	if _, err := r.db.ExecContext(ctx, upsertQuery, e.Moniker, e.Host, e.Source, formatTime(e.UpdatedAt)); err != nil {
		return fmt.Errorf("upserting driver host %s: %w", e.Moniker, err)
	}
	return nil
}

// Delete removes the entry for moniker.
func (r *SQLiteRepository) Delete(ctx context.Context, moniker string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM driver_hosts WHERE moniker = ?`, moniker)
	if err != nil {
		return fmt.Errorf("deleting driver host %s: %w", moniker, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting driver host %s: %w", moniker, err)
	}
	if n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// ReplaceForHost makes entries the complete set that source records for
// host, in one transaction. Rows from other sources are left alone.
func (r *SQLiteRepository) ReplaceForHost(ctx context.Context, host, source string, entries []Entry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM driver_hosts WHERE host = ? AND source = ?`, host, source); err != nil {
		return fmt.Errorf("clearing %s entries for %s: %w", source, host, err)
	}
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, upsertQuery, e.Moniker, e.Host, e.Source, formatTime(e.UpdatedAt)); err != nil {
			return fmt.Errorf("upserting driver host %s: %w", e.Moniker, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s entries for %s: %w", source, host, err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339)
}

// parseTime reads timestamps written by formatTime. Unparseable values
// yield the zero time.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
