// Package sqlitedb opens SQLite files tuned for single-writer bulk loads.
package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Memory is the DSN for a private in-memory database.
const Memory = ":memory:"

// Bulk-load settings: durability is traded for speed, a crashed run is simply re-run.
var pragmas = []string{
	"PRAGMA page_size = 4096",
	"PRAGMA cache_size = 20000",
	"PRAGMA synchronous = OFF",
	"PRAGMA journal_mode = MEMORY",
}

// Open opens path and applies the bulk-load pragmas. The pool is pinned to one
// connection so an in-memory database survives across calls and writes serialize.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	return db, nil
}

// TableExists reports whether a table named name exists.
func TableExists(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %q: %w", name, err)
	}
	return n > 0, nil
}
