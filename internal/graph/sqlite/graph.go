// Package sqlite stores the referrer graph in a SQLite table so a map built once can be
// reused by later backward and forward runs.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/chainmap/internal/chain"
)

const (
	createTable = `CREATE TABLE IF NOT EXISTS referrer (
	url         TEXT NOT NULL,
	referrer    TEXT,
	status_code INTEGER,
	breadcrumbs TEXT,
	mimetype    TEXT,
	is_dedupe   INTEGER
)`
	dropIndexes = `DROP INDEX IF EXISTS referrer_url;
DROP INDEX IF EXISTS referrer_referrer`
	createIndexes = `CREATE INDEX IF NOT EXISTS referrer_url ON referrer (url);
CREATE INDEX IF NOT EXISTS referrer_referrer ON referrer (referrer)`
	countIndexes = `SELECT count(*) FROM sqlite_master
WHERE type = 'index' AND name IN ('referrer_url', 'referrer_referrer')`

	insertEdge = `INSERT INTO referrer (url, referrer, status_code, breadcrumbs, mimetype, is_dedupe)
VALUES (?, ?, ?, ?, ?, ?)`
	selectColumns  = `SELECT url, referrer, status_code, breadcrumbs, mimetype, is_dedupe FROM referrer`
	selectByURL    = selectColumns + ` WHERE url = ? ORDER BY rowid LIMIT 1`
	selectChildren = selectColumns + ` WHERE referrer = ? ORDER BY rowid`
)

// DefaultBatchSize is how many edges are appended per transaction.
const DefaultBatchSize = 5000

// Graph is a SQLite-backed Builder and Graph. Indexes are dropped while building and
// recreated by Seal.
type Graph struct {
	db        *sql.DB
	tx        *sql.Tx
	insert    *sql.Stmt
	batchSize int
	pending   int
	sealed    bool
	logger    *zap.Logger
}

// NewBuilder prepares db for appending edges. Existing rows are kept.
func NewBuilder(ctx context.Context, db *sql.DB, batchSize int, logger *zap.Logger) (*Graph, error) {
	if db == nil {
		return nil, errors.New("sqlite graph: db is required")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := db.ExecContext(ctx, createTable); err != nil {
		return nil, fmt.Errorf("create referrer table: %w", err)
	}
	if _, err := db.ExecContext(ctx, dropIndexes); err != nil {
		return nil, fmt.Errorf("drop referrer indexes: %w", err)
	}
	g := &Graph{db: db, batchSize: batchSize, logger: logger.Named("graph.sqlite")}
	if err := g.begin(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// Open returns a sealed graph over a map built by an earlier run. It fails with
// chain.ErrNotBuilt when the table or its indexes are missing.
func Open(ctx context.Context, db *sql.DB) (*Graph, error) {
	if db == nil {
		return nil, errors.New("sqlite graph: db is required")
	}
	var n int
	if err := db.QueryRowContext(ctx, countIndexes).Scan(&n); err != nil {
		return nil, fmt.Errorf("check referrer indexes: %w", err)
	}
	if n != 2 {
		return nil, fmt.Errorf("referrer map: %w", chain.ErrNotBuilt)
	}
	return &Graph{db: db, sealed: true, logger: zap.NewNop()}, nil
}

func (g *Graph) begin(ctx context.Context) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin referrer batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertEdge)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare referrer insert: %w", err)
	}
	g.tx, g.insert, g.pending = tx, stmt, 0
	return nil
}

func (g *Graph) commit() error {
	if g.tx == nil {
		return nil
	}
	_ = g.insert.Close()
	err := g.tx.Commit()
	g.tx, g.insert = nil, nil
	if err != nil {
		return fmt.Errorf("commit referrer batch: %w", err)
	}
	return nil
}

// Append inserts an edge, committing every batchSize rows.
func (g *Graph) Append(ctx context.Context, edge chain.ReferrerEdge) error {
	if g.sealed {
		return chain.ErrSealed
	}
	var referrer sql.NullString
	if edge.HasReferrer() {
		referrer = sql.NullString{String: edge.ReferrerURL, Valid: true}
	}
	if _, err := g.insert.ExecContext(ctx,
		edge.URL, referrer, edge.StatusCode, edge.Breadcrumbs, edge.Mimetype, edge.IsDedupe,
	); err != nil {
		return fmt.Errorf("insert edge: %w", err)
	}
	g.pending++
	if g.pending >= g.batchSize {
		if err := g.commit(); err != nil {
			return err
		}
		return g.begin(ctx)
	}
	return nil
}

// Seal commits pending edges and builds the lookup indexes.
func (g *Graph) Seal(ctx context.Context) (chain.Graph, error) {
	if g.sealed {
		return g, nil
	}
	if err := g.commit(); err != nil {
		return nil, err
	}
	g.logger.Info("building referrer indexes")
	if _, err := g.db.ExecContext(ctx, createIndexes); err != nil {
		return nil, fmt.Errorf("create referrer indexes: %w", err)
	}
	g.sealed = true
	return g, nil
}

// LookupEdge returns the first edge inserted for url.
func (g *Graph) LookupEdge(ctx context.Context, url string) (chain.ReferrerEdge, bool, error) {
	if !g.sealed {
		return chain.ReferrerEdge{}, false, chain.ErrNotBuilt
	}
	edge, err := scanEdge(g.db.QueryRowContext(ctx, selectByURL, url))
	if errors.Is(err, sql.ErrNoRows) {
		return chain.ReferrerEdge{}, false, nil
	}
	if err != nil {
		return chain.ReferrerEdge{}, false, fmt.Errorf("lookup edge: %w", err)
	}
	return edge, true, nil
}

// LookupChildren returns edges referred by referrer in insertion order.
func (g *Graph) LookupChildren(ctx context.Context, referrer string) ([]chain.ReferrerEdge, error) {
	if !g.sealed {
		return nil, chain.ErrNotBuilt
	}
	if referrer == "" {
		return nil, nil
	}
	rows, err := g.db.QueryContext(ctx, selectChildren, referrer)
	if err != nil {
		return nil, fmt.Errorf("lookup children: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []chain.ReferrerEdge
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		out = append(out, edge)
	}
	return out, rows.Err()
}

// Close rolls back an unfinished build. The db itself is owned by the caller.
func (g *Graph) Close() error {
	if g.tx == nil {
		return nil
	}
	_ = g.insert.Close()
	err := g.tx.Rollback()
	g.tx, g.insert = nil, nil
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEdge(s scanner) (chain.ReferrerEdge, error) {
	var (
		edge     chain.ReferrerEdge
		referrer sql.NullString
		status   sql.NullInt64
		crumbs   sql.NullString
		mime     sql.NullString
		dedupe   sql.NullBool
	)
	if err := s.Scan(&edge.URL, &referrer, &status, &crumbs, &mime, &dedupe); err != nil {
		return chain.ReferrerEdge{}, err
	}
	if referrer.Valid && referrer.String != "-" {
		edge.ReferrerURL = referrer.String
	}
	edge.StatusCode = int(status.Int64)
	edge.Breadcrumbs = crumbs.String
	edge.Mimetype = mime.String
	edge.IsDedupe = dedupe.Bool
	return edge, nil
}
