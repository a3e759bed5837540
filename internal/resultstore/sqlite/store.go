// Package sqlite stores crawl results in a SQLite table.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"regexp"

	"github.com/JakeFAU/chainmap/internal/chain"
)

// DefaultTable is the result table name.
const DefaultTable = "crawl_result"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Store writes rows inside a long-lived transaction committed on Checkpoint. Every
// read goes through the same transaction so uncommitted rows are visible.
type Store struct {
	db    *sql.DB
	tx    *sql.Tx
	table string
}

// New creates the table if needed and opens the first write transaction. The store
// closes db on Close.
func New(ctx context.Context, db *sql.DB, table string) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlite results: db is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	initial_url       TEXT NOT NULL,
	identifier        TEXT,
	initial_domain    TEXT,
	breadcrumbs       TEXT,
	final_url         TEXT,
	final_domain      TEXT,
	final_timestamp   TEXT,
	final_status_code INTEGER,
	final_sha1        TEXT,
	final_mimetype    TEXT,
	final_was_dedupe  INTEGER,
	hit               INTEGER NOT NULL,
	postproc_status   TEXT
);
CREATE INDEX IF NOT EXISTS %[1]s_initial_url ON %[1]s (initial_url);
CREATE INDEX IF NOT EXISTS %[1]s_identifier ON %[1]s (identifier);
CREATE INDEX IF NOT EXISTS %[1]s_final_sha1 ON %[1]s (final_sha1)`, table)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create %s: %w", table, err)
	}
	s := &Store{db: db, table: table}
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) begin(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin results transaction: %w", err)
	}
	s.tx = tx
	return nil
}

const columns = `initial_url, identifier, initial_domain, breadcrumbs, final_url, final_domain,
	final_timestamp, final_status_code, final_sha1, final_mimetype, final_was_dedupe, hit, postproc_status`

// FindByInitialURL returns the first row for initialURL.
func (s *Store) FindByInitialURL(ctx context.Context, initialURL string) (chain.CrawlResult, bool, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE initial_url = ? ORDER BY rowid LIMIT 1`, columns, s.table)
	row, err := scanResult(s.tx.QueryRowContext(ctx, query, initialURL))
	if errors.Is(err, sql.ErrNoRows) {
		return chain.CrawlResult{}, false, nil
	}
	if err != nil {
		return chain.CrawlResult{}, false, fmt.Errorf("select result: %w", err)
	}
	return row, true, nil
}

// HasPair reports whether initialURL already maps to finalURL.
func (s *Store) HasPair(ctx context.Context, initialURL, finalURL string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE initial_url = ? AND final_url = ?)`, s.table)
	var exists bool
	if err := s.tx.QueryRowContext(ctx, query, initialURL, finalURL).Scan(&exists); err != nil {
		return false, fmt.Errorf("check result pair: %w", err)
	}
	return exists, nil
}

// Insert writes a row.
func (s *Store) Insert(ctx context.Context, r chain.CrawlResult) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`, s.table, columns)
	_, err := s.tx.ExecContext(ctx, query,
		r.InitialURL, r.Identifier, r.InitialDomain, r.Breadcrumbs, r.FinalURL, r.FinalDomain,
		r.FinalTimestamp, r.FinalStatusCode, r.FinalSHA1, r.FinalMimetype, r.FinalWasDedupe,
		r.Hit, r.PostprocStatus,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// SetIdentifier sets the identifier on rows for initialURL that have none.
func (s *Store) SetIdentifier(ctx context.Context, initialURL, identifier string) error {
	query := fmt.Sprintf(`UPDATE %s SET identifier = ? WHERE initial_url = ? AND identifier IS NULL`, s.table)
	if _, err := s.tx.ExecContext(ctx, query, identifier, initialURL); err != nil {
		return fmt.Errorf("update identifier: %w", err)
	}
	return nil
}

// SetPostprocStatus updates every row with the given final sha1.
func (s *Store) SetPostprocStatus(ctx context.Context, sha1, status string) (int64, error) {
	query := fmt.Sprintf(`UPDATE %s SET postproc_status = ? WHERE final_sha1 = ?`, s.table)
	res, err := s.tx.ExecContext(ctx, query, status, sha1)
	if err != nil {
		return 0, fmt.Errorf("update postproc status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Iterate streams rows ordered by identifier (NULL first), then insertion order.
func (s *Store) Iterate(ctx context.Context, opts chain.IterateOptions) iter.Seq2[chain.CrawlResult, error] {
	where := ""
	if opts.OnlyIdentifierHits {
		where = "WHERE hit = 1 AND identifier IS NOT NULL"
	}
	query := fmt.Sprintf(`SELECT %s FROM %s %s ORDER BY identifier, rowid`, columns, s.table, where)
	return func(yield func(chain.CrawlResult, error) bool) {
		rows, err := s.tx.QueryContext(ctx, query)
		if err != nil {
			yield(chain.CrawlResult{}, fmt.Errorf("select results: %w", err))
			return
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			r, err := scanResult(rows)
			if err != nil {
				yield(chain.CrawlResult{}, fmt.Errorf("scan result: %w", err))
				return
			}
			if !yield(r, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(chain.CrawlResult{}, err)
		}
	}
}

// Checkpoint commits pending writes and starts a new transaction.
func (s *Store) Checkpoint(ctx context.Context) error {
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("commit results: %w", err)
	}
	return s.begin(ctx)
}

// Close commits pending writes and closes the database.
func (s *Store) Close() error {
	var errs []error
	if s.tx != nil {
		if err := s.tx.Commit(); err != nil {
			errs = append(errs, fmt.Errorf("commit results: %w", err))
		}
		s.tx = nil
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close results db: %w", err))
	}
	return errors.Join(errs...)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(sc scanner) (chain.CrawlResult, error) {
	var (
		r                                     chain.CrawlResult
		identifier, domain, crumbs, finalURL  sql.NullString
		finalDomain, ts, sha1, mime, postproc sql.NullString
		status                                sql.NullInt64
		dedupe                                sql.NullBool
	)
	err := sc.Scan(&r.InitialURL, &identifier, &domain, &crumbs, &finalURL, &finalDomain,
		&ts, &status, &sha1, &mime, &dedupe, &r.Hit, &postproc)
	if err != nil {
		return chain.CrawlResult{}, err
	}
	r.Identifier = nullString(identifier)
	r.InitialDomain = domain.String
	r.Breadcrumbs = nullString(crumbs)
	r.FinalURL = nullString(finalURL)
	r.FinalDomain = nullString(finalDomain)
	r.FinalTimestamp = nullString(ts)
	if status.Valid {
		r.FinalStatusCode = chain.Ptr(int(status.Int64))
	}
	r.FinalSHA1 = nullString(sha1)
	r.FinalMimetype = nullString(mime)
	if dedupe.Valid {
		r.FinalWasDedupe = chain.Ptr(dedupe.Bool)
	}
	r.PostprocStatus = nullString(postproc)
	return r, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return chain.Ptr(ns.String)
}
