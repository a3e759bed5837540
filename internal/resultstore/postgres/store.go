// Package postgres stores crawl results in Postgres through a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/chainmap/internal/chain"
)

// DefaultTable is the result table name.
const DefaultTable = "crawl_result"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for result rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store writes result rows to Postgres. Writes autocommit, so Checkpoint is a no-op.
type Store struct {
	pool  pool
	table string
}

// New connects a pool and ensures the result table exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("results dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
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
	if err := s.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: p, table: table}, nil
}

// EnsureSchema creates the result table and its lookup indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id                BIGSERIAL PRIMARY KEY,
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
	final_was_dedupe  BOOLEAN,
	hit               BOOLEAN NOT NULL,
	postproc_status   TEXT
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_initial_url ON %[1]s (initial_url)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_identifier ON %[1]s (identifier)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_final_sha1 ON %[1]s (final_sha1)`, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure %s schema: %w", s.table, err)
		}
	}
	return nil
}

const columns = `initial_url, identifier, initial_domain, breadcrumbs, final_url, final_domain,
	final_timestamp, final_status_code, final_sha1, final_mimetype, final_was_dedupe, hit, postproc_status`

// FindByInitialURL returns the first row for initialURL.
func (s *Store) FindByInitialURL(ctx context.Context, initialURL string) (chain.CrawlResult, bool, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE initial_url = $1 ORDER BY id LIMIT 1`, columns, s.table)
	r, err := scanResult(s.pool.QueryRow(ctx, query, initialURL))
	if errors.Is(err, pgx.ErrNoRows) {
		return chain.CrawlResult{}, false, nil
	}
	if err != nil {
		return chain.CrawlResult{}, false, fmt.Errorf("select result: %w", err)
	}
	return r, true, nil
}

// HasPair reports whether initialURL already maps to finalURL.
func (s *Store) HasPair(ctx context.Context, initialURL, finalURL string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE initial_url = $1 AND final_url = $2)`, s.table)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, initialURL, finalURL).Scan(&exists); err != nil {
		return false, fmt.Errorf("check result pair: %w", err)
	}
	return exists, nil
}

// Insert writes a row.
func (s *Store) Insert(ctx context.Context, r chain.CrawlResult) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`, s.table, columns)
	_, err := s.pool.Exec(ctx, query,
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
	query := fmt.Sprintf(`UPDATE %s SET identifier = $1 WHERE initial_url = $2 AND identifier IS NULL`, s.table)
	if _, err := s.pool.Exec(ctx, query, identifier, initialURL); err != nil {
		return fmt.Errorf("update identifier: %w", err)
	}
	return nil
}

// SetPostprocStatus updates every row with the given final sha1.
func (s *Store) SetPostprocStatus(ctx context.Context, sha1, status string) (int64, error) {
	query := fmt.Sprintf(`UPDATE %s SET postproc_status = $1 WHERE final_sha1 = $2`, s.table)
	tag, err := s.pool.Exec(ctx, query, status, sha1)
	if err != nil {
		return 0, fmt.Errorf("update postproc status: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Iterate streams rows ordered by identifier (NULL first), then insertion order.
func (s *Store) Iterate(ctx context.Context, opts chain.IterateOptions) iter.Seq2[chain.CrawlResult, error] {
	where := ""
	if opts.OnlyIdentifierHits {
		where = "WHERE hit AND identifier IS NOT NULL"
	}
	query := fmt.Sprintf(`SELECT %s FROM %s %s ORDER BY identifier NULLS FIRST, id`, columns, s.table, where)
	return func(yield func(chain.CrawlResult, error) bool) {
		rows, err := s.pool.Query(ctx, query)
		if err != nil {
			yield(chain.CrawlResult{}, fmt.Errorf("select results: %w", err))
			return
		}
		defer rows.Close()
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

// Checkpoint is a no-op; each statement commits on its own.
func (s *Store) Checkpoint(context.Context) error {
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func scanResult(row pgx.Row) (chain.CrawlResult, error) {
	var (
		r      chain.CrawlResult
		domain *string
	)
	err := row.Scan(&r.InitialURL, &r.Identifier, &domain, &r.Breadcrumbs, &r.FinalURL, &r.FinalDomain,
		&r.FinalTimestamp, &r.FinalStatusCode, &r.FinalSHA1, &r.FinalMimetype, &r.FinalWasDedupe,
		&r.Hit, &r.PostprocStatus)
	if err != nil {
		return chain.CrawlResult{}, err
	}
	if domain != nil {
		r.InitialDomain = *domain
	}
	return r, nil
}
