// Package app holds the long-lived services of a single chainmap command and acts as
// its dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/chainmap/internal/chain"
	"github.com/JakeFAU/chainmap/internal/config"
	"github.com/JakeFAU/chainmap/internal/export"
	pubsubexport "github.com/JakeFAU/chainmap/internal/export/pubsub"
	badgergraph "github.com/JakeFAU/chainmap/internal/graph/badger"
	memorygraph "github.com/JakeFAU/chainmap/internal/graph/memory"
	sqlitegraph "github.com/JakeFAU/chainmap/internal/graph/sqlite"
	"github.com/JakeFAU/chainmap/internal/id/uuid"
	"github.com/JakeFAU/chainmap/internal/logging"
	"github.com/JakeFAU/chainmap/internal/metrics"
	pgresults "github.com/JakeFAU/chainmap/internal/resultstore/postgres"
	sqliteresults "github.com/JakeFAU/chainmap/internal/resultstore/sqlite"
	"github.com/JakeFAU/chainmap/internal/server"
	"github.com/JakeFAU/chainmap/internal/source"
	"github.com/JakeFAU/chainmap/internal/sqlitedb"
)

var (
	// ErrMapExists is returned when a build would write into an existing map.
	ErrMapExists = errors.New("map already exists")
	// ErrNoResults is returned when a report command points at a database without a
	// result table.
	ErrNoResults = errors.New("no result table")
)

// App holds the services shared by one command invocation.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
	opener    *source.Opener
	runID     string
	command   string
	startedAt time.Time

	mu     sync.Mutex
	phase  string
	passes map[string]chain.Counters

	closers    []closer
	stopServer context.CancelFunc
	serverDone chan error
}

type closer struct {
	name string
	fn   func() error
}

// Option customizes New.
type Option func(*App)

// WithLogger injects a logger instead of building one from config.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithOpener injects the input opener.
func WithOpener(o *source.Opener) Option {
	return func(a *App) { a.opener = o }
}

// New builds the container for command. When metrics.listen_addr is set the metrics
// server starts immediately and runs until Close.
func New(ctx context.Context, cfg config.Config, command string, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		command: command,
		phase:   chain.PhaseEmpty.String(),
		passes:  make(map[string]chain.Counters),
	}
	for _, opt := range opts {
		opt(a)
	}

	runID, err := uuid.New().NewID()
	if err != nil {
		return nil, err
	}
	a.runID = runID
	startedAt, err := uuid.CreatedAt(runID)
	if err != nil {
		return nil, err
	}
	a.startedAt = startedAt.UTC()

	if a.logger == nil {
		logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		a.logger = logger
	}
	a.logger = logging.ForRun(a.logger, runID, command)
	if a.opener == nil {
		a.opener = source.NewOpener()
	}
	a.metrics = metrics.New()

	if cfg.Metrics.ListenAddr != "" {
		srv := server.New(a.metrics, a.Snapshot, a.logger)
		srvCtx, cancel := context.WithCancel(ctx)
		a.stopServer = cancel
		a.serverDone = make(chan error, 1)
		go func() {
			a.serverDone <- srv.Serve(srvCtx, cfg.Metrics.ListenAddr)
		}()
	}

	a.logger.Info("application initialized",
		zap.String("graph_backend", cfg.Graph.Backend),
		zap.String("hit_preset", cfg.Hit.Preset),
	)
	return a, nil
}

// Logger returns the run-scoped logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Metrics returns the run's collectors.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// RunID returns the UUIDv7 identifying this invocation.
func (a *App) RunID() string { return a.runID }

// Open opens an input location (see source.Opener).
func (a *App) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	return a.opener.Open(ctx, location)
}

// NewRun builds a chain.Run observed by the run metrics.
func (a *App) NewRun() (*chain.Run, error) {
	opts, err := a.cfg.ChainOptions()
	if err != nil {
		return nil, err
	}
	opts.Observer = a.metrics
	opts.Logger = a.logger
	return chain.NewRun(opts), nil
}

// NewGraphBuilder creates a builder writing a new map at location. An empty location
// builds an ephemeral map that lives only for this process.
func (a *App) NewGraphBuilder(ctx context.Context, location string) (chain.Builder, error) {
	backend := a.cfg.Graph.Backend
	if location != "" {
		if backend == config.BackendMemory {
			return nil, fmt.Errorf("graph backend %q cannot persist a map to %s", backend, location)
		}
		if _, err := os.Stat(location); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrMapExists, location)
		}
	}

	switch backend {
	case config.BackendMemory:
		return memorygraph.New(), nil
	case config.BackendSQLite:
		path := location
		if path == "" {
			path = sqlitedb.Memory
		}
		db, err := sqlitedb.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		a.onClose("map db", db.Close)
		g, err := sqlitegraph.NewBuilder(ctx, db, a.cfg.Graph.BatchSize, a.logger)
		if err != nil {
			return nil, err
		}
		a.onClose("map builder", g.Close)
		return g, nil
	case config.BackendBadger:
		g, err := badgergraph.OpenBuilder(badgergraph.Options{
			Dir:      location,
			InMemory: location == "",
			Logger:   a.logger,
		})
		if err != nil {
			return nil, err
		}
		a.onClose("map store", g.Close)
		return g, nil
	default:
		return nil, fmt.Errorf("unknown graph backend %q", backend)
	}
}

// OpenGraph opens a map sealed by an earlier referrer run.
func (a *App) OpenGraph(ctx context.Context, location string) (chain.Graph, error) {
	if _, err := os.Stat(location); err != nil {
		return nil, fmt.Errorf("map %s: %w", location, chain.ErrNotBuilt)
	}
	switch a.cfg.Graph.Backend {
	case config.BackendSQLite:
		db, err := sqlitedb.Open(ctx, location)
		if err != nil {
			return nil, err
		}
		a.onClose("map db", db.Close)
		return sqlitegraph.Open(ctx, db)
	case config.BackendBadger:
		g, err := badgergraph.OpenGraph(badgergraph.Options{Dir: location, Logger: a.logger})
		if err != nil {
			return nil, err
		}
		a.onClose("map store", g.Close)
		return g, nil
	default:
		return nil, fmt.Errorf("graph backend %q cannot open a saved map", a.cfg.Graph.Backend)
	}
}

// IsPostgres reports whether a result location names a Postgres database.
func IsPostgres(location string) bool {
	return strings.HasPrefix(location, "postgres://") || strings.HasPrefix(location, "postgresql://")
}

// OpenResults opens the result store at location: a Postgres URL or a SQLite path.
func (a *App) OpenResults(ctx context.Context, location string) (chain.ResultStore, error) {
	if IsPostgres(location) {
		s, err := pgresults.New(ctx, pgresults.Config{
			DSN:             location,
			Table:           a.cfg.Results.Table,
			MaxConns:        a.cfg.Results.MaxConns,
			MinConns:        a.cfg.Results.MinConns,
			MaxConnLifetime: a.cfg.Results.MaxConnLifetime,
		})
		if err != nil {
			return nil, err
		}
		a.onClose("results", s.Close)
		return s, nil
	}
	db, err := sqlitedb.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	s, err := sqliteresults.New(ctx, db, a.cfg.Results.Table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	a.onClose("results", s.Close)
	return s, nil
}

// OpenExistingResults opens a result store that an earlier pass wrote. Unlike
// OpenResults it never creates a SQLite file or table.
func (a *App) OpenExistingResults(ctx context.Context, location string) (chain.ResultStore, error) {
	if IsPostgres(location) {
		return a.OpenResults(ctx, location)
	}
	if _, err := os.Stat(location); err != nil {
		return nil, fmt.Errorf("results %s: %w", location, ErrNoResults)
	}
	db, err := sqlitedb.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	table := a.cfg.Results.Table
	if table == "" {
		table = sqliteresults.DefaultTable
	}
	ok, err := sqlitedb.TableExists(ctx, db, table)
	if err == nil && !ok {
		err = fmt.Errorf("results %s: %w: %s", location, ErrNoResults, table)
	}
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s, err := sqliteresults.New(ctx, db, table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	a.onClose("results", s.Close)
	return s, nil
}

// NewPublisher dials the configured Pub/Sub topic. It returns nil when publishing is
// not configured.
func (a *App) NewPublisher(ctx context.Context) (export.Publisher, error) {
	ps := a.cfg.Export.PubSub
	if !ps.Enabled() {
		return nil, nil //nolint:nilnil // publishing is optional
	}
	p, err := pubsubexport.Dial(ctx, ps.ProjectID, ps.TopicID, a.runID, a.logger)
	if err != nil {
		return nil, err
	}
	a.onClose("publisher", p.Close)
	return p, nil
}

// SetPhase records the current phase for the status endpoint.
func (a *App) SetPhase(phase string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.phase = phase
}

// Record stores a finished pass's counters and duration, and logs them.
func (a *App) Record(pass string, counters chain.Counters, took time.Duration) {
	a.mu.Lock()
	cp := make(chain.Counters, len(counters))
	cp.Merge(counters)
	a.passes[pass] = cp
	a.mu.Unlock()

	a.metrics.ObservePass(pass, took)
	a.logger.Info("pass finished",
		zap.String("pass", pass),
		zap.Duration("took", took),
		zap.Stringer("counters", counters),
	)
}

// Snapshot reports the run state served on /v1/run.
func (a *App) Snapshot() server.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	passes := make(map[string]chain.Counters, len(a.passes))
	for k, v := range a.passes {
		cp := make(chain.Counters, len(v))
		cp.Merge(v)
		passes[k] = cp
	}
	return server.Snapshot{
		RunID:     a.runID,
		Command:   a.command,
		Phase:     a.phase,
		StartedAt: a.startedAt,
		Passes:    passes,
	}
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Close releases every resource in reverse acquisition order, stops the metrics
// server and writes the metrics textfile when configured.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil

	if a.stopServer != nil {
		a.stopServer()
		if err := <-a.serverDone; err != nil {
			errs = append(errs, err)
		}
		a.stopServer = nil
	}
	if path := a.cfg.Metrics.Textfile; path != "" {
		if err := a.metrics.WriteTextfile(path); err != nil {
			errs = append(errs, err)
		}
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
