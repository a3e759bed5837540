package chain

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Materializer upserts resolved rows into a ResultStore, keyed by initial URL, and
// tallies the outcome of every write.
type Materializer struct {
	store           ResultStore
	scope           Scope
	counters        Counters
	observer        Observer
	pass            string
	checkpointEvery int
	pending         int
	logger          *zap.Logger
}

// NewMaterializer wires a materializer for one pass. Counters are shared with the
// caller, which owns the returned totals.
func NewMaterializer(
	store ResultStore,
	scope Scope,
	counters Counters,
	observer Observer,
	pass string,
	checkpointEvery int,
	logger *zap.Logger,
) *Materializer {
	if observer == nil {
		observer = NopObserver()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Materializer{
		store:           store,
		scope:           scope,
		counters:        counters,
		observer:        observer,
		pass:            pass,
		checkpointEvery: checkpointEvery,
		logger:          logger,
	}
}

// Existing handles a seed that already has a row. It sets the identifier when the row
// has none and reports whether a row was found.
func (m *Materializer) Existing(ctx context.Context, initialURL, identifier string) (bool, error) {
	row, ok, err := m.store.FindByInitialURL(ctx, initialURL)
	if err != nil {
		return false, fmt.Errorf("find result %q: %w", initialURL, err)
	}
	if !ok {
		return false, nil
	}
	if row.IdentifierValue() == "" && identifier != "" {
		if err := m.store.SetIdentifier(ctx, initialURL, identifier); err != nil {
			return true, fmt.Errorf("set identifier %q: %w", initialURL, err)
		}
		m.count(CounterExistingIDUpdated)
		return true, m.wrote(ctx)
	}
	m.count(CounterExistingComplete)
	return true, nil
}

// Insert writes a row unconditionally.
func (m *Materializer) Insert(ctx context.Context, row CrawlResult) error {
	if err := m.store.Insert(ctx, row); err != nil {
		return fmt.Errorf("insert result %q: %w", row.InitialURL, err)
	}
	m.count(CounterInserted)
	return m.wrote(ctx)
}

// InsertHit writes a backward row once per (initial, final) pair.
func (m *Materializer) InsertHit(ctx context.Context, row CrawlResult) error {
	if row.FinalStatusCode == nil || !m.scope.HitStatus(*row.FinalStatusCode) {
		return fmt.Errorf("%w: %q", ErrHitOutOfScope, row.FinalURLValue())
	}
	dup, err := m.store.HasPair(ctx, row.InitialURL, row.FinalURLValue())
	if err != nil {
		return fmt.Errorf("check result pair %q: %w", row.InitialURL, err)
	}
	if dup {
		m.count(CounterDuplicateHit)
		return nil
	}
	return m.Insert(ctx, row)
}

// Flush checkpoints any writes since the last checkpoint.
func (m *Materializer) Flush(ctx context.Context) error {
	if m.pending == 0 {
		return nil
	}
	if err := m.store.Checkpoint(ctx); err != nil {
		return fmt.Errorf("checkpoint results: %w", err)
	}
	m.pending = 0
	return nil
}

func (m *Materializer) wrote(ctx context.Context) error {
	m.pending++
	if m.checkpointEvery > 0 && m.pending >= m.checkpointEvery {
		m.logger.Debug("checkpointing results", zap.String("pass", m.pass), zap.Int("pending", m.pending))
		return m.Flush(ctx)
	}
	return nil
}

func (m *Materializer) count(outcome string) {
	m.counters.Inc(outcome)
	m.observer.ObserveOutcome(m.pass, outcome)
}
