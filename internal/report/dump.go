package report

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/chainmap/internal/chain"
	"github.com/JakeFAU/chainmap/internal/export"
)

// Dump counters.
const (
	CounterRowsWritten      = "rows-written"
	CounterRowsPublished    = "rows-published"
	CounterMaxPerIdentifier = "skip-max-per-identifier"
)

// DumpOptions selects and routes the rows written by Dump.
type DumpOptions struct {
	// OnlyIdentifierHits restricts output to hit rows with an identifier.
	OnlyIdentifierHits bool
	// MaxPerIdentifier caps the rows emitted per identifier; zero means no cap. Rows
	// without an identifier are never capped.
	MaxPerIdentifier int
	// Publisher, when set, receives every emitted row as well.
	Publisher export.Publisher
	Logger    *zap.Logger
}

// Dump streams the store as JSON lines onto w, ordered by identifier.
func Dump(ctx context.Context, store chain.ResultStore, w io.Writer, opts DumpOptions) (chain.Counters, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("dump")
	counters := chain.Counters{CounterRowsWritten: 0}
	out := export.NewJSONLines(w)

	var (
		lastIdent string
		perIdent  int
	)
	for row, err := range store.Iterate(ctx, chain.IterateOptions{OnlyIdentifierHits: opts.OnlyIdentifierHits}) {
		if err != nil {
			return counters, fmt.Errorf("iterate results: %w", err)
		}
		ident := row.IdentifierValue()
		if ident != "" && ident == lastIdent {
			perIdent++
		} else {
			perIdent = 1
		}
		lastIdent = ident
		if ident != "" && opts.MaxPerIdentifier > 0 && perIdent > opts.MaxPerIdentifier {
			counters.Inc(CounterMaxPerIdentifier)
			logger.Debug("identifier maxed out", zap.String("identifier", ident))
			continue
		}

		if err := out.Write(row); err != nil {
			return counters, err
		}
		counters.Inc(CounterRowsWritten)
		if opts.Publisher != nil {
			if _, err := opts.Publisher.Publish(ctx, row); err != nil {
				return counters, err
			}
			counters.Inc(CounterRowsPublished)
		}
	}
	logger.Info("dump complete", zap.Stringer("counters", counters))
	return counters, nil
}
