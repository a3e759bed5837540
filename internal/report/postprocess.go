// Package report runs the passes that work on an existing result store rather than the
// referrer graph: post-processing status updates and JSON export.
package report

import (
	"context"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"github.com/JakeFAU/chainmap/internal/chain"
	"github.com/JakeFAU/chainmap/internal/crawllog"
)

// Post-processing counters.
const (
	CounterLinesParsed = "lines-parsed"
	CounterRowsUpdated = "rows-updated"
	CounterSHA1Missing = "sha1-not-found"
)

// PostprocessOptions tunes Postprocess.
type PostprocessOptions struct {
	CheckpointEvery int
	ProgressEvery   int
	Logger          *zap.Logger
}

// Postprocess stamps postproc_status on every row whose final sha1 appears in lines.
func Postprocess(ctx context.Context, lines iter.Seq2[crawllog.StatusLine, error], store chain.ResultStore, opts PostprocessOptions) (chain.Counters, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("postprocess")
	counters := chain.Counters{CounterLinesParsed: 0}

	n := 0
	for line, err := range lines {
		if err != nil {
			if skip, ok := chain.AsSkip(err); ok {
				counters.Inc(skip.Reason)
				logger.Debug("skipping record", zap.String("reason", skip.Reason), zap.String("detail", skip.Detail))
				continue
			}
			return counters, fmt.Errorf("read status lines: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return counters, err
		}
		updated, err := store.SetPostprocStatus(ctx, line.SHA1, line.Status)
		if err != nil {
			return counters, fmt.Errorf("update sha1 %s: %w", line.SHA1, err)
		}
		counters.Inc(CounterLinesParsed)
		if updated == 0 {
			counters.Inc(CounterSHA1Missing)
		} else {
			counters[CounterRowsUpdated] += int(updated)
		}

		n++
		if opts.CheckpointEvery > 0 && n%opts.CheckpointEvery == 0 {
			if err := store.Checkpoint(ctx); err != nil {
				return counters, fmt.Errorf("checkpoint: %w", err)
			}
		}
		if opts.ProgressEvery > 0 && n%opts.ProgressEvery == 0 {
			logger.Info("postprocess progress", zap.Int("lines", n))
		}
	}
	if err := store.Checkpoint(ctx); err != nil {
		return counters, fmt.Errorf("checkpoint: %w", err)
	}
	logger.Info("postprocess complete", zap.Stringer("counters", counters))
	return counters, nil
}
