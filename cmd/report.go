package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/chainmap/internal/chain"
	"github.com/JakeFAU/chainmap/internal/crawllog"
	"github.com/JakeFAU/chainmap/internal/report"
)

func newPostprocessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "postprocess <sha1_status.tsv> <results>",
		Short: "Stamp post-processing status onto result rows by final sha1",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := a.OpenExistingResults(ctx, args[1])
			if err != nil {
				return err
			}
			cfg := a.Config()
			return withInput(ctx, a, args[0], func(in io.Reader) error {
				return timed(cmd, a, "postprocess", func() (chain.Counters, error) {
					return report.Postprocess(ctx, crawllog.StatusLines(in), store, report.PostprocessOptions{
						CheckpointEvery: cfg.Pipeline.CheckpointEvery,
						ProgressEvery:   cfg.Pipeline.ProgressEvery,
						Logger:          a.Logger(),
					})
				})
			})
		},
	}
}

func newDumpJSONCmd() *cobra.Command {
	var (
		onlyIdentifierHits bool
		maxPerIdentifier   int
	)
	cmd := &cobra.Command{
		Use:   "dump-json <results>",
		Short: "Write result rows to stdout as JSON lines, ordered by identifier",
		Long: `Writes every result row as one JSON object per line. When export.pubsub is
configured each written row is also published to that topic.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := a.OpenExistingResults(ctx, args[0])
			if err != nil {
				return err
			}
			pub, err := a.NewPublisher(ctx)
			if err != nil {
				return err
			}
			opts := report.DumpOptions{
				OnlyIdentifierHits: onlyIdentifierHits,
				MaxPerIdentifier:   maxPerIdentifier,
				Logger:             a.Logger(),
			}
			if pub != nil {
				opts.Publisher = pub
			}
			return timed(cmd, a, "dump-json", func() (chain.Counters, error) {
				return report.Dump(ctx, store, cmd.OutOrStdout(), opts)
			})
		},
	}
	cmd.Flags().BoolVar(&onlyIdentifierHits, "only-identifier-hits", false, "only dump rows where hit=true and identifier is set")
	cmd.Flags().IntVar(&maxPerIdentifier, "max-per-identifier", 0, "dump at most this many rows per identifier (0 = no limit)")
	return cmd
}
