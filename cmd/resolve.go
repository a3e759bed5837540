package cmd

import (
	"context"
	"errors"
	"io"
	"iter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/chainmap/internal/app"
	"github.com/JakeFAU/chainmap/internal/chain"
	"github.com/JakeFAU/chainmap/internal/crawllog"
	"github.com/JakeFAU/chainmap/internal/source"
)

type hitReader func(io.Reader) iter.Seq2[chain.Hit, error]

func newBackwardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backward <crawl.log> <map> <results>",
		Short: "Map terminal hits in a crawl log back to their seeds",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackward(cmd, args, crawllog.LogHits)
		},
	}
}

func newBackwardCDXCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backward-cdx <file.cdx> <map> <results>",
		Short: "Map terminal hits in a CDX file back to their seeds",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackward(cmd, args, crawllog.CDXHits)
		},
	}
}

func newForwardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forward <seeds.tsv> <map> <results>",
		Short: "Follow every seed forward to its terminal capture",
		Long: `Reads "url" or "url<TAB>identifier" lines and writes exactly one row per seed,
following redirects and embeds through the map for at most pipeline.forward_max_hops hops.`,
		Args: cobra.ExactArgs(3),
		RunE: runForward,
	}
}

func newEverythingCmd() *cobra.Command {
	var mapPath string
	cmd := &cobra.Command{
		Use:   "everything <crawl.log> <seeds.tsv> <results>",
		Short: "Run referrer, backward and forward in one go",
		Long: `Builds the referrer map, then runs the backward pass over the same log and the
forward pass over the seeds. Without --map the map only lives for this process. The
log is read twice, so it cannot be stdin.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEverything(cmd, args, mapPath)
		},
	}
	cmd.Flags().StringVar(&mapPath, "map", "", "persist the referrer map at this location")
	return cmd
}

// attach opens the saved map and the result store for a resolution pass.
func attach(ctx context.Context, a *app.App, mapPath, resultsPath string) (*chain.Run, chain.ResultStore, error) {
	r, err := a.NewRun()
	if err != nil {
		return nil, nil, err
	}
	graph, err := a.OpenGraph(ctx, mapPath)
	if err != nil {
		return nil, nil, err
	}
	if err := r.Attach(graph); err != nil {
		return nil, nil, err
	}
	store, err := a.OpenResults(ctx, resultsPath)
	if err != nil {
		return nil, nil, err
	}
	a.SetPhase(r.Phase().String())
	return r, store, nil
}

func runBackward(cmd *cobra.Command, args []string, hits hitReader) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	r, store, err := attach(ctx, a, args[1], args[2])
	if err != nil {
		return err
	}
	if err := backwardPass(cmd, a, r, store, args[0], hits); err != nil {
		return err
	}
	return finish(a, r)
}

func runForward(cmd *cobra.Command, args []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	r, store, err := attach(ctx, a, args[1], args[2])
	if err != nil {
		return err
	}
	if err := forwardPass(cmd, a, r, store, args[0]); err != nil {
		return err
	}
	return finish(a, r)
}

func runEverything(cmd *cobra.Command, args []string, mapPath string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	logPath, seedsPath, resultsPath := args[0], args[1], args[2]
	if logPath == source.Stdin {
		return errors.New("everything reads the crawl log twice; pass a file, not stdin")
	}

	r, err := a.NewRun()
	if err != nil {
		return err
	}
	builder, err := a.NewGraphBuilder(ctx, mapPath)
	if err != nil {
		return err
	}
	store, err := a.OpenResults(ctx, resultsPath)
	if err != nil {
		return err
	}

	a.SetPhase(chain.PhaseBuilding.String())
	err = withInput(ctx, a, logPath, func(in io.Reader) error {
		return timed(cmd, a, "referrer", func() (chain.Counters, error) {
			return r.Build(ctx, builder, crawllog.Edges(in))
		})
	})
	if err != nil {
		return err
	}
	if err := backwardPass(cmd, a, r, store, logPath, crawllog.LogHits); err != nil {
		return err
	}
	if err := forwardPass(cmd, a, r, store, seedsPath); err != nil {
		return err
	}
	return finish(a, r)
}

func backwardPass(cmd *cobra.Command, a *app.App, r *chain.Run, store chain.ResultStore, input string, hits hitReader) error {
	ctx := cmd.Context()
	a.SetPhase(chain.PhaseResolving.String())
	return withInput(ctx, a, input, func(in io.Reader) error {
		return timed(cmd, a, "backward", func() (chain.Counters, error) {
			return r.Backward(ctx, hits(in), store)
		})
	})
}

func forwardPass(cmd *cobra.Command, a *app.App, r *chain.Run, store chain.ResultStore, input string) error {
	ctx := cmd.Context()
	a.SetPhase(chain.PhaseResolving.String())
	return withInput(ctx, a, input, func(in io.Reader) error {
		return timed(cmd, a, "forward", func() (chain.Counters, error) {
			return r.Forward(ctx, crawllog.Seeds(in), store)
		})
	})
}

func finish(a *app.App, r *chain.Run) error {
	if err := r.Finish(); err != nil {
		return err
	}
	a.SetPhase(r.Phase().String())
	return nil
}
