package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/chainmap/internal/chain"
	"github.com/JakeFAU/chainmap/internal/crawllog"
)

func newReferrerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "referrer <crawl.log> <map>",
		Short: "Build the referrer map from a crawl log",
		Long: `Reads every line of a crawl log and stores URL -> referrer edges in a new map.
The map is reused by later backward and forward runs.`,
		Args: cobra.ExactArgs(2),
		RunE: runReferrer,
	}
}

func runReferrer(cmd *cobra.Command, args []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	logPath, mapPath := args[0], args[1]

	r, err := a.NewRun()
	if err != nil {
		return err
	}
	builder, err := a.NewGraphBuilder(ctx, mapPath)
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
	a.SetPhase(r.Phase().String())
	return nil
}
