// Package cmd defines and implements the chainmap CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/chainmap/internal/app"
	"github.com/JakeFAU/chainmap/internal/chain"
	"github.com/JakeFAU/chainmap/internal/config"
	"github.com/JakeFAU/chainmap/internal/mimetype"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It's a variable so tests can inject options.
var newApp = func(ctx context.Context, cfg config.Config, command string) (*app.App, error) {
	return app.New(ctx, cfg, command)
}

// cliState carries what the root command creates so the caller can release it even
// when a subcommand fails.
type cliState struct {
	cfgFile string
	htmlHit bool
	app     *app.App
}

// newRootCmd creates and configures the root command.
func newRootCmd(state *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chainmap",
		Short: "Map seed URLs to terminal captures through crawl-log redirect chains.",
		Long: `chainmap reads Heritrix-style crawl logs and CDX files and works out, for every
seed URL, which resource the crawler finally captured after following redirects and
embeds. It builds a referrer map from the log, resolves hits backward and seeds forward
over that map, and stores one row per mapping in SQLite or Postgres.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(state.cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			if state.htmlHit {
				cfg.Hit.Preset = mimetype.PresetHTML
			}

			appInstance, err := newApp(cmd.Context(), cfg, cmd.Name())
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			state.app = appInstance

			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&state.cfgFile, "config", "", "config file (YAML)")
	flags.BoolVar(&state.htmlHit, "html-hit", false, "treat only successful text/html captures as hits")
	flags.String("graph-backend", config.BackendSQLite, "referrer map backend: memory, sqlite or badger")
	flags.Bool("dev-log", false, "human-readable development logging")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("metrics-addr", "", "serve /metrics, /healthz and /v1/run on this address while running")
	flags.String("metrics-file", "", "write Prometheus metrics to this textfile on exit")

	cmd.AddCommand(
		newReferrerCmd(),
		newBackwardCmd(),
		newBackwardCDXCmd(),
		newForwardCmd(),
		newEverythingCmd(),
		newPostprocessCmd(),
		newDumpJSONCmd(),
	)
	return cmd
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) (err error) {
	state := &cliState{}
	root := newRootCmd(state)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	defer func() {
		if state.app != nil {
			err = errors.Join(err, state.app.Close())
		}
	}()
	return root.ExecuteContext(ctx)
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "chainmap:", err)
		stop()
		os.Exit(1) //nolint:gocritic // stop already called
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withInput opens location, hands the reader to fn and closes it afterwards.
func withInput(ctx context.Context, a *app.App, location string, fn func(io.Reader) error) error {
	rc, err := a.Open(ctx, location)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil {
			a.Logger().Warn("failed to close input", zap.String("location", location), zap.Error(cerr))
		}
	}()
	return fn(rc)
}

// timed runs a pass, records its counters on the app and prints them to stderr.
func timed(cmd *cobra.Command, a *app.App, pass string, fn func() (chain.Counters, error)) error {
	start := time.Now()
	counters, err := fn()
	if counters != nil {
		a.Record(pass, counters, time.Since(start))
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", pass, counters)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", pass, err)
	}
	return nil
}
