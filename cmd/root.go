// Package cmd defines and implements the CLI commands for the ledger-batch executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ledger-batch/internal/app"
	"github.com/JakeFAU/ledger-batch/internal/archive"
	"github.com/JakeFAU/ledger-batch/internal/checkpoint"
	"github.com/JakeFAU/ledger-batch/internal/config"
	"github.com/JakeFAU/ledger-batch/internal/engine"
	"github.com/JakeFAU/ledger-batch/internal/ingest"
	"github.com/JakeFAU/ledger-batch/internal/ledger"
	"github.com/JakeFAU/ledger-batch/internal/logging"
	"github.com/JakeFAU/ledger-batch/internal/state"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the set of pipeline services the commands use. Tests swap in a fake
// through newApp.
type App interface {
	Close()
	Config() config.Config
	Logger() *zap.Logger
	Clock() ledger.Clock
	Rows() app.RowStore
	Checkpoint() *checkpoint.Store
	Summaries() state.Store
	Packager() *archive.Packager
	Ingestor() *ingest.Ingestor
	Feed(ctx context.Context) error
	Process(ctx context.Context) (engine.Result, error)
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, path string) (App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Paths.Output, 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger-batch",
		Short: "Resumable batch pipeline for banking transactions.",
		Long: `ledger-batch ingests monthly transaction drops, cleans them in
checkpointed chunks, writes master and daily outputs and rolls the daily
reports into weekly and monthly archives. The supervise command runs the
feeder and processor on independent timers with an audit trail.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize pipeline services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON); LEDGER_* env vars override it")

	cmd.AddCommand(
		newSuperviseCmd(),
		newProcessCmd(),
		newFeedCmd(),
		newIngestCmd(),
		newPackageCmd(),
		newPGExportCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("pipeline services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
