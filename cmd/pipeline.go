package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ledger-batch/internal/pgexport"
	rowpg "github.com/JakeFAU/ledger-batch/internal/rowstore/postgres"
)

// newProcessCmd creates the 'process' subcommand: one processor job run.
func newProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Ingest dropped files and process the backlog once",
		Long: `Absorbs every file in raw_data/incoming into the row store, then
runs the batch engine from the saved checkpoint to the end of the table.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := appInstance.Process(cmd.Context())
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}
			appInstance.Logger().Info("process command finished",
				zap.String("run_id", res.RunID),
				zap.Int64("start_offset", res.StartOffset),
				zap.Int64("end_offset", res.EndOffset),
				zap.Bool("nothing_to_do", res.NothingToDo))
			return nil
		},
	}
}

// newFeedCmd creates the 'feed' subcommand: one feeder job run.
func newFeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feed",
		Short: "Drop the next simulated month into raw_data/incoming",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Feed(cmd.Context()); err != nil {
				return fmt.Errorf("feed: %w", err)
			}
			return nil
		},
	}
}

// newIngestCmd creates the 'ingest' subcommand.
func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Move files from raw_data/incoming into the row store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := appInstance.Ingestor().Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			appInstance.Logger().Info("ingest command finished",
				zap.Int("files", res.Files),
				zap.Int("rows", res.Rows),
				zap.Strings("failed", res.Failed))
			return nil
		},
	}
}

// newPackageCmd creates the 'package' subcommand, rebuilding every weekly
// and monthly archive from the daily reports on disk.
func newPackageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "package",
		Short: "Rebuild weekly and monthly archives",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			months, err := appInstance.Packager().PackageByMonth(cmd.Context())
			if err != nil {
				return fmt.Errorf("package: %w", err)
			}
			appInstance.Logger().Info("package command finished", zap.Strings("months", months))
			return nil
		},
	}
}

// newPGExportCmd creates the 'pg-export' subcommand, which copies a
// PostgreSQL table into the incoming directory as a spreadsheet.
func newPGExportCmd() *cobra.Command {
	var table string
	var list bool
	cmd := &cobra.Command{
		Use:   "pg-export",
		Short: "Export a PostgreSQL table into raw_data/incoming",
		Long: `Connects to the database named by pg_export.dsn (or the PG_* variables
in .env) and writes the chosen table to raw_data/incoming/<table>_<timestamp>.xlsx,
where the next ingest picks it up. --list prints the available tables.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.Config()
			logger := appInstance.Logger()
			if cfg.PGExport.DSN == "" {
				return fmt.Errorf("pg-export: set pg_export.dsn or PG_DATABASE")
			}
			src, err := rowpg.Connect(cmd.Context(), rowpg.Config{DSN: cfg.PGExport.DSN, MaxConns: 2})
			if err != nil {
				return fmt.Errorf("pg-export: %w", err)
			}
			defer src.Close()

			if list {
				tables, err := src.Tables(cmd.Context())
				if err != nil {
					return fmt.Errorf("pg-export: %w", err)
				}
				for _, t := range tables {
					fmt.Fprintln(cmd.OutOrStdout(), t)
				}
				return nil
			}

			if table == "" {
				table = cfg.PGExport.Table
			}
			if table == "" {
				return fmt.Errorf("pg-export: --table is required")
			}
			path, n, err := pgexport.Export(cmd.Context(), src, table, cfg.Paths.Incoming(), appInstance.Clock().Now())
			if err != nil {
				return fmt.Errorf("pg-export: %w", err)
			}
			if n == 0 {
				logger.Warn("table is empty; nothing exported", zap.String("table", table))
				return nil
			}
			logger.Info("exported table", zap.String("table", table), zap.String("file", path), zap.Int("rows", n))
			return nil
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "table to export (defaults to pg_export.table)")
	cmd.Flags().BoolVar(&list, "list", false, "list tables instead of exporting")
	return cmd
}
