package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ledger-batch/internal/api"
	"github.com/JakeFAU/ledger-batch/internal/audit"
	"github.com/JakeFAU/ledger-batch/internal/id/uuid"
	"github.com/JakeFAU/ledger-batch/internal/supervisor"
)

const (
	feederJob    = "feeder"
	processorJob = "processor"
)

// newSuperviseCmd creates the 'supervise' subcommand.
func newSuperviseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "supervise",
		Short: "Run the feeder and processor jobs on their own timers",
		Long: `Runs a single control loop that triggers the feeder and the processor
whenever their intervals elapse, one job at a time. Every attempt is written
to output/supervisor_audit.csv. In exec mode each job is a child process of
this binary. SIGINT or SIGTERM stops the loop once the current job returns.`,
		RunE: runSupervise,
	}
}

func runSupervise(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobs, err := buildJobs(appInstance, cfgFile)
	if err != nil {
		return err
	}
	trail := audit.New(cfg.Paths.AuditTrail())
	sup, err := supervisor.New(jobs, trail, appInstance.Clock(), uuid.NewWithPrefix("attempt"), supervisor.Config{
		PollInterval: cfg.Supervisor.PollInterval,
		DetailLimit:  cfg.Supervisor.DetailLimit,
	}, logger.Named("supervisor"))
	if err != nil {
		return fmt.Errorf("build supervisor: %w", err)
	}

	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		apiServer := api.NewServer(appInstance.Checkpoint(), appInstance.Rows(), appInstance.Summaries(), trail.Path(), logger.Named("api"))
		srv = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("status server listening", zap.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", zap.Error(err))
			}
		}()
	}

	runErr := sup.Run(ctx)
	logger.Info("shutdown requested; supervisor exiting")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}
	return runErr
}

// buildJobs returns the feeder and processor jobs for the configured mode.
func buildJobs(appInstance App, configPath string) ([]supervisor.Job, error) {
	cfg := appInstance.Config().Supervisor
	var feed, process supervisor.Runner
	switch cfg.Mode {
	case "exec":
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		feed = supervisor.ExecRunner{Path: exe, Args: childArgs("feed", configPath)}
		process = supervisor.ExecRunner{Path: exe, Args: childArgs("process", configPath)}
	case "inprocess", "":
		feed = supervisor.FuncRunner(appInstance.Feed)
		process = supervisor.FuncRunner(func(ctx context.Context) error {
			_, err := appInstance.Process(ctx)
			return err
		})
	default:
		return nil, fmt.Errorf("unknown supervisor mode: %s", cfg.Mode)
	}
	return []supervisor.Job{
		{Name: feederJob, Interval: cfg.FeederInterval, Runner: feed},
		{Name: processorJob, Interval: cfg.ProcessorInterval, Runner: process},
	}, nil
}

func childArgs(sub, configPath string) []string {
	args := []string{sub}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return args
}
