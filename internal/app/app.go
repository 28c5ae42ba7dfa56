// Package app initializes and holds long-lived pipeline services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/ledger-batch/internal/archive"
	"github.com/JakeFAU/ledger-batch/internal/archive/mirror/gcs"
	"github.com/JakeFAU/ledger-batch/internal/archive/mirror/local"
	"github.com/JakeFAU/ledger-batch/internal/checkpoint"
	"github.com/JakeFAU/ledger-batch/internal/clock/system"
	"github.com/JakeFAU/ledger-batch/internal/config"
	"github.com/JakeFAU/ledger-batch/internal/engine"
	"github.com/JakeFAU/ledger-batch/internal/feeder"
	"github.com/JakeFAU/ledger-batch/internal/id/uuid"
	"github.com/JakeFAU/ledger-batch/internal/ingest"
	"github.com/JakeFAU/ledger-batch/internal/ledger"
	"github.com/JakeFAU/ledger-batch/internal/notify/memory"
	notifypubsub "github.com/JakeFAU/ledger-batch/internal/notify/pubsub"
	"github.com/JakeFAU/ledger-batch/internal/output"
	"github.com/JakeFAU/ledger-batch/internal/report"
	rowpg "github.com/JakeFAU/ledger-batch/internal/rowstore/postgres"
	"github.com/JakeFAU/ledger-batch/internal/rowstore/sqlite"
	"github.com/JakeFAU/ledger-batch/internal/state"
	"github.com/JakeFAU/ledger-batch/internal/state/file"
	statepg "github.com/JakeFAU/ledger-batch/internal/state/postgres"
	stateredis "github.com/JakeFAU/ledger-batch/internal/state/redis"
	"github.com/JakeFAU/ledger-batch/internal/validate"
)

// RowStore is the transaction table: the engine reads it, ingestion appends to it.
type RowStore interface {
	ledger.RowSource
	ledger.RowSink
}

// App holds the shared services for one process. It is built once at startup
// and closed by the command that created it.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	state      state.Store
	summaries  state.Store
	rows       RowStore
	checkpoint *checkpoint.Store
	reporter   *report.Reporter
	notifier   ledger.Notifier
	mirror     archive.Mirror
	clock      ledger.Clock
	closers    []func() error
}

// New creates the App from cfg. Any service that fails to initialize closes
// the ones already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, clock: system.NewLocal()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	logger.Info("initializing pipeline services",
		zap.String("rowstore", cfg.RowStore.Driver),
		zap.String("state", cfg.State.Backend),
		zap.String("mirror", cfg.Archive.Mirror),
		zap.String("notify", cfg.Notify.Backend),
	)

	if err := os.MkdirAll(cfg.Paths.Output, 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	if err := a.initState(ctx); err != nil {
		return nil, err
	}
	if err := a.initRows(ctx); err != nil {
		return nil, err
	}
	if err := a.initMirror(ctx); err != nil {
		return nil, err
	}
	if err := a.initNotifier(ctx); err != nil {
		return nil, err
	}
	a.checkpoint = checkpoint.New(a.state)
	a.reporter, err = report.New(a.summaries, cfg.Paths.DiscardLog(), logger.Named("report"))
	if err != nil {
		return nil, fmt.Errorf("initialize reporter: %w", err)
	}
	return a, nil
}

func (a *App) initState(ctx context.Context) error {
	cfg := a.cfg.State
	switch cfg.Backend {
	case "file":
		st, err := file.New(cfg.Dir)
		if err != nil {
			return fmt.Errorf("initialize file state: %w", err)
		}
		sums, err := file.New(a.cfg.Paths.Output)
		if err != nil {
			return fmt.Errorf("initialize summary store: %w", err)
		}
		a.state, a.summaries = st, sums
	case "redis":
		st, err := stateredis.New(ctx, stateredis.Config{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisPrefix,
		})
		if err != nil {
			return fmt.Errorf("initialize redis state: %w", err)
		}
		a.state, a.summaries = st, st
		a.closers = append(a.closers, st.Close)
	case "postgres":
		st, err := statepg.New(ctx, cfg.PostgresDSN, cfg.PostgresTable)
		if err != nil {
			return fmt.Errorf("initialize postgres state: %w", err)
		}
		a.state, a.summaries = st, st
		a.closers = append(a.closers, func() error { st.Close(); return nil })
	default:
		return fmt.Errorf("unknown state backend: %s", cfg.Backend)
	}
	return nil
}

func (a *App) initRows(ctx context.Context) error {
	cfg := a.cfg.RowStore
	switch cfg.Driver {
	case "sqlite":
		st, err := sqlite.Open(ctx, cfg.Path, cfg.Table)
		if err != nil {
			return fmt.Errorf("initialize sqlite row store: %w", err)
		}
		a.rows = st
		a.closers = append(a.closers, st.Close)
	case "postgres":
		st, err := rowpg.New(ctx, rowpg.Config{DSN: cfg.DSN, Table: cfg.Table, MaxConns: cfg.MaxConns})
		if err != nil {
			return fmt.Errorf("initialize postgres row store: %w", err)
		}
		a.rows = st
		a.closers = append(a.closers, func() error { st.Close(); return nil })
	default:
		return fmt.Errorf("unknown row store driver: %s", cfg.Driver)
	}
	return nil
}

func (a *App) initMirror(ctx context.Context) error {
	cfg := a.cfg.Archive
	switch cfg.Mirror {
	case "none", "":
	case "local":
		m, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return fmt.Errorf("initialize local mirror: %w", err)
		}
		a.mirror = m
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		m, err := gcs.New(client, gcs.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			return fmt.Errorf("initialize gcs mirror: %w", err)
		}
		a.mirror = m
	default:
		return fmt.Errorf("unknown archive mirror: %s", cfg.Mirror)
	}
	return nil
}

func (a *App) initNotifier(ctx context.Context) error {
	cfg := a.cfg.Notify
	switch cfg.Backend {
	case "none", "":
	case "memory":
		a.notifier = memory.New()
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return fmt.Errorf("create pubsub client: %w", err)
		}
		n := notifypubsub.New(client)
		a.notifier = n
		a.closers = append(a.closers, n.Close)
	default:
		return fmt.Errorf("unknown notify backend: %s", cfg.Backend)
	}
	return nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Rows returns the transaction row store.
func (a *App) Rows() RowStore { return a.rows }

// Checkpoint returns the checkpoint store.
func (a *App) Checkpoint() *checkpoint.Store { return a.checkpoint }

// Summaries returns the store holding the cleaning summary.
func (a *App) Summaries() state.Store { return a.summaries }

// Notifier returns the run notifier, or nil when notifications are off.
func (a *App) Notifier() ledger.Notifier { return a.notifier }

// Clock returns the wall clock.
func (a *App) Clock() ledger.Clock { return a.clock }

// Packager returns an archive packager over the configured output tree.
func (a *App) Packager() *archive.Packager {
	p := a.cfg.Paths
	return archive.NewPackager(archive.Config{
		DailyDir:   p.DailyReports(),
		WeeklyDir:  p.WeeklyArchives(),
		MonthlyDir: p.MonthlyArchives(),
	}, a.mirror, a.logger.Named("archive"))
}

// Ingestor returns the incoming-directory ingestor.
func (a *App) Ingestor() *ingest.Ingestor {
	return ingest.New(a.rows, ingest.Config{
		IncomingDir:  a.cfg.Paths.Incoming(),
		ProcessedDir: a.cfg.Paths.Processed(),
	}, a.logger.Named("ingest"))
}

// Feeder returns the synthetic upstream feed.
func (a *App) Feeder() (*feeder.Feeder, error) {
	f := a.cfg.Feeder
	return feeder.New(a.state, feeder.Config{
		StartDate:    f.StartDate,
		EndDate:      f.EndDate,
		RowsPerMonth: f.RowsPerMonth,
		DirtyEvery:   f.DirtyEvery,
		CrashFile:    f.CrashFile,
		IncomingDir:  a.cfg.Paths.Incoming(),
	}, a.logger.Named("feeder"))
}

// Engine builds a batch engine for a single run. Every engine shares the
// App's reporter, so summary totals accumulate for the life of the process.
func (a *App) Engine() *engine.Engine {
	p := a.cfg.Paths
	var topic string
	if a.notifier != nil {
		topic = a.cfg.Notify.Topic
	}
	return engine.New(
		a.rows,
		validate.New(),
		a.checkpoint,
		a.reporter,
		output.NewMasterWriter(p.MasterCSV()),
		output.NewDailyWriter(p.DailyReports(), a.logger.Named("daily")),
		a.Packager(),
		a.notifier,
		a.clock,
		uuid.NewWithPrefix("run"),
		engine.Config{ChunkSize: a.cfg.Engine.ChunkSize, Topic: topic},
		a.logger.Named("engine"),
	)
}

// Feed runs the feeder once.
func (a *App) Feed(ctx context.Context) error {
	f, err := a.Feeder()
	if err != nil {
		return err
	}
	_, err = f.Run(ctx)
	return err
}

// Process ingests any dropped files and then runs the engine over the
// backlog. An ingest failure on one file does not stop the run.
func (a *App) Process(ctx context.Context) (engine.Result, error) {
	if _, err := a.Ingestor().Run(ctx); err != nil {
		return engine.Result{}, fmt.Errorf("ingest: %w", err)
	}
	return a.Engine().Run(ctx)
}

// Close releases every service in reverse order of creation and flushes the logger.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing services", zap.Error(err))
	}
	_ = a.logger.Sync()
}
