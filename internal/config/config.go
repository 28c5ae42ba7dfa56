// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/ledger-batch/internal/logging"
)

// Config captures all pipeline configuration knobs loaded via Viper.
type Config struct {
	Paths      PathsConfig      `mapstructure:"paths"`
	Logging    logging.Config   `mapstructure:"logging"`
	RowStore   RowStoreConfig   `mapstructure:"rowstore"`
	State      StateConfig      `mapstructure:"state"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Feeder     FeederConfig     `mapstructure:"feeder"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	PGExport   PGExportConfig   `mapstructure:"pg_export"`
}

// PathsConfig anchors the on-disk layout.
type PathsConfig struct {
	Base    string `mapstructure:"base"`
	RawData string `mapstructure:"raw_data"`
	Output  string `mapstructure:"output"`
}

// RowStoreConfig selects the transaction row store.
type RowStoreConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// StateConfig selects where checkpoint, summary and feeder documents live.
type StateConfig struct {
	Backend       string `mapstructure:"backend"`
	Dir           string `mapstructure:"dir"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PostgresTable string `mapstructure:"postgres_table"`
}

// EngineConfig tunes the batch engine.
type EngineConfig struct {
	ChunkSize int64 `mapstructure:"chunk_size"`
}

// FeederConfig drives the synthetic upstream feed.
type FeederConfig struct {
	StartDate    string `mapstructure:"start_date"`
	EndDate      string `mapstructure:"end_date"`
	RowsPerMonth int    `mapstructure:"rows_per_month"`
	DirtyEvery   int    `mapstructure:"dirty_every"`
	CrashFile    string `mapstructure:"crash_file"`
}

// SupervisorConfig controls the job loop.
type SupervisorConfig struct {
	Mode              string        `mapstructure:"mode"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	FeederInterval    time.Duration `mapstructure:"feeder_interval"`
	ProcessorInterval time.Duration `mapstructure:"processor_interval"`
	DetailLimit       int           `mapstructure:"detail_limit"`
}

// ArchiveConfig selects the optional archive mirror.
type ArchiveConfig struct {
	Mirror   string `mapstructure:"mirror"`
	LocalDir string `mapstructure:"local_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// NotifyConfig selects where run notifications go.
type NotifyConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig controls the health and metrics listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// PGExportConfig locates the PostgreSQL source for pg-export.
type PGExportConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// Load builds a Config from an optional .env file, disk and environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.resolve()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("paths.base", ".")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("rowstore.driver", "sqlite")
	v.SetDefault("rowstore.table", "banking_transactions")
	v.SetDefault("rowstore.max_conns", 4)
	v.SetDefault("state.backend", "file")
	v.SetDefault("state.redis_prefix", "ledger:")
	v.SetDefault("state.postgres_table", "pipeline_state")
	v.SetDefault("engine.chunk_size", 1000)
	v.SetDefault("feeder.start_date", "2024-01-01")
	v.SetDefault("feeder.end_date", "2024-12-31")
	v.SetDefault("feeder.rows_per_month", 2000)
	v.SetDefault("feeder.dirty_every", 50)
	v.SetDefault("supervisor.mode", "inprocess")
	v.SetDefault("supervisor.poll_interval", time.Second)
	v.SetDefault("supervisor.feeder_interval", time.Minute)
	v.SetDefault("supervisor.processor_interval", time.Minute)
	v.SetDefault("supervisor.detail_limit", 200)
	v.SetDefault("archive.mirror", "none")
	v.SetDefault("notify.backend", "none")
	v.SetDefault("notify.topic", "ledger-runs")
}

// resolve fills paths that default relative to paths.base.
func (c *Config) resolve() {
	base := c.Paths.Base
	if c.Paths.RawData == "" {
		c.Paths.RawData = filepath.Join(base, "raw_data")
	}
	if c.Paths.Output == "" {
		c.Paths.Output = filepath.Join(base, "output")
	}
	if c.RowStore.Path == "" {
		c.RowStore.Path = filepath.Join(base, "banking.db")
	}
	if c.State.Dir == "" {
		c.State.Dir = base
	}
	if c.Feeder.CrashFile == "" {
		c.Feeder.CrashFile = filepath.Join(base, "crash.txt")
	}
	if c.Archive.LocalDir == "" {
		c.Archive.LocalDir = filepath.Join(base, "archive_mirror")
	}
	if len(c.Logging.OutputPaths) == 0 {
		c.Logging.OutputPaths = []string{"stderr", filepath.Join(c.Paths.Output, "system.log")}
	}
	if c.PGExport.DSN == "" {
		c.PGExport.DSN = dsnFromEnv()
	}
}

// dsnFromEnv assembles a PostgreSQL URL from the PG_* variables, as set in
// the .env file. It returns "" when no database is named.
func dsnFromEnv() string {
	db := os.Getenv("PG_DATABASE")
	if db == "" {
		return ""
	}
	host := os.Getenv("PG_HOST")
	if host == "" {
		host = "localhost"
	}
	port := os.Getenv("PG_PORT")
	if port == "" {
		port = "5432"
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + db,
	}
	if user := os.Getenv("PG_USER"); user != "" {
		u.User = url.UserPassword(user, os.Getenv("PG_PASSWORD"))
	}
	return u.String()
}

// Incoming is the handoff directory new files are dropped into.
func (p PathsConfig) Incoming() string { return filepath.Join(p.RawData, "incoming") }

// Processed is where ingested files are moved.
func (p PathsConfig) Processed() string { return filepath.Join(p.RawData, "processed") }

// MasterCSV is the master output file.
func (p PathsConfig) MasterCSV() string { return filepath.Join(p.Output, "master_clean_data.csv") }

// DiscardLog is the rejected-rows log.
func (p PathsConfig) DiscardLog() string { return filepath.Join(p.Output, "discarded_records.csv") }

// AuditTrail is the supervisor audit file.
func (p PathsConfig) AuditTrail() string { return filepath.Join(p.Output, "supervisor_audit.csv") }

// DailyReports is the root of the per-day reports.
func (p PathsConfig) DailyReports() string { return filepath.Join(p.Output, "daily_reports") }

// WeeklyArchives holds Weekly_Report_*.zip.
func (p PathsConfig) WeeklyArchives() string { return filepath.Join(p.Output, "weekly_archives") }

// MonthlyArchives holds Monthly_Report_*.zip.
func (p PathsConfig) MonthlyArchives() string { return filepath.Join(p.Output, "monthly_archives") }

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.RowStore.Driver {
	case "sqlite":
	case "postgres":
		if c.RowStore.DSN == "" {
			return fmt.Errorf("rowstore.dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("rowstore.driver must be sqlite or postgres, got %q", c.RowStore.Driver)
	}
	switch c.State.Backend {
	case "file":
	case "redis":
		if c.State.RedisAddr == "" {
			return fmt.Errorf("state.redis_addr must be set for the redis backend")
		}
	case "postgres":
		if c.State.PostgresDSN == "" {
			return fmt.Errorf("state.postgres_dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("state.backend must be file, redis or postgres, got %q", c.State.Backend)
	}
	if c.Engine.ChunkSize <= 0 {
		return fmt.Errorf("engine.chunk_size must be > 0")
	}
	if c.Feeder.RowsPerMonth <= 0 {
		return fmt.Errorf("feeder.rows_per_month must be > 0")
	}
	switch c.Supervisor.Mode {
	case "inprocess", "exec":
	default:
		return fmt.Errorf("supervisor.mode must be inprocess or exec, got %q", c.Supervisor.Mode)
	}
	if c.Supervisor.PollInterval <= 0 || c.Supervisor.FeederInterval <= 0 || c.Supervisor.ProcessorInterval <= 0 {
		return fmt.Errorf("supervisor intervals must be > 0")
	}
	switch c.Archive.Mirror {
	case "none", "local":
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set for the gcs mirror")
		}
	default:
		return fmt.Errorf("archive.mirror must be none, local or gcs, got %q", c.Archive.Mirror)
	}
	switch c.Notify.Backend {
	case "none", "memory":
	case "pubsub":
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic must be set for pubsub")
		}
	default:
		return fmt.Errorf("notify.backend must be none, memory or pubsub, got %q", c.Notify.Backend)
	}
	return nil
}
