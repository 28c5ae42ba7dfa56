package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/ledger-batch/internal/metrics"
)

const (
	weeklyPrefix  = "Weekly_Report_"
	monthlyPrefix = "Monthly_Report_"
	zipExt        = ".zip"
	zipMIME       = "application/zip"
)

// Mirror receives a copy of every archive the packager writes.
type Mirror interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Config locates the three levels of the archive tree.
type Config struct {
	DailyDir   string `mapstructure:"daily_dir"`
	WeeklyDir  string `mapstructure:"weekly_dir"`
	MonthlyDir string `mapstructure:"monthly_dir"`
}

// Packager maintains the day, week, month archive hierarchy.
type Packager struct {
	cfg    Config
	mirror Mirror
	logger *zap.Logger
}

// NewPackager returns a packager. mirror may be nil.
func NewPackager(cfg Config, mirror Mirror, logger *zap.Logger) *Packager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Packager{cfg: cfg, mirror: mirror, logger: logger}
}

// WeeklyArchiveName returns the file name of a week's archive.
func WeeklyArchiveName(weekKey string) string {
	return weeklyPrefix + weekKey + zipExt
}

// MonthlyArchiveName returns the file name of a month's archive.
func MonthlyArchiveName(monthKey string) string {
	return monthlyPrefix + monthKey + zipExt
}

// PackageByWeek writes one archive per week directory under the daily root,
// overwriting any previous archive for that week. It returns the week keys
// that were packaged.
func (p *Packager) PackageByWeek(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(p.cfg.DailyDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read daily root: %w", err)
	}

	var weeks []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if _, _, err := ParseWeekKey(e.Name()); err != nil {
			p.logger.Warn("skipping unrecognised week directory", zap.String("dir", e.Name()))
			continue
		}
		weeks = append(weeks, e.Name())
	}
	sort.Strings(weeks)

	packaged := make([]string, 0, len(weeks))
	for _, wk := range weeks {
		if err := ctx.Err(); err != nil {
			return packaged, err
		}
		dst := filepath.Join(p.cfg.WeeklyDir, WeeklyArchiveName(wk))
		if err := zipDir(filepath.Join(p.cfg.DailyDir, wk), dst); err != nil {
			return packaged, fmt.Errorf("package week %s: %w", wk, err)
		}
		if err := p.mirrorFile(ctx, "weekly", dst); err != nil {
			return packaged, err
		}
		packaged = append(packaged, wk)
	}
	metrics.ObserveArchives("weekly", len(packaged))
	p.logger.Info("packaged weekly archives", zap.Int("weeks", len(packaged)))
	return packaged, nil
}

// PackageByMonth refreshes the weekly archives and then groups every weekly
// archive into a monthly archive keyed by MonthKeyForWeek. It returns the
// month keys that were packaged.
func (p *Packager) PackageByMonth(ctx context.Context) ([]string, error) {
	if _, err := p.PackageByWeek(ctx); err != nil {
		return nil, err
	}

	names, err := listFiles(p.cfg.WeeklyDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]string)
	for _, name := range names {
		if !strings.HasPrefix(name, weeklyPrefix) || !strings.HasSuffix(name, zipExt) {
			continue
		}
		wk := strings.TrimSuffix(strings.TrimPrefix(name, weeklyPrefix), zipExt)
		month, err := MonthKeyForWeek(wk)
		if err != nil {
			p.logger.Warn("skipping weekly archive with bad key", zap.String("file", name))
			continue
		}
		groups[month] = append(groups[month], name)
	}

	months := make([]string, 0, len(groups))
	for m := range groups {
		months = append(months, m)
	}
	sort.Strings(months)

	for _, m := range months {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.packageMonth(ctx, m, groups[m]); err != nil {
			return nil, fmt.Errorf("package month %s: %w", m, err)
		}
	}
	metrics.ObserveArchives("monthly", len(months))
	p.logger.Info("packaged monthly archives", zap.Int("months", len(months)))
	return months, nil
}

func (p *Packager) packageMonth(ctx context.Context, month string, weekly []string) error {
	staging := filepath.Join(p.cfg.MonthlyDir, "temp_"+month)
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("clear staging: %w", err)
	}
	if err := os.MkdirAll(staging, 0o750); err != nil {
		return fmt.Errorf("create staging: %w", err)
	}
	defer os.RemoveAll(staging) //nolint:errcheck

	for _, name := range weekly {
		if err := copyFile(filepath.Join(p.cfg.WeeklyDir, name), filepath.Join(staging, name)); err != nil {
			return err
		}
	}
	dst := filepath.Join(p.cfg.MonthlyDir, MonthlyArchiveName(month))
	if err := zipDir(staging, dst); err != nil {
		return err
	}
	return p.mirrorFile(ctx, "monthly", dst)
}

func (p *Packager) mirrorFile(ctx context.Context, level, path string) error {
	if p.mirror == nil {
		return nil
	}
	// #nosec G304 -- path was just written by the packager.
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open archive for mirror: %w", err)
	}
	defer f.Close() //nolint:errcheck
	uri, err := p.mirror.PutObject(ctx, level+"/"+filepath.Base(path), zipMIME, f)
	if err != nil {
		return fmt.Errorf("mirror %s: %w", filepath.Base(path), err)
	}
	p.logger.Debug("mirrored archive", zap.String("uri", uri))
	return nil
}
