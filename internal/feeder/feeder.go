// Package feeder simulates the upstream bank system by dropping one month of
// synthetic transactions into the incoming directory per invocation.
package feeder

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/ledger-batch/internal/ledger"
	"github.com/JakeFAU/ledger-batch/internal/state"
)

// StateKey is the document holding the simulated calendar position.
const StateKey = "feeder_state.json"

const dateLayout = "2006-01-02"

// ErrInjectedFault is returned when the crash sentinel was present.
var ErrInjectedFault = errors.New("injected fault: crash sentinel found")

var (
	branches = []string{"New York", "London", "Mumbai", "Singapore", "Tokyo"}
	types    = []string{"Credit", "Debit", "Transfer"}
	header   = []any{"Transaction_ID", "Transaction_Date", "Amount", "Branch", "Transaction_Type", "Customer_Name"}
)

// Config controls the simulated feed.
type Config struct {
	StartDate    string `mapstructure:"start_date"`
	EndDate      string `mapstructure:"end_date"`
	RowsPerMonth int    `mapstructure:"rows_per_month"`
	// DirtyEvery blanks the branch of every Nth row so validation has work
	// to do. Zero disables it.
	DirtyEvery  int    `mapstructure:"dirty_every"`
	CrashFile   string `mapstructure:"crash_file"`
	IncomingDir string `mapstructure:"incoming_dir"`
}

type document struct {
	CurrentDate string `json:"current_date"`
}

// Result describes the file produced by one invocation.
type Result struct {
	Month   string
	Path    string
	Rows    int
	Wrapped bool
}

// Feeder produces monthly transaction drops.
type Feeder struct {
	store  state.Store
	cfg    Config
	start  time.Time
	end    time.Time
	logger *zap.Logger
}

// New validates cfg and constructs a Feeder.
func New(store state.Store, cfg Config, logger *zap.Logger) (*Feeder, error) {
	start, err := time.Parse(dateLayout, cfg.StartDate)
	if err != nil {
		return nil, fmt.Errorf("parse start date: %w", err)
	}
	end, err := time.Parse(dateLayout, cfg.EndDate)
	if err != nil {
		return nil, fmt.Errorf("parse end date: %w", err)
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("start date %s must be before end date %s", cfg.StartDate, cfg.EndDate)
	}
	if cfg.RowsPerMonth <= 0 {
		return nil, fmt.Errorf("rows per month must be > 0")
	}
	if cfg.IncomingDir == "" {
		return nil, fmt.Errorf("incoming directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feeder{store: store, cfg: cfg, start: start, end: end, logger: logger}, nil
}

// Run consumes the crash sentinel if present, otherwise writes the current
// month's file and advances the calendar by one month.
func (f *Feeder) Run(ctx context.Context) (Result, error) {
	if f.cfg.CrashFile != "" {
		if _, err := os.Stat(f.cfg.CrashFile); err == nil {
			if rmErr := os.Remove(f.cfg.CrashFile); rmErr != nil {
				return Result{}, fmt.Errorf("consume crash sentinel: %w", rmErr)
			}
			f.logger.Warn("crash sentinel consumed; failing this run", zap.String("file", f.cfg.CrashFile))
			return Result{}, ErrInjectedFault
		}
	}

	current, err := f.current(ctx)
	if err != nil {
		return Result{}, err
	}
	var res Result
	if !current.Before(f.end) {
		f.logger.Info("end date reached; restarting from start date",
			zap.String("current", current.Format(dateLayout)), zap.String("start", f.cfg.StartDate))
		current = f.start
		res.Wrapped = true
	}

	res.Month = current.Format("2006-01")
	res.Path = filepath.Join(f.cfg.IncomingDir, "Bank_Data_"+res.Month+".xlsx")
	res.Rows = f.cfg.RowsPerMonth
	if err := f.writeMonth(res.Path, current); err != nil {
		return Result{}, err
	}

	next := time.Date(current.Year(), current.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	if err := state.PutJSON(ctx, f.store, StateKey, document{CurrentDate: next.Format(dateLayout)}); err != nil {
		return Result{}, fmt.Errorf("save feeder state: %w", err)
	}
	f.logger.Info("fed monthly file", zap.String("file", res.Path), zap.Int("rows", res.Rows))
	return res, nil
}

func (f *Feeder) current(ctx context.Context) (time.Time, error) {
	var doc document
	ok, err := state.GetJSON(ctx, f.store, StateKey, &doc)
	if errors.Is(err, ledger.ErrCorruptState) {
		f.logger.Warn("feeder state unreadable; restarting from start date", zap.Error(err))
		return f.start, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("load feeder state: %w", err)
	}
	if !ok {
		return f.start, nil
	}
	t, err := time.Parse(dateLayout, doc.CurrentDate)
	if err != nil {
		f.logger.Warn("feeder state has bad date; restarting from start date", zap.String("current_date", doc.CurrentDate))
		return f.start, nil
	}
	return t, nil
}

// writeMonth saves the workbook under a hidden name first so the ingestor
// never sees a partial file.
func (f *Feeder) writeMonth(path string, from time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create incoming directory: %w", err)
	}
	wb := excelize.NewFile()
	defer wb.Close() //nolint:errcheck

	sheet := wb.GetSheetName(0)
	if err := wb.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	monthStart := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	span := monthStart.AddDate(0, 1, 0).Sub(from)
	// #nosec G404 -- synthetic data; seeded per month so reruns are reproducible.
	rng := rand.New(rand.NewPCG(uint64(from.Year()), uint64(from.Month())))
	for i := 0; i < f.cfg.RowsPerMonth; i++ {
		ts := from.Add(time.Duration(rng.Int64N(int64(span/time.Second))) * time.Second)
		amount := decimal.NewFromFloat(-100 + rng.Float64()*10100).Round(2)
		branch := branches[rng.IntN(len(branches))]
		if f.cfg.DirtyEvery > 0 && (i+1)%f.cfg.DirtyEvery == 0 {
			branch = ""
		}
		row := []any{
			fmt.Sprintf("TXN-%s-%05d", from.Format("200601"), i+1),
			ts.Format("2006-01-02 15:04:05"),
			amount.StringFixed(2),
			branch,
			types[rng.IntN(len(types))],
			fmt.Sprintf("Customer_%d", rng.IntN(1000)),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := wb.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp.xlsx")
	if err := wb.SaveAs(tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save workbook: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish workbook: %w", err)
	}
	return nil
}
