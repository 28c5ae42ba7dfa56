package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/ledger-batch/internal/archive"
	"github.com/JakeFAU/ledger-batch/internal/ledger"
)

// SheetName is the worksheet holding a day's transactions.
const SheetName = "Transactions"

// DailyArtifact describes one per-day report that was written.
type DailyArtifact struct {
	Day     string
	WeekKey string
	Path    string
	Rows    int
}

// DailyWriter splits transactions by calendar day into
// <root>/<week key>/Report_<YYYY-MM-DD>.xlsx.
type DailyWriter struct {
	root   string
	logger *zap.Logger
}

// NewDailyWriter creates a writer rooted at the daily report directory.
func NewDailyWriter(root string, logger *zap.Logger) *DailyWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DailyWriter{root: root, logger: logger}
}

// ArtifactName returns the file name for a day's report.
func ArtifactName(day time.Time) string {
	return "Report_" + day.Format("2006-01-02") + ".xlsx"
}

// Write groups txns by day and writes one spreadsheet per day. Rows are
// appended when the day's report already exists from an earlier run.
func (w *DailyWriter) Write(txns []ledger.Transaction) ([]DailyArtifact, error) {
	byDay := make(map[string][]ledger.Transaction)
	for _, t := range txns {
		key := t.Timestamp.Format("2006-01-02")
		byDay[key] = append(byDay[key], t)
	}
	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)

	out := make([]DailyArtifact, 0, len(days))
	for _, d := range days {
		group := byDay[d]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Timestamp.Before(group[j].Timestamp) })
		dayTime := group[0].Timestamp
		weekKey := archive.WeekKey(dayTime)
		dir := filepath.Join(w.root, weekKey)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return out, fmt.Errorf("create week directory: %w", err)
		}
		path := filepath.Join(dir, ArtifactName(dayTime))
		if err := writeDay(path, group); err != nil {
			return out, fmt.Errorf("write daily report %s: %w", d, err)
		}
		out = append(out, DailyArtifact{Day: d, WeekKey: weekKey, Path: path, Rows: len(group)})
	}
	w.logger.Info("generated daily reports", zap.Int("files", len(out)))
	return out, nil
}

func writeDay(path string, txns []ledger.Transaction) error {
	f, next, err := openOrCreate(path)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	// Amounts are numeric cells holding the exact text the master output
	// carries, displayed as 0.00.
	amountStyle, err := f.NewStyle(&excelize.Style{NumFmt: 2})
	if err != nil {
		return fmt.Errorf("amount style: %w", err)
	}
	for i, t := range txns {
		row := next + i
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		values := []any{
			t.ID,
			t.Timestamp.Format(TimestampLayout),
			nil,
			t.Branch,
			t.Type,
			t.Customer,
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("set row: %w", err)
		}
		amountCell, err := excelize.CoordinatesToCellName(3, row)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := f.SetCellDefault(SheetName, amountCell, t.Amount.StringFixed(2)); err != nil {
			return fmt.Errorf("set amount: %w", err)
		}
		if err := f.SetCellStyle(SheetName, amountCell, amountCell, amountStyle); err != nil {
			return fmt.Errorf("style amount: %w", err)
		}
	}

	// Save beside the target and rename so a crash never leaves a torn report.
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp.xlsx")
	if err := f.SaveAs(tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save workbook: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace workbook: %w", err)
	}
	return nil
}

// openOrCreate returns the workbook and the first empty 1-based row.
func openOrCreate(path string) (*excelize.File, int, error) {
	if _, err := os.Stat(path); err == nil {
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, 0, fmt.Errorf("open workbook: %w", err)
		}
		rows, err := f.GetRows(SheetName)
		if err != nil {
			_ = f.Close()
			return nil, 0, fmt.Errorf("read workbook rows: %w", err)
		}
		return f, len(rows) + 1, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, 0, fmt.Errorf("stat workbook: %w", err)
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("name sheet: %w", err)
	}
	header := make([]any, len(MasterHeader))
	for i, h := range MasterHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("write header: %w", err)
	}
	return f, 2, nil
}
