// Package pgexport copies a PostgreSQL table into the incoming directory as a
// spreadsheet so the regular ingestion path picks it up.
package pgexport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"
)

// Source reads a whole table as text.
type Source interface {
	Export(ctx context.Context, table string) ([]string, [][]string, error)
}

// FileName returns the export file name for table at now.
func FileName(table string, now time.Time) string {
	return fmt.Sprintf("%s_%s.xlsx", table, now.Format("20060102_150405"))
}

// Export writes table into dir and returns the file path and row count. An
// empty table produces no file.
func Export(ctx context.Context, src Source, table, dir string, now time.Time) (string, int, error) {
	header, rows, err := src.Export(ctx, table)
	if err != nil {
		return "", 0, fmt.Errorf("export %s: %w", table, err)
	}
	if len(rows) == 0 {
		return "", 0, nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", 0, fmt.Errorf("create incoming directory: %w", err)
	}

	wb := excelize.NewFile()
	defer wb.Close() //nolint:errcheck
	sheet := wb.GetSheetName(0)

	write := func(r int, cells []string) error {
		values := make([]any, len(cells))
		for i, c := range cells {
			values[i] = c
		}
		cell, err := excelize.CoordinatesToCellName(1, r)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		return wb.SetSheetRow(sheet, cell, &values)
	}
	if err := write(1, header); err != nil {
		return "", 0, fmt.Errorf("write header: %w", err)
	}
	for i, row := range rows {
		if err := write(i+2, row); err != nil {
			return "", 0, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	path := filepath.Join(dir, FileName(table, now))
	tmp := filepath.Join(dir, "."+filepath.Base(path)+".tmp.xlsx")
	if err := wb.SaveAs(tmp); err != nil {
		_ = os.Remove(tmp)
		return "", 0, fmt.Errorf("save workbook: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", 0, fmt.Errorf("publish workbook: %w", err)
	}
	return path, len(rows), nil
}
