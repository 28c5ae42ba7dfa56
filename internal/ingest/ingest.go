// Package ingest absorbs spreadsheet and CSV drops from the incoming
// directory into the row store and hands them off to the processed directory.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/ledger-batch/internal/ledger"
	"github.com/JakeFAU/ledger-batch/internal/metrics"
	"github.com/JakeFAU/ledger-batch/internal/rowstore"
)

// Config locates the handoff directories.
type Config struct {
	IncomingDir  string `mapstructure:"incoming_dir"`
	ProcessedDir string `mapstructure:"processed_dir"`
}

// Result summarizes one ingestion pass.
type Result struct {
	Files  int
	Rows   int
	Failed []string
}

// Ingestor moves incoming files into the row store.
type Ingestor struct {
	sink   ledger.RowSink
	cfg    Config
	logger *zap.Logger
}

// New constructs an Ingestor.
func New(sink ledger.RowSink, cfg Config, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{sink: sink, cfg: cfg, logger: logger}
}

// Supported reports whether name is a file the ingestor reads.
func Supported(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".csv":
		return true
	}
	return false
}

// Run ingests every supported file in the incoming directory in name order.
// A file is moved to the processed directory only after its rows were
// appended; files that fail stay in place for the next pass.
func (i *Ingestor) Run(ctx context.Context) (Result, error) {
	for _, dir := range []string{i.cfg.IncomingDir, i.cfg.ProcessedDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return Result{}, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	entries, err := os.ReadDir(i.cfg.IncomingDir)
	if err != nil {
		return Result{}, fmt.Errorf("read incoming directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && Supported(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var res Result
	if len(names) == 0 {
		i.logger.Debug("no incoming files")
		return res, nil
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, err := i.ingestFile(ctx, name)
		if err != nil {
			i.logger.Error("ingest failed; file left in incoming", zap.String("file", name), zap.Error(err))
			metrics.ObserveIngestedFile("failed")
			res.Failed = append(res.Failed, name)
			continue
		}
		metrics.ObserveIngestedFile("ingested")
		res.Files++
		res.Rows += n
		i.logger.Info("ingested file", zap.String("file", name), zap.Int("rows", n))
	}
	return res, nil
}

func (i *Ingestor) ingestFile(ctx context.Context, name string) (int, error) {
	src := filepath.Join(i.cfg.IncomingDir, name)
	records, err := ReadFile(src)
	if err != nil {
		return 0, err
	}
	n, err := i.sink.Append(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("append rows: %w", err)
	}
	if err := os.Rename(src, filepath.Join(i.cfg.ProcessedDir, name)); err != nil {
		// The rows are already stored; a retry would append them again.
		return n, fmt.Errorf("move to processed: %w", err)
	}
	return n, nil
}

// ReadFile parses a transaction file by extension.
func ReadFile(path string) ([]ledger.RawRecord, error) {
	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err = readXLSX(path)
	case ".csv":
		rows, err = readCSV(path)
	default:
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	return toRecords(rows)
}

func toRecords(rows [][]string) ([]ledger.RawRecord, error) {
	if len(rows) == 0 {
		return nil, errors.New("file has no header row")
	}
	index, err := rowstore.HeaderIndex(rows[0])
	if err != nil {
		return nil, err
	}
	out := make([]ledger.RawRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}
		out = append(out, rowstore.FromRow(index, row))
	}
	return out, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close() //nolint:errcheck

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	// #nosec G304 -- path is a file found in the incoming directory.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return rows, nil
}
