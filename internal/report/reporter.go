// Package report accumulates validation statistics and keeps the discard log.
package report

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/ledger-batch/internal/ledger"
	"github.com/JakeFAU/ledger-batch/internal/state"
)

// SummaryKey is the document the running totals are written to.
const SummaryKey = "cleaning_summary.json"

// DiscardHeader is written once at the top of the discard log.
var DiscardHeader = []string{
	"row_id", "transaction_id", "transaction_date", "amount",
	"branch", "transaction_type", "customer_name", "reason",
}

// Reporter owns the running totals and the discard log.
type Reporter struct {
	mu          sync.Mutex
	store       state.Store
	discardPath string
	summary     ledger.Summary
	logger      *zap.Logger
}

// New creates a Reporter with zeroed totals. Totals cover the lifetime of
// the process: every SaveSummary overwrites the document with them, and a
// restart begins again from zero.
func New(store state.Store, discardPath string, logger *zap.Logger) (*Reporter, error) {
	if store == nil {
		return nil, fmt.Errorf("summary store is required")
	}
	if discardPath == "" {
		return nil, fmt.Errorf("discard log path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		store:       store,
		discardPath: discardPath,
		summary:     ledger.Summary{ErrorsLog: []string{}},
		logger:      logger,
	}, nil
}

// Update folds one chunk report into the totals.
func (r *Reporter) Update(rep ledger.ValidationReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.TotalProcessed += int64(rep.TotalRows)
	r.summary.TotalValid += int64(rep.ValidRows)
	r.summary.TotalInvalid += int64(rep.InvalidRows)
	r.summary.ErrorsLog = append(r.summary.ErrorsLog, rep.Errors...)
}

// LogDiscards appends rejected rows to the discard log.
func (r *Reporter) LogDiscards(rejections []ledger.Rejection) error {
	if len(rejections) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.discardPath), 0o750); err != nil {
		return fmt.Errorf("create discard directory: %w", err)
	}
	writeHeader := false
	if info, err := os.Stat(r.discardPath); errors.Is(err, os.ErrNotExist) || (err == nil && info.Size() == 0) {
		writeHeader = true
	}
	// #nosec G304 -- the discard path comes from configuration.
	f, err := os.OpenFile(r.discardPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open discard log: %w", err)
	}
	w := csv.NewWriter(f)
	if writeHeader {
		_ = w.Write(DiscardHeader)
	}
	for _, rej := range rejections {
		rec := rej.Record
		_ = w.Write([]string{
			strconv.FormatInt(rec.RowID, 10),
			rec.TransactionID,
			rec.TransactionDate,
			rec.Amount,
			rec.Branch,
			rec.TransactionType,
			rec.CustomerName,
			rej.Reason,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write discard log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close discard log: %w", err)
	}
	return nil
}

// Summary returns a copy of the current totals.
func (r *Reporter) Summary() ledger.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.summary
	out.ErrorsLog = append([]string{}, r.summary.ErrorsLog...)
	return out
}

// SaveSummary overwrites the summary document with the current totals.
func (r *Reporter) SaveSummary(ctx context.Context) error {
	snapshot := r.Summary()
	if err := state.PutJSON(ctx, r.store, SummaryKey, snapshot); err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	r.logger.Info("cleaning summary saved",
		zap.Int64("total_processed", snapshot.TotalProcessed),
		zap.Int64("total_valid", snapshot.TotalValid),
		zap.Int64("total_invalid", snapshot.TotalInvalid))
	return nil
}
