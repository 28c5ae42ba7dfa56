// Package output writes cleaned transactions to the master CSV and to the
// per-day spreadsheets that feed the archive.
package output

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JakeFAU/ledger-batch/internal/ledger"
)

// TimestampLayout is how transaction times are rendered in every output.
const TimestampLayout = "2006-01-02 15:04:05"

// MasterHeader is the first line of the master output.
var MasterHeader = []string{
	"transaction_id", "transaction_date", "amount", "branch", "transaction_type", "customer_name",
}

// MasterWriter appends to the durable master output.
type MasterWriter struct {
	path string
}

// NewMasterWriter creates a writer for path.
func NewMasterWriter(path string) *MasterWriter {
	return &MasterWriter{path: path}
}

// Path returns the master output location.
func (w *MasterWriter) Path() string {
	return w.path
}

// Append writes txns at the end of the master output. The header is written
// only when the file does not exist yet or is empty. The file is synced before returning
// so the caller may advance the checkpoint afterwards.
func (w *MasterWriter) Append(txns []ledger.Transaction) error {
	if len(txns) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	info, statErr := os.Stat(w.path)
	writeHeader := errors.Is(statErr, os.ErrNotExist) || (statErr == nil && info.Size() == 0)

	// #nosec G304 -- the master path comes from configuration.
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open master output: %w", err)
	}
	cw := csv.NewWriter(f)
	if writeHeader {
		_ = cw.Write(MasterHeader)
	}
	for _, t := range txns {
		_ = cw.Write(row(t))
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write master output: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync master output: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close master output: %w", err)
	}
	return nil
}

func row(t ledger.Transaction) []string {
	return []string{
		t.ID,
		t.Timestamp.Format(TimestampLayout),
		t.Amount.StringFixed(2),
		t.Branch,
		t.Type,
		t.Customer,
	}
}
