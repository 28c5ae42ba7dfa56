// Package audit keeps the supervisor's append-only job attempt log.
package audit

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/JakeFAU/ledger-batch/internal/ledger"
)

// TimeLayout formats entry timestamps.
const TimeLayout = "2006-01-02 15:04:05"

// Header is written once at the top of a new trail.
var Header = []string{"Timestamp", "Event", "Job", "Details", "AttemptID"}

// Trail appends audit entries to a CSV file.
type Trail struct {
	mu   sync.Mutex
	path string
}

// New returns a Trail writing to path.
func New(path string) *Trail {
	return &Trail{path: path}
}

// Path returns the trail location.
func (t *Trail) Path() string {
	return t.path
}

// Record appends one entry and syncs it to disk.
func (t *Trail) Record(e ledger.AuditEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(t.path), 0o750); err != nil {
		return fmt.Errorf("create audit directory: %w", err)
	}
	info, statErr := os.Stat(t.path)
	fresh := errors.Is(statErr, os.ErrNotExist) || (statErr == nil && info.Size() == 0)

	// #nosec G304 -- the audit path comes from configuration.
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open audit trail: %w", err)
	}
	w := csv.NewWriter(f)
	if fresh {
		_ = w.Write(Header)
	}
	_ = w.Write([]string{
		e.Timestamp.Format(TimeLayout),
		string(e.Event),
		e.Job,
		e.Detail,
		e.AttemptID,
	})
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write audit entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync audit trail: %w", err)
	}
	return f.Close()
}

// Read loads every entry from the trail at path. A missing file yields no
// entries.
func Read(path string) ([]ledger.AuditEntry, error) {
	// #nosec G304 -- the audit path comes from configuration.
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit trail: %w", err)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(Header)
	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read audit header: %w", err)
	}
	var out []ledger.AuditEntry
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("read audit entry: %w", err)
		}
		ts, err := time.ParseInLocation(TimeLayout, rec[0], time.Local)
		if err != nil {
			return out, fmt.Errorf("parse audit timestamp %q: %w", rec[0], err)
		}
		out = append(out, ledger.AuditEntry{
			Timestamp: ts,
			Event:     ledger.AuditEvent(rec[1]),
			Job:       rec[2],
			Detail:    rec[3],
			AttemptID: rec[4],
		})
	}
}
