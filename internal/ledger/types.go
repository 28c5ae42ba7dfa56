// Package ledger defines core types shared across the batch pipeline.
package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrCorruptState marks a durable state document that exists but cannot be decoded.
var ErrCorruptState = errors.New("corrupt state document")

// RawRecord is one transaction row exactly as held by the row store. Values are
// kept as text because nothing has been validated yet.
type RawRecord struct {
	RowID           int64  `json:"row_id"`
	TransactionID   string `json:"transaction_id"`
	TransactionDate string `json:"transaction_date"`
	Amount          string `json:"amount"`
	Branch          string `json:"branch"`
	TransactionType string `json:"transaction_type"`
	CustomerName    string `json:"customer_name"`
}

// Transaction is a validated, cleaned record ready for output.
type Transaction struct {
	ID        string          `json:"transaction_id"`
	Timestamp time.Time       `json:"transaction_date"`
	Amount    decimal.Decimal `json:"amount"`
	Branch    string          `json:"branch"`
	Type      string          `json:"transaction_type"`
	Customer  string          `json:"customer_name"`
}

// Rejection pairs an invalid record with the reason it was discarded.
type Rejection struct {
	Record RawRecord
	Reason string
}

// ValidationReport summarizes one chunk. ValidRows+InvalidRows always equals TotalRows.
type ValidationReport struct {
	TotalRows   int
	ValidRows   int
	InvalidRows int
	Errors      []string
}

// Summary holds running totals persisted by the reporter.
type Summary struct {
	TotalProcessed int64    `json:"total_processed"`
	TotalValid     int64    `json:"total_valid"`
	TotalInvalid   int64    `json:"total_invalid"`
	ErrorsLog      []string `json:"errors_log"`
}

// AuditEvent is the outcome kind of an audit entry.
type AuditEvent string

// Audit events written by the supervisor.
const (
	AuditStart         AuditEvent = "START"
	AuditSuccess       AuditEvent = "SUCCESS"
	AuditFailure       AuditEvent = "FAILURE"
	AuditCriticalError AuditEvent = "CRITICAL_ERROR"
)

// Terminal reports whether the event closes a job attempt.
func (e AuditEvent) Terminal() bool {
	return e == AuditSuccess || e == AuditFailure || e == AuditCriticalError
}

// AuditEntry records one step of a supervised job attempt.
type AuditEntry struct {
	Timestamp time.Time
	Event     AuditEvent
	Job       string
	Detail    string
	AttemptID string
}

// RunCompleted is published after a batch run advances the checkpoint.
type RunCompleted struct {
	RunID       string    `json:"run_id"`
	StartOffset int64     `json:"start_offset"`
	EndOffset   int64     `json:"end_offset"`
	ValidRows   int       `json:"valid_rows"`
	InvalidRows int       `json:"invalid_rows"`
	FinishedAt  time.Time `json:"finished_at"`
}
