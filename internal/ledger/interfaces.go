package ledger

import (
	"context"
	"time"
)

// RowSource gives paged read access to the durable row store.
type RowSource interface {
	Count(ctx context.Context) (int64, error)
	Fetch(ctx context.Context, offset, limit int64) ([]RawRecord, error)
}

// RowSink absorbs newly ingested records into the row store.
type RowSink interface {
	Append(ctx context.Context, records []RawRecord) (int, error)
}

// Validator splits a chunk into valid and invalid rows. Implementations must be
// pure: the same chunk always yields the same result.
type Validator interface {
	Validate(chunk []RawRecord) ([]Transaction, []Rejection, ValidationReport)
}

// ValidatorFunc adapts a plain function to the Validator interface.
type ValidatorFunc func(chunk []RawRecord) ([]Transaction, []Rejection, ValidationReport)

// Validate calls f.
func (f ValidatorFunc) Validate(chunk []RawRecord) ([]Transaction, []Rejection, ValidationReport) {
	return f(chunk)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and attempt IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Notifier pushes run events to Pub/Sub (or similar).
type Notifier interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
