// Package checkpoint stores the offset of the first row not yet processed.
package checkpoint

import (
	"context"
	"fmt"

	"github.com/JakeFAU/ledger-batch/internal/state"
)

// Key is the state document that holds the checkpoint.
const Key = "processor_state.json"

type document struct {
	LastProcessedOffset int64 `json:"last_processed_offset"`
}

// Store reads and atomically replaces the checkpoint document.
type Store struct {
	backend state.Store
}

// New creates a checkpoint Store over a state backend.
func New(backend state.Store) *Store {
	return &Store{backend: backend}
}

// Read returns the stored offset, or 0 when no checkpoint exists yet. A
// document that exists but does not decode is reported as corrupt rather than
// silently restarting from zero, which would replay the whole row store.
func (s *Store) Read(ctx context.Context) (int64, error) {
	var doc document
	ok, err := state.GetJSON(ctx, s.backend, Key, &doc)
	if err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}
	if !ok {
		return 0, nil
	}
	if doc.LastProcessedOffset < 0 {
		return 0, fmt.Errorf("read checkpoint: negative offset %d", doc.LastProcessedOffset)
	}
	return doc.LastProcessedOffset, nil
}

// Write replaces the stored offset.
func (s *Store) Write(ctx context.Context, offset int64) error {
	if offset < 0 {
		return fmt.Errorf("write checkpoint: negative offset %d", offset)
	}
	if err := state.PutJSON(ctx, s.backend, Key, document{LastProcessedOffset: offset}); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}
