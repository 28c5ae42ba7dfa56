// Package state defines the small durable key-value store that holds pipeline
// state documents (checkpoint, feeder position, run summary).
package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/ledger-batch/internal/ledger"
)

// Store persists whole documents by key. Put must replace the previous value
// atomically: a crash leaves either the old or the new document, never a mix.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// GetJSON loads key into v. It reports false when the key is absent and wraps
// ledger.ErrCorruptState when the stored bytes do not decode.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	data, ok, err := s.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("decode %s: %w: %v", key, ledger.ErrCorruptState, err)
	}
	return true, nil
}

// PutJSON encodes v and stores it under key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.Put(ctx, key, data); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
