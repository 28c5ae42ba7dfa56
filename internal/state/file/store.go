// Package file implements the state store as one JSON file per key, replaced
// with write-to-temp-then-rename.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store keeps documents under a single directory.
type Store struct {
	dir string
}

// New creates a Store rooted at dir, creating it when missing.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Path returns where key is stored.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, key)
}

// Get reads the document for key.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := validKey(key); err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(s.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read state file: %w", err)
	}
	return data, true, nil
}

// Put writes value to a temp file in the same directory, syncs it, then
// renames it over the previous document.
func (s *Store) Put(_ context.Context, key string, value []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, "."+key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.Path(key)); err != nil {
		cleanup()
		return fmt.Errorf("replace state file: %w", err)
	}
	syncDir(s.dir)
	return nil
}

func validKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("invalid state key %q", key)
	}
	return nil
}

// syncDir flushes the rename to disk where the platform allows it.
func syncDir(dir string) {
	d, err := os.Open(dir) // #nosec G304 -- dir is the configured state directory.
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
