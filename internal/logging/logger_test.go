// Package logging includes tests for the zap logger helpers.
package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Development: true})
	if err != nil {
		t.Fatalf("New(dev) error = %v", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
}

// TestNewProductionLoggerWritesFile ensures file sinks are created on demand.
func TestNewProductionLoggerWritesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "output", "system.log")
	logger, err := New(Config{Level: "info", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New(prod) error = %v", err)
	}
	logger.Info("production logger ready")
	_ = logger.Sync()

	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "production logger ready") {
		t.Fatalf("expected log line in file, got %q", string(data))
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Level: "chatty"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
