package feeder

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/ledger-batch/internal/state"
	"github.com/JakeFAU/ledger-batch/internal/state/file"
)

func newTestFeeder(t *testing.T) (*Feeder, *file.Store, Config) {
	t.Helper()
	root := t.TempDir()
	st, err := file.New(filepath.Join(root, "state"))
	require.NoError(t, err)
	cfg := Config{
		StartDate:    "2024-01-01",
		EndDate:      "2024-12-31",
		RowsPerMonth: 25,
		DirtyEvery:   10,
		CrashFile:    filepath.Join(root, "crash.txt"),
		IncomingDir:  filepath.Join(root, "raw_data", "incoming"),
	}
	f, err := New(st, cfg, zap.NewNop())
	require.NoError(t, err)
	return f, st, cfg
}

func currentDate(t *testing.T, st state.Store) string {
	t.Helper()
	var doc document
	ok, err := state.GetJSON(context.Background(), st, StateKey, &doc)
	require.NoError(t, err)
	require.True(t, ok)
	return doc.CurrentDate
}

func TestRunWritesMonthAndAdvances(t *testing.T) {
	f, st, cfg := newTestFeeder(t)

	res, err := f.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024-01", res.Month)
	assert.False(t, res.Wrapped)
	assert.Equal(t, filepath.Join(cfg.IncomingDir, "Bank_Data_2024-01.xlsx"), res.Path)
	assert.Equal(t, "2024-02-01", currentDate(t, st))

	wb, err := excelize.OpenFile(res.Path)
	require.NoError(t, err)
	defer wb.Close() //nolint:errcheck
	rows, err := wb.GetRows(wb.GetSheetName(0))
	require.NoError(t, err)
	require.Len(t, rows, 26)
	assert.Equal(t, "Transaction_ID", rows[0][0])
	assert.Equal(t, "TXN-202401-00001", rows[1][0])
	assert.Contains(t, rows[1][1], "2024-01-")
	assert.Empty(t, rows[10][3], "every tenth row has no branch")

	entries, err := os.ReadDir(cfg.IncomingDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp workbook left behind")

	res, err = f.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024-02", res.Month)
	assert.Equal(t, "2024-03-01", currentDate(t, st))
}

func TestRunWrapsAtEndDate(t *testing.T) {
	f, st, _ := newTestFeeder(t)
	require.NoError(t, state.PutJSON(context.Background(), st, StateKey, document{CurrentDate: "2024-12-31"}))

	res, err := f.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Wrapped)
	assert.Equal(t, "2024-01", res.Month)
	assert.Equal(t, "2024-02-01", currentDate(t, st))
}

func TestRunLastMonthBeforeEnd(t *testing.T) {
	f, st, _ := newTestFeeder(t)
	require.NoError(t, state.PutJSON(context.Background(), st, StateKey, document{CurrentDate: "2024-12-01"}))

	res, err := f.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024-12", res.Month)
	assert.Equal(t, "2025-01-01", currentDate(t, st))

	res, err = f.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Wrapped)
}

func TestRunCrashSentinelConsumedOnce(t *testing.T) {
	f, st, cfg := newTestFeeder(t)
	require.NoError(t, os.WriteFile(cfg.CrashFile, nil, 0o600))

	_, err := f.Run(context.Background())
	require.ErrorIs(t, err, ErrInjectedFault)
	assert.NoFileExists(t, cfg.CrashFile)
	_, ok, err := st.Get(context.Background(), StateKey)
	require.NoError(t, err)
	assert.False(t, ok, "a failed run does not advance the calendar")

	res, err := f.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024-01", res.Month)
}

func TestRunCorruptStateRestarts(t *testing.T) {
	f, st, _ := newTestFeeder(t)
	require.NoError(t, st.Put(context.Background(), StateKey, []byte("garbage")))

	res, err := f.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024-01", res.Month)
}

func TestNewValidation(t *testing.T) {
	st, err := file.New(t.TempDir())
	require.NoError(t, err)
	good := Config{StartDate: "2024-01-01", EndDate: "2024-12-31", RowsPerMonth: 1, IncomingDir: "in"}

	cases := map[string]func(c *Config){
		"bad start":            func(c *Config) { c.StartDate = "01/01/2024" },
		"bad end":              func(c *Config) { c.EndDate = "" },
		"start not before end": func(c *Config) { c.StartDate = "2025-01-01" },
		"no rows":              func(c *Config) { c.RowsPerMonth = 0 },
		"no incoming":          func(c *Config) { c.IncomingDir = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := good
			mutate(&cfg)
			_, err := New(st, cfg, nil)
			assert.Error(t, err)
		})
	}
}
