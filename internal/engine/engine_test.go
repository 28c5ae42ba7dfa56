package engine

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ledger-batch/internal/archive"
	"github.com/JakeFAU/ledger-batch/internal/checkpoint"
	"github.com/JakeFAU/ledger-batch/internal/clock/fake"
	"github.com/JakeFAU/ledger-batch/internal/id/uuid"
	"github.com/JakeFAU/ledger-batch/internal/ledger"
	"github.com/JakeFAU/ledger-batch/internal/notify/memory"
	"github.com/JakeFAU/ledger-batch/internal/output"
	"github.com/JakeFAU/ledger-batch/internal/report"
	"github.com/JakeFAU/ledger-batch/internal/state"
	"github.com/JakeFAU/ledger-batch/internal/state/file"
)

// memSource serves rows from a slice. failAt makes Fetch fail at that offset.
type memSource struct {
	rows    []ledger.RawRecord
	failAt  int64
	fetches []int64
}

func (s *memSource) Count(context.Context) (int64, error) {
	return int64(len(s.rows)), nil
}

func (s *memSource) Fetch(_ context.Context, offset, limit int64) ([]ledger.RawRecord, error) {
	s.fetches = append(s.fetches, offset)
	if s.failAt >= 0 && offset == s.failAt {
		return nil, errors.New("connection reset")
	}
	if offset >= int64(len(s.rows)) {
		return nil, nil
	}
	end := min(offset+limit, int64(len(s.rows)))
	return s.rows[offset:end], nil
}

func makeRows(n int) []ledger.RawRecord {
	rows := make([]ledger.RawRecord, n)
	base := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	for i := range rows {
		amount := "12.50"
		if i%10 == 9 {
			amount = "bad"
		}
		rows[i] = ledger.RawRecord{
			RowID:           int64(i + 1),
			TransactionID:   fmt.Sprintf("TXN%05d", i),
			TransactionDate: base.Add(time.Duration(i%3) * 24 * time.Hour).Format(output.TimestampLayout),
			Amount:          amount,
			Branch:          "London",
			TransactionType: "Credit",
			CustomerName:    "Customer",
		}
	}
	return rows
}

// stubValidator rejects rows whose amount does not parse.
var stubValidator = ledger.ValidatorFunc(func(chunk []ledger.RawRecord) ([]ledger.Transaction, []ledger.Rejection, ledger.ValidationReport) {
	var good []ledger.Transaction
	var bad []ledger.Rejection
	rep := ledger.ValidationReport{TotalRows: len(chunk)}
	for _, r := range chunk {
		amt, err := decimal.NewFromString(r.Amount)
		ts, tErr := time.Parse(output.TimestampLayout, r.TransactionDate)
		if err != nil || tErr != nil {
			bad = append(bad, ledger.Rejection{Record: r, Reason: "invalid amount"})
			rep.Errors = append(rep.Errors, fmt.Sprintf("row %d: invalid amount", r.RowID))
			continue
		}
		good = append(good, ledger.Transaction{
			ID: r.TransactionID, Timestamp: ts, Amount: amt,
			Branch: r.Branch, Type: r.TransactionType, Customer: r.CustomerName,
		})
	}
	rep.ValidRows = len(good)
	rep.InvalidRows = len(bad)
	return good, bad, rep
})

type harness struct {
	dir      string
	state    *file.Store
	notifier *memory.Notifier
	cfg      archive.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	st, err := file.New(filepath.Join(dir, "state"))
	require.NoError(t, err)
	return &harness{
		dir:      dir,
		state:    st,
		notifier: memory.New(),
		cfg: archive.Config{
			DailyDir:   filepath.Join(dir, "output", "daily_reports"),
			WeeklyDir:  filepath.Join(dir, "output", "weekly_archives"),
			MonthlyDir: filepath.Join(dir, "output", "monthly_archives"),
		},
	}
}

// engine builds a fresh engine as a new process would.
func (h *harness) engine(t *testing.T, src ledger.RowSource, chunk int64) *Engine {
	t.Helper()
	rep, err := report.New(h.state, filepath.Join(h.dir, "output", "discarded_rows.csv"), zap.NewNop())
	require.NoError(t, err)
	return New(
		src,
		stubValidator,
		checkpoint.New(h.state),
		rep,
		output.NewMasterWriter(filepath.Join(h.dir, "output", "master_clean_data.csv")),
		output.NewDailyWriter(h.cfg.DailyDir, zap.NewNop()),
		archive.NewPackager(h.cfg, nil, zap.NewNop()),
		h.notifier,
		fake.New(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)),
		uuid.New(),
		Config{ChunkSize: chunk, Topic: "ledger-runs"},
		zap.NewNop(),
	)
}

func (h *harness) offset(t *testing.T) int64 {
	t.Helper()
	o, err := checkpoint.New(h.state).Read(context.Background())
	require.NoError(t, err)
	return o
}

func (h *harness) summary(t *testing.T) ledger.Summary {
	t.Helper()
	var s ledger.Summary
	ok, err := state.GetJSON(context.Background(), h.state, report.SummaryKey, &s)
	require.NoError(t, err)
	require.True(t, ok)
	return s
}

func (h *harness) masterRows(t *testing.T) int {
	t.Helper()
	f, err := os.Open(filepath.Join(h.dir, "output", "master_clean_data.csv"))
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return len(rows) - 1
}

func TestRunProcessesAllChunks(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	src := &memSource{rows: makeRows(2500), failAt: -1}

	res, err := h.engine(t, src, 1000).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{0, 1000, 2000}, src.fetches)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, int64(2500), res.EndOffset)
	assert.Equal(t, 2250, res.Valid)
	assert.Equal(t, 250, res.Invalid)
	assert.Equal(t, int64(2500), h.offset(t))

	s := h.summary(t)
	assert.Equal(t, int64(2500), s.TotalProcessed)
	assert.Equal(t, int64(2250), s.TotalValid)
	assert.Equal(t, int64(250), s.TotalInvalid)
	assert.Equal(t, 2250, h.masterRows(t))

	assert.FileExists(t, filepath.Join(h.cfg.WeeklyDir, "Weekly_Report_2024-W01.zip"))
	assert.FileExists(t, filepath.Join(h.cfg.MonthlyDir, "Monthly_Report_2024-01.zip"))

	msgs := h.notifier.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "ledger-runs", msgs[0].Topic)
	done, ok := msgs[0].Payload.(ledger.RunCompleted)
	require.True(t, ok)
	assert.Equal(t, int64(0), done.StartOffset)
	assert.Equal(t, int64(2500), done.EndOffset)
}

func TestRunIsIdempotentOnResume(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	src := &memSource{rows: makeRows(120), failAt: -1}

	_, err := h.engine(t, src, 50).Run(context.Background())
	require.NoError(t, err)
	first := h.summary(t)

	res, err := h.engine(t, src, 50).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.NothingToDo)
	assert.Equal(t, first, h.summary(t))
	assert.Equal(t, 108, h.masterRows(t))
	assert.Len(t, h.notifier.Messages(), 1)
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	src := &memSource{rows: makeRows(30), failAt: -1}
	_, err := h.engine(t, src, 10).Run(context.Background())
	require.NoError(t, err)

	src.rows = append(src.rows, makeRows(15)...)
	src.fetches = nil
	res, err := h.engine(t, src, 10).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{30, 40}, src.fetches)
	assert.Equal(t, int64(30), res.StartOffset)
	assert.Equal(t, int64(45), h.offset(t))
	assert.Equal(t, int64(15), h.summary(t).TotalProcessed, "a new process reports only its own rows")
}

func TestRunFetchErrorTruncates(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	src := &memSource{rows: makeRows(2500), failAt: 1000}

	res, err := h.engine(t, src, 1000).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, int64(1000), res.EndOffset)
	assert.Equal(t, int64(1000), h.offset(t))
	assert.Equal(t, int64(1000), h.summary(t).TotalProcessed)

	// The next run picks up where the failed fetch left off.
	src.failAt = -1
	src.fetches = nil
	_, err = h.engine(t, src, 1000).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1000, 2000}, src.fetches)
	assert.Equal(t, int64(2500), h.offset(t))
}

func TestRunShortStoreStopsAtEmptyChunk(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	src := &shortSource{memSource: memSource{rows: makeRows(25), failAt: -1}, claimed: 40}

	res, err := h.engine(t, src, 10).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Truncated)
	assert.Equal(t, int64(25), res.EndOffset)
	assert.Equal(t, int64(25), h.offset(t))
}

// shortSource reports more rows than it can serve.
type shortSource struct {
	memSource
	claimed int64
}

func (s *shortSource) Count(context.Context) (int64, error) { return s.claimed, nil }

// growingSource has rows appended after Count was taken.
type growingSource struct {
	memSource
	counted int64
}

func (s *growingSource) Count(context.Context) (int64, error) { return s.counted, nil }

func TestRunStopsAtCountTakenAtStart(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	src := &growingSource{memSource: memSource{rows: makeRows(3000), failAt: -1}, counted: 2500}

	res, err := h.engine(t, src, 1000).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1000, 2000}, src.fetches)
	assert.Equal(t, int64(2500), res.EndOffset)
	assert.Equal(t, int64(2500), h.offset(t))
	assert.Equal(t, int64(2500), h.summary(t).TotalProcessed)

	// The late rows are picked up by the following run.
	src.counted = 3000
	src.fetches = nil
	res, err = h.engine(t, src, 1000).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{2500}, src.fetches)
	assert.Equal(t, int64(3000), h.offset(t))
	assert.Equal(t, 1, res.Chunks)
}

func TestRunAllInvalidStillAdvances(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rows := makeRows(5)
	for i := range rows {
		rows[i].Amount = "n/a"
	}
	src := &memSource{rows: rows, failAt: -1}

	res, err := h.engine(t, src, 10).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Invalid)
	assert.Equal(t, int64(5), h.offset(t))
	assert.NoFileExists(t, filepath.Join(h.dir, "output", "master_clean_data.csv"))
	assert.FileExists(t, filepath.Join(h.dir, "output", "discarded_rows.csv"))
}

func TestRunNothingToDoDoesNotWrite(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	res, err := h.engine(t, &memSource{failAt: -1}, 10).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.NothingToDo)
	assert.NoFileExists(t, h.state.Path(checkpoint.Key))
	assert.NoFileExists(t, h.state.Path(report.SummaryKey))
}

func TestRunCorruptCheckpointAborts(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.state.Put(context.Background(), checkpoint.Key, []byte("{not json")))

	_, err := h.engine(t, &memSource{rows: makeRows(3), failAt: -1}, 10).Run(context.Background())
	require.ErrorIs(t, err, ledger.ErrCorruptState)
	assert.NoFileExists(t, filepath.Join(h.dir, "output", "master_clean_data.csv"))
}

// failingMaster simulates a crash between output and checkpoint.
type failingMaster struct{}

func (failingMaster) Append([]ledger.Transaction) error { return errors.New("disk full") }

func TestRunOutputFailureKeepsCheckpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	e := h.engine(t, &memSource{rows: makeRows(20), failAt: -1}, 10)
	e.master = failingMaster{}

	_, err := e.Run(context.Background())
	require.ErrorContains(t, err, "disk full")
	assert.Equal(t, int64(0), h.offset(t))
	assert.Empty(t, h.notifier.Messages())
}

func TestRunNotificationFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.notifier.FailWith(errors.New("bus down"))
	res, err := h.engine(t, &memSource{rows: makeRows(4), failAt: -1}, 10).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.EndOffset)
}
