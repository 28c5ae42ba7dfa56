package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ledger-batch/internal/audit"
	"github.com/JakeFAU/ledger-batch/internal/clock/fake"
	"github.com/JakeFAU/ledger-batch/internal/feeder"
	"github.com/JakeFAU/ledger-batch/internal/id/uuid"
	"github.com/JakeFAU/ledger-batch/internal/ledger"
	"github.com/JakeFAU/ledger-batch/internal/state/file"
)

type memTrail struct {
	mu      sync.Mutex
	entries []ledger.AuditEntry
	err     error
}

func (m *memTrail) Record(e ledger.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memTrail) events(job string) []ledger.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.AuditEvent
	for _, e := range m.entries {
		if e.Job == job {
			out = append(out, e.Event)
		}
	}
	return out
}

type counter struct {
	mu    sync.Mutex
	calls int
	err   func(call int) error
}

func (c *counter) Run(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err == nil {
		return nil
	}
	return c.err(c.calls)
}

func newTestSupervisor(t *testing.T, trail AuditTrail, clk *fake.Clock, jobs ...Job) *Supervisor {
	t.Helper()
	s, err := New(jobs, trail, clk, uuid.New(), Config{PollInterval: time.Millisecond}, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestTickRunsDueJobsOnIndependentTimers(t *testing.T) {
	clk := fake.New(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	trail := &memTrail{}
	feed := &counter{}
	proc := &counter{}
	s := newTestSupervisor(t, trail, clk,
		Job{Name: "feeder", Interval: time.Minute, Runner: feed},
		Job{Name: "processor", Interval: 3 * time.Minute, Runner: proc},
	)
	ctx := context.Background()

	s.Tick(ctx)
	assert.Equal(t, 1, feed.calls)
	assert.Equal(t, 1, proc.calls)

	s.Tick(ctx)
	assert.Equal(t, 1, feed.calls, "not due yet")

	clk.Advance(time.Minute)
	s.Tick(ctx)
	assert.Equal(t, 2, feed.calls)
	assert.Equal(t, 1, proc.calls)

	clk.Advance(2 * time.Minute)
	s.Tick(ctx)
	assert.Equal(t, 3, feed.calls)
	assert.Equal(t, 2, proc.calls)
}

func TestAuditCompletenessWithFailures(t *testing.T) {
	clk := fake.New(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	trail := &memTrail{}
	flaky := &counter{err: func(call int) error {
		if call%2 == 1 {
			return errors.New("exit code 1: boom")
		}
		return nil
	}}
	steady := &counter{}
	s := newTestSupervisor(t, trail, clk,
		Job{Name: "feeder", Interval: time.Minute, Runner: flaky},
		Job{Name: "processor", Interval: time.Minute, Runner: steady},
	)

	for i := 0; i < 4; i++ {
		s.Tick(context.Background())
		clk.Advance(time.Minute)
	}

	assert.Equal(t, []ledger.AuditEvent{
		ledger.AuditStart, ledger.AuditFailure,
		ledger.AuditStart, ledger.AuditSuccess,
		ledger.AuditStart, ledger.AuditFailure,
		ledger.AuditStart, ledger.AuditSuccess,
	}, trail.events("feeder"))
	assert.Len(t, trail.events("processor"), 8, "a failing job does not stop the other")

	// Every attempt ID has exactly one start followed by one terminal entry.
	byAttempt := make(map[string][]ledger.AuditEvent)
	for _, e := range trail.entries {
		require.NotEmpty(t, e.AttemptID)
		byAttempt[e.AttemptID] = append(byAttempt[e.AttemptID], e.Event)
	}
	assert.Len(t, byAttempt, 8)
	for id, evs := range byAttempt {
		require.Len(t, evs, 2, id)
		assert.Equal(t, ledger.AuditStart, evs[0])
		assert.True(t, evs[1].Terminal())
	}
}

func TestFailureDetailIsTruncated(t *testing.T) {
	clk := fake.New(time.Now())
	trail := &memTrail{}
	long := strings.Repeat("x", 500)
	s := newTestSupervisor(t, trail, clk,
		Job{Name: "processor", Interval: time.Minute, Runner: FuncRunner(func(context.Context) error { return errors.New(long) })},
	)
	s.Tick(context.Background())

	require.Len(t, trail.entries, 2)
	assert.Equal(t, "Error: "+strings.Repeat("x", DefaultDetailLimit)+"...", trail.entries[1].Detail)
}

func TestCriticalClassification(t *testing.T) {
	clk := fake.New(time.Now())
	trail := &memTrail{}
	s := newTestSupervisor(t, trail, clk,
		Job{Name: "panics", Interval: time.Minute, Runner: FuncRunner(func(context.Context) error { panic("nil map") })},
		Job{Name: "missing", Interval: time.Minute, Runner: ExecRunner{Path: filepath.Join(t.TempDir(), "no-such-binary")}},
		Job{Name: "after", Interval: time.Minute, Runner: &counter{}},
	)
	s.Tick(context.Background())

	assert.Equal(t, []ledger.AuditEvent{ledger.AuditStart, ledger.AuditCriticalError}, trail.events("panics"))
	assert.Equal(t, []ledger.AuditEvent{ledger.AuditStart, ledger.AuditCriticalError}, trail.events("missing"))
	assert.Equal(t, []ledger.AuditEvent{ledger.AuditStart, ledger.AuditSuccess}, trail.events("after"))
}

func TestExecRunner(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	err := ExecRunner{Path: "/bin/sh", Args: []string{"-c", "echo disk full >&2; exit 3"}}.Run(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCritical)
	assert.Equal(t, "exit code 3: disk full", err.Error())

	require.NoError(t, ExecRunner{Path: "/bin/sh", Args: []string{"-c", "exit 0"}}.Run(context.Background()))
}

func TestExecRunnerReportsErrorAfterLogOutput(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	script := `for i in 1 2 3 4 5 6 7 8; do echo "2024-01-01T00:00:00Z INFO initializing pipeline services {\"rowstore\": \"sqlite\"}" >&2; done
echo "feed: injected fault" >&2
exit 1`
	err := ExecRunner{Path: "/bin/sh", Args: []string{"-c", script}}.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, "exit code 1: feed: injected fault", err.Error())
}

func TestStopIsObservedBetweenJobs(t *testing.T) {
	clk := fake.New(time.Now())
	trail := &memTrail{}
	ctx, cancel := context.WithCancel(context.Background())
	var jobCtxErr error
	first := FuncRunner(func(jobCtx context.Context) error {
		cancel()
		jobCtxErr = jobCtx.Err()
		return nil
	})
	second := &counter{}
	s := newTestSupervisor(t, trail, clk,
		Job{Name: "feeder", Interval: time.Minute, Runner: first},
		Job{Name: "processor", Interval: time.Minute, Runner: second},
	)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}

	assert.NoError(t, jobCtxErr, "an in-flight job is not cancelled")
	assert.Equal(t, []ledger.AuditEvent{ledger.AuditStart, ledger.AuditSuccess}, trail.events("feeder"))
	assert.Zero(t, second.calls)
}

func TestAuditWriteFailureDoesNotStopJobs(t *testing.T) {
	clk := fake.New(time.Now())
	job := &counter{}
	s := newTestSupervisor(t, &memTrail{err: errors.New("read-only fs")}, clk,
		Job{Name: "processor", Interval: time.Minute, Runner: job})
	s.Tick(context.Background())
	assert.Equal(t, 1, job.calls)
}

func TestCrashSentinelFailsExactlyOnce(t *testing.T) {
	root := t.TempDir()
	st, err := file.New(filepath.Join(root, "state"))
	require.NoError(t, err)
	crash := filepath.Join(root, "crash.txt")
	f, err := feeder.New(st, feeder.Config{
		StartDate:    "2024-01-01",
		EndDate:      "2024-12-31",
		RowsPerMonth: 3,
		CrashFile:    crash,
		IncomingDir:  filepath.Join(root, "incoming"),
	}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(crash, nil, 0o600))

	clk := fake.New(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	trailPath := filepath.Join(root, "output", "supervisor_audit.csv")
	s := newTestSupervisor(t, audit.New(trailPath), clk, Job{
		Name:     "feeder",
		Interval: time.Minute,
		Runner: FuncRunner(func(ctx context.Context) error {
			_, err := f.Run(ctx)
			return err
		}),
	})

	for i := 0; i < 3; i++ {
		s.Tick(context.Background())
		clk.Advance(time.Minute)
	}

	entries, err := audit.Read(trailPath)
	require.NoError(t, err)
	var terminal []ledger.AuditEvent
	for _, e := range entries {
		if e.Event.Terminal() {
			terminal = append(terminal, e.Event)
		}
	}
	assert.Equal(t, []ledger.AuditEvent{ledger.AuditFailure, ledger.AuditSuccess, ledger.AuditSuccess}, terminal)
	assert.FileExists(t, filepath.Join(root, "incoming", "Bank_Data_2024-01.xlsx"))
	assert.FileExists(t, filepath.Join(root, "incoming", "Bank_Data_2024-02.xlsx"))
}

func TestNewValidation(t *testing.T) {
	clk := fake.New(time.Now())
	_, err := New([]Job{{Name: "a", Interval: time.Second, Runner: &counter{}}, {Name: "a", Interval: time.Second, Runner: &counter{}}}, nil, clk, uuid.New(), Config{}, nil)
	assert.Error(t, err)
	_, err = New([]Job{{Name: "a", Runner: &counter{}}}, nil, clk, uuid.New(), Config{}, nil)
	assert.Error(t, err)
	_, err = New([]Job{{Name: "a", Interval: time.Second}}, nil, clk, uuid.New(), Config{}, nil)
	assert.Error(t, err)
}
