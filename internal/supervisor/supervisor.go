// Package supervisor drives the feeder and processor jobs on independent
// timers and records every attempt in the audit trail.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ledger-batch/internal/ledger"
	"github.com/JakeFAU/ledger-batch/internal/metrics"
)

// DefaultDetailLimit bounds the failure text kept in the audit trail.
const DefaultDetailLimit = 200

// Job is a named unit of work run every Interval.
type Job struct {
	Name     string
	Interval time.Duration
	Runner   Runner
}

// AuditTrail records job attempts.
type AuditTrail interface {
	Record(e ledger.AuditEntry) error
}

// Config controls the control loop.
type Config struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	DetailLimit  int           `mapstructure:"detail_limit"`
}

// Supervisor runs jobs one at a time from a single loop.
type Supervisor struct {
	jobs    []Job
	lastRun map[string]time.Time
	trail   AuditTrail
	clock   ledger.Clock
	ids     ledger.IDGenerator
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Supervisor. Jobs run in the order given when due on the
// same tick.
func New(jobs []Job, trail AuditTrail, clock ledger.Clock, ids ledger.IDGenerator, cfg Config, logger *zap.Logger) (*Supervisor, error) {
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if j.Name == "" || j.Runner == nil {
			return nil, fmt.Errorf("job requires a name and a runner")
		}
		if j.Interval <= 0 {
			return nil, fmt.Errorf("job %s: interval must be > 0", j.Name)
		}
		if seen[j.Name] {
			return nil, fmt.Errorf("duplicate job %s", j.Name)
		}
		seen[j.Name] = true
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.DetailLimit <= 0 {
		cfg.DetailLimit = DefaultDetailLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		jobs:    jobs,
		lastRun: make(map[string]time.Time, len(jobs)),
		trail:   trail,
		clock:   clock,
		ids:     ids,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Run loops until ctx is done. The stop request is observed between jobs
// and between ticks; a running job is always allowed to finish.
func (s *Supervisor) Run(ctx context.Context) error {
	fields := []zap.Field{zap.Duration("poll_interval", s.cfg.PollInterval)}
	for _, j := range s.jobs {
		fields = append(fields, zap.Duration(j.Name+"_interval", j.Interval))
	}
	s.logger.Info("supervisor started", fields...)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("supervisor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs every job whose interval has elapsed. A job's timer restarts
// when the attempt ends, whatever its outcome.
func (s *Supervisor) Tick(ctx context.Context) {
	for _, j := range s.jobs {
		if ctx.Err() != nil {
			return
		}
		last, ran := s.lastRun[j.Name]
		if ran && s.clock.Now().Sub(last) < j.Interval {
			continue
		}
		s.runJob(ctx, j)
		s.lastRun[j.Name] = s.clock.Now()
	}
}

func (s *Supervisor) runJob(ctx context.Context, j Job) {
	attemptID, err := s.ids.NewID()
	if err != nil {
		s.logger.Warn("attempt id unavailable", zap.String("job", j.Name), zap.Error(err))
	}
	logger := s.logger.With(zap.String("job", j.Name), zap.String("attempt_id", attemptID))

	logger.Info("starting job")
	s.record(logger, ledger.AuditStart, j.Name, "Attempting run", attemptID)

	start := s.clock.Now()
	err = invoke(context.WithoutCancel(ctx), j.Runner)
	elapsed := s.clock.Now().Sub(start)

	var event ledger.AuditEvent
	var detail string
	switch {
	case err == nil:
		event = ledger.AuditSuccess
		detail = "Completed successfully"
		logger.Info("job succeeded", zap.Duration("elapsed", elapsed))
	case errors.Is(err, ErrCritical):
		event = ledger.AuditCriticalError
		detail = truncate(err.Error(), s.cfg.DetailLimit)
		logger.Error("job could not be run", zap.Error(err))
	default:
		event = ledger.AuditFailure
		detail = "Error: " + truncate(err.Error(), s.cfg.DetailLimit)
		logger.Error("job failed", zap.Duration("elapsed", elapsed), zap.Error(err))
	}
	metrics.ObserveJob(j.Name, string(event), elapsed)
	s.record(logger, event, j.Name, detail, attemptID)
}

// invoke converts a panicking job into a critical error.
func invoke(ctx context.Context, r Runner) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", ErrCritical, p)
		}
	}()
	return r.Run(ctx)
}

func (s *Supervisor) record(logger *zap.Logger, event ledger.AuditEvent, job, detail, attemptID string) {
	if s.trail == nil {
		return
	}
	err := s.trail.Record(ledger.AuditEntry{
		Timestamp: s.clock.Now(),
		Event:     event,
		Job:       job,
		Detail:    detail,
		AttemptID: attemptID,
	})
	if err != nil {
		logger.Warn("audit write failed", zap.String("event", string(event)), zap.Error(err))
	}
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
