// Package engine runs the resumable batch: it reads unprocessed rows from the
// row store in chunks, validates them, writes the results and archives, and
// only then advances the checkpoint.
package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/ledger-batch/internal/ledger"
	"github.com/JakeFAU/ledger-batch/internal/metrics"
	"github.com/JakeFAU/ledger-batch/internal/output"
)

// DefaultChunkSize is used when Config.ChunkSize is not positive.
const DefaultChunkSize = 1000

// Checkpoint persists the processing offset.
type Checkpoint interface {
	Read(ctx context.Context) (int64, error)
	Write(ctx context.Context, offset int64) error
}

// Reporter accumulates totals and rejected rows.
type Reporter interface {
	Update(rep ledger.ValidationReport)
	LogDiscards(rejections []ledger.Rejection) error
	SaveSummary(ctx context.Context) error
}

// MasterOutput is the durable append-only output.
type MasterOutput interface {
	Append(txns []ledger.Transaction) error
}

// DailyOutput writes per-day artifacts.
type DailyOutput interface {
	Write(txns []ledger.Transaction) ([]output.DailyArtifact, error)
}

// Packager rebuilds the archive hierarchy.
type Packager interface {
	PackageByMonth(ctx context.Context) ([]string, error)
}

// Config controls Engine behavior.
type Config struct {
	ChunkSize int64  `mapstructure:"chunk_size"`
	Topic     string `mapstructure:"topic"`
}

// Result describes one run.
type Result struct {
	RunID       string
	StartOffset int64
	EndOffset   int64
	Total       int64
	Chunks      int
	Valid       int
	Invalid     int
	// Truncated is set when a fetch failed and the run stopped early.
	Truncated   bool
	NothingToDo bool
}

// Engine is the batch processor.
type Engine struct {
	source     ledger.RowSource
	validator  ledger.Validator
	checkpoint Checkpoint
	reporter   Reporter
	master     MasterOutput
	daily      DailyOutput
	packager   Packager
	notifier   ledger.Notifier
	clock      ledger.Clock
	ids        ledger.IDGenerator
	cfg        Config
	logger     *zap.Logger
}

// New constructs an Engine. notifier may be nil.
func New(
	source ledger.RowSource,
	validator ledger.Validator,
	checkpoint Checkpoint,
	reporter Reporter,
	master MasterOutput,
	daily DailyOutput,
	packager Packager,
	notifier ledger.Notifier,
	clock ledger.Clock,
	ids ledger.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		source:     source,
		validator:  validator,
		checkpoint: checkpoint,
		reporter:   reporter,
		master:     master,
		daily:      daily,
		packager:   packager,
		notifier:   notifier,
		clock:      clock,
		ids:        ids,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run processes every row past the checkpoint. Outputs and archives are
// written before the checkpoint moves, so a crash in between replays rows
// rather than losing them.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	runID, err := e.ids.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := e.logger.With(zap.String("run_id", runID))

	offset, err := e.checkpoint.Read(ctx)
	if err != nil {
		metrics.ObserveEngineRun("error")
		return Result{RunID: runID}, fmt.Errorf("read checkpoint: %w", err)
	}
	total, err := e.source.Count(ctx)
	if err != nil {
		metrics.ObserveEngineRun("error")
		return Result{RunID: runID}, fmt.Errorf("count rows: %w", err)
	}
	res := Result{RunID: runID, StartOffset: offset, EndOffset: offset, Total: total}
	logger.Info("batch run starting", zap.Int64("offset", offset), zap.Int64("total", total))

	if offset >= total {
		logger.Info("no new data to process")
		res.NothingToDo = true
		metrics.ObserveEngineRun("idle")
		return res, nil
	}

	var valid []ledger.Transaction
	pos := offset
	for pos < total {
		if ctx.Err() != nil {
			logger.Warn("run interrupted; keeping progress so far", zap.Int64("offset", pos))
			res.Truncated = true
			break
		}
		// Rows appended after Count belong to the next run.
		chunk, err := e.source.Fetch(ctx, pos, min(e.cfg.ChunkSize, total-pos))
		if err != nil {
			logger.Error("fetch failed; ending run early", zap.Int64("offset", pos), zap.Error(err))
			res.Truncated = true
			break
		}
		if rest := total - pos; int64(len(chunk)) > rest {
			chunk = chunk[:rest]
		}
		if len(chunk) == 0 {
			logger.Warn("row store returned no rows before expected end",
				zap.Int64("offset", pos), zap.Int64("total", total))
			break
		}

		good, bad, rep := e.validator.Validate(chunk)
		e.reporter.Update(rep)
		if err := e.reporter.LogDiscards(bad); err != nil {
			metrics.ObserveEngineRun("error")
			return res, fmt.Errorf("log discards: %w", err)
		}
		valid = append(valid, good...)
		metrics.ObserveRows(rep.ValidRows, rep.InvalidRows)

		res.Chunks++
		res.Valid += rep.ValidRows
		res.Invalid += rep.InvalidRows
		pos += int64(len(chunk))
		logger.Debug("chunk processed",
			zap.Int("rows", len(chunk)), zap.Int("valid", rep.ValidRows), zap.Int64("offset", pos))
	}

	if len(valid) > 0 {
		if err := e.master.Append(valid); err != nil {
			metrics.ObserveEngineRun("error")
			return res, fmt.Errorf("append master output: %w", err)
		}
		if _, err := e.daily.Write(valid); err != nil {
			metrics.ObserveEngineRun("error")
			return res, fmt.Errorf("write daily reports: %w", err)
		}
		if _, err := e.packager.PackageByMonth(ctx); err != nil {
			metrics.ObserveEngineRun("error")
			return res, fmt.Errorf("package archives: %w", err)
		}
	}

	if pos > offset {
		if err := e.checkpoint.Write(ctx, pos); err != nil {
			metrics.ObserveEngineRun("error")
			return res, fmt.Errorf("write checkpoint: %w", err)
		}
		res.EndOffset = pos
		metrics.SetCheckpointOffset(pos)
	}

	if err := e.reporter.SaveSummary(ctx); err != nil {
		metrics.ObserveEngineRun("error")
		return res, fmt.Errorf("save summary: %w", err)
	}

	metrics.ObserveEngineRun("success")
	logger.Info("batch run complete",
		zap.Int64("offset", res.EndOffset),
		zap.Int("chunks", res.Chunks),
		zap.Int("valid", res.Valid),
		zap.Int("invalid", res.Invalid),
		zap.Bool("truncated", res.Truncated))

	if res.EndOffset > res.StartOffset {
		e.publish(ctx, res, logger)
	}
	return res, nil
}

func (e *Engine) publish(ctx context.Context, res Result, logger *zap.Logger) {
	if e.notifier == nil || e.cfg.Topic == "" {
		return
	}
	msg := ledger.RunCompleted{
		RunID:       res.RunID,
		StartOffset: res.StartOffset,
		EndOffset:   res.EndOffset,
		ValidRows:   res.Valid,
		InvalidRows: res.Invalid,
		FinishedAt:  e.clock.Now(),
	}
	id, err := e.notifier.Publish(ctx, e.cfg.Topic, msg)
	if err != nil {
		logger.Warn("run notification failed", zap.Error(err))
		return
	}
	logger.Debug("run notification published", zap.String("message_id", id))
}
