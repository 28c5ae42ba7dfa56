// Package metrics exposes Prometheus collectors for the batch pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	rowsProcessedTotal         *prometheus.CounterVec
	engineRunsTotal            *prometheus.CounterVec
	checkpointOffset           prometheus.Gauge
	archivesWrittenTotal       *prometheus.CounterVec
	jobAttemptsTotal           *prometheus.CounterVec
	jobDurationSeconds         *prometheus.HistogramVec
	filesIngestedTotal         *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		rowsProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_rows_processed_total",
				Help: "Total number of rows run through validation, labeled by result.",
			},
			[]string{"result"},
		)

		engineRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_engine_runs_total",
				Help: "Total number of batch engine runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		checkpointOffset = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ledger_checkpoint_offset",
				Help: "Last persisted processing offset.",
			},
		)

		archivesWrittenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_archives_written_total",
				Help: "Total number of archives written, labeled by level.",
			},
			[]string{"level"},
		)

		jobAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_job_attempts_total",
				Help: "Total number of supervised job attempts, labeled by job and outcome.",
			},
			[]string{"job", "outcome"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_job_duration_seconds",
				Help:    "Histogram of supervised job durations, labeled by job.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"job"},
		)

		filesIngestedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_files_ingested_total",
				Help: "Total number of incoming files handled, labeled by status.",
			},
			[]string{"status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRows records the outcome of validating a chunk.
func ObserveRows(valid, invalid int) {
	Init()
	if valid > 0 {
		rowsProcessedTotal.WithLabelValues("valid").Add(float64(valid))
	}
	if invalid > 0 {
		rowsProcessedTotal.WithLabelValues("invalid").Add(float64(invalid))
	}
}

// ObserveEngineRun counts a finished engine run.
func ObserveEngineRun(outcome string) {
	Init()
	engineRunsTotal.WithLabelValues(outcome).Inc()
}

// SetCheckpointOffset publishes the persisted offset.
func SetCheckpointOffset(offset int64) {
	Init()
	checkpointOffset.Set(float64(offset))
}

// ObserveArchives counts archives written at a level ("weekly" or "monthly").
func ObserveArchives(level string, n int) {
	Init()
	if n > 0 {
		archivesWrittenTotal.WithLabelValues(level).Add(float64(n))
	}
}

// ObserveJob records one supervised job attempt.
func ObserveJob(job, outcome string, duration time.Duration) {
	Init()
	jobAttemptsTotal.WithLabelValues(job, outcome).Inc()
	jobDurationSeconds.WithLabelValues(job).Observe(duration.Seconds())
}

// ObserveIngestedFile counts an incoming file by status ("ingested" or "failed").
func ObserveIngestedFile(status string) {
	Init()
	filesIngestedTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
