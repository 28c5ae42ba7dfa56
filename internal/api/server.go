package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/ledger-batch/internal/audit"
	"github.com/JakeFAU/ledger-batch/internal/ledger"
	"github.com/JakeFAU/ledger-batch/internal/metrics"
	"github.com/JakeFAU/ledger-batch/internal/report"
	"github.com/JakeFAU/ledger-batch/internal/state"
)

// recentAuditEntries bounds the audit tail returned by /v1/status.
const recentAuditEntries = 20

// Checkpoint reads the persisted processing offset.
type Checkpoint interface {
	Read(ctx context.Context) (int64, error)
}

// RowCounter reports how many rows the row store holds.
type RowCounter interface {
	Count(ctx context.Context) (int64, error)
}

// Server wires HTTP handlers to the pipeline's durable state.
type Server struct {
	router     chi.Router
	checkpoint Checkpoint
	rows       RowCounter
	summaries  state.Store
	auditPath  string
	logger     *zap.Logger
}

// Status is the /v1/status payload.
type Status struct {
	Offset  int64               `json:"offset"`
	Rows    int64               `json:"rows"`
	Backlog int64               `json:"backlog"`
	Summary ledger.Summary      `json:"summary"`
	Audit   []ledger.AuditEntry `json:"recent_audit"`
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cp Checkpoint, rows RowCounter, summaries state.Store, auditPath string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		checkpoint: cp,
		rows:       rows,
		summaries:  summaries,
		auditPath:  auditPath,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/v1/status", s.status)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.checkpoint.Read(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "checkpoint unavailable: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	offset, err := s.checkpoint.Read(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read checkpoint: "+err.Error())
		return
	}
	rows, err := s.rows.Count(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "count rows: "+err.Error())
		return
	}
	st := Status{Offset: offset, Rows: rows, Backlog: max(rows-offset, 0), Summary: ledger.Summary{ErrorsLog: []string{}}}
	if _, err := state.GetJSON(ctx, s.summaries, report.SummaryKey, &st.Summary); err != nil {
		s.logger.Warn("summary unreadable", zap.Error(err))
	}
	entries, err := audit.Read(s.auditPath)
	if err != nil {
		s.logger.Warn("audit trail unreadable", zap.Error(err))
	}
	if len(entries) > recentAuditEntries {
		entries = entries[len(entries)-recentAuditEntries:]
	}
	st.Audit = entries
	writeJSON(w, http.StatusOK, st)
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", reqID),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
