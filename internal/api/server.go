package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-crawler/internal/metrics"
	workqueue "github.com/JakeFAU/storefront-crawler/internal/queue/memory"
)

const readinessTimeout = 2 * time.Second

// CountsSource reports live run counters.
type CountsSource interface {
	Snapshot() metrics.Counts
}

// QueueSource reports queue bookkeeping.
type QueueSource interface {
	Stats() workqueue.Stats
}

// Pinger is a downstream dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check names one readiness dependency.
type Check struct {
	Name   string
	Pinger Pinger
}

// Stats is the /v1/stats payload.
type Stats struct {
	RunID     string          `json:"runId"`
	StartedAt time.Time       `json:"startedAt"`
	Counts    metrics.Counts  `json:"counts"`
	Queue     workqueue.Stats `json:"queue"`
}

// Server wires HTTP handlers to the live run state.
type Server struct {
	router    chi.Router
	runID     string
	startedAt time.Time
	counts    CountsSource
	queue     QueueSource
	checks    []Check
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	runID string,
	startedAt time.Time,
	counts CountsSource,
	queue QueueSource,
	checks []Check,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runID:     runID,
		startedAt: startedAt,
		counts:    counts,
		queue:     queue,
		checks:    checks,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.stats)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()
	failures := map[string]string{}
	for _, check := range s.checks {
		if check.Pinger == nil {
			continue
		}
		if err := check.Pinger.Ping(ctx); err != nil {
			failures[check.Name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	payload := Stats{RunID: s.runID, StartedAt: s.startedAt}
	if s.counts != nil {
		payload.Counts = s.counts.Snapshot()
	}
	if s.queue != nil {
		payload.Queue = s.queue.Stats()
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", RequestID(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

// RequestID returns the request ID stored in ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}
