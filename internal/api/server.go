// Package api exposes the HTTP interface for the orchestrator service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harvestd/orchestrator/internal/config"
	"github.com/harvestd/orchestrator/internal/metrics"
	"github.com/harvestd/orchestrator/internal/scrape"
)

// JobService is the orchestration surface the handlers call into.
type JobService interface {
	Trigger(ctx context.Context, sched scrape.SiteSchedule) (string, error)
	IngestWebhook(ctx context.Context, event scrape.WebhookEvent) error
	Cancel(ctx context.Context, jobID string) error
	Job(jobID string) (scrape.ScrapeJob, error)
}

// Server wires HTTP handlers to the orchestrator and schedule source.
type Server struct {
	router    chi.Router
	jobs      JobService
	schedules scrape.ScheduleSource
	env       scrape.Environment
	clock     scrape.Clock
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobs JobService,
	schedules scrape.ScheduleSource,
	clock scrape.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		jobs:      jobs,
		schedules: schedules,
		env:       scrape.Environment(cfg.Environment),
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(metricsMiddleware)
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/webhooks/scrape", s.ingestWebhook)
		r.Route("/jobs/{job_id}", func(r chi.Router) {
			r.Get("/", s.getJob)
			r.Post("/cancel", s.cancelJob)
		})
		r.Post("/schedules/{site_id}/trigger", s.triggerSchedule)
	})

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

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type webhookRequest struct {
	JobID   string          `json:"job_id"`
	Outcome string          `json:"outcome"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (s *Server) ingestWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.JobID == "" {
		writeError(w, http.StatusBadRequest, "job_id required")
		return
	}
	outcome := scrape.WebhookOutcome(req.Outcome)
	if outcome != scrape.OutcomeSuccess && outcome != scrape.OutcomeFailure {
		writeError(w, http.StatusBadRequest, "outcome must be success or failure")
		return
	}

	event := scrape.WebhookEvent{
		JobID:      req.JobID,
		Outcome:    outcome,
		Payload:    req.Payload,
		ReceivedAt: s.clock.Now(),
	}
	if err := s.jobs.IngestWebhook(r.Context(), event); err != nil {
		switch {
		case errors.Is(err, scrape.ErrJobTerminal):
			writeError(w, http.StatusConflict, "job already finalized")
		case errors.Is(err, scrape.ErrUnknownJob):
			writeError(w, http.StatusNotFound, "no job awaiting this webhook")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": req.JobID, "status": "accepted"})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.Job(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.jobs.Cancel(r.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, scrape.ErrJobTerminal):
			writeError(w, http.StatusConflict, "job already finalized")
		case errors.Is(err, scrape.ErrUnknownJob):
			writeError(w, http.StatusNotFound, "job not found")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(scrape.JobStatusFailed)})
}

func (s *Server) triggerSchedule(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "site_id")
	schedules, err := s.schedules.ListSchedules(r.Context(), s.env)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var sched *scrape.SiteSchedule
	for i := range schedules {
		if schedules[i].SiteID == siteID {
			sched = &schedules[i]
			break
		}
	}
	if sched == nil {
		writeError(w, http.StatusNotFound, "unknown site")
		return
	}
	if !sched.Enabled {
		writeError(w, http.StatusConflict, "schedule is disabled")
		return
	}

	jobID, err := s.jobs.Trigger(r.Context(), *sched)
	if err != nil {
		status := http.StatusInternalServerError
		var dispatchErr *scrape.DispatchError
		if errors.As(err, &dispatchErr) {
			status = http.StatusServiceUnavailable
		}
		body := map[string]string{"error": err.Error()}
		if jobID != "" {
			body["job_id"] = jobID
		}
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}
		metrics.ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
	})
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
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

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
