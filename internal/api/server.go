// Package api exposes the HTTP interface for the crawler service:
// liveness and readiness probes, the Prometheus endpoint, crawl
// submission, and read-only job inspection.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/crawlkit/catalog-crawler/internal/catalog"
	"github.com/crawlkit/catalog-crawler/internal/metrics"
)

const readinessTimeout = 3 * time.Second

// Pinger checks liveness of a downstream dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the store and the broker.
type Server struct {
	router   chi.Router
	store    catalog.Store
	broker   catalog.Broker
	pingers  map[string]Pinger
	startURL string
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The pingers
// map names each readiness dependency; nil values are skipped.
func NewServer(
	store catalog.Store,
	broker catalog.Broker,
	pingers map[string]Pinger,
	startURL string,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:    store,
		broker:   broker,
		pingers:  pingers,
		startURL: startURL,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/crawls", s.submitCrawl)
		r.Get("/jobs/{job_id}", s.getJob)
		r.Get("/jobs/{job_id}/metrics", s.getJobMetrics)
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

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	for name, p := range s.pingers {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":     "unavailable",
				"dependency": name,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlRequest struct {
	StartURL string `json:"start_url"`
}

// submitCrawl enqueues a crawl task. An empty body or start_url falls
// back to the configured catalog start URL.
func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	startURL := req.StartURL
	if startURL == "" {
		startURL = s.startURL
	}
	if startURL == "" {
		writeError(w, http.StatusBadRequest, "no start url configured")
		return
	}

	taskID, err := s.broker.Enqueue(r.Context(), catalog.Task{
		Queue: catalog.QueueCrawl,
		Name:  catalog.TaskCrawl,
		Args:  []string{startURL},
	})
	if err != nil {
		s.logger.Error("enqueue crawl failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue crawl")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"task_id":   taskID,
		"start_url": startURL,
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJobMetrics(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	m, err := s.store.GetMetrics(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "metrics not found")
			return
		}
		s.logger.Error("get metrics failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load metrics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": m})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
