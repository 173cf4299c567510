// Package server exposes the scheduled sync trigger and run history over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/insiderintel/holdings-sync/internal/config"
	"github.com/insiderintel/holdings-sync/internal/ingest"
	"github.com/insiderintel/holdings-sync/internal/institutional"
	"github.com/insiderintel/holdings-sync/internal/model"
	"github.com/insiderintel/holdings-sync/internal/monitoring"
	"github.com/insiderintel/holdings-sync/internal/runlog"
)

// Runner runs one ingestion for a quarter.
type Runner interface {
	Run(ctx context.Context, q model.Quarter) (*institutional.Summary, error)
}

// RunLister lists recent runs.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]runlog.Entry, error)
}

// Server routes HTTP requests.
type Server struct {
	cfg     config.ServerConfig
	runner  Runner
	runs    RunLister
	metrics *monitoring.Metrics
	now     func() time.Time
	router  chi.Router
}

// New builds a Server. runs and metrics may be nil, in which case their
// endpoints are not served.
func New(cfg config.ServerConfig, runner Runner, runs RunLister, metrics *monitoring.Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		runner:  runner,
		runs:    runs,
		metrics: metrics,
		now:     time.Now,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/cron/sync-13f", s.handleSync)
		r.Post("/cron/sync-13f", s.handleSync)

		if s.runs != nil {
			r.Group(func(r chi.Router) {
				r.Use(cors.Handler(cors.Options{
					AllowedOrigins: s.cfg.AllowedOrigins,
					AllowedMethods: []string{http.MethodGet, http.MethodOptions},
					AllowedHeaders: []string{"Accept", "Authorization"},
					MaxAge:         300,
				}))
				r.Get("/runs", s.handleRuns)
			})
		}
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// syncFailure is the body of a failed sync: the error plus whatever was
// counted before the failure.
type syncFailure struct {
	Error string `json:"error"`
	*institutional.Summary
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	q := model.PreviousQuarter(s.now())
	sum, err := s.runner.Run(r.Context(), q)
	switch {
	case errors.Is(err, ingest.ErrRunInProgress):
		writeError(w, http.StatusConflict, "a sync is already running")
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, syncFailure{Error: err.Error(), Summary: sum})
	default:
		writeJSON(w, http.StatusOK, sum)
	}
}

// authorized checks for "Authorization: Bearer <secret>". An empty secret
// rejects every request.
func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.CronSecret == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.CronSecret)) == 1
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := runlog.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.runs.Recent(r.Context(), limit)
	if err != nil {
		zap.L().Error("list runs failed", zap.String("component", "server"), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if entries == nil {
		entries = []runlog.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
