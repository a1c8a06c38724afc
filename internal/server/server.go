// Package server exposes the scheduler over HTTP so an external cron can
// drive polls, plus health and metrics endpoints.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/greg-py/Chapters-sub000/internal/scheduler"
)

const (
	DefaultTriggerHeader = "X-Trigger-Token"

	pingTimeout     = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Checker runs one poll.
type Checker interface {
	TriggerCheck(ctx context.Context) (scheduler.PollReport, error)
}

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	// TriggerToken must be sent in TriggerHeader to run a poll. When empty,
	// POST /check is always refused.
	TriggerToken  string
	TriggerHeader string
}

type Server struct {
	cfg      Config
	checker  Checker
	pinger   Pinger
	gatherer prometheus.Gatherer
	log      *zap.Logger
}

func New(cfg Config, checker Checker, pinger Pinger, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if cfg.TriggerHeader == "" {
		cfg.TriggerHeader = DefaultTriggerHeader
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, checker: checker, pinger: pinger, gatherer: gatherer, log: logger}
}

// Routes builds the router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/check", s.serveCheck)
	r.Get("/health", s.serveHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("http server stopped")
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

// serveCheck handles POST /check.
//
// Without a valid token: 401 and no poll. On success: 200 and the poll
// report. When active cycles cannot be listed: 500.
func (s *Server) serveCheck(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.log.Warn("unauthorized check request", zap.String("remote", r.RemoteAddr))
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	report, err := s.checker.TriggerCheck(r.Context())
	if err != nil {
		s.log.Error("triggered check failed", zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "check failed"})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.TriggerToken == "" {
		return false
	}
	got := r.Header.Get(s.cfg.TriggerHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.TriggerToken)) == 1
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Error    string `json:"error,omitempty"`
}

// serveHealth handles GET /health: 200 when the store answers, 503 otherwise.
func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Database: "connected"}
	if s.pinger == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()
	if err := s.pinger.Ping(ctx); err != nil {
		s.log.Error("health-check: ping failed", zap.Error(err))
		resp.Status = "error"
		resp.Database = "disconnected"
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
