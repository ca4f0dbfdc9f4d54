// Package server exposes the local observation API: health and status
// endpoints, the analysis history, Prometheus metrics and a WebSocket feed of
// live events. The listener is meant to bind loopback only.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/EasonC13-shadow/LuLuAICompanion/internal/bus"
	"github.com/EasonC13-shadow/LuLuAICompanion/internal/domain"
	"github.com/EasonC13-shadow/LuLuAICompanion/internal/metrics"
)

const (
	defaultAddr         = "127.0.0.1:8780"
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	shutdownTimeout     = 5 * time.Second
)

// StatusSource reports the live state shown on /api/v1/status.
type StatusSource interface {
	Monitoring() bool
	AnalysisInProgress() bool
}

// HistorySource serves persisted analyses.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]domain.HistoryEntry, error)
	Count(ctx context.Context) (int, error)
}

// Server is the HTTP observation surface.
type Server struct {
	addr    string
	logger  *slog.Logger
	status  StatusSource
	history HistorySource
	hub     *Hub
	httpSrv *http.Server
	version string
}

// Config configures a Server.
type Config struct {
	Addr    string
	Status  StatusSource
	History HistorySource
	Events  *bus.EventBus
	Version string
	Logger  *slog.Logger
}

func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		addr:    cfg.Addr,
		logger:  cfg.Logger,
		status:  cfg.Status,
		history: cfg.History,
		hub:     NewHub(cfg.Logger),
		version: cfg.Version,
	}
	if cfg.Events != nil {
		s.hub.Attach(cfg.Events)
	}

	s.httpSrv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket connections stay open
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/v1/health", s.handleHealth)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/api/v1/history", s.handleHistory)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/ws", s.hub.handleWebSocket)

	return r
}

// Start runs the listener until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("observation server listening", "addr", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"wsClients": s.hub.ClientCount(),
	}
	if s.status != nil {
		payload["monitoring"] = s.status.Monitoring()
		payload["analysisInProgress"] = s.status.AnalysisInProgress()
	}
	if s.history != nil {
		if count, err := s.history.Count(r.Context()); err == nil {
			payload["historyCount"] = count
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "history store disabled"})
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "limit must be a positive integer"})
			return
		}
		if n > maxHistoryLimit {
			n = maxHistoryLimit
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "history query failed"})
		return
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
