// Package server implements the daemon's minimal operator-facing HTTP
// surface: liveness, a read-only report of accumulator and execution state,
// and the Prometheus metrics endpoint. There is no trading control surface —
// the engine's policy is fixed (spec §1 Non-goals).
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/onchainhedge/hedgebridge/internal/domain"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port int
}

// Reporters aggregates the narrow read slices the server exposes.
type Reporters struct {
	Accumulators domain.AccumulatorStore
	Executions   domain.ExecutionStore
	Metrics      http.Handler // telemetry.Handler output; nil disables /metrics
}

// Server is the headless operator HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server with health, reporting, and metrics routes
// registered on a fresh ServeMux.
func New(cfg Config, reporters Reporters, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/accumulators", handleAccumulators(reporters.Accumulators, logger))
	mux.HandleFunc("GET /api/executions/pending", handlePendingExecutions(reporters.Executions, logger))

	if reporters.Metrics != nil {
		mux.Handle("GET /metrics", reporters.Metrics)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, logger: logger}
}

// Run begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Run() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAccumulators reports the current per-symbol residue, for operators
// diagnosing a symbol that appears stuck.
func handleAccumulators(store domain.AccumulatorStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accs, err := store.List(r.Context())
		if err != nil {
			logger.ErrorContext(r.Context(), "server: list accumulators failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		writeJSON(w, http.StatusOK, accs)
	}
}

// handlePendingExecutions reports every non-terminal execution across all
// symbols, for operators checking whether the engine has a stuck order.
func handlePendingExecutions(store domain.ExecutionStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pending, err := store.FindBySymbolAndStatus(r.Context(), "", domain.ExecutionPending, domain.ExecutionSubmitted)
		if err != nil {
			logger.ErrorContext(r.Context(), "server: list pending executions failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		writeJSON(w, http.StatusOK, pending)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
