// Package api exposes the HTTP interface for the harvester service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lgeiger/newsharvest/internal/frontier"
	"github.com/lgeiger/newsharvest/internal/harvest"
)

const handlerTimeout = 10 * time.Second

// Server wires read-only status endpoints to the ledger and frontier.
type Server struct {
	router   chi.Router
	ledger   harvest.Ledger
	frontier *frontier.Controller
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(ledger harvest.Ledger, ctrl *frontier.Controller, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ledger:   ledger,
		frontier: ctrl,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.getStatus)
		r.Get("/sources", s.listSources)
		r.Get("/errors", s.listErrors)
		r.Post("/articles/{language}/{article_id}/retry", s.retryArticle)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()
	// The ledger is the only hard dependency; a failing count means the
	// store is not usable.
	if _, err := s.ledger.PendingCount(ctx); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()
	pending, err := s.ledger.PendingCount(ctx)
	if err != nil {
		s.logger.Error("pending count failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}
	quarantined, err := s.ledger.Quarantined(ctx)
	if err != nil {
		s.logger.Error("quarantine list failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"pending_articles":     pending,
		"quarantined_articles": len(quarantined),
	})
}

func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"sources": s.frontier.SourceStatuses(),
	})
}

func (s *Server) listErrors(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()
	quarantined, err := s.ledger.Quarantined(ctx)
	if err != nil {
		s.logger.Error("quarantine list failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list errors")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"errors": quarantined,
	})
}

func (s *Server) retryArticle(w http.ResponseWriter, r *http.Request) {
	key := harvest.ArticleKey{
		ID:       chi.URLParam(r, "article_id"),
		Language: chi.URLParam(r, "language"),
	}
	if key.ID == "" || key.Language == "" {
		s.writeError(w, http.StatusBadRequest, "language and article_id are required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
	defer cancel()
	if err := s.ledger.ResetOne(ctx, key); err != nil {
		if errors.Is(err, harvest.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "article not found")
			return
		}
		s.logger.Error("article reset failed", zap.String("article", key.String()), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to reset article")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"article": key.String(),
		"status":  "reset",
	})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
