// Package server implements the stagehand HTTP API server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dwsmith1983/stagehand/internal/store"
	"github.com/dwsmith1983/stagehand/pkg/types"
)

const defaultMaxBody = 1 << 20

// Server is the stagehand HTTP API server.
type Server struct {
	dispatcher *Dispatcher
	store      store.Store
	router     chi.Router
	addr       string
	srv        *http.Server
	logger     *slog.Logger
}

// New creates a new HTTP server that runs spec through exec.
func New(addr string, spec types.PipelineSpec, exec Executor, st store.Store, apiKey string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		dispatcher: NewDispatcher(exec, spec, logger),
		store:      st,
		addr:       addr,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(APIKeyMiddleware(apiKey))
	r.Use(MaxBodyMiddleware(defaultMaxBody))
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	s.router = r
	s.registerRoutes(r)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving HTTP requests. It returns nil after Stop.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.logger.Info("stagehand server listening", "addr", s.addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

// Stop stops accepting requests, then cancels and waits for any in-flight run.
func (s *Server) Stop(ctx context.Context) error {
	var errs []error
	if s.srv != nil {
		errs = append(errs, s.srv.Shutdown(ctx))
	}
	errs = append(errs, s.dispatcher.Shutdown(ctx))
	return errors.Join(errs...)
}
