package server

import (
	"github.com/go-chi/chi/v5"

	"github.com/dwsmith1983/stagehand/internal/server/handlers"
)

func (s *Server) registerRoutes(r chi.Router) {
	h := handlers.New(s.dispatcher, s.store)
	h.SetLogger(s.logger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/status", h.Status)

		r.Post("/runs", h.StartRun)
		r.Get("/runs", h.ListRuns)
		r.Get("/runs/{runID}", h.GetRun)
	})
}
