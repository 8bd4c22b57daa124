package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/adsamcik/riposte-index/internal/web/handlers"
)

func (s *Server) setupRoutes(deps Deps) {
	// Create handlers
	searchHandler := handlers.NewSearchHandler(
		deps.Searcher, deps.Similar, deps.Index, deps.Catalog,
		s.config.Tunables.Search, s.logger)
	duplicatesHandler := handlers.NewDuplicatesHandler(
		deps.Scanner, deps.Resolver, deps.Pairs, deps.Catalog,
		s.jobManager, s.config.Tunables.Dedupe, s.logger)

	// Health check
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		// Search & similarity
		r.Get("/search", searchHandler.Search)
		r.Get("/items/{id}/similar", searchHandler.Similar)
		r.Get("/stats", searchHandler.Stats)

		// Index control
		r.Post("/index/resume", searchHandler.ResumeIndex)

		// Duplicate scan (long-running operation)
		r.Post("/duplicates/scan", duplicatesHandler.StartScan)
		r.Get("/duplicates/scan/{jobID}/events", duplicatesHandler.Events)
		r.Delete("/duplicates/scan/{jobID}", duplicatesHandler.CancelScan)

		// Duplicate resolution
		r.Get("/duplicates", duplicatesHandler.List)
		r.Post("/duplicates/{id}/merge", duplicatesHandler.Merge)
		r.Post("/duplicates/{id}/dismiss", duplicatesHandler.Dismiss)
		r.Post("/duplicates/clear-pending", duplicatesHandler.ClearPending)
		r.Delete("/duplicates/history", duplicatesHandler.ForgetHistory)
	})
}
