package httpapi

import "github.com/go-chi/chi/v5"

func registerRoutes(r chi.Router, s *Server) {
	r.Get("/healthz", s.Healthz)
	r.Get("/status", s.Status)
	r.Get("/stats", s.Stats)
	r.Get("/nodes/{id}/readings", s.NodeReadings)
	r.Post("/commands", s.SubmitCommand)
}
