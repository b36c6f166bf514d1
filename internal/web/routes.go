package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/achmadarw/tia-security-mobile-sub000/internal/web/handlers"
	"github.com/achmadarw/tia-security-mobile-sub000/internal/web/middleware"
)

func (s *Server) setupRoutes(captures *handlers.CapturesHandler, attendance *handlers.AttendanceHandler) {
	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireToken(s.config.Server.Token))

		// Capture sessions
		r.Post("/captures", captures.Start)
		r.Get("/captures/{id}", captures.Get)
		r.Get("/captures/{id}/events", captures.Events)
		r.Delete("/captures/{id}", captures.Abort)

		// Attendance log
		r.Get("/attendance", attendance.List)
	})
}
