package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/nsm-core/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{uuid}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)

				r.Group(func(r chi.Router) {
					r.Use(s.requirePermission(auth.PermDeviceConfigure))
					r.Post("/write-protect", s.handleWriteProtect)
					r.Post("/power-mode", s.handlePowerMode)
					r.Post("/mode", s.handleMode)
				})

				r.With(s.requirePermission(auth.PermPassthrough)).
					Post("/passthrough", s.handlePassthrough)
			})
		})

		r.Route("/operations/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetOperation)
			r.With(s.requirePermission(auth.PermOperationManage)).
				Delete("/", s.handleDiscardOperation)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}
