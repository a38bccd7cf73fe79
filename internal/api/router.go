package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-relay/internal/bridge"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	// Gateway bridge endpoint. Gateways authenticate with their own
	// credentials, so it sits outside the JWT group and the body limit.
	r.Handle(s.bridgeCfg.Path, bridge.NewHandler(s.manager))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.corsMiddleware)
		r.Use(s.bodySizeLimitMiddleware)

		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Gateway-side pairing (the code is the credential)
		r.Get("/pairing/verify/{code}", s.handleVerifyCode)
		r.Post("/pairing/complete", s.handleCompletePairing)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/pairing/request", s.handleRequestCode)

			r.Route("/gateways/{id}", func(r chi.Router) {
				r.Post("/commands", s.handleSendCommand)
				r.Get("/commands/{request_id}", s.handleAwaitCommand)
				r.Get("/status", s.handleGatewayStatus)
				r.Get("/state", s.handleGatewayState)
				r.Post("/revoke", s.handleRevokeGateway)
				r.Get("/audit", s.handleGatewayAudit)
			})

			r.Route("/homes/{home_id}", func(r chi.Router) {
				r.Get("/status", s.handleHomeStatus)
				r.Get("/metadata", s.handleHomeMetadata)
				r.Get("/entities", s.handleHomeEntities)
				r.Post("/entities/{entity_id}/control", s.handleEntityControl)
				r.Post("/scenes/{scene_id}/run", s.handleRunScene)
				r.Post("/sync", s.handleHomeSync)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  s.version,
		"sessions": s.manager.Count(),
		"time":     s.now().UTC().Format(time.RFC3339),
	})
}
